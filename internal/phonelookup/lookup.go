// Package phonelookup defines the phone lookup providers, the Composite that
// fans operations out to them, and the selector that picks display values
// from their merged results.
package phonelookup

import (
	"context"
	"time"

	"github.com/sells-group/annotated-calllog/internal/model"
)

// ContentObserverCallbacks receives change notifications from a lookup's
// backing provider.
type ContentObserverCallbacks interface {
	MarkDirtyAndNotify()
}

// PhoneLookup is one source of facts about phone numbers. Each lookup owns
// exactly one slot of model.PhoneLookupInfo and never writes another.
type PhoneLookup interface {
	// LoggingName identifies the lookup in logs.
	LoggingName() string
	// Source is the PhoneLookupInfo slot this lookup owns.
	Source() model.LookupSource
	// Lookup returns an info with only this lookup's slot populated.
	Lookup(ctx context.Context, number model.DialerPhoneNumber) (model.PhoneLookupInfo, error)
	// IsDirty reports whether any of numbers has source data newer than
	// since. Lookups whose provider fires content observers may always
	// return false.
	IsDirty(ctx context.Context, numbers []model.DialerPhoneNumber, since time.Time) (bool, error)
	// BulkUpdate returns refreshed infos for the entries of existing that
	// changed. Unchanged entries may be omitted or echoed.
	BulkUpdate(ctx context.Context, existing map[model.DialerPhoneNumber]model.PhoneLookupInfo, since time.Time) (map[model.DialerPhoneNumber]model.PhoneLookupInfo, error)
	// OnSuccessfulBulkUpdate runs after the results of BulkUpdate have been
	// persisted.
	OnSuccessfulBulkUpdate(ctx context.Context) error
	// ClearData removes any state the lookup has stored.
	ClearData(ctx context.Context) error
	RegisterContentObservers(cb ContentObserverCallbacks)
	UnregisterContentObservers()
}
