// Package cp2 looks phone numbers up in the device's default contacts
// directory.
package cp2

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/annotated-calllog/internal/device"
	"github.com/sells-group/annotated-calllog/internal/model"
	"github.com/sells-group/annotated-calllog/internal/phonelookup"
	"github.com/sells-group/annotated-calllog/internal/phonenumber"
)

// DefaultMaxInvalidNumbers caps how many non-E.164 numbers are queried one
// at a time during a bulk update.
const DefaultMaxInvalidNumbers = 5

// Contacts is the contacts provider the lookup reads.
type Contacts interface {
	ContactsByNumbers(ctx context.Context, normalized []string) (map[string][]model.Cp2ContactInfo, error)
	ContactIDsForNumbers(ctx context.Context, normalized []string) ([]int64, error)
	AnyContactModifiedSince(ctx context.Context, since time.Time) (bool, error)
	AnyContactDeletedSince(ctx context.Context, since time.Time) (bool, error)
	ContactsUpdatedSince(ctx context.Context, ids []int64, since time.Time) (bool, error)
	Subscribe(topic device.Topic, fn func()) (unsubscribe func())
}

// Option configures a Lookup.
type Option func(*Lookup)

// WithMaxInvalidNumbers sets how many invalid numbers a bulk update queries
// before marking the rest incomplete.
func WithMaxInvalidNumbers(n int) Option {
	return func(l *Lookup) {
		if n >= 0 {
			l.maxInvalid = n
		}
	}
}

// Lookup is the default-directory contacts lookup.
type Lookup struct {
	contacts   Contacts
	maxInvalid int

	mu sync.Mutex
	// knownIDs holds the contact IDs seen by the last persisted bulk update.
	// Nil until the first one.
	knownIDs map[int64]struct{}
	pending  map[int64]struct{}
	unsub    func()
}

var _ phonelookup.PhoneLookup = (*Lookup)(nil)

// New creates a contacts lookup backed by contacts.
func New(contacts Contacts, opts ...Option) *Lookup {
	l := &Lookup{contacts: contacts, maxInvalid: DefaultMaxInvalidNumbers}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Lookup) LoggingName() string        { return "Cp2DefaultDirectoryPhoneLookup" }
func (l *Lookup) Source() model.LookupSource { return model.SourceDefaultCp2 }

// Lookup returns every contact attached to number.
func (l *Lookup) Lookup(ctx context.Context, number model.DialerPhoneNumber) (model.PhoneLookupInfo, error) {
	if number.IsEmpty() {
		return model.PhoneLookupInfo{DefaultCp2: &model.Cp2Info{}}, nil
	}
	byNumber, err := l.contacts.ContactsByNumbers(ctx, []string{number.NormalizedNumber})
	if err != nil {
		return model.PhoneLookupInfo{}, err
	}
	return model.PhoneLookupInfo{DefaultCp2: &model.Cp2Info{Contacts: byNumber[number.NormalizedNumber]}}, nil
}

// IsDirty reports whether any contact attached to numbers, or any contact
// seen by the last bulk update, changed after since. Any deletion is dirty.
func (l *Lookup) IsDirty(ctx context.Context, numbers []model.DialerPhoneNumber, since time.Time) (bool, error) {
	modified, err := l.contacts.AnyContactModifiedSince(ctx, since)
	if err != nil {
		return false, err
	}
	deleted, err := l.contacts.AnyContactDeletedSince(ctx, since)
	if err != nil {
		return false, err
	}
	if deleted {
		return true, nil
	}
	if !modified {
		return false, nil
	}

	l.mu.Lock()
	known := l.knownIDs
	ids := make([]int64, 0, len(known))
	for id := range known {
		ids = append(ids, id)
	}
	l.mu.Unlock()
	if known == nil {
		return true, nil
	}

	keys := make([]string, 0, len(numbers))
	for _, n := range model.NumberSet(numbers...) {
		if !n.IsEmpty() {
			keys = append(keys, n.NormalizedNumber)
		}
	}
	attached, err := l.contacts.ContactIDsForNumbers(ctx, keys)
	if err != nil {
		return false, err
	}
	ids = append(ids, attached...)
	if len(ids) == 0 {
		return false, nil
	}
	return l.contacts.ContactsUpdatedSince(ctx, ids, since)
}

// BulkUpdate re-queries the numbers never looked up before or left
// incomplete and, when any contact changed after since, every other number
// too. Only changed entries
// are returned.
func (l *Lookup) BulkUpdate(ctx context.Context, existing map[model.DialerPhoneNumber]model.PhoneLookupInfo, since time.Time) (map[model.DialerPhoneNumber]model.PhoneLookupInfo, error) {
	l.mu.Lock()
	l.pending = nil
	l.mu.Unlock()

	modified, err := l.contacts.AnyContactModifiedSince(ctx, since)
	if err != nil {
		return nil, err
	}
	deleted, err := l.contacts.AnyContactDeletedSince(ctx, since)
	if err != nil {
		return nil, err
	}
	changed := modified || deleted

	var toQuery []model.DialerPhoneNumber
	for n, info := range existing {
		if needsQuery(info, changed) {
			toQuery = append(toQuery, n)
		}
	}

	parts := phonenumber.Partition(toQuery)
	found, err := l.contacts.ContactsByNumbers(ctx, parts.ValidKeys())
	if err != nil {
		return nil, err
	}

	incomplete := make(map[string]bool)
	for i, key := range parts.InvalidKeys() {
		if i >= l.maxInvalid {
			incomplete[key] = true
			continue
		}
		one, err := l.contacts.ContactsByNumbers(ctx, []string{key})
		if err != nil {
			return nil, err
		}
		found[key] = one[key]
	}
	if len(incomplete) > 0 {
		zap.L().Info("cp2: too many invalid numbers, marking incomplete",
			zap.Int("queried", l.maxInvalid),
			zap.Int("skipped", len(incomplete)),
		)
	}

	ids := make(map[int64]struct{})
	out := make(map[model.DialerPhoneNumber]model.PhoneLookupInfo)
	for n, info := range existing {
		var next *model.Cp2Info
		switch {
		case n.IsEmpty():
			next = &model.Cp2Info{}
		case incomplete[n.NormalizedNumber]:
			next = &model.Cp2Info{IsIncomplete: true}
			if info.DefaultCp2 != nil {
				next.Contacts = info.DefaultCp2.Contacts
			}
		case needsQuery(info, changed):
			next = &model.Cp2Info{Contacts: found[n.NormalizedNumber]}
		default:
			next = info.DefaultCp2
		}
		for _, c := range next.Contacts {
			ids[c.ContactID] = struct{}{}
		}
		if info.DefaultCp2 == nil || !info.DefaultCp2.Equal(next) {
			out[n] = model.PhoneLookupInfo{DefaultCp2: next}
		}
	}

	l.mu.Lock()
	l.pending = ids
	l.mu.Unlock()
	return out, nil
}

func needsQuery(info model.PhoneLookupInfo, changed bool) bool {
	return changed || info.DefaultCp2 == nil || info.DefaultCp2.IsIncomplete
}

// OnSuccessfulBulkUpdate records the contacts seen by the last bulk update so
// later dirty checks cover numbers whose contact was removed.
func (l *Lookup) OnSuccessfulBulkUpdate(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pending != nil {
		l.knownIDs = l.pending
		l.pending = nil
	}
	return nil
}

func (l *Lookup) ClearData(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.knownIDs = nil
	l.pending = nil
	return nil
}

func (l *Lookup) RegisterContentObservers(cb phonelookup.ContentObserverCallbacks) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.unsub != nil {
		l.unsub()
	}
	l.unsub = l.contacts.Subscribe(device.TopicContacts, cb.MarkDirtyAndNotify)
}

func (l *Lookup) UnregisterContentObservers() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.unsub != nil {
		l.unsub()
		l.unsub = nil
	}
}
