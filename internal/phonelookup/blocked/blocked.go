// Package blocked reports whether phone numbers are on the device's blocked
// number list.
package blocked

import (
	"context"
	"sync"
	"time"

	"github.com/sells-group/annotated-calllog/internal/device"
	"github.com/sells-group/annotated-calllog/internal/model"
	"github.com/sells-group/annotated-calllog/internal/phonelookup"
)

// Provider is the blocked number list the lookup reads.
type Provider interface {
	BlockedAmong(ctx context.Context, normalized []string) (map[string]bool, error)
	Subscribe(topic device.Topic, fn func()) (unsubscribe func())
}

// Lookup is the blocked number lookup. The provider fires content observers
// on every change, so IsDirty is always false.
type Lookup struct {
	provider Provider

	mu    sync.Mutex
	unsub func()
}

var _ phonelookup.PhoneLookup = (*Lookup)(nil)

// New creates a blocked number lookup.
func New(p Provider) *Lookup {
	return &Lookup{provider: p}
}

func (l *Lookup) LoggingName() string        { return "SystemBlockedNumberPhoneLookup" }
func (l *Lookup) Source() model.LookupSource { return model.SourceBlockedNumber }

func (l *Lookup) Lookup(ctx context.Context, number model.DialerPhoneNumber) (model.PhoneLookupInfo, error) {
	if number.IsEmpty() {
		return model.PhoneLookupInfo{BlockedNumber: &model.BlockedNumberInfo{State: model.BlockedNotBlocked}}, nil
	}
	blocked, err := l.provider.BlockedAmong(ctx, []string{number.NormalizedNumber})
	if err != nil {
		return model.PhoneLookupInfo{}, err
	}
	return model.PhoneLookupInfo{BlockedNumber: stateOf(blocked[number.NormalizedNumber])}, nil
}

func (l *Lookup) IsDirty(context.Context, []model.DialerPhoneNumber, time.Time) (bool, error) {
	return false, nil
}

// BulkUpdate recomputes the blocked state of every number and returns the
// entries whose state changed.
func (l *Lookup) BulkUpdate(ctx context.Context, existing map[model.DialerPhoneNumber]model.PhoneLookupInfo, _ time.Time) (map[model.DialerPhoneNumber]model.PhoneLookupInfo, error) {
	keys := make([]string, 0, len(existing))
	seen := make(map[string]struct{}, len(existing))
	for n := range existing {
		if n.IsEmpty() {
			continue
		}
		if _, ok := seen[n.NormalizedNumber]; !ok {
			seen[n.NormalizedNumber] = struct{}{}
			keys = append(keys, n.NormalizedNumber)
		}
	}
	blocked, err := l.provider.BlockedAmong(ctx, keys)
	if err != nil {
		return nil, err
	}

	out := make(map[model.DialerPhoneNumber]model.PhoneLookupInfo)
	for n, info := range existing {
		next := stateOf(!n.IsEmpty() && blocked[n.NormalizedNumber])
		if info.BlockedNumber == nil || *info.BlockedNumber != *next {
			out[n] = model.PhoneLookupInfo{BlockedNumber: next}
		}
	}
	return out, nil
}

func stateOf(blocked bool) *model.BlockedNumberInfo {
	if blocked {
		return &model.BlockedNumberInfo{State: model.BlockedBlocked}
	}
	return &model.BlockedNumberInfo{State: model.BlockedNotBlocked}
}

func (l *Lookup) OnSuccessfulBulkUpdate(context.Context) error { return nil }
func (l *Lookup) ClearData(context.Context) error              { return nil }

func (l *Lookup) RegisterContentObservers(cb phonelookup.ContentObserverCallbacks) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.unsub != nil {
		l.unsub()
	}
	l.unsub = l.provider.Subscribe(device.TopicBlocked, cb.MarkDirtyAndNotify)
}

func (l *Lookup) UnregisterContentObservers() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.unsub != nil {
		l.unsub()
		l.unsub = nil
	}
}
