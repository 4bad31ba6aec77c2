// Package lookupattrs is the data source that fills the annotated call log
// columns derived from phone lookups, backed by the phone lookup history.
package lookupattrs

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/annotated-calllog/internal/calllog"
	"github.com/sells-group/annotated-calllog/internal/model"
	"github.com/sells-group/annotated-calllog/internal/phonelookup"
	"github.com/sells-group/annotated-calllog/internal/store"
)

// Lookups is the composite phone lookup the source drives.
type Lookups interface {
	IsDirty(ctx context.Context, numbers []model.DialerPhoneNumber, since time.Time) (bool, error)
	BulkUpdate(ctx context.Context, existing map[model.DialerPhoneNumber]model.PhoneLookupInfo, since time.Time) (map[model.DialerPhoneNumber]model.PhoneLookupInfo, error)
	OnSuccessfulBulkUpdate(ctx context.Context) error
	ClearData(ctx context.Context) error
	RegisterContentObservers(cb phonelookup.ContentObserverCallbacks)
	UnregisterContentObservers()
}

// Store is the part of the annotated call log store the source uses.
type Store interface {
	NumbersByID(ctx context.Context) (map[int64]model.DialerPhoneNumber, error)
	DistinctNumbers(ctx context.Context) ([]model.DialerPhoneNumber, error)
	GetLookupHistory(ctx context.Context, numbers []model.DialerPhoneNumber) (map[model.DialerPhoneNumber]model.PhoneLookupInfo, error)
	ApplyLookupHistory(ctx context.Context, updates map[model.DialerPhoneNumber]model.PhoneLookupInfo, deletes []model.DialerPhoneNumber) error
	ClearLookupHistory(ctx context.Context) error
	GetInt64(ctx context.Context, key string, def int64) (int64, error)
	SetInt64(ctx context.Context, key string, v int64) error
	DeletePref(ctx context.Context, key string) error
}

// Source is the phone lookup attributes data source.
type Source struct {
	lookups Lookups
	store   Store
	now     func() time.Time

	mu      sync.Mutex
	pending *pendingHistory
}

type pendingHistory struct {
	updates   map[model.DialerPhoneNumber]model.PhoneLookupInfo
	deletes   []model.DialerPhoneNumber
	startedAt time.Time
}

var _ calllog.DataSource = (*Source)(nil)

// New creates the source.
func New(lookups Lookups, s Store) *Source {
	return &Source{lookups: lookups, store: s, now: time.Now}
}

func (s *Source) LoggingName() string { return "PhoneLookupDataSource" }

func (s *Source) watermark(ctx context.Context) (time.Time, error) {
	ms, err := s.store.GetInt64(ctx, store.PrefLookupHistoryWatermark, 0)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}

// IsDirty asks the lookups whether any number in the annotated call log
// changed since the last successful fill.
func (s *Source) IsDirty(ctx context.Context) (bool, error) {
	numbers, err := s.store.DistinctNumbers(ctx)
	if err != nil {
		return false, err
	}
	if len(numbers) == 0 {
		return false, nil
	}
	since, err := s.watermark(ctx)
	if err != nil {
		return false, err
	}
	return s.lookups.IsDirty(ctx, numbers, since)
}

// Fill annotates pending inserts from the lookup history, bulk updates every
// number in the log and schedules updates for rows whose info changed. The
// history changes are held until OnSuccessfulFill.
func (s *Source) Fill(ctx context.Context, m *calllog.Mutations) error {
	s.mu.Lock()
	s.pending = nil
	s.mu.Unlock()

	startedAt := s.now()
	since, err := s.watermark(ctx)
	if err != nil {
		return err
	}

	stored, err := s.store.NumbersByID(ctx)
	if err != nil {
		return err
	}
	byID := make(map[int64]model.DialerPhoneNumber, len(stored))
	for id, n := range stored {
		byID[id] = n
	}
	deleted := make(map[model.DialerPhoneNumber]bool)
	renumbered := make(map[int64]bool)
	for id, v := range m.Updates() {
		if v.Number == nil {
			continue
		}
		if prev, ok := byID[id]; ok && prev != *v.Number {
			renumbered[id] = true
			deleted[prev] = true
		}
		byID[id] = *v.Number
	}
	for id, v := range m.Inserts() {
		if v.Number != nil {
			byID[id] = *v.Number
		}
	}
	for _, id := range m.Deletes() {
		if n, ok := byID[id]; ok {
			deleted[n] = true
			delete(byID, id)
		}
	}

	idsByNumber := make(map[model.DialerPhoneNumber][]int64)
	for id, n := range byID {
		if n.IsEmpty() {
			continue
		}
		idsByNumber[n] = append(idsByNumber[n], id)
	}
	var historyDeletes []model.DialerPhoneNumber
	for n := range deleted {
		if _, ok := idsByNumber[n]; !ok && !n.IsEmpty() {
			historyDeletes = append(historyDeletes, n)
		}
	}

	numbers := make([]model.DialerPhoneNumber, 0, len(idsByNumber))
	for n := range idsByNumber {
		numbers = append(numbers, n)
	}
	history, err := s.store.GetLookupHistory(ctx, numbers)
	if err != nil {
		return err
	}
	existing := make(map[model.DialerPhoneNumber]model.PhoneLookupInfo, len(numbers))
	for _, n := range numbers {
		existing[n] = history[n]
	}

	// New rows start from what the history already knows about their number.
	for n, ids := range idsByNumber {
		info, ok := history[n]
		if !ok {
			continue
		}
		for _, id := range ids {
			if m.IsPendingInsert(id) {
				if err := m.AmendInsert(id, phonelookup.RowValues(info)); err != nil {
					return err
				}
			}
		}
	}

	updated, err := s.lookups.BulkUpdate(ctx, existing, since)
	if err != nil {
		return err
	}

	changed := make(map[model.DialerPhoneNumber]model.PhoneLookupInfo)
	for n, info := range updated {
		ids, ok := idsByNumber[n]
		if !ok {
			continue
		}
		if prior, seen := history[n]; seen && prior.Equal(info) {
			continue
		}
		changed[n] = info
		values := phonelookup.RowValues(info)
		for _, id := range ids {
			if m.IsPendingInsert(id) {
				err = m.AmendInsert(id, values)
			} else {
				err = m.Update(id, values)
			}
			if err != nil {
				return eris.Wrapf(err, "lookupattrs: annotate %s", n.Redacted())
			}
		}
	}

	// Rows whose number changed take the attributes of their new number even
	// when that number's info did not change.
	for id := range renumbered {
		n, ok := byID[id]
		if !ok {
			continue
		}
		if _, ok := changed[n]; ok {
			continue
		}
		if err := m.Update(id, phonelookup.RowValues(existing[n])); err != nil {
			return eris.Wrapf(err, "lookupattrs: annotate renumbered row %d", id)
		}
	}

	zap.L().Debug("lookupattrs: fill",
		zap.Int("numbers", len(numbers)),
		zap.Int("changed", len(changed)),
		zap.Int("history_deletes", len(historyDeletes)),
	)

	s.mu.Lock()
	s.pending = &pendingHistory{updates: changed, deletes: historyDeletes, startedAt: startedAt}
	s.mu.Unlock()
	return nil
}

// OnSuccessfulFill writes the history changes, advances the watermark to the
// start of the last fill and tells the lookups their results were persisted.
func (s *Source) OnSuccessfulFill(ctx context.Context) error {
	s.mu.Lock()
	p := s.pending
	s.pending = nil
	s.mu.Unlock()
	if p == nil {
		return nil
	}

	if err := s.store.ApplyLookupHistory(ctx, p.updates, p.deletes); err != nil {
		return err
	}
	if err := s.store.SetInt64(ctx, store.PrefLookupHistoryWatermark, p.startedAt.UnixMilli()); err != nil {
		return err
	}
	return s.lookups.OnSuccessfulBulkUpdate(ctx)
}

func (s *Source) ClearData(ctx context.Context) error {
	s.mu.Lock()
	s.pending = nil
	s.mu.Unlock()

	if err := s.store.ClearLookupHistory(ctx); err != nil {
		return err
	}
	if err := s.store.DeletePref(ctx, store.PrefLookupHistoryWatermark); err != nil {
		return err
	}
	return s.lookups.ClearData(ctx)
}

func (s *Source) RegisterContentObservers(cb calllog.ContentObserverCallbacks) {
	s.lookups.RegisterContentObservers(cb)
}

func (s *Source) UnregisterContentObservers() {
	s.lookups.UnregisterContentObservers()
}
