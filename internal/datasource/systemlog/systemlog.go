// Package systemlog is the base data source: it copies the system call log
// into the annotated call log.
package systemlog

import (
	"context"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/roaring64"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/annotated-calllog/internal/calllog"
	"github.com/sells-group/annotated-calllog/internal/device"
	"github.com/sells-group/annotated-calllog/internal/model"
	"github.com/sells-group/annotated-calllog/internal/phonenumber"
	"github.com/sells-group/annotated-calllog/internal/store"
)

// DefaultMaxCallsPerFill bounds how many changed calls one fill reads.
const DefaultMaxCallsPerFill = 1000

// Calls is the system call log provider.
type Calls interface {
	CallsModifiedSince(ctx context.Context, since time.Time, limit int) ([]model.SystemCall, error)
	CallIDs(ctx context.Context) ([]int64, error)
	Subscribe(topic device.Topic, fn func()) (unsubscribe func())
}

// Store is the part of the annotated call log store the source reads.
type Store interface {
	AnnotatedIDs(ctx context.Context) (*roaring64.Bitmap, error)
	GetInt64(ctx context.Context, key string, def int64) (int64, error)
	SetInt64(ctx context.Context, key string, v int64) error
	DeletePref(ctx context.Context, key string) error
}

// Source is the system call log data source.
type Source struct {
	calls    Calls
	store    Store
	maxCalls int

	mu sync.Mutex
	// lastSeen is the newest last-modified time read by the last fill, in
	// unix millis. Zero when the fill saw nothing new.
	lastSeen int64
	unsub    func()
}

var _ calllog.DataSource = (*Source)(nil)

// New creates the source. maxCalls <= 0 uses DefaultMaxCallsPerFill.
func New(calls Calls, s Store, maxCalls int) *Source {
	if maxCalls <= 0 {
		maxCalls = DefaultMaxCallsPerFill
	}
	return &Source{calls: calls, store: s, maxCalls: maxCalls}
}

func (s *Source) LoggingName() string { return "SystemCallLogDataSource" }

// IsDirty is always false. Deletions in the system call log are physical
// and only visible through content observers, which force a rebuild.
func (s *Source) IsDirty(context.Context) (bool, error) {
	return false, nil
}

// Fill inserts calls not yet annotated, updates annotated calls that changed,
// and deletes annotated rows whose call no longer exists. It must run first
// in a cycle, against an empty mutation set.
func (s *Source) Fill(ctx context.Context, m *calllog.Mutations) error {
	if !m.IsEmpty() {
		return eris.New("systemlog: fill requires an empty mutation set")
	}
	s.mu.Lock()
	s.lastSeen = 0
	s.mu.Unlock()

	since, err := s.store.GetInt64(ctx, store.PrefSystemCallLogLastSeen, 0)
	if err != nil {
		return err
	}
	annotated, err := s.store.AnnotatedIDs(ctx)
	if err != nil {
		return err
	}
	calls, err := s.calls.CallsModifiedSince(ctx, time.UnixMilli(since), s.maxCalls)
	if err != nil {
		return err
	}

	var newest int64
	for _, c := range calls {
		values := rowValues(c)
		if annotated.Contains(uint64(c.ID)) {
			err = m.Update(c.ID, values)
		} else {
			err = m.Insert(c.ID, values)
		}
		if err != nil {
			return err
		}
		newest = max(newest, c.LastModified.UnixMilli())
	}

	ids, err := s.calls.CallIDs(ctx)
	if err != nil {
		return err
	}
	present := roaring64.New()
	for _, id := range ids {
		present.Add(uint64(id))
	}
	gone := annotated.Clone()
	gone.AndNot(present)
	it := gone.Iterator()
	for it.HasNext() {
		if err := m.Delete(int64(it.Next())); err != nil {
			return err
		}
	}

	inserts, updates, deletes := m.Counts()
	zap.L().Debug("systemlog: fill",
		zap.Int("changed_calls", len(calls)),
		zap.Int("inserts", inserts),
		zap.Int("updates", updates),
		zap.Int("deletes", deletes),
	)

	s.mu.Lock()
	s.lastSeen = newest
	s.mu.Unlock()
	return nil
}

// OnSuccessfulFill advances the watermark to the newest call the last fill read.
func (s *Source) OnSuccessfulFill(ctx context.Context) error {
	s.mu.Lock()
	lastSeen := s.lastSeen
	s.lastSeen = 0
	s.mu.Unlock()
	if lastSeen == 0 {
		return nil
	}
	return s.store.SetInt64(ctx, store.PrefSystemCallLogLastSeen, lastSeen)
}

func (s *Source) ClearData(ctx context.Context) error {
	s.mu.Lock()
	s.lastSeen = 0
	s.mu.Unlock()
	return s.store.DeletePref(ctx, store.PrefSystemCallLogLastSeen)
}

func (s *Source) RegisterContentObservers(cb calllog.ContentObserverCallbacks) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unsub != nil {
		s.unsub()
	}
	s.unsub = s.calls.Subscribe(device.TopicCalls, cb.MarkDirtyAndNotify)
}

func (s *Source) UnregisterContentObservers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unsub != nil {
		s.unsub()
		s.unsub = nil
	}
}

func rowValues(c model.SystemCall) model.RowValues {
	number := phonenumber.Parse(c.Number, c.CountryISO)
	return model.RowValues{
		Timestamp:       model.Ptr(c.Date),
		Number:          &number,
		FormattedNumber: model.Ptr(phonenumber.FormatNational(c.Number, c.CountryISO)),
		Duration:        model.Ptr(c.Duration),
		CallType:        model.Ptr(c.Type),
		IsRead:          model.Ptr(c.IsRead),
		New:             model.Ptr(c.New),
		IsVoicemailCall: model.Ptr(c.Type == model.CallTypeVoicemail),
	}
}
