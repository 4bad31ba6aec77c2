package calllog

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/annotated-calllog/internal/model"
	"github.com/sells-group/annotated-calllog/internal/resilience"
	"github.com/sells-group/annotated-calllog/internal/store"
)

type fakeSource struct {
	name    string
	dirty   bool
	fill    func(ctx context.Context, m *Mutations) error
	fillErr error

	dirtyCalls, fillCalls, successCalls, clearCalls atomic.Int32
	observer                                        ContentObserverCallbacks
}

func (f *fakeSource) LoggingName() string { return f.name }

func (f *fakeSource) IsDirty(context.Context) (bool, error) {
	f.dirtyCalls.Add(1)
	return f.dirty, nil
}

func (f *fakeSource) Fill(ctx context.Context, m *Mutations) error {
	f.fillCalls.Add(1)
	if f.fillErr != nil {
		return f.fillErr
	}
	if f.fill != nil {
		return f.fill(ctx, m)
	}
	return nil
}

func (f *fakeSource) OnSuccessfulFill(context.Context) error {
	f.successCalls.Add(1)
	return nil
}

func (f *fakeSource) ClearData(context.Context) error {
	f.clearCalls.Add(1)
	return nil
}

func (f *fakeSource) RegisterContentObservers(cb ContentObserverCallbacks) { f.observer = cb }
func (f *fakeSource) UnregisterContentObservers()                          { f.observer = nil }

type memStore struct {
	mu       sync.Mutex
	prefs    map[string]int64
	rows     map[int64]model.RowValues
	applies  int
	applyErr []error
	cleared  bool
}

func newMemStore() *memStore {
	return &memStore{prefs: make(map[string]int64), rows: make(map[int64]model.RowValues)}
}

func (s *memStore) GetBool(_ context.Context, key string, def bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.prefs[key]
	if !ok {
		return def, nil
	}
	return v != 0, nil
}

func (s *memStore) SetBool(_ context.Context, key string, v bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs[key] = 0
	if v {
		s.prefs[key] = 1
	}
	return nil
}

func (s *memStore) DeletePref(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.prefs, key)
	return nil
}

func (s *memStore) ApplyMutations(_ context.Context, inserts, updates map[int64]model.RowValues, deletes []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applies++
	if len(s.applyErr) > 0 {
		err := s.applyErr[0]
		s.applyErr = s.applyErr[1:]
		return err
	}
	for id, v := range inserts {
		s.rows[id] = v
	}
	for id, v := range updates {
		s.rows[id] = s.rows[id].Merge(v)
	}
	for _, id := range deletes {
		delete(s.rows, id)
	}
	return nil
}

func (s *memStore) ClearAnnotatedCallLog(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = make(map[int64]model.RowValues)
	s.cleared = true
	return nil
}

func (s *memStore) forceRebuild(t *testing.T, v bool) {
	t.Helper()
	require.NoError(t, s.SetBool(context.Background(), store.PrefForceRebuild, v))
}

func noRetry() WorkerOption {
	return WithApplyRetry(resilience.RetryConfig{MaxAttempts: 1})
}

func insertRow(id int64, name string) func(context.Context, *Mutations) error {
	return func(_ context.Context, m *Mutations) error {
		return m.Insert(id, model.RowValues{Name: model.Ptr(name)})
	}
}

func TestRefresh_NotDirtyDoesNothing(t *testing.T) {
	s := newMemStore()
	s.forceRebuild(t, false)
	base := &fakeSource{name: "base"}
	other := &fakeSource{name: "other"}
	w := NewRefreshWorker(s, []DataSource{base, other}, noRetry())

	result, err := w.RefreshWithDirtyCheck(context.Background())
	require.NoError(t, err)
	assert.Equal(t, NotDirty, result)
	assert.Equal(t, int32(1), base.dirtyCalls.Load())
	assert.Equal(t, int32(1), other.dirtyCalls.Load())
	assert.Zero(t, base.fillCalls.Load())
	assert.Zero(t, other.fillCalls.Load())
	assert.Zero(t, s.applies)
	assert.Zero(t, base.successCalls.Load())
}

func TestRefresh_ForceRebuildSkipsDirtyCheck(t *testing.T) {
	s := newMemStore()
	base := &fakeSource{name: "base", fill: insertRow(1, "Ada")}
	w := NewRefreshWorker(s, []DataSource{base}, noRetry())

	result, err := w.RefreshWithDirtyCheck(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RebuiltAndChangesNeeded, result)
	assert.Zero(t, base.dirtyCalls.Load(), "a fresh install is forced")
	assert.Equal(t, int32(1), base.successCalls.Load())
	assert.Equal(t, "Ada", model.Value(s.rows[1].Name))

	force, err := w.State().ForceRebuild(context.Background())
	require.NoError(t, err)
	assert.False(t, force)
	built, err := w.State().IsBuilt(context.Background())
	require.NoError(t, err)
	assert.True(t, built)
}

func TestRefresh_DirtySourceRebuildsAll(t *testing.T) {
	s := newMemStore()
	s.forceRebuild(t, false)
	base := &fakeSource{name: "base"}
	other := &fakeSource{name: "other", dirty: true}
	w := NewRefreshWorker(s, []DataSource{base, other}, noRetry())

	result, err := w.RefreshWithDirtyCheck(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RebuiltButNoChangesNeeded, result)
	assert.Equal(t, int32(1), base.fillCalls.Load())
	assert.Equal(t, int32(1), other.fillCalls.Load())
	assert.Zero(t, s.applies, "an empty mutation set is not written")
	assert.Equal(t, int32(1), base.successCalls.Load())
	assert.Equal(t, int32(1), other.successCalls.Load())
}

func TestRefresh_ApplyFailureSkipsOnSuccessfulFill(t *testing.T) {
	s := newMemStore()
	s.applyErr = []error{errors.New("disk full")}
	base := &fakeSource{name: "base", fill: insertRow(1, "Ada")}
	other := &fakeSource{name: "other"}
	w := NewRefreshWorker(s, []DataSource{base, other}, noRetry())

	_, err := w.RefreshWithoutDirtyCheck(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Zero(t, base.successCalls.Load())
	assert.Zero(t, other.successCalls.Load())
	assert.Empty(t, s.rows)

	force, err := w.State().ForceRebuild(context.Background())
	require.NoError(t, err)
	assert.True(t, force, "a failed cycle forces the next one")
}

func TestRefresh_TransientApplyFailureRetried(t *testing.T) {
	s := newMemStore()
	s.applyErr = []error{errors.New("database is locked")}
	base := &fakeSource{name: "base", fill: insertRow(1, "Ada")}
	w := NewRefreshWorker(s, []DataSource{base}, WithApplyRetry(resilience.RetryConfig{
		MaxAttempts:    2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
	}))

	result, err := w.RefreshWithoutDirtyCheck(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RebuiltAndChangesNeeded, result)
	assert.Equal(t, 2, s.applies)
	assert.Equal(t, int32(1), base.successCalls.Load())
}

func TestRefresh_FillFailureSkipsApply(t *testing.T) {
	s := newMemStore()
	base := &fakeSource{name: "base", fill: insertRow(1, "Ada")}
	broken := &fakeSource{name: "broken", fillErr: errors.New("provider unavailable")}
	w := NewRefreshWorker(s, []DataSource{base, broken}, noRetry())

	_, err := w.RefreshWithoutDirtyCheck(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fill broken")
	assert.Zero(t, s.applies)
	assert.Zero(t, base.successCalls.Load())
}

func TestRefresh_PreconditionAbortsCycle(t *testing.T) {
	s := newMemStore()
	base := &fakeSource{name: "base", fill: insertRow(1, "Ada")}
	rogue := &fakeSource{name: "rogue", fill: func(_ context.Context, m *Mutations) error {
		return m.Delete(1)
	}}
	w := NewRefreshWorker(s, []DataSource{base, rogue}, noRetry())

	_, err := w.RefreshWithoutDirtyCheck(context.Background())
	require.Error(t, err)
	assert.True(t, IsPrecondition(err))
	assert.Zero(t, s.applies)
}

func TestRefresh_DisjointUpdatesMerge(t *testing.T) {
	s := newMemStore()
	base := &fakeSource{name: "base"}
	names := &fakeSource{name: "names", fill: func(_ context.Context, m *Mutations) error {
		return m.Update(7, model.RowValues{Name: model.Ptr("Ada")})
	}}
	flags := &fakeSource{name: "flags", fill: func(_ context.Context, m *Mutations) error {
		return m.Update(7, model.RowValues{IsBlocked: model.Ptr(true)})
	}}
	w := NewRefreshWorker(s, []DataSource{base, names, flags}, noRetry())

	result, err := w.RefreshWithoutDirtyCheck(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RebuiltAndChangesNeeded, result)
	assert.Equal(t, "Ada", model.Value(s.rows[7].Name))
	assert.True(t, model.Value(s.rows[7].IsBlocked))
}

func TestRefresh_CancelledBeforeApply(t *testing.T) {
	s := newMemStore()
	ctx, cancel := context.WithCancel(context.Background())
	base := &fakeSource{name: "base", fill: func(_ context.Context, m *Mutations) error {
		cancel()
		return m.Insert(1, model.RowValues{})
	}}
	w := NewRefreshWorker(s, []DataSource{base}, noRetry())

	_, err := w.RefreshWithoutDirtyCheck(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, s.applies)
	assert.Zero(t, base.successCalls.Load())

	force, err := w.State().ForceRebuild(context.Background())
	require.NoError(t, err)
	assert.True(t, force)
}

func TestRefresh_BaseFillsFirst(t *testing.T) {
	s := newMemStore()
	base := &fakeSource{name: "base", fill: insertRow(1, "")}
	annotator := &fakeSource{name: "annotator", fill: func(_ context.Context, m *Mutations) error {
		return m.AmendInsert(1, model.RowValues{Name: model.Ptr("Ada")})
	}}
	w := NewRefreshWorker(s, []DataSource{base, annotator}, noRetry())

	_, err := w.RefreshWithoutDirtyCheck(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Ada", model.Value(s.rows[1].Name))
}

func TestClearData(t *testing.T) {
	s := newMemStore()
	base := &fakeSource{name: "base", fill: insertRow(1, "Ada")}
	other := &fakeSource{name: "other"}
	w := NewRefreshWorker(s, []DataSource{base, other}, noRetry())
	ctx := context.Background()

	_, err := w.RefreshWithoutDirtyCheck(ctx)
	require.NoError(t, err)
	require.NoError(t, w.ClearData(ctx))

	assert.True(t, s.cleared)
	assert.Empty(t, s.rows)
	assert.Equal(t, int32(1), base.clearCalls.Load())
	assert.Equal(t, int32(1), other.clearCalls.Load())
	built, err := w.State().IsBuilt(ctx)
	require.NoError(t, err)
	assert.False(t, built)
}

func TestRefreshResult_String(t *testing.T) {
	assert.Equal(t, "NOT_DIRTY", NotDirty.String())
	assert.Equal(t, "REBUILT_BUT_NO_CHANGES_NEEDED", RebuiltButNoChangesNeeded.String())
	assert.Equal(t, "REBUILT_AND_CHANGES_NEEDED", RebuiltAndChangesNeeded.String())
}
