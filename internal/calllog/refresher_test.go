package calllog

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type results struct {
	mu  sync.Mutex
	got []RefreshResult
}

func (r *results) record(res RefreshResult, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		r.got = append(r.got, res)
	}
}

func (r *results) all() []RefreshResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RefreshResult(nil), r.got...)
}

func TestRefresher_DebouncesBursts(t *testing.T) {
	s := newMemStore()
	base := &fakeSource{name: "base", fill: func(context.Context, *Mutations) error { return nil }}
	w := NewRefreshWorker(s, []DataSource{base}, noRetry())
	rec := &results{}
	r := NewRefresher(w, 20*time.Millisecond, WithOnResult(rec.record))

	for range 5 {
		r.RequestRefresh(context.Background(), true)
	}
	r.Wait()

	assert.Equal(t, int32(1), base.fillCalls.Load())
	assert.Equal(t, []RefreshResult{RebuiltButNoChangesNeeded}, rec.all())
}

func TestRefresher_Cancel(t *testing.T) {
	s := newMemStore()
	base := &fakeSource{name: "base"}
	w := NewRefreshWorker(s, []DataSource{base}, noRetry())
	r := NewRefresher(w, time.Hour)

	r.RequestRefresh(context.Background(), false)
	r.Cancel()
	r.Wait()

	assert.Zero(t, base.fillCalls.Load())
}

func TestRefresher_CancelAfterEarlierTimerFired(t *testing.T) {
	ctx := context.Background()
	for range 20 {
		s := newMemStore()
		base := &fakeSource{name: "base"}
		w := NewRefreshWorker(s, []DataSource{base}, noRetry())
		r := NewRefresher(w, time.Millisecond)

		r.RequestRefresh(ctx, false)
		// The first timer fires while the lock is held, so its cycle starts
		// around the next request.
		r.mu.Lock()
		time.Sleep(20 * time.Millisecond)
		r.debounce = time.Hour
		r.mu.Unlock()

		r.RequestRefresh(ctx, false)
		r.Cancel()

		done := make(chan struct{})
		go func() {
			r.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("cancelled request is still pending")
		}
		assert.Equal(t, int32(1), base.fillCalls.Load())
	}
}

func TestFramework_ObserverForcesRebuild(t *testing.T) {
	s := newMemStore()
	s.forceRebuild(t, false)
	base := &fakeSource{name: "base"}
	w := NewRefreshWorker(s, []DataSource{base}, noRetry())
	rec := &results{}
	r := NewRefresher(w, time.Millisecond, WithOnResult(rec.record))
	f := NewFramework(w, r)

	f.RegisterContentObservers(context.Background())
	require.NotNil(t, base.observer)
	base.observer.MarkDirtyAndNotify()
	r.Wait()

	assert.Zero(t, base.dirtyCalls.Load(), "the observer forced the rebuild")
	assert.Equal(t, int32(1), base.fillCalls.Load())
	assert.Equal(t, []RefreshResult{RebuiltButNoChangesNeeded}, rec.all())
}

func TestFramework_Disable(t *testing.T) {
	s := newMemStore()
	base := &fakeSource{name: "base"}
	w := NewRefreshWorker(s, []DataSource{base}, noRetry())
	r := NewRefresher(w, time.Hour)
	f := NewFramework(w, r)

	f.RegisterContentObservers(context.Background())
	r.RequestRefresh(context.Background(), true)
	require.NoError(t, f.Disable(context.Background()))
	r.Wait()

	assert.Nil(t, base.observer)
	assert.Zero(t, base.fillCalls.Load())
	assert.Equal(t, int32(1), base.clearCalls.Load())
	assert.True(t, s.cleared)
}
