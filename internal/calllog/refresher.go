package calllog

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Refresher collapses bursts of refresh requests into single cycles run on
// the worker after a debounce delay.
type Refresher struct {
	worker   *RefreshWorker
	debounce time.Duration
	onResult func(RefreshResult, error)

	mu         sync.Mutex
	timer      *time.Timer
	gen        uint64
	checkDirty bool
	wg         sync.WaitGroup
}

// RefresherOption configures a Refresher.
type RefresherOption func(*Refresher)

// WithOnResult registers a callback for every finished cycle.
func WithOnResult(fn func(RefreshResult, error)) RefresherOption {
	return func(r *Refresher) { r.onResult = fn }
}

// NewRefresher creates a debounced trigger.
func NewRefresher(worker *RefreshWorker, debounce time.Duration, opts ...RefresherOption) *Refresher {
	r := &Refresher{worker: worker, debounce: debounce}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RequestRefresh schedules a cycle under ctx after the debounce delay,
// replacing any pending one. The cycle skips the dirty check if any collapsed
// request asked it to.
func (r *Refresher) RequestRefresh(ctx context.Context, checkDirty bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.timer != nil && r.timer.Stop() {
		checkDirty = r.checkDirty && checkDirty
		r.wg.Done()
	}
	r.checkDirty = checkDirty
	r.gen++
	gen := r.gen
	r.wg.Add(1)
	r.timer = time.AfterFunc(r.debounce, func() { r.run(ctx, gen, checkDirty) })
}

// Cancel drops a pending cycle that has not started yet.
func (r *Refresher) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timer != nil && r.timer.Stop() {
		r.wg.Done()
	}
	r.timer = nil
}

// Wait blocks until no cycle is pending or running.
func (r *Refresher) Wait() {
	r.wg.Wait()
}

func (r *Refresher) run(ctx context.Context, gen uint64, checkDirty bool) {
	defer r.wg.Done()

	// A newer request may have replaced the timer after this one fired.
	r.mu.Lock()
	if r.gen == gen {
		r.timer = nil
	}
	r.mu.Unlock()

	if ctx.Err() != nil {
		return
	}

	var (
		result RefreshResult
		err    error
	)
	if checkDirty {
		result, err = r.worker.RefreshWithDirtyCheck(ctx)
	} else {
		result, err = r.worker.RefreshWithoutDirtyCheck(ctx)
	}
	if err != nil {
		zap.L().Error("calllog: scheduled refresh failed", zap.Error(err))
	}
	if r.onResult != nil {
		r.onResult(result, err)
	}
}
