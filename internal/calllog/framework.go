package calllog

import (
	"context"

	"go.uber.org/zap"
)

// Framework wires the data sources' content observers to the refresher and
// exposes the feature-level controls.
type Framework struct {
	worker    *RefreshWorker
	refresher *Refresher
}

// NewFramework returns a framework over worker. refresher may be nil when no
// background cycles are wanted.
func NewFramework(worker *RefreshWorker, refresher *Refresher) *Framework {
	return &Framework{worker: worker, refresher: refresher}
}

// ObserverFunc adapts a function to ContentObserverCallbacks.
type ObserverFunc func()

func (fn ObserverFunc) MarkDirtyAndNotify() { fn() }

// RegisterContentObservers subscribes every data source to its providers.
// Notifications mark the log dirty and request cycles under ctx.
func (f *Framework) RegisterContentObservers(ctx context.Context) {
	cb := ObserverFunc(func() { f.MarkDirtyAndNotify(ctx) })
	for _, src := range f.worker.Sources() {
		src.RegisterContentObservers(cb)
	}
}

// UnregisterContentObservers removes every data source's subscriptions.
func (f *Framework) UnregisterContentObservers() {
	for _, src := range f.worker.Sources() {
		src.UnregisterContentObservers()
	}
}

// MarkDirtyAndNotify forces the next cycle to rebuild and requests one.
func (f *Framework) MarkDirtyAndNotify(ctx context.Context) {
	if err := f.worker.State().SetForceRebuild(ctx, true); err != nil {
		zap.L().Error("calllog: mark dirty", zap.Error(err))
	}
	if f.refresher != nil {
		f.refresher.RequestRefresh(ctx, true)
	}
}

// Disable stops observing providers, drops any pending cycle and clears all
// annotated call log data.
func (f *Framework) Disable(ctx context.Context) error {
	f.UnregisterContentObservers()
	if f.refresher != nil {
		f.refresher.Cancel()
	}
	return f.ClearData(ctx)
}

// ClearData clears every data source, the annotated call log and its state.
func (f *Framework) ClearData(ctx context.Context) error {
	return f.worker.ClearData(ctx)
}
