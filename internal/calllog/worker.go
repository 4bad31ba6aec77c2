package calllog

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/annotated-calllog/internal/model"
	"github.com/sells-group/annotated-calllog/internal/resilience"
)

// RefreshResult reports what a refresh cycle did.
type RefreshResult int

const (
	// NotDirty means no source reported changes and no rebuild was forced.
	NotDirty RefreshResult = iota
	// RebuiltButNoChangesNeeded means every source filled but contributed nothing.
	RebuiltButNoChangesNeeded
	// RebuiltAndChangesNeeded means mutations were applied.
	RebuiltAndChangesNeeded
)

func (r RefreshResult) String() string {
	switch r {
	case NotDirty:
		return "NOT_DIRTY"
	case RebuiltButNoChangesNeeded:
		return "REBUILT_BUT_NO_CHANGES_NEEDED"
	case RebuiltAndChangesNeeded:
		return "REBUILT_AND_CHANGES_NEEDED"
	default:
		return "UNKNOWN"
	}
}

// Store is the persistence the worker applies mutations to.
type Store interface {
	Prefs
	ApplyMutations(ctx context.Context, inserts, updates map[int64]model.RowValues, deletes []int64) error
	ClearAnnotatedCallLog(ctx context.Context) error
}

// WorkerOption configures a RefreshWorker.
type WorkerOption func(*RefreshWorker)

// WithApplyRetry sets the retry policy for the atomic apply. Only transient
// store errors such as a busy database are retried.
func WithApplyRetry(cfg resilience.RetryConfig) WorkerOption {
	return func(w *RefreshWorker) { w.retry = cfg }
}

// RefreshWorker runs refresh cycles over a fixed list of data sources. The
// first source is the base source: it fills alone, before the others, and
// stages the inserts they annotate. Cycles never overlap.
type RefreshWorker struct {
	mu      sync.Mutex
	store   Store
	state   *State
	sources []DataSource
	retry   resilience.RetryConfig
}

// NewRefreshWorker creates a worker. sources[0] is the base source.
func NewRefreshWorker(s Store, sources []DataSource, opts ...WorkerOption) *RefreshWorker {
	w := &RefreshWorker{
		store:   s,
		state:   NewState(s),
		sources: sources,
		retry: resilience.RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: 50 * time.Millisecond,
			MaxBackoff:     time.Second,
		},
	}
	for _, opt := range opts {
		opt(w)
	}
	w.retry.OnRetry = resilience.RetryLogger("calllog", "apply_mutations")
	return w
}

// Sources returns the registered data sources in order.
func (w *RefreshWorker) Sources() []DataSource {
	return w.sources
}

// State returns the persisted rebuild flags.
func (w *RefreshWorker) State() *State {
	return w.state
}

// RefreshWithDirtyCheck rebuilds only if a rebuild is forced or some source
// reports dirty.
func (w *RefreshWorker) RefreshWithDirtyCheck(ctx context.Context) (RefreshResult, error) {
	return w.refresh(ctx, true)
}

// RefreshWithoutDirtyCheck always rebuilds.
func (w *RefreshWorker) RefreshWithoutDirtyCheck(ctx context.Context) (RefreshResult, error) {
	return w.refresh(ctx, false)
}

func (w *RefreshWorker) refresh(ctx context.Context, checkDirty bool) (RefreshResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	log := zap.L().With(zap.String("cycle", uuid.NewString()))
	start := time.Now()

	if checkDirty {
		force, err := w.state.ForceRebuild(ctx)
		if err != nil {
			return NotDirty, err
		}
		if !force {
			dirty, err := w.isDirty(ctx, log)
			if err != nil {
				return NotDirty, err
			}
			if !dirty {
				log.Debug("calllog: no data source is dirty", zap.Duration("elapsed", time.Since(start)))
				return NotDirty, nil
			}
		}
	}

	// Cleared up front so a content change during the cycle forces the next one.
	if err := w.state.SetForceRebuild(ctx, false); err != nil {
		return NotDirty, err
	}

	result, err := w.rebuild(ctx, log)
	if err != nil {
		if serr := w.state.SetForceRebuild(context.WithoutCancel(ctx), true); serr != nil {
			log.Error("calllog: restore force rebuild", zap.Error(serr))
		}
		log.Warn("calllog: refresh cycle failed",
			zap.Error(err),
			zap.Duration("elapsed", time.Since(start)),
		)
		return NotDirty, err
	}

	log.Info("calllog: refresh cycle complete",
		zap.Stringer("result", result),
		zap.Duration("elapsed", time.Since(start)),
	)
	return result, nil
}

func (w *RefreshWorker) isDirty(ctx context.Context, log *zap.Logger) (bool, error) {
	var dirty atomic.Bool
	g, gctx := errgroup.WithContext(ctx)
	for _, src := range w.sources {
		g.Go(func() error {
			d, err := src.IsDirty(gctx)
			if err != nil {
				return eris.Wrapf(err, "calllog: is dirty %s", src.LoggingName())
			}
			log.Debug("calllog: dirty check",
				zap.String("source", src.LoggingName()),
				zap.Bool("dirty", d),
			)
			if d {
				dirty.Store(true)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return false, err
	}
	return dirty.Load(), nil
}

func (w *RefreshWorker) rebuild(ctx context.Context, log *zap.Logger) (RefreshResult, error) {
	m := NewMutations()
	if err := w.fill(ctx, m, log); err != nil {
		return NotDirty, err
	}
	if err := ctx.Err(); err != nil {
		return NotDirty, eris.Wrap(err, "calllog: cycle abandoned before apply")
	}

	inserts, updates, deletes := m.Counts()
	log.Info("calllog: mutations ready",
		zap.Int("inserts", inserts),
		zap.Int("updates", updates),
		zap.Int("deletes", deletes),
	)

	result := RebuiltButNoChangesNeeded
	if !m.IsEmpty() {
		err := resilience.Do(ctx, w.retry, func(ctx context.Context) error {
			return w.store.ApplyMutations(ctx, m.Inserts(), m.Updates(), m.Deletes())
		})
		if err != nil {
			return NotDirty, eris.Wrap(err, "calllog: apply mutations")
		}
		result = RebuiltAndChangesNeeded
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, src := range w.sources {
		g.Go(func() error {
			return eris.Wrapf(src.OnSuccessfulFill(gctx), "calllog: on successful fill %s", src.LoggingName())
		})
	}
	if err := g.Wait(); err != nil {
		return NotDirty, err
	}
	if err := w.state.MarkBuilt(ctx); err != nil {
		return NotDirty, err
	}
	return result, nil
}

// fill runs the base source alone, then every other source concurrently.
func (w *RefreshWorker) fill(ctx context.Context, m *Mutations, log *zap.Logger) error {
	if len(w.sources) == 0 {
		return nil
	}
	if err := w.fillOne(ctx, w.sources[0], m, log); err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, src := range w.sources[1:] {
		g.Go(func() error { return w.fillOne(gctx, src, m, log) })
	}
	return g.Wait()
}

func (w *RefreshWorker) fillOne(ctx context.Context, src DataSource, m *Mutations, log *zap.Logger) error {
	start := time.Now()
	if err := src.Fill(ctx, m); err != nil {
		return eris.Wrapf(err, "calllog: fill %s", src.LoggingName())
	}
	log.Debug("calllog: fill complete",
		zap.String("source", src.LoggingName()),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// ClearData wipes every source's data, the annotated call log and the
// rebuild flags. It waits for any running cycle.
func (w *RefreshWorker) ClearData(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, src := range w.sources {
		if err := src.ClearData(ctx); err != nil {
			return eris.Wrapf(err, "calllog: clear data %s", src.LoggingName())
		}
	}
	if err := w.store.ClearAnnotatedCallLog(ctx); err != nil {
		return eris.Wrap(err, "calllog: clear annotated call log")
	}
	return w.state.Clear(ctx)
}
