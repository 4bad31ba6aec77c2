package phonelookup

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/sells-group/annotated-calllog/internal/model"
	"github.com/sells-group/annotated-calllog/internal/phonenumber"
)

// Composite fans every operation out to a set of lookups and merges their
// slots into one PhoneLookupInfo per number. Lookups lower in the name
// priority table are skipped for numbers a higher one already names.
type Composite struct {
	lookups     []PhoneLookup
	stages      [][]PhoneLookup
	concurrency int
}

// CompositeOption configures a Composite.
type CompositeOption func(*Composite)

// WithConcurrency bounds the number of lookups running at once.
func WithConcurrency(n int) CompositeOption {
	return func(c *Composite) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// NewComposite creates a Composite over lookups.
func NewComposite(lookups []PhoneLookup, opts ...CompositeOption) *Composite {
	c := &Composite{
		lookups:     lookups,
		concurrency: max(len(lookups), 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.stages = buildStages(lookups)
	return c
}

// buildStages groups lookups by name rank. Stage 0 holds the top-ranked name
// source and every lookup that provides no name; stage r holds the name
// sources ranked r.
func buildStages(lookups []PhoneLookup) [][]PhoneLookup {
	byRank := make(map[int][]PhoneLookup)
	for _, l := range lookups {
		rank, _ := nameRank(l.Source())
		byRank[rank] = append(byRank[rank], l)
	}
	ranks := make([]int, 0, len(byRank))
	for r := range byRank {
		ranks = append(ranks, r)
	}
	sort.Ints(ranks)

	stages := make([][]PhoneLookup, 0, len(ranks))
	for _, r := range ranks {
		stages = append(stages, byRank[r])
	}
	return stages
}

// Lookups returns the registered lookups.
func (c *Composite) Lookups() []PhoneLookup {
	return c.lookups
}

// LookupCall normalizes the call's number and looks it up.
func (c *Composite) LookupCall(ctx context.Context, call model.Call) (model.PhoneLookupInfo, error) {
	return c.Lookup(ctx, phonenumber.Parse(call.Number, call.CountryISO))
}

// Lookup queries every lookup for number and merges their slots.
func (c *Composite) Lookup(ctx context.Context, number model.DialerPhoneNumber) (model.PhoneLookupInfo, error) {
	var merged model.PhoneLookupInfo
	for _, stage := range c.stages {
		if rank := stageRank(stage); rank > 0 && resolvedAbove(merged, rank) {
			continue
		}

		p := pool.NewWithResults[slotResult]().
			WithMaxGoroutines(c.concurrency).
			WithContext(ctx).
			WithCancelOnError().
			WithFirstError()
		for _, l := range stage {
			p.Go(func(ctx context.Context) (slotResult, error) {
				info, err := l.Lookup(ctx, number)
				if err != nil {
					return slotResult{}, eris.Wrapf(err, "phonelookup: lookup %s", l.LoggingName())
				}
				return slotResult{source: l.Source(), info: info}, nil
			})
		}
		results, err := p.Wait()
		if err != nil {
			return model.PhoneLookupInfo{}, err
		}
		for _, r := range results {
			merged = merged.WithSlot(r.source, r.info)
		}
	}
	return merged, nil
}

type slotResult struct {
	source model.LookupSource
	info   model.PhoneLookupInfo
}

func stageRank(stage []PhoneLookup) int {
	if len(stage) == 0 {
		return 0
	}
	rank, _ := nameRank(stage[0].Source())
	return rank
}

// IsDirty reports whether any lookup has newer data for numbers. The first
// lookup to answer true cancels the others.
func (c *Composite) IsDirty(ctx context.Context, numbers []model.DialerPhoneNumber, since time.Time) (bool, error) {
	if len(c.lookups) == 0 {
		return false, nil
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var dirty atomic.Bool
	p := pool.New().
		WithMaxGoroutines(c.concurrency).
		WithContext(ctx).
		WithFirstError()
	for _, l := range c.lookups {
		p.Go(func(ctx context.Context) error {
			isDirty, err := l.IsDirty(ctx, numbers, since)
			if err != nil {
				return eris.Wrapf(err, "phonelookup: is dirty %s", l.LoggingName())
			}
			if isDirty {
				zap.L().Debug("phone lookup is dirty", zap.String("lookup", l.LoggingName()))
				dirty.Store(true)
				cancel()
			}
			return nil
		})
	}
	err := p.Wait()
	if dirty.Load() {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return false, nil
}

// BulkUpdate runs every lookup's bulk update and returns the merged info for
// every number in existing. Numbers a lookup omitted keep their existing slot.
func (c *Composite) BulkUpdate(ctx context.Context, existing map[model.DialerPhoneNumber]model.PhoneLookupInfo, since time.Time) (map[model.DialerPhoneNumber]model.PhoneLookupInfo, error) {
	merged := make(map[model.DialerPhoneNumber]model.PhoneLookupInfo, len(existing))
	for n, info := range existing {
		merged[n] = info
	}
	if len(existing) == 0 {
		return merged, nil
	}

	for _, stage := range c.stages {
		subset := existing
		if rank := stageRank(stage); rank > 0 {
			subset = make(map[model.DialerPhoneNumber]model.PhoneLookupInfo)
			for n, info := range existing {
				if !resolvedAbove(merged[n], rank) {
					subset[n] = info
				}
			}
			zap.L().Debug("phone lookup stage",
				zap.Int("rank", rank),
				zap.Int("numbers", len(subset)),
				zap.Int("skipped", len(existing)-len(subset)),
			)
			if len(subset) == 0 {
				continue
			}
		}

		p := pool.NewWithResults[bulkResult]().
			WithMaxGoroutines(c.concurrency).
			WithContext(ctx).
			WithCancelOnError().
			WithFirstError()
		for _, l := range stage {
			p.Go(func(ctx context.Context) (bulkResult, error) {
				start := time.Now()
				updated, err := l.BulkUpdate(ctx, subset, since)
				if err != nil {
					return bulkResult{}, eris.Wrapf(err, "phonelookup: bulk update %s", l.LoggingName())
				}
				zap.L().Debug("phone lookup bulk update complete",
					zap.String("lookup", l.LoggingName()),
					zap.Int("numbers", len(subset)),
					zap.Int("returned", len(updated)),
					zap.Duration("elapsed", time.Since(start)),
				)
				return bulkResult{source: l.Source(), updated: updated}, nil
			})
		}
		results, err := p.Wait()
		if err != nil {
			return nil, err
		}
		for _, r := range results {
			for n, info := range r.updated {
				if _, ok := subset[n]; !ok {
					continue
				}
				merged[n] = merged[n].WithSlot(r.source, info)
			}
		}
	}
	return merged, nil
}

type bulkResult struct {
	source  model.LookupSource
	updated map[model.DialerPhoneNumber]model.PhoneLookupInfo
}

// OnSuccessfulBulkUpdate notifies every lookup that the last bulk update was persisted.
func (c *Composite) OnSuccessfulBulkUpdate(ctx context.Context) error {
	return c.each(ctx, "on successful bulk update", func(ctx context.Context, l PhoneLookup) error {
		return l.OnSuccessfulBulkUpdate(ctx)
	})
}

// ClearData clears the stored state of every lookup.
func (c *Composite) ClearData(ctx context.Context) error {
	return c.each(ctx, "clear data", func(ctx context.Context, l PhoneLookup) error {
		return l.ClearData(ctx)
	})
}

func (c *Composite) each(ctx context.Context, op string, fn func(context.Context, PhoneLookup) error) error {
	p := pool.New().
		WithMaxGoroutines(max(c.concurrency, 1)).
		WithContext(ctx).
		WithFirstError()
	for _, l := range c.lookups {
		p.Go(func(ctx context.Context) error {
			return eris.Wrapf(fn(ctx, l), "phonelookup: %s %s", op, l.LoggingName())
		})
	}
	return p.Wait()
}

// RegisterContentObservers subscribes every lookup to provider changes.
func (c *Composite) RegisterContentObservers(cb ContentObserverCallbacks) {
	for _, l := range c.lookups {
		l.RegisterContentObservers(cb)
	}
}

// UnregisterContentObservers removes every lookup's subscriptions.
func (c *Composite) UnregisterContentObservers() {
	for _, l := range c.lookups {
		l.UnregisterContentObservers()
	}
}
