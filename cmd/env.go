package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/annotated-calllog/internal/calllog"
	"github.com/sells-group/annotated-calllog/internal/config"
	"github.com/sells-group/annotated-calllog/internal/datasource/lookupattrs"
	"github.com/sells-group/annotated-calllog/internal/datasource/systemlog"
	"github.com/sells-group/annotated-calllog/internal/device"
	"github.com/sells-group/annotated-calllog/internal/phonelookup"
	"github.com/sells-group/annotated-calllog/internal/phonelookup/blocked"
	"github.com/sells-group/annotated-calllog/internal/phonelookup/cp2"
	"github.com/sells-group/annotated-calllog/internal/phonelookup/emergency"
	peoplelookup "github.com/sells-group/annotated-calllog/internal/phonelookup/peopleapi"
	"github.com/sells-group/annotated-calllog/internal/resilience"
	"github.com/sells-group/annotated-calllog/internal/store"
	"github.com/sells-group/annotated-calllog/pkg/peopleapi"
)

// appEnv holds the store, device providers, lookups and refresh worker
// needed by every command.
type appEnv struct {
	Store   store.Store
	Device  *device.DB
	Lookups *phonelookup.Composite
	Worker  *calllog.RefreshWorker
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Device != nil {
		_ = e.Device.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv opens and migrates the store and device providers, then builds the
// lookups, data sources and refresh worker. Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	dev, err := device.Open(cfg.Device.DatabaseURL, cfg.Device.CountryISO)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	if err := dev.Migrate(ctx); err != nil {
		_ = dev.Close()
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate device")
	}

	lookups, err := buildLookups(dev)
	if err != nil {
		_ = dev.Close()
		_ = st.Close()
		return nil, err
	}

	sources := []calllog.DataSource{
		systemlog.New(dev, st, cfg.Refresh.MaxCallsPerFill),
		lookupattrs.New(lookups, st),
	}
	sr := cfg.Refresh.StoreRetry
	worker := calllog.NewRefreshWorker(st, sources,
		calllog.WithApplyRetry(resilience.FromRetryConfig(sr.MaxAttempts, sr.InitialBackoffMs, sr.MaxBackoffMs, sr.Multiplier, sr.JitterFraction)),
	)

	return &appEnv{
		Store:   st,
		Device:  dev,
		Lookups: lookups,
		Worker:  worker,
	}, nil
}

func initStore(ctx context.Context) (store.Store, error) {
	opts := store.Options{MaxRows: cfg.Store.MaxRows}
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "calllog.db"
		}
		return store.NewSQLite(dsn, opts)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil, opts)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// buildLookups assembles the composite lookup. The remote directory is only
// wired in when a key is configured.
func buildLookups(dev *device.DB) (*phonelookup.Composite, error) {
	lookups := []phonelookup.PhoneLookup{
		cp2.New(dev, cp2.WithMaxInvalidNumbers(cfg.Lookup.MaxInvalidNumbers)),
	}

	if pc := cfg.PeopleAPI; pc.Key != "" {
		client := peopleapi.NewClient(pc.Key,
			peopleapi.WithBaseURL(pc.BaseURL),
			peopleapi.WithHTTPClient(&http.Client{Timeout: time.Duration(pc.TimeoutSecs) * time.Second}),
			peopleapi.WithRateLimit(pc.RatePerSec, pc.Burst),
		)
		lookups = append(lookups, peoplelookup.New(client,
			peoplelookup.WithTTL(time.Duration(pc.TTLHours)*time.Hour),
			peoplelookup.WithRetry(resilience.FromRetryConfig(pc.Retry.MaxAttempts, pc.Retry.InitialBackoffMs, pc.Retry.MaxBackoffMs, pc.Retry.Multiplier, pc.Retry.JitterFraction)),
			peoplelookup.WithCircuitBreaker(resilience.NewCircuitBreaker(resilience.FromCircuitConfig(pc.Circuit.FailureThreshold, pc.Circuit.ResetTimeoutSecs))),
			peoplelookup.WithConcurrency(cfg.Lookup.Concurrency),
		))
		zap.L().Info("people api lookup enabled")
	} else {
		zap.L().Debug("CALLLOG_PEOPLE_API_KEY not set, remote caller-ID lookup disabled")
	}

	table, err := emergencyTable(cfg.Emergency)
	if err != nil {
		return nil, err
	}
	lookups = append(lookups, blocked.New(dev), emergency.New(table))

	return phonelookup.NewComposite(lookups, phonelookup.WithConcurrency(cfg.Lookup.Concurrency)), nil
}

// emergencyTable loads the configured emergency table, falling back to the
// built-in one, and merges in the extra numbers from config.
func emergencyTable(ec config.EmergencyConfig) (emergency.Table, error) {
	table := emergency.DefaultTable()
	if ec.TablePath != "" {
		t, err := emergency.LoadTable(ec.TablePath)
		if err != nil {
			return emergency.Table{}, err
		}
		table = t
	}
	if table.Numbers == nil {
		table.Numbers = make(map[string][]string)
	}
	for region, numbers := range ec.Numbers {
		region = strings.ToUpper(region)
		table.Numbers[region] = append(table.Numbers[region], numbers...)
	}
	table.PrefixRegions = append(table.PrefixRegions, ec.PrefixRegions...)
	return table, nil
}
