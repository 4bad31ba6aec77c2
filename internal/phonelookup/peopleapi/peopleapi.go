// Package peopleapi resolves phone numbers against the remote caller-ID
// directory.
package peopleapi

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/sells-group/annotated-calllog/internal/model"
	"github.com/sells-group/annotated-calllog/internal/phonelookup"
	"github.com/sells-group/annotated-calllog/internal/phonenumber"
	"github.com/sells-group/annotated-calllog/internal/resilience"
	peopleclient "github.com/sells-group/annotated-calllog/pkg/peopleapi"
)

const (
	defaultTTL         = 24 * time.Hour
	defaultConcurrency = 4
)

// Option configures a Lookup.
type Option func(*Lookup)

// WithTTL sets how long a fetched result stays fresh.
func WithTTL(d time.Duration) Option {
	return func(l *Lookup) {
		if d > 0 {
			l.ttl = d
		}
	}
}

// WithRetry sets the retry policy for directory calls.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(l *Lookup) { l.retry = cfg }
}

// WithCircuitBreaker replaces the default circuit breaker.
func WithCircuitBreaker(cb *resilience.CircuitBreaker) Option {
	return func(l *Lookup) { l.breaker = cb }
}

// WithConcurrency bounds the number of directory calls in flight.
func WithConcurrency(n int) Option {
	return func(l *Lookup) {
		if n > 0 {
			l.concurrency = n
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Lookup) { l.now = now }
}

// Lookup is the remote caller-ID lookup. It has no change feed, so IsDirty
// is always false and staleness is handled by a TTL in BulkUpdate.
type Lookup struct {
	client      peopleclient.Client
	ttl         time.Duration
	retry       resilience.RetryConfig
	breaker     *resilience.CircuitBreaker
	concurrency int
	now         func() time.Time
}

var _ phonelookup.PhoneLookup = (*Lookup)(nil)

// New creates a remote caller-ID lookup.
func New(client peopleclient.Client, opts ...Option) *Lookup {
	l := &Lookup{
		client:      client,
		ttl:         defaultTTL,
		retry:       resilience.DefaultRetryConfig(),
		concurrency: defaultConcurrency,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.breaker == nil {
		l.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{ShouldTrip: resilience.IsTransient})
	}
	l.retry.OnRetry = resilience.RetryLogger("people_api", "lookup_phone")
	return l
}

func (l *Lookup) LoggingName() string        { return "PeopleApiPhoneLookup" }
func (l *Lookup) Source() model.LookupSource { return model.SourcePeopleAPI }

// Lookup fetches number from the directory. Numbers that are not valid E.164
// are never sent.
func (l *Lookup) Lookup(ctx context.Context, number model.DialerPhoneNumber) (model.PhoneLookupInfo, error) {
	if !phonenumber.IsValidE164(number) {
		return model.PhoneLookupInfo{}, nil
	}
	info, err := l.fetch(ctx, number.NormalizedNumber)
	if err != nil {
		return model.PhoneLookupInfo{}, err
	}
	return model.PhoneLookupInfo{PeopleAPI: info}, nil
}

func (l *Lookup) IsDirty(context.Context, []model.DialerPhoneNumber, time.Time) (bool, error) {
	return false, nil
}

// BulkUpdate refetches the valid E.164 numbers that were never fetched or
// whose result is older than the TTL. A number whose fetch is rejected by the
// open circuit, or still fails transiently after retries, keeps its existing
// slot.
func (l *Lookup) BulkUpdate(ctx context.Context, existing map[model.DialerPhoneNumber]model.PhoneLookupInfo, _ time.Time) (map[model.DialerPhoneNumber]model.PhoneLookupInfo, error) {
	now := l.now()
	stale := make(map[string][]model.DialerPhoneNumber)
	for n, info := range existing {
		if !phonenumber.IsValidE164(n) {
			continue
		}
		if info.PeopleAPI != nil && now.Sub(time.UnixMilli(info.PeopleAPI.FetchedAt)) < l.ttl {
			continue
		}
		stale[n.NormalizedNumber] = append(stale[n.NormalizedNumber], n)
	}
	out := make(map[model.DialerPhoneNumber]model.PhoneLookupInfo)
	if len(stale) == 0 {
		return out, nil
	}

	var (
		mu      sync.Mutex
		skipped int
	)
	p := pool.New().
		WithMaxGoroutines(l.concurrency).
		WithContext(ctx).
		WithCancelOnError().
		WithFirstError()
	for e164, numbers := range stale {
		p.Go(func(ctx context.Context) error {
			info, err := l.fetch(ctx, e164)
			if err != nil {
				if errors.Is(err, resilience.ErrCircuitOpen) || resilience.IsTransient(err) {
					mu.Lock()
					skipped++
					mu.Unlock()
					return nil
				}
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			for _, n := range numbers {
				out[n] = model.PhoneLookupInfo{PeopleAPI: info}
			}
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}
	if skipped > 0 {
		zap.L().Warn("people api: numbers left unchanged after fetch failures",
			zap.Int("skipped", skipped),
			zap.Int("requested", len(stale)),
			zap.String("circuit", l.breaker.State().String()),
		)
	}
	return out, nil
}

func (l *Lookup) fetch(ctx context.Context, e164 string) (*model.PeopleAPIInfo, error) {
	person, err := resilience.ExecuteVal(ctx, l.breaker, func(ctx context.Context) (*peopleclient.Person, error) {
		return resilience.DoVal(ctx, l.retry, func(ctx context.Context) (*peopleclient.Person, error) {
			return classify(l.client.LookupPhone(ctx, e164))
		})
	})
	if err != nil {
		return nil, eris.Wrap(err, "people api: lookup phone")
	}
	info := &model.PeopleAPIInfo{InfoType: model.PeopleAPIUnknown, FetchedAt: l.now().UnixMilli()}
	if person == nil {
		return info, nil
	}
	info.DisplayName = person.DisplayName
	info.LookupURI = person.LookupURI
	info.PersonID = person.ID
	info.InfoType = infoType(person.Type)
	return info, nil
}

// classify marks retryable directory responses as transient.
func classify(p *peopleclient.Person, err error) (*peopleclient.Person, error) {
	var apiErr *peopleclient.APIError
	if errors.As(err, &apiErr) {
		return nil, resilience.FromHTTPStatus(err, apiErr.StatusCode)
	}
	return p, err
}

func infoType(t string) model.PeopleAPIInfoType {
	switch t {
	case "CONTACT":
		return model.PeopleAPIContact
	case "NEARBY_BUSINESS":
		return model.PeopleAPINearbyBusiness
	default:
		return model.PeopleAPIUnknown
	}
}

func (l *Lookup) OnSuccessfulBulkUpdate(context.Context) error                  { return nil }
func (l *Lookup) ClearData(context.Context) error                               { return nil }
func (l *Lookup) RegisterContentObservers(phonelookup.ContentObserverCallbacks) {}
func (l *Lookup) UnregisterContentObservers()                                   {}
