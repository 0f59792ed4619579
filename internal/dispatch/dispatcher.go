package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/geolens/geo-audit/internal/model"
	"github.com/geolens/geo-audit/internal/resilience"
)

// ErrInsufficientSuccess reports that fewer probes succeeded than the
// configured minimum. Callers decide whether that fails the audit or
// produces a zero-score result.
var ErrInsufficientSuccess = eris.New("dispatch: fewer successful probes than required minimum")

// ProbeEvent is emitted after each probe settles, success or failure.
type ProbeEvent struct {
	Spec    model.ProbeSpec
	Err     error
	Latency time.Duration
}

// Config tunes the dispatcher worker pool.
type Config struct {
	Concurrency     int
	PerProbeTimeout time.Duration
	MinSuccess      int
	ProviderRPS     float64
	ProviderBurst   int
	Retry           resilience.RetryConfig
	Breakers        *resilience.ProviderBreakers

	// OnProbe, if set, receives a completion event per probe. Progress
	// reporting only; must not block.
	OnProbe func(ProbeEvent)
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 8
	}
	if c.PerProbeTimeout <= 0 {
		c.PerProbeTimeout = 60 * time.Second
	}
	if c.MinSuccess <= 0 {
		c.MinSuccess = 1
	}
	if c.ProviderRPS <= 0 {
		c.ProviderRPS = 2
	}
	if c.ProviderBurst <= 0 {
		c.ProviderBurst = 4
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry = resilience.DefaultRetryConfig()
	}
	if c.Breakers == nil {
		c.Breakers = resilience.NewProviderBreakers(resilience.CircuitBreakerConfig{})
	}
	return c
}

// Dispatcher fans probe specs out to provider adapters under a bounded
// worker pool, with per-provider rate limiting and circuit breaking.
type Dispatcher struct {
	cfg       Config
	providers map[string]Provider
	limiters  map[string]*rate.Limiter
	mu        sync.Mutex
}

// NewDispatcher creates a dispatcher over the given providers.
func NewDispatcher(providers []Provider, cfg Config) *Dispatcher {
	cfg = cfg.withDefaults()
	byName := make(map[string]Provider, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}
	return &Dispatcher{
		cfg:       cfg,
		providers: byName,
		limiters:  make(map[string]*rate.Limiter),
	}
}

func (d *Dispatcher) limiterFor(provider string) *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()
	lim, ok := d.limiters[provider]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(d.cfg.ProviderRPS), d.cfg.ProviderBurst)
		d.limiters[provider] = lim
	}
	return lim
}

// Dispatch executes the probe matrix and collects responses and failures.
// Individual probe failures never abort the run; the only error returned is
// ErrInsufficientSuccess (or a cancelled context). Zero successes with
// MinSuccess satisfied is a legal empty result.
func (d *Dispatcher) Dispatch(ctx context.Context, specs []model.ProbeSpec) ([]model.ProbeResponse, []model.DispatchFailure, error) {
	var (
		mu        sync.Mutex
		responses []model.ProbeResponse
		failures  []model.DispatchFailure
	)

	// A provider whose credentials are rejected fails every remaining probe
	// the same way; remember it and skip instead of burning attempts.
	var deadMu sync.Mutex
	deadProviders := make(map[string]error)

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Concurrency)

	for _, spec := range specs {
		spec := spec
		g.Go(func() error {
			start := time.Now()
			resp, attempts, err := d.runProbe(gCtx, spec, &deadMu, deadProviders)
			latency := time.Since(start)

			mu.Lock()
			if err != nil {
				failures = append(failures, model.DispatchFailure{
					Spec:      spec,
					Reason:    err.Error(),
					Attempts:  attempts,
					Permanent: !resilience.IsTransient(err),
				})
			} else {
				responses = append(responses, *resp)
			}
			mu.Unlock()

			if d.cfg.OnProbe != nil {
				d.cfg.OnProbe(ProbeEvent{Spec: spec, Err: err, Latency: latency})
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, eris.Wrap(err, "dispatch: worker pool")
	}
	if ctx.Err() != nil {
		return nil, nil, eris.Wrap(ctx.Err(), "dispatch: cancelled")
	}

	zap.L().Info("probe dispatch finished",
		zap.Int("total", len(specs)),
		zap.Int("succeeded", len(responses)),
		zap.Int("failed", len(failures)))

	if len(specs) > 0 && len(responses) < d.cfg.MinSuccess {
		return responses, failures, ErrInsufficientSuccess
	}
	return responses, failures, nil
}

// runProbe executes one probe through the rate limiter, circuit breaker and
// retry loop. The returned attempt count is the number of provider calls
// actually made, so a breaker-open rejection or an early cancellation reports
// fewer attempts than the retry budget.
func (d *Dispatcher) runProbe(ctx context.Context, spec model.ProbeSpec, deadMu sync.Locker, dead map[string]error) (*model.ProbeResponse, int, error) {
	provider, ok := d.providers[spec.Provider]
	if !ok {
		return nil, 0, eris.Errorf("dispatch: unknown provider %s", spec.Provider)
	}

	deadMu.Lock()
	deadErr := dead[spec.Provider]
	deadMu.Unlock()
	if deadErr != nil {
		return nil, 0, deadErr
	}

	breaker := d.cfg.Breakers.Get(spec.Provider)
	retryCfg := d.cfg.Retry
	retryCfg.OnRetry = resilience.RetryLogger(spec.Provider, "probe")

	attempts := 0
	start := time.Now()
	reply, err := resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (*model.ProviderReply, error) {
		attempts++
		if err := d.limiterFor(spec.Provider).Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "dispatch: rate limiter wait")
		}

		var reply *model.ProviderReply
		err := breaker.Execute(ctx, func(ctx context.Context) error {
			probeCtx, cancel := context.WithTimeout(ctx, d.cfg.PerProbeTimeout)
			defer cancel()
			var qErr error
			reply, qErr = provider.Query(probeCtx, spec.Query, spec.Temperature)
			return qErr
		})
		return reply, err
	})
	if err != nil {
		if resilience.IsAuthError(err) {
			deadMu.Lock()
			dead[spec.Provider] = err
			deadMu.Unlock()
			zap.L().Warn("provider credentials rejected, skipping remaining probes",
				zap.String("provider", spec.Provider))
		}
		return nil, attempts, err
	}

	return &model.ProbeResponse{
		Spec:         spec,
		Text:         reply.Text,
		Citations:    reply.Citations,
		InputTokens:  reply.InputTokens,
		OutputTokens: reply.OutputTokens,
		LatencyMS:    time.Since(start).Milliseconds(),
		ReceivedAt:   time.Now().UTC(),
	}, attempts, nil
}
