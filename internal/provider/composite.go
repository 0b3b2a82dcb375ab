package provider

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/quantfold/intraday/internal/cache"
	"github.com/quantfold/intraday/internal/models"
)

// AdapterConfig ranks one adapter inside the composite chain. Lower Priority
// is tried first. FallbackOnly adapters are only consulted after every
// primary adapter has been exhausted.
type AdapterConfig struct {
	Name            string
	Adapter         Provider
	Priority        int
	Timeout         time.Duration
	HealthThreshold float64
	FallbackOnly    bool
}

// BreakerPolicy configures the per-adapter circuit breakers.
type BreakerPolicy struct {
	// Threshold is the success-rate EMA (0..100) below which the circuit
	// trips open.
	Threshold float64
	// Reset is how long an open circuit waits before admitting probes.
	Reset time.Duration
	// HalfOpenProbes is how many consecutive probe successes close the
	// circuit again.
	HalfOpenProbes int
	// MinSamples is how many attempts must be observed before the EMA can
	// trip the circuit.
	MinSamples int
}

// DefaultBreakerPolicy trips below a 30 EMA after a handful of samples.
var DefaultBreakerPolicy = BreakerPolicy{
	Threshold:      30,
	Reset:          30 * time.Second,
	HalfOpenProbes: 2,
	MinSamples:     2,
}

const defaultAttemptTimeout = 10 * time.Second

// Composite presents a single GetBars over a ranked adapter chain with a
// cache-first read path. It owns the health table; all updates go through the
// per-adapter trackers under their own locks.
type Composite struct {
	adapters []AdapterConfig
	retry    RetryPolicy
	breaker  BreakerPolicy
	store    cache.Store
	ttls     map[models.Timeframe]time.Duration
	logger   *log.Logger
	now      func() time.Time

	trackers map[string]*tracker
	breakers map[string]*gobreaker.CircuitBreaker
	limiters map[string]*rate.Limiter

	subMu sync.Mutex
	subs  []func()
}

// CompositeOption tweaks composite construction.
type CompositeOption func(*Composite)

// WithTTLOverrides replaces the per-timeframe cache TTL table.
func WithTTLOverrides(ttls map[models.Timeframe]time.Duration) CompositeOption {
	return func(c *Composite) { c.ttls = ttls }
}

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) CompositeOption {
	return func(c *Composite) { c.now = now }
}

// NewComposite builds the composite over the given adapters. The store may be
// nil, which disables the cache path entirely.
func NewComposite(
	adapters []AdapterConfig,
	retryPolicy RetryPolicy,
	breakerPolicy BreakerPolicy,
	store cache.Store,
	logger *log.Logger,
	opts ...CompositeOption,
) (*Composite, error) {
	if len(adapters) == 0 {
		return nil, models.NewError(models.KindConfiguration, models.CodeInvalidArgs,
			"composite requires at least one adapter", nil)
	}
	if logger == nil {
		logger = log.Default()
	}
	if breakerPolicy.Threshold <= 0 {
		breakerPolicy.Threshold = DefaultBreakerPolicy.Threshold
	}
	if breakerPolicy.Reset <= 0 {
		breakerPolicy.Reset = DefaultBreakerPolicy.Reset
	}
	if breakerPolicy.HalfOpenProbes <= 0 {
		breakerPolicy.HalfOpenProbes = DefaultBreakerPolicy.HalfOpenProbes
	}
	if breakerPolicy.MinSamples <= 0 {
		breakerPolicy.MinSamples = DefaultBreakerPolicy.MinSamples
	}

	c := &Composite{
		adapters: make([]AdapterConfig, len(adapters)),
		retry:    retryPolicy.normalize(),
		breaker:  breakerPolicy,
		store:    store,
		logger:   logger,
		now:      time.Now,
		trackers: make(map[string]*tracker),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		limiters: make(map[string]*rate.Limiter),
	}
	copy(c.adapters, adapters)
	sort.SliceStable(c.adapters, func(i, j int) bool {
		if c.adapters[i].FallbackOnly != c.adapters[j].FallbackOnly {
			return !c.adapters[i].FallbackOnly
		}
		return c.adapters[i].Priority < c.adapters[j].Priority
	})

	for i := range c.adapters {
		ac := &c.adapters[i]
		if ac.Adapter == nil {
			return nil, models.NewError(models.KindConfiguration, models.CodeInvalidArgs,
				fmt.Sprintf("adapter %q has no implementation", ac.Name), nil)
		}
		if ac.Name == "" {
			ac.Name = ac.Adapter.Name()
		}
		if _, dup := c.trackers[ac.Name]; dup {
			return nil, models.NewError(models.KindConfiguration, models.CodeInvalidArgs,
				fmt.Sprintf("duplicate adapter name %q", ac.Name), nil)
		}
		if ac.Timeout <= 0 {
			ac.Timeout = defaultAttemptTimeout
		}
		if ac.HealthThreshold <= 0 {
			ac.HealthThreshold = breakerPolicy.Threshold
		}

		tr := newTracker(ac.Name)
		c.trackers[ac.Name] = tr
		c.breakers[ac.Name] = c.newBreaker(ac.Name, tr)

		if rpm := ac.Adapter.Capabilities().RateLimitPerMinute; rpm > 0 {
			c.limiters[ac.Name] = rate.NewLimiter(rate.Limit(float64(rpm)/60.0), rpm)
		}
	}

	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Composite) newBreaker(name string, tr *tracker) *gobreaker.CircuitBreaker {
	policy := c.breaker
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: uint32(policy.HalfOpenProbes),
		Timeout:     policy.Reset,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= uint32(policy.MinSamples) && tr.successRate() < policy.Threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Printf("circuit %s: %s -> %s", name, from, to)
		},
	})
}

// GetBars serves the composite read path: cache first, then the ranked
// adapter chain with retry, breaker, and health accounting.
func (c *Composite) GetBars(ctx context.Context, req Request) ([]models.Bar, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	key := cache.BarsKey(req.Symbol.Canonical, req.Timeframe, req.From, req.To, req.Limit)
	if got, ok := c.cacheGet(key, req); ok {
		return got, nil
	}

	candidates := c.candidates()
	var lastErr error
	for _, ac := range candidates {
		got, err := c.tryAdapter(ctx, ac, req)
		if err == nil {
			c.cacheSet(ctx, key, got, req)
			return got, nil
		}
		if models.KindOf(err) == models.KindCancelled {
			return nil, err
		}
		lastErr = err
	}

	if lastErr == nil {
		lastErr = models.NewError(models.KindProviderTransport, models.CodeProviderError,
			"no candidate adapters", nil)
	}
	return nil, models.WrapError(models.KindProviderTransport, models.CodeProviderError,
		"all providers failed", lastErr)
}

// candidates filters the ranked chain by circuit and health state. When the
// filter empties the set, every adapter is reconsidered so a fully degraded
// chain still makes a best effort.
func (c *Composite) candidates() []AdapterConfig {
	var out []AdapterConfig
	for _, ac := range c.adapters {
		switch c.breakers[ac.Name].State() {
		case gobreaker.StateOpen:
			continue
		case gobreaker.StateHalfOpen:
			// Half-open adapters stay in so probes can close the circuit.
		default:
			if c.trackers[ac.Name].successRate() < ac.HealthThreshold {
				continue
			}
		}
		out = append(out, ac)
	}
	if len(out) == 0 {
		out = append(out, c.adapters...)
	}
	return out
}

// tryAdapter runs the retry loop for one adapter.
func (c *Composite) tryAdapter(ctx context.Context, ac AdapterConfig, req Request) ([]models.Bar, error) {
	tr := c.trackers[ac.Name]
	cb := c.breakers[ac.Name]

	if lim := c.limiters[ac.Name]; lim != nil && !lim.Allow() {
		return nil, models.WrapError(models.KindProviderRateLimit, models.CodeProviderRateLimit,
			fmt.Sprintf("local rate limit for %s", ac.Name),
			&models.RateLimitError{Provider: ac.Name})
	}

	var lastErr error
	for attempt := 0; attempt < c.retry.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, models.WrapError(models.KindCancelled, models.CodeInternalError,
				"request cancelled", err)
		}

		start := c.now()
		result, err := cb.Execute(func() (any, error) {
			attemptCtx, cancel := context.WithTimeout(ctx, ac.Timeout)
			defer cancel()
			return fetchBars(attemptCtx, ac.Adapter, req)
		})
		elapsed := c.now().Sub(start)

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			// The breaker refused the call; nothing was attempted, so the
			// health EMAs stay untouched.
			return nil, models.WrapError(models.KindProviderTransport, models.CodeProviderError,
				fmt.Sprintf("circuit open for %s", ac.Name), err)
		}

		tr.record(err == nil, elapsed)

		if err == nil {
			return result.([]models.Bar), nil
		}
		lastErr = err
		c.logger.Printf("adapter %s attempt %d/%d failed: %v", ac.Name, attempt+1, c.retry.MaxAttempts, err)

		var rle *models.RateLimitError
		if errors.As(err, &rle) {
			// Rate limits degrade to the next adapter; the retryAfter hint is
			// surfaced to the caller through the error chain.
			return nil, models.WrapError(models.KindProviderRateLimit, models.CodeProviderRateLimit,
				fmt.Sprintf("adapter %s rate limited", ac.Name), err)
		}
		if !retryable(err) || attempt == c.retry.MaxAttempts-1 {
			break
		}

		select {
		case <-time.After(c.retry.delayFor(attempt)):
		case <-ctx.Done():
			return nil, models.WrapError(models.KindCancelled, models.CodeInternalError,
				"request cancelled during backoff", ctx.Err())
		}
	}
	return nil, lastErr
}

func (c *Composite) cacheGet(key string, req Request) ([]models.Bar, bool) {
	if c.store == nil {
		return nil, false
	}
	raw, ok := c.store.Get(key)
	if !ok {
		return nil, false
	}
	got, ok := raw.([]models.Bar)
	if !ok {
		// A foreign value under our key is treated as a cache read error:
		// fall through to upstream.
		c.store.Delete(key)
		return nil, false
	}
	if !req.From.IsZero() && !req.To.IsZero() &&
		!cache.RangeCovered(got, req.From, req.To, req.Timeframe, 0) {
		return nil, false
	}
	out := make([]models.Bar, len(got))
	copy(out, got)
	return out, true
}

// cacheSet writes through after a successful fetch. Writes for cancelled
// requests are skipped; write failures never surface to the caller.
func (c *Composite) cacheSet(ctx context.Context, key string, barsOut []models.Bar, req Request) {
	if c.store == nil || ctx.Err() != nil {
		return
	}
	stored := make([]models.Bar, len(barsOut))
	copy(stored, barsOut)
	c.store.Set(key, stored, c.ttlFor(req))
}

// ttlFor picks the write-through TTL. Completed historical windows do not go
// stale, so they get a day regardless of timeframe; live windows use the
// per-timeframe table.
func (c *Composite) ttlFor(req Request) time.Duration {
	live := cache.TTLFor(req.Timeframe, c.ttls)
	if !req.To.IsZero() && c.now().Sub(req.To) > req.Timeframe.Duration() {
		historical := 24 * time.Hour
		if historical > live {
			return historical
		}
	}
	return live
}

// HealthReport snapshots every adapter's health in chain order.
func (c *Composite) HealthReport() []Health {
	out := make([]Health, 0, len(c.adapters))
	for _, ac := range c.adapters {
		out = append(out, c.trackers[ac.Name].snapshot(circuitStateString(c.breakers[ac.Name].State())))
	}
	return out
}

// Subscribe delegates to the first healthy adapter that advertises realtime
// support and implements Streamer.
func (c *Composite) Subscribe(ctx context.Context, symbol string, handler BarHandler) error {
	for _, ac := range c.candidates() {
		if !ac.Adapter.Capabilities().SupportsRealtime {
			continue
		}
		streamer, ok := ac.Adapter.(Streamer)
		if !ok {
			continue
		}
		cancel, err := streamer.Subscribe(ctx, symbol, handler)
		if err != nil {
			c.logger.Printf("subscribe via %s failed: %v", ac.Name, err)
			continue
		}
		c.subMu.Lock()
		c.subs = append(c.subs, cancel)
		c.subMu.Unlock()
		return nil
	}
	return models.NewError(models.KindProviderTransport, models.CodeProviderError,
		fmt.Sprintf("no realtime-capable adapter for %s", symbol), nil)
}

// UnsubscribeAll cancels every active subscription.
func (c *Composite) UnsubscribeAll() {
	c.subMu.Lock()
	subs := c.subs
	c.subs = nil
	c.subMu.Unlock()
	for _, cancel := range subs {
		cancel()
	}
}

func circuitStateString(s gobreaker.State) string {
	switch s {
	case gobreaker.StateClosed:
		return "CLOSED"
	case gobreaker.StateHalfOpen:
		return "HALF_OPEN"
	case gobreaker.StateOpen:
		return "OPEN"
	default:
		return "UNKNOWN"
	}
}
