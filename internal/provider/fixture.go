package provider

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/quantfold/intraday/internal/models"
)

// FixtureProvider serves canned or generated bars without touching the
// network. It backs paper mode and the test suite.
//
// Note: the error script and call counters are guarded by a mutex so tests
// can drive it concurrently through the composite.
type FixtureProvider struct {
	name string
	caps Capabilities

	mu      sync.Mutex
	bars    map[string][]models.Bar // keyed by symbol:timeframe
	script  []error                 // upcoming forced results, consumed per call
	calls   int
	latency time.Duration
}

// NewFixtureProvider creates an empty fixture with full timeframe support.
func NewFixtureProvider(name string) *FixtureProvider {
	return &FixtureProvider{
		name: name,
		caps: Capabilities{
			SupportedTimeframes: models.Timeframes(),
			MaxBarsPerRequest:   10000,
			SupportsRealtime:    false,
		},
		bars: make(map[string][]models.Bar),
	}
}

// WithCapabilities overrides the advertised capability set.
func (f *FixtureProvider) WithCapabilities(caps Capabilities) *FixtureProvider {
	f.caps = caps
	return f
}

// WithLatency makes every call sleep, for timeout tests.
func (f *FixtureProvider) WithLatency(d time.Duration) *FixtureProvider {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.latency = d
	return f
}

// Load seeds bars for a symbol and timeframe.
func (f *FixtureProvider) Load(symbol string, tf models.Timeframe, in []models.Bar) *FixtureProvider {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bars[symbol+":"+tf.String()] = models.NormalizeBars(in)
	return f
}

// FailNext queues forced errors; each GetBars call consumes one entry until
// the script drains, after which real data serves again. A nil entry forces
// one success.
func (f *FixtureProvider) FailNext(errs ...error) *FixtureProvider {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.script = append(f.script, errs...)
	return f
}

// Calls reports how many GetBars invocations the fixture has seen.
func (f *FixtureProvider) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Name implements Provider.
func (f *FixtureProvider) Name() string { return f.name }

// Capabilities implements Provider.
func (f *FixtureProvider) Capabilities() Capabilities { return f.caps }

// GetBars implements Provider.
func (f *FixtureProvider) GetBars(ctx context.Context, req Request) ([]models.Bar, error) {
	f.mu.Lock()
	f.calls++
	var forced error
	haveForced := false
	if len(f.script) > 0 {
		forced = f.script[0]
		f.script = f.script[1:]
		haveForced = true
	}
	latency := f.latency
	stored := f.bars[req.Symbol.Canonical+":"+req.Timeframe.String()]
	f.mu.Unlock()

	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if haveForced && forced != nil {
		return nil, forced
	}

	out := models.ClipBars(stored, req.From, req.To)
	if req.Limit > 0 && len(out) > req.Limit {
		out = out[len(out)-req.Limit:]
	}
	cp := make([]models.Bar, len(out))
	copy(cp, out)
	return cp, nil
}

// ValidateSymbol implements Provider: anything normalizable is valid.
func (f *FixtureProvider) ValidateSymbol(_ context.Context, symbol string) (bool, error) {
	_, err := models.NormalizeSymbol(symbol)
	return err == nil, nil
}

// GenerateTrend produces n bars with a per-bar drift and seeded noise, for
// fixtures and scenario tests. The same seed always yields the same series.
func GenerateTrend(start time.Time, tf models.Timeframe, n int, base, drift, noise float64, seed int64) []models.Bar {
	rng := rand.New(rand.NewSource(seed))
	out := make([]models.Bar, 0, n)

	price := base
	for i := 0; i < n; i++ {
		open := price
		wiggle := (rng.Float64()*2 - 1) * noise
		close := open + drift + wiggle

		high := open
		if close > high {
			high = close
		}
		high += rng.Float64() * noise / 2

		low := open
		if close < low {
			low = close
		}
		low -= rng.Float64() * noise / 2

		out = append(out, models.Bar{
			Timestamp: start.Add(time.Duration(i) * tf.Duration()),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     close,
			Volume:    1000 + float64(rng.Intn(500)),
		})
		price = close
	}
	return out
}
