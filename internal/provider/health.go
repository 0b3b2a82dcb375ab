package provider

import (
	"sync"
	"time"
)

// emaAlpha is the smoothing factor for the success-rate and latency EMAs.
const emaAlpha = 0.1

// Health is a lock-free snapshot of one adapter's tracked state.
type Health struct {
	Name           string    `json:"name"`
	SuccessRateEMA float64   `json:"success_rate_ema"` // 0..100
	AvgLatencyEMA  float64   `json:"avg_latency_ema_ms"`
	CircuitState   string    `json:"circuit_state"` // CLOSED | HALF_OPEN | OPEN
	LastErrorAt    time.Time `json:"last_error_at,omitempty"`
	LastSuccessAt  time.Time `json:"last_success_at,omitempty"`
}

// tracker accumulates per-adapter health EMAs. Updates take the write lock;
// reads copy a snapshot.
type tracker struct {
	mu            sync.RWMutex
	name          string
	successEMA    float64
	latencyEMA    float64
	samples       int
	lastErrorAt   time.Time
	lastSuccessAt time.Time
	now           func() time.Time
}

func newTracker(name string) *tracker {
	return &tracker{name: name, now: time.Now}
}

// record folds one attempt outcome into the EMAs. The first sample seeds the
// averages directly.
func (t *tracker) record(success bool, latency time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	obs := 0.0
	if success {
		obs = 100.0
	}
	latMs := float64(latency.Milliseconds())

	if t.samples == 0 {
		t.successEMA = obs
		t.latencyEMA = latMs
	} else {
		t.successEMA = emaAlpha*obs + (1-emaAlpha)*t.successEMA
		t.latencyEMA = emaAlpha*latMs + (1-emaAlpha)*t.latencyEMA
	}
	t.samples++

	if success {
		t.lastSuccessAt = t.now()
	} else {
		t.lastErrorAt = t.now()
	}
}

// successRate returns the current EMA on the 0..100 scale. An untouched
// tracker reports 100 so new adapters are not filtered before first use.
func (t *tracker) successRate() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.samples == 0 {
		return 100.0
	}
	return t.successEMA
}

func (t *tracker) snapshot(circuitState string) Health {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ema := t.successEMA
	if t.samples == 0 {
		ema = 100.0
	}
	return Health{
		Name:           t.name,
		SuccessRateEMA: ema,
		AvgLatencyEMA:  t.latencyEMA,
		CircuitState:   circuitState,
		LastErrorAt:    t.lastErrorAt,
		LastSuccessAt:  t.lastSuccessAt,
	}
}
