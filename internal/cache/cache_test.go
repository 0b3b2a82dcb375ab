package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/intraday/internal/models"
)

func TestMemory_SetGetExpire(t *testing.T) {
	m := NewMemory(0)
	defer m.Close()

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	m.Set("k", "v", time.Minute)
	got, ok := m.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", got)

	// Advance past expiry: first access deletes and misses.
	now = now.Add(61 * time.Second)
	_, ok = m.Get("k")
	assert.False(t, ok)

	stats := m.Snapshot()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 0, stats.Items, "expired entry deleted on access")
}

func TestMemory_NonPositiveTTLIgnored(t *testing.T) {
	m := NewMemory(0)
	defer m.Close()

	m.Set("k", "v", 0)
	_, ok := m.Get("k")
	assert.False(t, ok)
}

func TestMemory_DeleteAndFlush(t *testing.T) {
	m := NewMemory(0)
	defer m.Close()

	m.Set("a", 1, time.Minute)
	m.Set("b", 2, time.Minute)
	m.Delete("a")
	_, ok := m.Get("a")
	assert.False(t, ok)

	m.FlushAll()
	_, ok = m.Get("b")
	assert.False(t, ok)
}

func TestMemory_ConcurrentLastWriterWins(t *testing.T) {
	m := NewMemory(0)
	defer m.Close()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			m.Set("k", v, time.Minute)
			m.Get("k")
		}(i)
	}
	wg.Wait()

	got, ok := m.Get("k")
	require.True(t, ok)
	assert.IsType(t, 0, got, "value must be one of the written ints, not corrupted")
}

func TestTTLFor(t *testing.T) {
	assert.Equal(t, time.Minute, TTLFor(models.TimeframeM1, nil))
	assert.Equal(t, 5*time.Minute, TTLFor(models.TimeframeM5, nil))
	assert.Equal(t, time.Hour, TTLFor(models.TimeframeH1, nil))
	assert.Equal(t, 24*time.Hour, TTLFor(models.TimeframeD1, nil))

	overrides := map[models.Timeframe]time.Duration{models.TimeframeM5: 90 * time.Second}
	assert.Equal(t, 90*time.Second, TTLFor(models.TimeframeM5, overrides))
}

func TestBarsKeySchema(t *testing.T) {
	from := time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)
	to := time.Date(2024, 3, 1, 21, 0, 0, 0, time.UTC)

	key := BarsKey("SPY", models.TimeframeM5, from, to, 78)
	assert.Equal(t, "composite:bars:SPY:5m:2024-03-01T14:30:00Z:2024-03-01T21:00:00Z:78", key)

	key = BarsKey("ES", models.TimeframeH1, time.Time{}, time.Time{}, 0)
	assert.Equal(t, "composite:bars:ES:1h:null:null:null", key)
}

func TestReportKeyAndConfigHash(t *testing.T) {
	h1 := ConfigHash(map[string]int{"a": 1})
	h2 := ConfigHash(map[string]int{"a": 2})
	assert.NotEqual(t, h1, h2)
	assert.Len(t, h1, 12)

	key := ReportKey("confluence", "SPY", models.TimeframeM5, "2024-03-01", h1)
	assert.Equal(t, "confluence:SPY:5m:2024-03-01:"+h1+":v1", key)
}

func coverageBars(start time.Time, n int, tf models.Timeframe, skip map[int]bool) []models.Bar {
	var out []models.Bar
	for i := 0; i < n; i++ {
		if skip[i] {
			continue
		}
		out = append(out, models.Bar{
			Timestamp: start.Add(time.Duration(i) * tf.Duration()),
			Open:      1, High: 1, Low: 1, Close: 1, Volume: 1,
		})
	}
	return out
}

func TestRangeCovered(t *testing.T) {
	start := time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)
	tf := models.TimeframeM5
	end := start.Add(19 * tf.Duration()) // 20 expected bars

	full := coverageBars(start, 20, tf, nil)
	assert.True(t, RangeCovered(full, start, end, tf, 0.9))

	// Missing two bars at the tail: 18/20 = 90%, still contiguous inside.
	tail := coverageBars(start, 18, tf, nil)
	assert.True(t, RangeCovered(tail, start, end, tf, 0.9))

	// Interior gap disqualifies regardless of ratio.
	gapped := coverageBars(start, 20, tf, map[int]bool{10: true})
	assert.False(t, RangeCovered(gapped, start, end, tf, 0.9))

	// Too short.
	short := coverageBars(start, 10, tf, nil)
	assert.False(t, RangeCovered(short, start, end, tf, 0.9))

	assert.False(t, RangeCovered(nil, start, end, tf, 0.9))
}
