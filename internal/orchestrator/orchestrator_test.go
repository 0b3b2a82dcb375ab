package orchestrator

import (
	"context"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/intraday/internal/bias"
	"github.com/quantfold/intraday/internal/cache"
	"github.com/quantfold/intraday/internal/confluence"
	"github.com/quantfold/intraday/internal/models"
	"github.com/quantfold/intraday/internal/provider"
	"github.com/quantfold/intraday/internal/risk"
	"github.com/quantfold/intraday/internal/sessions"
	"github.com/quantfold/intraday/internal/storage"
	"github.com/quantfold/intraday/internal/webhook"
)

// bullTrendBars builds 78 five-minute bars in a rising stair-step: seven up
// bars then a shallow three-bar pullback, with one displacement thrust that
// leaves a bullish fair value gap behind.
func bullTrendBars(start time.Time) []models.Bar {
	out := make([]models.Bar, 0, 78)
	price := 500.0
	for i := 0; i < 78; i++ {
		var o, c float64
		switch {
		case i == 41:
			// Displacement thrust: gaps the next bar's low over bar 40's high.
			o, c = price, price+1.5
		case i%10 < 7:
			o, c = price, price+0.4
		default:
			o, c = price, price-0.2
		}
		h, l := o, o
		if c > h {
			h = c
		}
		if c < l {
			l = c
		}
		out = append(out, models.Bar{
			Timestamp: start.Add(time.Duration(i) * 5 * time.Minute),
			Open:      o,
			High:      h + 0.05 + 0.001*float64(i),
			Low:       l - 0.05 - 0.001*float64(i),
			Close:     c,
			Volume:    1000,
		})
		price = c
	}
	return out
}

func newTestOrchestrator(t *testing.T, window []models.Bar, journal storage.Interface) (*Orchestrator, *provider.FixtureProvider, *cache.Memory) {
	t.Helper()

	fixture := provider.NewFixtureProvider("fixture").Load("SPY", models.TimeframeM5, window)
	store := cache.NewMemory(0)
	t.Cleanup(store.Close)

	composite, err := provider.NewComposite(
		[]provider.AdapterConfig{{Name: "fixture", Adapter: fixture, Priority: 1}},
		provider.DefaultRetryPolicy, provider.DefaultBreakerPolicy, store, log.Default())
	require.NoError(t, err)

	confEngine, err := confluence.NewEngine(confluence.Config{
		OrderBlocks:       confluence.OrderBlockOptions{MoveThreshold: 1.0, MoveMaxBars: 5},
		ReferenceStrength: 0.5,
	}, nil)
	require.NoError(t, err)

	biasEngine := bias.NewEngine(bias.Config{SwingLookback: 3}, nil)

	dailyStop, err := risk.NewDailyStop(risk.DailyStopConfig{MaxLossPercent: 3})
	require.NoError(t, err)

	orch, err := New(composite, store, journal, sessions.NewCalendar(sessions.Config{}),
		confEngine, biasEngine, dailyStop, Config{
			WindowBars: 78,
			Balance:    10000,
			Sizing:     risk.SizingConfig{MaxRiskPercent: 1, MaxPositionPercent: 100, LotSize: 1},
		}, log.Default())
	require.NoError(t, err)
	return orch, fixture, store
}

func TestAnalyze_BullishTrendScenario(t *testing.T) {
	start := time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC) // 09:30 ET
	window := bullTrendBars(start)
	ts := window[len(window)-1].Timestamp

	journal := storage.NewMemoryStorage()
	orch, fixture, _ := newTestOrchestrator(t, window, journal)

	report, err := orch.Analyze(context.Background(), Request{
		Symbol: "spy", Timeframe: models.TimeframeM5, Timestamp: ts,
	})
	require.NoError(t, err)
	require.True(t, report.Success)
	assert.False(t, report.CacheHit)
	assert.Equal(t, "SPY", report.Symbol)
	assert.Equal(t, "2024-03-05", report.Date)

	// Bias: rising structure reads long.
	require.NotNil(t, report.Bias)
	assert.Contains(t, []bias.Label{bias.LabelLong, bias.LabelLongIntoEQ}, report.Bias.Label)

	// Confluence: the displacement thrust left at least one bullish gap.
	require.NotNil(t, report.Confluence)
	bullishGaps := 0
	for _, z := range report.Confluence.FVGZones {
		if z.Direction == confluence.Bullish {
			bullishGaps++
		}
	}
	assert.GreaterOrEqual(t, bullishGaps, 1)

	// Execution plan: long with a healthy reward ratio.
	require.NotNil(t, report.Plan)
	assert.Equal(t, risk.Long, report.Plan.Direction)
	assert.GreaterOrEqual(t, report.Plan.RRRatio, 1.5)
	assert.True(t, report.Plan.StopLoss < report.Plan.EntryPrice &&
		report.Plan.EntryPrice < report.Plan.TakeProfit)

	assert.Equal(t, 78, report.Statistics.BarsAnalyzed)
	assert.Equal(t, window[77].Close, report.Statistics.Range.Close)

	// Repeat inside the TTL: served from the report cache without refetching.
	calls := fixture.Calls()
	again, err := orch.Analyze(context.Background(), Request{
		Symbol: "SPY", Timeframe: models.TimeframeM5, Timestamp: ts,
	})
	require.NoError(t, err)
	assert.True(t, again.CacheHit)
	assert.Equal(t, calls, fixture.Calls())
	assert.Equal(t, report.Bias.Label, again.Bias.Label)
	assert.Equal(t, report.Plan.PositionSize, again.Plan.PositionSize)
}

func TestAnalyze_InsufficientPrimaryBars(t *testing.T) {
	start := time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC)
	window := bullTrendBars(start)[:2]

	orch, _, _ := newTestOrchestrator(t, window, nil)

	_, err := orch.Analyze(context.Background(), Request{
		Symbol: "SPY", Timeframe: models.TimeframeM5, Timestamp: start.Add(time.Hour),
	})
	require.Error(t, err)
	assert.Equal(t, models.CodeMissingData, models.CodeOf(err))
	assert.Equal(t, models.KindInsufficientBars, models.KindOf(err))
}

func TestAnalyze_DailyStopSection(t *testing.T) {
	start := time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC)
	window := bullTrendBars(start)
	ts := window[len(window)-1].Timestamp

	journal := storage.NewMemoryStorage()
	// Two losers today: 310 of the 300 daily budget is gone.
	for i, pnl := range []float64{-150, -160} {
		require.NoError(t, journal.RecordTrade(models.TradeRecord{
			ID: string(rune('a' + i)), Symbol: "SPY", PnL: pnl,
			ClosedAt: ts.Add(-time.Duration(i+1) * time.Hour),
		}))
	}

	orch, _, _ := newTestOrchestrator(t, window, journal)

	report, err := orch.Analyze(context.Background(), Request{
		Symbol: "SPY", Timeframe: models.TimeframeM5, Timestamp: ts,
	})
	require.NoError(t, err)
	require.NotNil(t, report.DailyStop)
	assert.InDelta(t, 310, report.DailyStop.RealizedLoss, 1e-9)
	assert.True(t, report.DailyStop.IsLimitReached)
	assert.False(t, risk.CanTakeNewTrade(*report.DailyStop, 50))
	assert.Contains(t, report.Warnings, "daily loss limit reached: no new trades")
}

func TestAnalyze_Cancellation(t *testing.T) {
	start := time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC)
	window := bullTrendBars(start)

	orch, _, _ := newTestOrchestrator(t, window, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := orch.Analyze(ctx, Request{
		Symbol: "SPY", Timeframe: models.TimeframeM5, Timestamp: window[77].Timestamp,
	})
	require.Error(t, err, "cancelled context must not yield a partial report")
}

func TestHandleAlert_DispatchesIntoPipeline(t *testing.T) {
	start := time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC)
	window := bullTrendBars(start)
	ts := window[len(window)-1].Timestamp

	orch, _, _ := newTestOrchestrator(t, window, storage.NewMemoryStorage())

	err := orch.HandleAlert(context.Background(), webhook.Alert{
		ID: "a-1", Symbol: "SPY", Type: "momentum",
		Timeframe: models.TimeframeM5, Timestamp: ts,
	})
	require.NoError(t, err)

	err = orch.HandleAlert(context.Background(), webhook.Alert{
		ID: "a-2", Symbol: "SPY", Type: "momentum",
		Timeframe: "7m", Timestamp: ts,
	})
	require.Error(t, err, "bad timeframe surfaces as an analysis error")
}
