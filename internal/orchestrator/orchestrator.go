// Package orchestrator composes the end-to-end analysis pipeline: fetch
// through the composite provider, fan the engines out, and assemble the
// report.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quantfold/intraday/internal/bars"
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

// BarSource is the slice of the composite provider the orchestrator needs.
type BarSource interface {
	GetBars(ctx context.Context, req provider.Request) ([]models.Bar, error)
}

// Config parameterizes the pipeline.
type Config struct {
	WindowBars int
	// AuxTimeframe, when set, is fetched alongside the primary window for
	// entry triggers; a short aux window downgrades to a warning.
	AuxTimeframe models.Timeframe
	Balance      float64
	Sizing       risk.SizingConfig
	ExitStrategy risk.ExitStrategy
	ExitLevels   []risk.ExitLevel
	// ATRStopMultiple places the protective stop this many ATRs away.
	ATRStopMultiple float64
	// RewardMultiple places the take profit this many R from entry.
	RewardMultiple float64
	ATRPeriod      int
	ReportTTL      time.Duration
}

// minPrimaryBars is the smallest primary window the engines can work with.
const minPrimaryBars = 3

// Orchestrator wires the provider, cache, engines, journal, and calendar.
type Orchestrator struct {
	source     BarSource
	store      cache.Store
	journal    storage.Interface
	calendar   *sessions.Calendar
	confluence *confluence.Engine
	bias       *bias.Engine
	dailyStop  *risk.DailyStop
	logger     *log.Logger
	cfg        Config
	configHash string
	now        func() time.Time
}

// New builds the orchestrator. Source and both engines are required; store,
// journal, calendar, and dailyStop may be nil, disabling their sections.
func New(
	source BarSource,
	store cache.Store,
	journal storage.Interface,
	calendar *sessions.Calendar,
	confluenceEngine *confluence.Engine,
	biasEngine *bias.Engine,
	dailyStop *risk.DailyStop,
	cfg Config,
	logger *log.Logger,
) (*Orchestrator, error) {
	if source == nil {
		return nil, models.NewError(models.KindConfiguration, models.CodeInvalidArgs,
			"orchestrator requires a bar source", nil)
	}
	if confluenceEngine == nil || biasEngine == nil {
		return nil, models.NewError(models.KindConfiguration, models.CodeInvalidArgs,
			"orchestrator requires both analysis engines", nil)
	}
	if logger == nil {
		logger = log.Default()
	}
	if cfg.WindowBars <= 0 {
		cfg.WindowBars = 120
	}
	if cfg.ATRStopMultiple <= 0 {
		cfg.ATRStopMultiple = 1.5
	}
	if cfg.RewardMultiple <= 0 {
		cfg.RewardMultiple = 2.0
	}
	if cfg.ATRPeriod <= 0 {
		cfg.ATRPeriod = 14
	}

	return &Orchestrator{
		source:     source,
		store:      store,
		journal:    journal,
		calendar:   calendar,
		confluence: confluenceEngine,
		bias:       biasEngine,
		dailyStop:  dailyStop,
		logger:     logger,
		cfg:        cfg,
		configHash: cache.ConfigHash(cfg),
		now:        time.Now,
	}, nil
}

// Request asks for one analysis run.
type Request struct {
	Symbol    string
	Timeframe models.Timeframe
	// Timestamp anchors the analysis window; zero means now.
	Timestamp time.Time
}

// Analyze runs the full pipeline and returns one immutable report.
func (o *Orchestrator) Analyze(ctx context.Context, req Request) (*Report, error) {
	sym, err := models.NormalizeSymbol(req.Symbol)
	if err != nil {
		return nil, err
	}
	if !req.Timeframe.Valid() {
		return nil, models.NewError(models.KindValidation, models.CodeInvalidArgs,
			fmt.Sprintf("unknown timeframe %q", req.Timeframe), nil)
	}

	ts := req.Timestamp
	if ts.IsZero() {
		ts = o.now()
	}
	ts = ts.UTC()
	date := ts.Format("2006-01-02")

	key := cache.ReportKey("analysis", sym.Canonical, req.Timeframe, date, o.configHash)
	if o.store != nil {
		if raw, ok := o.store.Get(key); ok {
			if cached, ok := raw.(*Report); ok {
				cp := *cached
				cp.CacheHit = true
				return &cp, nil
			}
		}
	}

	report := &Report{
		Symbol:    sym.Canonical,
		Timeframe: req.Timeframe,
		Date:      date,
		Timestamp: ts,
	}

	window, err := o.fetchWindow(ctx, sym, req.Timeframe, ts, o.cfg.WindowBars)
	if err != nil {
		return nil, err
	}
	if len(window) < minPrimaryBars {
		return nil, models.WrapError(models.KindInsufficientBars, models.CodeMissingData,
			fmt.Sprintf("primary %s window for %s", req.Timeframe, sym.Canonical),
			&models.InsufficientBarsError{Required: minPrimaryBars, Received: len(window)})
	}

	var aux []models.Bar
	if o.cfg.AuxTimeframe.Valid() {
		aux, err = o.fetchWindow(ctx, sym, o.cfg.AuxTimeframe, ts, o.cfg.WindowBars)
		if err != nil || len(aux) == 0 {
			// Auxiliary data is advisory; analysis continues without it.
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("auxiliary %s window unavailable", o.cfg.AuxTimeframe))
			if err != nil {
				o.logger.Printf("aux fetch for %s failed: %v", sym.Canonical, err)
			}
		}
	}
	report.AuxBars = len(aux)

	var bounds []sessions.Boundary
	if o.calendar != nil {
		bounds, err = o.calendar.BoundariesFor(date, sym.Canonical)
		if err != nil {
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("session boundaries unavailable: %v", err))
		}
	}

	// Confluence and bias are independent; fan them out.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := gctx.Err(); err != nil {
			return err
		}
		report.Confluence = o.confluence.Analyze(sym.Canonical, req.Timeframe, window, ts)
		return nil
	})
	g.Go(func() error {
		if err := gctx.Err(); err != nil {
			return err
		}
		report.Bias = o.bias.DailyBias(sym.Canonical, req.Timeframe, window, ts)
		report.Profile = bias.DayProfile(window, bounds)
		return nil
	})
	if err := g.Wait(); err != nil {
		// Cancellation mid-analysis yields no partial report.
		return nil, models.WrapError(models.KindCancelled, models.CodeInternalError,
			"analysis cancelled", err)
	}

	o.buildPlan(report, window)
	o.buildDailyStop(report, ts)
	report.Statistics = buildStatistics(window, req.Timeframe)
	report.Sessions = bounds

	report.Success = report.Bias != nil || report.Confluence != nil || report.Plan != nil

	if o.store != nil && ctx.Err() == nil {
		ttl := o.cfg.ReportTTL
		if ttl <= 0 {
			ttl = cache.TTLFor(req.Timeframe, nil)
		}
		stored := *report
		o.store.Set(key, &stored, ttl)
	}
	return report, nil
}

func (o *Orchestrator) fetchWindow(ctx context.Context, sym models.Symbol, tf models.Timeframe, ts time.Time, n int) ([]models.Bar, error) {
	from := tf.Floor(ts.Add(-time.Duration(n) * tf.Duration()))
	return o.source.GetBars(ctx, provider.Request{
		Symbol:    sym,
		Timeframe: tf,
		From:      from,
		To:        ts,
		Limit:     n,
	})
}

// buildPlan derives the execution plan from the bias direction and the
// window's ATR. A neutral bias or a plan error downgrades to a warning.
func (o *Orchestrator) buildPlan(report *Report, window []models.Bar) {
	if report.Bias == nil {
		return
	}

	var direction risk.Direction
	switch report.Bias.Label {
	case bias.LabelLong, bias.LabelLongIntoEQ:
		direction = risk.Long
	case bias.LabelShort, bias.LabelShortIntoEQ:
		direction = risk.Short
	default:
		report.Warnings = append(report.Warnings, "neutral bias: no execution plan")
		return
	}

	entry := window[len(window)-1].Close
	atr := bars.ATR(window, o.cfg.ATRPeriod)
	if atr <= 0 {
		report.Warnings = append(report.Warnings, "zero ATR: no execution plan")
		return
	}

	stopDistance := o.cfg.ATRStopMultiple * atr
	var stop, target float64
	if direction == risk.Long {
		stop = entry - stopDistance
		target = entry + o.cfg.RewardMultiple*stopDistance
	} else {
		stop = entry + stopDistance
		target = entry - o.cfg.RewardMultiple*stopDistance
	}

	var stats *risk.TradeStats
	if o.journal != nil {
		s := o.journal.GetStatistics()
		if s.TotalTrades > 0 {
			stats = &risk.TradeStats{
				WinRate:     s.WinRate,
				AverageWin:  s.AverageWin,
				AverageLoss: s.AverageLoss,
			}
		}
	}

	plan, err := risk.BuildPlan(risk.PlanParams{
		Direction:    direction,
		Entry:        entry,
		Stop:         stop,
		TakeProfit:   target,
		Balance:      o.cfg.Balance,
		Stats:        stats,
		Sizing:       o.cfg.Sizing,
		ExitStrategy: o.cfg.ExitStrategy,
		ExitLevels:   o.cfg.ExitLevels,
	}, o.logger)
	if err != nil {
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("execution plan unavailable: %v", err))
		return
	}
	report.Plan = plan
	report.Warnings = append(report.Warnings, plan.Warnings...)
}

func (o *Orchestrator) buildDailyStop(report *Report, ts time.Time) {
	if o.dailyStop == nil || o.journal == nil {
		return
	}
	openRisk := 0.0
	if report.Plan != nil {
		openRisk = report.Plan.RiskAmount
	}
	state := o.dailyStop.Evaluate(o.journal.Trades(), o.cfg.Balance, openRisk, ts)
	report.DailyStop = &state
	if state.IsLimitReached {
		report.Warnings = append(report.Warnings, "daily loss limit reached: no new trades")
	}
}

// HandleAlert implements webhook.Dispatcher by funneling alerts into the
// analytical path.
func (o *Orchestrator) HandleAlert(ctx context.Context, alert webhook.Alert) error {
	_, err := o.Analyze(ctx, Request{
		Symbol:    alert.Symbol,
		Timeframe: alert.Timeframe,
		Timestamp: alert.Timestamp,
	})
	if err != nil {
		return models.WrapError(models.KindAnalysis, models.CodeAnalysisError,
			fmt.Sprintf("alert %s analysis", alert.ID), err)
	}
	return nil
}
