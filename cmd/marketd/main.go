// Package main provides the entry point for the intraday market-analysis
// service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/quantfold/intraday/internal/bias"
	"github.com/quantfold/intraday/internal/cache"
	"github.com/quantfold/intraday/internal/confluence"
	"github.com/quantfold/intraday/internal/config"
	"github.com/quantfold/intraday/internal/models"
	"github.com/quantfold/intraday/internal/orchestrator"
	"github.com/quantfold/intraday/internal/provider"
	"github.com/quantfold/intraday/internal/risk"
	"github.com/quantfold/intraday/internal/sessions"
	"github.com/quantfold/intraday/internal/storage"
	"github.com/quantfold/intraday/internal/webhook"
)

// Exit codes shared with the CLI integration contract.
const (
	exitOK          = 0
	exitGeneric     = 1
	exitBadArgs     = 2
	exitProviderErr = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	var configPath string
	var interval time.Duration
	var once bool
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.DurationVar(&interval, "interval", 5*time.Minute, "Delay between analysis runs")
	flag.BoolVar(&once, "once", false, "Run a single analysis and exit")
	flag.Parse()

	// Optional .env for local development; a missing file is fine.
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Printf("Failed to load config: %v", err)
		return exitBadArgs
	}

	logger := log.New(os.Stdout, "[marketd] ", log.LstdFlags|log.Lshortfile)
	logger.Printf("starting in %s mode, symbol %s %s",
		cfg.Environment.Mode, cfg.Analysis.Symbol, cfg.Analysis.Timeframe)
	if cfg.IsPaperTrading() {
		logger.Println("paper mode: fixture providers may stand in for live data")
	}

	httpLogger := logrus.New()
	if level, err := logrus.ParseLevel(strings.ToLower(cfg.Environment.LogLevel)); err == nil {
		httpLogger.SetLevel(level)
	}

	svc, err := buildService(cfg, logger, httpLogger)
	if err != nil {
		logger.Printf("failed to build service: %v", err)
		if models.KindOf(err) == models.KindConfiguration {
			return exitBadArgs
		}
		return exitProviderErr
	}
	defer svc.store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if once {
		if err := svc.runAnalysis(ctx); err != nil {
			logger.Printf("analysis failed: %v", err)
			if models.KindOf(err) == models.KindProviderTransport {
				return exitProviderErr
			}
			return exitGeneric
		}
		return exitOK
	}

	g, gctx := errgroup.WithContext(ctx)
	if svc.webhookServer != nil {
		g.Go(func() error { return svc.webhookServer.Start(gctx) })
	}
	g.Go(func() error { return svc.loop(gctx, interval) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Printf("service stopped: %v", err)
		return exitGeneric
	}
	logger.Println("shutdown complete")
	return exitOK
}

// service holds the wired component graph.
type service struct {
	cfg           *config.Config
	logger        *log.Logger
	store         *cache.Memory
	orch          *orchestrator.Orchestrator
	webhookServer *webhook.Server
}

func buildService(cfg *config.Config, logger *log.Logger, httpLogger *logrus.Logger) (*service, error) {
	store := cache.NewMemory(cfg.CacheSweepInterval())

	adapters := make([]provider.AdapterConfig, 0, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		var impl provider.Provider
		switch pc.Type {
		case "http":
			httpProvider, err := provider.NewHTTPProvider(provider.HTTPProviderConfig{
				Name:    pc.Name,
				BaseURL: pc.BaseURL,
				APIKey:  pc.APIKey,
				Timeout: pc.ProviderTimeout(),
			})
			if err != nil {
				store.Close()
				return nil, err
			}
			impl = httpProvider
		case "fixture":
			impl = seedFixture(pc.Name, cfg)
		}
		adapters = append(adapters, provider.AdapterConfig{
			Name:            pc.Name,
			Adapter:         impl,
			Priority:        pc.Priority,
			Timeout:         pc.ProviderTimeout(),
			HealthThreshold: pc.HealthThreshold,
			FallbackOnly:    pc.FallbackOnly,
		})
	}

	composite, err := provider.NewComposite(adapters,
		provider.RetryPolicy{
			MaxAttempts:     cfg.Retry.MaxAttempts,
			InitialDelay:    cfg.RetryInitialDelay(),
			MaxDelay:        cfg.RetryMaxDelay(),
			ExponentialBase: cfg.Retry.ExponentialBase,
			Jitter:          cfg.RetryJitter(),
		},
		provider.BreakerPolicy{
			Threshold:      cfg.Breaker.Threshold,
			Reset:          cfg.BreakerReset(),
			HalfOpenProbes: cfg.Breaker.HalfOpenProbes,
			MinSamples:     cfg.Breaker.MinSamples,
		},
		store, logger,
		provider.WithTTLOverrides(cfg.CacheTTLOverrides()))
	if err != nil {
		store.Close()
		return nil, err
	}

	journal, err := storage.NewJSONStorage(cfg.Storage.Path)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("opening trade journal: %w", err)
	}

	confEngine, err := confluence.NewEngine(confluence.Config{
		FVG: confluence.FVGOptions{
			MinGapSize: cfg.Analysis.Confluence.MinGapSize,
			ATRUnits:   cfg.Analysis.Confluence.ATRUnits,
			ATRPeriod:  cfg.Analysis.Confluence.ATRPeriod,
		},
		OrderBlocks: confluence.OrderBlockOptions{
			MoveThreshold: cfg.Analysis.Confluence.MoveThreshold,
			MoveMaxBars:   cfg.Analysis.Confluence.MoveMaxBars,
		},
		Weights:           cfg.Analysis.Confluence.Weights,
		ReferenceStrength: cfg.Analysis.Confluence.ReferenceStrength,
	}, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	biasEngine := bias.NewEngine(bias.Config{
		SwingLookback:          cfg.Analysis.SwingLookback,
		BOSConfirmationCandles: cfg.Analysis.BOSConfirmationCandles,
	}, logger)

	dailyStop, err := risk.NewDailyStop(risk.DailyStopConfig{
		MaxLossPercent:       cfg.Risk.MaxLossPercent,
		MaxLossAmount:        cfg.Risk.MaxLossAmount,
		MaxConsecutiveLosses: cfg.Risk.MaxConsecutiveLosses,
		IncludeFees:          cfg.Risk.IncludeFees,
		Timezone:             cfg.Risk.AccountTimezone,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	calendar := sessions.NewCalendar(sessionsConfig(cfg))

	exitLevels := make([]risk.ExitLevel, 0, len(cfg.Risk.ExitLevels))
	for _, l := range cfg.Risk.ExitLevels {
		exitLevels = append(exitLevels, risk.ExitLevel{Trigger: l.Trigger, ExitPercent: l.ExitPercent})
	}

	orch, err := orchestrator.New(composite, store, journal, calendar, confEngine, biasEngine, dailyStop,
		orchestrator.Config{
			WindowBars:   cfg.Analysis.WindowBars,
			AuxTimeframe: models.Timeframe(cfg.Analysis.AuxTimeframe),
			Balance:      cfg.Risk.Balance,
			Sizing: risk.SizingConfig{
				MaxRiskPercent:     cfg.Risk.MaxRiskPercent,
				MaxPositionPercent: cfg.Risk.MaxPositionPercent,
				LotSize:            cfg.Risk.LotSize,
				UseKelly:           cfg.Risk.UseKelly,
				KellyFraction:      cfg.Risk.KellyFraction,
			},
			ExitStrategy: risk.ExitStrategy(cfg.Risk.ExitStrategy),
			ExitLevels:   exitLevels,
		}, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	svc := &service{
		cfg:    cfg,
		logger: logger,
		store:  store,
		orch:   orch,
	}

	if cfg.Webhook.Enabled {
		server, err := webhook.NewServer(webhook.Config{
			Path:                cfg.Webhook.Path,
			Port:                cfg.Webhook.Port,
			Secret:              cfg.Webhook.Secret,
			RateLimitPerMinute:  cfg.Webhook.RateLimitPerMinute,
			RateLimitPerHour:    cfg.Webhook.RateLimitPerHour,
			DeduplicationWindow: cfg.DedupWindow(),
		}, orch, func() any { return composite.HealthReport() }, httpLogger)
		if err != nil {
			store.Close()
			return nil, err
		}
		svc.webhookServer = server
	}

	return svc, nil
}

// seedFixture backs paper mode with a deterministic synthetic series for the
// configured symbol.
func seedFixture(name string, cfg *config.Config) provider.Provider {
	fixture := provider.NewFixtureProvider(name)
	sym, err := models.NormalizeSymbol(cfg.Analysis.Symbol)
	if err != nil {
		return fixture
	}
	tf, err := models.ParseTimeframe(cfg.Analysis.Timeframe)
	if err != nil {
		return fixture
	}

	n := cfg.Analysis.WindowBars * 3
	start := tf.Floor(time.Now().UTC().Add(-time.Duration(n) * tf.Duration()))
	fixture.Load(sym.Canonical, tf,
		provider.GenerateTrend(start, tf, n, 500, 0.05, 0.2, 1))
	return fixture
}

func sessionsConfig(cfg *config.Config) sessions.Config {
	out := sessions.Config{}
	for _, s := range cfg.Sessions.Sessions {
		out.Sessions = append(out.Sessions, sessions.Spec{Name: s.Name, Start: s.Start, End: s.End})
	}
	out.RTH = sessions.Spec{Name: cfg.Sessions.RTH.Name, Start: cfg.Sessions.RTH.Start, End: cfg.Sessions.RTH.End}
	return out
}

// runAnalysis executes one orchestrated run and logs the headline results.
func (s *service) runAnalysis(ctx context.Context) error {
	tf, err := models.ParseTimeframe(s.cfg.Analysis.Timeframe)
	if err != nil {
		return err
	}

	report, err := s.orch.Analyze(ctx, orchestrator.Request{
		Symbol:    s.cfg.Analysis.Symbol,
		Timeframe: tf,
	})
	if err != nil {
		return err
	}

	s.logger.Printf("analysis %s %s: success=%v cacheHit=%v bars=%d",
		report.Symbol, report.Timeframe, report.Success, report.CacheHit,
		report.Statistics.BarsAnalyzed)
	if report.Bias != nil {
		s.logger.Printf("  bias=%s structure=%s", report.Bias.Label, report.Bias.Structure)
	}
	if report.Confluence != nil {
		s.logger.Printf("  confluence score=%.1f zones=%d blocks=%d overlaps=%d",
			report.Confluence.Score, len(report.Confluence.FVGZones),
			len(report.Confluence.OrderBlocks), len(report.Confluence.Overlaps))
	}
	if report.Plan != nil {
		s.logger.Printf("  plan %s size=%d entry=%.2f stop=%.2f target=%.2f rr=%.2f",
			report.Plan.Direction, report.Plan.PositionSize, report.Plan.EntryPrice,
			report.Plan.StopLoss, report.Plan.TakeProfit, report.Plan.RRRatio)
	}
	for _, w := range report.Warnings {
		s.logger.Printf("  warning: %s", w)
	}
	return nil
}

// loop runs analyses on the interval until the context ends.
func (s *service) loop(ctx context.Context, interval time.Duration) error {
	if err := s.runAnalysis(ctx); err != nil {
		s.logger.Printf("analysis failed: %v", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.runAnalysis(ctx); err != nil {
				s.logger.Printf("analysis failed: %v", err)
			}
		}
	}
}
