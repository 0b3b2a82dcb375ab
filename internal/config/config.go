// Package config provides configuration management for the market-analysis
// service.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"

	"github.com/quantfold/intraday/internal/models"
)

// Defaults applied by Normalize.
const (
	defaultSwingLookback   = 5
	defaultBOSConfirmation = 2
	defaultMaxRiskPercent  = 1.0
	defaultMaxPositionPct  = 25.0
	defaultMaxLossPercent  = 3.0
	defaultWebhookPort     = 9310
	defaultCacheSweep      = "1m"
	defaultCoverage        = 0.90
)

// Config represents the complete application configuration. Duration-valued
// settings are strings in time.ParseDuration syntax.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Providers   []ProviderConfig  `yaml:"providers"`
	Retry       RetryConfig       `yaml:"retry"`
	Breaker     BreakerConfig     `yaml:"circuit_breaker"`
	Cache       CacheConfig       `yaml:"cache"`
	Analysis    AnalysisConfig    `yaml:"analysis"`
	Risk        RiskConfig        `yaml:"risk"`
	Sessions    SessionsConfig    `yaml:"sessions"`
	Webhook     WebhookConfig     `yaml:"webhook"`
	Storage     StorageConfig     `yaml:"storage"`
}

// EnvironmentConfig defines the runtime environment settings.
type EnvironmentConfig struct {
	Mode     string `yaml:"mode"`      // paper | live
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
}

// ProviderConfig declares one upstream adapter in the composite chain.
type ProviderConfig struct {
	Name            string `yaml:"name"`
	Type            string `yaml:"type"` // http | fixture
	BaseURL         string `yaml:"base_url"`
	APIKey          string `yaml:"api_key"`
	Priority        int    `yaml:"priority"`
	Timeout         string `yaml:"timeout"`
	HealthThreshold float64 `yaml:"health_threshold"`
	FallbackOnly    bool   `yaml:"fallback_only"`
}

// RetryConfig tunes per-adapter retries.
type RetryConfig struct {
	MaxAttempts     int     `yaml:"max_attempts"`
	InitialDelay    string  `yaml:"initial_delay"`
	MaxDelay        string  `yaml:"max_delay"`
	ExponentialBase float64 `yaml:"exponential_base"`
	Jitter          string  `yaml:"jitter"`
}

// BreakerConfig tunes the per-adapter circuit breakers.
type BreakerConfig struct {
	Threshold      float64 `yaml:"threshold"`
	Reset          string  `yaml:"reset"`
	HalfOpenProbes int     `yaml:"half_open_probes"`
	MinSamples     int     `yaml:"min_samples"`
}

// CacheConfig tunes the TTL store.
type CacheConfig struct {
	SweepInterval     string            `yaml:"sweep_interval"`
	CoverageThreshold float64           `yaml:"coverage_threshold"`
	TTLOverrides      map[string]string `yaml:"ttl_overrides"` // timeframe -> duration
}

// AnalysisConfig drives the orchestrated analyses.
type AnalysisConfig struct {
	Symbol                 string             `yaml:"symbol"`
	Timeframe              string             `yaml:"timeframe"`
	AuxTimeframe           string             `yaml:"aux_timeframe"`
	WindowBars             int                `yaml:"window_bars"`
	SwingLookback          int                `yaml:"swing_lookback"`
	BOSConfirmationCandles int                `yaml:"bos_confirmation_candles"`
	Confluence             ConfluenceConfig   `yaml:"confluence"`
}

// ConfluenceConfig tunes the confluence engine.
type ConfluenceConfig struct {
	MinGapSize        float64            `yaml:"min_gap_size"`
	ATRUnits          bool               `yaml:"atr_units"`
	ATRPeriod         int                `yaml:"atr_period"`
	MoveThreshold     float64            `yaml:"move_threshold"`
	MoveMaxBars       int                `yaml:"move_max_bars"`
	ReferenceStrength float64            `yaml:"reference_strength"`
	Weights           map[string]float64 `yaml:"weights"`
}

// RiskConfig defines sizing, exits, and the daily stop.
type RiskConfig struct {
	Balance              float64     `yaml:"balance"`
	MaxRiskPercent       float64     `yaml:"max_risk_percent"`
	MaxPositionPercent   float64     `yaml:"max_position_percent"`
	LotSize              int         `yaml:"lot_size"`
	UseKelly             bool        `yaml:"use_kelly"`
	KellyFraction        float64     `yaml:"kelly_fraction"`
	ExitStrategy         string      `yaml:"exit_strategy"`
	ExitLevels           []ExitLevel `yaml:"exit_levels"`
	MaxLossPercent       float64     `yaml:"max_loss_percent"`
	MaxLossAmount        float64     `yaml:"max_loss_amount"`
	MaxConsecutiveLosses int         `yaml:"max_consecutive_losses"`
	IncludeFees          bool        `yaml:"include_fees"`
	AccountTimezone      string      `yaml:"account_timezone"`
}

// ExitLevel is one partial-exit rung.
type ExitLevel struct {
	Trigger     float64 `yaml:"trigger"`
	ExitPercent float64 `yaml:"exit_percent"`
}

// SessionsConfig overrides the default session layout.
type SessionsConfig struct {
	Sessions []SessionSpec `yaml:"sessions"`
	RTH      SessionSpec   `yaml:"rth"`
}

// SessionSpec is one named wall-clock session window.
type SessionSpec struct {
	Name  string `yaml:"name"`
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

// WebhookConfig defines the ingest endpoint settings.
type WebhookConfig struct {
	Enabled             bool   `yaml:"enabled"`
	Path                string `yaml:"path"`
	Port                int    `yaml:"port"`
	Secret              string `yaml:"secret"`
	RateLimitPerMinute  int    `yaml:"rate_limit_per_minute"`
	RateLimitPerHour    int    `yaml:"rate_limit_per_hour"`
	DeduplicationWindow string `yaml:"deduplication_window"`
}

// StorageConfig defines trade journal settings.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// Load reads and parses the configuration file from the specified path.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file %q: %w", configPath, err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config %q: %w", configPath, err)
	}

	config.Normalize()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Normalize sets default values for configuration fields.
func (c *Config) Normalize() {
	if strings.TrimSpace(c.Environment.Mode) == "" {
		c.Environment.Mode = "paper"
	}
	if strings.TrimSpace(c.Environment.LogLevel) == "" {
		c.Environment.LogLevel = "info"
	}

	if c.Analysis.Timeframe == "" {
		c.Analysis.Timeframe = models.TimeframeM5.String()
	}
	if c.Analysis.WindowBars == 0 {
		c.Analysis.WindowBars = 120
	}
	if c.Analysis.SwingLookback == 0 {
		c.Analysis.SwingLookback = defaultSwingLookback
	}
	if c.Analysis.BOSConfirmationCandles == 0 {
		c.Analysis.BOSConfirmationCandles = defaultBOSConfirmation
	}
	if c.Analysis.Confluence.MoveThreshold == 0 {
		c.Analysis.Confluence.MoveThreshold = 1.0
	}
	if c.Analysis.Confluence.ReferenceStrength == 0 {
		c.Analysis.Confluence.ReferenceStrength = 1.0
	}

	if c.Risk.MaxRiskPercent == 0 {
		c.Risk.MaxRiskPercent = defaultMaxRiskPercent
	}
	if c.Risk.MaxPositionPercent == 0 {
		c.Risk.MaxPositionPercent = defaultMaxPositionPct
	}
	if c.Risk.LotSize == 0 {
		c.Risk.LotSize = 1
	}
	if c.Risk.KellyFraction == 0 {
		c.Risk.KellyFraction = 0.25
	}
	if c.Risk.MaxLossPercent == 0 {
		c.Risk.MaxLossPercent = defaultMaxLossPercent
	}
	if c.Risk.ExitStrategy == "" {
		c.Risk.ExitStrategy = "r-multiple"
	}
	if strings.TrimSpace(c.Risk.AccountTimezone) == "" {
		c.Risk.AccountTimezone = "America/New_York"
	}

	if c.Cache.SweepInterval == "" {
		c.Cache.SweepInterval = defaultCacheSweep
	}
	if c.Cache.CoverageThreshold == 0 {
		c.Cache.CoverageThreshold = defaultCoverage
	}

	if c.Webhook.Port == 0 {
		c.Webhook.Port = defaultWebhookPort
	}
	if c.Webhook.Path == "" {
		c.Webhook.Path = "/webhook"
	}
	if c.Webhook.RateLimitPerMinute == 0 {
		c.Webhook.RateLimitPerMinute = 60
	}
	if c.Webhook.RateLimitPerHour == 0 {
		c.Webhook.RateLimitPerHour = 600
	}
	if c.Webhook.DeduplicationWindow == "" {
		c.Webhook.DeduplicationWindow = "5m"
	}

	if strings.TrimSpace(c.Storage.Path) == "" {
		c.Storage.Path = "data/journal.json"
	}
}

// Validate checks that all configuration values are valid and consistent.
func (c *Config) Validate() error {
	if c.Environment.Mode != "paper" && c.Environment.Mode != "live" {
		return fmt.Errorf("environment.mode must be 'paper' or 'live'")
	}
	switch strings.ToLower(c.Environment.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("environment.log_level must be one of: debug, info, warn, error")
	}

	if len(c.Providers) == 0 {
		return fmt.Errorf("at least one provider is required")
	}
	seen := map[string]bool{}
	for i, p := range c.Providers {
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("providers[%d].name is required", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("providers[%d].name %q is duplicated", i, p.Name)
		}
		seen[p.Name] = true
		switch p.Type {
		case "http":
			if strings.TrimSpace(p.BaseURL) == "" {
				return fmt.Errorf("providers[%d] (%s): base_url is required for http providers", i, p.Name)
			}
		case "fixture":
		default:
			return fmt.Errorf("providers[%d] (%s): type must be 'http' or 'fixture'", i, p.Name)
		}
		if p.Timeout != "" {
			if _, err := parsePositiveDuration(p.Timeout); err != nil {
				return fmt.Errorf("providers[%d] (%s): timeout: %w", i, p.Name, err)
			}
		}
	}

	for name, field := range map[string]string{
		"retry.initial_delay":          c.Retry.InitialDelay,
		"retry.max_delay":              c.Retry.MaxDelay,
		"retry.jitter":                 c.Retry.Jitter,
		"circuit_breaker.reset":        c.Breaker.Reset,
		"cache.sweep_interval":         c.Cache.SweepInterval,
		"webhook.deduplication_window": c.Webhook.DeduplicationWindow,
	} {
		if field == "" {
			continue
		}
		if _, err := time.ParseDuration(strings.TrimSpace(field)); err != nil {
			return fmt.Errorf("%s invalid: %w", name, err)
		}
	}

	if c.Cache.CoverageThreshold < 0 || c.Cache.CoverageThreshold > 1 {
		return fmt.Errorf("cache.coverage_threshold must be in [0,1]")
	}
	for tf, d := range c.Cache.TTLOverrides {
		if _, err := models.ParseTimeframe(tf); err != nil {
			return fmt.Errorf("cache.ttl_overrides: unknown timeframe %q", tf)
		}
		if _, err := parsePositiveDuration(d); err != nil {
			return fmt.Errorf("cache.ttl_overrides[%s]: %w", tf, err)
		}
	}

	if strings.TrimSpace(c.Analysis.Symbol) == "" {
		return fmt.Errorf("analysis.symbol is required")
	}
	if _, err := models.NormalizeSymbol(c.Analysis.Symbol); err != nil {
		return fmt.Errorf("analysis.symbol: %w", err)
	}
	if _, err := models.ParseTimeframe(c.Analysis.Timeframe); err != nil {
		return fmt.Errorf("analysis.timeframe: %w", err)
	}
	if c.Analysis.AuxTimeframe != "" {
		if _, err := models.ParseTimeframe(c.Analysis.AuxTimeframe); err != nil {
			return fmt.Errorf("analysis.aux_timeframe: %w", err)
		}
	}
	if c.Analysis.WindowBars < 0 {
		return fmt.Errorf("analysis.window_bars must be >= 0")
	}
	if len(c.Analysis.Confluence.Weights) > 0 {
		var sum float64
		for _, w := range c.Analysis.Confluence.Weights {
			sum += w
		}
		if sum < 0.99 || sum > 1.01 {
			return fmt.Errorf("analysis.confluence.weights must sum to 1.00 ± 0.01, got %.4f", sum)
		}
	}

	if c.Risk.Balance <= 0 {
		return fmt.Errorf("risk.balance must be > 0")
	}
	if c.Risk.MaxRiskPercent <= 0 || c.Risk.MaxRiskPercent > 100 {
		return fmt.Errorf("risk.max_risk_percent must be in (0,100]")
	}
	if c.Risk.MaxLossPercent <= 0 || c.Risk.MaxLossPercent > 100 {
		return fmt.Errorf("risk.max_loss_percent must be in (0,100]")
	}
	if _, err := time.LoadLocation(c.Risk.AccountTimezone); err != nil {
		return fmt.Errorf("risk.account_timezone: %w", err)
	}

	if c.Webhook.Enabled {
		if strings.TrimSpace(c.Webhook.Secret) == "" {
			return fmt.Errorf("webhook.secret is required when the webhook is enabled")
		}
		if c.Webhook.Port <= 0 || c.Webhook.Port > 65535 {
			return fmt.Errorf("webhook.port must be between 1 and 65535")
		}
	}

	if strings.TrimSpace(c.Storage.Path) == "" {
		return fmt.Errorf("storage.path is required")
	}
	return nil
}

// IsPaperTrading returns true when configured for paper mode.
func (c *Config) IsPaperTrading() bool {
	return c.Environment.Mode == "paper"
}

// Duration accessors with safe fallbacks.

// RetryInitialDelay returns the parsed retry initial delay.
func (c *Config) RetryInitialDelay() time.Duration { return durationOr(c.Retry.InitialDelay, 250*time.Millisecond) }

// RetryMaxDelay returns the parsed retry delay ceiling.
func (c *Config) RetryMaxDelay() time.Duration { return durationOr(c.Retry.MaxDelay, 5*time.Second) }

// RetryJitter returns the parsed retry jitter.
func (c *Config) RetryJitter() time.Duration { return durationOr(c.Retry.Jitter, 100*time.Millisecond) }

// BreakerReset returns the parsed open-circuit reset interval.
func (c *Config) BreakerReset() time.Duration { return durationOr(c.Breaker.Reset, 30*time.Second) }

// CacheSweepInterval returns the parsed janitor interval.
func (c *Config) CacheSweepInterval() time.Duration { return durationOr(c.Cache.SweepInterval, time.Minute) }

// DedupWindow returns the parsed webhook deduplication window.
func (c *Config) DedupWindow() time.Duration { return durationOr(c.Webhook.DeduplicationWindow, 5*time.Minute) }

// ProviderTimeout returns the parsed per-attempt timeout for one provider.
func (p ProviderConfig) ProviderTimeout() time.Duration { return durationOr(p.Timeout, 10*time.Second) }

// CacheTTLOverrides maps the override table into typed durations.
func (c *Config) CacheTTLOverrides() map[models.Timeframe]time.Duration {
	if len(c.Cache.TTLOverrides) == 0 {
		return nil
	}
	out := make(map[models.Timeframe]time.Duration, len(c.Cache.TTLOverrides))
	for tf, d := range c.Cache.TTLOverrides {
		parsed, err := time.ParseDuration(strings.TrimSpace(d))
		if err != nil || parsed <= 0 {
			continue
		}
		out[models.Timeframe(tf)] = parsed
	}
	return out
}

func durationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func parsePositiveDuration(s string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be > 0")
	}
	return d, nil
}
