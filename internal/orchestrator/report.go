package orchestrator

import (
	"time"

	"github.com/quantfold/intraday/internal/bias"
	"github.com/quantfold/intraday/internal/confluence"
	"github.com/quantfold/intraday/internal/models"
	"github.com/quantfold/intraday/internal/risk"
	"github.com/quantfold/intraday/internal/sessions"
)

// Report is the assembled output of one analysis run. Reports are immutable
// after return; repeated identical requests inside the cache TTL return an
// equal report flagged CacheHit.
type Report struct {
	Symbol    string           `json:"symbol"`
	Timeframe models.Timeframe `json:"timeframe"`
	Date      string           `json:"date"` // YYYY-MM-DD
	Timestamp time.Time        `json:"timestamp"`
	Success   bool             `json:"success"`
	CacheHit  bool             `json:"cache_hit"`

	Bias       *bias.Result          `json:"bias,omitempty"`
	Profile    *bias.ProfileResult   `json:"profile,omitempty"`
	Confluence *confluence.Report    `json:"confluence,omitempty"`
	Plan       *risk.ExecutionPlan   `json:"plan,omitempty"`
	DailyStop  *risk.DailyStopState  `json:"daily_stop,omitempty"`
	Sessions   []sessions.Boundary   `json:"sessions,omitempty"`
	Statistics ReportStatistics      `json:"statistics"`
	AuxBars    int                   `json:"aux_bars"`
	Warnings   []string              `json:"warnings,omitempty"`
}

// ReportStatistics summarizes the analyzed window.
type ReportStatistics struct {
	BarsAnalyzed int              `json:"bars_analyzed"`
	Timeframe    models.Timeframe `json:"timeframe"`
	Range        PriceRange       `json:"range"`
}

// PriceRange is the window's high, low, and final close.
type PriceRange struct {
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
}

func buildStatistics(window []models.Bar, tf models.Timeframe) ReportStatistics {
	stats := ReportStatistics{BarsAnalyzed: len(window), Timeframe: tf}
	if len(window) == 0 {
		return stats
	}
	stats.Range.High = window[0].High
	stats.Range.Low = window[0].Low
	for _, b := range window[1:] {
		if b.High > stats.Range.High {
			stats.Range.High = b.High
		}
		if b.Low < stats.Range.Low {
			stats.Range.Low = b.Low
		}
	}
	stats.Range.Close = window[len(window)-1].Close
	return stats
}
