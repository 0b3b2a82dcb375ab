// Package risk implements position sizing, partial exit planning, trailing
// stops, and daily loss-limit accounting.
package risk

import (
	"fmt"
	"log"
	"math"

	"github.com/quantfold/intraday/internal/models"
	"github.com/quantfold/intraday/internal/util"
)

// Direction is the planned trade side.
type Direction string

const (
	// Long plans a buy entry.
	Long Direction = "long"
	// Short plans a sell entry.
	Short Direction = "short"
)

// SizingConfig tunes position sizing.
type SizingConfig struct {
	// MaxRiskPercent is the account fraction risked per trade, in percent.
	MaxRiskPercent float64
	// MaxPositionPercent caps notional exposure as a percent of balance.
	MaxPositionPercent float64
	// LotSize rounds the share count down to a multiple.
	LotSize int
	// KellyFraction scales the raw Kelly optimum; quarter-Kelly by default.
	KellyFraction float64
	// UseKelly enables Kelly sizing when win/loss statistics are available.
	UseKelly bool
}

// kellyCap bounds the scaled Kelly fraction.
const kellyCap = 0.25

// DefaultSizingConfig risks 1% per trade with a 25% notional cap.
var DefaultSizingConfig = SizingConfig{
	MaxRiskPercent:     1.0,
	MaxPositionPercent: 25.0,
	LotSize:            1,
	KellyFraction:      0.25,
}

// TradeStats carries the journal-derived inputs for Kelly sizing.
type TradeStats struct {
	WinRate     float64 // 0..1
	AverageWin  float64 // mean winning PnL, positive
	AverageLoss float64 // mean losing PnL magnitude, positive
}

// valid reports whether the stats can feed the Kelly formula.
func (s TradeStats) valid() bool {
	return s.WinRate > 0 && s.WinRate < 1 && s.AverageWin > 0 && s.AverageLoss > 0
}

// SizeResult is a computed position size with its audit trail.
type SizeResult struct {
	Shares       int      `json:"shares"`
	RiskAmount   float64  `json:"risk_amount"`
	Method       string   `json:"method"` // fixed | kelly
	KellyF       float64  `json:"kelly_f,omitempty"`
	Warnings     []string `json:"warnings,omitempty"`
}

// FixedSize computes the fixed-fractional share count:
// floor((balance * maxRiskPercent/100) / |entry-stop|), bounded by the
// notional cap and rounded down to the lot size.
func FixedSize(balance, entry, stop float64, cfg SizingConfig) (SizeResult, error) {
	if balance <= 0 {
		return SizeResult{}, models.NewError(models.KindValidation, models.CodeInvalidArgs,
			"balance must be positive", nil)
	}
	perShareRisk := math.Abs(entry - stop)
	if perShareRisk <= 0 || entry <= 0 {
		return SizeResult{}, models.NewError(models.KindValidation, models.CodeInvalidArgs,
			"entry and stop must be positive and distinct", nil)
	}

	riskBudget := balance * cfg.MaxRiskPercent / 100
	shares := math.Floor(riskBudget / perShareRisk)

	if cfg.MaxPositionPercent > 0 {
		maxNotional := balance * cfg.MaxPositionPercent / 100
		if notionalCap := math.Floor(maxNotional / entry); notionalCap < shares {
			shares = notionalCap
		}
	}

	n := util.FloorToLot(shares, cfg.LotSize)
	return SizeResult{
		Shares:     n,
		RiskAmount: float64(n) * perShareRisk,
		Method:     "fixed",
	}, nil
}

// KellySize computes the Kelly-scaled share count:
// f* = (p*b - (1-p)) / b with b = avgWin/avgLoss, scaled by the safety
// fraction and capped. Invalid inputs or a non-positive f* fall back to
// fixed sizing with a warning. The final size never exceeds the fixed size:
// the stricter of the two wins.
func KellySize(balance, entry, stop float64, stats TradeStats, cfg SizingConfig, logger *log.Logger) (SizeResult, error) {
	fixed, err := FixedSize(balance, entry, stop, cfg)
	if err != nil {
		return SizeResult{}, err
	}

	if !stats.valid() {
		fixed.Warnings = append(fixed.Warnings,
			"kelly inputs missing or invalid; fell back to fixed sizing")
		if logger != nil {
			logger.Printf("kelly sizing fallback: stats %+v", stats)
		}
		return fixed, nil
	}

	b := stats.AverageWin / stats.AverageLoss
	p := stats.WinRate
	f := (p*b - (1 - p)) / b

	fraction := cfg.KellyFraction
	if fraction <= 0 {
		fraction = DefaultSizingConfig.KellyFraction
	}
	f *= fraction
	if f > kellyCap {
		f = kellyCap
	}

	if f <= 0 {
		fixed.Warnings = append(fixed.Warnings,
			fmt.Sprintf("kelly fraction %.4f non-positive; fell back to fixed sizing", f))
		return fixed, nil
	}

	perShareRisk := math.Abs(entry - stop)
	// The small epsilon keeps float error in f from dropping a whole share.
	shares := util.FloorToLot(math.Floor(balance*f/perShareRisk+1e-9), cfg.LotSize)

	// The absolute fixed-risk budget is the hard ceiling.
	method := "kelly"
	if shares > fixed.Shares {
		shares = fixed.Shares
		method = "fixed"
	}

	return SizeResult{
		Shares:     shares,
		RiskAmount: float64(shares) * perShareRisk,
		Method:     method,
		KellyF:     f,
	}, nil
}
