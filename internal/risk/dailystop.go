package risk

import (
	"fmt"
	"time"

	"github.com/quantfold/intraday/internal/models"
)

// DailyStopConfig bounds how much can be lost in one account-timezone day.
type DailyStopConfig struct {
	// MaxLossPercent is the daily loss ceiling as a percent of balance.
	MaxLossPercent float64
	// MaxLossAmount optionally caps the ceiling in absolute currency; the
	// stricter of the two applies.
	MaxLossAmount float64
	// MaxConsecutiveLosses halts trading after a losing streak; zero
	// disables the check.
	MaxConsecutiveLosses int
	// IncludeFees counts fees toward realized loss.
	IncludeFees bool
	// Timezone is the account timezone for day grouping; defaults to
	// America/New_York.
	Timezone string
}

// DailyStopState is the loss-limit read for one trading day.
type DailyStopState struct {
	Date              string    `json:"date"` // YYYY-MM-DD in account timezone
	RealizedLoss      float64   `json:"realized_loss"`
	OpenRisk          float64   `json:"open_risk"`
	MaxDailyLoss      float64   `json:"max_daily_loss"`
	RemainingCapacity float64   `json:"remaining_capacity"`
	IsLimitReached    bool      `json:"is_limit_reached"`
	ConsecutiveLosses int       `json:"consecutive_losses"`
	ResetTime         time.Time `json:"reset_time"`
}

// DailyStop evaluates the day's loss budget from the trade journal.
type DailyStop struct {
	cfg DailyStopConfig
	loc *time.Location
}

// NewDailyStop resolves the account timezone and validates the config.
func NewDailyStop(cfg DailyStopConfig) (*DailyStop, error) {
	if cfg.MaxLossPercent <= 0 {
		return nil, models.NewError(models.KindConfiguration, models.CodeInvalidArgs,
			"daily stop max_loss_percent must be positive", nil)
	}
	tz := cfg.Timezone
	if tz == "" {
		tz = "America/New_York"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("loading account timezone %q: %w", tz, err)
	}
	return &DailyStop{cfg: cfg, loc: loc}, nil
}

// Evaluate computes the stop state for the day containing now. Trades are
// grouped by close date in the account timezone; only the day's losers
// accumulate realized loss. Consecutive losses count backwards from the most
// recent trade of the day.
func (d *DailyStop) Evaluate(trades []models.TradeRecord, balance, openRisk float64, now time.Time) DailyStopState {
	day := now.In(d.loc).Format("2006-01-02")

	var realized float64
	var dayTrades []models.TradeRecord
	for _, tr := range trades {
		if tr.Day(d.loc) != day {
			continue
		}
		dayTrades = append(dayTrades, tr)
		if tr.PnL < 0 {
			realized += -tr.PnL
			if d.cfg.IncludeFees {
				realized += tr.Fees
			}
		}
	}

	streak := 0
	for i := len(dayTrades) - 1; i >= 0; i-- {
		if dayTrades[i].PnL < 0 {
			streak++
			continue
		}
		break
	}

	maxLoss := balance * d.cfg.MaxLossPercent / 100
	if d.cfg.MaxLossAmount > 0 && d.cfg.MaxLossAmount < maxLoss {
		maxLoss = d.cfg.MaxLossAmount
	}

	totalRisk := realized + openRisk
	remaining := maxLoss - totalRisk
	if remaining < 0 {
		remaining = 0
	}

	limitReached := totalRisk >= maxLoss
	if d.cfg.MaxConsecutiveLosses > 0 && streak >= d.cfg.MaxConsecutiveLosses {
		// A losing streak halts the day even with budget left; capacity
		// reads zero so the two signals stay consistent.
		limitReached = true
		remaining = 0
	}

	local := now.In(d.loc)
	reset := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, d.loc).AddDate(0, 0, 1)

	return DailyStopState{
		Date:              day,
		RealizedLoss:      realized,
		OpenRisk:          openRisk,
		MaxDailyLoss:      maxLoss,
		RemainingCapacity: remaining,
		IsLimitReached:    limitReached,
		ConsecutiveLosses: streak,
		ResetTime:         reset,
	}
}

// CanTakeNewTrade reports whether a trade risking newRisk fits the day's
// remaining budget.
func CanTakeNewTrade(state DailyStopState, newRisk float64) bool {
	return !state.IsLimitReached && newRisk <= state.RemainingCapacity
}
