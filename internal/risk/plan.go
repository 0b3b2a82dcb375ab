package risk

import (
	"fmt"
	"log"
	"math"

	"github.com/quantfold/intraday/internal/models"
)

// ExecutionPlan is the fully risk-managed trade plan.
type ExecutionPlan struct {
	Direction    Direction     `json:"direction"`
	EntryPrice   float64       `json:"entry_price"`
	StopLoss     float64       `json:"stop_loss"`
	TakeProfit   float64       `json:"take_profit"`
	PositionSize int           `json:"position_size"`
	RiskAmount   float64       `json:"risk_amount"`
	RewardAmount float64       `json:"reward_amount"`
	RRRatio      float64       `json:"rr_ratio"`
	PartialExits []PartialExit `json:"partial_exits"`
	SizingMethod string        `json:"sizing_method"`
	Warnings     []string      `json:"warnings,omitempty"`
}

// PlanParams feeds BuildPlan.
type PlanParams struct {
	Direction    Direction
	Entry        float64
	Stop         float64
	TakeProfit   float64
	Balance      float64
	Stats        *TradeStats
	Sizing       SizingConfig
	ExitStrategy ExitStrategy
	ExitLevels   []ExitLevel
}

// BuildPlan validates price ordering, sizes the position (Kelly when enabled
// and statistics exist, the stricter of Kelly and fixed either way), and
// resolves the partial exit ladder.
func BuildPlan(p PlanParams, logger *log.Logger) (*ExecutionPlan, error) {
	switch p.Direction {
	case Long:
		if !(p.Stop < p.Entry && p.Entry < p.TakeProfit) {
			return nil, models.NewError(models.KindValidation, models.CodeInvalidArgs,
				fmt.Sprintf("long plan requires stop < entry < take profit, got %.4f / %.4f / %.4f",
					p.Stop, p.Entry, p.TakeProfit), nil)
		}
	case Short:
		if !(p.Stop > p.Entry && p.Entry > p.TakeProfit) {
			return nil, models.NewError(models.KindValidation, models.CodeInvalidArgs,
				fmt.Sprintf("short plan requires stop > entry > take profit, got %.4f / %.4f / %.4f",
					p.Stop, p.Entry, p.TakeProfit), nil)
		}
	default:
		return nil, models.NewError(models.KindValidation, models.CodeInvalidArgs,
			fmt.Sprintf("unknown direction %q", p.Direction), nil)
	}

	var size SizeResult
	var err error
	if p.Sizing.UseKelly && p.Stats != nil {
		size, err = KellySize(p.Balance, p.Entry, p.Stop, *p.Stats, p.Sizing, logger)
	} else {
		size, err = FixedSize(p.Balance, p.Entry, p.Stop, p.Sizing)
	}
	if err != nil {
		return nil, err
	}

	strategy := p.ExitStrategy
	if strategy == "" {
		strategy = ExitRMultiple
	}
	levels := p.ExitLevels
	if len(levels) == 0 && strategy == ExitRMultiple {
		levels = []ExitLevel{
			{Trigger: 1.0, ExitPercent: 50},
			{Trigger: 2.0, ExitPercent: 50},
		}
	}
	exits, err := BuildPartialExits(p.Direction, p.Entry, p.Stop, strategy, levels)
	if err != nil {
		return nil, err
	}

	perShareRisk := math.Abs(p.Entry - p.Stop)
	perShareReward := math.Abs(p.TakeProfit - p.Entry)

	return &ExecutionPlan{
		Direction:    p.Direction,
		EntryPrice:   p.Entry,
		StopLoss:     p.Stop,
		TakeProfit:   p.TakeProfit,
		PositionSize: size.Shares,
		RiskAmount:   size.RiskAmount,
		RewardAmount: float64(size.Shares) * perShareReward,
		RRRatio:      perShareReward / perShareRisk,
		PartialExits: exits,
		SizingMethod: size.Method,
		Warnings:     size.Warnings,
	}, nil
}
