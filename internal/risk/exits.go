package risk

import (
	"fmt"
	"math"
	"sort"

	"github.com/quantfold/intraday/internal/models"
	"github.com/quantfold/intraday/internal/util"
)

// ExitStrategy selects how partial-exit levels are generated.
type ExitStrategy string

// Partial exit strategies.
const (
	ExitRMultiple  ExitStrategy = "r-multiple"
	ExitPercentage ExitStrategy = "percentage"
	ExitFibonacci  ExitStrategy = "fibonacci"
	ExitCustom     ExitStrategy = "custom"
)

// exitPercentTolerance is the allowed deviation of the exit-percent sum
// from 100.
const exitPercentTolerance = 0.01

// ExitLevel declares one partial exit. Trigger is interpreted per strategy:
// R multiples for r-multiple and fibonacci, percent price move for
// percentage, absolute price for custom.
type ExitLevel struct {
	Trigger     float64 `yaml:"trigger" json:"trigger"`
	ExitPercent float64 `yaml:"exit_percent" json:"exit_percent"`
}

// PartialExit is one resolved exit with its price and cumulative share of
// the position.
type PartialExit struct {
	Price             float64 `json:"price"`
	ExitPercent       float64 `json:"exit_percent"`
	CumulativePercent float64 `json:"cumulative_percent"`
	RMultiple         float64 `json:"r_multiple"`
}

// fibLevels are the default fibonacci exit rungs in R multiples.
var fibLevels = []ExitLevel{
	{Trigger: 0.618, ExitPercent: 33},
	{Trigger: 1.0, ExitPercent: 33},
	{Trigger: 1.618, ExitPercent: 34},
}

// BuildPartialExits resolves the exit ladder for a planned trade. Levels'
// exit percents must sum to 100 within 0.01; any rounding residual is folded
// into the last level. Output is sorted by price in the profit direction and
// carries running cumulative percentages.
func BuildPartialExits(direction Direction, entry, stop float64, strategy ExitStrategy, levels []ExitLevel) ([]PartialExit, error) {
	r := math.Abs(entry - stop)
	if r <= 0 {
		return nil, models.NewError(models.KindValidation, models.CodeInvalidArgs,
			"entry and stop must differ", nil)
	}

	if strategy == ExitFibonacci && len(levels) == 0 {
		levels = fibLevels
	}
	if len(levels) == 0 {
		return nil, models.NewError(models.KindValidation, models.CodeInvalidArgs,
			fmt.Sprintf("strategy %q requires exit levels", strategy), nil)
	}

	var sum float64
	for _, l := range levels {
		if l.ExitPercent <= 0 {
			return nil, models.NewError(models.KindValidation, models.CodeInvalidArgs,
				"exit percents must be positive", nil)
		}
		sum += l.ExitPercent
	}
	// The 1e-9 slack admits sums such as 33.33*3 that sit on the tolerance
	// edge but land a hair outside it in float arithmetic.
	if !util.NearlyEqual(sum, 100, exitPercentTolerance+1e-9) {
		return nil, models.NewError(models.KindValidation, models.CodeInvalidArgs,
			fmt.Sprintf("exit percents sum to %.4f, want 100 ± %.2f", sum, exitPercentTolerance), nil)
	}

	sign := 1.0
	if direction == Short {
		sign = -1.0
	}

	out := make([]PartialExit, 0, len(levels))
	for _, l := range levels {
		var price, rMult float64
		switch strategy {
		case ExitRMultiple, ExitFibonacci:
			rMult = l.Trigger
			price = entry + sign*rMult*r
		case ExitPercentage:
			price = entry * (1 + sign*l.Trigger/100)
			rMult = math.Abs(price-entry) / r
		case ExitCustom:
			price = l.Trigger
			rMult = sign * (price - entry) / r
		default:
			return nil, models.NewError(models.KindValidation, models.CodeInvalidArgs,
				fmt.Sprintf("unknown exit strategy %q", strategy), nil)
		}
		if rMult <= 0 {
			return nil, models.NewError(models.KindValidation, models.CodeInvalidArgs,
				fmt.Sprintf("exit level at %.4f is not in the profit direction", price), nil)
		}
		out = append(out, PartialExit{Price: price, ExitPercent: l.ExitPercent, RMultiple: rMult})
	}

	// Sort by price in the profit direction: ascending for longs,
	// descending for shorts.
	sort.Slice(out, func(i, j int) bool {
		if direction == Short {
			return out[i].Price > out[j].Price
		}
		return out[i].Price < out[j].Price
	})

	// Fold the rounding residual into the last level and accumulate.
	residual := 100.0 - sum
	out[len(out)-1].ExitPercent += residual
	var cum float64
	for i := range out {
		cum += out[i].ExitPercent
		out[i].CumulativePercent = cum
	}
	return out, nil
}

// TrailingStopConfig parameterizes the trailing stop in R multiples.
type TrailingStopConfig struct {
	// ActivateAtR is how far price must move in profit before trailing
	// starts.
	ActivateAtR float64
	// DistanceR is how far behind price the stop follows once active.
	DistanceR float64
}

// TrailingStop tracks a stop that follows price once armed.
type TrailingStop struct {
	direction Direction
	entry     float64
	r         float64
	cfg       TrailingStopConfig

	active bool
	stop   float64
}

// NewTrailingStop builds a trailing stop for a filled trade.
func NewTrailingStop(direction Direction, entry, initialStop float64, cfg TrailingStopConfig) (*TrailingStop, error) {
	r := math.Abs(entry - initialStop)
	if r <= 0 {
		return nil, models.NewError(models.KindValidation, models.CodeInvalidArgs,
			"entry and initial stop must differ", nil)
	}
	if cfg.ActivateAtR <= 0 || cfg.DistanceR <= 0 {
		return nil, models.NewError(models.KindValidation, models.CodeInvalidArgs,
			"trailing stop activation and distance must be positive", nil)
	}
	return &TrailingStop{
		direction: direction,
		entry:     entry,
		r:         r,
		cfg:       cfg,
		stop:      initialStop,
	}, nil
}

// Update advances the stop for a new price and returns the current stop
// level. The stop only ever tightens.
func (t *TrailingStop) Update(price float64) float64 {
	sign := 1.0
	if t.direction == Short {
		sign = -1.0
	}

	profitR := sign * (price - t.entry) / t.r
	if !t.active && profitR >= t.cfg.ActivateAtR {
		t.active = true
	}
	if t.active {
		candidate := price - sign*t.cfg.DistanceR*t.r
		if (t.direction == Long && candidate > t.stop) ||
			(t.direction == Short && candidate < t.stop) {
			t.stop = candidate
		}
	}
	return t.stop
}

// Active reports whether trailing has armed.
func (t *TrailingStop) Active() bool { return t.active }

// Stop returns the current stop level.
func (t *TrailingStop) Stop() float64 { return t.stop }
