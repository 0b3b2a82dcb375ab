package confluence

import (
	"fmt"
	"log"
	"math"
	"time"

	"github.com/quantfold/intraday/internal/models"
	"github.com/quantfold/intraday/internal/util"
)

// weightTolerance is the allowed deviation of the weight sum from 1.
const weightTolerance = 0.01

// Overlap records the geometric intersection of an unfilled FVG with an
// unmitigated order block, referenced by index into the report's zone lists.
type Overlap struct {
	FVGIndex    int     `json:"fvg_index"`
	OBIndex     int     `json:"ob_index"`
	OverlapLow  float64 `json:"overlap_low"`
	OverlapHigh float64 `json:"overlap_high"`
	Size        float64 `json:"size"`
}

// Factor is one weighted contribution to the confluence score.
type Factor struct {
	Name        string  `json:"name"`
	Weight      float64 `json:"weight"`
	Value       float64 `json:"value"` // normalized to [0,1]
	Description string  `json:"description"`
}

// Report is the assembled confluence analysis for one window.
type Report struct {
	Symbol      string           `json:"symbol"`
	Timeframe   models.Timeframe `json:"timeframe"`
	Timestamp   time.Time        `json:"timestamp"`
	Score       float64          `json:"score"` // 0..100
	Factors     []Factor         `json:"factors"`
	FVGZones    []FVGZone        `json:"fvg_zones"`
	OrderBlocks []OrderBlock     `json:"order_blocks"`
	Overlaps    []Overlap        `json:"overlaps"`
	Warnings    []string         `json:"warnings,omitempty"`
}

// Factor names recognized by the scorer.
const (
	FactorFVG        = "fvg"
	FactorOrderBlock = "order_block"
	FactorOverlap    = "overlap"
)

// Config tunes the confluence engine.
type Config struct {
	FVG         FVGOptions
	OrderBlocks OrderBlockOptions
	// Weights maps factor name to weight. The sum must be 1 within 0.01.
	Weights map[string]float64
	// ReferenceStrength normalizes raw zone strength into [0,1]. Zones whose
	// summed strength reaches this value max the factor out.
	ReferenceStrength float64
}

// DefaultWeights splits the score 0.4 / 0.35 / 0.25 between gaps, blocks, and
// overlap.
var DefaultWeights = map[string]float64{
	FactorFVG:        0.4,
	FactorOrderBlock: 0.35,
	FactorOverlap:    0.25,
}

// Engine scans bar windows for confluence. Engines are stateless and safe
// for concurrent use.
type Engine struct {
	cfg    Config
	logger *log.Logger
}

// NewEngine validates the configuration, in particular that the factor
// weights sum to one.
func NewEngine(cfg Config, logger *log.Logger) (*Engine, error) {
	if logger == nil {
		logger = log.Default()
	}
	if len(cfg.Weights) == 0 {
		cfg.Weights = DefaultWeights
	}
	var sum float64
	for name, w := range cfg.Weights {
		if w < 0 {
			return nil, models.NewError(models.KindConfiguration, models.CodeInvalidArgs,
				fmt.Sprintf("confluence weight %q is negative", name), nil)
		}
		sum += w
	}
	if !util.NearlyEqual(sum, 1.0, weightTolerance) {
		return nil, models.NewError(models.KindConfiguration, models.CodeInvalidArgs,
			fmt.Sprintf("confluence weights sum to %.4f, want 1.00 ± %.2f", sum, weightTolerance), nil)
	}
	if cfg.ReferenceStrength <= 0 {
		cfg.ReferenceStrength = 1.0
	}
	if cfg.OrderBlocks.MoveThreshold <= 0 {
		cfg.OrderBlocks.MoveThreshold = 1.0
	}
	return &Engine{cfg: cfg, logger: logger}, nil
}

// Analyze scans the window and assembles the weighted report. An empty or
// too-short window yields a neutral report with a warning rather than an
// error.
func (e *Engine) Analyze(symbol string, tf models.Timeframe, window []models.Bar, ts time.Time) *Report {
	report := &Report{
		Symbol:    symbol,
		Timeframe: tf,
		Timestamp: ts.UTC(),
	}
	if len(window) < 3 {
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("confluence needs at least 3 bars, got %d", len(window)))
		return report
	}

	report.FVGZones = ScanFVGs(window, e.cfg.FVG)
	report.OrderBlocks = ScanOrderBlocks(window, e.cfg.OrderBlocks)
	report.Overlaps = FindOverlaps(report.FVGZones, report.OrderBlocks)

	report.Factors = e.scoreFactors(report)
	var total float64
	for _, f := range report.Factors {
		total += f.Weight * f.Value
	}
	report.Score = util.Clamp(100*total, 0, 100)
	return report
}

// FindOverlaps intersects every unfilled FVG with every unmitigated order
// block. The overlap zone is [max(lows), min(highs)].
func FindOverlaps(fvgs []FVGZone, obs []OrderBlock) []Overlap {
	var out []Overlap
	for fi, fvg := range fvgs {
		if fvg.Filled {
			continue
		}
		for oi, ob := range obs {
			if ob.Mitigated {
				continue
			}
			if fvg.Low <= ob.High && fvg.High >= ob.Low {
				low := math.Max(fvg.Low, ob.Low)
				high := math.Min(fvg.High, ob.High)
				out = append(out, Overlap{
					FVGIndex:    fi,
					OBIndex:     oi,
					OverlapLow:  low,
					OverlapHigh: high,
					Size:        high - low,
				})
			}
		}
	}
	return out
}

func (e *Engine) scoreFactors(r *Report) []Factor {
	var unfilledStrength float64
	var unfilled int
	for _, z := range r.FVGZones {
		if !z.Filled {
			unfilledStrength += z.Strength
			unfilled++
		}
	}

	var activeBlockStrength float64
	var active int
	for _, b := range r.OrderBlocks {
		if !b.Mitigated {
			activeBlockStrength += b.Strength
			active++
		}
	}

	ref := e.cfg.ReferenceStrength
	factors := make([]Factor, 0, len(e.cfg.Weights))
	for name, weight := range e.cfg.Weights {
		var f Factor
		switch name {
		case FactorFVG:
			f = Factor{
				Name: name, Weight: weight,
				Value:       util.Clamp01(unfilledStrength / ref),
				Description: fmt.Sprintf("%d unfilled fair value gaps", unfilled),
			}
		case FactorOrderBlock:
			f = Factor{
				Name: name, Weight: weight,
				Value:       util.Clamp01(activeBlockStrength / float64(maxInt(active, 1)) / 2),
				Description: fmt.Sprintf("%d unmitigated order blocks", active),
			}
			if active == 0 {
				f.Value = 0
			}
		case FactorOverlap:
			f = Factor{
				Name: name, Weight: weight,
				Value:       util.Clamp01(float64(len(r.Overlaps)) / 2),
				Description: fmt.Sprintf("%d FVG/OB overlaps", len(r.Overlaps)),
			}
		default:
			f = Factor{Name: name, Weight: weight, Value: 0, Description: "no detector for factor"}
			r.Warnings = append(r.Warnings, fmt.Sprintf("unknown confluence factor %q scored 0", name))
		}
		factors = append(factors, f)
	}

	// Deterministic order for rendering and tests.
	sortFactors(factors)
	return factors
}

func sortFactors(fs []Factor) {
	for i := 1; i < len(fs); i++ {
		for j := i; j > 0 && fs[j].Name < fs[j-1].Name; j-- {
			fs[j], fs[j-1] = fs[j-1], fs[j]
		}
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
