package bias

import (
	"fmt"
	"log"
	"time"

	"github.com/quantfold/intraday/internal/models"
	"github.com/quantfold/intraday/internal/sessions"
)

// Label is the daily bias verdict.
type Label string

// Daily bias labels. The into-eq variants mean the structure points one way
// while price sits on the opposite side of the range midpoint: below it for
// long-into-eq, above it for short-into-eq.
const (
	LabelLong        Label = "long"
	LabelShort       Label = "short"
	LabelLongIntoEQ  Label = "long-into-eq"
	LabelShortIntoEQ Label = "short-into-eq"
	LabelNeutral     Label = "neutral"
)

// Config tunes the bias engine.
type Config struct {
	SwingLookback          int
	BOSConfirmationCandles int
}

// Result is the assembled bias read for one window.
type Result struct {
	Symbol    string            `json:"symbol"`
	Timeframe models.Timeframe  `json:"timeframe"`
	Timestamp time.Time         `json:"timestamp"`
	Label     Label             `json:"label"`
	Structure Structure         `json:"structure"`
	Swings    []SwingPoint      `json:"swings,omitempty"`
	BOS       *BreakOfStructure `json:"bos,omitempty"`
	RangeHigh float64           `json:"range_high"`
	RangeLow  float64           `json:"range_low"`
	Midpoint  float64           `json:"midpoint"`
	LastClose float64           `json:"last_close"`
	Warnings  []string          `json:"warnings,omitempty"`
}

// Engine derives daily bias. Engines are stateless and safe for concurrent
// use.
type Engine struct {
	cfg    Config
	logger *log.Logger
}

// NewEngine builds a bias engine with defaulted config.
func NewEngine(cfg Config, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	if cfg.SwingLookback <= 0 {
		cfg.SwingLookback = DefaultSwingLookback
	}
	if cfg.BOSConfirmationCandles <= 0 {
		cfg.BOSConfirmationCandles = DefaultBOSConfirmationCandles
	}
	return &Engine{cfg: cfg, logger: logger}
}

// DailyBias labels the window. An empty or too-short window returns a
// neutral result with a warning rather than an error.
func (e *Engine) DailyBias(symbol string, tf models.Timeframe, window []models.Bar, ts time.Time) *Result {
	res := &Result{
		Symbol:    symbol,
		Timeframe: tf,
		Timestamp: ts.UTC(),
		Label:     LabelNeutral,
		Structure: StructureRanging,
	}
	need := 2*e.cfg.SwingLookback + 1
	if len(window) < need {
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("bias needs at least %d bars, got %d", need, len(window)))
		return res
	}

	res.Swings = FindSwings(window, e.cfg.SwingLookback)
	res.Structure = ClassifyStructure(res.Swings)
	res.BOS = DetectBOS(window, res.Swings, e.cfg.BOSConfirmationCandles)

	res.RangeHigh, res.RangeLow = windowExtremes(window)
	res.Midpoint = (res.RangeHigh + res.RangeLow) / 2
	res.LastClose = window[len(window)-1].Close

	structure := res.Structure
	// A confirmed break of structure overrides a conflicted swing read.
	if structure == StructureRanging && res.BOS != nil {
		structure = res.BOS.Direction
	}

	switch structure {
	case StructureBullish:
		if res.LastClose < res.Midpoint {
			res.Label = LabelLongIntoEQ
		} else {
			res.Label = LabelLong
		}
	case StructureBearish:
		if res.LastClose > res.Midpoint {
			res.Label = LabelShortIntoEQ
		} else {
			res.Label = LabelShort
		}
	default:
		res.Label = LabelNeutral
	}
	return res
}

func windowExtremes(window []models.Bar) (high, low float64) {
	high, low = window[0].High, window[0].Low
	for _, b := range window[1:] {
		if b.High > high {
			high = b.High
		}
		if b.Low < low {
			low = b.Low
		}
	}
	return high, low
}

// Profile is the day-profile classification.
type Profile string

// Day profiles: P1 reverses off the London extreme, P2 expands through the
// Asia range, P3 continues without sweeping either.
const (
	ProfileP1Reversal     Profile = "P1"
	ProfileP2Expansion    Profile = "P2"
	ProfileP3Continuation Profile = "P3"
)

// ProfileResult carries the classification and the session extremes that
// produced it.
type ProfileResult struct {
	Profile  Profile            `json:"profile"`
	Extremes []SessionExtreme   `json:"extremes"`
	Sessions []sessions.Boundary `json:"sessions"`
	Warnings []string           `json:"warnings,omitempty"`
}

// SessionExtreme is the high/low reached during one named session window.
type SessionExtreme struct {
	Session string  `json:"session"`
	High    float64 `json:"high"`
	Low     float64 `json:"low"`
	Swept   bool    `json:"swept"`
}

// DayProfile classifies the day from which session extremes later price
// swept. A swept London extreme reads P1 reversal; otherwise a swept Asia
// extreme reads P2 expansion; neither reads P3 continuation.
func DayProfile(window []models.Bar, bounds []sessions.Boundary) *ProfileResult {
	res := &ProfileResult{Profile: ProfileP3Continuation, Sessions: bounds}
	if len(window) == 0 || len(bounds) == 0 {
		res.Warnings = append(res.Warnings, "day profile needs bars and session boundaries")
		return res
	}

	for _, b := range bounds {
		ext := SessionExtreme{Session: b.Name}
		found := false
		for _, bar := range window {
			if !b.Contains(bar.Timestamp) {
				continue
			}
			if !found {
				ext.High, ext.Low = bar.High, bar.Low
				found = true
				continue
			}
			if bar.High > ext.High {
				ext.High = bar.High
			}
			if bar.Low < ext.Low {
				ext.Low = bar.Low
			}
		}
		if !found {
			continue
		}

		for _, bar := range window {
			if bar.Timestamp.Before(b.End) {
				continue
			}
			if bar.High > ext.High || bar.Low < ext.Low {
				ext.Swept = true
				break
			}
		}
		res.Extremes = append(res.Extremes, ext)
	}

	var asiaSwept, londonSwept bool
	for _, ext := range res.Extremes {
		switch ext.Session {
		case "asia":
			asiaSwept = ext.Swept
		case "london":
			londonSwept = ext.Swept
		}
	}
	switch {
	case londonSwept:
		res.Profile = ProfileP1Reversal
	case asiaSwept:
		res.Profile = ProfileP2Expansion
	}
	return res
}
