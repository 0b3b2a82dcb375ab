// Package confluence detects fair value gaps and order blocks, scores their
// overlap, and assembles weighted confluence reports.
package confluence

import (
	"github.com/quantfold/intraday/internal/bars"
	"github.com/quantfold/intraday/internal/models"
)

// Direction labels a zone's bias.
type Direction string

const (
	// Bullish zones form under price and attract longs.
	Bullish Direction = "bullish"
	// Bearish zones form above price and attract shorts.
	Bearish Direction = "bearish"
)

// FVGZone is a three-bar imbalance. Zones reference their origin bar by
// index into the scanned window rather than holding the bar itself.
type FVGZone struct {
	Direction   Direction `json:"direction"`
	Low         float64   `json:"low"`
	High        float64   `json:"high"`
	OriginIndex int       `json:"origin_index"`
	Filled      bool      `json:"filled"`
	Strength    float64   `json:"strength"`
}

// Size returns the gap height.
func (z FVGZone) Size() float64 { return z.High - z.Low }

// FVGOptions controls gap detection.
type FVGOptions struct {
	// MinGapSize is the smallest emitted gap. Interpreted as ATR multiples
	// when ATRUnits is set, absolute price units otherwise.
	MinGapSize float64
	ATRUnits   bool
	ATRPeriod  int
}

// ScanFVGs walks the window comparing bar[i] against bar[i-2]. A bullish gap
// exists when bar[i].low clears bar[i-2].high, a bearish gap when bar[i].high
// undercuts bar[i-2].low. Zero-size gaps are never emitted. After emission
// each gap is scanned forward and marked filled on the first bar whose range
// re-enters it. Scan order is chronological.
func ScanFVGs(window []models.Bar, opts FVGOptions) []FVGZone {
	if len(window) < 3 {
		return nil
	}

	minGap := opts.MinGapSize
	if opts.ATRUnits {
		period := opts.ATRPeriod
		if period <= 0 {
			period = 14
		}
		atr := bars.ATR(window, period)
		minGap = opts.MinGapSize * atr
	}

	var zones []FVGZone
	for i := 2; i < len(window); i++ {
		prev, cur := window[i-2], window[i]

		if gap := cur.Low - prev.High; gap > 0 && gap >= minGap {
			zones = append(zones, FVGZone{
				Direction:   Bullish,
				Low:         prev.High,
				High:        cur.Low,
				OriginIndex: i,
				Strength:    gap,
			})
		}
		if gap := prev.Low - cur.High; gap > 0 && gap >= minGap {
			zones = append(zones, FVGZone{
				Direction:   Bearish,
				Low:         cur.High,
				High:        prev.Low,
				OriginIndex: i,
				Strength:    gap,
			})
		}
	}

	for zi := range zones {
		z := &zones[zi]
		for j := z.OriginIndex + 1; j < len(window); j++ {
			if window[j].Low <= z.High && window[j].High >= z.Low {
				z.Filled = true
				break
			}
		}
	}
	return zones
}
