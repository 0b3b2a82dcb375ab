// Package models defines the core market-data contracts shared by every
// component: bars, timeframes, symbol normalization, and the error taxonomy.
package models

import (
	"fmt"
	"sort"
	"time"
)

// Bar is a single OHLCV candle. Bars are immutable once fetched; identity is
// (symbol, timeframe, timestamp). Timestamps are UTC.
type Bar struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Validate checks the OHLCV invariants: high must dominate open/close/low,
// low must be dominated by open/close/high, and volume must be non-negative.
func (b Bar) Validate() error {
	if b.Timestamp.IsZero() {
		return NewError(KindValidation, CodeInvalidFormat, "bar has zero timestamp", nil)
	}
	if b.High < b.Open || b.High < b.Close || b.High < b.Low {
		return NewError(KindValidation, CodeInvalidFormat,
			fmt.Sprintf("bar at %s: high %.4f below open/close/low", b.Timestamp.Format(time.RFC3339), b.High), nil)
	}
	if b.Low > b.Open || b.Low > b.Close {
		return NewError(KindValidation, CodeInvalidFormat,
			fmt.Sprintf("bar at %s: low %.4f above open/close", b.Timestamp.Format(time.RFC3339), b.Low), nil)
	}
	if b.Volume < 0 {
		return NewError(KindValidation, CodeInvalidFormat,
			fmt.Sprintf("bar at %s: negative volume %.2f", b.Timestamp.Format(time.RFC3339), b.Volume), nil)
	}
	return nil
}

// Bullish reports whether the bar closed above its open.
func (b Bar) Bullish() bool { return b.Close > b.Open }

// Bearish reports whether the bar closed below its open.
func (b Bar) Bearish() bool { return b.Close < b.Open }

// Range returns high minus low.
func (b Bar) Range() float64 { return b.High - b.Low }

// Body returns the absolute open-to-close distance.
func (b Bar) Body() float64 {
	if b.Close >= b.Open {
		return b.Close - b.Open
	}
	return b.Open - b.Close
}

// NormalizeBars sorts bars ascending by timestamp and drops duplicates,
// keeping the last bar seen for each timestamp. Every adapter and the cache
// return bars through this so downstream consumers can rely on strictly
// increasing, unique timestamps.
func NormalizeBars(bars []Bar) []Bar {
	if len(bars) == 0 {
		return bars
	}

	sorted := make([]Bar, len(bars))
	copy(sorted, bars)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	out := sorted[:0]
	for _, b := range sorted {
		if n := len(out); n > 0 && out[n-1].Timestamp.Equal(b.Timestamp) {
			out[n-1] = b
			continue
		}
		out = append(out, b)
	}
	return out
}

// ValidateBars validates every bar and checks the strictly-increasing
// timestamp ordering.
func ValidateBars(bars []Bar) error {
	for i, b := range bars {
		if err := b.Validate(); err != nil {
			return fmt.Errorf("bar %d: %w", i, err)
		}
		if i > 0 && !bars[i-1].Timestamp.Before(b.Timestamp) {
			return NewError(KindValidation, CodeInvalidFormat,
				fmt.Sprintf("bars out of order at index %d", i), nil)
		}
	}
	return nil
}

// ClipBars returns the bars whose timestamps fall within [from, to]. A zero
// from or to leaves that side unbounded.
func ClipBars(bars []Bar, from, to time.Time) []Bar {
	out := make([]Bar, 0, len(bars))
	for _, b := range bars {
		if !from.IsZero() && b.Timestamp.Before(from) {
			continue
		}
		if !to.IsZero() && b.Timestamp.After(to) {
			continue
		}
		out = append(out, b)
	}
	return out
}
