// Package bias derives market structure, daily bias labels, and day profiles
// from bar windows.
package bias

import "github.com/quantfold/intraday/internal/models"

// SwingKind distinguishes swing highs from swing lows.
type SwingKind string

const (
	// SwingHigh is a local maximum of the high series.
	SwingHigh SwingKind = "high"
	// SwingLow is a local minimum of the low series.
	SwingLow SwingKind = "low"
)

// SwingPoint is a confirmed local extreme. Index refers into the scanned
// window; Strength is how far the extreme clears its nearest neighbor.
type SwingPoint struct {
	Index    int       `json:"index"`
	Kind     SwingKind `json:"kind"`
	Price    float64   `json:"price"`
	Strength float64   `json:"strength"`
}

// DefaultSwingLookback is the neighborhood half-width for swing confirmation.
const DefaultSwingLookback = 5

// FindSwings returns chronological swing points. bar[i] is a swing high when
// its high strictly exceeds every high within lookback bars on both sides;
// swing lows are symmetric. Edge bars without a full neighborhood never
// qualify.
func FindSwings(window []models.Bar, lookback int) []SwingPoint {
	if lookback <= 0 {
		lookback = DefaultSwingLookback
	}
	if len(window) < 2*lookback+1 {
		return nil
	}

	var out []SwingPoint
	for i := lookback; i < len(window)-lookback; i++ {
		if p, ok := swingAt(window, i, lookback, SwingHigh); ok {
			out = append(out, p)
		}
		if p, ok := swingAt(window, i, lookback, SwingLow); ok {
			out = append(out, p)
		}
	}
	return out
}

func swingAt(window []models.Bar, i, lookback int, kind SwingKind) (SwingPoint, bool) {
	extreme := window[i].High
	if kind == SwingLow {
		extreme = window[i].Low
	}

	nearest := 0.0
	first := true
	for j := i - lookback; j <= i+lookback; j++ {
		if j == i {
			continue
		}
		v := window[j].High
		if kind == SwingLow {
			v = window[j].Low
		}
		if kind == SwingHigh && v >= extreme {
			return SwingPoint{}, false
		}
		if kind == SwingLow && v <= extreme {
			return SwingPoint{}, false
		}
		if first || closerTo(extreme, v, nearest) {
			nearest = v
			first = false
		}
	}

	strength := extreme - nearest
	if kind == SwingLow {
		strength = nearest - extreme
	}
	return SwingPoint{Index: i, Kind: kind, Price: extreme, Strength: strength}, true
}

// closerTo reports whether v is nearer to the extreme than cur.
func closerTo(extreme, v, cur float64) bool {
	dv := extreme - v
	dc := extreme - cur
	if dv < 0 {
		dv = -dv
	}
	if dc < 0 {
		dc = -dc
	}
	return dv < dc
}

// lastTwo returns the most recent two swings of a kind, newest last.
func lastTwo(swings []SwingPoint, kind SwingKind) []SwingPoint {
	var out []SwingPoint
	for _, s := range swings {
		if s.Kind == kind {
			out = append(out, s)
		}
	}
	if len(out) > 2 {
		out = out[len(out)-2:]
	}
	return out
}
