package bars

import "github.com/quantfold/intraday/internal/models"

// TrueRange returns max(high-low, |high-prevClose|, |low-prevClose|).
func TrueRange(bar, prev models.Bar) float64 {
	tr := bar.High - bar.Low
	if d := abs(bar.High - prev.Close); d > tr {
		tr = d
	}
	if d := abs(bar.Low - prev.Close); d > tr {
		tr = d
	}
	return tr
}

// ATR computes the simple average true range over the last period bars.
// The first bar's true range is its plain high-low span. Returns 0 when no
// bars are supplied; with fewer bars than period it averages what exists.
func ATR(in []models.Bar, period int) float64 {
	if len(in) == 0 || period <= 0 {
		return 0
	}

	start := len(in) - period
	if start < 0 {
		start = 0
	}

	var sum float64
	var n int
	for i := start; i < len(in); i++ {
		if i == 0 {
			sum += in[i].High - in[i].Low
		} else {
			sum += TrueRange(in[i], in[i-1])
		}
		n++
	}
	return sum / float64(n)
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
