package cache

import (
	"time"

	"github.com/quantfold/intraday/internal/models"
)

// DefaultCoverageThreshold is the fraction of a requested bar range that must
// be present (and internally gapless) before cached bars serve a range query.
const DefaultCoverageThreshold = 0.90

// RangeCovered decides whether cached bars satisfy a [from, to] range query.
// The interior of the cached run must be gapless on the timeframe grid; the
// run may fall short at the edges as long as the present fraction reaches the
// threshold. This keeps windows with interior holes from being served.
func RangeCovered(bars []models.Bar, from, to time.Time, tf models.Timeframe, threshold float64) bool {
	if threshold <= 0 {
		threshold = DefaultCoverageThreshold
	}
	if len(bars) == 0 || from.IsZero() || to.IsZero() || !to.After(from) {
		return false
	}

	d := tf.Duration()
	if d <= 0 {
		return false
	}

	inRange := models.ClipBars(bars, from, to)
	if len(inRange) == 0 {
		return false
	}
	for i := 1; i < len(inRange); i++ {
		if inRange[i].Timestamp.Sub(inRange[i-1].Timestamp) != d {
			return false
		}
	}

	expected := int(to.Sub(from)/d) + 1
	if expected <= 0 {
		return false
	}
	return float64(len(inRange))/float64(expected) >= threshold
}
