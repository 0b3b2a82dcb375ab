package bias

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/intraday/internal/models"
	"github.com/quantfold/intraday/internal/sessions"
)

func seriesFromCloses(t *testing.T, closes []float64) []models.Bar {
	t.Helper()
	start := time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)
	out := make([]models.Bar, 0, len(closes))
	prev := closes[0]
	for i, c := range closes {
		o := prev
		h, l := o, o
		if c > h {
			h = c
		}
		if c < l {
			l = c
		}
		// The index-scaled wick margin breaks ties between adjacent bars so
		// strict swing comparisons stay deterministic.
		out = append(out, models.Bar{
			Timestamp: start.Add(time.Duration(i) * 5 * time.Minute),
			Open:      o,
			High:      h + 0.1 + 0.01*float64(i),
			Low:       l - 0.1 - 0.01*float64(i),
			Close:     c,
			Volume:    100,
		})
		prev = c
	}
	return out
}

// zigzagUp builds a rising series with clear higher highs and higher lows.
func zigzagUp(t *testing.T) []models.Bar {
	t.Helper()
	var closes []float64
	base := 100.0
	// Four legs up with shallow pullbacks: swing highs at the leg tops,
	// swing lows at the pullback bottoms, each pair rising.
	for leg := 0; leg < 4; leg++ {
		for i := 0; i < 8; i++ {
			closes = append(closes, base+float64(i)*0.5)
		}
		base += 4.0
		for i := 0; i < 4; i++ {
			closes = append(closes, base-float64(i)*0.3)
		}
		base -= 1.2
		base += 2.0
	}
	return seriesFromCloses(t, closes)
}

func zigzagDown(t *testing.T) []models.Bar {
	t.Helper()
	up := zigzagUp(t)
	// Mirror the rising series around its first close.
	pivot := up[0].Close
	out := make([]models.Bar, len(up))
	for i, b := range up {
		out[i] = models.Bar{
			Timestamp: b.Timestamp,
			Open:      2*pivot - b.Open,
			High:      2*pivot - b.Low,
			Low:       2*pivot - b.High,
			Close:     2*pivot - b.Close,
			Volume:    b.Volume,
		}
	}
	return out
}

func TestFindSwings(t *testing.T) {
	window := zigzagUp(t)
	swings := FindSwings(window, 3)
	require.NotEmpty(t, swings)

	for _, s := range swings {
		assert.GreaterOrEqual(t, s.Index, 3)
		assert.Less(t, s.Index, len(window)-3)
		assert.Greater(t, s.Strength, 0.0)
		if s.Kind == SwingHigh {
			assert.Equal(t, window[s.Index].High, s.Price)
		} else {
			assert.Equal(t, window[s.Index].Low, s.Price)
		}
	}

	assert.Empty(t, FindSwings(window[:5], 5), "window shorter than neighborhood yields no swings")
}

func TestClassifyStructure(t *testing.T) {
	upSwings := FindSwings(zigzagUp(t), 3)
	assert.Equal(t, StructureBullish, ClassifyStructure(upSwings))

	downSwings := FindSwings(zigzagDown(t), 3)
	assert.Equal(t, StructureBearish, ClassifyStructure(downSwings))

	assert.Equal(t, StructureRanging, ClassifyStructure(nil))
}

func TestDetectBOS(t *testing.T) {
	// Flat range with one swing high, then a confirmed break above it.
	closes := []float64{100, 100.5, 101, 102, 101, 100.5, 100, 100.2, 100.4, 100.3,
		100.5, 101.5, 102.5, 102.8, 103.0}
	window := seriesFromCloses(t, closes)

	swings := FindSwings(window, 3)
	require.NotEmpty(t, swings)

	bos := DetectBOS(window, swings, 2)
	require.NotNil(t, bos)
	assert.Equal(t, StructureBullish, bos.Direction)
	assert.Greater(t, bos.ConfirmedAt, bos.SwingIndex)

	// A stricter confirmation count that the tail never satisfies yields no
	// break.
	assert.Nil(t, DetectBOS(window, swings, 5))
}

func TestDailyBias_Labels(t *testing.T) {
	eng := NewEngine(Config{SwingLookback: 3}, nil)

	up := eng.DailyBias("SPY", models.TimeframeM5, zigzagUp(t), time.Now())
	assert.Equal(t, StructureBullish, up.Structure)
	assert.Contains(t, []Label{LabelLong, LabelLongIntoEQ}, up.Label)
	// The rising series ends near its high, above the midpoint.
	assert.Equal(t, LabelLong, up.Label)

	down := eng.DailyBias("SPY", models.TimeframeM5, zigzagDown(t), time.Now())
	assert.Equal(t, StructureBearish, down.Structure)
	assert.Equal(t, LabelShort, down.Label)
}

func TestDailyBias_EmptyWindowNeutral(t *testing.T) {
	eng := NewEngine(Config{}, nil)

	res := eng.DailyBias("SPY", models.TimeframeM5, nil, time.Now())
	assert.Equal(t, LabelNeutral, res.Label)
	assert.NotEmpty(t, res.Warnings)
}

func sessionBoundary(name string, startHour, endHour int) sessions.Boundary {
	day := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	return sessions.Boundary{
		Name:  name,
		Start: day.Add(time.Duration(startHour) * time.Hour),
		End:   day.Add(time.Duration(endHour) * time.Hour),
	}
}

func profileBars(prices [][3]float64, startHour int) []models.Bar {
	day := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	out := make([]models.Bar, 0, len(prices))
	for i, p := range prices {
		out = append(out, models.Bar{
			Timestamp: day.Add(time.Duration(startHour)*time.Hour + time.Duration(i)*time.Hour),
			Open:      p[0], High: p[1], Low: p[2], Close: p[0], Volume: 1,
		})
	}
	return out
}

func TestDayProfile(t *testing.T) {
	asia := sessionBoundary("asia", 0, 4)
	london := sessionBoundary("london", 4, 6)
	ny := sessionBoundary("newyork", 6, 16)
	bounds := []sessions.Boundary{asia, london, ny}

	// Asia ranges 100-101, London 100.2-100.8, NY breaks above both: the
	// London high is swept, so the day reads P1.
	window := profileBars([][3]float64{
		{100.5, 101.0, 100.0}, // asia
		{100.5, 100.9, 100.1},
		{100.4, 100.8, 100.2}, // london
		{100.5, 100.7, 100.3},
		{100.6, 101.5, 100.5}, // ny sweeps both
		{101.0, 102.0, 100.9},
	}, 2)
	res := DayProfile(window, bounds)
	assert.Equal(t, ProfileP1Reversal, res.Profile)

	// NY stays inside the London range but exceeds Asia's low: P2.
	window = profileBars([][3]float64{
		{100.5, 100.8, 100.4}, // asia (tight)
		{100.5, 100.7, 100.4},
		{100.4, 101.5, 100.0}, // london sets the day's wide range
		{100.5, 101.2, 100.2},
		{100.4, 100.9, 100.3}, // ny sweeps asia low only
		{100.4, 100.6, 100.1},
	}, 2)
	res = DayProfile(window, bounds)
	assert.Equal(t, ProfileP2Expansion, res.Profile)

	// Nothing swept: P3.
	window = profileBars([][3]float64{
		{100.5, 101.0, 100.0}, // asia sets the range
		{100.5, 100.9, 100.1},
		{100.5, 100.8, 100.2}, // london inside
		{100.5, 100.7, 100.3},
		{100.5, 100.6, 100.4}, // ny inside
		{100.5, 100.6, 100.4},
	}, 2)
	res = DayProfile(window, bounds)
	assert.Equal(t, ProfileP3Continuation, res.Profile)

	empty := DayProfile(nil, bounds)
	assert.Equal(t, ProfileP3Continuation, empty.Profile)
	assert.NotEmpty(t, empty.Warnings)
}
