package bias

import "github.com/quantfold/intraday/internal/models"

// Structure is the trend state read from the last two swing pairs.
type Structure string

const (
	// StructureBullish means higher highs and higher lows.
	StructureBullish Structure = "bullish"
	// StructureBearish means lower highs and lower lows.
	StructureBearish Structure = "bearish"
	// StructureRanging means the swing pairs conflict.
	StructureRanging Structure = "ranging"
)

// ClassifyStructure inspects the latest two swing highs and two swing lows.
// HH+HL confirms bullish, LH+LL confirms bearish, anything else ranges.
func ClassifyStructure(swings []SwingPoint) Structure {
	highs := lastTwo(swings, SwingHigh)
	lows := lastTwo(swings, SwingLow)
	if len(highs) < 2 || len(lows) < 2 {
		return StructureRanging
	}

	hh := highs[1].Price > highs[0].Price
	hl := lows[1].Price > lows[0].Price
	lh := highs[1].Price < highs[0].Price
	ll := lows[1].Price < lows[0].Price

	switch {
	case hh && hl:
		return StructureBullish
	case lh && ll:
		return StructureBearish
	default:
		return StructureRanging
	}
}

// BreakOfStructure records a confirmed crossing of a prior swing extreme.
type BreakOfStructure struct {
	// Direction is bullish when a swing high broke, bearish for a swing low.
	Direction   Structure `json:"direction"`
	Level       float64   `json:"level"`
	SwingIndex  int       `json:"swing_index"`
	ConfirmedAt int       `json:"confirmed_at"`
}

// DefaultBOSConfirmationCandles is how many consecutive closes beyond the
// level confirm a break.
const DefaultBOSConfirmationCandles = 2

// DetectBOS finds the most recent confirmed break of structure: at least
// confirm consecutive closes beyond the latest prior swing extreme. Returns
// nil when no break is confirmed.
func DetectBOS(window []models.Bar, swings []SwingPoint, confirm int) *BreakOfStructure {
	if confirm <= 0 {
		confirm = DefaultBOSConfirmationCandles
	}

	var latest *BreakOfStructure
	for _, s := range swings {
		level := s.Price
		run := 0
		for i := s.Index + 1; i < len(window); i++ {
			broke := (s.Kind == SwingHigh && window[i].Close > level) ||
				(s.Kind == SwingLow && window[i].Close < level)
			if !broke {
				run = 0
				continue
			}
			run++
			if run < confirm {
				continue
			}

			dir := StructureBullish
			if s.Kind == SwingLow {
				dir = StructureBearish
			}
			if latest == nil || i >= latest.ConfirmedAt {
				latest = &BreakOfStructure{
					Direction:   dir,
					Level:       level,
					SwingIndex:  s.Index,
					ConfirmedAt: i,
				}
			}
			break
		}
	}
	return latest
}
