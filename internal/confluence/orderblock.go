package confluence

import "github.com/quantfold/intraday/internal/models"

// OrderBlock is the last opposite-direction candle immediately preceding a
// significant directional move.
type OrderBlock struct {
	Direction   Direction `json:"direction"`
	Low         float64   `json:"low"`
	High        float64   `json:"high"`
	OriginIndex int       `json:"origin_index"`
	Volume      float64   `json:"volume"`
	Mitigated   bool      `json:"mitigated"`
	Strength    float64   `json:"strength"`
}

// OrderBlockOptions controls move detection.
type OrderBlockOptions struct {
	// MoveThreshold is the cumulative close-to-close delta that qualifies a
	// directional move.
	MoveThreshold float64
	// MoveMaxBars bounds how many bars the cumulative delta may span.
	MoveMaxBars int
}

// ScanOrderBlocks finds directional moves whose cumulative close delta
// exceeds the threshold within at most MoveMaxBars, then anchors the order
// block on the last opposite-color candle strictly before the move start.
// Blocks are marked mitigated when price later trades back through the far
// edge of the zone. Output preserves chronological move order; one origin
// candle yields at most one block.
func ScanOrderBlocks(window []models.Bar, opts OrderBlockOptions) []OrderBlock {
	if len(window) < 2 || opts.MoveThreshold <= 0 {
		return nil
	}
	maxBars := opts.MoveMaxBars
	if maxBars <= 0 {
		maxBars = 5
	}

	var blocks []OrderBlock
	seen := make(map[int]bool)

	for start := 1; start < len(window); start++ {
		var cum float64
		for k := 0; k < maxBars && start+k < len(window); k++ {
			cum += window[start+k].Close - window[start+k-1].Close

			var dir Direction
			switch {
			case cum >= opts.MoveThreshold:
				dir = Bullish
			case cum <= -opts.MoveThreshold:
				dir = Bearish
			default:
				continue
			}

			origin := lastOppositeCandle(window, start, dir)
			if origin < 0 || seen[origin] {
				break
			}
			seen[origin] = true
			ob := window[origin]
			blocks = append(blocks, OrderBlock{
				Direction:   dir,
				Low:         ob.Low,
				High:        ob.High,
				OriginIndex: origin,
				Volume:      ob.Volume,
				Strength:    abs(cum) / opts.MoveThreshold,
			})
			break
		}
	}

	for bi := range blocks {
		b := &blocks[bi]
		for j := b.OriginIndex + 1; j < len(window); j++ {
			if b.Direction == Bullish && window[j].Low < b.Low {
				b.Mitigated = true
				break
			}
			if b.Direction == Bearish && window[j].High > b.High {
				b.Mitigated = true
				break
			}
		}
	}
	return blocks
}

// lastOppositeCandle walks backwards from just before the move start looking
// for the nearest candle colored against the move.
func lastOppositeCandle(window []models.Bar, moveStart int, dir Direction) int {
	for i := moveStart - 1; i >= 0; i-- {
		if dir == Bullish && window[i].Bearish() {
			return i
		}
		if dir == Bearish && window[i].Bullish() {
			return i
		}
	}
	return -1
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
