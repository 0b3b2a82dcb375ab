// Package bars implements timeframe aggregation and bar-series statistics.
package bars

import (
	"fmt"
	"math"

	"github.com/quantfold/intraday/internal/models"
)

// AggregateOptions tunes Aggregate behavior.
type AggregateOptions struct {
	// AllowPartial keeps the trailing bucket even when it holds fewer source
	// bars than the full factor. Off by default so consumers never see a
	// half-built candle.
	AllowPartial bool
}

// Aggregate folds bars of a finer timeframe into a coarser one. The target
// duration must be a whole multiple of the source duration. Buckets are
// floored on the target grid; each output bar carries the bucket start as its
// timestamp, first open, max high, min low, last close, and summed volume.
func Aggregate(in []models.Bar, from, to models.Timeframe, opts ...AggregateOptions) ([]models.Bar, error) {
	var opt AggregateOptions
	if len(opts) > 0 {
		opt = opts[0]
	}

	if !from.Valid() || !to.Valid() {
		return nil, models.NewError(models.KindValidation, models.CodeInvalidArgs,
			fmt.Sprintf("aggregate %s -> %s: unknown timeframe", from, to), nil)
	}
	factor, ok := to.MultipleOf(from)
	if !ok {
		return nil, models.NewError(models.KindValidation, models.CodeInvalidArgs,
			fmt.Sprintf("aggregate %s -> %s: target is not a whole multiple of source", from, to), nil)
	}
	if factor == 1 {
		out := make([]models.Bar, len(in))
		copy(out, in)
		return out, nil
	}
	if len(in) == 0 {
		return nil, nil
	}

	src := models.NormalizeBars(in)

	var out []models.Bar
	var cur *models.Bar
	var count int
	for _, b := range src {
		bucket := to.Floor(b.Timestamp)
		if cur == nil || !cur.Timestamp.Equal(bucket) {
			if cur != nil {
				out = append(out, *cur)
			}
			nb := models.Bar{
				Timestamp: bucket,
				Open:      b.Open,
				High:      b.High,
				Low:       b.Low,
				Close:     b.Close,
				Volume:    b.Volume,
			}
			cur = &nb
			count = 1
			continue
		}
		cur.High = math.Max(cur.High, b.High)
		cur.Low = math.Min(cur.Low, b.Low)
		cur.Close = b.Close
		cur.Volume += b.Volume
		count++
	}
	if cur != nil && (opt.AllowPartial || count == factor) {
		out = append(out, *cur)
	}

	return out, nil
}
