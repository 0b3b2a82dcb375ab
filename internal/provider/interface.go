// Package provider implements market-data adapters and the composite
// provider that degrades gracefully across them: ranked fallback, retries
// with backoff, per-adapter circuit breakers, and health tracking.
package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/quantfold/intraday/internal/bars"
	"github.com/quantfold/intraday/internal/models"
)

// Request describes a bar fetch. From/To are inclusive; zero values leave a
// side unbounded. Limit of zero means provider default.
type Request struct {
	Symbol    models.Symbol
	Timeframe models.Timeframe
	From      time.Time
	To        time.Time
	Limit     int
}

// Validate rejects malformed requests before any network traffic.
func (r Request) Validate() error {
	if r.Symbol.Canonical == "" {
		return models.NewError(models.KindValidation, models.CodeInvalidArgs, "request has no symbol", nil)
	}
	if !r.Timeframe.Valid() {
		return models.NewError(models.KindValidation, models.CodeInvalidArgs,
			fmt.Sprintf("request has unknown timeframe %q", r.Timeframe), nil)
	}
	if !r.From.IsZero() && !r.To.IsZero() && r.To.Before(r.From) {
		return models.NewError(models.KindValidation, models.CodeInvalidArgs, "request to precedes from", nil)
	}
	if r.Limit < 0 {
		return models.NewError(models.KindValidation, models.CodeInvalidArgs, "request limit is negative", nil)
	}
	return nil
}

// Capabilities advertises what an adapter can serve.
type Capabilities struct {
	SupportedTimeframes   []models.Timeframe
	MaxBarsPerRequest     int
	NeedsAuth             bool
	RateLimitPerMinute    int
	HistoricalFrom        time.Time
	SupportsExtendedHours bool
	SupportsRealtime      bool
}

// Supports reports whether the adapter serves tf natively.
func (c Capabilities) Supports(tf models.Timeframe) bool {
	for _, t := range c.SupportedTimeframes {
		if t == tf {
			return true
		}
	}
	return false
}

// FinestUnder returns the finest supported timeframe that divides tf evenly,
// for adapters that must serve a coarse request by aggregating finer bars.
func (c Capabilities) FinestUnder(tf models.Timeframe) (models.Timeframe, bool) {
	for _, t := range models.Timeframes() {
		if !c.Supports(t) {
			continue
		}
		if _, ok := tf.MultipleOf(t); ok {
			return t, true
		}
	}
	return "", false
}

// Provider is the uniform adapter contract over one upstream source.
type Provider interface {
	Name() string
	Capabilities() Capabilities
	// GetBars returns bars within [From, To], ascending and deduplicated.
	GetBars(ctx context.Context, req Request) ([]models.Bar, error)
	ValidateSymbol(ctx context.Context, symbol string) (bool, error)
}

// BarHandler receives streamed bars from a realtime subscription.
type BarHandler func(symbol string, bar models.Bar)

// Streamer is implemented by adapters that can push realtime bars. Subscribe
// returns a cancel function for the single subscription.
type Streamer interface {
	Subscribe(ctx context.Context, symbol string, handler BarHandler) (func(), error)
}

// fetchBars runs one adapter request, downshifting to a finer timeframe and
// aggregating when the adapter lacks the requested one. Results are
// normalized and clipped to the requested range.
func fetchBars(ctx context.Context, p Provider, req Request) ([]models.Bar, error) {
	caps := p.Capabilities()

	if caps.Supports(req.Timeframe) {
		got, err := p.GetBars(ctx, req)
		if err != nil {
			return nil, err
		}
		return models.ClipBars(models.NormalizeBars(got), req.From, req.To), nil
	}

	fine, ok := caps.FinestUnder(req.Timeframe)
	if !ok {
		return nil, models.NewError(models.KindProviderTransport, models.CodeProviderError,
			fmt.Sprintf("provider %s supports neither %s nor a finer divisor", p.Name(), req.Timeframe), nil)
	}

	factor, _ := req.Timeframe.MultipleOf(fine)
	fineReq := req
	fineReq.Timeframe = fine
	if req.Limit > 0 {
		fineReq.Limit = req.Limit * factor
	}
	// Widen the lower bound so the first coarse bucket is complete.
	if !fineReq.From.IsZero() {
		fineReq.From = req.Timeframe.Floor(fineReq.From)
	}

	got, err := p.GetBars(ctx, fineReq)
	if err != nil {
		return nil, err
	}
	agg, err := bars.Aggregate(models.NormalizeBars(got), fine, req.Timeframe)
	if err != nil {
		return nil, models.WrapError(models.KindProviderTransport, models.CodeProviderError,
			fmt.Sprintf("aggregating %s bars from %s", req.Timeframe, p.Name()), err)
	}
	out := models.ClipBars(agg, req.From, req.To)
	if req.Limit > 0 && len(out) > req.Limit {
		out = out[len(out)-req.Limit:]
	}
	return out, nil
}
