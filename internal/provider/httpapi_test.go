package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/intraday/internal/models"
)

func serveBars(t *testing.T, handler http.HandlerFunc) *HTTPProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	p, err := NewHTTPProvider(HTTPProviderConfig{
		Name:    "test",
		BaseURL: srv.URL,
		APIKey:  "secret",
		Client:  srv.Client(),
	})
	require.NoError(t, err)
	return p
}

func TestHTTPProvider_GetBars(t *testing.T) {
	var gotAuth, gotInterval, gotSymbol string
	p := serveBars(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotInterval = r.URL.Query().Get("interval")
		gotSymbol = r.URL.Query().Get("symbol")
		_ = json.NewEncoder(w).Encode(barsResponse{Bars: []wireBar{
			{Timestamp: "2024-03-01T14:35:00Z", Open: 101, High: 102, Low: 100.5, Close: 101.5, Volume: 900},
			{Timestamp: "2024-03-01T14:30:00Z", Open: 100, High: 101, Low: 99.5, Close: 100.8, Volume: 1200},
		}})
	})

	got, err := p.GetBars(context.Background(), Request{
		Symbol:    models.Symbol{Canonical: "SPY", Kind: models.SymbolStock, Root: "SPY"},
		Timeframe: models.TimeframeM5,
	})
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, "5m", gotInterval)
	assert.Equal(t, "SPY", gotSymbol)
	assert.True(t, got[0].Timestamp.Before(got[1].Timestamp), "bars re-sorted ascending")
}

func TestHTTPProvider_RateLimitMapsToTypedError(t *testing.T) {
	p := serveBars(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "60")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := p.GetBars(context.Background(), Request{
		Symbol:    models.Symbol{Canonical: "SPY", Kind: models.SymbolStock, Root: "SPY"},
		Timeframe: models.TimeframeM5,
	})
	require.Error(t, err)

	var rle *models.RateLimitError
	require.ErrorAs(t, err, &rle)
	assert.Equal(t, 60*time.Second, rle.RetryAfter)
}

func TestHTTPProvider_ServerErrorWrapsAPIError(t *testing.T) {
	p := serveBars(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	})

	_, err := p.GetBars(context.Background(), Request{
		Symbol:    models.Symbol{Canonical: "SPY", Kind: models.SymbolStock, Root: "SPY"},
		Timeframe: models.TimeframeM5,
	})
	require.Error(t, err)
	assert.Equal(t, models.KindProviderTransport, models.KindOf(err))

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
}

func TestHTTPProvider_RejectsInvalidUpstreamBars(t *testing.T) {
	p := serveBars(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(barsResponse{Bars: []wireBar{
			{Timestamp: "2024-03-01T14:30:00Z", Open: 100, High: 99, Low: 98, Close: 100, Volume: 1},
		}})
	})

	_, err := p.GetBars(context.Background(), Request{
		Symbol:    models.Symbol{Canonical: "SPY", Kind: models.SymbolStock, Root: "SPY"},
		Timeframe: models.TimeframeM5,
	})
	require.Error(t, err, "a bar violating OHLC invariants must not pass through")
}

func TestHTTPProvider_ValidateSymbol(t *testing.T) {
	p := serveBars(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/symbols/SPY" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})

	ok, err := p.ValidateSymbol(context.Background(), "spy")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = p.ValidateSymbol(context.Background(), "ZZZZZZZ")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNewHTTPProvider_Validation(t *testing.T) {
	_, err := NewHTTPProvider(HTTPProviderConfig{Name: "x"})
	require.Error(t, err)

	_, err = NewHTTPProvider(HTTPProviderConfig{BaseURL: "http://example.com"})
	require.Error(t, err)
}
