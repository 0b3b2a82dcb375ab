package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/quantfold/intraday/internal/models"
)

// APIError represents an upstream HTTP error with status code and body.
type APIError struct {
	Provider string
	Status   int
	Body     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error %d: %s", e.Provider, e.Status, e.Body)
}

const defaultHTTPTimeout = 15 * time.Second

// HTTPProvider adapts a JSON bars API to the Provider contract. The wire
// shape is the common vendor layout: GET {base}/bars with symbol, interval,
// from, to, and limit query parameters returning {"bars": [...]}.
type HTTPProvider struct {
	name    string
	client  *http.Client
	baseURL string
	apiKey  string
	caps    Capabilities
}

// HTTPProviderConfig configures an HTTP adapter.
type HTTPProviderConfig struct {
	Name    string
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// Client overrides the default http.Client, mainly for tests.
	Client       *http.Client
	Capabilities *Capabilities
}

// NewHTTPProvider creates an HTTP bars adapter.
func NewHTTPProvider(cfg HTTPProviderConfig) (*HTTPProvider, error) {
	if strings.TrimSpace(cfg.Name) == "" {
		return nil, models.NewError(models.KindConfiguration, models.CodeInvalidArgs,
			"http provider requires a name", nil)
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, models.NewError(models.KindConfiguration, models.CodeInvalidArgs,
			fmt.Sprintf("http provider %q requires a base URL", cfg.Name), nil)
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("http provider %q: bad base URL: %w", cfg.Name, err)
	}

	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultHTTPTimeout
		}
		client = &http.Client{Timeout: timeout}
	}

	caps := Capabilities{
		SupportedTimeframes: models.Timeframes(),
		MaxBarsPerRequest:   5000,
		NeedsAuth:           cfg.APIKey != "",
	}
	if cfg.Capabilities != nil {
		caps = *cfg.Capabilities
	}

	return &HTTPProvider{
		name:    cfg.Name,
		client:  client,
		baseURL: base,
		apiKey:  cfg.APIKey,
		caps:    caps,
	}, nil
}

// Name implements Provider.
func (p *HTTPProvider) Name() string { return p.name }

// Capabilities implements Provider.
func (p *HTTPProvider) Capabilities() Capabilities { return p.caps }

// wireBar is the upstream JSON bar shape.
type wireBar struct {
	Timestamp string  `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

type barsResponse struct {
	Bars []wireBar `json:"bars"`
}

// GetBars implements Provider.
func (p *HTTPProvider) GetBars(ctx context.Context, req Request) ([]models.Bar, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("symbol", req.Symbol.Canonical)
	q.Set("interval", req.Timeframe.String())
	if !req.From.IsZero() {
		q.Set("from", req.From.UTC().Format(time.RFC3339))
	}
	if !req.To.IsZero() {
		q.Set("to", req.To.UTC().Format(time.RFC3339))
	}
	limit := req.Limit
	if limit <= 0 || (p.caps.MaxBarsPerRequest > 0 && limit > p.caps.MaxBarsPerRequest) {
		limit = p.caps.MaxBarsPerRequest
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var resp barsResponse
	if err := p.getJSON(ctx, "/bars", q, &resp); err != nil {
		return nil, err
	}

	out := make([]models.Bar, 0, len(resp.Bars))
	for i, wb := range resp.Bars {
		ts, err := time.Parse(time.RFC3339, wb.Timestamp)
		if err != nil {
			return nil, models.WrapError(models.KindProviderTransport, models.CodeProviderError,
				fmt.Sprintf("%s: bar %d has bad timestamp %q", p.name, i, wb.Timestamp), err)
		}
		b := models.Bar{
			Timestamp: ts.UTC(),
			Open:      wb.Open,
			High:      wb.High,
			Low:       wb.Low,
			Close:     wb.Close,
			Volume:    wb.Volume,
		}
		if err := b.Validate(); err != nil {
			return nil, models.WrapError(models.KindProviderTransport, models.CodeProviderError,
				fmt.Sprintf("%s: bar %d failed validation", p.name, i), err)
		}
		out = append(out, b)
	}
	return models.NormalizeBars(out), nil
}

// ValidateSymbol implements Provider via a lightweight upstream lookup.
// Unknown symbols come back 404; anything else is a transport problem.
func (p *HTTPProvider) ValidateSymbol(ctx context.Context, symbol string) (bool, error) {
	sym, err := models.NormalizeSymbol(symbol)
	if err != nil {
		return false, nil
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		p.baseURL+"/symbols/"+url.PathEscape(sym.Canonical), nil)
	if err != nil {
		return false, fmt.Errorf("building symbol request: %w", err)
	}
	p.decorate(httpReq)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return false, models.WrapError(models.KindProviderTransport, models.CodeProviderError,
			fmt.Sprintf("%s: symbol lookup", p.name), err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusOK:
		return true, nil
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	default:
		return false, p.statusError(resp.StatusCode, "")
	}
}

func (p *HTTPProvider) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	u := p.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	p.decorate(httpReq)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return models.WrapError(models.KindProviderTransport, models.CodeProviderError,
			fmt.Sprintf("%s: %s", p.name, path), err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return models.WrapError(models.KindProviderTransport, models.CodeProviderError,
			fmt.Sprintf("%s: reading response", p.name), err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return &models.RateLimitError{
			Provider:   p.name,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	if resp.StatusCode != http.StatusOK {
		return p.statusError(resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return models.WrapError(models.KindProviderTransport, models.CodeProviderError,
			fmt.Sprintf("%s: decoding response", p.name), err)
	}
	return nil
}

func (p *HTTPProvider) decorate(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
}

func (p *HTTPProvider) statusError(status int, body string) error {
	if len(body) > 512 {
		body = body[:512]
	}
	return models.WrapError(models.KindProviderTransport, models.CodeProviderError,
		fmt.Sprintf("%s upstream failure", p.name),
		&APIError{Provider: p.name, Status: status, Body: body})
}

func parseRetryAfter(h string) time.Duration {
	h = strings.TrimSpace(h)
	if h == "" {
		return 0
	}
	if secs, err := strconv.Atoi(h); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(h); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
