package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func newTestServer(t *testing.T, dispatcher Dispatcher) *Server {
	t.Helper()
	if dispatcher == nil {
		dispatcher = DispatcherFunc(func(context.Context, Alert) error { return nil })
	}
	logger := logrus.New()
	logger.SetOutput(bytes.NewBuffer(nil))

	s, err := NewServer(Config{
		Secret:              testSecret,
		RateLimitPerMinute:  5,
		RateLimitPerHour:    100,
		DeduplicationWindow: time.Minute,
	}, dispatcher, nil, logger)
	require.NoError(t, err)
	return s
}

func sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func validPayload(tsOffset time.Duration) []byte {
	payload := map[string]any{
		"symbol":    "SPY",
		"type":      "momentum",
		"timeframe": "5m",
		"timestamp": time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC).Add(tsOffset).UnixMilli(),
		"price":     512.35,
		"direction": "long",
	}
	b, _ := json.Marshal(payload)
	return b
}

func post(s *Server, body []byte, mutate func(*http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Signature", sign(body))
	req.RemoteAddr = "203.0.113.9:4455"
	if mutate != nil {
		mutate(req)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestWebhook_HappyPath(t *testing.T) {
	var got *Alert
	s := newTestServer(t, DispatcherFunc(func(_ context.Context, a Alert) error {
		got = &a
		return nil
	}))

	rec := post(s, validPayload(0), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp alertResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.NotEmpty(t, resp.AlertID)
	assert.NotEmpty(t, resp.ProcessingTime)

	require.NotNil(t, got)
	assert.Equal(t, "SPY", got.Symbol)
	require.NotNil(t, got.Price)
	assert.InDelta(t, 512.35, *got.Price, 1e-9)

	counters := s.Snapshot()
	assert.Equal(t, int64(1), counters.TotalAlerts)
	assert.Equal(t, int64(1), counters.ValidAlerts)
}

func TestWebhook_ContentTypeRejected(t *testing.T) {
	s := newTestServer(t, nil)

	rec := post(s, validPayload(0), func(r *http.Request) {
		r.Header.Set("Content-Type", "text/plain")
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "INVALID_CONTENT_TYPE", resp.Code)
}

func TestWebhook_SignatureRejected(t *testing.T) {
	s := newTestServer(t, nil)

	rec := post(s, validPayload(0), func(r *http.Request) {
		r.Header.Set("X-Signature", "sha256=deadbeef")
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "INVALID_SIGNATURE", resp.Code)

	rec = post(s, validPayload(0), func(r *http.Request) {
		r.Header.Del("X-Signature")
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhook_Duplicate(t *testing.T) {
	s := newTestServer(t, nil)
	body := validPayload(0)

	first := post(s, body, nil)
	require.Equal(t, http.StatusOK, first.Code)

	second := post(s, body, nil)
	require.Equal(t, http.StatusOK, second.Code)

	var resp alertResponse
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &resp))
	assert.Equal(t, "duplicate", resp.Status)

	counters := s.Snapshot()
	assert.Equal(t, int64(1), counters.DuplicateAlerts)
	assert.Equal(t, int64(1), counters.ValidAlerts, "duplicate must not double-count valid")
}

func TestWebhook_RateLimit(t *testing.T) {
	s := newTestServer(t, nil)

	var lastCode int
	var lastBody []byte
	for i := 0; i < 6; i++ {
		rec := post(s, validPayload(time.Duration(i)*time.Second), nil)
		lastCode = rec.Code
		lastBody = rec.Body.Bytes()
	}
	require.Equal(t, http.StatusTooManyRequests, lastCode)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(lastBody, &resp))
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", resp.Code)
	assert.Greater(t, resp.RetryAfter, 0)

	counters := s.Snapshot()
	assert.Equal(t, int64(1), counters.RateLimitedAlerts)
}

func TestWebhook_InvalidJSONAndFormat(t *testing.T) {
	s := newTestServer(t, nil)

	rec := post(s, []byte("{not json"), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "INVALID_JSON", resp.Code)

	// Missing required symbol.
	body, _ := json.Marshal(map[string]any{
		"type": "x", "timeframe": "5m", "timestamp": 1709649000000,
	})
	rec = post(s, body, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "INVALID_FORMAT", resp.Code)
}

func TestWebhook_RejectsAnalysisTimestamp(t *testing.T) {
	s := newTestServer(t, nil)

	body, _ := json.Marshal(map[string]any{
		"symbol": "SPY", "type": "x", "timeframe": "5m",
		"timestamp":         1709649000000,
		"analysisTimestamp": 1709649000000,
	})
	rec := post(s, body, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "INVALID_FORMAT", resp.Code)
}

func TestWebhook_BodyTooLarge(t *testing.T) {
	s := newTestServer(t, nil)

	big := make([]byte, maxBodyBytes+10)
	for i := range big {
		big[i] = 'a'
	}
	rec := post(s, big, nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestWebhook_DispatchErrorCounted(t *testing.T) {
	s := newTestServer(t, DispatcherFunc(func(context.Context, Alert) error {
		return errors.New("engine exploded")
	}))

	rec := post(s, validPayload(0), nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, int64(1), s.Snapshot().ProcessingErrors)
}

func TestWebhook_NumericCoercion(t *testing.T) {
	var got *Alert
	s := newTestServer(t, DispatcherFunc(func(_ context.Context, a Alert) error {
		got = &a
		return nil
	}))

	body, _ := json.Marshal(map[string]any{
		"symbol": "spy", "type": "level", "timeframe": "1h",
		"timestamp": "2024-03-05T14:30:00Z",
		"price":     "512.50", // numeric string coerces
		"rsi":       "not-a-number",
		"volume":    "NaN",
	})
	rec := post(s, body, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	require.NotNil(t, got)
	assert.Equal(t, "SPY", got.Symbol, "symbol normalized to canonical uppercase")
	require.NotNil(t, got.Price)
	assert.InDelta(t, 512.50, *got.Price, 1e-9)
	assert.Nil(t, got.RSI, "unparseable numerics drop")
	assert.Nil(t, got.Volume, "NaN drops")
}

func TestSlidingLimiter_Windows(t *testing.T) {
	l := newSlidingLimiter(2, 3)
	now := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	ok, _ := l.allow("a")
	assert.True(t, ok)
	ok, _ = l.allow("a")
	assert.True(t, ok)
	ok, retry := l.allow("a")
	assert.False(t, ok, "third hit in a minute blocked")
	assert.Greater(t, retry, time.Duration(0))

	// Other sources are independent.
	ok, _ = l.allow("b")
	assert.True(t, ok)

	// After the minute window passes, the hour window still applies.
	now = now.Add(2 * time.Minute)
	ok, _ = l.allow("a")
	assert.True(t, ok)
	ok, retry = l.allow("a")
	assert.False(t, ok, "hour cap of 3 reached")
	assert.Greater(t, retry, time.Duration(0))
}

func TestDedupStore_WindowExpiry(t *testing.T) {
	d := newDedupStore(time.Minute)
	now := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }

	assert.False(t, d.observe("k"))
	assert.True(t, d.observe("k"))

	now = now.Add(61 * time.Second)
	assert.False(t, d.observe("k"), "expired key re-admits")
}
