package provider

import (
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
	"time"

	"github.com/quantfold/intraday/internal/models"
)

// RetryPolicy controls per-adapter retry behavior inside the composite.
type RetryPolicy struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	ExponentialBase float64
	Jitter          time.Duration
}

// DefaultRetryPolicy provides sensible defaults for upstream fetches.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:     3,
	InitialDelay:    250 * time.Millisecond,
	MaxDelay:        5 * time.Second,
	ExponentialBase: 2.0,
	Jitter:          100 * time.Millisecond,
}

// normalize fills unset fields from the defaults.
func (p RetryPolicy) normalize() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultRetryPolicy.MaxAttempts
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = DefaultRetryPolicy.InitialDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultRetryPolicy.MaxDelay
	}
	if p.MaxDelay < p.InitialDelay {
		p.MaxDelay = p.InitialDelay
	}
	if p.ExponentialBase <= 1 {
		p.ExponentialBase = DefaultRetryPolicy.ExponentialBase
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	return p
}

// delayFor computes the backoff before attempt n (0-based), capped at
// MaxDelay, plus a random jitter so synchronized clients fan out.
func (p RetryPolicy) delayFor(attempt int) time.Duration {
	d := float64(p.InitialDelay)
	for i := 0; i < attempt; i++ {
		d *= p.ExponentialBase
		if d >= float64(p.MaxDelay) {
			d = float64(p.MaxDelay)
			break
		}
	}
	delay := time.Duration(d)
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	if p.Jitter > 0 {
		if j, err := rand.Int(rand.Reader, big.NewInt(int64(p.Jitter))); err == nil {
			delay += time.Duration(j.Int64())
		}
	}
	return delay
}

// retryable reports whether an error is worth another attempt on the same
// adapter. Validation and symbol errors never retry; rate limits degrade to
// the next adapter instead of retrying; transport errors retry.
func retryable(err error) bool {
	if err == nil {
		return false
	}

	switch models.KindOf(err) {
	case models.KindValidation, models.KindSymbolResolution,
		models.KindProviderRateLimit, models.KindInsufficientBars,
		models.KindCancelled:
		return false
	case models.KindProviderTransport:
		return true
	}

	var rle *models.RateLimitError
	if errors.As(err, &rle) {
		return false
	}
	var sre *models.SymbolResolutionError
	if errors.As(err, &sre) {
		return false
	}
	var ibe *models.InsufficientBarsError
	if errors.As(err, &ibe) {
		return false
	}

	return isTransient(err)
}

// isTransient falls back to transport-level pattern matching for errors that
// carry no taxonomy (raw net/http failures and upstream status text).
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())

	transientPatterns := []string{
		"timeout",
		"i/o timeout",
		"connection refused",
		"connection reset",
		"temporary failure",
		"temporarily unavailable",
		"server error",
		"502",
		"503",
		"504",
		"network",
		"dns",
		"tcp",
		"no such host",
		"deadline exceeded",
		"tls handshake",
		"broken pipe",
		"eof",
	}
	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}
