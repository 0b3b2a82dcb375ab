package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/quantfold/intraday/internal/models"
)

// Per-timeframe TTLs for cached bars. Short frames go stale fast; daily bars
// survive the trading day.
var timeframeTTLs = map[models.Timeframe]time.Duration{
	models.TimeframeM1:  time.Minute,
	models.TimeframeM5:  5 * time.Minute,
	models.TimeframeM10: 10 * time.Minute,
	models.TimeframeH1:  time.Hour,
	models.TimeframeH4:  4 * time.Hour,
	models.TimeframeD1:  24 * time.Hour,
}

// TTLFor returns the cache TTL for a timeframe, honoring overrides first.
func TTLFor(tf models.Timeframe, overrides map[models.Timeframe]time.Duration) time.Duration {
	if d, ok := overrides[tf]; ok && d > 0 {
		return d
	}
	if d, ok := timeframeTTLs[tf]; ok {
		return d
	}
	return time.Minute
}

// BarsKey builds the deterministic composite bars key:
// composite:bars:{symbol}:{timeframe}:{from|null}:{to|null}:{limit|null}.
func BarsKey(symbol string, tf models.Timeframe, from, to time.Time, limit int) string {
	fromPart, toPart, limitPart := "null", "null", "null"
	if !from.IsZero() {
		fromPart = from.UTC().Format(time.RFC3339)
	}
	if !to.IsZero() {
		toPart = to.UTC().Format(time.RFC3339)
	}
	if limit > 0 {
		limitPart = fmt.Sprintf("%d", limit)
	}
	return fmt.Sprintf("composite:bars:%s:%s:%s:%s:%s", symbol, tf, fromPart, toPart, limitPart)
}

// ReportKey builds the report cache key:
// {kind}:{symbol}:{timeframe}:{YYYY-MM-DD}:{configHash}:v1.
func ReportKey(kind, symbol string, tf models.Timeframe, date, configHash string) string {
	return fmt.Sprintf("%s:%s:%s:%s:%s:v1", kind, symbol, tf, date, configHash)
}

// ConfigHash derives a short stable hash from any JSON-serializable config so
// report cache entries are invalidated when analysis settings change.
func ConfigHash(cfg any) string {
	b, err := json.Marshal(cfg)
	if err != nil {
		return "unhashable"
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])[:12]
}
