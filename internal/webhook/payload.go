// Package webhook implements the alert ingest endpoint: signature
// verification, rate limiting, deduplication, and dispatch into the
// analysis pipeline.
package webhook

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/quantfold/intraday/internal/models"
)

// MACDValues carries the optional MACD block of an alert.
type MACDValues struct {
	Line      float64 `json:"line"`
	Signal    float64 `json:"signal"`
	Histogram float64 `json:"histogram"`
}

// ConfluenceHint carries the optional confluence block of an alert.
type ConfluenceHint struct {
	Score   float64   `json:"score"`
	Factors []string  `json:"factors,omitempty"`
	Levels  []float64 `json:"levels,omitempty"`
}

// Alert is a normalized inbound alert. Numeric fields that arrive as NaN or
// non-numeric are dropped to nil.
type Alert struct {
	ID         string           `json:"alert_id"`
	Symbol     string           `json:"symbol"`
	Type       string           `json:"type"`
	Timeframe  models.Timeframe `json:"timeframe"`
	Timestamp  time.Time        `json:"timestamp"`
	Price      *float64         `json:"price,omitempty"`
	Open       *float64         `json:"open,omitempty"`
	High       *float64         `json:"high,omitempty"`
	Low        *float64         `json:"low,omitempty"`
	Close      *float64         `json:"close,omitempty"`
	Volume     *float64         `json:"volume,omitempty"`
	RSI        *float64         `json:"rsi,omitempty"`
	MACD       *MACDValues      `json:"macd,omitempty"`
	Signal     string           `json:"signal,omitempty"`
	Action     string           `json:"action,omitempty"`
	Direction  string           `json:"direction,omitempty"`
	Confidence *float64         `json:"confidence,omitempty"`
	Strength   *float64         `json:"strength,omitempty"`
	Confluence *ConfluenceHint  `json:"confluence,omitempty"`
	StopLoss   *float64         `json:"stop_loss,omitempty"`
	TakeProfit *float64         `json:"take_profit,omitempty"`
	RiskReward *float64         `json:"risk_reward,omitempty"`
	Strategy   string           `json:"strategy,omitempty"`
	Version    string           `json:"version,omitempty"`
}

// DedupKey builds the duplicate-detection key:
// symbol|type|timeframe|floor(timestampMillis/1000).
func (a Alert) DedupKey() string {
	return fmt.Sprintf("%s|%s|%s|%d", a.Symbol, a.Type, a.Timeframe, a.Timestamp.UnixMilli()/1000)
}

// parseAlert normalizes a decoded JSON object into an Alert. Symbol, type,
// timeframe, and timestamp are required. The legacy analysisTimestamp field
// is rejected outright; timestamp is the one canonical name.
func parseAlert(raw map[string]json.RawMessage) (*Alert, error) {
	if _, has := raw["analysisTimestamp"]; has {
		return nil, models.NewError(models.KindValidation, models.CodeInvalidFormat,
			`field "analysisTimestamp" is not accepted; use "timestamp"`, nil)
	}

	symbolRaw, err := stringField(raw, "symbol", true)
	if err != nil {
		return nil, err
	}
	sym, err := models.NormalizeSymbol(symbolRaw)
	if err != nil {
		return nil, models.WrapError(models.KindValidation, models.CodeInvalidFormat,
			fmt.Sprintf("bad symbol %q", symbolRaw), err)
	}

	typ, err := stringField(raw, "type", true)
	if err != nil {
		return nil, err
	}

	tfRaw, err := stringField(raw, "timeframe", true)
	if err != nil {
		return nil, err
	}
	tf, err := models.ParseTimeframe(tfRaw)
	if err != nil {
		return nil, models.WrapError(models.KindValidation, models.CodeInvalidFormat,
			fmt.Sprintf("bad timeframe %q", tfRaw), err)
	}

	ts, err := timestampField(raw, "timestamp")
	if err != nil {
		return nil, err
	}

	alert := &Alert{
		Symbol:    sym.Canonical,
		Type:      typ,
		Timeframe: tf,
		Timestamp: ts,
	}

	alert.ID, _ = stringField(raw, "alertId", false)
	alert.Signal, _ = stringField(raw, "signal", false)
	alert.Action, _ = stringField(raw, "action", false)
	alert.Direction, _ = stringField(raw, "direction", false)
	alert.Strategy, _ = stringField(raw, "strategy", false)
	alert.Version, _ = stringField(raw, "version", false)

	alert.Price = numberField(raw, "price")
	alert.Open = numberField(raw, "open")
	alert.High = numberField(raw, "high")
	alert.Low = numberField(raw, "low")
	alert.Close = numberField(raw, "close")
	alert.Volume = numberField(raw, "volume")
	alert.RSI = numberField(raw, "rsi")
	alert.Confidence = numberField(raw, "confidence")
	alert.Strength = numberField(raw, "strength")
	alert.StopLoss = numberField(raw, "stopLoss")
	alert.TakeProfit = numberField(raw, "takeProfit")
	alert.RiskReward = numberField(raw, "riskReward")

	if macdRaw, ok := raw["macd"]; ok {
		var macd MACDValues
		if err := json.Unmarshal(macdRaw, &macd); err == nil {
			alert.MACD = &macd
		}
	}
	if confRaw, ok := raw["confluence"]; ok {
		var conf ConfluenceHint
		if err := json.Unmarshal(confRaw, &conf); err == nil {
			alert.Confluence = &conf
		}
	}
	return alert, nil
}

func stringField(raw map[string]json.RawMessage, key string, required bool) (string, error) {
	v, ok := raw[key]
	if !ok {
		if required {
			return "", models.NewError(models.KindValidation, models.CodeInvalidFormat,
				fmt.Sprintf("field %q is required", key), nil)
		}
		return "", nil
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		if required {
			return "", models.NewError(models.KindValidation, models.CodeInvalidFormat,
				fmt.Sprintf("field %q must be a string", key), nil)
		}
		return "", nil
	}
	return s, nil
}

// numberField coerces a JSON number or numeric string; NaN, infinities, and
// unparseable values drop to nil.
func numberField(raw map[string]json.RawMessage, key string) *float64 {
	v, ok := raw[key]
	if !ok {
		return nil
	}
	var f float64
	if err := json.Unmarshal(v, &f); err != nil {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return nil
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		f = parsed
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

// timestampField accepts epoch millis, epoch seconds, or RFC3339 strings.
func timestampField(raw map[string]json.RawMessage, key string) (time.Time, error) {
	v, ok := raw[key]
	if !ok {
		return time.Time{}, models.NewError(models.KindValidation, models.CodeInvalidFormat,
			fmt.Sprintf("field %q is required", key), nil)
	}

	var n int64
	if err := json.Unmarshal(v, &n); err == nil && n > 0 {
		// Heuristic: values this large are milliseconds.
		if n > 1e12 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}

	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, models.NewError(models.KindValidation, models.CodeInvalidFormat,
		fmt.Sprintf("field %q must be epoch millis, epoch seconds, or RFC3339", key), nil)
}
