package models

import "time"

// TradeDirection is the side of a recorded trade.
type TradeDirection string

const (
	// TradeLong marks a long trade.
	TradeLong TradeDirection = "long"
	// TradeShort marks a short trade.
	TradeShort TradeDirection = "short"
)

// TradeRecord is a closed round-trip trade as persisted in the journal. The
// risk engine's daily-stop accounting and the Kelly win/loss statistics are
// derived from these records.
type TradeRecord struct {
	ID         string         `json:"id"`
	Symbol     string         `json:"symbol"`
	Direction  TradeDirection `json:"direction"`
	Quantity   int            `json:"quantity"`
	EntryPrice float64        `json:"entry_price"`
	ExitPrice  float64        `json:"exit_price"`
	PnL        float64        `json:"pnl"`
	Fees       float64        `json:"fees"`
	OpenedAt   time.Time      `json:"opened_at"`
	ClosedAt   time.Time      `json:"closed_at"`
}

// Win reports whether the trade closed profitable.
func (t TradeRecord) Win() bool { return t.PnL > 0 }

// Day returns the trade's close date formatted YYYY-MM-DD in loc. Daily loss
// limits are grouped by this key in the account timezone.
func (t TradeRecord) Day(loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.ClosedAt.In(loc).Format("2006-01-02")
}
