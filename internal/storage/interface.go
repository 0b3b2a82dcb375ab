// Package storage provides trade journal persistence. The journal feeds the
// risk engine's daily-stop accounting and the win/loss statistics behind
// Kelly sizing.
package storage

import (
	"time"

	"github.com/quantfold/intraday/internal/models"
)

// Statistics represents performance metrics derived from closed trades.
type Statistics struct {
	TotalTrades        int     `json:"total_trades"`
	WinningTrades      int     `json:"winning_trades"`
	LosingTrades       int     `json:"losing_trades"`
	WinRate            float64 `json:"win_rate"`
	TotalPnL           float64 `json:"total_pnl"`
	AverageWin         float64 `json:"average_win"`
	AverageLoss        float64 `json:"average_loss"`          // Average loss magnitude (positive)
	MaxSingleTradeLoss float64 `json:"max_single_trade_loss"` // Largest single trade loss (negative)
	CurrentStreak      int     `json:"current_streak"`
}

// Interface is the journal contract.
type Interface interface {
	// RecordTrade appends a closed trade and updates statistics and the
	// daily PnL map.
	RecordTrade(trade models.TradeRecord) error
	// Trades returns all recorded trades, oldest first.
	Trades() []models.TradeRecord
	// TradesOn returns trades closed on the YYYY-MM-DD date in loc.
	TradesOn(date string, loc *time.Location) []models.TradeRecord
	// GetStatistics returns current performance statistics.
	GetStatistics() Statistics
	// GetDailyPnL returns the summed PnL for a YYYY-MM-DD date.
	GetDailyPnL(date string) float64
}
