package storage

import (
	"sync"
	"time"

	"github.com/quantfold/intraday/internal/models"
)

// MemoryStorage implements Interface without persistence, for tests and
// ephemeral runs.
type MemoryStorage struct {
	mu       sync.RWMutex
	trades   []models.TradeRecord
	dailyPnL map[string]float64
	stats    Statistics
}

// NewMemoryStorage creates an empty in-memory journal.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{dailyPnL: make(map[string]float64)}
}

// RecordTrade implements Interface.
func (m *MemoryStorage) RecordTrade(trade models.TradeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.trades = append(m.trades, trade)
	m.dailyPnL[trade.ClosedAt.UTC().Format("2006-01-02")] += trade.PnL

	stats := &m.stats
	stats.TotalTrades++
	stats.TotalPnL += trade.PnL
	if trade.PnL > 0 {
		stats.WinningTrades++
		totalWins := stats.AverageWin*float64(stats.WinningTrades-1) + trade.PnL
		stats.AverageWin = totalWins / float64(stats.WinningTrades)
	} else {
		stats.LosingTrades++
		totalLosses := stats.AverageLoss*float64(stats.LosingTrades-1) + (-trade.PnL)
		stats.AverageLoss = totalLosses / float64(stats.LosingTrades)
	}
	stats.WinRate = float64(stats.WinningTrades) / float64(stats.TotalTrades)
	if trade.PnL < 0 && trade.PnL < stats.MaxSingleTradeLoss {
		stats.MaxSingleTradeLoss = trade.PnL
	}
	return nil
}

// Trades implements Interface.
func (m *MemoryStorage) Trades() []models.TradeRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.TradeRecord, len(m.trades))
	copy(out, m.trades)
	return out
}

// TradesOn implements Interface.
func (m *MemoryStorage) TradesOn(date string, loc *time.Location) []models.TradeRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.TradeRecord
	for _, tr := range m.trades {
		if tr.Day(loc) == date {
			out = append(out, tr)
		}
	}
	return out
}

// GetStatistics implements Interface.
func (m *MemoryStorage) GetStatistics() Statistics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

// GetDailyPnL implements Interface.
func (m *MemoryStorage) GetDailyPnL(date string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dailyPnL[date]
}
