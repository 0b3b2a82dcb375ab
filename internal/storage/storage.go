package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/quantfold/intraday/internal/models"
)

// JSONStorage implements Interface using JSON file persistence with atomic
// writes.
type JSONStorage struct {
	data     *Data
	filepath string
	mu       sync.RWMutex
}

// Data is the complete structure persisted to disk.
type Data struct {
	LastUpdated time.Time            `json:"last_updated"`
	Trades      []models.TradeRecord `json:"trades"`
	DailyPnL    map[string]float64   `json:"daily_pnl"`
	Statistics  *Statistics          `json:"statistics"`
}

// NewJSONStorage creates a journal backed by the given file, loading any
// existing data.
func NewJSONStorage(filePath string) (*JSONStorage, error) {
	s := &JSONStorage{
		filepath: filePath,
		data: &Data{
			DailyPnL:   make(map[string]float64),
			Statistics: &Statistics{},
		},
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0o700); err != nil {
		return nil, fmt.Errorf("creating parent directory: %w", err)
	}

	// Load existing data if present; fail on unexpected errors.
	if _, err := os.Stat(filePath); err == nil {
		if loadErr := s.load(); loadErr != nil {
			return nil, fmt.Errorf("loading journal: %w", loadErr)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("stat journal file: %w", err)
	}

	return s, nil
}

func (s *JSONStorage) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.filepath)
	if err != nil {
		return err
	}

	var loaded Data
	if err := json.Unmarshal(raw, &loaded); err != nil {
		return err
	}
	s.data = &loaded

	if s.data.Statistics == nil {
		s.data.Statistics = &Statistics{}
	}
	if s.data.DailyPnL == nil {
		s.data.DailyPnL = make(map[string]float64)
	}
	return nil
}

// saveUnsafe writes the journal through a temp file and atomic rename.
// Must be called with the mutex held.
func (s *JSONStorage) saveUnsafe() error {
	s.data.LastUpdated = time.Now().UTC()

	dir := filepath.Dir(s.filepath)
	f, err := os.CreateTemp(dir, ".journal-*")
	if err != nil {
		return err
	}
	tmpName := f.Name()
	defer func() {
		if tmpName != "" {
			_ = f.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if err := f.Chmod(0o600); err != nil {
		return fmt.Errorf("setting temp file permissions: %w", err)
	}

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s.data); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	if err := os.Rename(tmpName, s.filepath); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}
	tmpName = ""

	// Sync the parent directory so the rename itself is durable.
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}

// RecordTrade implements Interface.
func (s *JSONStorage) RecordTrade(trade models.TradeRecord) error {
	if trade.ClosedAt.IsZero() {
		return fmt.Errorf("trade %q has no close time", trade.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.data.Trades = append(s.data.Trades, trade)
	s.updateStatistics(trade.PnL)

	day := trade.ClosedAt.UTC().Format("2006-01-02")
	s.data.DailyPnL[day] += trade.PnL

	return s.saveUnsafe()
}

func (s *JSONStorage) updateStatistics(pnl float64) {
	stats := s.data.Statistics
	stats.TotalTrades++
	stats.TotalPnL += pnl

	if pnl > 0 {
		stats.WinningTrades++
		if stats.CurrentStreak >= 0 {
			stats.CurrentStreak++
		} else {
			stats.CurrentStreak = 1
		}
		totalWins := stats.AverageWin*float64(stats.WinningTrades-1) + pnl
		stats.AverageWin = totalWins / float64(stats.WinningTrades)
	} else {
		stats.LosingTrades++
		if stats.CurrentStreak <= 0 {
			stats.CurrentStreak--
		} else {
			stats.CurrentStreak = -1
		}
		totalLosses := stats.AverageLoss*float64(stats.LosingTrades-1) + (-pnl)
		stats.AverageLoss = totalLosses / float64(stats.LosingTrades)
	}

	if stats.TotalTrades > 0 {
		stats.WinRate = float64(stats.WinningTrades) / float64(stats.TotalTrades)
	}
	if pnl < 0 && pnl < stats.MaxSingleTradeLoss {
		stats.MaxSingleTradeLoss = pnl
	}
}

// Trades implements Interface.
func (s *JSONStorage) Trades() []models.TradeRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.TradeRecord, len(s.data.Trades))
	copy(out, s.data.Trades)
	return out
}

// TradesOn implements Interface.
func (s *JSONStorage) TradesOn(date string, loc *time.Location) []models.TradeRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.TradeRecord
	for _, tr := range s.data.Trades {
		if tr.Day(loc) == date {
			out = append(out, tr)
		}
	}
	return out
}

// GetStatistics implements Interface.
func (s *JSONStorage) GetStatistics() Statistics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return *s.data.Statistics
}

// GetDailyPnL implements Interface.
func (s *JSONStorage) GetDailyPnL(date string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.DailyPnL[date]
}
