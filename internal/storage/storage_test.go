package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/quantfold/intraday/internal/models"
)

func closedTrade(id string, pnl float64, closed string) models.TradeRecord {
	ts, err := time.Parse(time.RFC3339, closed)
	if err != nil {
		panic(err)
	}
	return models.TradeRecord{
		ID: id, Symbol: "ES", Direction: models.TradeLong,
		Quantity: 1, EntryPrice: 5000, ExitPrice: 5000 + pnl,
		PnL: pnl, OpenedAt: ts.Add(-time.Hour), ClosedAt: ts,
	}
}

func TestJSONStorage_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "journal.json")

	s, err := NewJSONStorage(path)
	if err != nil {
		t.Fatalf("NewJSONStorage: %v", err)
	}

	if err := s.RecordTrade(closedTrade("t1", 150, "2024-03-05T16:00:00Z")); err != nil {
		t.Fatalf("RecordTrade: %v", err)
	}
	if err := s.RecordTrade(closedTrade("t2", -80, "2024-03-05T18:00:00Z")); err != nil {
		t.Fatalf("RecordTrade: %v", err)
	}

	// Re-open and verify persisted state.
	s2, err := NewJSONStorage(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if got := len(s2.Trades()); got != 2 {
		t.Fatalf("trades after reload = %d, want 2", got)
	}

	stats := s2.GetStatistics()
	if stats.TotalTrades != 2 || stats.WinningTrades != 1 || stats.LosingTrades != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.AverageWin != 150 || stats.AverageLoss != 80 {
		t.Errorf("avg win/loss = %v/%v, want 150/80", stats.AverageWin, stats.AverageLoss)
	}
	if stats.WinRate != 0.5 {
		t.Errorf("win rate = %v", stats.WinRate)
	}

	if pnl := s2.GetDailyPnL("2024-03-05"); pnl != 70 {
		t.Errorf("daily pnl = %v, want 70", pnl)
	}
}

func TestJSONStorage_AtomicWriteShape(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "journal.json")

	s, err := NewJSONStorage(path)
	if err != nil {
		t.Fatalf("NewJSONStorage: %v", err)
	}
	if err := s.RecordTrade(closedTrade("t1", 10, "2024-03-05T16:00:00Z")); err != nil {
		t.Fatalf("RecordTrade: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var data Data
	if err := json.Unmarshal(raw, &data); err != nil {
		t.Fatalf("unmarshal persisted file: %v", err)
	}
	if data.LastUpdated.IsZero() {
		t.Error("last_updated not stamped")
	}

	// No temp files left behind.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only the journal file, found %d entries", len(entries))
	}
}

func TestJSONStorage_RejectsZeroCloseTime(t *testing.T) {
	s, err := NewJSONStorage(filepath.Join(t.TempDir(), "journal.json"))
	if err != nil {
		t.Fatalf("NewJSONStorage: %v", err)
	}
	if err := s.RecordTrade(models.TradeRecord{ID: "bad"}); err == nil {
		t.Error("expected error for zero close time")
	}
}

func TestTradesOn_GroupsByAccountTimezone(t *testing.T) {
	s := NewMemoryStorage()

	// 2024-03-06 01:00 UTC is still 2024-03-05 in New York.
	if err := s.RecordTrade(closedTrade("t1", -50, "2024-03-06T01:00:00Z")); err != nil {
		t.Fatalf("RecordTrade: %v", err)
	}

	ny, _ := time.LoadLocation("America/New_York")
	if got := len(s.TradesOn("2024-03-05", ny)); got != 1 {
		t.Errorf("NY-day grouping: got %d trades, want 1", got)
	}
	if got := len(s.TradesOn("2024-03-06", ny)); got != 0 {
		t.Errorf("UTC leak into NY day: got %d trades, want 0", got)
	}
}

func TestStatisticsFeedKelly(t *testing.T) {
	s := NewMemoryStorage()
	wins := []float64{300, 280, 320}
	losses := []float64{-200, -180}
	seq := 0
	for _, p := range append(wins, losses...) {
		if err := s.RecordTrade(closedTrade(string(rune('a'+seq)), p, "2024-03-05T16:00:00Z")); err != nil {
			t.Fatalf("RecordTrade: %v", err)
		}
		seq++
	}

	stats := s.GetStatistics()
	if stats.AverageWin != 300 {
		t.Errorf("avg win = %v, want 300", stats.AverageWin)
	}
	if stats.AverageLoss != 190 {
		t.Errorf("avg loss = %v, want 190", stats.AverageLoss)
	}
	if stats.WinRate != 0.6 {
		t.Errorf("win rate = %v, want 0.6", stats.WinRate)
	}
}
