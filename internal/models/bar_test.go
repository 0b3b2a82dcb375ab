package models

import (
	"testing"
	"time"
)

func mkBar(ts string, o, h, l, c, v float64) Bar {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		panic(err)
	}
	return Bar{Timestamp: t, Open: o, High: h, Low: l, Close: c, Volume: v}
}

func TestBarValidate(t *testing.T) {
	tests := []struct {
		name    string
		bar     Bar
		wantErr bool
	}{
		{
			name: "valid bullish bar",
			bar:  mkBar("2024-03-01T14:30:00Z", 100, 101, 99.5, 100.8, 1200),
		},
		{
			name: "valid doji",
			bar:  mkBar("2024-03-01T14:35:00Z", 100, 100, 100, 100, 0),
		},
		{
			name:    "high below close",
			bar:     mkBar("2024-03-01T14:30:00Z", 100, 100.5, 99, 101, 10),
			wantErr: true,
		},
		{
			name:    "low above open",
			bar:     mkBar("2024-03-01T14:30:00Z", 99, 101, 99.5, 100, 10),
			wantErr: true,
		},
		{
			name:    "negative volume",
			bar:     mkBar("2024-03-01T14:30:00Z", 100, 101, 99, 100, -1),
			wantErr: true,
		},
		{
			name:    "zero timestamp",
			bar:     Bar{Open: 1, High: 1, Low: 1, Close: 1},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.bar.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNormalizeBars_SortsAndDedupes(t *testing.T) {
	bars := []Bar{
		mkBar("2024-03-01T14:40:00Z", 3, 3, 3, 3, 1),
		mkBar("2024-03-01T14:30:00Z", 1, 1, 1, 1, 1),
		mkBar("2024-03-01T14:35:00Z", 2, 2, 2, 2, 1),
		mkBar("2024-03-01T14:30:00Z", 1.5, 1.5, 1.5, 1.5, 2), // duplicate, last wins
	}

	got := NormalizeBars(bars)
	if len(got) != 3 {
		t.Fatalf("expected 3 bars, got %d", len(got))
	}
	if got[0].Open != 1.5 {
		t.Errorf("duplicate resolution: expected last-wins open 1.5, got %v", got[0].Open)
	}
	for i := 1; i < len(got); i++ {
		if !got[i-1].Timestamp.Before(got[i].Timestamp) {
			t.Errorf("bars not strictly increasing at %d", i)
		}
	}
	if err := ValidateBars(got); err != nil {
		t.Errorf("normalized bars failed validation: %v", err)
	}
}

func TestClipBars(t *testing.T) {
	bars := []Bar{
		mkBar("2024-03-01T14:30:00Z", 1, 1, 1, 1, 1),
		mkBar("2024-03-01T14:35:00Z", 2, 2, 2, 2, 1),
		mkBar("2024-03-01T14:40:00Z", 3, 3, 3, 3, 1),
	}
	from, _ := time.Parse(time.RFC3339, "2024-03-01T14:35:00Z")

	got := ClipBars(bars, from, time.Time{})
	if len(got) != 2 {
		t.Fatalf("expected 2 bars, got %d", len(got))
	}
	if !got[0].Timestamp.Equal(from) {
		t.Errorf("from bound should be inclusive")
	}
}
