package util

import (
	"math"
	"testing"
)

func TestRoundToTick(t *testing.T) {
	tests := []struct {
		x, tick, want float64
	}{
		{1.2345, 0.01, 1.23},
		{1.2351, 0.01, 1.24},
		{100.37, 0.25, 100.25},
		{100.38, 0.25, 100.50},
		{5.0, 0, 5.0},
	}
	for _, tt := range tests {
		if got := RoundToTick(tt.x, tt.tick); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("RoundToTick(%v, %v) = %v, want %v", tt.x, tt.tick, got, tt.want)
		}
	}
}

func TestFloorCeilToTick(t *testing.T) {
	if got := FloorToTick(100.49, 0.25); math.Abs(got-100.25) > 1e-9 {
		t.Errorf("FloorToTick = %v", got)
	}
	if got := CeilToTick(100.01, 0.25); math.Abs(got-100.25) > 1e-9 {
		t.Errorf("CeilToTick = %v", got)
	}
}

func TestFloorToLot(t *testing.T) {
	tests := []struct {
		qty  float64
		lot  int
		want int
	}{
		{157.9, 1, 157},
		{157.9, 10, 150},
		{157.9, 100, 100},
		{99.0, 100, 0},
		{-5, 10, 0},
		{math.NaN(), 10, 0},
	}
	for _, tt := range tests {
		if got := FloorToLot(tt.qty, tt.lot); got != tt.want {
			t.Errorf("FloorToLot(%v, %d) = %d, want %d", tt.qty, tt.lot, got, tt.want)
		}
	}
}

func TestClamp(t *testing.T) {
	if Clamp(5, 0, 1) != 1 || Clamp(-5, 0, 1) != 0 || Clamp(0.5, 0, 1) != 0.5 {
		t.Error("Clamp misbehaves")
	}
	if Clamp01(1.2) != 1 || Clamp01(-0.2) != 0 {
		t.Error("Clamp01 misbehaves")
	}
}
