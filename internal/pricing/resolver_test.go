package pricing

import (
	"math"
	"testing"

	"bracketd/internal/domain"
)

func TestResolveBuy(t *testing.T) {
	// 20100.3 snaps to the nearest 0.25 multiple, then 40 ticks up and
	// 20 ticks down.
	levels, err := Resolve(20100.3, domain.SideBuy, 40, 20, 0.25)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if levels.Base != 20100.25 {
		t.Errorf("Base = %v, want 20100.25", levels.Base)
	}
	if levels.TakeProfit != 20110.25 {
		t.Errorf("TakeProfit = %v, want 20110.25", levels.TakeProfit)
	}
	if levels.Stop != 20095.25 {
		t.Errorf("Stop = %v, want 20095.25", levels.Stop)
	}
}

func TestResolveSellMirrors(t *testing.T) {
	buy, err := Resolve(20100.3, domain.SideBuy, 40, 20, 0.25)
	if err != nil {
		t.Fatalf("Resolve buy: %v", err)
	}
	sell, err := Resolve(20100.3, domain.SideSell, 40, 20, 0.25)
	if err != nil {
		t.Fatalf("Resolve sell: %v", err)
	}
	if sell.Base != buy.Base {
		t.Errorf("sell Base = %v, want %v", sell.Base, buy.Base)
	}
	// SELL take-profit sits where the BUY stop distance would put it and
	// vice versa.
	if sell.TakeProfit != 20090.25 {
		t.Errorf("sell TakeProfit = %v, want 20090.25", sell.TakeProfit)
	}
	if sell.Stop != 20105.25 {
		t.Errorf("sell Stop = %v, want 20105.25", sell.Stop)
	}
}

func TestResolveTiesAwayFromZero(t *testing.T) {
	// 20100.125 is exactly halfway between 20100.0 and 20100.25.
	levels, err := Resolve(20100.125, domain.SideBuy, 1, 1, 0.25)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if levels.Base != 20100.25 {
		t.Errorf("Base = %v, want 20100.25 (ties away from zero)", levels.Base)
	}
}

func TestResolveLevelsAreTickMultiples(t *testing.T) {
	prices := []float64{20100.3, 1.01, 0.13, 99999.87, 4512.625}
	ticks := []float64{0.25, 0.01, 0.1, 0.5}
	for _, tick := range ticks {
		for _, price := range prices {
			levels, err := Resolve(price, domain.SideBuy, 7, 3, tick)
			if err != nil {
				t.Fatalf("Resolve(%v, tick %v): %v", price, tick, err)
			}
			for _, p := range []float64{levels.Base, levels.TakeProfit, levels.Stop} {
				ratio := p / tick
				if math.Abs(ratio-math.Round(ratio)) > 1e-6 {
					t.Errorf("price %v from base %v tick %v is not a tick multiple", p, price, tick)
				}
			}
		}
	}
}

func TestResolveRejectsBadInputs(t *testing.T) {
	if _, err := Resolve(100, domain.SideBuy, 1, 1, 0); err == nil {
		t.Error("zero tick: want error")
	}
	if _, err := Resolve(100, domain.SideBuy, 1, 1, -0.25); err == nil {
		t.Error("negative tick: want error")
	}
	if _, err := Resolve(100, "HOLD", 1, 1, 0.25); err == nil {
		t.Error("unknown side: want error")
	}
}

func TestSnapToTick(t *testing.T) {
	tests := []struct {
		price, tick, want float64
	}{
		{20100.3, 0.25, 20100.25},
		{20100.125, 0.25, 20100.25},
		{20100.1, 0.25, 20100.0},
		{10.0, 0.25, 10.0},
		{5.551, 0.01, 5.55},
		{7.7, 0, 7.7}, // non-positive tick leaves the price untouched
	}
	for _, tt := range tests {
		if got := SnapToTick(tt.price, tt.tick); got != tt.want {
			t.Errorf("SnapToTick(%v, %v) = %v, want %v", tt.price, tt.tick, got, tt.want)
		}
	}
}
