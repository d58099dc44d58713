package domain

import (
	"errors"
	"testing"
	"time"
)

func TestTypesExist(t *testing.T) {
	// Verify Bar can be instantiated with zero values.
	bar := Bar{}
	if bar.Symbol != "" {
		t.Error("expected empty Symbol for zero-value Bar")
	}
	if !bar.Date.IsZero() {
		t.Error("expected zero Date for zero-value Bar")
	}
	if bar.Valid() {
		t.Error("zero-value Bar should not be valid")
	}

	// Verify enum constants are defined correctly.
	if SignalBuy != "buy" || SignalSell != "sell" || SignalHold != "hold" {
		t.Error("Signal constants have unexpected values")
	}
	if MarketBR != "br" || MarketUS != "us" {
		t.Error("Market constants have unexpected values")
	}
	if TradeSellStopLoss != "sell_stop_loss" || TradeSellTakeProfit != "sell_take_profit" {
		t.Error("TradeType constants have unexpected values")
	}
}

func TestBarValid(t *testing.T) {
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		bar  Bar
		want bool
	}{
		{"positive close", Bar{Symbol: "PETR4", Date: day, Close: 38.5}, true},
		{"zero close", Bar{Symbol: "PETR4", Date: day, Close: 0}, false},
		{"negative close", Bar{Symbol: "PETR4", Date: day, Close: -1}, false},
		{"missing date", Bar{Symbol: "PETR4", Close: 38.5}, false},
	}
	for _, tt := range tests {
		if got := tt.bar.Valid(); got != tt.want {
			t.Errorf("%s: Valid() = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestTradeTypeClosing(t *testing.T) {
	if TradeBuy.Closing() {
		t.Error("buy should not be a closing trade")
	}
	for _, tt := range []TradeType{TradeSell, TradeSellStopLoss, TradeSellTakeProfit} {
		if !tt.Closing() {
			t.Errorf("%s should be a closing trade", tt)
		}
	}
}

func TestPositionReset(t *testing.T) {
	pos := Position{
		Side:       PositionSideLong,
		Size:       4,
		EntryPrice: 100,
		StopLoss:   95,
		TakeProfit: 110,
	}
	if !pos.IsLong() {
		t.Fatal("expected long position")
	}
	pos.Reset()
	if pos.Side != PositionSideFlat {
		t.Errorf("pos.Side = %q, want %q", pos.Side, PositionSideFlat)
	}
	if pos.Size != 0 || pos.EntryPrice != 0 {
		t.Errorf("flat position should have zero size and entry price, got %+v", pos)
	}
}

func TestParseMarket(t *testing.T) {
	for in, want := range map[string]Market{"br": MarketBR, " BR ": MarketBR, "us": MarketUS} {
		got, err := ParseMarket(in)
		if err != nil || got != want {
			t.Errorf("ParseMarket(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseMarket("cn"); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("ParseMarket(cn) err = %v, want ErrInvalidParameter", err)
	}
}
