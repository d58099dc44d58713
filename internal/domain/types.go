// Package domain holds the value types shared by every stage of a backtest:
// bars, signals, positions, trade records and equity points.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// Market identifies the exchange a symbol trades on.
type Market string

const (
	MarketBR Market = "br"
	MarketUS Market = "us"
)

// ParseMarket returns the Market named by s, case-insensitively.
func ParseMarket(s string) (Market, error) {
	switch m := Market(strings.ToLower(strings.TrimSpace(s))); m {
	case MarketBR, MarketUS:
		return m, nil
	default:
		return "", fmt.Errorf("unknown market %q: %w", s, ErrInvalidParameter)
	}
}

// Bar is one daily OHLCV observation for a single symbol.
type Bar struct {
	Symbol string
	Date   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
}

// Valid reports whether the bar can take part in a simulation. A bar with a
// missing or non-positive close is absent data.
func (b Bar) Valid() bool {
	return !b.Date.IsZero() && b.Close > 0
}

// Signal is the discrete output of a strategy for one bar.
type Signal string

const (
	SignalBuy  Signal = "buy"
	SignalSell Signal = "sell"
	SignalHold Signal = "hold"
)

// PositionSide is the state of the simulated position.
type PositionSide string

const (
	PositionSideFlat PositionSide = "FLAT"
	PositionSideLong PositionSide = "LONG"
)

// Position is the mutable simulation state of one (scenario, ticker) run.
// Size and EntryPrice are zero while the side is FLAT.
type Position struct {
	Side       PositionSide
	Size       float64
	EntryPrice float64
	StopLoss   float64
	TakeProfit float64
}

// IsLong reports whether a quantity is currently held.
func (p Position) IsLong() bool { return p.Side == PositionSideLong }

// Reset returns the position to FLAT.
func (p *Position) Reset() {
	*p = Position{Side: PositionSideFlat}
}

// TradeType classifies a TradeRecord.
type TradeType string

const (
	TradeBuy            TradeType = "buy"
	TradeSell           TradeType = "sell"
	TradeSellStopLoss   TradeType = "sell_stop_loss"
	TradeSellTakeProfit TradeType = "sell_take_profit"
)

// Closing reports whether the trade type closes a position.
func (t TradeType) Closing() bool {
	return t == TradeSell || t == TradeSellStopLoss || t == TradeSellTakeProfit
}

// TradeRecord is one append-only entry of the trade log. PnL and PnLPercent
// are only meaningful on closing records.
type TradeRecord struct {
	Date          time.Time `json:"date"`
	Type          TradeType `json:"type"`
	Ticker        string    `json:"ticker"`
	Price         float64   `json:"price"`
	Size          float64   `json:"size"`
	PnL           float64   `json:"pnl"`
	PnLPercent    float64   `json:"pnl_percent"`
	BalanceBefore float64   `json:"balance_before"`
	BalanceAfter  float64   `json:"balance_after"`
}

// EquityPoint is the portfolio value recorded after one simulated bar.
// Equity is the cash balance while flat and size × close while long; Cash
// always carries the settled cash balance.
type EquityPoint struct {
	Date   time.Time `json:"date"`
	Equity float64   `json:"equity"`
	Ticker string    `json:"ticker"`
	Cash   float64   `json:"cash"`
}
