package engine

import (
	"log/slog"
	"time"

	"b3quant/internal/domain"
	"b3quant/internal/indicators"
	"b3quant/internal/strategy"
)

// RunContext owns all mutable state of one (scenario, ticker) run: the cash
// balance, the position, the trade log and the equity curve. Nothing in it
// is shared with other runs.
type RunContext struct {
	Ticker       string
	RiskFraction float64
	Cash         float64
	Position     domain.Position
	Trades       []domain.TradeRecord
	Equity       *EquityTracker
}

// NewRunContext creates a flat context holding initialBalance in cash.
func NewRunContext(ticker string, initialBalance, riskFraction float64, bars int) *RunContext {
	return &RunContext{
		Ticker:       ticker,
		RiskFraction: riskFraction,
		Cash:         initialBalance,
		Position:     domain.Position{Side: domain.PositionSideFlat},
		Equity:       NewEquityTracker(ticker, bars),
	}
}

// Simulator is the FLAT/LONG state machine. It applies exits, entries and
// equity recording bar by bar against a RunContext.
type Simulator struct {
	strategy      strategy.Strategy
	sizer         *PositionSizer
	stopLossPct   float64
	takeProfitPct float64
	log           *slog.Logger
}

// NewSimulator creates a Simulator. stopLossPct and takeProfitPct are the
// fractional distances of the protective levels from the entry price.
func NewSimulator(s strategy.Strategy, sizer *PositionSizer, stopLossPct, takeProfitPct float64, log *slog.Logger) *Simulator {
	return &Simulator{
		strategy:      s,
		sizer:         sizer,
		stopLossPct:   stopLossPct,
		takeProfitPct: takeProfitPct,
		log:           log,
	}
}

// Step processes one bar. At most one action is taken per bar: a protective
// exit blocks re-entry until the next bar.
func (s *Simulator) Step(rc *RunContext, bar domain.Bar, snap indicators.Snapshot) {
	price := bar.Close
	exited := false

	// 1. Protective exits.
	if rc.Position.IsLong() {
		switch {
		case price <= rc.Position.StopLoss:
			s.close(rc, bar.Date, price, domain.TradeSellStopLoss)
			exited = true
		case price >= rc.Position.TakeProfit:
			s.close(rc, bar.Date, price, domain.TradeSellTakeProfit)
			exited = true
		}
	}

	// 2. Signal.
	signal := s.strategy.Signal(bar, snap)

	// 3-4. Entry or exit on signal.
	switch {
	case !exited && !rc.Position.IsLong() && signal == domain.SignalBuy:
		s.open(rc, bar.Date, price)
	case rc.Position.IsLong() && signal == domain.SignalSell:
		s.close(rc, bar.Date, price, domain.TradeSell)
	}

	// 5. Equity.
	rc.Equity.Record(bar.Date, rc.Position, rc.Cash, price)
}

// Finish force-closes an open position at the last bar's close so the run's
// P&L is realized.
func (s *Simulator) Finish(rc *RunContext, last domain.Bar) {
	if rc.Position.IsLong() {
		s.close(rc, last.Date, last.Close, domain.TradeSell)
	}
}

func (s *Simulator) open(rc *RunContext, date time.Time, price float64) {
	stop := price * (1 - s.stopLossPct)
	take := price * (1 + s.takeProfitPct)

	size, err := s.sizer.Size(rc.Cash, rc.RiskFraction, price-stop, price)
	if err != nil {
		s.log.Debug("sizing rejected, holding", "ticker", rc.Ticker, "date", date.Format(time.DateOnly), "error", err)
		return
	}
	if size <= 0 {
		return
	}

	before := rc.Cash
	rc.Cash -= size * price
	rc.Position = domain.Position{
		Side:       domain.PositionSideLong,
		Size:       size,
		EntryPrice: price,
		StopLoss:   stop,
		TakeProfit: take,
	}
	rc.Trades = append(rc.Trades, domain.TradeRecord{
		Date:          date,
		Type:          domain.TradeBuy,
		Ticker:        rc.Ticker,
		Price:         price,
		Size:          size,
		BalanceBefore: before,
		BalanceAfter:  rc.Cash,
	})

	s.log.Debug("buy",
		"ticker", rc.Ticker,
		"date", date.Format(time.DateOnly),
		"size", size,
		"price", price,
	)
}

func (s *Simulator) close(rc *RunContext, date time.Time, price float64, kind domain.TradeType) {
	pos := rc.Position
	pnl := (price - pos.EntryPrice) * pos.Size
	pnlPct := (price - pos.EntryPrice) / pos.EntryPrice * 100

	before := rc.Cash
	rc.Cash += pos.Size * price
	rc.Position.Reset()
	rc.Trades = append(rc.Trades, domain.TradeRecord{
		Date:          date,
		Type:          kind,
		Ticker:        rc.Ticker,
		Price:         price,
		Size:          pos.Size,
		PnL:           pnl,
		PnLPercent:    pnlPct,
		BalanceBefore: before,
		BalanceAfter:  rc.Cash,
	})

	s.log.Debug(string(kind),
		"ticker", rc.Ticker,
		"date", date.Format(time.DateOnly),
		"size", pos.Size,
		"price", price,
		"pnl", pnl,
		"pnl_pct", pnlPct,
	)
}
