package builtins

import (
	"b3quant/internal/domain"
	"b3quant/internal/indicators"
	"b3quant/internal/strategy"
)

var _ strategy.Strategy = (*RSITrend)(nil)

// RSITrend buys an oversold dip inside an uptrend and exits on overbought
// readings or a trend reversal.
//
//   - buy:  RSI < Oversold AND short MA > long MA AND close > short MA
//   - sell: RSI > Overbought OR short MA < long MA
//   - hold: otherwise, or when any indicator is undefined
//
// All comparisons are strict, so ties fall through to hold.
type RSITrend struct {
	Oversold   float64
	Overbought float64
}

// NewRSITrend creates the rule with the given RSI thresholds. Non-positive
// values fall back to 40 and 60.
func NewRSITrend(oversold, overbought float64) *RSITrend {
	if oversold <= 0 {
		oversold = 40
	}
	if overbought <= 0 {
		overbought = 60
	}
	return &RSITrend{Oversold: oversold, Overbought: overbought}
}

// Name returns "rsi-ma".
func (s *RSITrend) Name() string { return "rsi-ma" }

// Signal evaluates the rule for one bar.
func (s *RSITrend) Signal(bar domain.Bar, snap indicators.Snapshot) domain.Signal {
	if !snap.Ready() {
		return domain.SignalHold
	}
	rsi, short, long := snap.RSI.V, snap.ShortMA.V, snap.LongMA.V

	if rsi < s.Oversold && short > long && bar.Close > short {
		return domain.SignalBuy
	}
	if rsi > s.Overbought || short < long {
		return domain.SignalSell
	}
	return domain.SignalHold
}

// Register adds every builtin strategy to r.
func Register(r *strategy.Registry, oversold, overbought float64) {
	r.Register(NewRSITrend(oversold, overbought))
	r.Register(NewSMACross())
}
