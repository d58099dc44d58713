// Package performance reduces a run's trade log and equity curve into
// summary statistics.
package performance

import (
	"math"

	"b3quant/internal/domain"
)

// TradingDaysPerYear is the annualisation factor for daily returns.
const TradingDaysPerYear = 252

// DefaultRiskFreeRate is the annual risk-free rate used by the Sharpe ratio.
const DefaultRiskFreeRate = 0.02

// Metrics are the statistics of one (scenario, ticker) run. Percentages are
// expressed in percent (12.5 means 12.5%).
type Metrics struct {
	TotalTrades      int     `json:"total_trades"`
	ProfitableTrades int     `json:"profitable_trades"`
	LosingTrades     int     `json:"losing_trades"`
	WinRate          float64 `json:"win_rate"`
	TotalPnL         float64 `json:"total_pnl"`
	TotalReturn      float64 `json:"total_return"`
	FinalBalance     float64 `json:"final_balance"`
	AvgWin           float64 `json:"avg_win"`
	AvgLoss          float64 `json:"avg_loss"`
	MaxDrawdown      float64 `json:"max_drawdown"`
	SharpeRatio      float64 `json:"sharpe_ratio"`
}

// Analyze computes Metrics. Only closing records (sell, sell_stop_loss,
// sell_take_profit) count as trades; the forced end-of-data close is one of
// them.
func Analyze(trades []domain.TradeRecord, equity []domain.EquityPoint, initialBalance, finalBalance, riskFreeRate float64) Metrics {
	m := Metrics{FinalBalance: finalBalance}

	var winSum, lossSum float64
	for _, t := range trades {
		if !t.Type.Closing() {
			continue
		}
		m.TotalTrades++
		m.TotalPnL += t.PnL
		switch {
		case t.PnL > 0:
			m.ProfitableTrades++
			winSum += t.PnL
		case t.PnL < 0:
			m.LosingTrades++
			lossSum += t.PnL
		}
	}
	if m.TotalTrades > 0 {
		m.WinRate = float64(m.ProfitableTrades) / float64(m.TotalTrades) * 100
	}
	if m.ProfitableTrades > 0 {
		m.AvgWin = winSum / float64(m.ProfitableTrades)
	}
	if m.LosingTrades > 0 {
		m.AvgLoss = lossSum / float64(m.LosingTrades)
	}
	if initialBalance > 0 {
		m.TotalReturn = (finalBalance - initialBalance) / initialBalance * 100
	}

	values := make([]float64, len(equity))
	for i, p := range equity {
		values[i] = p.Equity
	}
	m.MaxDrawdown = MaxDrawdown(values)
	m.SharpeRatio = Sharpe(Returns(values), riskFreeRate)
	return m
}

// MaxDrawdown returns the largest decline from a running peak, as a
// non-negative percentage of that peak. Points before the first positive
// value are ignored.
func MaxDrawdown(equity []float64) float64 {
	var peak, worst float64
	for _, v := range equity {
		if v > peak {
			peak = v
		}
		if peak <= 0 {
			continue
		}
		if dd := (peak - v) / peak * 100; dd > worst {
			worst = dd
		}
	}
	return worst
}

// Returns converts an equity series into simple period returns. A step from
// a non-positive value has no defined return and is skipped.
func Returns(equity []float64) []float64 {
	if len(equity) < 2 {
		return nil
	}
	out := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		if equity[i-1] <= 0 {
			continue
		}
		out = append(out, equity[i]/equity[i-1]-1)
	}
	return out
}

// Sharpe annualises the mean and sample standard deviation of daily returns
// and returns (mean×252 − riskFree) / (std×√252). It is 0 with fewer than
// two returns or zero volatility.
func Sharpe(returns []float64, riskFreeRate float64) float64 {
	n := len(returns)
	if n < 2 {
		return 0
	}
	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(n)

	var ss float64
	for _, r := range returns {
		d := r - mean
		ss += d * d
	}
	std := math.Sqrt(ss / float64(n-1))

	vol := std * math.Sqrt(TradingDaysPerYear)
	if vol == 0 || math.IsNaN(vol) {
		return 0
	}
	return (mean*TradingDaysPerYear - riskFreeRate) / vol
}
