// Package scenario runs the backtest engine over every (scenario, ticker)
// pair, reduces the outcomes into per-scenario summaries, and persists and
// renders the results.
package scenario

import (
	"sort"

	"b3quant/internal/engine"
	"b3quant/internal/performance"
)

// Scenario is one parameter set: a starting balance and the fraction of it
// risked per trade.
type Scenario struct {
	Name           string  `json:"name"`
	InitialBalance float64 `json:"initial_balance"`
	RiskFraction   float64 `json:"risk_fraction"`
}

// DefaultScenarios returns the Conservative / Moderate / Aggressive sets.
func DefaultScenarios() []Scenario {
	return []Scenario{
		{Name: "Conservative", InitialBalance: 1000, RiskFraction: 0.01},
		{Name: "Moderate", InitialBalance: 1000, RiskFraction: 0.02},
		{Name: "Aggressive", InitialBalance: 1000, RiskFraction: 0.05},
	}
}

// DefaultTickers is the B3 universe used when no ticker is given.
var DefaultTickers = []string{
	"PETR4", "VALE3", "ITUB4", "AMER3", "B3SA3",
	"MGLU3", "LREN3", "ITSA4", "BBAS3", "RENT3",
	"ABEV3", "SUZB3", "WEG3", "BRFS3", "BBDC4",
	"CRFB3", "BPAC11", "GGBR3", "EMBR3", "CMIN3",
}

// Outcome is the result of one (scenario, ticker) run: metrics on success,
// an error message otherwise.
type Outcome struct {
	Scenario string
	Ticker   string
	Metrics  *performance.Metrics
	Result   *engine.RunResult // nil when re-aggregated from stored files
	Err      string
}

// OK reports whether the run produced metrics.
func (o Outcome) OK() bool { return o.Err == "" && o.Metrics != nil }

// Summary aggregates a scenario's outcomes. Averages are arithmetic means
// over successful outcomes only; failures count toward TotalTests.
type Summary struct {
	AvgReturn       float64 `json:"avg_return"`
	AvgWinRate      float64 `json:"avg_win_rate"`
	AvgMaxDrawdown  float64 `json:"avg_max_drawdown"`
	AvgSharpeRatio  float64 `json:"avg_sharpe_ratio"`
	SuccessfulTests int     `json:"successful_tests"`
	TotalTests      int     `json:"total_tests"`
}

// Summarize reduces outcomes into a Summary. Outcomes are summed in ticker
// order, so the result does not depend on the order they are passed in.
func Summarize(outcomes []Outcome) Summary {
	sorted := make([]Outcome, len(outcomes))
	copy(sorted, outcomes)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Ticker < sorted[j].Ticker })

	s := Summary{TotalTests: len(sorted)}
	for _, o := range sorted {
		if !o.OK() {
			continue
		}
		s.SuccessfulTests++
		s.AvgReturn += o.Metrics.TotalReturn
		s.AvgWinRate += o.Metrics.WinRate
		s.AvgMaxDrawdown += o.Metrics.MaxDrawdown
		s.AvgSharpeRatio += o.Metrics.SharpeRatio
	}
	if n := float64(s.SuccessfulTests); n > 0 {
		s.AvgReturn /= n
		s.AvgWinRate /= n
		s.AvgMaxDrawdown /= n
		s.AvgSharpeRatio /= n
	}
	return s
}

// Result groups one scenario's outcomes, in ticker input order, with their
// summary.
type Result struct {
	Scenario Scenario
	Outcomes []Outcome
	Summary  Summary
}
