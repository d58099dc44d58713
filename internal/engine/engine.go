// Package engine simulates a single-ticker backtest: bar preparation,
// indicator computation, the FLAT/LONG trade state machine, position sizing
// and the equity curve.
package engine

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"b3quant/internal/domain"
	"b3quant/internal/indicators"
	"b3quant/internal/strategy"
)

// Params are the per-engine simulation settings shared by every run.
type Params struct {
	Indicators    indicators.Params
	MinBars       int     // minimum valid bars for a run (20)
	StopLossPct   float64 // 0.05 → stop 5% below entry
	TakeProfitPct float64 // 0.10 → target 10% above entry
}

// DefaultParams returns the reference settings.
func DefaultParams() Params {
	return Params{
		Indicators:    indicators.DefaultParams(),
		MinBars:       20,
		StopLossPct:   0.05,
		TakeProfitPct: 0.10,
	}
}

// RunResult is the outcome of one simulated run.
type RunResult struct {
	Ticker         string
	InitialBalance float64
	RiskFraction   float64
	FinalBalance   float64
	Start          time.Time
	End            time.Time
	Trades         []domain.TradeRecord
	Equity         []domain.EquityPoint
}

// Engine runs single-ticker simulations. It holds no per-run state, so one
// Engine can serve concurrent runs.
type Engine struct {
	params Params
	sim    *Simulator
	log    *slog.Logger
}

// NewEngine creates a new Engine wired with the given dependencies.
func NewEngine(s strategy.Strategy, sizer *PositionSizer, params Params, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "engine", "strategy", s.Name())
	return &Engine{
		params: params,
		sim:    NewSimulator(s, sizer, params.StopLossPct, params.TakeProfitPct, log),
		log:    log,
	}
}

// Run simulates ticker over bars starting with initialBalance in cash. Bars
// are cleaned with PrepareBars first. It fails with
// domain.ErrInsufficientData when fewer than MinBars valid bars remain.
func (e *Engine) Run(ticker string, bars []domain.Bar, initialBalance, riskFraction float64) (*RunResult, error) {
	bars = PrepareBars(bars, time.Time{}, time.Time{})
	if len(bars) < e.params.MinBars {
		return nil, fmt.Errorf("%s: %d valid bars, need %d: %w",
			ticker, len(bars), e.params.MinBars, domain.ErrInsufficientData)
	}

	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	snaps := indicators.Compute(closes, e.params.Indicators)

	rc := NewRunContext(ticker, initialBalance, riskFraction, len(bars))
	for i, bar := range bars {
		e.sim.Step(rc, bar, snaps[i])
	}
	e.sim.Finish(rc, bars[len(bars)-1])

	e.log.Debug("run complete",
		"ticker", ticker,
		"bars", len(bars),
		"trades", len(rc.Trades),
		"final_balance", rc.Cash,
	)

	return &RunResult{
		Ticker:         ticker,
		InitialBalance: initialBalance,
		RiskFraction:   riskFraction,
		FinalBalance:   rc.Cash,
		Start:          bars[0].Date,
		End:            bars[len(bars)-1].Date,
		Trades:         rc.Trades,
		Equity:         rc.Equity.Points(),
	}, nil
}

// PrepareBars drops invalid bars, keeps those inside [start, end] (a zero
// bound is open), sorts ascending by date and keeps the last bar seen for a
// duplicated date. The input slice is not modified.
func PrepareBars(bars []domain.Bar, start, end time.Time) []domain.Bar {
	byDate := make(map[time.Time]int, len(bars))
	out := make([]domain.Bar, 0, len(bars))
	for _, b := range bars {
		if !b.Valid() {
			continue
		}
		if !start.IsZero() && b.Date.Before(start) {
			continue
		}
		if !end.IsZero() && b.Date.After(end) {
			continue
		}
		for _, p := range []*float64{&b.Open, &b.High, &b.Low} {
			if *p < 0 {
				*p = 0
			}
		}
		key := b.Date.UTC()
		if i, ok := byDate[key]; ok {
			out[i] = b
			continue
		}
		byDate[key] = len(out)
		out = append(out, b)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Date.Before(out[j].Date)
	})
	return out
}
