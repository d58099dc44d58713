// Package metrics counts backtest and gathering activity with Prometheus
// collectors. Batch tools have no scrape endpoint, so the registry is
// written to a node-exporter textfile at the end of a run.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"b3quant/internal/domain"
)

// Recorder owns a private registry and the collectors registered on it. A
// nil *Recorder is valid and records nothing.
type Recorder struct {
	reg *prometheus.Registry

	runs        *prometheus.CounterVec
	trades      *prometheus.CounterVec
	symbols     *prometheus.CounterVec
	bars        *prometheus.CounterVec
	lastSuccess prometheus.Gauge
}

// NewRecorder creates a Recorder with its collectors registered.
func NewRecorder() *Recorder {
	r := &Recorder{
		reg: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "b3quant_backtest_runs_total", Help: "Simulated (scenario, ticker) runs by outcome"},
			[]string{"scenario", "outcome"},
		),
		trades: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "b3quant_backtest_trades_total", Help: "Simulated trade records by type"},
			[]string{"scenario", "type"},
		),
		symbols: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "b3quant_gather_symbols_total", Help: "Symbols fetched by the gatherer by outcome"},
			[]string{"source", "outcome"},
		),
		bars: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "b3quant_gather_bars_total", Help: "Bars written to the store"},
			[]string{"source"},
		),
		lastSuccess: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "b3quant_last_success_timestamp_seconds", Help: "Unix time of the last completed batch"},
		),
	}
	r.reg.MustRegister(r.runs, r.trades, r.symbols, r.bars, r.lastSuccess)
	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.reg
}

// RunSucceeded counts a finished run and its trade records.
func (r *Recorder) RunSucceeded(scenario string, trades []domain.TradeRecord) {
	if r == nil {
		return
	}
	r.runs.WithLabelValues(scenario, "ok").Inc()
	for _, t := range trades {
		r.trades.WithLabelValues(scenario, string(t.Type)).Inc()
	}
}

// RunFailed counts a run that produced an error outcome.
func (r *Recorder) RunFailed(scenario string) {
	if r == nil {
		return
	}
	r.runs.WithLabelValues(scenario, "error").Inc()
}

// SymbolGathered counts a symbol fetched and stored with n bars.
func (r *Recorder) SymbolGathered(source string, n int) {
	if r == nil {
		return
	}
	r.symbols.WithLabelValues(source, "ok").Inc()
	r.bars.WithLabelValues(source).Add(float64(n))
}

// SymbolFailed counts a symbol the gatherer could not fetch or store.
func (r *Recorder) SymbolFailed(source string) {
	if r == nil {
		return
	}
	r.symbols.WithLabelValues(source, "error").Inc()
}

// MarkSuccess sets the last-success gauge to t.
func (r *Recorder) MarkSuccess(t time.Time) {
	if r == nil {
		return
	}
	r.lastSuccess.Set(float64(t.Unix()))
}

// WriteTextfile writes the registry in the text exposition format to path.
// An empty path is a no-op.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, r.reg)
}
