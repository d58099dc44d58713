package scenario

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"b3quant/internal/domain"
	"b3quant/internal/engine"
	"b3quant/internal/gather"
	"b3quant/internal/performance"
	"b3quant/internal/store"
	"b3quant/internal/strategy/builtins"
)

var day0 = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

// dipSeries is a 20-bar uptrend, a slow 12-bar pullback and a bounce; the
// rsi-ma rule buys on the following bar when it closes at 155.
func dipSeries(tail ...float64) []float64 {
	x := make([]float64, 0, 33+len(tail))
	for i := 0; i < 20; i++ {
		x = append(x, 100+3*float64(i))
	}
	for i := 0; i < 12; i++ {
		x = append(x, x[len(x)-1]-0.5)
	}
	x = append(x, x[len(x)-1]+3)
	return append(x, tail...)
}

// mapSource serves fixed close series per ticker, newest first, and fails
// for tickers without a series.
type mapSource map[string][]float64

func (m mapSource) Name() string { return "map" }

func (m mapSource) FetchBars(_ context.Context, ticker string, _ gather.DateRange) ([]domain.Bar, error) {
	closes, ok := m[ticker]
	if !ok {
		return nil, fmt.Errorf("quote %s: status 404: %w", ticker, domain.ErrDataSource)
	}
	bars := make([]domain.Bar, len(closes))
	for i, c := range closes {
		bars[len(closes)-1-i] = domain.Bar{Symbol: ticker, Date: day0.AddDate(0, 0, i), Open: c, High: c, Low: c, Close: c, Volume: 1}
	}
	return bars, nil
}

func newRunner(src gather.BarSource) *Runner {
	eng := engine.NewEngine(builtins.NewRSITrend(40, 60), engine.NewPositionSizer(0), engine.DefaultParams(), slog.Default())
	return NewRunner(src, eng, RunnerConfig{Strategy: "rsi-ma", Workers: 4, RiskFreeRate: performance.DefaultRiskFreeRate}, nil, slog.Default())
}

func fiveTickerSource() mapSource {
	return mapSource{
		"PETR4": dipSeries(155, 155.5),
		"VALE3": dipSeries(155, 145, 146),
		"ITUB4": dipSeries(155, 171),
		"B3SA3": dipSeries(155),
		// AMER3 has no data.
	}
}

func TestSummarize(t *testing.T) {
	outcomes := []Outcome{
		{Ticker: "B", Metrics: &performance.Metrics{TotalReturn: 10, WinRate: 50, MaxDrawdown: 4, SharpeRatio: 1}},
		{Ticker: "A", Metrics: &performance.Metrics{TotalReturn: -2, WinRate: 0, MaxDrawdown: 6, SharpeRatio: -1}},
		{Ticker: "C", Err: "boom"},
	}
	got := Summarize(outcomes)
	want := Summary{AvgReturn: 4, AvgWinRate: 25, AvgMaxDrawdown: 5, AvgSharpeRatio: 0, SuccessfulTests: 2, TotalTests: 3}
	if got != want {
		t.Errorf("Summarize = %+v, want %+v", got, want)
	}

	if got := Summarize([]Outcome{{Ticker: "X", Err: "x"}}); got != (Summary{TotalTests: 1}) {
		t.Errorf("Summarize(all failed) = %+v", got)
	}
}

func TestRunScenarioIsolation(t *testing.T) {
	tickers := []string{"PETR4", "VALE3", "ITUB4", "AMER3", "B3SA3"}
	rep, err := newRunner(fiveTickerSource()).Run(context.Background(), tickers, DefaultScenarios(), gather.DateRange{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(rep.Results) != 3 {
		t.Fatalf("got %d scenario results, want 3", len(rep.Results))
	}

	for _, res := range rep.Results {
		if len(res.Outcomes) != len(tickers) {
			t.Fatalf("%s: %d outcomes, want %d", res.Scenario.Name, len(res.Outcomes), len(tickers))
		}
		for i, o := range res.Outcomes {
			if o.Ticker != tickers[i] {
				t.Errorf("%s: outcome %d is %s, want %s", res.Scenario.Name, i, o.Ticker, tickers[i])
			}
			if o.Ticker == "AMER3" {
				if o.OK() || !strings.Contains(o.Err, "404") {
					t.Errorf("%s/AMER3 = %+v, want an error outcome", res.Scenario.Name, o)
				}
				continue
			}
			if !o.OK() {
				t.Errorf("%s/%s failed: %s", res.Scenario.Name, o.Ticker, o.Err)
			}
		}
		if res.Summary.SuccessfulTests != 4 || res.Summary.TotalTests != 5 {
			t.Errorf("%s summary = %d/%d, want 4/5", res.Scenario.Name, res.Summary.SuccessfulTests, res.Summary.TotalTests)
		}
	}
}

func TestRunInsufficientDataIsAnOutcome(t *testing.T) {
	src := mapSource{"PETR4": dipSeries(155, 155.5), "MGLU3": make([]float64, 10)}
	for i := range src["MGLU3"] {
		src["MGLU3"][i] = 5
	}
	rep, err := newRunner(src).Run(context.Background(), []string{"PETR4", "MGLU3"}, DefaultScenarios()[:1], gather.DateRange{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	o := rep.Results[0].Outcomes[1]
	if o.OK() || !strings.Contains(o.Err, domain.ErrInsufficientData.Error()) {
		t.Errorf("MGLU3 outcome = %+v, want insufficient data", o)
	}
}

func TestRunEndToEnd(t *testing.T) {
	src := mapSource{"X": dipSeries(155, 155.5)}
	sc := Scenario{Name: "Moderate", InitialBalance: 1000, RiskFraction: 0.02}
	rep, err := newRunner(src).Run(context.Background(), []string{"x"}, []Scenario{sc}, gather.DateRange{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	o := rep.Results[0].Outcomes[0]
	if !o.OK() {
		t.Fatalf("X failed: %s", o.Err)
	}
	m := o.Metrics
	if m.TotalTrades != 1 || m.ProfitableTrades != 1 || m.WinRate != 100 {
		t.Errorf("metrics = %+v, want one winning trade", m)
	}
	if m.TotalReturn <= 0 {
		t.Errorf("TotalReturn = %v, want > 0", m.TotalReturn)
	}
	if m.MaxDrawdown <= 0 {
		t.Errorf("MaxDrawdown = %v, want > 0", m.MaxDrawdown)
	}
	buys := 0
	for _, tr := range o.Result.Trades {
		if tr.Type == domain.TradeBuy {
			buys++
		}
	}
	if buys != 1 {
		t.Errorf("got %d buys, want 1", buys)
	}
}

func TestRunRejectsInvalidScenarios(t *testing.T) {
	r := newRunner(mapSource{})
	tests := []struct {
		name      string
		scenarios []Scenario
	}{
		{"none", nil},
		{"unnamed", []Scenario{{InitialBalance: 1000, RiskFraction: 0.01}}},
		{"duplicate", []Scenario{{Name: "A", InitialBalance: 1, RiskFraction: 0.01}, {Name: "A", InitialBalance: 1, RiskFraction: 0.02}}},
		{"zero balance", []Scenario{{Name: "A", RiskFraction: 0.01}}},
	}
	for _, tt := range tests {
		if _, err := r.Run(context.Background(), []string{"X"}, tt.scenarios, gather.DateRange{}); !errors.Is(err, domain.ErrInvalidParameter) {
			t.Errorf("%s: err = %v, want ErrInvalidParameter", tt.name, err)
		}
	}
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := newRunner(fiveTickerSource()).Run(ctx, []string{"PETR4"}, DefaultScenarios(), gather.DateRange{}); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestSaveReportAndReaggregate(t *testing.T) {
	tickers := []string{"PETR4", "VALE3", "ITUB4", "AMER3", "B3SA3"}
	rep, err := newRunner(fiveTickerSource()).Run(context.Background(), tickers, DefaultScenarios(), gather.DateRange{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	w := store.NewResultWriter(t.TempDir())
	if err := SaveReport(w, rep, slog.Default()); err != nil {
		t.Fatalf("SaveReport: %v", err)
	}

	for _, res := range rep.Results {
		path := w.Path(FileName(res.Scenario.Name))
		got, err := Reaggregate(path, res.Scenario.Name)
		if err != nil {
			t.Fatalf("Reaggregate(%s): %v", path, err)
		}
		if got != res.Summary {
			t.Errorf("%s: re-aggregated %+v, want %+v", res.Scenario.Name, got, res.Summary)
		}

		docs, err := LoadScenarioFile(path)
		if err != nil {
			t.Fatalf("LoadScenarioFile: %v", err)
		}
		if docs["AMER3"].Error == "" {
			t.Errorf("%s: AMER3 document has no error", res.Scenario.Name)
		}
		petr := docs["PETR4"]
		if petr.Parameters.RiskFraction != res.Scenario.RiskFraction || len(petr.Trades) != 2 {
			t.Errorf("%s: PETR4 document = %+v", res.Scenario.Name, petr.Parameters)
		}
		if petr.Parameters.StartDate != "2024-01-02" {
			t.Errorf("%s: PETR4 start_date = %q, want the first bar date", res.Scenario.Name, petr.Parameters.StartDate)
		}
	}

	var summary SummaryDocument
	if err := w.ReadJSON(SummaryFileName, &summary); err != nil {
		t.Fatalf("reading summary: %v", err)
	}
	if got := summary.Summary["Moderate"]; got != rep.Results[1].Summary {
		t.Errorf("summary[Moderate] = %+v, want %+v", got, rep.Results[1].Summary)
	}
	if e := summary.Scenarios["Aggressive"]["AMER3"]; e.Error == "" || e.Metrics != nil {
		t.Errorf("summary AMER3 entry = %+v, want an error", e)
	}
	if e := summary.Scenarios["Aggressive"]["ITUB4"]; e.Metrics == nil || e.Metrics.TotalTrades != 1 {
		t.Errorf("summary ITUB4 entry = %+v, want metrics", e)
	}
	if len(summary.Parameters.Scenarios) != 3 || summary.Parameters.Strategy != "rsi-ma" {
		t.Errorf("summary parameters = %+v", summary.Parameters)
	}
}

func TestRecordRun(t *testing.T) {
	rep, err := newRunner(fiveTickerSource()).Run(context.Background(), []string{"PETR4", "AMER3"}, DefaultScenarios()[:2], gather.DateRange{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	db, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	id, err := RecordRun(ctx, db, rep)
	if err != nil {
		t.Fatalf("RecordRun: %v", err)
	}
	results, err := db.ListResults(ctx, id)
	if err != nil {
		t.Fatalf("ListResults: %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("stored %d results, want 4", len(results))
	}
	for _, r := range results {
		if r.Ticker == "AMER3" && r.Error == "" {
			t.Errorf("AMER3 stored without error: %+v", r)
		}
		if r.Ticker == "PETR4" && (r.Metrics == nil || len(r.Trades) != 2) {
			t.Errorf("PETR4 stored = %+v", r)
		}
	}
}

func TestFileName(t *testing.T) {
	tests := map[string]string{
		"Moderate":     "backtest_moderate.json",
		"Very Risky!":  "backtest_very_risky_.json",
		"conservative": "backtest_conservative.json",
	}
	for in, want := range tests {
		if got := FileName(in); got != want {
			t.Errorf("FileName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRenderTable(t *testing.T) {
	rep, err := newRunner(fiveTickerSource()).Run(context.Background(), []string{"PETR4", "AMER3"}, DefaultScenarios(), gather.DateRange{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	var buf bytes.Buffer
	if err := RenderTable(&buf, rep); err != nil {
		t.Fatalf("RenderTable: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"SCENARIO COMPARISON", "BACKTESTING LOOP SUMMARY", "Conservative", "Aggressive", "PETR4", "ERROR:", "1/2"} {
		if !strings.Contains(out, want) {
			t.Errorf("rendered table missing %q:\n%s", want, out)
		}
	}
}
