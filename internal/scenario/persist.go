package scenario

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"b3quant/internal/domain"
	"b3quant/internal/gather"
	"b3quant/internal/performance"
	"b3quant/internal/store"
)

// SummaryFileName is the combined summary written after every batch.
const SummaryFileName = "backtest_summary.json"

// FileName returns the per-scenario result file name, e.g.
// "backtest_moderate.json".
func FileName(scenario string) string {
	name := strings.ToLower(strings.TrimSpace(scenario))
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
	return "backtest_" + name + ".json"
}

// Parameters are the run parameters stored with each ticker document.
type Parameters struct {
	InitialBalance float64 `json:"initial_balance"`
	RiskFraction   float64 `json:"risk_fraction"`
	StartDate      string  `json:"start_date"`
	EndDate        string  `json:"end_date"`
}

// TickerDocument is one ticker's entry in a per-scenario file: the full run
// on success, or only {"error": message}.
type TickerDocument struct {
	Parameters         Parameters           `json:"parameters"`
	PerformanceMetrics performance.Metrics  `json:"performance_metrics"`
	Trades             []domain.TradeRecord `json:"trades"`
	EquityCurve        []domain.EquityPoint `json:"equity_curve"`
	Error              string               `json:"-"`
}

type tickerDocumentJSON TickerDocument

type errorDocument struct {
	Error string `json:"error"`
}

// MarshalJSON writes an error document when Error is set.
func (d TickerDocument) MarshalJSON() ([]byte, error) {
	if d.Error != "" {
		return json.Marshal(errorDocument{Error: d.Error})
	}
	if d.Trades == nil {
		d.Trades = []domain.TradeRecord{}
	}
	if d.EquityCurve == nil {
		d.EquityCurve = []domain.EquityPoint{}
	}
	return json.Marshal(tickerDocumentJSON(d))
}

// UnmarshalJSON reads either document shape.
func (d *TickerDocument) UnmarshalJSON(data []byte) error {
	var e errorDocument
	if err := json.Unmarshal(data, &e); err != nil {
		return err
	}
	if e.Error != "" {
		*d = TickerDocument{Error: e.Error}
		return nil
	}
	var doc tickerDocumentJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	*d = TickerDocument(doc)
	return nil
}

// Entry is a ticker's value in the combined summary: its metrics, or
// {"error": message}.
type Entry struct {
	Metrics *performance.Metrics
	Error   string
}

// MarshalJSON writes the metrics object or the error document.
func (e Entry) MarshalJSON() ([]byte, error) {
	if e.Error != "" || e.Metrics == nil {
		msg := e.Error
		if msg == "" {
			msg = "no result"
		}
		return json.Marshal(errorDocument{Error: msg})
	}
	return json.Marshal(e.Metrics)
}

// UnmarshalJSON reads either entry shape.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var ed errorDocument
	if err := json.Unmarshal(data, &ed); err != nil {
		return err
	}
	if ed.Error != "" {
		*e = Entry{Error: ed.Error}
		return nil
	}
	var m performance.Metrics
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*e = Entry{Metrics: &m}
	return nil
}

// SummaryParameters describe the batch in the combined summary.
type SummaryParameters struct {
	Strategy     string     `json:"strategy"`
	Tickers      []string   `json:"tickers"`
	StartDate    string     `json:"start_date"`
	EndDate      string     `json:"end_date"`
	RiskFreeRate float64    `json:"risk_free_rate"`
	Scenarios    []Scenario `json:"scenarios"`
}

// SummaryDocument is the content of backtest_summary.json.
type SummaryDocument struct {
	Scenarios  map[string]map[string]Entry `json:"scenarios"`
	Summary    map[string]Summary          `json:"summary"`
	Parameters SummaryParameters           `json:"parameters"`
}

// ScenarioDocuments builds the per-scenario file content of res. A bound
// of rng that is open falls back to the dates the run actually covered.
func ScenarioDocuments(res Result, rng gather.DateRange) map[string]TickerDocument {
	docs := make(map[string]TickerDocument, len(res.Outcomes))
	for _, o := range res.Outcomes {
		if !o.OK() || o.Result == nil {
			msg := o.Err
			if msg == "" {
				msg = "no result"
			}
			docs[o.Ticker] = TickerDocument{Error: msg}
			continue
		}
		start, end := o.Result.Start, o.Result.End
		if !rng.Start.IsZero() {
			start = rng.Start
		}
		if !rng.End.IsZero() {
			end = rng.End
		}
		docs[o.Ticker] = TickerDocument{
			Parameters: Parameters{
				InitialBalance: res.Scenario.InitialBalance,
				RiskFraction:   res.Scenario.RiskFraction,
				StartDate:      start.Format(time.DateOnly),
				EndDate:        end.Format(time.DateOnly),
			},
			PerformanceMetrics: *o.Metrics,
			Trades:             o.Result.Trades,
			EquityCurve:        o.Result.Equity,
		}
	}
	return docs
}

// BuildSummary builds the combined summary document of rep.
func BuildSummary(rep *Report) SummaryDocument {
	doc := SummaryDocument{
		Scenarios: make(map[string]map[string]Entry, len(rep.Results)),
		Summary:   make(map[string]Summary, len(rep.Results)),
		Parameters: SummaryParameters{
			Strategy:     rep.Strategy,
			Tickers:      rep.Tickers,
			StartDate:    formatDate(rep.Range.Start),
			EndDate:      formatDate(rep.Range.End),
			RiskFreeRate: rep.RiskFreeRate,
		},
	}
	for _, res := range rep.Results {
		entries := make(map[string]Entry, len(res.Outcomes))
		for _, o := range res.Outcomes {
			entries[o.Ticker] = Entry{Metrics: o.Metrics, Error: o.Err}
		}
		doc.Scenarios[res.Scenario.Name] = entries
		doc.Summary[res.Scenario.Name] = res.Summary
		doc.Parameters.Scenarios = append(doc.Parameters.Scenarios, res.Scenario)
	}
	return doc
}

// SaveReport writes one file per scenario and then the combined summary.
// Every file is attempted; failures are logged and returned joined. The
// in-memory report is never modified.
func SaveReport(w *store.ResultWriter, rep *Report, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	var errs []error
	for _, res := range rep.Results {
		name := FileName(res.Scenario.Name)
		if err := w.WriteJSON(name, ScenarioDocuments(res, rep.Range)); err != nil {
			log.Error("writing scenario results", "file", name, "error", err)
			errs = append(errs, err)
			continue
		}
		log.Info("results saved", "file", w.Path(name))
	}
	if err := w.WriteJSON(SummaryFileName, BuildSummary(rep)); err != nil {
		log.Error("writing summary", "file", SummaryFileName, "error", err)
		errs = append(errs, err)
	} else {
		log.Info("summary saved", "file", w.Path(SummaryFileName))
	}
	return errors.Join(errs...)
}

// LoadScenarioFile reads a per-scenario file written by SaveReport.
func LoadScenarioFile(path string) (map[string]TickerDocument, error) {
	var docs map[string]TickerDocument
	if err := store.ReadJSONFile(path, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

// OutcomesFromDocuments turns stored ticker documents back into outcomes,
// sorted by ticker, so they can be summarized without re-simulating.
func OutcomesFromDocuments(scenario string, docs map[string]TickerDocument) []Outcome {
	tickers := make([]string, 0, len(docs))
	for t := range docs {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)

	out := make([]Outcome, 0, len(docs))
	for _, t := range tickers {
		d := docs[t]
		o := Outcome{Scenario: scenario, Ticker: t, Err: d.Error}
		if d.Error == "" {
			m := d.PerformanceMetrics
			o.Metrics = &m
		}
		out = append(out, o)
	}
	return out
}

// Reaggregate recomputes a scenario's Summary from its stored file.
func Reaggregate(path, scenario string) (Summary, error) {
	docs, err := LoadScenarioFile(path)
	if err != nil {
		return Summary{}, fmt.Errorf("loading %s: %w", path, err)
	}
	return Summarize(OutcomesFromDocuments(scenario, docs)), nil
}

// RecordRun stores rep in a run history store and returns the run ID.
func RecordRun(ctx context.Context, rs store.RunStore, rep *Report) (string, error) {
	run := &store.Run{
		Strategy: rep.Strategy,
		Start:    rep.Range.Start,
		End:      rep.Range.End,
		Tickers:  rep.Tickers,
	}
	if err := rs.SaveRun(ctx, run); err != nil {
		return "", fmt.Errorf("%v: %w", err, domain.ErrPersistence)
	}
	for _, res := range rep.Results {
		for _, o := range res.Outcomes {
			rr := &store.RunResult{
				RunID:          run.ID,
				Scenario:       res.Scenario.Name,
				Ticker:         o.Ticker,
				InitialBalance: res.Scenario.InitialBalance,
				RiskFraction:   res.Scenario.RiskFraction,
				Metrics:        o.Metrics,
				Error:          o.Err,
			}
			if o.Result != nil {
				rr.Trades = o.Result.Trades
			}
			if err := rs.SaveResult(ctx, rr); err != nil {
				return run.ID, fmt.Errorf("%v: %w", err, domain.ErrPersistence)
			}
		}
	}
	return run.ID, nil
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.DateOnly)
}
