package scenario

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"b3quant/internal/domain"
	"b3quant/internal/engine"
	"b3quant/internal/gather"
	"b3quant/internal/metrics"
	"b3quant/internal/performance"
)

// Report is the merged output of a batch.
type Report struct {
	Strategy     string
	Tickers      []string
	Range        gather.DateRange
	RiskFreeRate float64
	Results      []Result // in scenario input order
}

// Runner fans (scenario, ticker) runs out over a bounded worker group and
// merges their outcomes after all of them finished.
type Runner struct {
	source   gather.BarSource
	engine   *engine.Engine
	strategy string
	workers  int
	riskFree float64
	metrics  *metrics.Recorder
	log      *slog.Logger
}

// RunnerConfig holds the Runner settings.
type RunnerConfig struct {
	Strategy     string // for reports only
	Workers      int
	RiskFreeRate float64
}

// NewRunner creates a Runner. rec may be nil.
func NewRunner(src gather.BarSource, eng *engine.Engine, cfg RunnerConfig, rec *metrics.Recorder, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{
		source:   src,
		engine:   eng,
		strategy: cfg.Strategy,
		workers:  max(cfg.Workers, 1),
		riskFree: cfg.RiskFreeRate,
		metrics:  rec,
		log:      log.With("component", "scenario"),
	}
}

// Run fetches each ticker's bars once, simulates every (scenario, ticker)
// pair and summarizes each scenario. A ticker that cannot be fetched or
// simulated becomes an error outcome; only invalid scenarios or a cancelled
// context fail the whole batch.
func (r *Runner) Run(ctx context.Context, tickers []string, scenarios []Scenario, rng gather.DateRange) (*Report, error) {
	if err := validate(scenarios); err != nil {
		return nil, err
	}
	tickers = normalizeTickers(tickers)
	runStart := time.Now()

	// Fetch: one slot per ticker, no shared writes.
	bars := make([][]domain.Bar, len(tickers))
	fetchErrs := make([]error, len(tickers))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i, ticker := range tickers {
		i, ticker := i, ticker
		g.Go(func() error {
			b, err := r.source.FetchBars(gctx, ticker, rng)
			if err != nil {
				fetchErrs[i] = err
				r.log.Warn("fetch failed", "ticker", ticker, "error", err)
				return nil
			}
			bars[i] = engine.PrepareBars(b, rng.Start, rng.End)
			return nil
		})
	}
	g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Simulate: one slot per (scenario, ticker).
	results := make([]Result, len(scenarios))
	for si, sc := range scenarios {
		results[si] = Result{Scenario: sc, Outcomes: make([]Outcome, len(tickers))}
	}

	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for si, sc := range scenarios {
		for ti, ticker := range tickers {
			si, sc, ti, ticker := si, sc, ti, ticker
			g.Go(func() error {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				results[si].Outcomes[ti] = r.runOne(sc, ticker, bars[ti], fetchErrs[ti])
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Fan-in.
	for si := range results {
		results[si].Summary = Summarize(results[si].Outcomes)
		s := results[si].Summary
		r.log.Info("scenario complete",
			"scenario", results[si].Scenario.Name,
			"ok", s.SuccessfulTests,
			"total", s.TotalTests,
			"avg_return", s.AvgReturn,
		)
	}
	r.log.Info("batch complete",
		"scenarios", len(scenarios),
		"tickers", len(tickers),
		"elapsed", time.Since(runStart).Round(time.Millisecond),
	)
	r.metrics.MarkSuccess(time.Now())

	return &Report{
		Strategy:     r.strategy,
		Tickers:      tickers,
		Range:        rng,
		RiskFreeRate: r.riskFree,
		Results:      results,
	}, nil
}

func (r *Runner) runOne(sc Scenario, ticker string, bars []domain.Bar, fetchErr error) Outcome {
	out := Outcome{Scenario: sc.Name, Ticker: ticker}
	if fetchErr != nil {
		out.Err = fetchErr.Error()
		r.metrics.RunFailed(sc.Name)
		return out
	}

	res, err := r.engine.Run(ticker, bars, sc.InitialBalance, sc.RiskFraction)
	if err != nil {
		out.Err = err.Error()
		r.metrics.RunFailed(sc.Name)
		r.log.Warn("ticker skipped", "scenario", sc.Name, "ticker", ticker, "error", err)
		return out
	}

	m := performance.Analyze(res.Trades, res.Equity, res.InitialBalance, res.FinalBalance, r.riskFree)
	out.Metrics = &m
	out.Result = res
	r.metrics.RunSucceeded(sc.Name, res.Trades)
	return out
}

func validate(scenarios []Scenario) error {
	if len(scenarios) == 0 {
		return fmt.Errorf("no scenarios: %w", domain.ErrInvalidParameter)
	}
	seen := make(map[string]bool, len(scenarios))
	for _, sc := range scenarios {
		switch {
		case strings.TrimSpace(sc.Name) == "":
			return fmt.Errorf("scenario without a name: %w", domain.ErrInvalidParameter)
		case seen[sc.Name]:
			return fmt.Errorf("duplicate scenario %q: %w", sc.Name, domain.ErrInvalidParameter)
		case sc.InitialBalance <= 0:
			return fmt.Errorf("scenario %q: initial balance %v must be positive: %w", sc.Name, sc.InitialBalance, domain.ErrInvalidParameter)
		}
		seen[sc.Name] = true
	}
	return nil
}

// normalizeTickers upper-cases tickers and drops blanks and duplicates,
// keeping the first occurrence.
func normalizeTickers(tickers []string) []string {
	out := make([]string, 0, len(tickers))
	seen := make(map[string]bool, len(tickers))
	for _, t := range tickers {
		t = strings.ToUpper(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
