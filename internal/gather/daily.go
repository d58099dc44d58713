package gather

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"b3quant/internal/domain"
	"b3quant/internal/metrics"
	"b3quant/internal/store"
	"b3quant/internal/util"
)

var _ Gatherer = (*DailyBarGatherer)(nil)

// DailyBarGatherer copies the daily history of a symbol universe from a
// BarSource into a BarStore with a pool of workers. A pass is resumable:
// symbols already stored for the current end date are skipped, and a pass
// that completed for the end date is not repeated.
type DailyBarGatherer struct {
	source     BarSource
	store      store.BarStore
	market     domain.Market
	symbols    []string
	start      time.Time
	maxWorkers int
	stateDir   string // holds .gathered / .last-completed
	calendar   *util.TradingCalendar
	metrics    *metrics.Recorder
	now        func() time.Time
	log        *slog.Logger
}

// DailyBarGathererConfig holds the settings of a DailyBarGatherer.
type DailyBarGathererConfig struct {
	Market     domain.Market
	Symbols    []string
	Start      time.Time
	MaxWorkers int
	DataDir    string
}

// NewDailyBarGatherer creates a DailyBarGatherer. rec may be nil.
func NewDailyBarGatherer(src BarSource, s store.BarStore, cfg DailyBarGathererConfig, rec *metrics.Recorder, log *slog.Logger) *DailyBarGatherer {
	if log == nil {
		log = slog.Default()
	}
	return &DailyBarGatherer{
		source:     src,
		store:      s,
		market:     cfg.Market,
		symbols:    cfg.Symbols,
		start:      cfg.Start,
		maxWorkers: max(cfg.MaxWorkers, 1),
		stateDir:   filepath.Join(cfg.DataDir, string(cfg.Market), "daily"),
		calendar:   util.NewTradingCalendar(cfg.Market),
		metrics:    rec,
		now:        time.Now,
		log:        log.With("gatherer", "daily", "source", src.Name(), "market", string(cfg.Market)),
	}
}

// Name returns the gatherer identifier.
func (g *DailyBarGatherer) Name() string { return string(g.market) + "-daily" }

// Run fetches every configured symbol up to the last finished trading day
// and writes the bars to the store. Per-symbol failures are logged and
// counted; they do not stop the pass. The pass is marked complete only when
// every symbol succeeded.
func (g *DailyBarGatherer) Run(ctx context.Context) error {
	endDate := g.calendar.LastFinishedTradingDay(g.now())
	endDateStr := endDate.Format(time.DateOnly)

	tracker, err := newProgressTracker(g.stateDir)
	if err != nil {
		return fmt.Errorf("creating progress tracker: %w", err)
	}
	defer tracker.Close()

	last := tracker.LastCompleted()
	if last == endDateStr {
		g.log.Info("already completed", "endDate", endDateStr)
		return nil
	}
	if last != "" {
		// A new end date; the previous pass's progress is stale.
		if err := tracker.Reset(); err != nil {
			return fmt.Errorf("resetting tracker: %w", err)
		}
	}

	var remaining []string
	for _, sym := range g.symbols {
		if !tracker.IsDone(sym) {
			remaining = append(remaining, sym)
		}
	}
	g.log.Info("starting",
		"endDate", endDateStr,
		"total", len(g.symbols),
		"remaining", len(remaining),
	)

	symCh := make(chan string, len(remaining))
	for _, sym := range remaining {
		symCh <- sym
	}
	close(symCh)

	var (
		wg       sync.WaitGroup
		okCount  atomic.Int64
		failed   atomic.Int64
		barCount atomic.Int64
		runStart = time.Now()
		rng      = DateRange{Start: g.start, End: endDate}
	)

	workers := min(g.maxWorkers, len(remaining))
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sym := range symCh {
				if ctx.Err() != nil {
					return
				}
				n, err := g.gatherSymbol(ctx, sym, rng)
				if err != nil {
					failed.Add(1)
					g.metrics.SymbolFailed(g.source.Name())
					g.log.Error("symbol failed", "symbol", sym, "error", err)
					continue
				}
				if err := tracker.MarkDone(sym); err != nil {
					g.log.Error("marking progress failed", "symbol", sym, "error", err)
				}
				okCount.Add(1)
				barCount.Add(int64(n))
				g.metrics.SymbolGathered(g.source.Name(), n)
				g.log.Debug("symbol done", "symbol", sym, "bars", n)
			}
		}()
	}
	wg.Wait()

	if ctx.Err() != nil {
		return ctx.Err()
	}

	g.log.Info("complete",
		"ok", okCount.Load(),
		"failed", failed.Load(),
		"bars", barCount.Load(),
		"elapsed", time.Since(runStart).Round(time.Second),
	)

	if failed.Load() > 0 {
		return fmt.Errorf("%d of %d symbols failed: %w", failed.Load(), len(remaining), domain.ErrDataSource)
	}
	if err := tracker.MarkCompleted(endDateStr); err != nil {
		return fmt.Errorf("marking completed: %w", err)
	}
	g.metrics.MarkSuccess(g.now())
	return nil
}

func (g *DailyBarGatherer) gatherSymbol(ctx context.Context, sym string, rng DateRange) (int, error) {
	bars, err := g.source.FetchBars(ctx, sym, rng)
	if err != nil {
		return 0, err
	}
	valid := bars[:0:0]
	for _, b := range bars {
		if b.Valid() {
			valid = append(valid, b)
		}
	}
	if len(valid) == 0 {
		return 0, fmt.Errorf("%s: no valid bars: %w", sym, domain.ErrDataSource)
	}
	if err := g.store.WriteBars(ctx, g.market, valid); err != nil {
		return 0, fmt.Errorf("%s: %v: %w", sym, err, domain.ErrPersistence)
	}
	return len(valid), nil
}
