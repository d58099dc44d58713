package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"b3quant/internal/config"
	"b3quant/internal/engine"
	"b3quant/internal/gather"
	"b3quant/internal/indicators"
	"b3quant/internal/metrics"
	"b3quant/internal/scenario"
	"b3quant/internal/store"
	"b3quant/internal/strategy"
	"b3quant/internal/strategy/builtins"
	"b3quant/internal/util"
)

func main() {
	cfgFlag := flag.String("config", "", "path to the YAML config (default $B3QUANT_CONFIG or "+config.DefaultPath+")")
	tickerFlag := flag.String("ticker", "", "comma-separated tickers (default: configured universe)")
	startFlag := flag.String("start", "", "first bar date, YYYY-MM-DD")
	endFlag := flag.String("end", "", "last bar date, YYYY-MM-DD")
	balanceFlag := flag.Float64("balance", 0, "run a single scenario with this initial balance")
	riskFlag := flag.Float64("risk", 0, "risk fraction for the single scenario (default 0.02)")
	outFlag := flag.String("out", "", "results directory (default storage.results_dir)")
	workersFlag := flag.Int("workers", 0, "concurrent runs (default backtest.workers)")
	strategyFlag := flag.String("strategy", "", "strategy name (default backtest.strategy)")
	flag.Parse()

	// A missing .env is fine; the environment may already be set.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("warning: loading .env: %v", err)
	}

	cfg, err := config.Load(config.ResolvePath(*cfgFlag))
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	applyFlags(cfg, *startFlag, *endFlag, *outFlag, *workersFlag, *strategyFlag)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	scenarios := configuredScenarios(cfg, *balanceFlag, *riskFlag)
	tickers := cfg.Backtest.Tickers
	if *tickerFlag != "" {
		tickers = strings.Split(*tickerFlag, ",")
	}
	if len(tickers) == 0 {
		tickers = scenario.DefaultTickers
	}

	start, end, err := cfg.Backtest.Range(time.Now())
	if err != nil {
		log.Fatalf("invalid date range: %v", err)
	}

	registry := strategy.NewRegistry()
	builtins.Register(registry, cfg.Backtest.RSIOversold, cfg.Backtest.RSIOverbought)
	strat, err := registry.Lookup(cfg.Backtest.Strategy)
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	pstore := store.NewParquetStore(cfg.Storage.DataDir)
	src, err := gather.OpenSource(cfg.Data.Source, cfg, pstore, logger)
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	eng := engine.NewEngine(strat, engine.NewPositionSizer(cfg.Backtest.LotSize), engineParams(cfg), logger)
	rec := metrics.NewRecorder()
	runner := scenario.NewRunner(src, eng, scenario.RunnerConfig{
		Strategy:     strat.Name(),
		Workers:      cfg.Backtest.Workers,
		RiskFreeRate: cfg.Backtest.RiskFreeRate,
	}, rec, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("starting backtest",
		"strategy", strat.Name(),
		"source", src.Name(),
		"tickers", len(tickers),
		"scenarios", len(scenarios),
		"start", start.Format(time.DateOnly),
		"end", end.Format(time.DateOnly),
	)

	rep, err := runner.Run(ctx, tickers, scenarios, gather.DateRange{Start: start, End: end})
	if err != nil {
		log.Fatalf("backtest error: %v", err)
	}

	if err := scenario.RenderTable(os.Stdout, rep); err != nil {
		slog.Error("rendering report", "error", err)
	}

	// Persistence failures are reported but never change the exit status.
	writer := store.NewResultWriter(cfg.Storage.ResultsDir)
	if err := scenario.SaveReport(writer, rep, logger); err != nil {
		slog.Error("saving results", "dir", writer.Dir(), "error", err)
	}

	if cfg.Storage.SQLitePath != "" {
		recordRun(ctx, cfg.Storage.SQLitePath, rep)
	}

	if err := rec.WriteTextfile(cfg.Metrics.TextfilePath); err != nil {
		slog.Error("writing metrics textfile", "path", cfg.Metrics.TextfilePath, "error", err)
	}
}

// applyFlags overrides cfg with the command-line values that were set.
func applyFlags(cfg *config.Config, start, end, out string, workers int, strat string) {
	if start != "" {
		cfg.Backtest.StartDate = start
	}
	if end != "" {
		cfg.Backtest.EndDate = end
	}
	if out != "" {
		cfg.Storage.ResultsDir = out
	}
	if workers > 0 {
		cfg.Backtest.Workers = workers
	}
	if strat != "" {
		cfg.Backtest.Strategy = strat
	}
}

// configuredScenarios returns the config scenarios, or a single "Custom"
// scenario when -balance or -risk is given.
func configuredScenarios(cfg *config.Config, balance, risk float64) []scenario.Scenario {
	if balance > 0 || risk > 0 {
		if balance <= 0 {
			balance = 1000
		}
		if risk <= 0 {
			risk = 0.02
		}
		return []scenario.Scenario{{Name: "Custom", InitialBalance: balance, RiskFraction: risk}}
	}
	out := make([]scenario.Scenario, len(cfg.Backtest.Scenarios))
	for i, sc := range cfg.Backtest.Scenarios {
		out[i] = scenario.Scenario{Name: sc.Name, InitialBalance: sc.InitialBalance, RiskFraction: sc.RiskFraction}
	}
	return out
}

func engineParams(cfg *config.Config) engine.Params {
	ind := cfg.Backtest.Indicators
	return engine.Params{
		Indicators: indicators.Params{
			RSIPeriod:   ind.RSIPeriod,
			ShortWindow: ind.ShortWindow,
			LongWindow:  ind.LongWindow,
			MACDFast:    ind.MACDFast,
			MACDSlow:    ind.MACDSlow,
			MACDSignal:  ind.MACDSignal,
		},
		MinBars:       cfg.Backtest.MinBars,
		StopLossPct:   cfg.Backtest.StopLossPct,
		TakeProfitPct: cfg.Backtest.TakeProfitPct,
	}
}

func recordRun(ctx context.Context, path string, rep *scenario.Report) {
	db, err := store.NewSQLiteStore(path)
	if err != nil {
		slog.Error("opening run history", "path", path, "error", err)
		return
	}
	defer db.Close()

	id, err := scenario.RecordRun(ctx, db, rep)
	if err != nil {
		slog.Error("recording run", "path", path, "error", err)
		return
	}
	slog.Info("run recorded", "run_id", id, "path", path)
}
