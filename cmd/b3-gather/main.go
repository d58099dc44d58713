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

	"github.com/joho/godotenv"

	"b3quant/internal/config"
	"b3quant/internal/domain"
	"b3quant/internal/gather"
	"b3quant/internal/metrics"
	"b3quant/internal/scenario"
	"b3quant/internal/store"
	"b3quant/internal/util"
)

func main() {
	cfgFlag := flag.String("config", "", "path to the YAML config (default $B3QUANT_CONFIG or "+config.DefaultPath+")")
	symbolsFlag := flag.String("symbols", "", "comma-separated symbols (default gather.symbols, then the backtest universe)")
	sourceFlag := flag.String("source", "", "brapi or alpaca (default gather.source)")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("warning: loading .env: %v", err)
	}

	cfg, err := config.Load(config.ResolvePath(*cfgFlag))
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *sourceFlag != "" {
		cfg.Gather.Source = *sourceFlag
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	market, err := domain.ParseMarket(cfg.Data.Market)
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	start, err := config.ParseDate(cfg.Gather.StartDate)
	if err != nil {
		log.Fatalf("invalid gather.start_date: %v", err)
	}

	symbols := cfg.Gather.Symbols
	if *symbolsFlag != "" {
		symbols = strings.Split(*symbolsFlag, ",")
	}
	if len(symbols) == 0 {
		symbols = cfg.Backtest.Tickers
	}
	if len(symbols) == 0 {
		symbols = scenario.DefaultTickers
	}

	pstore := store.NewParquetStore(cfg.Storage.DataDir)
	src, err := gather.OpenSource(cfg.Gather.Source, cfg, pstore, logger)
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	rec := metrics.NewRecorder()
	gatherer := gather.NewDailyBarGatherer(src, pstore, gather.DailyBarGathererConfig{
		Market:     market,
		Symbols:    symbols,
		Start:      start,
		MaxWorkers: cfg.Gather.MaxWorkers,
		DataDir:    cfg.Storage.DataDir,
	}, rec, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("starting gatherer", "name", gatherer.Name(), "source", src.Name(), "symbols", len(symbols))
	runErr := gatherer.Run(ctx)
	if err := rec.WriteTextfile(cfg.Metrics.TextfilePath); err != nil {
		slog.Error("writing metrics textfile", "path", cfg.Metrics.TextfilePath, "error", err)
	}
	if runErr != nil {
		log.Fatalf("gatherer error: %v", runErr)
	}
}
