// Package store defines storage interfaces for bar history and backtest run
// history, with Parquet, SQLite and JSON file implementations.
package store

import (
	"context"
	"time"

	"b3quant/internal/domain"
	"b3quant/internal/performance"
)

// BarStore persists and retrieves daily OHLCV bars.
type BarStore interface {
	// WriteBars persists a batch of bars under the given market.
	WriteBars(ctx context.Context, market domain.Market, bars []domain.Bar) error

	// ReadBars returns bars for the given symbol and market within [start, end].
	ReadBars(ctx context.Context, symbol string, market domain.Market, start, end time.Time) ([]domain.Bar, error)

	// ListSymbols returns all distinct symbols available in the given market.
	ListSymbols(ctx context.Context, market domain.Market) ([]string, error)
}

// RunStore records backtest batches and their per-(scenario, ticker) outcomes.
type RunStore interface {
	// SaveRun inserts a run header.
	SaveRun(ctx context.Context, run *Run) error

	// SaveResult inserts one outcome and its closing trades for a run.
	SaveResult(ctx context.Context, result *RunResult) error

	// GetRun returns a run header by ID.
	GetRun(ctx context.Context, id string) (*Run, error)

	// ListRuns returns the most recent runs, newest first, up to limit.
	ListRuns(ctx context.Context, limit int) ([]Run, error)

	// ListResults returns every outcome stored for a run.
	ListResults(ctx context.Context, runID string) ([]RunResult, error)
}

// Run is the header of one backtest batch.
type Run struct {
	ID        string
	CreatedAt time.Time
	Strategy  string
	Start     time.Time
	End       time.Time
	Tickers   []string
}

// RunResult is the stored outcome of one (scenario, ticker) run. Error is
// set instead of Metrics when the run failed.
type RunResult struct {
	RunID          string
	Scenario       string
	Ticker         string
	InitialBalance float64
	RiskFraction   float64
	Metrics        *performance.Metrics
	Error          string
	Trades         []domain.TradeRecord
}
