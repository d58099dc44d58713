package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"b3quant/internal/domain"
	"b3quant/internal/performance"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

var _ RunStore = (*SQLiteStore)(nil)

// ErrNotFound is returned when a requested run does not exist.
var ErrNotFound = errors.New("not found")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL,
	strategy   TEXT NOT NULL,
	start_date TEXT NOT NULL,
	end_date   TEXT NOT NULL,
	tickers    TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS run_results (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id          TEXT NOT NULL REFERENCES runs(id),
	scenario        TEXT NOT NULL,
	ticker          TEXT NOT NULL,
	initial_balance REAL NOT NULL,
	risk_fraction   REAL NOT NULL,
	metrics         TEXT,
	error           TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_run_results_run ON run_results(run_id);
CREATE TABLE IF NOT EXISTS trades (
	result_id      INTEGER NOT NULL REFERENCES run_results(id),
	seq            INTEGER NOT NULL,
	date           TEXT NOT NULL,
	type           TEXT NOT NULL,
	ticker         TEXT NOT NULL,
	price          REAL NOT NULL,
	size           REAL NOT NULL,
	pnl            REAL NOT NULL,
	pnl_percent    REAL NOT NULL,
	balance_before REAL NOT NULL,
	balance_after  REAL NOT NULL,
	PRIMARY KEY (result_id, seq)
);
`

// SQLiteStore implements RunStore backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, creates the
// schema and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// One writer; concurrent SaveResult calls queue on the pool.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// SaveRun inserts a run header, assigning an ID when run.ID is empty.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *Run) error {
	if run.ID == "" {
		run.ID = NewRunID()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, created_at, strategy, start_date, end_date, tickers) VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID,
		run.CreatedAt.UnixMilli(),
		run.Strategy,
		run.Start.Format(time.DateOnly),
		run.End.Format(time.DateOnly),
		strings.Join(run.Tickers, ","),
	)
	if err != nil {
		return fmt.Errorf("saving run %s: %w", run.ID, err)
	}
	return nil
}

// SaveResult inserts one outcome and its trades in a single transaction.
func (s *SQLiteStore) SaveResult(ctx context.Context, r *RunResult) error {
	var metrics sql.NullString
	if r.Metrics != nil {
		data, err := json.Marshal(r.Metrics)
		if err != nil {
			return fmt.Errorf("encoding metrics: %w", err)
		}
		metrics = sql.NullString{String: string(data), Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO run_results (run_id, scenario, ticker, initial_balance, risk_fraction, metrics, error) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Scenario, r.Ticker, r.InitialBalance, r.RiskFraction, metrics, r.Error,
	)
	if err != nil {
		return fmt.Errorf("saving result %s/%s: %w", r.Scenario, r.Ticker, err)
	}
	resultID, err := res.LastInsertId()
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO trades (result_id, seq, date, type, ticker, price, size, pnl, pnl_percent, balance_before, balance_after) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, t := range r.Trades {
		if _, err := stmt.ExecContext(ctx,
			resultID, i, t.Date.Format(time.DateOnly), string(t.Type), t.Ticker,
			t.Price, t.Size, t.PnL, t.PnLPercent, t.BalanceBefore, t.BalanceAfter,
		); err != nil {
			return fmt.Errorf("saving trade %d of %s/%s: %w", i, r.Scenario, r.Ticker, err)
		}
	}
	return tx.Commit()
}

// GetRun returns the run with the given ID, or ErrNotFound.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, created_at, strategy, start_date, end_date, tickers FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return run, err
}

// ListRuns returns the most recent runs, newest first, up to limit.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, created_at, strategy, start_date, end_date, tickers FROM runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// ListResults returns every outcome stored for runID with its trades, in
// insertion order.
func (s *SQLiteStore) ListResults(ctx context.Context, runID string) ([]RunResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, scenario, ticker, initial_balance, risk_fraction, metrics, error FROM run_results WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}

	var (
		results []RunResult
		ids     []int64
	)
	for rows.Next() {
		var (
			id      int64
			r       = RunResult{RunID: runID}
			metrics sql.NullString
		)
		if err := rows.Scan(&id, &r.Scenario, &r.Ticker, &r.InitialBalance, &r.RiskFraction, &metrics, &r.Error); err != nil {
			rows.Close()
			return nil, err
		}
		if metrics.Valid {
			var m performance.Metrics
			if err := json.Unmarshal([]byte(metrics.String), &m); err != nil {
				rows.Close()
				return nil, fmt.Errorf("decoding metrics for %s/%s: %w", r.Scenario, r.Ticker, err)
			}
			r.Metrics = &m
		}
		results = append(results, r)
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i, id := range ids {
		trades, err := s.listTrades(ctx, id)
		if err != nil {
			return nil, err
		}
		results[i].Trades = trades
	}
	return results, nil
}

func (s *SQLiteStore) listTrades(ctx context.Context, resultID int64) ([]domain.TradeRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT date, type, ticker, price, size, pnl, pnl_percent, balance_before, balance_after FROM trades WHERE result_id = ? ORDER BY seq`, resultID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []domain.TradeRecord
	for rows.Next() {
		var (
			t    domain.TradeRecord
			date string
			kind string
		)
		if err := rows.Scan(&date, &kind, &t.Ticker, &t.Price, &t.Size, &t.PnL, &t.PnLPercent, &t.BalanceBefore, &t.BalanceAfter); err != nil {
			return nil, err
		}
		d, err := time.Parse(time.DateOnly, date)
		if err != nil {
			return nil, fmt.Errorf("parsing trade date %q: %w", date, err)
		}
		t.Date = d
		t.Type = domain.TradeType(kind)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		run        Run
		createdAt  int64
		start, end string
		tickers    string
	)
	if err := row.Scan(&run.ID, &createdAt, &run.Strategy, &start, &end, &tickers); err != nil {
		return nil, err
	}
	run.CreatedAt = time.UnixMilli(createdAt).UTC()
	run.Start, _ = time.Parse(time.DateOnly, start)
	run.End, _ = time.Parse(time.DateOnly, end)
	if tickers != "" {
		run.Tickers = strings.Split(tickers, ",")
	}
	return &run, nil
}
