// Package gather supplies historical bars: sources that fetch a symbol's
// daily history (Parquet store, brapi.dev, Alpaca) and a gatherer that
// copies a universe from a remote source into the local store.
package gather

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"b3quant/internal/domain"
	"b3quant/internal/util"
)

// Gatherer is the interface for all data gathering processes.
type Gatherer interface {
	// Name returns the gatherer identifier.
	Name() string
	// Run performs one gathering pass. It returns early when ctx is cancelled.
	Run(ctx context.Context) error
}

// DateRange represents a closed time range for data fetching. A zero Start
// or End is open.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the range.
func (r DateRange) Contains(t time.Time) bool {
	if !r.Start.IsZero() && t.Before(r.Start) {
		return false
	}
	if !r.End.IsZero() && t.After(r.End) {
		return false
	}
	return true
}

// BarSource supplies the daily bar history of one symbol.
type BarSource interface {
	// Name returns the source identifier used in logs and config.
	Name() string
	// FetchBars returns the bars of symbol inside r. Order is not
	// guaranteed. Failures wrap domain.ErrDataSource.
	FetchBars(ctx context.Context, symbol string, r DateRange) ([]domain.Bar, error)
}

// RetryingSource wraps a BarSource with a shared rate limiter and retries
// with exponential backoff.
type RetryingSource struct {
	src       BarSource
	limiter   *util.RateLimiter
	attempts  int
	baseDelay time.Duration
	log       *slog.Logger
}

var _ BarSource = (*RetryingSource)(nil)

// NewRetryingSource creates a RetryingSource. A nil limiter disables rate
// limiting.
func NewRetryingSource(src BarSource, limiter *util.RateLimiter, attempts int, baseDelay time.Duration, log *slog.Logger) *RetryingSource {
	if log == nil {
		log = slog.Default()
	}
	return &RetryingSource{
		src:       src,
		limiter:   limiter,
		attempts:  attempts,
		baseDelay: baseDelay,
		log:       log.With("source", src.Name()),
	}
}

// Name returns the wrapped source's name.
func (s *RetryingSource) Name() string { return s.src.Name() }

// FetchBars calls the wrapped source, waiting for the limiter before every
// attempt.
func (s *RetryingSource) FetchBars(ctx context.Context, symbol string, r DateRange) ([]domain.Bar, error) {
	var bars []domain.Bar
	attempt := 0
	err := util.Retry(ctx, s.attempts, s.baseDelay, func() error {
		attempt++
		if err := s.limiter.Wait(ctx); err != nil {
			return util.Permanent(err)
		}
		var err error
		bars, err = s.src.FetchBars(ctx, symbol, r)
		if err != nil && attempt < s.attempts {
			s.log.Warn("fetch failed, retrying", "symbol", symbol, "attempt", attempt, "error", err)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", s.src.Name(), symbol, asDataSourceErr(err))
	}
	return bars, nil
}

// asDataSourceErr makes sure err matches domain.ErrDataSource.
func asDataSourceErr(err error) error {
	if errors.Is(err, domain.ErrDataSource) {
		return err
	}
	return fmt.Errorf("%v: %w", err, domain.ErrDataSource)
}
