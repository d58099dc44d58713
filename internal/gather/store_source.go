package gather

import (
	"context"
	"fmt"
	"time"

	"b3quant/internal/domain"
	"b3quant/internal/store"
)

// StoreSource reads bars from a local BarStore, typically the Parquet files
// filled by DailyBarGatherer.
type StoreSource struct {
	store  store.BarStore
	market domain.Market
}

var _ BarSource = (*StoreSource)(nil)

// NewStoreSource creates a StoreSource reading the given market.
func NewStoreSource(s store.BarStore, market domain.Market) *StoreSource {
	return &StoreSource{store: s, market: market}
}

// Name returns "store".
func (s *StoreSource) Name() string { return "store" }

// FetchBars reads symbol's bars inside r. An open Start reads from 1990 and
// an open End reads to today.
func (s *StoreSource) FetchBars(ctx context.Context, symbol string, r DateRange) ([]domain.Bar, error) {
	start, end := r.Start, r.End
	if start.IsZero() {
		start = time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	if end.IsZero() {
		end = time.Now().UTC()
	}
	bars, err := s.store.ReadBars(ctx, symbol, s.market, start, end)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %v: %w", symbol, err, domain.ErrDataSource)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("no stored bars for %s in %s: %w", symbol, s.market, domain.ErrDataSource)
	}
	return bars, nil
}
