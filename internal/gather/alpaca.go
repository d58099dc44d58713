package gather

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"b3quant/internal/domain"
)

// AlpacaSource fetches daily bars for US symbols from the Alpaca market-data
// API. It lets the engine be exercised against US history when no brapi
// token is available.
type AlpacaSource struct {
	client *marketdata.Client
	feed   marketdata.Feed
}

var _ BarSource = (*AlpacaSource)(nil)

// NewAlpacaSource creates an AlpacaSource. An empty dataURL uses the
// client's default endpoint; an empty feed uses "iex".
func NewAlpacaSource(apiKey, apiSecret, dataURL, feed string) *AlpacaSource {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}
	if feed == "" {
		feed = "iex"
	}
	return &AlpacaSource{
		client: marketdata.NewClient(opts),
		feed:   marketdata.Feed(feed),
	}
}

// Name returns "alpaca".
func (s *AlpacaSource) Name() string { return "alpaca" }

// FetchBars returns split- and dividend-adjusted daily bars for symbol.
func (s *AlpacaSource) FetchBars(ctx context.Context, symbol string, r DateRange) ([]domain.Bar, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	req := marketdata.GetBarsRequest{
		TimeFrame:  marketdata.OneDay,
		Adjustment: marketdata.All,
		Start:      r.Start,
		End:        r.End,
		Feed:       s.feed,
	}
	abars, err := s.client.GetBars(strings.ToUpper(symbol), req)
	if err != nil {
		return nil, fmt.Errorf("GetBars %s: %v: %w", symbol, err, domain.ErrDataSource)
	}

	bars := make([]domain.Bar, 0, len(abars))
	for _, ab := range abars {
		ts := ab.Timestamp.UTC()
		bars = append(bars, domain.Bar{
			Symbol: strings.ToUpper(symbol),
			Date:   time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC),
			Open:   ab.Open,
			High:   ab.High,
			Low:    ab.Low,
			Close:  ab.Close,
			Volume: int64(ab.Volume),
		})
	}
	return bars, nil
}
