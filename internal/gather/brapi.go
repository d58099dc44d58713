package gather

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"b3quant/internal/domain"
	"b3quant/internal/util"
)

// DefaultBrapiURL is the public brapi.dev endpoint.
const DefaultBrapiURL = "https://brapi.dev"

// BrapiSource fetches B3 daily history from the brapi.dev quote API:
//
//	GET {base}/api/quote/{ticker}?range={range}&interval=1d&token={token}
type BrapiSource struct {
	baseURL string
	token   string
	client  *http.Client
	now     func() time.Time
}

var _ BarSource = (*BrapiSource)(nil)

// NewBrapiSource creates a BrapiSource. An empty baseURL uses
// DefaultBrapiURL; a nil client uses a client with a 30s timeout.
func NewBrapiSource(baseURL, token string, client *http.Client) *BrapiSource {
	if baseURL == "" {
		baseURL = DefaultBrapiURL
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &BrapiSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  client,
		now:     time.Now,
	}
}

// Name returns "brapi".
func (s *BrapiSource) Name() string { return "brapi" }

type brapiResponse struct {
	Results []struct {
		Symbol              string `json:"symbol"`
		HistoricalDataPrice []struct {
			Date   int64    `json:"date"` // unix seconds
			Open   *float64 `json:"open"`
			High   *float64 `json:"high"`
			Low    *float64 `json:"low"`
			Close  *float64 `json:"close"`
			Volume *float64 `json:"volume"`
		} `json:"historicalDataPrice"`
	} `json:"results"`
	Error   bool   `json:"error"`
	Message string `json:"message"`
}

// FetchBars requests the smallest brapi range that reaches back to r.Start
// and keeps the bars inside r. Null price fields come back as zero, which
// marks them absent.
func (s *BrapiSource) FetchBars(ctx context.Context, symbol string, r DateRange) ([]domain.Bar, error) {
	symbol = strings.ToUpper(symbol)

	q := url.Values{}
	q.Set("range", brapiRange(s.now(), r.Start))
	q.Set("interval", "1d")
	if s.token != "" {
		q.Set("token", s.token)
	}
	endpoint := fmt.Sprintf("%s/api/quote/%s?%s", s.baseURL, url.PathEscape(symbol), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, util.Permanent(fmt.Errorf("building request: %v: %w", err, domain.ErrDataSource))
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET quote %s: %v: %w", symbol, err, domain.ErrDataSource)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading quote %s: %v: %w", symbol, err, domain.ErrDataSource)
	}

	var payload brapiResponse
	decodeErr := json.Unmarshal(body, &payload)

	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(body))
		if decodeErr == nil && payload.Message != "" {
			msg = payload.Message
		}
		err := fmt.Errorf("quote %s: status %d: %s: %w", symbol, resp.StatusCode, msg, domain.ErrDataSource)
		// Client errors other than throttling will not change on retry.
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, util.Permanent(err)
		}
		return nil, err
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decoding quote %s: %v: %w", symbol, decodeErr, domain.ErrDataSource)
	}
	if payload.Error {
		return nil, util.Permanent(fmt.Errorf("quote %s: %s: %w", symbol, payload.Message, domain.ErrDataSource))
	}
	if len(payload.Results) == 0 {
		return nil, util.Permanent(fmt.Errorf("quote %s: empty results: %w", symbol, domain.ErrDataSource))
	}

	hist := payload.Results[0].HistoricalDataPrice
	bars := make([]domain.Bar, 0, len(hist))
	for _, h := range hist {
		d := time.Unix(h.Date, 0).In(saoPaulo)
		date := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
		if !r.Contains(date) {
			continue
		}
		bars = append(bars, domain.Bar{
			Symbol: symbol,
			Date:   date,
			Open:   deref(h.Open),
			High:   deref(h.High),
			Low:    deref(h.Low),
			Close:  deref(h.Close),
			Volume: int64(deref(h.Volume)),
		})
	}
	return bars, nil
}

var saoPaulo = util.NewTradingCalendar(domain.MarketBR).Location()

func deref(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

// brapiRange picks the smallest range keyword covering [start, now].
func brapiRange(now, start time.Time) string {
	if start.IsZero() {
		return "max"
	}
	ranges := []struct {
		name string
		back time.Time
	}{
		{"5d", now.AddDate(0, 0, -5)},
		{"1mo", now.AddDate(0, -1, 0)},
		{"3mo", now.AddDate(0, -3, 0)},
		{"6mo", now.AddDate(0, -6, 0)},
		{"1y", now.AddDate(-1, 0, 0)},
		{"2y", now.AddDate(-2, 0, 0)},
		{"5y", now.AddDate(-5, 0, 0)},
		{"10y", now.AddDate(-10, 0, 0)},
	}
	for _, rg := range ranges {
		if !start.Before(rg.back) {
			return rg.name
		}
	}
	return "max"
}
