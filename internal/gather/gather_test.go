package gather

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"b3quant/internal/config"
	"b3quant/internal/domain"
	"b3quant/internal/store"
)

func unixAt(y int, m time.Month, d int) int64 {
	return time.Date(y, m, d, 13, 0, 0, 0, time.UTC).Unix()
}

func TestBrapiSourceFetchBars(t *testing.T) {
	var gotQuery atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/quote/PETR4" {
			http.NotFound(w, r)
			return
		}
		gotQuery.Store(r.URL.RawQuery)
		fmt.Fprintf(w, `{"results":[{"symbol":"PETR4","historicalDataPrice":[
			{"date":%d,"open":37.0,"high":37.8,"low":36.9,"close":37.5,"volume":40000000},
			{"date":%d,"open":37.5,"high":38.2,"low":37.1,"close":null,"volume":35000000},
			{"date":%d,"open":38.0,"high":38.5,"low":37.9,"close":38.4,"volume":30000000}
		]}]}`, unixAt(2024, 1, 15), unixAt(2024, 2, 1), unixAt(2024, 2, 2))
	}))
	defer srv.Close()

	src := NewBrapiSource(srv.URL, "abc", srv.Client())
	src.now = func() time.Time { return time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC) }

	rng := DateRange{Start: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)}
	bars, err := src.FetchBars(context.Background(), "petr4", rng)
	if err != nil {
		t.Fatalf("FetchBars: %v", err)
	}

	q, _ := gotQuery.Load().(string)
	for _, want := range []string{"interval=1d", "token=abc", "range=3mo"} {
		if !strings.Contains(q, want) {
			t.Errorf("query %q missing %q", q, want)
		}
	}

	if len(bars) != 2 {
		t.Fatalf("got %d bars, want 2 inside the range: %+v", len(bars), bars)
	}
	if want := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC); !bars[0].Date.Equal(want) {
		t.Errorf("bars[0].Date = %v, want %v", bars[0].Date, want)
	}
	if bars[0].Close != 0 || bars[0].Valid() {
		t.Errorf("null close should give an invalid bar: %+v", bars[0])
	}
	if bars[1].Close != 38.4 || bars[1].Volume != 30000000 || bars[1].Symbol != "PETR4" {
		t.Errorf("bars[1] = %+v", bars[1])
	}
}

func TestBrapiSourceErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		switch r.URL.Path {
		case "/api/quote/NOPE3":
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"error":true,"message":"Não encontramos a ação NOPE3"}`)
		case "/api/quote/FAIL3":
			w.WriteHeader(http.StatusBadGateway)
		default:
			fmt.Fprint(w, `{"results":[]}`)
		}
	}))
	defer srv.Close()

	src := NewRetryingSource(NewBrapiSource(srv.URL, "", srv.Client()), nil, 3, time.Millisecond, nil)
	ctx := context.Background()

	hits.Store(0)
	_, err := src.FetchBars(ctx, "NOPE3", DateRange{})
	if !errors.Is(err, domain.ErrDataSource) {
		t.Errorf("404 err = %v, want ErrDataSource", err)
	}
	if n := hits.Load(); n != 1 {
		t.Errorf("404 requested %d times, want 1 (no retry)", n)
	}

	hits.Store(0)
	_, err = src.FetchBars(ctx, "FAIL3", DateRange{})
	if !errors.Is(err, domain.ErrDataSource) {
		t.Errorf("502 err = %v, want ErrDataSource", err)
	}
	if n := hits.Load(); n != 3 {
		t.Errorf("502 requested %d times, want 3", n)
	}

	hits.Store(0)
	if _, err := src.FetchBars(ctx, "EMPTY3", DateRange{}); !errors.Is(err, domain.ErrDataSource) {
		t.Errorf("empty results err = %v, want ErrDataSource", err)
	}
}

func TestBrapiRange(t *testing.T) {
	now := time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		start time.Time
		want  string
	}{
		{time.Time{}, "max"},
		{now.AddDate(0, 0, -3), "5d"},
		{now.AddDate(0, 0, -20), "1mo"},
		{now.AddDate(0, 0, -180), "6mo"},
		{now.AddDate(0, -7, 0), "1y"},
		{now.AddDate(-3, 0, 0), "5y"},
		{now.AddDate(-20, 0, 0), "max"},
	}
	for _, tt := range tests {
		if got := brapiRange(now, tt.start); got != tt.want {
			t.Errorf("brapiRange(%s) = %s, want %s", tt.start.Format(time.DateOnly), got, tt.want)
		}
	}
}

func TestStoreSource(t *testing.T) {
	ps := store.NewParquetStore(t.TempDir())
	ctx := context.Background()
	day := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	if err := ps.WriteBars(ctx, domain.MarketBR, []domain.Bar{{Symbol: "ITUB4", Date: day, Close: 33}}); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}

	src := NewStoreSource(ps, domain.MarketBR)
	bars, err := src.FetchBars(ctx, "ITUB4", DateRange{})
	if err != nil {
		t.Fatalf("FetchBars: %v", err)
	}
	if len(bars) != 1 || bars[0].Close != 33 {
		t.Errorf("FetchBars = %+v", bars)
	}

	if _, err := src.FetchBars(ctx, "BBAS3", DateRange{}); !errors.Is(err, domain.ErrDataSource) {
		t.Errorf("missing symbol err = %v, want ErrDataSource", err)
	}
}

// fakeSource serves generated bars and fails for configured symbols.
type fakeSource struct {
	mu    sync.Mutex
	calls map[string]int
	fail  map[string]bool
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) FetchBars(_ context.Context, symbol string, r DateRange) ([]domain.Bar, error) {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[symbol]++
	f.mu.Unlock()

	if f.fail[symbol] {
		return nil, fmt.Errorf("%s unavailable: %w", symbol, domain.ErrDataSource)
	}
	var bars []domain.Bar
	for d := r.Start; !d.After(r.End); d = d.AddDate(0, 0, 1) {
		bars = append(bars, domain.Bar{Symbol: symbol, Date: d, Open: 10, High: 11, Low: 9, Close: 10.5, Volume: 100})
	}
	return bars, nil
}

func (f *fakeSource) count(symbol string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[symbol]
}

func TestDailyBarGatherer(t *testing.T) {
	dir := t.TempDir()
	ps := store.NewParquetStore(dir)
	src := &fakeSource{fail: map[string]bool{"MGLU3": true}}

	cfg := DailyBarGathererConfig{
		Market:     domain.MarketBR,
		Symbols:    []string{"PETR4", "VALE3", "MGLU3"},
		Start:      time.Date(2024, 2, 26, 0, 0, 0, 0, time.UTC),
		MaxWorkers: 2,
		DataDir:    dir,
	}
	g := NewDailyBarGatherer(src, ps, cfg, nil, nil)
	// Friday 2024-03-01 after the close.
	g.now = func() time.Time { return time.Date(2024, 3, 1, 21, 0, 0, 0, time.UTC) }

	ctx := context.Background()
	err := g.Run(ctx)
	if !errors.Is(err, domain.ErrDataSource) {
		t.Fatalf("first Run err = %v, want ErrDataSource for the failing symbol", err)
	}

	bars, err := ps.ReadBars(ctx, "PETR4", domain.MarketBR, cfg.Start, time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(bars) != 5 {
		t.Errorf("stored %d PETR4 bars, want 5 (Feb 26 to Mar 1)", len(bars))
	}

	// The retry pass only fetches the symbol that failed.
	src.fail = nil
	if err := g.Run(ctx); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if n := src.count("PETR4"); n != 1 {
		t.Errorf("PETR4 fetched %d times, want 1", n)
	}
	if n := src.count("MGLU3"); n != 2 {
		t.Errorf("MGLU3 fetched %d times, want 2", n)
	}

	// Completed for the end date: nothing is fetched.
	if err := g.Run(ctx); err != nil {
		t.Fatalf("third Run: %v", err)
	}
	if n := src.count("VALE3"); n != 1 {
		t.Errorf("VALE3 fetched %d times after completion, want 1", n)
	}
}

func TestOpenSource(t *testing.T) {
	cfg := config.Default()
	ps := store.NewParquetStore(t.TempDir())

	for name, want := range map[string]string{"store": "store", "brapi": "brapi"} {
		src, err := OpenSource(name, cfg, ps, nil)
		if err != nil {
			t.Fatalf("OpenSource(%s): %v", name, err)
		}
		if src.Name() != want {
			t.Errorf("OpenSource(%s).Name() = %q, want %q", name, src.Name(), want)
		}
	}

	if _, err := OpenSource("alpaca", cfg, ps, nil); !errors.Is(err, domain.ErrInvalidParameter) {
		t.Errorf("alpaca without keys: err = %v, want ErrInvalidParameter", err)
	}
	cfg.Alpaca.APIKey, cfg.Alpaca.APISecret = "k", "s"
	if src, err := OpenSource("alpaca", cfg, ps, nil); err != nil || src.Name() != "alpaca" {
		t.Errorf("OpenSource(alpaca) = %v, %v", src, err)
	}
	if _, err := OpenSource("yahoo", cfg, ps, nil); !errors.Is(err, domain.ErrInvalidParameter) {
		t.Errorf("unknown source: err = %v, want ErrInvalidParameter", err)
	}
}
