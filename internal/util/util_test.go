package util

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"b3quant/internal/domain"
)

func TestRetry(t *testing.T) {
	attempts := 0
	targetAttempts := 3

	err := Retry(context.Background(), 5, 0, func() error {
		attempts++
		if attempts < targetAttempts {
			return errors.New("transient error")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Retry returned unexpected error: %v", err)
	}
	if attempts != targetAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, targetAttempts)
	}
}

func TestRetryAllFail(t *testing.T) {
	attempts := 0
	maxAttempts := 3

	err := Retry(context.Background(), maxAttempts, 0, func() error {
		attempts++
		return errors.New("persistent error")
	})

	if err == nil {
		t.Fatal("Retry should return error when all attempts fail")
	}
	if attempts != maxAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, maxAttempts)
	}
}

func TestRetryPermanent(t *testing.T) {
	sentinel := errors.New("not found")
	attempts := 0

	err := Retry(context.Background(), 5, 0, func() error {
		attempts++
		return Permanent(sentinel)
	})

	if !errors.Is(err, sentinel) {
		t.Errorf("Retry err = %v, want %v", err, sentinel)
	}
	if attempts != 1 {
		t.Errorf("Retry called fn %d times, want 1", attempts)
	}
}

func TestRetryCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, 3, time.Hour, func() error { return errors.New("fail") })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Retry err = %v, want context.Canceled", err)
	}
}

func TestRateLimiter(t *testing.T) {
	if rl := NewRateLimiter(0); rl != nil {
		t.Fatal("NewRateLimiter(0) should disable limiting")
	}
	var disabled *RateLimiter
	if err := disabled.Wait(context.Background()); err != nil {
		t.Fatalf("nil limiter Wait: %v", err)
	}

	rl := NewRateLimiter(60)
	if err := rl.Wait(context.Background()); err != nil {
		t.Fatalf("first Wait: %v", err)
	}

	// The bucket is empty now; a short deadline expires before a refill.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := rl.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("second Wait err = %v, want DeadlineExceeded", err)
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log := NewLoggerTo(&buf, "warn", "text")
	log.Info("hidden")
	log.Warn("shown", "ticker", "PETR4")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info record written at warn level: %q", out)
	}
	if !strings.Contains(out, "ticker=PETR4") {
		t.Errorf("text output missing attribute: %q", out)
	}

	if got := ParseLevel("DEBUG"); got != slog.LevelDebug {
		t.Errorf("ParseLevel(DEBUG) = %v, want debug", got)
	}
	if got := ParseLevel("bogus"); got != slog.LevelInfo {
		t.Errorf("ParseLevel(bogus) = %v, want info", got)
	}
}

func TestEasterSunday(t *testing.T) {
	tests := []struct {
		year int
		want string
	}{
		{2019, "2019-04-21"},
		{2024, "2024-03-31"},
		{2025, "2025-04-20"},
		{2026, "2026-04-05"},
	}
	for _, tt := range tests {
		if got := easterSunday(tt.year).Format(time.DateOnly); got != tt.want {
			t.Errorf("easterSunday(%d) = %s, want %s", tt.year, got, tt.want)
		}
	}
}

func TestB3TradingDays(t *testing.T) {
	cal := NewTradingCalendar(domain.MarketBR)
	loc := cal.Location()
	day := func(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 12, 0, 0, 0, loc) }

	tests := []struct {
		name string
		date time.Time
		want bool
	}{
		{"regular friday", day(2024, 3, 1), true},
		{"saturday", day(2024, 3, 2), false},
		{"carnival monday", day(2024, 2, 12), false},
		{"carnival tuesday", day(2024, 2, 13), false},
		{"good friday", day(2024, 3, 29), false},
		{"tiradentes", day(2025, 4, 21), false},
		{"corpus christi", day(2024, 5, 30), false},
		{"consciencia negra 2024", day(2024, 11, 20), false},
		{"nov 20 before 2024", day(2023, 11, 20), true},
		{"new year's eve", day(2024, 12, 31), false},
	}
	for _, tt := range tests {
		if got := cal.IsTradingDay(tt.date); got != tt.want {
			t.Errorf("%s: IsTradingDay(%s) = %v, want %v", tt.name, tt.date.Format(time.DateOnly), got, tt.want)
		}
	}
}

func TestB3Session(t *testing.T) {
	cal := NewTradingCalendar(domain.MarketBR)
	loc := cal.Location()

	if !cal.IsMarketOpen(time.Date(2024, 3, 1, 13, 0, 0, 0, loc)) {
		t.Error("market should be open at 13:00 on a trading day")
	}
	if cal.IsMarketOpen(time.Date(2024, 3, 1, 9, 59, 0, 0, loc)) {
		t.Error("market should be closed before 10:00")
	}

	got := cal.NextOpen(time.Date(2024, 3, 2, 12, 0, 0, 0, loc))
	if want := time.Date(2024, 3, 4, 10, 0, 0, 0, loc); !got.Equal(want) {
		t.Errorf("NextOpen(saturday) = %v, want %v", got, want)
	}
	got = cal.NextClose(time.Date(2024, 3, 1, 11, 0, 0, 0, loc))
	if want := time.Date(2024, 3, 1, 17, 0, 0, 0, loc); !got.Equal(want) {
		t.Errorf("NextClose = %v, want %v", got, want)
	}
}

func TestLastFinishedTradingDay(t *testing.T) {
	cal := NewTradingCalendar(domain.MarketBR)
	loc := cal.Location()

	tests := []struct {
		name string
		now  time.Time
		want string
	}{
		{"after close", time.Date(2024, 3, 1, 18, 0, 0, 0, loc), "2024-03-01"},
		{"monday morning", time.Date(2024, 3, 4, 9, 0, 0, 0, loc), "2024-03-01"},
		{"ash wednesday before close", time.Date(2024, 2, 14, 12, 0, 0, 0, loc), "2024-02-09"},
	}
	for _, tt := range tests {
		got := cal.LastFinishedTradingDay(tt.now)
		if got.Format(time.DateOnly) != tt.want || got.Location() != time.UTC {
			t.Errorf("%s: LastFinishedTradingDay = %v, want %s UTC", tt.name, got, tt.want)
		}
	}
}
