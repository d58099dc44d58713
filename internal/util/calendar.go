package util

import (
	"time"

	"b3quant/internal/domain"
)

// TradingCalendar provides trading-day and session awareness for a market.
// For B3 it knows weekends, national holidays, the moveable feasts and the
// exchange's year-end closures. For US it only knows weekends.
type TradingCalendar struct {
	market domain.Market
	loc    *time.Location
	open   time.Duration // session open, offset from local midnight
	close  time.Duration // session close, offset from local midnight
}

// NewTradingCalendar creates a TradingCalendar for the given market. If the
// zone database is unavailable the calendar falls back to a fixed offset.
func NewTradingCalendar(market domain.Market) *TradingCalendar {
	tc := &TradingCalendar{market: market}
	switch market {
	case domain.MarketUS:
		tc.loc = loadLocation("America/New_York", -5)
		tc.open = 9*time.Hour + 30*time.Minute
		tc.close = 16 * time.Hour
	default:
		tc.loc = loadLocation("America/Sao_Paulo", -3)
		tc.open = 10 * time.Hour
		tc.close = 17 * time.Hour
	}
	return tc
}

func loadLocation(name string, offsetHours int) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.FixedZone(name, offsetHours*3600)
	}
	return loc
}

// Location returns the exchange time zone.
func (tc *TradingCalendar) Location() *time.Location { return tc.loc }

// IsTradingDay reports whether the exchange holds a session on t's local date.
func (tc *TradingCalendar) IsTradingDay(t time.Time) bool {
	t = t.In(tc.loc)
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	if tc.market == domain.MarketUS {
		return true
	}
	return !isB3Holiday(t.Year(), t.Month(), t.Day())
}

// IsMarketOpen returns whether the regular session is open at time t.
func (tc *TradingCalendar) IsMarketOpen(t time.Time) bool {
	if !tc.IsTradingDay(t) {
		return false
	}
	local := t.In(tc.loc)
	mid := midnight(local)
	return !local.Before(mid.Add(tc.open)) && local.Before(mid.Add(tc.close))
}

// NextOpen returns the next session open at or after t.
func (tc *TradingCalendar) NextOpen(t time.Time) time.Time {
	local := t.In(tc.loc)
	for d := midnight(local); ; d = d.AddDate(0, 0, 1) {
		if open := d.Add(tc.open); tc.IsTradingDay(d) && !open.Before(local) {
			return open
		}
	}
}

// NextClose returns the next session close at or after t.
func (tc *TradingCalendar) NextClose(t time.Time) time.Time {
	local := t.In(tc.loc)
	for d := midnight(local); ; d = d.AddDate(0, 0, 1) {
		if cl := d.Add(tc.close); tc.IsTradingDay(d) && !cl.Before(local) {
			return cl
		}
	}
}

// LastFinishedTradingDay returns the most recent trading date whose session
// closed at or before now, as midnight UTC of that date.
func (tc *TradingCalendar) LastFinishedTradingDay(now time.Time) time.Time {
	local := now.In(tc.loc)
	d := midnight(local)
	if !tc.IsTradingDay(d) || local.Before(d.Add(tc.close)) {
		d = d.AddDate(0, 0, -1)
	}
	for !tc.IsTradingDay(d) {
		d = d.AddDate(0, 0, -1)
	}
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// isB3Holiday reports the B3 equity market closures for a date.
func isB3Holiday(year int, month time.Month, day int) bool {
	type md struct {
		m time.Month
		d int
	}
	fixed := map[md]bool{
		{time.January, 1}:   true, // Confraternização Universal
		{time.April, 21}:    true, // Tiradentes
		{time.May, 1}:       true, // Dia do Trabalho
		{time.September, 7}: true, // Independência
		{time.October, 12}:  true, // Nossa Senhora Aparecida
		{time.November, 2}:  true, // Finados
		{time.November, 15}: true, // Proclamação da República
		{time.December, 24}: true,
		{time.December, 25}: true,
		{time.December, 31}: true,
	}
	if fixed[md{month, day}] {
		return true
	}
	if year >= 2024 && month == time.November && day == 20 {
		return true // Consciência Negra
	}

	easter := easterSunday(year)
	date := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	for _, offset := range []int{-48, -47, -2, 60} { // Carnival Mon/Tue, Good Friday, Corpus Christi
		if date.Equal(easter.AddDate(0, 0, offset)) {
			return true
		}
	}
	return false
}

// easterSunday computes Western Easter with the anonymous Gregorian algorithm.
func easterSunday(year int) time.Time {
	a := year % 19
	b := year / 100
	c := year % 100
	d := b / 4
	e := b % 4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i := c / 4
	k := c % 4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	day := (h+l-7*m+114)%31 + 1
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}
