package engine

import (
	"time"

	"b3quant/internal/domain"
)

// EquityTracker records one EquityPoint per simulated bar, in bar order.
type EquityTracker struct {
	ticker string
	points []domain.EquityPoint
}

// NewEquityTracker creates a tracker for ticker with room for capacity bars.
func NewEquityTracker(ticker string, capacity int) *EquityTracker {
	return &EquityTracker{
		ticker: ticker,
		points: make([]domain.EquityPoint, 0, capacity),
	}
}

// Record appends the portfolio value for the bar: cash while flat, the
// marked position (size × price) while long.
func (t *EquityTracker) Record(date time.Time, pos domain.Position, cash, price float64) {
	equity := cash
	if pos.IsLong() {
		equity = pos.Size * price
	}
	t.points = append(t.points, domain.EquityPoint{
		Date:   date,
		Equity: equity,
		Ticker: t.ticker,
		Cash:   cash,
	})
}

// Points returns the recorded curve.
func (t *EquityTracker) Points() []domain.EquityPoint {
	return t.points
}

// Len returns the number of recorded points.
func (t *EquityTracker) Len() int { return len(t.points) }
