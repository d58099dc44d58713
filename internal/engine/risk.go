package engine

import (
	"fmt"
	"math"

	"b3quant/internal/domain"
)

// PositionSizer converts an account balance and a risk budget into a trade
// quantity.
type PositionSizer struct {
	// LotSize, when positive, floors the quantity to a whole multiple of the
	// lot (1 for whole shares, 100 for the B3 standard lot). Zero keeps
	// fractional quantities.
	LotSize int
}

// NewPositionSizer creates a PositionSizer with the given lot size.
func NewPositionSizer(lotSize int) *PositionSizer {
	return &PositionSizer{LotSize: lotSize}
}

// Size returns the quantity to buy so that hitting the stop loses at most
// balance × riskFraction, capped at the quantity the balance can pay for.
//
//   - riskAmount = balance × riskFraction
//   - raw        = riskAmount / stopDistance
//   - size       = min(raw, balance / entryPrice)
//
// It fails with domain.ErrInvalidParameter for a non-positive stop distance,
// risk fraction or entry price, or a negative balance.
func (ps *PositionSizer) Size(balance, riskFraction, stopDistance, entryPrice float64) (float64, error) {
	switch {
	case stopDistance <= 0:
		return 0, fmt.Errorf("stop-loss distance %v must be positive: %w", stopDistance, domain.ErrInvalidParameter)
	case riskFraction <= 0:
		return 0, fmt.Errorf("risk fraction %v must be positive: %w", riskFraction, domain.ErrInvalidParameter)
	case entryPrice <= 0:
		return 0, fmt.Errorf("entry price %v must be positive: %w", entryPrice, domain.ErrInvalidParameter)
	case balance < 0:
		return 0, fmt.Errorf("balance %v must not be negative: %w", balance, domain.ErrInvalidParameter)
	}

	size := (balance * riskFraction) / stopDistance
	if maxSize := balance / entryPrice; maxSize < size {
		size = maxSize
	}

	if ps.LotSize > 0 {
		lot := float64(ps.LotSize)
		size = math.Floor(size/lot) * lot
	}

	// Rounding in balance/entryPrice can overshoot by an ulp.
	for size > 0 && size*entryPrice > balance {
		size = math.Nextafter(size, 0)
	}
	return size, nil
}
