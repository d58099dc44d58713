// Package builtins provides the strategy implementations that ship with
// b3quant.
package builtins

import (
	"b3quant/internal/domain"
	"b3quant/internal/indicators"
	"b3quant/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = (*SMACross)(nil)

// SMACross is a pure trend rule: long while the short SMA is above the long
// SMA, out otherwise.
type SMACross struct{}

// NewSMACross creates a new SMACross strategy.
func NewSMACross() *SMACross {
	return &SMACross{}
}

// Name returns "sma-cross".
func (s *SMACross) Name() string {
	return "sma-cross"
}

// Signal returns buy when the short SMA is above the long SMA and sell when
// it is at or below it.
func (s *SMACross) Signal(_ domain.Bar, snap indicators.Snapshot) domain.Signal {
	if !snap.ShortMA.Valid || !snap.LongMA.Valid {
		return domain.SignalHold
	}
	if snap.ShortMA.V > snap.LongMA.V {
		return domain.SignalBuy
	}
	return domain.SignalSell
}
