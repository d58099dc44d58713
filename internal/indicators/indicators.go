// Package indicators derives technical indicators from a closing-price
// series. Every function is pure and only looks at the prefix of the series
// up to the index being computed.
package indicators

// Value is an indicator reading that may be absent (not enough lookback).
type Value struct {
	V     float64
	Valid bool
}

// Some wraps a defined reading.
func Some(v float64) Value { return Value{V: v, Valid: true} }

// None is an undefined reading.
var None = Value{}

// Snapshot holds the indicator readings for one bar.
type Snapshot struct {
	RSI        Value
	ShortMA    Value
	LongMA     Value
	MACD       Value
	MACDSignal Value
}

// Ready reports whether the readings used by the RSI/MA rule are defined.
func (s Snapshot) Ready() bool {
	return s.RSI.Valid && s.ShortMA.Valid && s.LongMA.Valid
}

// Params configures Compute.
type Params struct {
	RSIPeriod   int
	ShortWindow int
	LongWindow  int
	MACDFast    int
	MACDSlow    int
	MACDSignal  int
}

// DefaultParams returns RSI(14), SMA(10), SMA(20) and MACD(12, 26, 9).
func DefaultParams() Params {
	return Params{
		RSIPeriod:   14,
		ShortWindow: 10,
		LongWindow:  20,
		MACDFast:    12,
		MACDSlow:    26,
		MACDSignal:  9,
	}
}

// Compute returns one Snapshot per close.
func Compute(closes []float64, p Params) []Snapshot {
	rsi := RSI(closes, p.RSIPeriod)
	short := SMA(closes, p.ShortWindow)
	long := SMA(closes, p.LongWindow)
	macd, signal := MACD(closes, p.MACDFast, p.MACDSlow, p.MACDSignal)

	out := make([]Snapshot, len(closes))
	for i := range closes {
		out[i] = Snapshot{
			RSI:        rsi[i],
			ShortMA:    short[i],
			LongMA:     long[i],
			MACD:       macd[i],
			MACDSignal: signal[i],
		}
	}
	return out
}

// SMA is the simple moving average over the trailing window closes. It is
// undefined until the window is filled.
func SMA(x []float64, window int) []Value {
	out := make([]Value, len(x))
	if window <= 0 {
		return out
	}
	var sum float64
	for i := range x {
		sum += x[i]
		if i >= window {
			sum -= x[i-window]
		}
		if i >= window-1 {
			out[i] = Some(sum / float64(window))
		}
	}
	return out
}

// RSI is the relative strength index over the trailing period deltas using
// simple averages of gains and losses. It is undefined for the first period
// bars. A window with no losses reads 100.
func RSI(x []float64, period int) []Value {
	out := make([]Value, len(x))
	if period <= 0 {
		return out
	}
	for i := period; i < len(x); i++ {
		var gain, loss float64
		for j := i - period + 1; j <= i; j++ {
			d := x[j] - x[j-1]
			if d > 0 {
				gain += d
			} else {
				loss -= d
			}
		}
		avgGain := gain / float64(period)
		avgLoss := loss / float64(period)
		if avgLoss == 0 {
			out[i] = Some(100)
			continue
		}
		rs := avgGain / avgLoss
		out[i] = Some(100 - 100/(1+rs))
	}
	return out
}

// EMA is the exponential moving average with smoothing 2/(span+1), seeded
// with the first value so every index is defined.
func EMA(x []float64, span int) []float64 {
	out := make([]float64, len(x))
	if len(x) == 0 || span <= 0 {
		return out
	}
	k := 2.0 / float64(span+1)
	out[0] = x[0]
	for i := 1; i < len(x); i++ {
		out[i] = (x[i]-out[i-1])*k + out[i-1]
	}
	return out
}

// MACD returns the MACD line (fast EMA - slow EMA) and its signal EMA. Both
// are undefined until the slow EMA has seen slow closes.
func MACD(x []float64, fast, slow, signal int) (line, sig []Value) {
	line = make([]Value, len(x))
	sig = make([]Value, len(x))
	if fast <= 0 || slow <= 0 || signal <= 0 {
		return line, sig
	}
	fe := EMA(x, fast)
	se := EMA(x, slow)
	raw := make([]float64, len(x))
	for i := range x {
		raw[i] = fe[i] - se[i]
	}
	se2 := EMA(raw, signal)
	for i := slow - 1; i < len(x); i++ {
		line[i] = Some(raw[i])
		sig[i] = Some(se2[i])
	}
	return line, sig
}
