package types

import (
	"math"
	"time"
)

// MarketData is a single OHLCV bar. Indicators carries any precomputed
// indicator columns (moving averages, ATR) keyed by column name.
type MarketData struct {
	Time   time.Time `csv:"time" yaml:"time" json:"time"`
	Open   float64   `csv:"open" yaml:"open" json:"open"`
	High   float64   `csv:"high" yaml:"high" json:"high"`
	Low    float64   `csv:"low" yaml:"low" json:"low"`
	Close  float64   `csv:"close" yaml:"close" json:"close"`
	Volume float64   `csv:"volume" yaml:"volume" json:"volume"`

	Indicators map[string]float64 `csv:"-" yaml:"-" json:"-"`
}

// Indicator returns the named indicator column for this bar, or NaN when
// the column is absent or still in its warmup window. Policies treat NaN
// as "indicator unavailable" and decline to act.
func (m MarketData) Indicator(key string) float64 {
	if m.Indicators == nil {
		return math.NaN()
	}

	value, ok := m.Indicators[key]
	if !ok {
		return math.NaN()
	}

	return value
}

// EquityPoint is one entry of the per-bar equity curve.
type EquityPoint struct {
	Time   time.Time `csv:"time" yaml:"time" json:"time"`
	Equity float64   `csv:"equity" yaml:"equity" json:"equity"`
}
