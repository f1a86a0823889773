package indicator

import (
	"math"

	"github.com/quantbeam/leverbt/internal/types"
)

// EMA returns the exponential moving average of bar closes with the
// standard 2/(period+1) smoothing. It is seeded with the SMA of the
// first period closes, so the first period-1 entries are NaN.
func EMA(bars []types.MarketData, period int) []float64 {
	out := make([]float64, len(bars))
	for i := range out {
		out[i] = math.NaN()
	}

	if period <= 0 || len(bars) < period {
		return out
	}

	seed := 0.0
	for i := 0; i < period; i++ {
		seed += bars[i].Close
	}

	alpha := 2.0 / (float64(period) + 1)
	prev := seed / float64(period)
	out[period-1] = prev

	for i := period; i < len(bars); i++ {
		prev = alpha*bars[i].Close + (1-alpha)*prev
		out[i] = prev
	}

	return out
}
