package indicator

import (
	"math"

	"github.com/quantbeam/leverbt/internal/types"
)

// ATR returns the Wilder-smoothed average true range over the given
// period. The first period entries are NaN: the true range of bar 0 has
// no previous close, and the seed average needs period full ranges.
func ATR(bars []types.MarketData, period int) []float64 {
	out := make([]float64, len(bars))
	for i := range out {
		out[i] = math.NaN()
	}

	if period <= 0 || len(bars) <= period {
		return out
	}

	trueRange := func(i int) float64 {
		prevClose := bars[i-1].Close

		return math.Max(
			math.Max(
				bars[i].High-bars[i].Low,
				math.Abs(bars[i].High-prevClose),
			),
			math.Abs(bars[i].Low-prevClose),
		)
	}

	seed := 0.0
	for i := 1; i <= period; i++ {
		seed += trueRange(i)
	}

	atr := seed / float64(period)
	out[period] = atr

	for i := period + 1; i < len(bars); i++ {
		atr = (atr*float64(period-1) + trueRange(i)) / float64(period)
		out[i] = atr
	}

	return out
}
