package indicator

import (
	"math"

	"github.com/quantbeam/leverbt/internal/types"
)

// SMA returns the simple moving average of bar closes over the given
// period. The first period-1 entries are NaN.
func SMA(bars []types.MarketData, period int) []float64 {
	out := make([]float64, len(bars))

	if period <= 0 {
		for i := range out {
			out[i] = math.NaN()
		}

		return out
	}

	sum := 0.0

	for i, bar := range bars {
		sum += bar.Close
		if i >= period {
			sum -= bars[i-period].Close
		}

		if i >= period-1 {
			out[i] = sum / float64(period)
		} else {
			out[i] = math.NaN()
		}
	}

	return out
}
