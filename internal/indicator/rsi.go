package indicator

import (
	"math"

	"github.com/quantbeam/leverbt/internal/types"
)

// RSI returns the Wilder relative strength index of bar closes. The
// first period entries are NaN. A series with no losses saturates
// at 100.
func RSI(bars []types.MarketData, period int) []float64 {
	out := make([]float64, len(bars))
	for i := range out {
		out[i] = math.NaN()
	}

	if period <= 0 || len(bars) <= period {
		return out
	}

	var avgGain, avgLoss float64

	for i := 1; i <= period; i++ {
		change := bars[i].Close - bars[i-1].Close
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}

	avgGain /= float64(period)
	avgLoss /= float64(period)
	out[period] = rsiValue(avgGain, avgLoss)

	for i := period + 1; i < len(bars); i++ {
		change := bars[i].Close - bars[i-1].Close

		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}

		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		out[i] = rsiValue(avgGain, avgLoss)
	}

	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}

	rs := avgGain / avgLoss

	return 100 - 100/(1+rs)
}
