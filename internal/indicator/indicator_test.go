package indicator

import (
	"math"
	"testing"
	"time"

	"github.com/quantbeam/leverbt/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func barsFromCloses(closes ...float64) []types.MarketData {
	bars := make([]types.MarketData, len(closes))
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, c := range closes {
		bars[i] = types.MarketData{
			Time:  start.Add(time.Duration(i) * time.Hour),
			Open:  c,
			High:  c + 1,
			Low:   c - 1,
			Close: c,
		}
	}

	return bars
}

func TestSMA(t *testing.T) {
	bars := barsFromCloses(1, 2, 3, 4, 5)
	series := SMA(bars, 3)

	require.Len(t, series, 5)
	assert.True(t, math.IsNaN(series[0]))
	assert.True(t, math.IsNaN(series[1]))
	assert.InDelta(t, 2.0, series[2], 1e-9)
	assert.InDelta(t, 3.0, series[3], 1e-9)
	assert.InDelta(t, 4.0, series[4], 1e-9)
}

func TestSMAInvalidPeriod(t *testing.T) {
	bars := barsFromCloses(1, 2, 3)
	for _, v := range SMA(bars, 0) {
		assert.True(t, math.IsNaN(v))
	}
}

func TestATRConstantRange(t *testing.T) {
	// Flat closes with high-low spread of 2 give a constant true range,
	// so the smoothed average must equal it everywhere past warmup.
	bars := barsFromCloses(10, 10, 10, 10, 10, 10)
	series := ATR(bars, 3)

	for i := 0; i < 3; i++ {
		assert.True(t, math.IsNaN(series[i]), "warmup index %d", i)
	}

	for i := 3; i < len(series); i++ {
		assert.InDelta(t, 2.0, series[i], 1e-9)
	}
}

func TestATRTooFewBars(t *testing.T) {
	bars := barsFromCloses(1, 2)
	for _, v := range ATR(bars, 14) {
		assert.True(t, math.IsNaN(v))
	}
}

func TestAttach(t *testing.T) {
	bars := barsFromCloses(1, 2, 3)
	err := Attach(bars, "ma3", []float64{1, 2, 3})
	require.NoError(t, err)
	assert.InDelta(t, 2.0, bars[1].Indicator("ma3"), 1e-9)

	err = Attach(bars, "bad", []float64{1})
	assert.Error(t, err)
}

func TestEMASeededWithSMA(t *testing.T) {
	bars := barsFromCloses(1, 2, 3, 4, 5)
	series := EMA(bars, 3)

	assert.True(t, math.IsNaN(series[0]))
	assert.True(t, math.IsNaN(series[1]))
	assert.InDelta(t, 2.0, series[2], 1e-9)
	// alpha = 0.5: 0.5*4 + 0.5*2, then 0.5*5 + 0.5*3
	assert.InDelta(t, 3.0, series[3], 1e-9)
	assert.InDelta(t, 4.0, series[4], 1e-9)
}

func TestEMATooFewBars(t *testing.T) {
	for _, v := range EMA(barsFromCloses(1, 2), 5) {
		assert.True(t, math.IsNaN(v))
	}
}

func TestRSIMonotonicGains(t *testing.T) {
	bars := barsFromCloses(1, 2, 3, 4, 5, 6)
	series := RSI(bars, 3)

	for i := 0; i < 3; i++ {
		assert.True(t, math.IsNaN(series[i]), "warmup index %d", i)
	}

	// Nothing but gains saturates the index.
	for i := 3; i < len(series); i++ {
		assert.InDelta(t, 100.0, series[i], 1e-9)
	}
}

func TestRSIAlternating(t *testing.T) {
	bars := barsFromCloses(10, 11, 10, 11, 10, 11)
	series := RSI(bars, 2)

	for i := 2; i < len(series); i++ {
		assert.Greater(t, series[i], 0.0)
		assert.Less(t, series[i], 100.0)
	}
}
