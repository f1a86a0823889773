package types

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPositionIsOpen(t *testing.T) {
	flat := Position{Side: SideFlat}
	assert.False(t, flat.IsOpen())

	dust := Position{Side: SideLong, Quantity: PositionEpsilon / 2}
	assert.False(t, dust.IsOpen())

	long := Position{Side: SideLong, Quantity: 1, EntryPrice: 100, Leverage: 1}
	assert.True(t, long.IsOpen())
}

func TestPositionMargin(t *testing.T) {
	p := Position{
		Side:       SideLong,
		Quantity:   2,
		EntryPrice: 50000,
		EntryTime:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Leverage:   10,
	}

	assert.InDelta(t, 100000.0, p.Notional(), 1e-9)
	assert.InDelta(t, 10000.0, p.Margin(), 1e-9)

	p.Leverage = 0
	assert.Zero(t, p.Margin())
}

func TestMarketDataIndicator(t *testing.T) {
	bar := MarketData{
		Close:      100,
		Indicators: map[string]float64{"ma20": 99.5},
	}

	assert.InDelta(t, 99.5, bar.Indicator("ma20"), 1e-9)
	assert.True(t, math.IsNaN(bar.Indicator("atr14")))

	var empty MarketData
	assert.True(t, math.IsNaN(empty.Indicator("ma20")))
}
