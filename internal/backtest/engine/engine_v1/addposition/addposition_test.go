package addposition

import (
	"testing"
	"time"

	"github.com/quantbeam/leverbt/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func eligibleConfig() Config {
	return Config{
		Enabled:           true,
		MaxCount:          2,
		SizePct:           0.5,
		MinInterval:       3,
		MinProfitPct:      0.01,
		PullbackTolerance: 0.005,
		Buffer:            0.01,
		MAKey:             "ma20",
	}
}

// pullbackBar dips to the MA and closes back above it, 5% above entry.
func pullbackBar(ma float64) types.MarketData {
	return types.MarketData{
		Time:       time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Open:       ma * 1.02,
		High:       ma * 1.06,
		Low:        ma * 1.001,
		Close:      ma * 1.05,
		Indicators: map[string]float64{"ma20": ma},
	}
}

func TestEligibleAdd(t *testing.T) {
	m := NewManager(eligibleConfig())
	m.Reset()

	result := m.Check(pullbackBar(100), 10, types.SideLong, 100, 2, 95)
	require.True(t, result.ShouldAdd)
	assert.InDelta(t, 1.0, result.Quantity, 1e-9)
	assert.Equal(t, ReasonPullbackAdd, result.Reason)
}

func TestDisabled(t *testing.T) {
	cfg := eligibleConfig()
	cfg.Enabled = false
	m := NewManager(cfg)

	result := m.Check(pullbackBar(100), 10, types.SideLong, 100, 2, 95)
	assert.False(t, result.ShouldAdd)
	assert.Equal(t, ReasonDisabled, result.Reason)
}

func TestMaxCountReached(t *testing.T) {
	m := NewManager(eligibleConfig())
	m.Reset()

	m.RecordAdd(4, 1)
	m.RecordAdd(8, 1)

	// Third eligible attempt is refused on the count gate.
	result := m.Check(pullbackBar(100), 20, types.SideLong, 100, 2, 95)
	assert.False(t, result.ShouldAdd)
	assert.Equal(t, ReasonMaxCountReached, result.Reason)
}

func TestIntervalGate(t *testing.T) {
	m := NewManager(eligibleConfig())
	m.Reset()
	m.RecordAdd(10, 1)

	result := m.Check(pullbackBar(100), 12, types.SideLong, 100, 2, 95)
	assert.Equal(t, ReasonIntervalNotMet, result.Reason)

	result = m.Check(pullbackBar(100), 13, types.SideLong, 100, 2, 95)
	assert.True(t, result.ShouldAdd)
}

func TestMAUnavailable(t *testing.T) {
	m := NewManager(eligibleConfig())

	bar := pullbackBar(100)
	bar.Indicators = nil

	result := m.Check(bar, 10, types.SideLong, 100, 2, 95)
	assert.Equal(t, ReasonMAUnavailable, result.Reason)
}

func TestInvalidEntryPrice(t *testing.T) {
	m := NewManager(eligibleConfig())

	result := m.Check(pullbackBar(100), 10, types.SideLong, 0, 2, 95)
	assert.Equal(t, ReasonInvalidEntry, result.Reason)
}

func TestProfitGate(t *testing.T) {
	m := NewManager(eligibleConfig())

	// Entry above the close: position is under water, no add.
	result := m.Check(pullbackBar(100), 10, types.SideLong, 110, 2, 95)
	assert.Equal(t, ReasonProfitBelowMin, result.Reason)
}

func TestPullbackGeometryLong(t *testing.T) {
	m := NewManager(eligibleConfig())

	// Low never came near the MA.
	bar := pullbackBar(100)
	bar.Low = 103
	result := m.Check(bar, 10, types.SideLong, 100, 2, 95)
	assert.Equal(t, ReasonNoPullback, result.Reason)

	// Low cut more than buffer through the MA: breakdown, not pullback.
	bar = pullbackBar(100)
	bar.Low = 98
	result = m.Check(bar, 10, types.SideLong, 100, 2, 95)
	assert.Equal(t, ReasonNoPullback, result.Reason)

	// Close failed to recover above the MA.
	bar = pullbackBar(100)
	bar.Close = 99.9
	result = m.Check(bar, 10, types.SideLong, 104, 2, 95)
	assert.NotEqual(t, ReasonPullbackAdd, result.Reason)
}

func TestPullbackShortMirror(t *testing.T) {
	m := NewManager(eligibleConfig())
	m.Reset()

	// Short at 105 with price pulled back up to the MA and rejected.
	bar := types.MarketData{
		Time:       time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Open:       98,
		High:       100 * 0.999,
		Low:        95,
		Close:      96,
		Indicators: map[string]float64{"ma20": 100},
	}

	result := m.Check(bar, 10, types.SideShort, 105, 2, 103)
	require.True(t, result.ShouldAdd)
	assert.InDelta(t, 1.0, result.Quantity, 1e-9)
}

func TestResetClearsCounters(t *testing.T) {
	m := NewManager(eligibleConfig())
	m.RecordAdd(4, 1)
	m.RecordAdd(8, 1)
	m.Reset()

	result := m.Check(pullbackBar(100), 10, types.SideLong, 100, 2, 95)
	assert.True(t, result.ShouldAdd)
}
