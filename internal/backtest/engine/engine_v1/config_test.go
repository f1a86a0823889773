package engine

import (
	"testing"

	"github.com/quantbeam/leverbt/internal/backtest/engine/engine_v1/commission"
	"github.com/quantbeam/leverbt/internal/backtest/engine/engine_v1/sizer"
	"github.com/quantbeam/leverbt/internal/backtest/engine/engine_v1/stop"
	"github.com/quantbeam/leverbt/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFull(t *testing.T) {
	doc := `
initial_cash: 50000
leverage: 10
fee_rate: 0.0004
slippage_rate: 0.0001
maintenance_margin_rate: 0.005
commission_model: rate
stop_loss_pct: 0.03
take_profit_pct: 0.08
stop:
  mode: confirmed
  confirm_bars: 2
  trailing: true
  ma_key: ma20
  buffer: 0.01
  emergency_atr_mult: 3
  atr_key: atr14
add_position:
  enabled: true
  max_count: 2
  size_pct: 0.5
  min_interval: 5
  min_profit_pct: 0.01
  pullback_tolerance: 0.005
  buffer: 0.01
  ma_key: ma20
sizer:
  mode: percent
  param: 0.25
`

	cfg, err := LoadConfig([]byte(doc))
	require.NoError(t, err)

	assert.InDelta(t, 50000, cfg.InitialCash, 1e-9)
	assert.InDelta(t, 10, cfg.Leverage, 1e-9)
	assert.Equal(t, commission.ModelRate, cfg.CommissionModel)

	require.True(t, cfg.TakeProfitPct.IsSome())
	assert.InDelta(t, 0.08, cfg.TakeProfitPct.Unwrap(), 1e-9)

	assert.Equal(t, stop.ModeConfirmed, cfg.Stop.Mode)
	assert.Equal(t, 2, cfg.Stop.ConfirmBars)
	assert.True(t, cfg.AddPosition.Enabled)
	assert.Equal(t, sizer.ModePercent, cfg.Sizer.Mode)
	assert.InDelta(t, 0.25, cfg.Sizer.Param, 1e-9)
}

func TestLoadConfigDefaultsSurviveSparseDocument(t *testing.T) {
	cfg, err := LoadConfig([]byte("initial_cash: 2500\n"))
	require.NoError(t, err)

	assert.InDelta(t, 2500, cfg.InitialCash, 1e-9)

	defaults := DefaultConfig()
	assert.InDelta(t, defaults.Leverage, cfg.Leverage, 1e-9)
	assert.InDelta(t, defaults.StopLossPct, cfg.StopLossPct, 1e-9)
	assert.InDelta(t, defaults.MaintenanceMarginRate, cfg.MaintenanceMarginRate, 1e-9)
	assert.True(t, cfg.TakeProfitPct.IsNone())
}

func TestLoadConfigEmpty(t *testing.T) {
	cfg, err := LoadConfig(nil)
	require.NoError(t, err)
	assert.InDelta(t, DefaultConfig().InitialCash, cfg.InitialCash, 1e-9)
}

func TestLoadConfigRejectsBadLeverage(t *testing.T) {
	_, err := LoadConfig([]byte("leverage: 500\n"))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidConfiguration))

	_, err = LoadConfig([]byte("leverage: 0.5\n"))
	require.Error(t, err)
}

func TestLoadConfigRejectsRateModelWithoutRate(t *testing.T) {
	_, err := LoadConfig([]byte("commission_model: rate\n"))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidConfiguration))
}

func TestLoadConfigRejectsMalformedYAML(t *testing.T) {
	_, err := LoadConfig([]byte("initial_cash: [not a number\n"))
	require.Error(t, err)
}

func TestGenerateSchemaJSON(t *testing.T) {
	cfg := DefaultConfig()

	schemaJSON, err := cfg.GenerateSchemaJSON()
	require.NoError(t, err)

	assert.Contains(t, schemaJSON, "initial_cash")
	assert.Contains(t, schemaJSON, "take_profit_pct")
	assert.Contains(t, schemaJSON, "add_position")
}
