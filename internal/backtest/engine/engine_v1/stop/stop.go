// Package stop decides when an open position must be stopped out and how
// its stop price trails the market.
package stop

import (
	"math"

	"github.com/quantbeam/leverbt/internal/types"
	"github.com/quantbeam/leverbt/pkg/errors"
)

type Mode string

const (
	// ModeNone disables the manager; the engine falls back to its fixed
	// percentage stop.
	ModeNone      Mode = ""
	ModeSimple    Mode = "simple"
	ModeConfirmed Mode = "confirmed"
)

var AllModes = []any{
	ModeSimple,
	ModeConfirmed,
}

// CheckResult is the outcome of one stop evaluation. Price is only
// meaningful when ShouldStop is true.
type CheckResult struct {
	ShouldStop bool
	Price      float64
	Reason     string
}

// Manager is a stateful stop policy. Reset is called whenever a position
// is opened or fully closed.
type Manager interface {
	Reset()
	Check(bar types.MarketData, side types.Side, entryPrice float64, currentStop float64) CheckResult
	// UpdateTrailing returns the new stop price. It only ever tightens the
	// stop in the position's favor: up for longs, down for shorts.
	UpdateTrailing(bar types.MarketData, side types.Side, currentStop float64) float64
}

// Config selects and parameterizes a stop manager.
type Config struct {
	Mode Mode `yaml:"mode" json:"mode" validate:"omitempty,oneof=simple confirmed"`
	// ConfirmBars is the number of consecutive touching bars required
	// before a confirmed stop fires.
	ConfirmBars int `yaml:"confirm_bars" json:"confirm_bars" validate:"gte=0"`
	// Trailing enables moving-average trailing of the stop price.
	Trailing bool `yaml:"trailing" json:"trailing"`
	// MAKey is the indicator column used as the trailing reference.
	MAKey string `yaml:"ma_key" json:"ma_key"`
	// Buffer is the fractional offset below (long) or above (short) the
	// reference MA at which the trailing stop sits.
	Buffer float64 `yaml:"buffer" json:"buffer" validate:"gte=0"`
	// EmergencyATRMult fires an immediate stop when the gap between the
	// reference MA and the adverse extreme exceeds this many ATRs.
	// Zero disables the emergency stop.
	EmergencyATRMult float64 `yaml:"emergency_atr_mult" json:"emergency_atr_mult" validate:"gte=0"`
	// ATRKey is the indicator column holding the ATR series.
	ATRKey string `yaml:"atr_key" json:"atr_key"`
}

// New builds a stop manager from config. ModeNone yields nil, meaning
// the caller should use its fixed-percentage fallback.
func New(cfg Config) (Manager, error) {
	switch cfg.Mode {
	case ModeNone:
		return nil, nil
	case ModeSimple:
		return NewSimple(), nil
	case ModeConfirmed:
		return NewConfirmed(cfg), nil
	default:
		return nil, errors.Newf(errors.ErrCodeInvalidStopMode, "unknown stop mode %q", cfg.Mode)
	}
}

// adverseExtreme is the bar price that moves against the position: the
// low for longs, the high for shorts.
func adverseExtreme(bar types.MarketData, side types.Side) float64 {
	if side == types.SideLong {
		return bar.Low
	}

	return bar.High
}

func touches(bar types.MarketData, side types.Side, stopPrice float64) bool {
	if stopPrice <= 0 || math.IsNaN(stopPrice) {
		return false
	}

	if side == types.SideLong {
		return bar.Low <= stopPrice
	}

	return bar.High >= stopPrice
}

// Simple fires the moment the adverse extreme touches the stop price.
type Simple struct{}

func NewSimple() *Simple {
	return &Simple{}
}

// Reset implements Manager.
func (s *Simple) Reset() {}

// Check implements Manager.
func (s *Simple) Check(bar types.MarketData, side types.Side, entryPrice float64, currentStop float64) CheckResult {
	if touches(bar, side, currentStop) {
		return CheckResult{
			ShouldStop: true,
			Price:      currentStop,
			Reason:     types.StopReasonSimple,
		}
	}

	return CheckResult{}
}

// UpdateTrailing implements Manager. The simple policy never moves the
// stop.
func (s *Simple) UpdateTrailing(bar types.MarketData, side types.Side, currentStop float64) float64 {
	return currentStop
}

// Confirmed requires N consecutive touching bars before stopping out,
// trails the stop along a reference moving average, and fires
// immediately when the adverse extreme gaps an ATR multiple away from
// the reference.
type Confirmed struct {
	cfg Config

	barsBelow int
}

func NewConfirmed(cfg Config) *Confirmed {
	if cfg.ConfirmBars <= 0 {
		cfg.ConfirmBars = 1
	}

	return &Confirmed{cfg: cfg, barsBelow: 0}
}

// Reset implements Manager.
func (c *Confirmed) Reset() {
	c.barsBelow = 0
}

// Check implements Manager. The emergency ATR stop has the highest
// priority and bypasses the confirmation count.
func (c *Confirmed) Check(bar types.MarketData, side types.Side, entryPrice float64, currentStop float64) CheckResult {
	if result, ok := c.checkEmergency(bar, side); ok {
		return result
	}

	if !touches(bar, side, currentStop) {
		c.barsBelow = 0

		return CheckResult{}
	}

	c.barsBelow++
	if c.barsBelow < c.cfg.ConfirmBars {
		return CheckResult{}
	}

	return CheckResult{
		ShouldStop: true,
		Price:      currentStop,
		Reason:     types.StopReasonConfirmed,
	}
}

func (c *Confirmed) checkEmergency(bar types.MarketData, side types.Side) (CheckResult, bool) {
	if c.cfg.EmergencyATRMult <= 0 {
		return CheckResult{}, false
	}

	ma := bar.Indicator(c.cfg.MAKey)
	atr := bar.Indicator(c.cfg.ATRKey)

	if math.IsNaN(ma) || math.IsNaN(atr) || atr <= 0 {
		return CheckResult{}, false
	}

	extreme := adverseExtreme(bar, side)

	gap := ma - extreme
	if side == types.SideShort {
		gap = extreme - ma
	}

	if gap <= c.cfg.EmergencyATRMult*atr {
		return CheckResult{}, false
	}

	return CheckResult{
		ShouldStop: true,
		Price:      extreme,
		Reason:     types.StopReasonEmergency,
	}, true
}

// UpdateTrailing implements Manager. The new stop sits a buffer away
// from the reference MA and only replaces the current stop when it moves
// in the position's favor.
func (c *Confirmed) UpdateTrailing(bar types.MarketData, side types.Side, currentStop float64) float64 {
	if !c.cfg.Trailing {
		return currentStop
	}

	ma := bar.Indicator(c.cfg.MAKey)
	if math.IsNaN(ma) {
		return currentStop
	}

	if side == types.SideLong {
		candidate := ma * (1 - c.cfg.Buffer)
		if candidate > currentStop {
			return candidate
		}

		return currentStop
	}

	candidate := ma * (1 + c.cfg.Buffer)
	if currentStop <= 0 || candidate < currentStop {
		return candidate
	}

	return currentStop
}
