// Package addposition decides whether to scale into an existing position
// on a pullback to the reference moving average.
package addposition

import (
	"math"

	"github.com/quantbeam/leverbt/internal/types"
)

const (
	ReasonDisabled        = "disabled"
	ReasonMaxCountReached = "max_count_reached"
	ReasonIntervalNotMet  = "interval_not_met"
	ReasonMAUnavailable   = "ma_unavailable"
	ReasonInvalidEntry    = "invalid_entry_price"
	ReasonProfitBelowMin  = "profit_below_min"
	ReasonNoPullback      = "no_pullback"
	ReasonPullbackAdd     = "pullback_add"
)

// Result is the outcome of one add-position evaluation. Quantity is only
// meaningful when ShouldAdd is true.
type Result struct {
	ShouldAdd bool
	Quantity  float64
	Reason    string
}

// Config parameterizes the scaling-in policy.
type Config struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// MaxCount is the maximum number of adds per position.
	MaxCount int `yaml:"max_count" json:"max_count" validate:"gte=0"`
	// SizePct scales the add quantity relative to the current position
	// quantity.
	SizePct float64 `yaml:"size_pct" json:"size_pct" validate:"gte=0"`
	// MinInterval is the minimum number of bars between adds.
	MinInterval int `yaml:"min_interval" json:"min_interval" validate:"gte=0"`
	// MinProfitPct is the minimum unrealized profit fraction before an
	// add is considered.
	MinProfitPct float64 `yaml:"min_profit_pct" json:"min_profit_pct"`
	// PullbackTolerance bounds how far the adverse extreme may sit from
	// the reference MA on the favorable side.
	PullbackTolerance float64 `yaml:"pullback_tolerance" json:"pullback_tolerance" validate:"gte=0"`
	// Buffer bounds how far through the MA the pullback may cut before
	// it no longer counts as a pullback.
	Buffer float64 `yaml:"buffer" json:"buffer" validate:"gte=0"`
	// MAKey is the indicator column used as the pullback reference.
	MAKey string `yaml:"ma_key" json:"ma_key"`
}

// Manager is the stateful scaling-in policy. Reset is called whenever a
// position is opened or fully closed.
type Manager struct {
	cfg Config

	addCount     int
	lastAddIndex int
}

func NewManager(cfg Config) *Manager {
	return &Manager{
		cfg:          cfg,
		addCount:     0,
		lastAddIndex: -1,
	}
}

// Reset clears the per-position counters.
func (m *Manager) Reset() {
	m.addCount = 0
	m.lastAddIndex = -1
}

// RecordAdd registers an executed add so the count and interval gates see
// it. Call it only after the broker accepted the order.
func (m *Manager) RecordAdd(barIndex int, quantity float64) {
	m.addCount++
	m.lastAddIndex = barIndex
}

// Check runs the gate chain in a fixed order; the first failing gate
// short-circuits with its reason.
func (m *Manager) Check(bar types.MarketData, barIndex int, side types.Side, avgEntryPrice float64, currentQty float64, currentStop float64) Result {
	if !m.cfg.Enabled {
		return Result{Reason: ReasonDisabled}
	}

	if m.addCount >= m.cfg.MaxCount {
		return Result{Reason: ReasonMaxCountReached}
	}

	if m.lastAddIndex >= 0 && barIndex-m.lastAddIndex < m.cfg.MinInterval {
		return Result{Reason: ReasonIntervalNotMet}
	}

	ma := bar.Indicator(m.cfg.MAKey)
	if math.IsNaN(ma) || ma <= 0 {
		return Result{Reason: ReasonMAUnavailable}
	}

	if avgEntryPrice <= 0 || math.IsNaN(avgEntryPrice) {
		return Result{Reason: ReasonInvalidEntry}
	}

	profit := (bar.Close - avgEntryPrice) / avgEntryPrice
	if side == types.SideShort {
		profit = (avgEntryPrice - bar.Close) / avgEntryPrice
	}

	if profit < m.cfg.MinProfitPct {
		return Result{Reason: ReasonProfitBelowMin}
	}

	if !m.isPullback(bar, side, ma) {
		return Result{Reason: ReasonNoPullback}
	}

	return Result{
		ShouldAdd: true,
		Quantity:  currentQty * m.cfg.SizePct,
		Reason:    ReasonPullbackAdd,
	}
}

// isPullback checks the pullback geometry: the adverse extreme dips to
// within tolerance of the MA without cutting more than buffer through
// it, and the close recovers to the favorable side.
func (m *Manager) isPullback(bar types.MarketData, side types.Side, ma float64) bool {
	if side == types.SideLong {
		return bar.Low <= ma*(1+m.cfg.PullbackTolerance) &&
			bar.Low >= ma*(1-m.cfg.Buffer) &&
			bar.Close > ma
	}

	return bar.High >= ma*(1-m.cfg.PullbackTolerance) &&
		bar.High <= ma*(1+m.cfg.Buffer) &&
		bar.Close < ma
}
