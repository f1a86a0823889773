// Package strategy defines the contracts a trading strategy implements
// to drive a backtest, plus an adapter for vectorized signal-style
// strategies.
package strategy

import (
	"time"

	"github.com/moznion/go-optional"
	"github.com/quantbeam/leverbt/internal/types"
)

// BrokerHandle is the order surface a strategy sees. Order methods
// return false when the order was rejected; rejection is an answer, not
// an error.
type BrokerHandle interface {
	Buy(size float64, price float64, t time.Time, leverage optional.Option[float64]) bool
	Sell(size float64, price float64, t time.Time, leverage optional.Option[float64]) bool
	BuyAll(price float64, t time.Time) bool
	SellAll(price float64, t time.Time) bool
	ShortAll(price float64, t time.Time) bool

	Cash() float64
	CurrentEquity(price float64) float64
	Position() types.Position
	HasPosition() bool
	IsLong() bool
	IsShort() bool
}

// Strategy is the event-driven contract: the engine calls OnBar once per
// bar, in order, after its own risk checks have run.
type Strategy interface {
	Name() string
	OnBar(index int, bar types.MarketData, broker BrokerHandle)
}

// Preparer is implemented by strategies that need a pass over the full
// series before the run starts, typically to attach indicator columns.
type Preparer interface {
	Prepare(bars []types.MarketData) error
}

// StopSuggester is implemented by strategies that propose their own
// initial stop price when a position opens. None defers to the engine's
// MA-based or fixed-percentage fallback.
type StopSuggester interface {
	SuggestStop(bar types.MarketData, side types.Side, entryPrice float64) optional.Option[float64]
}

// ConfigProvider is implemented by strategies that ship a baseline
// execution config as a YAML document. The engine parses it and lets the
// caller's config override individual fields.
type ConfigProvider interface {
	DefaultConfigYAML() string
}
