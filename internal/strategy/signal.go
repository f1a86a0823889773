package strategy

import (
	"github.com/quantbeam/leverbt/internal/types"
	"github.com/quantbeam/leverbt/pkg/errors"
)

// SignalType is one element of a vectorized signal series.
type SignalType string

const (
	SignalHold  SignalType = "hold"
	SignalBuy   SignalType = "buy"
	SignalSell  SignalType = "sell"
	SignalShort SignalType = "short"
	SignalCover SignalType = "cover"
)

// SignalStrategy is the vectorized contract: the whole signal series is
// computed up front from the full bar series, one signal per bar.
type SignalStrategy interface {
	Name() string
	Signals(bars []types.MarketData) ([]SignalType, error)
}

// SignalAdapter turns a SignalStrategy into an event-driven Strategy.
// The signal series is computed during Prepare and replayed bar by bar.
type SignalAdapter struct {
	inner   SignalStrategy
	signals []SignalType
}

func NewSignalAdapter(inner SignalStrategy) *SignalAdapter {
	return &SignalAdapter{inner: inner}
}

// Name implements Strategy.
func (a *SignalAdapter) Name() string {
	return a.inner.Name()
}

// Prepare implements Preparer. If the inner strategy is itself a
// Preparer it runs first, so its indicator columns exist before the
// signals are computed.
func (a *SignalAdapter) Prepare(bars []types.MarketData) error {
	if preparer, ok := a.inner.(Preparer); ok {
		if err := preparer.Prepare(bars); err != nil {
			return err
		}
	}

	signals, err := a.inner.Signals(bars)
	if err != nil {
		return err
	}

	if len(signals) != len(bars) {
		return errors.Newf(errors.ErrCodeSignalLengthMismatch,
			"strategy %q returned %d signals for %d bars", a.inner.Name(), len(signals), len(bars))
	}

	a.signals = signals

	return nil
}

// OnBar implements Strategy. Each signal maps onto the broker's
// polymorphic full-size orders; holds do nothing.
func (a *SignalAdapter) OnBar(index int, bar types.MarketData, broker BrokerHandle) {
	if index < 0 || index >= len(a.signals) {
		return
	}

	switch a.signals[index] {
	case SignalBuy:
		if !broker.HasPosition() || broker.IsShort() {
			broker.BuyAll(bar.Close, bar.Time)
		}
	case SignalSell:
		if broker.IsLong() {
			broker.SellAll(bar.Close, bar.Time)
		}
	case SignalShort:
		if !broker.HasPosition() {
			broker.ShortAll(bar.Close, bar.Time)
		}
	case SignalCover:
		if broker.IsShort() {
			broker.BuyAll(bar.Close, bar.Time)
		}
	}
}
