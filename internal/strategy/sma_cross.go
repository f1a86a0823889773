package strategy

import (
	"fmt"
	"math"

	"github.com/moznion/go-optional"
	"github.com/quantbeam/leverbt/internal/indicator"
	"github.com/quantbeam/leverbt/internal/types"
	"github.com/quantbeam/leverbt/pkg/errors"
)

// SMACross is an event-driven moving-average crossover: long while the
// fast average is above the slow one, flat otherwise. It attaches its
// own indicator columns during Prepare.
type SMACross struct {
	fastPeriod int
	slowPeriod int

	fastKey string
	slowKey string
}

func NewSMACross(fastPeriod, slowPeriod int) (*SMACross, error) {
	if fastPeriod <= 0 || slowPeriod <= 0 || fastPeriod >= slowPeriod {
		return nil, errors.Newf(errors.ErrCodeInvalidParameter,
			"sma cross needs 0 < fast < slow, got fast=%d slow=%d", fastPeriod, slowPeriod)
	}

	return &SMACross{
		fastPeriod: fastPeriod,
		slowPeriod: slowPeriod,
		fastKey:    fmt.Sprintf("sma%d", fastPeriod),
		slowKey:    fmt.Sprintf("sma%d", slowPeriod),
	}, nil
}

// Name implements Strategy.
func (s *SMACross) Name() string {
	return fmt.Sprintf("sma_cross_%d_%d", s.fastPeriod, s.slowPeriod)
}

// Prepare implements Preparer.
func (s *SMACross) Prepare(bars []types.MarketData) error {
	if err := indicator.Attach(bars, s.fastKey, indicator.SMA(bars, s.fastPeriod)); err != nil {
		return err
	}

	return indicator.Attach(bars, s.slowKey, indicator.SMA(bars, s.slowPeriod))
}

// OnBar implements Strategy.
func (s *SMACross) OnBar(index int, bar types.MarketData, broker BrokerHandle) {
	fast := bar.Indicator(s.fastKey)
	slow := bar.Indicator(s.slowKey)

	if math.IsNaN(fast) || math.IsNaN(slow) {
		return
	}

	switch {
	case fast > slow && !broker.HasPosition():
		broker.BuyAll(bar.Close, bar.Time)
	case fast < slow && broker.IsLong():
		broker.SellAll(bar.Close, bar.Time)
	}
}

// SuggestStop implements StopSuggester: the initial stop sits at the
// slow average when it is below (long) the entry, otherwise the engine
// falls back to its fixed percentage.
func (s *SMACross) SuggestStop(bar types.MarketData, side types.Side, entryPrice float64) optional.Option[float64] {
	slow := bar.Indicator(s.slowKey)
	if math.IsNaN(slow) {
		return optional.None[float64]()
	}

	if side == types.SideLong && slow < entryPrice {
		return optional.Some(slow)
	}

	if side == types.SideShort && slow > entryPrice {
		return optional.Some(slow)
	}

	return optional.None[float64]()
}

// DefaultConfigYAML implements ConfigProvider.
func (s *SMACross) DefaultConfigYAML() string {
	return `
leverage: 1
commission_model: zero
stop_loss_pct: 0.05
sizer:
  mode: all_in
`
}

// SMACrossSignal is the vectorized rendition of the same crossover,
// expressed as a signal series.
type SMACrossSignal struct {
	fastPeriod int
	slowPeriod int
}

func NewSMACrossSignal(fastPeriod, slowPeriod int) (*SMACrossSignal, error) {
	if fastPeriod <= 0 || slowPeriod <= 0 || fastPeriod >= slowPeriod {
		return nil, errors.Newf(errors.ErrCodeInvalidParameter,
			"sma cross needs 0 < fast < slow, got fast=%d slow=%d", fastPeriod, slowPeriod)
	}

	return &SMACrossSignal{fastPeriod: fastPeriod, slowPeriod: slowPeriod}, nil
}

// Name implements SignalStrategy.
func (s *SMACrossSignal) Name() string {
	return fmt.Sprintf("sma_cross_signal_%d_%d", s.fastPeriod, s.slowPeriod)
}

// Signals implements SignalStrategy.
func (s *SMACrossSignal) Signals(bars []types.MarketData) ([]SignalType, error) {
	fast := indicator.SMA(bars, s.fastPeriod)
	slow := indicator.SMA(bars, s.slowPeriod)

	signals := make([]SignalType, len(bars))
	long := false

	for i := range bars {
		signals[i] = SignalHold

		if math.IsNaN(fast[i]) || math.IsNaN(slow[i]) {
			continue
		}

		switch {
		case fast[i] > slow[i] && !long:
			signals[i] = SignalBuy
			long = true
		case fast[i] < slow[i] && long:
			signals[i] = SignalSell
			long = false
		}
	}

	return signals, nil
}
