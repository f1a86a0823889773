package engine

import (
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/moznion/go-optional"
	"github.com/quantbeam/leverbt/internal/backtest/engine/engine_v1/commission"
	"github.com/quantbeam/leverbt/internal/logger"
	"github.com/quantbeam/leverbt/internal/types"
	"github.com/quantbeam/leverbt/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	// maxAbsValue bounds every intermediate of the ledger arithmetic.
	maxAbsValue = 1e15
	// minCash is the lower bound of the cash balance.
	minCash = -1e10
	// capitalTolerance absorbs float noise in the required-capital check
	// (0.0001%).
	capitalTolerance = 1e-6
)

// BrokerConfig holds the financial parameters of the simulated broker.
type BrokerConfig struct {
	InitialCash float64
	// Leverage is the default applied to orders that do not carry their
	// own. Must be within [1,100].
	Leverage              float64
	SlippageRate          float64
	MaintenanceMarginRate float64
}

// Broker owns the financial ledger: cash, the single open position,
// trade history, liquidation events and the equity curve. It is the only
// component allowed to move money.
type Broker struct {
	log *logger.Logger

	cash                  float64
	defaultLeverage       float64
	slippageRate          float64
	maintenanceMarginRate float64
	commission            commission.Commission

	position      types.Position
	trades        []types.Trade
	liquidations  []types.LiquidationEvent
	equityHistory []types.EquityPoint

	// totalFees accumulates every fee charged; trade records only carry
	// exit fees, so the running sum lives here.
	totalFees float64
}

// NewBroker validates the configuration and builds a broker. Leverage
// outside [1,100] is the only hard construction error; everything else
// surfaces later as rejected orders.
func NewBroker(cfg BrokerConfig, comm commission.Commission, log *logger.Logger) (*Broker, error) {
	if cfg.Leverage < 1 || cfg.Leverage > 100 {
		return nil, errors.Newf(errors.ErrCodeInvalidLeverage, "leverage must be within [1,100], got %v", cfg.Leverage)
	}

	if comm == nil {
		comm = commission.NewZeroCommission()
	}

	return &Broker{
		log:                   log,
		cash:                  cfg.InitialCash,
		defaultLeverage:       cfg.Leverage,
		slippageRate:          cfg.SlippageRate,
		maintenanceMarginRate: cfg.MaintenanceMarginRate,
		commission:            comm,
		position:              types.Position{Side: types.SideFlat},
		trades:                nil,
		liquidations:          nil,
		equityHistory:         nil,
	}, nil
}

// Reset restores the broker to its initial state for a fresh run.
func (b *Broker) Reset(initialCash float64) {
	b.cash = initialCash
	b.position = types.Position{Side: types.SideFlat}
	b.trades = nil
	b.liquidations = nil
	b.equityHistory = nil
	b.totalFees = 0
}

// Cash returns the free cash balance (reserved margin excluded).
func (b *Broker) Cash() float64 { return b.cash }

// Position returns a copy of the current position.
func (b *Broker) Position() types.Position { return b.position }

// HasPosition reports whether any position is open.
func (b *Broker) HasPosition() bool { return b.position.IsOpen() }

// IsLong reports whether the open position is long.
func (b *Broker) IsLong() bool {
	return b.position.IsOpen() && b.position.Side == types.SideLong
}

// IsShort reports whether the open position is short.
func (b *Broker) IsShort() bool {
	return b.position.IsOpen() && b.position.Side == types.SideShort
}

// Trades returns the append-only trade history.
func (b *Broker) Trades() []types.Trade { return b.trades }

// LiquidationEvents returns the append-only liquidation history.
func (b *Broker) LiquidationEvents() []types.LiquidationEvent { return b.liquidations }

// EquityHistory returns the per-bar equity curve recorded so far.
func (b *Broker) EquityHistory() []types.EquityPoint { return b.equityHistory }

// TotalFees returns the sum of all fees charged so far, entries included.
func (b *Broker) TotalFees() float64 { return b.totalFees }

// Buy is polymorphic over the current direction: it opens a long from
// flat, adds to an existing long, and covers (partially or fully) a
// short. Returns false, with no state change, when the order is invalid
// or cannot be funded.
func (b *Broker) Buy(size float64, price float64, t time.Time, leverage optional.Option[float64]) bool {
	if size <= 0 || price <= 0 {
		return false
	}

	switch b.position.Side {
	case types.SideShort:
		return b.closePosition(size, price, t)
	case types.SideLong:
		return b.increasePosition(size, price, t, b.orderLeverage(leverage))
	default:
		return b.openPosition(types.SideLong, size, price, t, b.orderLeverage(leverage))
	}
}

// Sell mirrors Buy: it opens a short from flat, adds to an existing
// short, and closes (partially or fully) a long.
func (b *Broker) Sell(size float64, price float64, t time.Time, leverage optional.Option[float64]) bool {
	if size <= 0 || price <= 0 {
		return false
	}

	switch b.position.Side {
	case types.SideLong:
		return b.closePosition(size, price, t)
	case types.SideShort:
		return b.increasePosition(size, price, t, b.orderLeverage(leverage))
	default:
		return b.openPosition(types.SideShort, size, price, t, b.orderLeverage(leverage))
	}
}

// BuyAll covers the whole short if one is open, otherwise opens a long
// sized to the maximum the free cash can fund at the default leverage.
func (b *Broker) BuyAll(price float64, t time.Time) bool {
	if b.IsShort() {
		return b.Buy(b.position.Quantity, price, t, optional.None[float64]())
	}

	size := b.MaxQuantityForBudget(b.cash, price)
	if size <= 0 {
		return false
	}

	return b.Buy(size, price, t, optional.None[float64]())
}

// SellAll closes the whole open long. It is a no-op returning false when
// no long is open.
func (b *Broker) SellAll(price float64, t time.Time) bool {
	if !b.IsLong() {
		return false
	}

	return b.Sell(b.position.Quantity, price, t, optional.None[float64]())
}

// ShortAll opens a short sized to the maximum the free cash can fund at
// the default leverage. Fails when a position is already open.
func (b *Broker) ShortAll(price float64, t time.Time) bool {
	if b.HasPosition() {
		return false
	}

	size := b.MaxQuantityForBudget(b.cash, price)
	if size <= 0 {
		return false
	}

	return b.Sell(size, price, t, optional.None[float64]())
}

// CurrentEquity marks the account to market at the given price. Margin
// is added back because it was debited from cash at entry time.
func (b *Broker) CurrentEquity(price float64) float64 {
	if !b.position.IsOpen() {
		return b.cash
	}

	unrealized := (price - b.position.EntryPrice) * b.position.Quantity
	if b.position.Side == types.SideShort {
		unrealized = (b.position.EntryPrice - price) * b.position.Quantity
	}

	return b.cash + b.position.Margin() + unrealized
}

// RecordEquity appends one equity-curve point marked at the given price.
func (b *Broker) RecordEquity(t time.Time, price float64) {
	b.equityHistory = append(b.equityHistory, types.EquityPoint{
		Time:   t,
		Equity: b.CurrentEquity(price),
	})
}

// LiquidationPrice derives the price at which the reserved margin no
// longer covers maintenance, from the position's own weighted-average
// leverage. None when flat.
func (b *Broker) LiquidationPrice() optional.Option[float64] {
	if !b.position.IsOpen() {
		return optional.None[float64]()
	}

	lev := b.position.Leverage
	if b.position.Side == types.SideLong {
		return optional.Some(b.position.EntryPrice * (1 - 1/lev + b.maintenanceMarginRate))
	}

	return optional.Some(b.position.EntryPrice * (1 + 1/lev - b.maintenanceMarginRate))
}

// CheckLiquidationInBar reports whether the bar's intrabar extreme
// crossed the liquidation price. Extremes, not closes, keep the check
// conservative.
func (b *Broker) CheckLiquidationInBar(bar types.MarketData) bool {
	liqPrice := b.LiquidationPrice()
	if liqPrice.IsNone() {
		return false
	}

	price := liqPrice.Unwrap()
	if b.position.Side == types.SideLong {
		return bar.Low <= price
	}

	return bar.High >= price
}

// ProcessLiquidation force-closes the position at the given price. The
// loss equals the entire reserved margin; cash is not reduced further
// because the margin never was part of it.
func (b *Broker) ProcessLiquidation(t time.Time, price float64) bool {
	if !b.position.IsOpen() {
		return false
	}

	pos := b.position
	margin := pos.Margin()

	b.liquidations = append(b.liquidations, types.LiquidationEvent{
		Time:             t,
		Side:             pos.Side,
		EntryPrice:       pos.EntryPrice,
		LiquidationPrice: price,
		Quantity:         pos.Quantity,
		LostMargin:       margin,
		Leverage:         pos.Leverage,
	})

	b.trades = append(b.trades, types.Trade{
		ID:            uuid.New().String(),
		Side:          pos.Side,
		EntryTime:     pos.EntryTime,
		ExitTime:      t,
		EntryPrice:    pos.EntryPrice,
		ExitPrice:     price,
		Quantity:      pos.Quantity,
		PnL:           -margin,
		ReturnPct:     -1,
		Leverage:      pos.Leverage,
		Fee:           0,
		IsLiquidation: true,
	})

	b.log.Debug("position liquidated",
		zap.String("side", string(pos.Side)),
		zap.Float64("entry_price", pos.EntryPrice),
		zap.Float64("liquidation_price", price),
		zap.Float64("lost_margin", margin),
	)

	b.position = types.Position{Side: types.SideFlat}

	return true
}

func (b *Broker) orderLeverage(leverage optional.Option[float64]) float64 {
	if leverage.IsNone() {
		return b.defaultLeverage
	}

	lev := leverage.Unwrap()
	if lev < 1 || lev > 100 {
		return b.defaultLeverage
	}

	return lev
}

// slippedPrice applies the unfavorable slippage adjustment: buys fill
// above the quote, sells below it.
func (b *Broker) slippedPrice(price float64, isBuy bool) float64 {
	if isBuy {
		return price * (1 + b.slippageRate)
	}

	return price * (1 - b.slippageRate)
}

// withinRange guards every ledger intermediate against runaway values.
func withinRange(values ...float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) || math.Abs(v) >= maxAbsValue {
			return false
		}
	}

	return true
}

func validCash(cash float64) bool {
	return cash > minCash && cash < maxAbsValue
}

func (b *Broker) openPosition(side types.Side, size float64, price float64, t time.Time, leverage float64) bool {
	actualPrice := b.slippedPrice(price, side == types.SideLong)
	notional := size * actualPrice
	margin := notional / leverage
	fee := b.commission.Calculate(size, actualPrice)
	required := margin + fee

	if !withinRange(actualPrice, notional, margin, fee, required) {
		return false
	}

	if required > b.cash*(1+capitalTolerance) {
		b.log.Debug("order rejected: insufficient cash",
			zap.Float64("required", required),
			zap.Float64("cash", b.cash),
		)

		return false
	}

	newCash := b.cash - required
	if !validCash(newCash) {
		return false
	}

	b.cash = newCash
	b.totalFees += fee
	b.position = types.Position{
		Side:       side,
		Quantity:   size,
		EntryPrice: actualPrice,
		EntryTime:  t,
		Leverage:   leverage,
	}

	return true
}

// increasePosition adds a fill to the open position. The entry price
// becomes the volume-weighted average, and the position leverage is
// re-derived from margin conservation: leverage is not linearly
// additive, so the combined value must satisfy
// (old_notional+add_notional)/new_leverage == old_margin+add_margin.
func (b *Broker) increasePosition(size float64, price float64, t time.Time, leverage float64) bool {
	actualPrice := b.slippedPrice(price, b.position.Side == types.SideLong)
	addNotional := size * actualPrice
	addMargin := addNotional / leverage
	fee := b.commission.Calculate(size, actualPrice)
	required := addMargin + fee

	if !withinRange(actualPrice, addNotional, addMargin, fee, required) {
		return false
	}

	if required > b.cash*(1+capitalTolerance) {
		return false
	}

	oldNotional := b.position.Notional()
	oldMargin := b.position.Margin()
	newQty := b.position.Quantity + size
	newEntry := (oldNotional + addNotional) / newQty
	newLeverage := (oldNotional + addNotional) / (oldMargin + addMargin)
	newCash := b.cash - required

	if !withinRange(newQty, newEntry, newLeverage) || !validCash(newCash) {
		return false
	}

	b.cash = newCash
	b.totalFees += fee
	b.position.Quantity = newQty
	b.position.EntryPrice = newEntry
	b.position.Leverage = newLeverage

	return true
}

// closePosition closes up to the requested size against the open
// position. The released margin flows back to cash together with the
// price profit, net of the exit fee.
func (b *Broker) closePosition(size float64, price float64, t time.Time) bool {
	pos := b.position

	actualSize := math.Min(size, pos.Quantity)
	if actualSize <= 0 {
		return false
	}

	isLong := pos.Side == types.SideLong
	actualPrice := b.slippedPrice(price, !isLong)
	fee := b.commission.Calculate(actualSize, actualPrice)

	priceProfit := (actualPrice - pos.EntryPrice) * actualSize
	if !isLong {
		priceProfit = (pos.EntryPrice - actualPrice) * actualSize
	}

	releasedMargin := actualSize * pos.EntryPrice / pos.Leverage
	newCash := b.cash + releasedMargin + priceProfit - fee

	if !withinRange(actualPrice, fee, priceProfit, releasedMargin) || !validCash(newCash) {
		return false
	}

	pnlDec := decimal.NewFromFloat(priceProfit).Sub(decimal.NewFromFloat(fee))
	pnl, _ := pnlDec.Float64()

	returnPct := 0.0
	if releasedMargin > 0 {
		returnPct = pnl / releasedMargin
	}

	b.cash = newCash
	b.totalFees += fee
	b.trades = append(b.trades, types.Trade{
		ID:            uuid.New().String(),
		Side:          pos.Side,
		EntryTime:     pos.EntryTime,
		ExitTime:      t,
		EntryPrice:    pos.EntryPrice,
		ExitPrice:     actualPrice,
		Quantity:      actualSize,
		PnL:           pnl,
		ReturnPct:     returnPct,
		Leverage:      pos.Leverage,
		Fee:           fee,
		IsLiquidation: false,
	})

	b.position.Quantity -= actualSize
	if b.position.Quantity <= types.PositionEpsilon {
		b.position = types.Position{Side: types.SideFlat}
	}

	return true
}

// MaxQuantityForBudget sizes the largest order the given cash budget can
// fund at the default leverage, iteratively refined so the fee fits too.
// The budget is capped at the free cash.
func (b *Broker) MaxQuantityForBudget(budget float64, price float64) float64 {
	if budget > b.cash {
		budget = b.cash
	}

	if price <= 0 || budget <= 0 {
		return 0
	}

	actualPrice := price * (1 + b.slippageRate)

	qty := budget * b.defaultLeverage / actualPrice

	for i := 0; i < 10; i++ {
		totalCost := qty*actualPrice/b.defaultLeverage + b.commission.Calculate(qty, actualPrice)
		if totalCost <= budget {
			break
		}

		qty = qty * budget / totalCost
	}

	return qty
}
