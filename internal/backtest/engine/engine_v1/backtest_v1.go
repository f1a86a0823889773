// Package engine implements the bar-driven backtest engine: a simulated
// margin broker, stop and scaling-in policies, and the run loop that
// sequences them deterministically over a bar series.
package engine

import (
	"math"
	"time"

	"github.com/moznion/go-optional"
	"github.com/quantbeam/leverbt/internal/backtest/engine/engine_v1/addposition"
	"github.com/quantbeam/leverbt/internal/backtest/engine/engine_v1/commission"
	"github.com/quantbeam/leverbt/internal/backtest/engine/engine_v1/sizer"
	"github.com/quantbeam/leverbt/internal/backtest/engine/engine_v1/stop"
	"github.com/quantbeam/leverbt/internal/logger"
	"github.com/quantbeam/leverbt/internal/strategy"
	"github.com/quantbeam/leverbt/internal/types"
	"github.com/quantbeam/leverbt/pkg/errors"
	"go.uber.org/zap"
)

// Result is the complete outcome of one run.
type Result struct {
	EquityCurve  []types.EquityPoint
	Trades       []types.Trade
	Liquidations []types.LiquidationEvent
	TradeLog     []types.TradeLogEntry
}

// positionTracker carries the per-position state the broker does not
// own: the active stop price, excursion extremes and entry bookkeeping.
type positionTracker struct {
	active        bool
	entryBarIndex int
	entryReason   string
	stopPrice     float64
	mae           float64
	mfe           float64
}

// Engine runs a strategy over a bar series. Single-threaded by
// construction: the same inputs always produce the same outputs.
type Engine struct {
	cfg ExecutionConfig
	log *logger.Logger

	broker  *Broker
	handle  *sizedBroker
	stopMgr stop.Manager
	addMgr  *addposition.Manager

	tracker positionTracker
}

// sizedBroker is the order surface strategies see: full-size entries go
// through the configured sizer instead of committing the whole balance.
// Everything else passes straight through to the broker.
type sizedBroker struct {
	*Broker

	sizer   sizer.Sizer
	feeRate float64
}

// budget translates the sizer's quantity back into the cash the sizer
// intends to commit, capped at the free cash by the broker.
func (s *sizedBroker) budget(price float64) float64 {
	qty := s.sizer.Size(s.Broker.CurrentEquity(price), price)

	return qty * price * (1 + s.feeRate)
}

// BuyAll covers a short fully, otherwise opens a long sized by the
// configured sizer.
func (s *sizedBroker) BuyAll(price float64, t time.Time) bool {
	if s.IsShort() {
		return s.Broker.BuyAll(price, t)
	}

	size := s.MaxQuantityForBudget(s.budget(price), price)
	if size <= 0 {
		return false
	}

	return s.Buy(size, price, t, optional.None[float64]())
}

// ShortAll opens a short sized by the configured sizer. Fails when a
// position is already open.
func (s *sizedBroker) ShortAll(price float64, t time.Time) bool {
	if s.HasPosition() {
		return false
	}

	size := s.MaxQuantityForBudget(s.budget(price), price)
	if size <= 0 {
		return false
	}

	return s.Sell(size, price, t, optional.None[float64]())
}

// NewEngine wires the broker and the risk policies from one config.
func NewEngine(cfg ExecutionConfig, log *logger.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	comm, err := commission.New(cfg.CommissionModel, cfg.FeeRate)
	if err != nil {
		return nil, err
	}

	broker, err := NewBroker(BrokerConfig{
		InitialCash:           cfg.InitialCash,
		Leverage:              cfg.Leverage,
		SlippageRate:          cfg.SlippageRate,
		MaintenanceMarginRate: cfg.MaintenanceMarginRate,
	}, comm, log)
	if err != nil {
		return nil, err
	}

	stopMgr, err := stop.New(cfg.Stop)
	if err != nil {
		return nil, err
	}

	szr, err := sizer.New(cfg.Sizer, cfg.FeeRate)
	if err != nil {
		return nil, err
	}

	return &Engine{
		cfg:     cfg,
		log:     log,
		broker:  broker,
		handle:  &sizedBroker{Broker: broker, sizer: szr, feeRate: cfg.FeeRate},
		stopMgr: stopMgr,
		addMgr:  addposition.NewManager(cfg.AddPosition),
	}, nil
}

// Broker exposes the underlying broker, mainly for strategies that size
// their own orders and for tests.
func (e *Engine) Broker() *Broker { return e.broker }

// Run replays the bar series through the strategy. onProgress may be
// nil; when set it is called once per bar with (index, total).
//
// Within each bar the checks run in a fixed priority order: liquidation
// first, then stops and take-profit, then scaling-in, then the strategy
// itself, with bookkeeping and the equity snapshot last. The order is
// part of the engine's contract; reordering it changes results.
func (e *Engine) Run(bars []types.MarketData, strat strategy.Strategy, onProgress func(index int, total int)) (*Result, error) {
	if err := validateBars(bars); err != nil {
		return nil, err
	}

	if strat == nil {
		return nil, errors.New(errors.ErrCodeStrategyNotLoaded, "no strategy provided")
	}

	if preparer, ok := strat.(strategy.Preparer); ok {
		if err := preparer.Prepare(bars); err != nil {
			return nil, errors.Wrap(errors.ErrCodeBacktestInitFailed, "strategy preparation failed", err)
		}
	}

	e.broker.Reset(e.cfg.InitialCash)
	e.resetPositionState()

	tradeLog := make([]types.TradeLogEntry, 0)

	e.log.Info("backtest started",
		zap.String("strategy", strat.Name()),
		zap.Int("bars", len(bars)),
		zap.Float64("initial_cash", e.cfg.InitialCash),
	)

	// The curve's first point is the untouched starting balance,
	// recorded before the strategy ever acts.
	e.broker.RecordEquity(bars[0].Time, bars[0].Open)

	for i, bar := range bars {
		e.processBar(i, bar, strat, &tradeLog)

		if onProgress != nil {
			onProgress(i, len(bars))
		}
	}

	result := &Result{
		EquityCurve:  e.broker.EquityHistory(),
		Trades:       e.broker.Trades(),
		Liquidations: e.broker.LiquidationEvents(),
		TradeLog:     tradeLog,
	}

	e.log.Info("backtest finished",
		zap.Int("trades", len(result.Trades)),
		zap.Int("liquidations", len(result.Liquidations)),
		zap.Float64("final_equity", e.broker.Cash()),
	)

	return result, nil
}

func (e *Engine) processBar(i int, bar types.MarketData, strat strategy.Strategy, tradeLog *[]types.TradeLogEntry) {
	// 1. Liquidation beats everything else and ends the bar: equity is
	// recorded and nothing else runs, the strategy included.
	if e.broker.HasPosition() && e.broker.CheckLiquidationInBar(bar) {
		liqPrice := e.broker.LiquidationPrice().Unwrap()
		e.updateExcursions(bar)

		if e.broker.ProcessLiquidation(bar.Time, liqPrice) {
			e.appendTradeLog(tradeLog, i, bar, types.ExitReasonLiquidation)
			e.resetPositionState()
			e.broker.RecordEquity(bar.Time, bar.Close)

			return
		}
	}

	// 2. Trail the stop first so this bar's check already sees the
	// tightened price, then evaluate stop-loss and take-profit. A bar
	// that touches both resolves to the stop.
	if e.broker.HasPosition() {
		if e.stopMgr != nil {
			e.tracker.stopPrice = e.stopMgr.UpdateTrailing(bar, e.broker.Position().Side, e.tracker.stopPrice)
		}

		e.updateExcursions(bar)

		if !e.checkStop(i, bar, tradeLog) {
			e.checkTakeProfit(i, bar, tradeLog)
		}
	}

	// 3. Scaling-in.
	if e.broker.HasPosition() {
		e.checkAddPosition(i, bar)
	}

	// 4. The strategy acts on the bar close.
	wasOpen := e.broker.HasPosition()
	entrySide := e.broker.Position().Side

	strat.OnBar(i, bar, e.handle)

	// 5. Position opened by the strategy this bar.
	if !wasOpen && e.broker.HasPosition() {
		e.onPositionOpened(i, bar, strat)
	}

	// 6. Position closed (or flipped) by the strategy this bar.
	if wasOpen && (!e.broker.HasPosition() || e.broker.Position().Side != entrySide) {
		e.appendTradeLog(tradeLog, i, bar, types.ExitReasonStrategy)
		e.resetPositionState()

		if e.broker.HasPosition() {
			// Closed one side and opened the other in a single bar.
			e.onPositionOpened(i, bar, strat)
		}
	}

	// 7. Mark the account to the bar close. Bar 0's point was taken
	// before the loop so the curve always starts at the initial cash.
	if i > 0 {
		e.broker.RecordEquity(bar.Time, bar.Close)
	}
}

// checkStop evaluates and executes the stop. Reports whether the
// position was stopped out.
func (e *Engine) checkStop(i int, bar types.MarketData, tradeLog *[]types.TradeLogEntry) bool {
	pos := e.broker.Position()

	var result stop.CheckResult
	if e.stopMgr != nil {
		result = e.stopMgr.Check(bar, pos.Side, pos.EntryPrice, e.tracker.stopPrice)
	} else if touchesStop(bar, pos.Side, e.tracker.stopPrice) {
		result = stop.CheckResult{
			ShouldStop: true,
			Price:      e.tracker.stopPrice,
			Reason:     types.StopReasonSimple,
		}
	}

	if !result.ShouldStop {
		return false
	}

	if !e.closePosition(bar, result.Price) {
		return false
	}

	e.appendTradeLog(tradeLog, i, bar, types.ExitReasonStopLoss)
	e.resetPositionState()

	e.log.Debug("stop loss executed",
		zap.Float64("price", result.Price),
		zap.String("reason", result.Reason),
	)

	return true
}

func (e *Engine) checkTakeProfit(i int, bar types.MarketData, tradeLog *[]types.TradeLogEntry) {
	if e.cfg.TakeProfitPct.IsNone() || !e.broker.HasPosition() {
		return
	}

	pos := e.broker.Position()
	pct := e.cfg.TakeProfitPct.Unwrap()

	var target float64
	var hit bool

	if pos.Side == types.SideLong {
		target = pos.EntryPrice * (1 + pct)
		hit = bar.High >= target
	} else {
		target = pos.EntryPrice * (1 - pct)
		hit = bar.Low <= target
	}

	if !hit {
		return
	}

	if e.closePosition(bar, target) {
		e.appendTradeLog(tradeLog, i, bar, types.ExitReasonTakeProfit)
		e.resetPositionState()
	}
}

func (e *Engine) checkAddPosition(i int, bar types.MarketData) {
	pos := e.broker.Position()

	result := e.addMgr.Check(bar, i, pos.Side, pos.EntryPrice, pos.Quantity, e.tracker.stopPrice)
	if !result.ShouldAdd {
		return
	}

	var ok bool
	if pos.Side == types.SideLong {
		ok = e.broker.Buy(result.Quantity, bar.Close, bar.Time, optional.None[float64]())
	} else {
		ok = e.broker.Sell(result.Quantity, bar.Close, bar.Time, optional.None[float64]())
	}

	if ok {
		e.addMgr.RecordAdd(i, result.Quantity)

		e.log.Debug("scaled into position",
			zap.Float64("quantity", result.Quantity),
			zap.Float64("avg_entry", e.broker.Position().EntryPrice),
		)
	}
}

// closePosition closes the whole position at the given price through
// the broker's polymorphic orders.
func (e *Engine) closePosition(bar types.MarketData, price float64) bool {
	pos := e.broker.Position()

	if pos.Side == types.SideLong {
		return e.broker.Sell(pos.Quantity, price, bar.Time, optional.None[float64]())
	}

	return e.broker.Buy(pos.Quantity, price, bar.Time, optional.None[float64]())
}

// onPositionOpened seeds the per-position state: excursion extremes and
// the initial stop. The stop comes from the strategy when it suggests
// one, else from the reference MA, else from the fixed percentage.
func (e *Engine) onPositionOpened(i int, bar types.MarketData, strat strategy.Strategy) {
	pos := e.broker.Position()

	e.tracker = positionTracker{
		active:        true,
		entryBarIndex: i,
		entryReason:   types.EntryReasonStrategy,
		stopPrice:     e.initialStop(bar, pos, strat),
	}

	e.updateExcursions(bar)

	if e.stopMgr != nil {
		e.stopMgr.Reset()
	}
	e.addMgr.Reset()
}

func (e *Engine) initialStop(bar types.MarketData, pos types.Position, strat strategy.Strategy) float64 {
	if suggester, ok := strat.(strategy.StopSuggester); ok {
		if suggested := suggester.SuggestStop(bar, pos.Side, pos.EntryPrice); suggested.IsSome() {
			price := suggested.Unwrap()
			if validStopFor(pos.Side, pos.EntryPrice, price) {
				return price
			}
		}
	}

	if e.cfg.Stop.MAKey != "" {
		ma := bar.Indicator(e.cfg.Stop.MAKey)
		if !math.IsNaN(ma) {
			var price float64
			if pos.Side == types.SideLong {
				price = ma * (1 - e.cfg.Stop.Buffer)
			} else {
				price = ma * (1 + e.cfg.Stop.Buffer)
			}

			if validStopFor(pos.Side, pos.EntryPrice, price) {
				return price
			}
		}
	}

	if e.cfg.StopLossPct <= 0 {
		return 0
	}

	if pos.Side == types.SideLong {
		return pos.EntryPrice * (1 - e.cfg.StopLossPct)
	}

	return pos.EntryPrice * (1 + e.cfg.StopLossPct)
}

// updateExcursions tracks the worst and best intrabar excursion as
// fractions of the average entry price.
func (e *Engine) updateExcursions(bar types.MarketData) {
	pos := e.broker.Position()
	if !pos.IsOpen() || pos.EntryPrice <= 0 {
		return
	}

	var adverse, favorable float64
	if pos.Side == types.SideLong {
		adverse = (bar.Low - pos.EntryPrice) / pos.EntryPrice
		favorable = (bar.High - pos.EntryPrice) / pos.EntryPrice
	} else {
		adverse = (pos.EntryPrice - bar.High) / pos.EntryPrice
		favorable = (pos.EntryPrice - bar.Low) / pos.EntryPrice
	}

	if adverse < e.tracker.mae {
		e.tracker.mae = adverse
	}
	if favorable > e.tracker.mfe {
		e.tracker.mfe = favorable
	}
}

func (e *Engine) appendTradeLog(tradeLog *[]types.TradeLogEntry, i int, bar types.MarketData, exitReason string) {
	trades := e.broker.Trades()
	if len(trades) == 0 {
		return
	}

	last := trades[len(trades)-1]

	*tradeLog = append(*tradeLog, types.TradeLogEntry{
		TradeID:     last.ID,
		Side:        last.Side,
		EntryTime:   last.EntryTime,
		ExitTime:    last.ExitTime,
		EntryReason: e.tracker.entryReason,
		ExitReason:  exitReason,
		HoldingBars: i - e.tracker.entryBarIndex,
		MAE:         e.tracker.mae,
		MFE:         e.tracker.mfe,
		Fees:        last.Fee,
		EquityAfter: e.broker.CurrentEquity(bar.Close),
	})
}

func (e *Engine) resetPositionState() {
	e.tracker = positionTracker{}

	if e.stopMgr != nil {
		e.stopMgr.Reset()
	}
	e.addMgr.Reset()
}

func touchesStop(bar types.MarketData, side types.Side, stopPrice float64) bool {
	if stopPrice <= 0 || math.IsNaN(stopPrice) {
		return false
	}

	if side == types.SideLong {
		return bar.Low <= stopPrice
	}

	return bar.High >= stopPrice
}

func validStopFor(side types.Side, entryPrice float64, stopPrice float64) bool {
	if stopPrice <= 0 || math.IsNaN(stopPrice) {
		return false
	}

	if side == types.SideLong {
		return stopPrice < entryPrice
	}

	return stopPrice > entryPrice
}

func validateBars(bars []types.MarketData) error {
	if len(bars) == 0 {
		return errors.New(errors.ErrCodeDataEmpty, "bar series is empty")
	}

	for i := 1; i < len(bars); i++ {
		if !bars[i].Time.After(bars[i-1].Time) {
			return errors.Newf(errors.ErrCodeDataNotSorted,
				"bar times must be strictly increasing, violated at index %d", i)
		}
	}

	return nil
}
