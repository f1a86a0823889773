package types

import "time"

const (
	EntryReasonStrategy string = "strategy"

	ExitReasonStopLoss    string = "stop_loss"
	ExitReasonTakeProfit  string = "take_profit"
	ExitReasonStrategy    string = "strategy"
	ExitReasonLiquidation string = "liquidation"

	StopReasonSimple    string = "simple"
	StopReasonConfirmed string = "confirmed"
	StopReasonEmergency string = "emergency"
)

// Trade records one full or partial close. Trades are append-only: they
// are created exactly once per close event and never mutated.
type Trade struct {
	ID            string    `csv:"id" yaml:"id" json:"id"`
	Side          Side      `csv:"side" yaml:"side" json:"side"`
	EntryTime     time.Time `csv:"entry_time" yaml:"entry_time" json:"entry_time"`
	ExitTime      time.Time `csv:"exit_time" yaml:"exit_time" json:"exit_time"`
	EntryPrice    float64   `csv:"entry_price" yaml:"entry_price" json:"entry_price"`
	ExitPrice     float64   `csv:"exit_price" yaml:"exit_price" json:"exit_price"`
	Quantity      float64   `csv:"quantity" yaml:"quantity" json:"quantity"`
	// PnL is realized profit/loss, fee inclusive.
	PnL           float64 `csv:"pnl" yaml:"pnl" json:"pnl"`
	ReturnPct     float64 `csv:"return_pct" yaml:"return_pct" json:"return_pct"`
	Leverage      float64 `csv:"leverage" yaml:"leverage" json:"leverage"`
	Fee           float64 `csv:"fee" yaml:"fee" json:"fee"`
	IsLiquidation bool    `csv:"is_liquidation" yaml:"is_liquidation" json:"is_liquidation"`
}

// LiquidationEvent records one forced close. The lost margin equals the
// entire margin reserved for the position at the time of liquidation.
type LiquidationEvent struct {
	Time             time.Time `csv:"time" yaml:"time" json:"time"`
	Side             Side      `csv:"side" yaml:"side" json:"side"`
	EntryPrice       float64   `csv:"entry_price" yaml:"entry_price" json:"entry_price"`
	LiquidationPrice float64   `csv:"liquidation_price" yaml:"liquidation_price" json:"liquidation_price"`
	Quantity         float64   `csv:"quantity" yaml:"quantity" json:"quantity"`
	LostMargin       float64   `csv:"lost_margin" yaml:"lost_margin" json:"lost_margin"`
	Leverage         float64   `csv:"leverage" yaml:"leverage" json:"leverage"`
}

// TradeLogEntry is the derived, report-facing record for one round trip:
// why it was entered and exited, how long it was held, and the worst and
// best unrealized excursion seen while it was open.
type TradeLogEntry struct {
	TradeID     string    `csv:"trade_id" yaml:"trade_id" json:"trade_id"`
	Side        Side      `csv:"side" yaml:"side" json:"side"`
	EntryTime   time.Time `csv:"entry_time" yaml:"entry_time" json:"entry_time"`
	ExitTime    time.Time `csv:"exit_time" yaml:"exit_time" json:"exit_time"`
	EntryReason string    `csv:"entry_reason" yaml:"entry_reason" json:"entry_reason"`
	ExitReason  string    `csv:"exit_reason" yaml:"exit_reason" json:"exit_reason"`
	HoldingBars int       `csv:"holding_bars" yaml:"holding_bars" json:"holding_bars"`
	// MAE and MFE are the maximum adverse and favorable excursions as
	// price percentages relative to the average entry price.
	MAE         float64 `csv:"mae" yaml:"mae" json:"mae"`
	MFE         float64 `csv:"mfe" yaml:"mfe" json:"mfe"`
	Fees        float64 `csv:"fees" yaml:"fees" json:"fees"`
	EquityAfter float64 `csv:"equity_after" yaml:"equity_after" json:"equity_after"`
}
