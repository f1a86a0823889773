package types

import "time"

// Side is the direction of a position.
type Side string

const (
	SideFlat  Side = "FLAT"
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// PositionEpsilon is the quantity below which a position is considered
// fully closed.
const PositionEpsilon = 1e-10

// Position is the broker's single open position. EntryPrice and Leverage
// are volume-weighted averages across fills; Leverage is the position's
// own effective leverage and is distinct from the broker's current
// default.
type Position struct {
	Side       Side      `csv:"side" yaml:"side" json:"side"`
	Quantity   float64   `csv:"quantity" yaml:"quantity" json:"quantity"`
	EntryPrice float64   `csv:"entry_price" yaml:"entry_price" json:"entry_price"`
	EntryTime  time.Time `csv:"entry_time" yaml:"entry_time" json:"entry_time"`
	Leverage   float64   `csv:"leverage" yaml:"leverage" json:"leverage"`
}

// IsOpen reports whether the position holds any quantity.
func (p Position) IsOpen() bool {
	return p.Side != SideFlat && p.Quantity > PositionEpsilon
}

// Notional is the entry-priced notional value of the position.
func (p Position) Notional() float64 {
	return p.Quantity * p.EntryPrice
}

// Margin is the capital reserved against the position
// (notional / leverage).
func (p Position) Margin() float64 {
	if p.Leverage <= 0 {
		return 0
	}

	return p.Notional() / p.Leverage
}
