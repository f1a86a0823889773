// Package sizer maps account equity to an order size. A returned size of
// zero or less is the caller's "do not enter" signal, never an error.
package sizer

import "github.com/quantbeam/leverbt/pkg/errors"

type Mode string

const (
	ModeAllIn     Mode = "all_in"
	ModeFixedCash Mode = "fixed_cash"
	ModePercent   Mode = "percent"
)

var AllModes = []any{
	ModeAllIn,
	ModeFixedCash,
	ModePercent,
}

// Sizer is a pure, stateless sizing policy.
type Sizer interface {
	Size(equity float64, price float64) float64
}

// Config selects a sizing variant. Param is the fixed cash amount for
// ModeFixedCash and the equity fraction for ModePercent; ignored for
// ModeAllIn.
type Config struct {
	Mode  Mode    `yaml:"mode" json:"mode" validate:"omitempty,oneof=all_in fixed_cash percent"`
	Param float64 `yaml:"param" json:"param" validate:"gte=0"`
}

// New builds a sizer from config. FeeRate is the commission fraction the
// execution venue charges, so that the sized order survives its own fee.
func New(cfg Config, feeRate float64) (Sizer, error) {
	switch cfg.Mode {
	case ModeAllIn, "":
		return &AllIn{feeRate: feeRate}, nil
	case ModeFixedCash:
		return &FixedCash{amount: cfg.Param, feeRate: feeRate}, nil
	case ModePercent:
		if cfg.Param > 1 {
			return nil, errors.Newf(errors.ErrCodeInvalidSizerMode, "percent sizer param must be in [0,1], got %v", cfg.Param)
		}

		return &Percent{pct: cfg.Param, feeRate: feeRate}, nil
	default:
		return nil, errors.Newf(errors.ErrCodeInvalidSizerMode, "unknown sizer mode %q", cfg.Mode)
	}
}

func sizeFromNotional(notional float64, price float64, feeRate float64) float64 {
	if notional <= 0 || price <= 0 {
		return 0
	}

	return notional / (price * (1 + feeRate))
}

// AllIn targets the whole account equity.
type AllIn struct {
	feeRate float64
}

// Size implements Sizer.
func (a *AllIn) Size(equity float64, price float64) float64 {
	return sizeFromNotional(equity, price, a.feeRate)
}

// FixedCash targets a fixed cash notional regardless of equity, capped
// at the available equity.
type FixedCash struct {
	amount  float64
	feeRate float64
}

// Size implements Sizer.
func (f *FixedCash) Size(equity float64, price float64) float64 {
	notional := f.amount
	if notional > equity {
		notional = equity
	}

	return sizeFromNotional(notional, price, f.feeRate)
}

// Percent targets a fixed fraction of equity.
type Percent struct {
	pct     float64
	feeRate float64
}

// Size implements Sizer.
func (p *Percent) Size(equity float64, price float64) float64 {
	return sizeFromNotional(equity*p.pct, price, p.feeRate)
}
