package commission

import "github.com/quantbeam/leverbt/pkg/errors"

// Commission calculates the fee charged for executing an order of the
// given quantity at the given price.
type Commission interface {
	Calculate(quantity float64, price float64) float64
}

type Model string

const (
	ModelRate Model = "rate"
	ModelZero Model = "zero"
)

var AllModels = []any{
	ModelRate,
	ModelZero,
}

// New returns the commission model for the given config. The rate applies
// only to ModelRate and is a fraction of notional (0.0004 = 4 bps).
func New(model Model, rate float64) (Commission, error) {
	switch model {
	case ModelRate:
		if rate < 0 {
			return nil, errors.Newf(errors.ErrCodeInvalidCommission, "commission rate must be non-negative, got %v", rate)
		}

		return &RateCommission{rate: rate}, nil
	case ModelZero, "":
		return &ZeroCommission{}, nil
	default:
		return nil, errors.Newf(errors.ErrCodeInvalidCommission, "unknown commission model %q", model)
	}
}

// RateCommission charges a fixed fraction of the order notional.
type RateCommission struct {
	rate float64
}

func NewRateCommission(rate float64) *RateCommission {
	return &RateCommission{rate: rate}
}

// Calculate implements Commission.
func (r *RateCommission) Calculate(quantity float64, price float64) float64 {
	return quantity * price * r.rate
}

// Rate returns the configured fee fraction.
func (r *RateCommission) Rate() float64 {
	return r.rate
}

// ZeroCommission charges nothing. Used for frictionless runs and in
// tests that check exact equity accounting.
type ZeroCommission struct{}

func NewZeroCommission() *ZeroCommission {
	return &ZeroCommission{}
}

// Calculate implements Commission.
func (z *ZeroCommission) Calculate(quantity float64, price float64) float64 {
	return 0
}
