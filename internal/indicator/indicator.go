// Package indicator computes indicator series over bar slices. Values
// inside an indicator's warmup window are NaN so that downstream policies
// can tell "not yet available" from a real value.
package indicator

import (
	"github.com/quantbeam/leverbt/internal/types"
	"github.com/quantbeam/leverbt/pkg/errors"
)

// Attach writes the series as a named indicator column on every bar.
// The series must be bar-aligned.
func Attach(bars []types.MarketData, name string, series []float64) error {
	if len(series) != len(bars) {
		return errors.Newf(errors.ErrCodeInvalidParameter, "series %q has %d values for %d bars", name, len(series), len(bars))
	}

	for i := range bars {
		if bars[i].Indicators == nil {
			bars[i].Indicators = make(map[string]float64)
		}

		bars[i].Indicators[name] = series[i]
	}

	return nil
}
