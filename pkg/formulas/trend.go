package formulas

import (
	"github.com/markcheno/go-talib"
)

// CalculateEMA calculates the exponential moving average of a series and
// returns the most recent value, or nil if there is not enough data for the
// requested length.
func CalculateEMA(values []float64, length int) *float64 {
	if length < 1 || len(values) < length {
		return nil
	}

	ema := talib.Ema(values, length)

	if len(ema) > 0 && !isNaN(ema[len(ema)-1]) {
		result := ema[len(ema)-1]
		return &result
	}

	return nil
}

// isNaN checks if a float64 is NaN
func isNaN(f float64) bool {
	return f != f
}
