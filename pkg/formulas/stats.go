package formulas

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Mean calculates the arithmetic mean of a slice of float64 values
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.Mean(data, nil)
}

// StdDev calculates the sample standard deviation of a slice of float64 values
func StdDev(data []float64) float64 {
	if len(data) < 2 {
		return 0
	}
	return stat.StdDev(data, nil)
}

// Variance calculates the sample variance of a slice of float64 values
func Variance(data []float64) float64 {
	if len(data) < 2 {
		return 0
	}
	return stat.Variance(data, nil)
}

// PopStdDev calculates the population standard deviation (N denominator).
func PopStdDev(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	m := stat.Mean(data, nil)
	var ss float64
	for _, v := range data {
		d := v - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(data)))
}

// Median returns the standard median: the middle value for odd counts, the
// average of the two middle values for even counts, 0 for an empty slice.
// The input is not modified.
func Median(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	s := make([]float64, len(data))
	copy(s, data)
	sort.Float64s(s)
	mid := len(s) / 2
	if len(s)%2 == 1 {
		return s[mid]
	}
	return (s[mid-1] + s[mid]) / 2
}

// CoefficientOfVariation returns the population coefficient of variation
// (population std dev / mean). Returns 0 for empty input or non-positive mean.
func CoefficientOfVariation(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	m := stat.Mean(data, nil)
	if m <= 0 {
		return 0
	}
	return PopStdDev(data) / m
}

// CalculateReturns converts a value series to percentage returns.
// Returns[i] = (Value[i+1] - Value[i]) / Value[i]
func CalculateReturns(values []float64) []float64 {
	if len(values) < 2 {
		return []float64{}
	}

	returns := make([]float64, len(values)-1)
	for i := 1; i < len(values); i++ {
		if values[i-1] != 0 {
			returns[i-1] = (values[i] - values[i-1]) / values[i-1]
		}
	}

	return returns
}
