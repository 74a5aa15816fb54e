// Package stats provides the exact windowed statistics the layer evaluators
// and the threshold calibrator are built on. Everything here is pure and
// allocation-light; windows of a few thousand points are computed exactly,
// never approximated.
package stats

import (
	"math"
	"sort"
)

// Percentile computes the q-quantile (0 <= q <= 1) of values using linear
// interpolation between order statistics. NaN observations are ignored.
// Returns NaN for an empty (or all-NaN) input.
func Percentile(values []float64, q float64) float64 {
	clean := dropNaN(values)
	if len(clean) == 0 {
		return math.NaN()
	}
	if q <= 0 {
		return minOf(clean)
	}
	if q >= 1 {
		return maxOf(clean)
	}

	sorted := make([]float64, len(clean))
	copy(sorted, clean)
	sort.Float64s(sorted)

	pos := q * float64(len(sorted)-1)
	lower := int(math.Floor(pos))
	upper := int(math.Ceil(pos))
	if lower == upper {
		return sorted[lower]
	}
	frac := pos - float64(lower)
	return sorted[lower]*(1-frac) + sorted[upper]*frac
}

// Mean returns the arithmetic mean, ignoring NaN observations. NaN for an
// empty input.
func Mean(values []float64) float64 {
	sum, n := 0.0, 0
	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}

// StdDev returns the population standard deviation, ignoring NaN
// observations. NaN for fewer than one valid point.
func StdDev(values []float64) float64 {
	mean := Mean(values)
	if math.IsNaN(mean) {
		return math.NaN()
	}
	sumSq, n := 0.0, 0
	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		d := v - mean
		sumSq += d * d
		n++
	}
	return math.Sqrt(sumSq / float64(n))
}

// RollingPercentile computes, for each index i, the q-quantile over the
// trailing window of observations ending at i. Indexes with fewer than
// minPeriods valid observations yield NaN rather than an error.
func RollingPercentile(series []float64, q float64, window, minPeriods int) []float64 {
	return rollingApply(series, window, minPeriods, func(win []float64) float64 {
		return Percentile(win, q)
	})
}

// MovingAverage is the trailing arithmetic mean analogue of RollingPercentile.
func MovingAverage(series []float64, window, minPeriods int) []float64 {
	return rollingApply(series, window, minPeriods, Mean)
}

func rollingApply(series []float64, window, minPeriods int, fn func([]float64) float64) []float64 {
	out := make([]float64, len(series))
	if window <= 0 {
		for i := range out {
			out[i] = math.NaN()
		}
		return out
	}
	if minPeriods <= 0 {
		minPeriods = 1
	}

	for i := range series {
		start := i - window + 1
		if start < 0 {
			start = 0
		}
		win := series[start : i+1]
		if validCount(win) < minPeriods {
			out[i] = math.NaN()
			continue
		}
		out[i] = fn(win)
	}
	return out
}

func validCount(values []float64) int {
	n := 0
	for _, v := range values {
		if !math.IsNaN(v) {
			n++
		}
	}
	return n
}

func dropNaN(values []float64) []float64 {
	clean := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			clean = append(clean, v)
		}
	}
	return clean
}

func minOf(values []float64) float64 {
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func maxOf(values []float64) float64 {
	m := values[0]
	for _, v := range values[1:] {
		if v > m {
			m = v
		}
	}
	return m
}
