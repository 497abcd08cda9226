package centroid

import (
	"math"
	"sort"
)

func isFinite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// finiteValues returns the values of data that are neither NaN nor infinite,
// in a new slice.
func finiteValues(data []float64) []float64 {
	out := make([]float64, 0, len(data))
	for _, v := range data {
		if isFinite(v) {
			out = append(out, v)
		}
	}
	return out
}

// finiteMedian is the median of the finite values, averaging the two middle
// values for an even count. NaN when there are none.
func finiteMedian(data []float64) float64 {
	sorted := finiteValues(data)
	if len(sorted) == 0 {
		return math.NaN()
	}
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 0 {
		return (sorted[n/2-1] + sorted[n/2]) / 2.0
	}
	return sorted[n/2]
}

// finiteMax is the largest finite value, NaN when there are none.
func finiteMax(data []float64) float64 {
	m := math.NaN()
	for _, v := range data {
		if !isFinite(v) {
			continue
		}
		if math.IsNaN(m) || v > m {
			m = v
		}
	}
	return m
}
