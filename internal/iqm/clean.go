package iqm

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Fallback replaces NaN values, empty pixel sets and vanishing denominators.
const Fallback = 1e-6

// Clean returns a copy of values with NaN replaced by Fallback and
// infinities by the largest finite values. An empty input yields
// [Fallback].
func Clean(values []float64) []float64 {
	if len(values) == 0 {
		return []float64{Fallback}
	}
	out := make([]float64, len(values))
	for i, v := range values {
		switch {
		case math.IsNaN(v):
			out[i] = Fallback
		case math.IsInf(v, 1):
			out[i] = math.MaxFloat64
		case math.IsInf(v, -1):
			out[i] = -math.MaxFloat64
		default:
			out[i] = v
		}
	}
	return out
}

// cleanDense applies Clean to every element of m, keeping its shape. A nil
// matrix becomes 1×1 holding Fallback.
func cleanDense(m *mat.Dense) *mat.Dense {
	if m == nil || m.IsEmpty() {
		return mat.NewDense(1, 1, []float64{Fallback})
	}
	rows, cols := m.Dims()
	return mat.NewDense(rows, cols, Clean(flatten(m)))
}

// guard replaces a zero or non-finite denominator by Fallback.
func guard(d float64) float64 {
	if d == 0 || math.IsNaN(d) || math.IsInf(d, 0) {
		return Fallback
	}
	return d
}

func mean(x []float64) float64 {
	return stat.Mean(x, nil)
}

// std is the population standard deviation.
func std(x []float64) float64 {
	return stat.PopStdDev(x, nil)
}

// median averages the two middle values of an even-length input.
func median(x []float64) float64 {
	s := append([]float64(nil), x...)
	sort.Float64s(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}

// percentile interpolates linearly between the order statistics around
// rank (n−1)·p of sorted.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	pos := p * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := min(lo+1, len(sorted)-1)
	return sorted[lo] + (pos-float64(lo))*(sorted[hi]-sorted[lo])
}

func squares(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = v * v
	}
	return out
}

func flatten(m *mat.Dense) []float64 {
	rows, cols := m.Dims()
	out := make([]float64, 0, rows*cols)
	for r := range rows {
		out = append(out, m.RawRowView(r)...)
	}
	return out
}
