package segment

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// maxIntegerBins bounds the range of integer-valued slices binned one bin
// per value.
const maxIntegerBins = 1 << 16

// histogram returns the counts and bin centres of values. Integer-valued
// input spanning fewer than maxIntegerBins values gets one bin per integer;
// anything else gets n equal bins over [min, max].
func histogram(values []float64, n int) (counts, centers []float64, err error) {
	lo, hi := floats.Min(values), floats.Max(values)
	if lo == hi {
		return nil, nil, ErrConstantSlice
	}

	if hi-lo < maxIntegerBins && integral(values) {
		n = int(hi-lo) + 1
		counts = make([]float64, n)
		for _, v := range values {
			counts[int(v-lo)]++
		}
		centers = make([]float64, n)
		for i := range centers {
			centers[i] = lo + float64(i)
		}
		return counts, centers, nil
	}

	width := (hi - lo) / float64(n)
	counts = make([]float64, n)
	for _, v := range values {
		counts[binOf(v, lo, width, n)]++
	}

	centers = make([]float64, n)
	for i := range centers {
		centers[i] = lo + (float64(i)+0.5)*width
	}
	return counts, centers, nil
}

func integral(values []float64) bool {
	for _, v := range values {
		if v != math.Trunc(v) {
			return false
		}
	}
	return true
}

func binOf(v, lo, width float64, n int) int {
	b := int((v - lo) / width)
	return max(0, min(b, n-1))
}

// equalize maps values through their normalized cumulative histogram,
// interpolated linearly between bin centres. Output lies in (0, 1].
func equalize(values []float64) ([]float64, error) {
	counts, centers, err := histogram(values, bins)
	if err != nil {
		return nil, err
	}

	cdf := make([]float64, len(counts))
	floats.CumSum(cdf, counts)
	floats.Scale(1/cdf[len(cdf)-1], cdf)

	width := centers[1] - centers[0]
	out := make([]float64, len(values))
	for i, v := range values {
		switch {
		case v <= centers[0]:
			out[i] = cdf[0]
		case v >= centers[len(centers)-1]:
			out[i] = cdf[len(cdf)-1]
		default:
			pos := (v - centers[0]) / width
			k := min(int(pos), len(cdf)-2)
			frac := pos - float64(k)
			out[i] = cdf[k] + frac*(cdf[k+1]-cdf[k])
		}
	}
	return out, nil
}

// otsu returns the bin centre maximizing the between-class variance of the
// histogram. Pixels strictly above it form the foreground.
func otsu(values []float64) (float64, error) {
	counts, centers, err := histogram(values, bins)
	if err != nil {
		return 0, err
	}

	n := len(counts)
	weight1 := make([]float64, n)
	floats.CumSum(weight1, counts)
	weight2 := make([]float64, n)
	var acc float64
	for i := n - 1; i >= 0; i-- {
		acc += counts[i]
		weight2[i] = acc
	}

	mean1 := make([]float64, n)
	var sum float64
	for i := range n {
		sum += counts[i] * centers[i]
		if weight1[i] > 0 {
			mean1[i] = sum / weight1[i]
		}
	}
	mean2 := make([]float64, n)
	sum = 0
	for i := n - 1; i >= 0; i-- {
		sum += counts[i] * centers[i]
		if weight2[i] > 0 {
			mean2[i] = sum / weight2[i]
		}
	}

	best, idx := -1.0, 0
	for i := 0; i < n-1; i++ {
		d := mean1[i] - mean2[i+1]
		v := weight1[i] * weight2[i+1] * d * d
		if v > best {
			best, idx = v, i
		}
	}
	return centers[idx], nil
}
