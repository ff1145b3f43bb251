package iqm

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// patchSize is the side of the square window used by the patch metrics.
const patchSize = 5

// laplacian8 subtracts the mean of the eight neighbours from each pixel.
var laplacian8 = [3][3]float64{
	{-1.0 / 8, -1.0 / 8, -1.0 / 8},
	{-1.0 / 8, 1, -1.0 / 8},
	{-1.0 / 8, -1.0 / 8, -1.0 / 8},
}

// immerkaerKernel is the difference of two Laplacians used for fast noise
// estimation.
var immerkaerKernel = [3][3]float64{
	{1, -2, 1},
	{-2, 4, -2},
	{1, -2, 1},
}

// at returns m(r, c), or 0 outside the matrix.
func at(m *mat.Dense, r, c int) float64 {
	rows, cols := m.Dims()
	if r < 0 || c < 0 || r >= rows || c >= cols {
		return 0
	}
	return m.At(r, c)
}

// convolve3 filters m with a symmetric 3×3 kernel, zero padded, keeping
// the input size.
func convolve3(m *mat.Dense, k [3][3]float64) *mat.Dense {
	rows, cols := m.Dims()
	out := mat.NewDense(rows, cols, nil)
	for r := range rows {
		for c := range cols {
			var s float64
			for i := -1; i <= 1; i++ {
				for j := -1; j <= 1; j++ {
					s += k[i+1][j+1] * at(m, r+i, c+j)
				}
			}
			out.Set(r, c, s)
		}
	}
	return out
}

// medianFilter replaces each pixel by the median of its size×size
// neighbourhood, repeating edge pixels outside the matrix.
func medianFilter(m *mat.Dense, size int) *mat.Dense {
	rows, cols := m.Dims()
	h := size / 2
	out := mat.NewDense(rows, cols, nil)
	window := make([]float64, 0, size*size)
	for r := range rows {
		for c := range cols {
			window = window[:0]
			for i := -h; i <= h; i++ {
				for j := -h; j <= h; j++ {
					rr := max(0, min(rows-1, r+i))
					cc := max(0, min(cols-1, c+j))
					window = append(window, m.At(rr, cc))
				}
			}
			sort.Float64s(window)
			out.Set(r, c, window[len(window)/2])
		}
	}
	return out
}

// argmax returns the first row-major position of the largest element.
func argmax(m *mat.Dense) (int, int) {
	rows, cols := m.Dims()
	br, bc := 0, 0
	best := m.At(0, 0)
	for r := range rows {
		for c := range cols {
			if v := m.At(r, c); v > best {
				best, br, bc = v, r, c
			}
		}
	}
	return br, bc
}

// patch returns the patchSize×patchSize window centred on the maximum of m,
// zero padded, in row-major order.
func patch(m *mat.Dense) []float64 {
	r0, c0 := argmax(m)
	h := patchSize / 2
	out := make([]float64, 0, patchSize*patchSize)
	for r := r0 - h; r <= r0+h; r++ {
		for c := c0 - h; c <= c0+h; c++ {
			out = append(out, at(m, r, c))
		}
	}
	return out
}

// localVariance returns E[x²] − E[x]² over every size×size window fully
// inside m, clamped at zero.
func localVariance(m *mat.Dense, size int) []float64 {
	rows, cols := m.Dims()
	if rows < size || cols < size {
		return nil
	}

	n := float64(size * size)
	out := make([]float64, 0, (rows-size+1)*(cols-size+1))
	for r := 0; r+size <= rows; r++ {
		for c := 0; c+size <= cols; c++ {
			var s, s2 float64
			for i := range size {
				for j := range size {
					v := m.At(r+i, c+j)
					s += v
					s2 += v * v
				}
			}
			mu := s / n
			out = append(out, max(0, s2/n-mu*mu))
		}
	}
	return out
}

// immerkaerSigma estimates the standard deviation of additive Gaussian
// noise (J. Immerkær, Fast Noise Variance Estimation, 1996). Matrices
// smaller than 3×3 yield 0.
func immerkaerSigma(m *mat.Dense) float64 {
	rows, cols := m.Dims()
	if rows < 3 || cols < 3 {
		return 0
	}

	var sum float64
	for r := 1; r < rows-1; r++ {
		for c := 1; c < cols-1; c++ {
			var conv float64
			for i := -1; i <= 1; i++ {
				for j := -1; j <= 1; j++ {
					conv += immerkaerKernel[i+1][j+1] * m.At(r+i, c+j)
				}
			}
			sum += math.Abs(conv)
		}
	}
	return sum * math.Sqrt(0.5*math.Pi) / (6 * float64(cols-2) * float64(rows-2))
}

// lbpPoints is the number of circular neighbours of the local binary
// pattern, sampled at radius 1.
const lbpPoints = 8

// localBinaryPattern returns the default 8-neighbour, radius-1 LBP code of
// every pixel. Off-grid neighbours are bilinearly interpolated and pixels
// outside the matrix read as 0.
func localBinaryPattern(m *mat.Dense) []float64 {
	rows, cols := m.Dims()

	var dr, dc [lbpPoints]float64
	for p := range lbpPoints {
		angle := 2 * math.Pi * float64(p) / lbpPoints
		dr[p] = math.Round(-math.Sin(angle)*1e5) / 1e5
		dc[p] = math.Round(math.Cos(angle)*1e5) / 1e5
	}

	out := make([]float64, 0, rows*cols)
	for r := range rows {
		for c := range cols {
			center := m.At(r, c)
			code := 0
			for p := range lbpPoints {
				if bilinear(m, float64(r)+dr[p], float64(c)+dc[p])-center >= 0 {
					code |= 1 << p
				}
			}
			out = append(out, float64(code))
		}
	}
	return out
}

func bilinear(m *mat.Dense, r, c float64) float64 {
	r0, c0 := math.Floor(r), math.Floor(c)
	r1, c1 := math.Ceil(r), math.Ceil(c)
	fr, fc := r-r0, c-c0

	top := (1-fc)*at(m, int(r0), int(c0)) + fc*at(m, int(r0), int(c1))
	bottom := (1-fc)*at(m, int(r1), int(c0)) + fc*at(m, int(r1), int(c1))
	return (1-fr)*top + fr*bottom
}
