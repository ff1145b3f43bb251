package segment

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// phantom draws a slightly textured bright disk on a flat background.
func phantom(size int, radius float64) *mat.Dense {
	m := mat.NewDense(size, size, nil)
	c := float64(size-1) / 2
	for r := range size {
		for col := range size {
			v := 10.0
			if math.Hypot(float64(r)-c, float64(col)-c) <= radius {
				v = 200 + float64((r+col)%3)
			}
			m.Set(r, col, v)
		}
	}
	return m
}

func TestSegment_Phantom(t *testing.T) {
	img := phantom(24, 6)
	res := Segment(img)

	require.False(t, res.Fallback, "unexpected fallback: %v", res.Reason)
	assert.Equal(t, 1.0, res.Mask.At(12, 12))
	assert.Equal(t, 0.0, res.Mask.At(0, 0))
	assert.Equal(t, 0.0, res.Mask.At(23, 23))

	rows, cols := img.Dims()
	assert.Equal(t, rows*cols, len(res.Fore)+len(res.Back))

	var sum mat.Dense
	sum.Add(res.F, res.B)
	assert.True(t, mat.Equal(img, &sum), "F + B must rebuild the slice")

	var mean float64
	for _, v := range res.Fore {
		mean += v
	}
	assert.Greater(t, mean/float64(len(res.Fore)), 180.0)
}

func TestSegment_Idempotent(t *testing.T) {
	img := phantom(32, 9)
	a := Segment(img)
	b := Segment(img)

	assert.True(t, mat.Equal(a.Mask, b.Mask))
	assert.True(t, mat.Equal(a.F, b.F))
	assert.True(t, mat.Equal(a.B, b.B))
	assert.Equal(t, a.Fore, b.Fore)
	assert.Equal(t, a.Back, b.Back)
}

func TestSegment_HullFillsConcavity(t *testing.T) {
	size := 21
	img := mat.NewDense(size, size, nil)
	for r := range size {
		for c := range size {
			d := math.Hypot(float64(r-10), float64(c-10))
			if d >= 4 && d <= 8 {
				img.Set(r, c, 150)
			}
		}
	}

	res := Segment(img)
	require.False(t, res.Fallback, "unexpected fallback: %v", res.Reason)
	assert.Equal(t, 1.0, res.Mask.At(10, 10), "ring centre must be inside the hull")
	assert.Equal(t, 0.0, res.F.At(10, 10))
	assert.Equal(t, 0.0, res.Mask.At(0, 0))
}

func TestSegment_Fallback(t *testing.T) {
	tests := []struct {
		name   string
		img    *mat.Dense
		reason error
	}{
		{"constant", mat.NewDense(4, 4, []float64{7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7}), ErrConstantSlice},
		{"zero", mat.NewDense(3, 3, nil), ErrConstantSlice},
		{"nan", mat.NewDense(2, 2, []float64{1, math.NaN(), 3, 4}), ErrNonFinite},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Segment(tt.img)
			require.True(t, res.Fallback)
			assert.True(t, errors.Is(res.Reason, tt.reason), "Reason = %v, want %v", res.Reason, tt.reason)

			rows, cols := tt.img.Dims()
			assert.Equal(t, tt.img.At(0, 0), res.F.At(0, 0))
			assert.True(t, mat.Equal(mat.NewDense(rows, cols, nil), res.B))
			assert.True(t, mat.Equal(mat.NewDense(rows, cols, nil), res.Mask))
			assert.Len(t, res.Fore, rows*cols)
			assert.Empty(t, res.Back)
		})
	}
}

func TestSegment_SinglePixel(t *testing.T) {
	img := mat.NewDense(5, 5, nil)
	img.Set(2, 3, 50)

	res := Segment(img)
	require.False(t, res.Fallback, "unexpected fallback: %v", res.Reason)
	assert.Equal(t, []float64{50}, res.Fore)
	assert.Len(t, res.Back, 24)
}

func TestOtsu(t *testing.T) {
	values := []float64{0, 0, 0, 0, 100, 100, 100, 100}
	thr, err := otsu(values)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, thr, 0.0)
	assert.Less(t, thr, 100.0)
	assert.Equal(t, 4, countAbove(values, thr))

	_, err = otsu([]float64{3, 3, 3})
	assert.ErrorIs(t, err, ErrConstantSlice)
}

func TestHistogram_Bins(t *testing.T) {
	counts, centers, err := histogram([]float64{-2, 0, 3, 3}, bins)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0, 1, 0, 0, 2}, counts)
	assert.Equal(t, []float64{-2, -1, 0, 1, 2, 3}, centers)

	counts, _, err = histogram([]float64{0, 0.5, 1}, bins)
	require.NoError(t, err)
	assert.Len(t, counts, bins)

	counts, _, err = histogram([]float64{0, 1 << 20}, bins)
	require.NoError(t, err)
	assert.Len(t, counts, bins, "wide integer ranges fall back to equal bins")
}

func TestOtsu_IntegerSlice(t *testing.T) {
	values := []float64{10, 11, 12, 500, 501}
	thr, err := otsu(values)
	require.NoError(t, err)
	assert.Equal(t, math.Trunc(thr), thr, "threshold is a bin centre of the per-integer histogram")
	assert.Equal(t, 2, countAbove(values, thr))
}

func TestEqualize(t *testing.T) {
	out, err := equalize([]float64{0, 1, 2, 3, 3, 3})
	require.NoError(t, err)

	for i := 1; i < len(out); i++ {
		assert.GreaterOrEqual(t, out[i], out[i-1])
	}
	assert.InDelta(t, 1.0, out[len(out)-1], 1e-12)
	assert.Greater(t, out[0], 0.0)
}

func TestConvexHullMask(t *testing.T) {
	mask := make([]bool, 25)
	for _, i := range []int{0, 4, 20} {
		mask[i] = true
	}

	hull := convexHullMask(mask, 5, 5)
	require.NotNil(t, hull)
	assert.True(t, hull[0])
	assert.True(t, hull[1*5+1])
	assert.True(t, hull[2*5+2])
	assert.False(t, hull[3*5+3])
	assert.False(t, hull[4*5+4])

	assert.Nil(t, convexHullMask(make([]bool, 4), 2, 2))
}
