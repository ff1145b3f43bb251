// Package segment splits a slice into a convex foreground region and its
// background.
package segment

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Reasons for falling back to a whole-slice foreground.
var (
	ErrConstantSlice  = errors.New("constant slice")
	ErrNonFinite      = errors.New("slice holds NaN or infinite values")
	ErrEmptyThreshold = errors.New("threshold selects no pixel")
	ErrEmptyHull      = errors.New("convex hull is empty")
)

// Result is the foreground/background partition of one slice.
type Result struct {
	// F is the slice masked to the foreground, B to the background.
	F, B *mat.Dense
	// Mask is 1 on foreground pixels and 0 elsewhere.
	Mask *mat.Dense
	// Fore and Back list the slice values under and outside the mask in
	// row-major order.
	Fore, Back []float64

	// Fallback is set when no foreground could be derived; Reason says why.
	// F is then the whole slice, B and Mask are zero and Back is empty.
	Fallback bool
	Reason   error
}

const bins = 256

// Segment thresholds the slice and its histogram-equalized version with
// Otsu's method, thresholds a blend of both weighted by their foreground
// fractions, and takes the convex hull of that mask as the foreground.
// The result only depends on the pixel values.
func Segment(img *mat.Dense) Result {
	rows, cols := img.Dims()
	pixels := flatten(img)

	for _, v := range pixels {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fallback(img, pixels, ErrNonFinite)
		}
	}

	tImg, err := otsu(pixels)
	if err != nil {
		return fallback(img, pixels, err)
	}

	eq, err := equalize(pixels)
	if err != nil {
		return fallback(img, pixels, err)
	}
	for i := range eq {
		eq[i] *= 255
	}
	tEq, err := otsu(eq)
	if err != nil {
		return fallback(img, pixels, err)
	}

	n := float64(len(pixels))
	w1 := float64(countAbove(pixels, tImg)) / n
	w2 := float64(countAbove(eq, tEq)) / n

	blend := make([]float64, len(pixels))
	for i, v := range pixels {
		blend[i] = w1*v + w2*eq[i]
	}
	tBlend, err := otsu(blend)
	if err != nil {
		return fallback(img, pixels, err)
	}

	combined := make([]bool, len(blend))
	found := false
	for i, v := range blend {
		combined[i] = v > tBlend
		found = found || combined[i]
	}
	if !found {
		return fallback(img, pixels, ErrEmptyThreshold)
	}

	hull := convexHullMask(combined, rows, cols)
	if hull == nil {
		return fallback(img, pixels, ErrEmptyHull)
	}

	res := Result{
		F:    mat.NewDense(rows, cols, nil),
		B:    mat.NewDense(rows, cols, nil),
		Mask: mat.NewDense(rows, cols, nil),
	}
	for i, v := range pixels {
		r, c := i/cols, i%cols
		if hull[i] {
			res.Mask.Set(r, c, 1)
			res.F.Set(r, c, v)
			res.Fore = append(res.Fore, v)
		} else {
			res.B.Set(r, c, v)
			res.Back = append(res.Back, v)
		}
	}
	return res
}

func fallback(img *mat.Dense, pixels []float64, reason error) Result {
	rows, cols := img.Dims()
	return Result{
		F:        mat.DenseCopyOf(img),
		B:        mat.NewDense(rows, cols, nil),
		Mask:     mat.NewDense(rows, cols, nil),
		Fore:     pixels,
		Fallback: true,
		Reason:   reason,
	}
}

// flatten copies the slice in row-major order.
func flatten(img *mat.Dense) []float64 {
	rows, cols := img.Dims()
	out := make([]float64, 0, rows*cols)
	for r := range rows {
		out = append(out, img.RawRowView(r)...)
	}
	return out
}

func countAbove(values []float64, t float64) int {
	n := 0
	for _, v := range values {
		if v > t {
			n++
		}
	}
	return n
}
