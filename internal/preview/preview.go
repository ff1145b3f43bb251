// Package preview renders slices and masks as PNG images.
package preview

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// MinSize is the smallest long side of a rendered preview; smaller slices
// are scaled up.
const MinSize = 256

// Options controls rendering.
type Options struct {
	// Label is drawn in the top-left corner when set.
	Label string
	// Nearest scales with nearest-neighbour instead of bilinear
	// interpolation, keeping binary masks crisp.
	Nearest bool
}

// Render maps the slice to 8-bit gray with a min-max window and scales it
// up to MinSize.
func Render(m *mat.Dense, opts Options) *image.RGBA {
	rows, cols := m.Dims()
	gray := image.NewGray(image.Rect(0, 0, cols, rows))

	var data []float64
	for r := range rows {
		data = append(data, m.RawRowView(r)...)
	}
	lo, hi := floats.Min(data), floats.Max(data)
	span := hi - lo

	for r := range rows {
		for c := range cols {
			var v uint8
			if span > 0 {
				v = uint8((m.At(r, c) - lo) / span * 255)
			}
			gray.SetGray(c, r, color.Gray{Y: v})
		}
	}

	scale := max(1, MinSize/max(rows, cols))
	out := image.NewRGBA(image.Rect(0, 0, cols*scale, rows*scale))
	var scaler draw.Scaler = draw.BiLinear
	if opts.Nearest {
		scaler = draw.NearestNeighbor
	}
	scaler.Scale(out, out.Bounds(), gray, gray.Bounds(), draw.Src, nil)

	if opts.Label != "" {
		drawLabel(out, opts.Label)
	}
	return out
}

// drawLabel writes white text with a black outline at the top-left corner.
func drawLabel(img *image.RGBA, text string) {
	face := basicfont.Face7x13
	width := font.MeasureString(face, text).Ceil()
	textImg := image.NewAlpha(image.Rect(0, 0, width, 13))
	drawer := &font.Drawer{
		Dst:  textImg,
		Src:  image.Opaque,
		Face: face,
		Dot:  fixed.Point26_6{Y: fixed.I(11)},
	}
	drawer.DrawString(text)

	const margin = 4
	b := img.Bounds()
	for _, pass := range []struct {
		offsets []image.Point
		c       color.RGBA
	}{
		{[]image.Point{{-1, 0}, {1, 0}, {0, -1}, {0, 1}}, color.RGBA{0, 0, 0, 255}},
		{[]image.Point{{0, 0}}, color.RGBA{255, 255, 255, 255}},
	} {
		for _, off := range pass.offsets {
			for y := range 13 {
				for x := range width {
					if textImg.AlphaAt(x, y).A == 0 {
						continue
					}
					p := image.Pt(margin+x+off.X, margin+y+off.Y)
					if p.In(b) {
						img.SetRGBA(p.X, p.Y, pass.c)
					}
				}
			}
		}
	}
}

// Save renders the slice and writes it as a PNG, creating parent
// directories.
func Save(path string, m *mat.Dense, opts Options) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create preview directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create preview: %w", err)
	}
	if err := png.Encode(f, Render(m, opts)); err != nil {
		_ = f.Close()
		return fmt.Errorf("encode preview %s: %w", path, err)
	}
	return f.Close()
}
