// Package volume loads subject volumes and samples the centered slice range
// the metrics are computed on.
package volume

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/mrsinham/radqy/internal/subject"
	"github.com/mrsinham/radqy/internal/tags"
)

var (
	// ErrNoSlices is returned when a volume holds no usable slice.
	ErrNoSlices = errors.New("volume has no slices")
	// ErrUnsupportedFormat is returned for subjects of an unknown format.
	ErrUnsupportedFormat = errors.New("unsupported volume format")
)

// Volume is the sampled part of one subject: slices along the first axis and
// the tag columns of the subject.
type Volume struct {
	Slices []*mat.Dense
	Tags   tags.Table
	// Total is the slice count before sampling.
	Total int
}

// Options controls sampling.
type Options struct {
	// Middle is the percentage (0-100) of central slices to keep.
	Middle     int
	Dictionary tags.Dictionary
	Logger     *zap.Logger
}

// rawVolume is a fully loaded single-file volume.
type rawVolume struct {
	slices []*mat.Dense
	source tags.Source
}

type loader func(path string) (*rawVolume, error)

var loaders = map[subject.Format]loader{
	subject.FormatNIfTI: loadNIfTI,
	subject.FormatMHA:   loadMetaImage,
	subject.FormatMAT:   loadMAT,
	subject.FormatNPY:   loadNPY,
}

// Sample loads the subject and keeps its middle slices.
//
// A series is windowed over its file list before any pixel data is read and
// the kept slices are ordered by InstanceNumber. Single-file volumes are read
// whole and windowed around their middle slice. At least one slice is always
// kept.
func Sample(s subject.Subject, opts Options) (*Volume, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if len(s.Paths) == 0 {
		return nil, fmt.Errorf("subject %s: %w", s.ID, ErrNoSlices)
	}

	if s.Format == subject.FormatSeries {
		return sampleSeries(s, opts)
	}

	load, ok := loaders[s.Format]
	if !ok {
		return nil, fmt.Errorf("subject %s: %w: %q", s.ID, ErrUnsupportedFormat, s.Format)
	}

	raw, err := load(s.Paths[0])
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", s.Paths[0], err)
	}
	if len(raw.slices) == 0 {
		return nil, fmt.Errorf("load %s: %w", s.Paths[0], ErrNoSlices)
	}

	lo, hi := MiddleWindow(len(raw.slices), opts.Middle)
	return &Volume{
		Slices: raw.slices[lo:hi],
		Tags:   tags.Extract(raw.source, opts.Dictionary),
		Total:  len(raw.slices),
	}, nil
}

// SeriesWindow returns the file index range [lo, hi) kept from a series of n
// files: [0.005·n·(100−u), 0.005·n·(100+u)).
func SeriesWindow(n, middle int) (lo, hi int) {
	lo = int(0.005 * float64(n) * float64(100-middle))
	hi = int(0.005 * float64(n) * float64(100+middle))
	return clampWindow(n, lo, hi)
}

// MiddleWindow returns the slice range [mid−k, mid+k) kept from a volume of
// n slices, where mid = n/2 and k = u% of n/2.
func MiddleWindow(n, middle int) (lo, hi int) {
	mid := n / 2
	k := int(float64(middle) * 0.01 * float64(n) / 2)
	return clampWindow(n, mid-k, mid+k)
}

// clampWindow bounds [lo, hi) to [0, n) and widens an empty window to the
// single slice at lo.
func clampWindow(n, lo, hi int) (int, int) {
	if n <= 0 {
		return 0, 0
	}
	lo = max(0, min(lo, n-1))
	hi = min(hi, n)
	if hi <= lo {
		hi = lo + 1
	}
	return lo, hi
}
