package volume

import (
	"fmt"
	"sort"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	dcm "github.com/mrsinham/radqy/internal/dicom"
	"github.com/mrsinham/radqy/internal/subject"
	"github.com/mrsinham/radqy/internal/tags"
)

// sampleSeries windows the file list, decodes only the kept files and
// orders them by InstanceNumber.
func sampleSeries(s subject.Subject, opts Options) (*Volume, error) {
	lo, hi := SeriesWindow(len(s.Paths), opts.Middle)

	var slices []*dcm.Slice
	for _, path := range s.Paths[lo:hi] {
		sl, err := dcm.ReadSlice(path)
		if err != nil {
			opts.Logger.Warn("dropping unreadable slice",
				zap.String("subject", s.ID),
				zap.String("path", path),
				zap.Error(err))
			continue
		}
		slices = append(slices, sl)
	}
	if len(slices) == 0 {
		return nil, fmt.Errorf("subject %s: %w", s.ID, ErrNoSlices)
	}

	// Tags come from the first decoded file, before reordering.
	table := tags.Extract(dcm.NewTagSource(slices[0].Dataset), opts.Dictionary)

	sort.SliceStable(slices, func(i, j int) bool {
		return slices[i].InstanceNumber < slices[j].InstanceNumber
	})

	rows, cols := slices[0].Pixels.Dims()
	out := make([]*mat.Dense, len(slices))
	for i, sl := range slices {
		r, c := sl.Pixels.Dims()
		if r != rows || c != cols {
			return nil, fmt.Errorf("subject %s: slice %d is %dx%d, want %dx%d",
				s.ID, sl.InstanceNumber, r, c, rows, cols)
		}
		out[i] = sl.Pixels
	}

	return &Volume{Slices: out, Tags: table, Total: len(s.Paths)}, nil
}
