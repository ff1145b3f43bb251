// Package subject groups the files found under an input directory into
// per-subject volumes.
package subject

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/mrsinham/radqy/internal/dicom"
)

// Format identifies how a subject's volume is stored.
type Format string

const (
	FormatSeries Format = "series" // one DICOM file per slice
	FormatMHA    Format = "mha"    // MetaImage
	FormatNIfTI  Format = "nifti"  // NIfTI-1, optionally gzipped
	FormatMAT    Format = "mat"    // MATLAB v5 file with a "vol" variable
	FormatNPY    Format = "npy"    // NumPy array
)

// Subject is one scan entity backed by one or more files.
type Subject struct {
	ID     string
	Format Format
	Paths  []string
}

// Options controls how files are grouped.
type Options struct {
	// GroupByDirectory keys series files by their parent directory instead of
	// their file stem, so a directory of slices forms one subject.
	GroupByDirectory bool
	Logger           *zap.Logger
	Quiet            bool
}

// formatOf classifies a file name by extension.
func formatOf(name string) (Format, bool) {
	switch {
	case strings.HasSuffix(name, ".dcm"):
		return FormatSeries, true
	case strings.HasSuffix(name, ".mha"):
		return FormatMHA, true
	case strings.HasSuffix(name, ".nii"), strings.HasSuffix(name, ".gz"):
		return FormatNIfTI, true
	case strings.HasSuffix(name, ".mat"):
		return FormatMAT, true
	case strings.HasSuffix(name, ".npy"):
		return FormatNPY, true
	}
	return "", false
}

// Assemble walks root and returns its subjects: DICOM series first, then
// MetaImage, NIfTI, MAT and NumPy volumes, each group in walk order.
func Assemble(root string, opts Options) ([]Subject, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	byFormat := make(map[Format][]string)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if format, ok := formatOf(d.Name()); ok {
			byFormat[format] = append(byFormat[format], path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}

	ids := newIDSet()
	subjects := groupSeries(byFormat[FormatSeries], opts.GroupByDirectory, ids, logger)
	for _, format := range []Format{FormatMHA, FormatNIfTI, FormatMAT, FormatNPY} {
		for _, path := range byFormat[format] {
			subjects = append(subjects, Subject{
				ID:     ids.claim(stemID(path)),
				Format: format,
				Paths:  []string{path},
			})
		}
	}

	if !opts.Quiet {
		fmt.Printf("The number of participants is %d.\n", len(subjects))
	}
	return subjects, nil
}

// groupSeries splits the DICOM files into runs sharing the key
// <stem>_<PatientID>. Files of one subject are expected to be adjacent in
// walk order; a key that reappears later starts a new subject.
func groupSeries(files []string, byDirectory bool, ids *idSet, logger *zap.Logger) []Subject {
	var subjects []Subject
	seen := make(map[string]bool)
	lastKey := ""

	for _, path := range files {
		patientID, err := dicom.ReadPatientID(path)
		if err != nil {
			logger.Warn("could not read DICOM file", zap.String("path", path), zap.Error(err))
			patientID = dicom.UnknownPatient
		}

		stem := fileStem(path)
		if byDirectory {
			stem = filepath.Base(filepath.Dir(path))
		}
		key := stem + "_" + patientID

		if len(subjects) > 0 && key == lastKey {
			last := &subjects[len(subjects)-1]
			last.Paths = append(last.Paths, path)
			continue
		}

		if seen[key] {
			logger.Warn("series files of one subject are not adjacent, starting a new subject",
				zap.String("key", key), zap.String("path", path))
		}
		seen[key] = true
		lastKey = key
		subjects = append(subjects, Subject{
			ID:     ids.claim(key),
			Format: FormatSeries,
			Paths:  []string{path},
		})
	}
	return subjects
}

// fileStem returns the base name without its last extension.
func fileStem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// stemID derives a single-file subject identifier: the stem, without a
// trailing ".nii", cut at the first remaining dot.
func stemID(path string) string {
	id := strings.TrimSuffix(fileStem(path), ".nii")
	if i := strings.Index(id, "."); i >= 0 {
		id = id[:i]
	}
	return id
}

// idSet hands out unique identifiers, suffixing repeats with _2, _3, ...
type idSet struct {
	used map[string]int
}

func newIDSet() *idSet {
	return &idSet{used: make(map[string]int)}
}

func (s *idSet) claim(id string) string {
	n := s.used[id]
	s.used[id] = n + 1
	if n == 0 {
		return id
	}
	for {
		n++
		candidate := fmt.Sprintf("%s_%d", id, n)
		if s.used[candidate] == 0 {
			s.used[candidate] = 1
			return candidate
		}
	}
}
