// Package dicom reads DICOM slices and their metadata for the quality
// pipeline, and writes synthetic series.
package dicom

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
	"gonum.org/v1/gonum/mat"

	"github.com/mrsinham/radqy/internal/tags"
	"github.com/mrsinham/radqy/internal/util"
)

// UnknownPatient is the patient identifier used when none can be read.
const UnknownPatient = "Unknown"

// ErrNoPixelData is returned for files without a readable native frame.
var ErrNoPixelData = errors.New("no native pixel data")

// Slice is one decoded DICOM image.
type Slice struct {
	Pixels         *mat.Dense
	InstanceNumber int
	Dataset        dicom.Dataset
}

// parseHeaderTolerant parses a DICOM file element-by-element without pixel
// data, keeping every element read before the first error.
func parseHeaderTolerant(path string) (dicom.Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return dicom.Dataset{}, err
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return dicom.Dataset{}, err
	}

	p, err := dicom.NewParser(f, info.Size(), nil, dicom.SkipPixelData())
	if err != nil {
		return dicom.Dataset{}, err
	}

	var elements []*dicom.Element
	for {
		elem, err := p.Next()
		if err != nil {
			break
		}
		elements = append(elements, elem)
	}

	if len(elements) == 0 {
		return dicom.Dataset{}, fmt.Errorf("no elements parsed")
	}

	meta := p.GetMetadata()
	return dicom.Dataset{Elements: append(meta.Elements, elements...)}, nil
}

// ReadPatientID returns the trimmed PatientID of a DICOM file, or
// UnknownPatient when the file parses but carries no PatientID.
func ReadPatientID(path string) (string, error) {
	ds, err := parseHeaderTolerant(path)
	if err != nil {
		return UnknownPatient, fmt.Errorf("parse %s: %w", path, err)
	}

	values := getStrings(ds, tag.PatientID)
	if values == nil {
		return UnknownPatient, nil
	}
	return strings.TrimSpace(strings.Join(values, `\`)), nil
}

// ReadSlice decodes the first frame of a DICOM file.
func ReadSlice(path string) (*Slice, error) {
	ds, err := dicom.ParseFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	pixels, err := pixelsFromDataset(ds)
	if err != nil {
		return nil, fmt.Errorf("read pixels of %s: %w", path, err)
	}

	return &Slice{
		Pixels:         pixels,
		InstanceNumber: instanceNumber(ds),
		Dataset:        ds,
	}, nil
}

// pixelsFromDataset converts the first native frame to a matrix of stored
// values, honoring signed pixel representation.
func pixelsFromDataset(ds dicom.Dataset) (*mat.Dense, error) {
	elem, err := ds.FindElementByTag(tag.PixelData)
	if err != nil {
		return nil, ErrNoPixelData
	}
	if elem.Value.ValueType() != dicom.PixelData {
		return nil, ErrNoPixelData
	}

	info := dicom.MustGetPixelDataInfo(elem.Value)
	if len(info.Frames) == 0 {
		return nil, ErrNoPixelData
	}
	if info.Frames[0].Encapsulated {
		return nil, fmt.Errorf("encapsulated pixel data is not supported: %w", ErrNoPixelData)
	}

	nf, err := info.Frames[0].GetNativeFrame()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoPixelData, err)
	}

	rows, cols := nf.Rows(), nf.Cols()
	if rows == 0 || cols == 0 {
		return nil, ErrNoPixelData
	}

	signed := false
	if ints := getInts(ds, tag.PixelRepresentation); len(ints) > 0 && ints[0] == 1 {
		signed = true
	}
	bits := nf.BitsPerSample()

	data := make([]float64, rows*cols)
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			px, err := nf.GetPixel(x, y)
			if err != nil {
				return nil, err
			}
			data[y*cols+x] = float64(storedValue(px[0], bits, signed))
		}
	}
	return mat.NewDense(rows, cols, data), nil
}

// storedValue reinterprets a raw sample as two's complement when signed.
func storedValue(v, bits int, signed bool) int {
	if !signed {
		return v
	}
	switch bits {
	case 8:
		return int(int8(uint8(v)))
	case 16:
		return int(int16(uint16(v)))
	case 32:
		return int(int32(uint32(v)))
	}
	return v
}

func instanceNumber(ds dicom.Dataset) int {
	if ints := getInts(ds, tag.InstanceNumber); len(ints) > 0 {
		return ints[0]
	}
	values := getStrings(ds, tag.InstanceNumber)
	if len(values) == 0 {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(values[0]))
	if err != nil {
		return 0
	}
	return n
}

func getStrings(ds dicom.Dataset, t tag.Tag) []string {
	elem, err := ds.FindElementByTag(t)
	if err != nil || elem == nil || elem.Value.ValueType() != dicom.Strings {
		return nil
	}
	return dicom.MustGetStrings(elem.Value)
}

func getInts(ds dicom.Dataset, t tag.Tag) []int {
	elem, err := ds.FindElementByTag(t)
	if err != nil || elem == nil || elem.Value.ValueType() != dicom.Ints {
		return nil
	}
	return dicom.MustGetInts(elem.Value)
}

// TagSource exposes a dataset to tag extraction.
type TagSource struct {
	ds dicom.Dataset
}

// NewTagSource wraps a dataset.
func NewTagSource(ds dicom.Dataset) *TagSource {
	return &TagSource{ds: ds}
}

// numericVRs are the string-encoded VRs holding numbers.
var numericVRs = map[string]bool{"DS": true, "IS": true}

// Lookup implements tags.Source.
func (s *TagSource) Lookup(name string) (tags.Value, bool) {
	info, err := util.GetTagByName(name)
	if err != nil {
		return tags.Value{}, false
	}
	elem, err := s.ds.FindElementByTag(info.Tag)
	if err != nil || elem == nil {
		return tags.Value{}, false
	}

	switch elem.Value.ValueType() {
	case dicom.Ints:
		ints := dicom.MustGetInts(elem.Value)
		nums := make([]float64, len(ints))
		for i, v := range ints {
			nums[i] = float64(v)
		}
		return tags.Numbers(nums...), true
	case dicom.Floats:
		return tags.Numbers(dicom.MustGetFloats(elem.Value)...), true
	case dicom.Strings:
		strs := dicom.MustGetStrings(elem.Value)
		if numericVRs[elem.RawValueRepresentation] {
			if nums, ok := parseNumbers(strs); ok {
				return tags.Numbers(nums...), true
			}
		}
		return tags.Text(strs...), true
	default:
		return tags.Value{}, false
	}
}

func parseNumbers(strs []string) ([]float64, bool) {
	nums := make([]float64, 0, len(strs))
	for _, s := range strs {
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, false
		}
		nums = append(nums, v)
	}
	return nums, len(nums) > 0
}
