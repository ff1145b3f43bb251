package dicom

import (
	"fmt"
	"hash/fnv"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"sort"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"
	"gonum.org/v1/gonum/mat"

	"github.com/mrsinham/radqy/internal/dicom/corruption"
	"github.com/mrsinham/radqy/internal/dicom/modalities"
)

// SeriesOptions configures a synthetic series written one slice per file.
type SeriesOptions struct {
	Dir      string
	Prefix   string // File name prefix, files are <Prefix><NNNN>.dcm
	ScanType modalities.ScanType
	// PatientID is omitted from the files when empty.
	PatientID string
	Slices    []*mat.Dense
	// InstanceNumbers overrides the default 1..N numbering when set.
	InstanceNumbers []int
	PixelSpacing    float64
	SliceThickness  float64
	// Vendor adds the private blocks of these scanner families to every
	// slice.
	Vendor []corruption.Kind
	// Damaged lists 0-based slices whose files are cut inside the pixel
	// data after writing.
	Damaged []int
}

// WriteSeries writes every slice of opts to its own file and returns the
// paths in slice order.
func WriteSeries(opts SeriesOptions) ([]string, error) {
	if len(opts.Slices) == 0 {
		return nil, fmt.Errorf("no slices to write")
	}
	if opts.InstanceNumbers != nil && len(opts.InstanceNumbers) != len(opts.Slices) {
		return nil, fmt.Errorf("got %d instance numbers for %d slices", len(opts.InstanceNumbers), len(opts.Slices))
	}
	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create series directory: %w", err)
	}

	profile := modalities.GetProfile(opts.ScanType)
	scanner := profile.Scanners()[0]

	paths := make([]string, len(opts.Slices))
	for i, pixels := range opts.Slices {
		instance := i + 1
		if opts.InstanceNumbers != nil {
			instance = opts.InstanceNumbers[i]
		}

		path := filepath.Join(opts.Dir, fmt.Sprintf("%s%04d.dcm", opts.Prefix, i+1))
		ds, err := buildSliceDataset(profile, scanner, opts, pixels, instance)
		if err != nil {
			return nil, fmt.Errorf("build slice %d: %w", i+1, err)
		}
		var writeOpts []dicom.WriteOption
		if len(opts.Vendor) > 0 {
			rng := rand.New(rand.NewPCG(uint64(i), uint64(instance)))
			ds.Elements = append(ds.Elements, corruption.PrivateElements(opts.Vendor, rng)...)
			sort.SliceStable(ds.Elements, func(a, b int) bool {
				ta, tb := ds.Elements[a].Tag, ds.Elements[b].Tag
				if ta.Group != tb.Group {
					return ta.Group < tb.Group
				}
				return ta.Element < tb.Element
			})
			writeOpts = []dicom.WriteOption{dicom.SkipVRVerification(), dicom.SkipValueTypeVerification()}
		}
		if err := writeDatasetToFile(path, ds, writeOpts...); err != nil {
			return nil, fmt.Errorf("write slice %d: %w", i+1, err)
		}
		if slices.Contains(opts.Damaged, i) {
			if err := corruption.Truncate(path); err != nil {
				return nil, err
			}
		}
		paths[i] = path
	}
	return paths, nil
}

// writeDatasetToFile writes a DICOM dataset to a file
func writeDatasetToFile(filename string, ds dicom.Dataset, opts ...dicom.WriteOption) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	return dicom.Write(f, ds, opts...)
}

func buildSliceDataset(profile modalities.Profile, scanner modalities.Scanner, opts SeriesOptions, pixels *mat.Dense, instance int) (dicom.Dataset, error) {
	rows, cols := pixels.Dims()
	cfg := profile.PixelConfig()
	sopInstanceUID := deterministicUID(opts.Dir, opts.Prefix, opts.PatientID, fmt.Sprint(instance))
	seriesUID := deterministicUID(opts.Dir, opts.Prefix, opts.PatientID)

	elements := []*dicom.Element{
		mustNewElement(tag.MediaStorageSOPClassUID, []string{profile.SOPClassUID()}),
		mustNewElement(tag.MediaStorageSOPInstanceUID, []string{sopInstanceUID}),
		mustNewElement(tag.TransferSyntaxUID, []string{"1.2.840.10008.1.2.1"}),
		mustNewElement(tag.SOPClassUID, []string{profile.SOPClassUID()}),
		mustNewElement(tag.SOPInstanceUID, []string{sopInstanceUID}),
		mustNewElement(tag.Modality, []string{profile.Modality()}),
		mustNewElement(tag.SeriesInstanceUID, []string{seriesUID}),
		mustNewElement(tag.Manufacturer, []string{scanner.Manufacturer}),
		mustNewElement(tag.ManufacturerModelName, []string{scanner.Model}),
		mustNewElement(tag.InstanceNumber, []string{fmt.Sprintf("%d", instance)}),
	}
	if opts.PatientID != "" {
		elements = append(elements, mustNewElement(tag.PatientID, []string{opts.PatientID}))
	}
	if opts.PixelSpacing > 0 {
		ps := fmt.Sprintf("%.6g", opts.PixelSpacing)
		elements = append(elements, mustNewElement(tag.PixelSpacing, []string{ps, ps}))
	}
	if opts.SliceThickness > 0 {
		elements = append(elements, mustNewElement(tag.SliceThickness, []string{fmt.Sprintf("%.6g", opts.SliceThickness)}))
	}

	elements = append(elements,
		mustNewElement(tag.Rows, []int{rows}),
		mustNewElement(tag.Columns, []int{cols}),
		mustNewElement(tag.BitsAllocated, []int{int(cfg.BitsAllocated)}),
		mustNewElement(tag.BitsStored, []int{int(cfg.BitsStored)}),
		mustNewElement(tag.HighBit, []int{int(cfg.HighBit)}),
		mustNewElement(tag.PixelRepresentation, []int{0}),
		mustNewElement(tag.SamplesPerPixel, []int{1}),
		mustNewElement(tag.PhotometricInterpretation, []string{"MONOCHROME2"}),
	)

	ds := dicom.Dataset{Elements: elements}
	if err := profile.AppendModalityElements(&ds, scanner); err != nil {
		return dicom.Dataset{}, err
	}

	maxVal := float64(int(1)<<cfg.BitsStored - 1)
	nativeFrame := frame.NewNativeFrame[uint16](int(cfg.BitsAllocated), rows, cols, rows*cols, 1)
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			v := math.Max(0, math.Min(maxVal, math.Round(pixels.At(y, x))))
			nativeFrame.RawData[y*cols+x] = uint16(v)
		}
	}

	pixelDataInfo := dicom.PixelDataInfo{
		Frames: []*frame.Frame{
			{
				Encapsulated: false,
				NativeData:   nativeFrame,
			},
		},
	}
	ds.Elements = append(ds.Elements, mustNewElement(tag.PixelData, pixelDataInfo))
	return ds, nil
}

// deterministicUID derives a stable UID under the 2.25 root from its parts.
func deterministicUID(parts ...string) string {
	h := fnv.New64a()
	for _, p := range parts {
		_, _ = h.Write([]byte(p))
		_, _ = h.Write([]byte{0})
	}
	return fmt.Sprintf("2.25.%d", h.Sum64())
}

// mustNewElement creates a new DICOM element, panicking on error.
func mustNewElement(t tag.Tag, value interface{}) *dicom.Element {
	elem, err := dicom.NewElement(t, value)
	if err != nil {
		panic(fmt.Sprintf("failed to create element %v: %v", t, err))
	}
	return elem
}
