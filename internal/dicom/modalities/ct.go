package modalities

import (
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
	"gonum.org/v1/gonum/mat"
)

// CTProfile holds CT specific behavior.
type CTProfile struct{}

// ScanType returns CT.
func (p *CTProfile) ScanType() ScanType {
	return CT
}

// Modality returns the CT DICOM modality code.
func (p *CTProfile) Modality() string {
	return "CT"
}

// TagFile returns the CT tag dictionary file name.
func (p *CTProfile) TagFile() string {
	return "CT_TAGS.yaml"
}

// SOPClassUID returns the CT Image Storage SOP Class UID.
func (p *CTProfile) SOPClassUID() string {
	return "1.2.840.10008.5.1.4.1.1.2"
}

// Preprocess shifts intensities so the slice minimum becomes zero.
// Hounsfield data is mostly negative and the thresholding expects a
// non-negative floor.
func (p *CTProfile) Preprocess(img *mat.Dense) *mat.Dense {
	floor := mat.Min(img)
	r, c := img.Dims()
	out := mat.NewDense(r, c, nil)
	out.Apply(func(_, _ int, v float64) float64 {
		return v - floor
	}, img)
	return out
}

// Scanners returns CT scanner configurations.
func (p *CTProfile) Scanners() []Scanner {
	return []Scanner{
		{Manufacturer: "SIEMENS", Model: "SOMATOM Force", KVP: 120},
		{Manufacturer: "GE MEDICAL SYSTEMS", Model: "Revolution CT", KVP: 100},
		{Manufacturer: "CANON", Model: "Aquilion ONE", KVP: 120},
	}
}

// PixelConfig returns CT pixel storage parameters.
func (p *CTProfile) PixelConfig() PixelConfig {
	return PixelConfig{BitsAllocated: 16, BitsStored: 16, HighBit: 15}
}

// AppendModalityElements appends CT acquisition elements to a dataset.
func (p *CTProfile) AppendModalityElements(ds *dicom.Dataset, scanner Scanner) error {
	elements := []*dicom.Element{
		mustNewElement(tag.KVP, []string{floatToDS(scanner.KVP)}),
		mustNewElement(tag.XRayTubeCurrent, []string{intToIS(250)}),
		mustNewElement(tag.ConvolutionKernel, []string{"STANDARD"}),
		mustNewElement(tag.RescaleIntercept, []string{floatToDS(-1024)}),
		mustNewElement(tag.RescaleSlope, []string{floatToDS(1)}),
	}

	ds.Elements = append(ds.Elements, elements...)
	return nil
}
