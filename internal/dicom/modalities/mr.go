package modalities

import (
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
	"gonum.org/v1/gonum/mat"
)

// MRProfile holds MR specific behavior.
type MRProfile struct{}

// ScanType returns MRI.
func (p *MRProfile) ScanType() ScanType {
	return MRI
}

// Modality returns the MR DICOM modality code.
func (p *MRProfile) Modality() string {
	return "MR"
}

// TagFile returns the MR tag dictionary file name.
func (p *MRProfile) TagFile() string {
	return "MRI_TAGS.yaml"
}

// SOPClassUID returns the MR Image Storage SOP Class UID.
func (p *MRProfile) SOPClassUID() string {
	return "1.2.840.10008.5.1.4.1.1.4"
}

// Preprocess returns the slice unchanged.
func (p *MRProfile) Preprocess(img *mat.Dense) *mat.Dense {
	return img
}

// Scanners returns MR scanner configurations.
func (p *MRProfile) Scanners() []Scanner {
	return []Scanner{
		{Manufacturer: "SIEMENS", Model: "Avanto", FieldStrength: 1.5},
		{Manufacturer: "SIEMENS", Model: "Skyra", FieldStrength: 3.0},
		{Manufacturer: "GE MEDICAL SYSTEMS", Model: "Signa HDxt", FieldStrength: 1.5},
		{Manufacturer: "PHILIPS", Model: "Ingenia", FieldStrength: 3.0},
	}
}

// PixelConfig returns MR pixel storage parameters.
func (p *MRProfile) PixelConfig() PixelConfig {
	return PixelConfig{BitsAllocated: 16, BitsStored: 12, HighBit: 11}
}

// AppendModalityElements appends MR acquisition elements to a dataset.
func (p *MRProfile) AppendModalityElements(ds *dicom.Dataset, scanner Scanner) error {
	elements := []*dicom.Element{
		mustNewElement(tag.MagneticFieldStrength, []string{floatToDS(scanner.FieldStrength)}),
		mustNewElement(tag.ImagingFrequency, []string{floatToDS(scanner.FieldStrength * 42.58)}),
		mustNewElement(tag.EchoTime, []string{floatToDS(20)}),
		mustNewElement(tag.RepetitionTime, []string{floatToDS(600)}),
	}

	ds.Elements = append(ds.Elements, elements...)
	return nil
}
