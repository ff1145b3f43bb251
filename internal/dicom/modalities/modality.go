// Package modalities describes the scan types the quality pipeline knows about
// and the per-type behavior attached to them.
package modalities

import (
	"fmt"
	"strings"

	"github.com/suyashkumar/dicom"
	"gonum.org/v1/gonum/mat"
)

// ScanType is the scan family selected for a run.
type ScanType string

const (
	MRI ScanType = "MRI" // Magnetic Resonance Imaging
	CT  ScanType = "CT"  // Computed Tomography
)

// AllScanTypes returns all supported scan types.
func AllScanTypes() []ScanType {
	return []ScanType{MRI, CT}
}

// IsValid checks if a scan type string is valid.
func IsValid(s string) bool {
	for _, valid := range AllScanTypes() {
		if string(valid) == s {
			return true
		}
	}
	return false
}

// ParseScanType parses a scan type, ignoring case.
func ParseScanType(s string) (ScanType, error) {
	upper := strings.ToUpper(strings.TrimSpace(s))
	if !IsValid(upper) {
		return MRI, fmt.Errorf("invalid scan type: %s (valid: %v)", s, AllScanTypes())
	}
	return ScanType(upper), nil
}

// Scanner represents an acquisition device written into synthetic series.
type Scanner struct {
	Manufacturer string
	Model        string
	// MR-specific
	FieldStrength float64 // Tesla (1.5, 3.0)
	// CT-specific
	KVP float64 // Tube voltage (kV)
}

// PixelConfig holds pixel storage parameters for a scan type.
type PixelConfig struct {
	BitsAllocated uint16
	BitsStored    uint16
	HighBit       uint16
}

// Profile bundles the scan-type specific behavior of a run.
type Profile interface {
	// ScanType returns the scan type.
	ScanType() ScanType

	// Modality returns the DICOM Modality code.
	Modality() string

	// TagFile returns the file name of the tag dictionary for this scan type.
	TagFile() string

	// SOPClassUID returns the SOP Class UID of the image storage class.
	SOPClassUID() string

	// Preprocess adjusts one slice before segmentation.
	Preprocess(img *mat.Dense) *mat.Dense

	// Scanners returns the scanner configurations used for synthetic series.
	Scanners() []Scanner

	// PixelConfig returns pixel storage parameters.
	PixelConfig() PixelConfig

	// AppendModalityElements appends scan-type specific DICOM elements.
	AppendModalityElements(ds *dicom.Dataset, scanner Scanner) error
}

// GetProfile returns the profile for the specified scan type.
func GetProfile(s ScanType) Profile {
	switch s {
	case CT:
		return &CTProfile{}
	case MRI:
		fallthrough
	default:
		return &MRProfile{}
	}
}
