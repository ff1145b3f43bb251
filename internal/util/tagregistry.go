// Package util provides helpers shared by the command line and the pipeline.
package util

import (
	"fmt"
	"strings"

	"github.com/suyashkumar/dicom/pkg/tag"
)

// TagGroup classifies a dictionary tag by what it describes.
type TagGroup int

const (
	// GroupIdentity covers patient and study identification tags.
	GroupIdentity TagGroup = iota
	// GroupEquipment covers scanner and site tags.
	GroupEquipment
	// GroupAcquisition covers sequence and exposure parameters.
	GroupAcquisition
	// GroupGeometry covers matrix size and voxel spacing. These are the only
	// tags that can be derived for volumes without a DICOM header.
	GroupGeometry
)

// String returns the string representation of a TagGroup.
func (g TagGroup) String() string {
	switch g {
	case GroupIdentity:
		return "Identity"
	case GroupEquipment:
		return "Equipment"
	case GroupAcquisition:
		return "Acquisition"
	case GroupGeometry:
		return "Geometry"
	default:
		return "Unknown"
	}
}

// TagInfo contains information about a tag named in a tag dictionary.
type TagInfo struct {
	Name  string
	Tag   tag.Tag
	Group TagGroup
}

// tagRegistry maps normalized tag names to their TagInfo.
var tagRegistry = map[string]TagInfo{
	// Identity
	"patientid":         {Name: "PatientID", Tag: tag.PatientID, Group: GroupIdentity},
	"patientsex":        {Name: "PatientSex", Tag: tag.PatientSex, Group: GroupIdentity},
	"patientage":        {Name: "PatientAge", Tag: tag.PatientAge, Group: GroupIdentity},
	"patientweight":     {Name: "PatientWeight", Tag: tag.PatientWeight, Group: GroupIdentity},
	"modality":          {Name: "Modality", Tag: tag.Modality, Group: GroupIdentity},
	"studydescription":  {Name: "StudyDescription", Tag: tag.StudyDescription, Group: GroupIdentity},
	"seriesdescription": {Name: "SeriesDescription", Tag: tag.SeriesDescription, Group: GroupIdentity},
	"bodypartexamined":  {Name: "BodyPartExamined", Tag: tag.BodyPartExamined, Group: GroupIdentity},

	// Equipment
	"manufacturer":          {Name: "Manufacturer", Tag: tag.Manufacturer, Group: GroupEquipment},
	"manufacturermodelname": {Name: "ManufacturerModelName", Tag: tag.ManufacturerModelName, Group: GroupEquipment},
	"institutionname":       {Name: "InstitutionName", Tag: tag.InstitutionName, Group: GroupEquipment},
	"softwareversions":      {Name: "SoftwareVersions", Tag: tag.SoftwareVersions, Group: GroupEquipment},
	"magneticfieldstrength": {Name: "MagneticFieldStrength", Tag: tag.MagneticFieldStrength, Group: GroupEquipment},

	// Acquisition
	"protocolname":      {Name: "ProtocolName", Tag: tag.ProtocolName, Group: GroupAcquisition},
	"sequencename":      {Name: "SequenceName", Tag: tag.SequenceName, Group: GroupAcquisition},
	"scanningsequence":  {Name: "ScanningSequence", Tag: tag.ScanningSequence, Group: GroupAcquisition},
	"repetitiontime":    {Name: "RepetitionTime", Tag: tag.RepetitionTime, Group: GroupAcquisition},
	"echotime":          {Name: "EchoTime", Tag: tag.EchoTime, Group: GroupAcquisition},
	"inversiontime":     {Name: "InversionTime", Tag: tag.InversionTime, Group: GroupAcquisition},
	"flipangle":         {Name: "FlipAngle", Tag: tag.FlipAngle, Group: GroupAcquisition},
	"echotrainlength":   {Name: "EchoTrainLength", Tag: tag.EchoTrainLength, Group: GroupAcquisition},
	"imagingfrequency":  {Name: "ImagingFrequency", Tag: tag.ImagingFrequency, Group: GroupAcquisition},
	"pixelbandwidth":    {Name: "PixelBandwidth", Tag: tag.PixelBandwidth, Group: GroupAcquisition},
	"kvp":               {Name: "KVP", Tag: tag.KVP, Group: GroupAcquisition},
	"xraytubecurrent":   {Name: "XRayTubeCurrent", Tag: tag.XRayTubeCurrent, Group: GroupAcquisition},
	"exposure":          {Name: "Exposure", Tag: tag.Exposure, Group: GroupAcquisition},
	"exposuretime":      {Name: "ExposureTime", Tag: tag.ExposureTime, Group: GroupAcquisition},
	"convolutionkernel": {Name: "ConvolutionKernel", Tag: tag.ConvolutionKernel, Group: GroupAcquisition},

	// Geometry
	"rows":                   {Name: "Rows", Tag: tag.Rows, Group: GroupGeometry},
	"columns":                {Name: "Columns", Tag: tag.Columns, Group: GroupGeometry},
	"pixelspacing":           {Name: "PixelSpacing", Tag: tag.PixelSpacing, Group: GroupGeometry},
	"slicethickness":         {Name: "SliceThickness", Tag: tag.SliceThickness, Group: GroupGeometry},
	"spacingbetweenslices":   {Name: "SpacingBetweenSlices", Tag: tag.SpacingBetweenSlices, Group: GroupGeometry},
	"reconstructiondiameter": {Name: "ReconstructionDiameter", Tag: tag.ReconstructionDiameter, Group: GroupGeometry},
}

// NormalizeTagName strips spaces so "Pixel Spacing" and "PixelSpacing" name
// the same tag.
func NormalizeTagName(name string) string {
	return strings.ReplaceAll(strings.TrimSpace(name), " ", "")
}

// GetTagByName returns TagInfo for a given tag name.
// The lookup ignores case and spaces. Names missing from the registry are
// looked up as DICOM keywords; if that also fails the error carries a
// suggestion for the closest registered name (using Levenshtein distance).
func GetTagByName(name string) (TagInfo, error) {
	keyword := NormalizeTagName(name)
	normalizedName := strings.ToLower(keyword)

	if info, ok := tagRegistry[normalizedName]; ok {
		return info, nil
	}

	if keyword != "" {
		if entry, err := tag.FindByKeyword(keyword); err == nil {
			return TagInfo{Name: entry.Keyword, Tag: entry.Tag, Group: GroupAcquisition}, nil
		}
	}

	suggestion := findClosestTagName(normalizedName)
	if suggestion != "" {
		return TagInfo{}, fmt.Errorf("unknown tag %q, did you mean %q?", name, suggestion)
	}

	return TagInfo{}, fmt.Errorf("unknown tag %q", name)
}

// findClosestTagName finds the closest matching tag name using Levenshtein distance.
// Returns empty string if no close match is found (distance > 5).
func findClosestTagName(input string) string {
	const maxDistance = 5
	bestDistance := maxDistance + 1
	var bestMatch string

	for key, info := range tagRegistry {
		distance := levenshteinDistance(input, key)
		if distance < bestDistance || (distance == bestDistance && info.Name < bestMatch) {
			bestDistance = distance
			bestMatch = info.Name
		}
	}

	if bestDistance <= maxDistance {
		return bestMatch
	}
	return ""
}

// levenshteinDistance calculates the Levenshtein distance between two strings.
func levenshteinDistance(a, b string) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 0
			if a[i-1] != b[j-1] {
				cost = 1
			}
			curr[j] = min(
				prev[j]+1,      // deletion
				curr[j-1]+1,    // insertion
				prev[j-1]+cost, // substitution
			)
		}
		prev, curr = curr, prev
	}

	return prev[len(b)]
}
