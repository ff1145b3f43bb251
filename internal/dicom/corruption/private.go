package corruption

import (
	"fmt"
	"math/rand/v2"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// privateElement builds an element with an explicit VR, which
// dicom.NewElement refuses for unregistered private tags.
func privateElement(t tag.Tag, rawVR string, data any) *dicom.Element {
	value, err := dicom.NewValue(data)
	if err != nil {
		panic(fmt.Sprintf("value for private element %v: %v", t, err))
	}
	return &dicom.Element{
		Tag:                    t,
		ValueRepresentation:    tag.GetVRKind(t, rawVR),
		RawValueRepresentation: rawVR,
		Value:                  value,
	}
}

// PrivateElements returns the private blocks of every kind in kinds.
func PrivateElements(kinds []Kind, rng *rand.Rand) []*dicom.Element {
	var elements []*dicom.Element
	if Has(kinds, SiemensCSA) {
		elements = append(elements, siemensElements(rng)...)
	}
	if Has(kinds, GEPrivate) {
		elements = append(elements, geElements(rng)...)
	}
	if Has(kinds, PhilipsPrivate) {
		elements = append(elements, philipsElements(rng)...)
	}
	return elements
}

// siemensElements is the CSA image and series header pair plus the nested
// private sequence at (0029,1102) that trips fragile parsers.
func siemensElements(rng *rand.Rand) []*dicom.Element {
	image := csaHeader([]csaEntry{
		{name: "NumberOfImagesInMosaic", vr: "IS", values: []string{"1"}},
		{name: "SliceNormalVector", vr: "FD", values: []string{"0.0", "0.0", "1.0"}},
		{name: "B_value", vr: "IS", values: []string{"0"}},
		{name: "RealDwellTime", vr: "IS", values: []string{"5700"}},
		{name: "ImaCoilString", vr: "LO", values: []string{"HEA;HEP"}},
	})
	series := csaHeader([]csaEntry{
		{name: "UsedPatientWeight", vr: "DS", values: []string{"70.0"}},
		{name: "MrProtocol", vr: "LO", values: []string{"### ASCCONV BEGIN ###"}},
		{name: "TablePositionOrigin", vr: "FD", values: []string{"0.0", "0.0", "0.0"}},
	})

	nested := noise(rng, 5120, 4096)
	item := []*dicom.Element{
		privateElement(tag.Tag{Group: 0x0029, Element: 0x0011}, "LO", []string{"SIEMENS CSA NON-IMAGE"}),
		privateElement(tag.Tag{Group: 0x0029, Element: 0x1100}, "OB", nested),
	}

	return []*dicom.Element{
		privateElement(tag.Tag{Group: 0x0029, Element: 0x0010}, "LO", []string{"SIEMENS CSA HEADER"}),
		privateElement(tag.Tag{Group: 0x0029, Element: 0x1010}, "OB", append(image, noise(rng, 1024, 2048)...)),
		privateElement(tag.Tag{Group: 0x0029, Element: 0x1020}, "OB", append(series, noise(rng, 512, 1024)...)),
		privateElement(tag.Tag{Group: 0x0029, Element: 0x1102}, "SQ", [][]*dicom.Element{item}),
	}
}

func geElements(rng *rand.Rand) []*dicom.Element {
	version := fmt.Sprintf("DV%d.%d_%d_M5", rng.IntN(10)+20, rng.IntN(10), rng.IntN(100))
	diffusion := make([]string, 4)
	for i := range diffusion {
		diffusion[i] = fmt.Sprint(rng.IntN(1000))
	}

	return []*dicom.Element{
		privateElement(tag.Tag{Group: 0x0009, Element: 0x0010}, "LO", []string{"GEMS_IDEN_01"}),
		privateElement(tag.Tag{Group: 0x0009, Element: 0x10E3}, "LO", []string{version}),
		privateElement(tag.Tag{Group: 0x0043, Element: 0x0010}, "LO", []string{"GEMS_PARM_01"}),
		privateElement(tag.Tag{Group: 0x0043, Element: 0x1039}, "IS", diffusion),
	}
}

// philipsElements carries the private rescale pair Philips stores next to
// the standard one.
func philipsElements(rng *rand.Rand) []*dicom.Element {
	item := []*dicom.Element{
		privateElement(tag.Tag{Group: 0x2005, Element: 0x0011}, "LO", []string{"Philips MR Imaging DD 005"}),
		privateElement(tag.Tag{Group: 0x2005, Element: 0x1100}, "DS", []string{fmt.Sprintf("%.10f", rng.Float64()*100+1)}),
		privateElement(tag.Tag{Group: 0x2005, Element: 0x1101}, "DS", []string{fmt.Sprintf("%.10f", rng.Float64()*10-5)}),
	}

	return []*dicom.Element{
		privateElement(tag.Tag{Group: 0x2001, Element: 0x0010}, "LO", []string{"Philips Imaging DD 001"}),
		privateElement(tag.Tag{Group: 0x2005, Element: 0x0010}, "LO", []string{"Philips MR Imaging DD 001"}),
		privateElement(tag.Tag{Group: 0x2005, Element: 0x100E}, "SQ", [][]*dicom.Element{item}),
	}
}

// noise returns between n and n+spread random bytes, an even count so OB
// values need no padding.
func noise(rng *rand.Rand, n, spread int) []byte {
	b := make([]byte, (n+rng.IntN(spread))&^1)
	for i := range b {
		b[i] = byte(rng.IntN(256))
	}
	return b
}
