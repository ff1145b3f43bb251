package corruption

import (
	"bytes"
	"fmt"
	"os"
)

// pixelDataTag is (7FE0,0010) in little endian.
var pixelDataTag = []byte{0xE0, 0x7F, 0x10, 0x00}

// Truncate cuts a written DICOM file halfway through its pixel data, the
// way an interrupted transfer leaves it. The header stays readable.
func Truncate(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file to truncate: %w", err)
	}

	i := bytes.LastIndex(data, pixelDataTag)
	if i < 0 {
		return fmt.Errorf("truncate %s: no pixel data element", path)
	}
	// Tag, VR, reserved bytes and 4-byte length precede the value.
	start := i + 12
	if start >= len(data) {
		return fmt.Errorf("truncate %s: pixel data element is empty", path)
	}
	cut := start + (len(data)-start)/2

	if err := os.Truncate(path, int64(cut)); err != nil {
		return fmt.Errorf("truncate %s: %w", path, err)
	}
	return nil
}
