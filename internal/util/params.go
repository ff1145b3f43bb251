// internal/util/params.go
package util

import (
	"fmt"
	"strconv"
	"strings"
)

// MaskFlag tells whether foreground masks are written next to the previews.
// Any non-empty value other than "0" enables it.
type MaskFlag bool

// ParseMaskFlag parses the save-mask option.
func ParseMaskFlag(s string) MaskFlag {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "0", "false", "no":
		return false
	default:
		return true
	}
}

// ParseStride parses the slice sampling stride, which must be a positive integer.
func ParseStride(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 1, fmt.Errorf("invalid stride: %s (must be a positive integer)", s)
	}
	if n < 1 {
		return 1, fmt.Errorf("invalid stride: %d (must be >= 1)", n)
	}
	return n, nil
}

// ParseMiddlePercent parses the percentage of middle slices to keep (0-100).
func ParseMiddlePercent(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 100, fmt.Errorf("invalid middle percentage: %s (must be an integer 0-100)", s)
	}
	if n < 0 || n > 100 {
		return 100, fmt.Errorf("invalid middle percentage: %d (must be 0-100)", n)
	}
	return n, nil
}
