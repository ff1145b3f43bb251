package tags

import (
	"math"
	"strconv"
	"strings"
)

// Value is a raw tag value as read from a source. Numeric tags fill Numbers,
// everything else fills Text. Both may hold several values.
type Value struct {
	Text    []string
	Numbers []float64
}

// Text builds a textual value.
func Text(s ...string) Value {
	return Value{Text: s}
}

// Numbers builds a numeric value.
func Numbers(v ...float64) Value {
	return Value{Numbers: v}
}

// Len returns the number of values held.
func (v Value) Len() int {
	if len(v.Numbers) > 0 {
		return len(v.Numbers)
	}
	return len(v.Text)
}

// Cell returns the cleaned i-th value.
func (v Value) Cell(i int) string {
	if len(v.Numbers) > 0 {
		return FormatNumber(v.Numbers[i])
	}
	return strings.TrimSpace(v.Text[i])
}

// FormatNumber rounds to two decimals and drops the fraction of whole numbers.
func FormatNumber(f float64) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return NotAvailable
	}
	r := math.Round(f*100) / 100
	if r == math.Trunc(r) && math.Abs(r) < 1e15 {
		return strconv.FormatInt(int64(r), 10)
	}
	return strconv.FormatFloat(r, 'f', -1, 64)
}
