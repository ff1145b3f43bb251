package volume

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/mrsinham/radqy/internal/tags"
)

// matVariable is the MATLAB variable holding the volume.
const matVariable = "vol"

// MAT-file v5 data element types.
const (
	miINT8       = 1
	miUINT8      = 2
	miINT16      = 3
	miUINT16     = 4
	miINT32      = 5
	miUINT32     = 6
	miSINGLE     = 7
	miDOUBLE     = 9
	miINT64      = 12
	miUINT64     = 13
	miMATRIX     = 14
	miCOMPRESSED = 15
)

// MATLAB numeric array classes (mxDOUBLE_CLASS .. mxUINT64_CLASS).
const (
	mxDOUBLE = 6
	mxUINT64 = 15
)

const matHeaderSize = 128

var errMATElement = errors.New("truncated MAT-file data element")

// matArray is a decoded numeric miMATRIX element.
type matArray struct {
	name   string
	dims   []int
	values []float64
}

// loadMAT reads the "vol" variable of a MATLAB v5 file. The array is stored
// rows × columns × slices in column-major order; slice k is the k-th plane
// along the third dimension.
func loadMAT(path string) (*rawVolume, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	order, err := matByteOrder(data)
	if err != nil {
		return nil, err
	}

	arr, err := findMATVariable(data[matHeaderSize:], order, matVariable)
	if err != nil {
		return nil, err
	}

	rows, cols := arr.dims[0], arr.dims[1]
	depth := 1
	for _, d := range arr.dims[2:] {
		depth *= d
	}
	if rows <= 0 || cols <= 0 || depth <= 0 {
		return nil, fmt.Errorf("variable %q: empty array %v", arr.name, arr.dims)
	}
	if rows*cols*depth != len(arr.values) {
		return nil, fmt.Errorf("variable %q: %d values for dimensions %v", arr.name, len(arr.values), arr.dims)
	}

	plane := rows * cols
	slices := make([]*mat.Dense, depth)
	for k := range depth {
		m := mat.NewDense(rows, cols, nil)
		for j := range cols {
			for i := range rows {
				m.Set(i, j, arr.values[k*plane+j*rows+i])
			}
		}
		slices[k] = m
	}

	return &rawVolume{slices: slices, source: tags.MapSource{}}, nil
}

// matByteOrder validates the 128-byte header and returns the file's byte
// order.
func matByteOrder(data []byte) (binary.ByteOrder, error) {
	if len(data) < matHeaderSize {
		return nil, fmt.Errorf("not a MAT-file: %d bytes", len(data))
	}

	var order binary.ByteOrder
	switch string(data[126:128]) {
	case "IM":
		order = binary.LittleEndian
	case "MI":
		order = binary.BigEndian
	default:
		return nil, fmt.Errorf("not a MAT-file: bad endian indicator")
	}

	if v := order.Uint16(data[124:126]); v != 0x0100 {
		if strings.HasPrefix(string(data[:116]), "MATLAB 7.3") {
			return nil, fmt.Errorf("MAT-file v7.3 (HDF5) not supported")
		}
		return nil, fmt.Errorf("unsupported MAT-file version %#x", v)
	}
	return order, nil
}

// findMATVariable scans top-level data elements for the named array.
func findMATVariable(b []byte, order binary.ByteOrder, name string) (*matArray, error) {
	for len(b) > 0 {
		typ, body, rest, err := nextMATElement(b, order)
		if err != nil {
			return nil, err
		}
		b = rest

		if typ == miCOMPRESSED {
			zr, err := zlib.NewReader(bytes.NewReader(body))
			if err != nil {
				return nil, fmt.Errorf("inflate data element: %w", err)
			}
			inflated, err := io.ReadAll(zr)
			_ = zr.Close()
			if err != nil {
				return nil, fmt.Errorf("inflate data element: %w", err)
			}
			if typ, body, _, err = nextMATElement(inflated, order); err != nil {
				return nil, err
			}
		}
		if typ != miMATRIX {
			continue
		}

		arr, err := parseMATMatrix(body, order)
		if err != nil {
			return nil, err
		}
		if arr != nil && arr.name == name {
			return arr, nil
		}
	}
	return nil, fmt.Errorf("variable %q not found", name)
}

// nextMATElement splits one data element off b, handling the small element
// format and 8-byte padding.
func nextMATElement(b []byte, order binary.ByteOrder) (typ uint32, body, rest []byte, err error) {
	if len(b) < 8 {
		return 0, nil, nil, errMATElement
	}

	first := order.Uint32(b[0:4])
	if size := first >> 16; size != 0 {
		if size > 4 {
			return 0, nil, nil, errMATElement
		}
		return first & 0xffff, b[4 : 4+size], b[8:], nil
	}

	typ = first
	size := int(order.Uint32(b[4:8]))
	if size < 0 || len(b) < 8+size {
		return 0, nil, nil, errMATElement
	}
	end := 8 + size
	if typ != miCOMPRESSED {
		end = min(len(b), (end+7)&^7)
	}
	return typ, b[8 : 8+size], b[end:], nil
}

// parseMATMatrix decodes a numeric miMATRIX body. Non-numeric classes
// return nil without error.
func parseMATMatrix(b []byte, order binary.ByteOrder) (*matArray, error) {
	typ, flags, b, err := nextMATElement(b, order)
	if err != nil {
		return nil, err
	}
	if typ != miUINT32 || len(flags) < 4 {
		return nil, fmt.Errorf("miMATRIX: missing array flags")
	}
	class := order.Uint32(flags[0:4]) & 0xff

	_, rawDims, b, err := nextMATElement(b, order)
	if err != nil {
		return nil, err
	}
	dims := make([]int, len(rawDims)/4)
	for i := range dims {
		dims[i] = int(int32(order.Uint32(rawDims[4*i:])))
	}

	_, rawName, b, err := nextMATElement(b, order)
	if err != nil {
		return nil, err
	}
	arr := &matArray{name: string(rawName), dims: dims}

	if class < mxDOUBLE || class > mxUINT64 {
		return nil, nil
	}
	if len(dims) < 2 {
		return nil, fmt.Errorf("variable %q: dimensions %v", arr.name, dims)
	}

	typ, re, _, err := nextMATElement(b, order)
	if err != nil {
		return nil, err
	}
	if arr.values, err = decodeMATNumbers(re, typ, order); err != nil {
		return nil, fmt.Errorf("variable %q: %w", arr.name, err)
	}
	return arr, nil
}

// decodeMATNumbers converts the payload of a numeric data element.
func decodeMATNumbers(b []byte, typ uint32, o binary.ByteOrder) ([]float64, error) {
	var size int
	var decode func([]byte) float64
	switch typ {
	case miINT8:
		size, decode = 1, func(b []byte) float64 { return float64(int8(b[0])) }
	case miUINT8:
		size, decode = 1, func(b []byte) float64 { return float64(b[0]) }
	case miINT16:
		size, decode = 2, func(b []byte) float64 { return float64(int16(o.Uint16(b))) }
	case miUINT16:
		size, decode = 2, func(b []byte) float64 { return float64(o.Uint16(b)) }
	case miINT32:
		size, decode = 4, func(b []byte) float64 { return float64(int32(o.Uint32(b))) }
	case miUINT32:
		size, decode = 4, func(b []byte) float64 { return float64(o.Uint32(b)) }
	case miSINGLE:
		size, decode = 4, func(b []byte) float64 { return float64(math.Float32frombits(o.Uint32(b))) }
	case miDOUBLE:
		size, decode = 8, func(b []byte) float64 { return math.Float64frombits(o.Uint64(b)) }
	case miINT64:
		size, decode = 8, func(b []byte) float64 { return float64(int64(o.Uint64(b))) }
	case miUINT64:
		size, decode = 8, func(b []byte) float64 { return float64(o.Uint64(b)) }
	default:
		return nil, fmt.Errorf("unsupported data type %d", typ)
	}

	out := make([]float64, len(b)/size)
	for i := range out {
		out[i] = decode(b[i*size : (i+1)*size])
	}
	return out, nil
}
