package volume

import (
	"bufio"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/mrsinham/radqy/internal/tags"
)

// metaElementSize returns the byte size of a MetaImage ElementType.
func metaElementSize(elemType string) (int, bool) {
	switch elemType {
	case "MET_CHAR", "MET_UCHAR":
		return 1, true
	case "MET_SHORT", "MET_USHORT":
		return 2, true
	case "MET_INT", "MET_UINT", "MET_LONG", "MET_ULONG", "MET_FLOAT":
		return 4, true
	case "MET_LONG_LONG", "MET_ULONG_LONG", "MET_DOUBLE":
		return 8, true
	}
	return 0, false
}

// decodeMetaElement decodes one voxel of the given ElementType.
func decodeMetaElement(b []byte, elemType string, o binary.ByteOrder) float64 {
	switch elemType {
	case "MET_CHAR":
		return float64(int8(b[0]))
	case "MET_UCHAR":
		return float64(b[0])
	case "MET_SHORT":
		return float64(int16(o.Uint16(b)))
	case "MET_USHORT":
		return float64(o.Uint16(b))
	case "MET_INT", "MET_LONG":
		return float64(int32(o.Uint32(b)))
	case "MET_UINT", "MET_ULONG":
		return float64(o.Uint32(b))
	case "MET_FLOAT":
		return float64(math.Float32frombits(o.Uint32(b)))
	case "MET_LONG_LONG":
		return float64(int64(o.Uint64(b)))
	case "MET_ULONG_LONG":
		return float64(o.Uint64(b))
	case "MET_DOUBLE":
		return math.Float64frombits(o.Uint64(b))
	}
	return 0
}

// metaHeader is the parsed "Key = Value" block of a MetaImage file.
type metaHeader struct {
	fields map[string]string
	order  []string
	// length is the byte count of the header block.
	length int64
}

func (h *metaHeader) get(key string) string {
	return h.fields[key]
}

func (h *metaHeader) flag(keys ...string) bool {
	for _, k := range keys {
		if strings.EqualFold(h.fields[k], "true") {
			return true
		}
	}
	return false
}

// readMetaHeader reads header lines up to and including ElementDataFile and
// leaves r positioned at the first data byte.
func readMetaHeader(r *bufio.Reader) (*metaHeader, error) {
	h := &metaHeader{fields: map[string]string{}}
	for {
		line, err := r.ReadString('\n')
		if err != nil && (err != io.EOF || line == "") {
			return nil, fmt.Errorf("read header: missing ElementDataFile")
		}
		h.length += int64(len(line))

		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			if err == io.EOF {
				return nil, fmt.Errorf("read header: missing ElementDataFile")
			}
			continue
		}
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		if _, seen := h.fields[key]; !seen {
			h.order = append(h.order, key)
		}
		h.fields[key] = value

		if key == "ElementDataFile" {
			return h, nil
		}
	}
}

// loadMetaImage reads a .mha volume with LOCAL or detached raw data,
// optionally zlib-compressed.
func loadMetaImage(path string) (*rawVolume, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	br := bufio.NewReader(f)
	h, err := readMetaHeader(br)
	if err != nil {
		return nil, err
	}

	dims, err := parseInts(h.get("DimSize"))
	if err != nil || len(dims) < 2 {
		return nil, fmt.Errorf("read header: invalid DimSize %q", h.get("DimSize"))
	}
	if c := h.get("ElementNumberOfChannels"); c != "" && c != "1" {
		return nil, fmt.Errorf("read header: %s channels not supported", c)
	}

	elemType := h.get("ElementType")
	size, ok := metaElementSize(elemType)
	if !ok {
		return nil, fmt.Errorf("read header: unsupported ElementType %q", elemType)
	}

	want, err := metaVoxelBytes(dims, size)
	if err != nil {
		return nil, err
	}
	nx, ny, nz := dims[0], dims[1], int(want/int64(dims[0]*dims[1]*size))

	var data io.Reader = br
	dataFile := f
	available := int64(-1)
	if name := h.get("ElementDataFile"); name != "LOCAL" {
		if strings.ContainsAny(name, " %") || name == "LIST" {
			return nil, fmt.Errorf("read header: ElementDataFile %q not supported", name)
		}
		raw, err := os.Open(filepath.Join(filepath.Dir(path), name))
		if err != nil {
			return nil, fmt.Errorf("open data file: %w", err)
		}
		defer func() { _ = raw.Close() }()
		data, dataFile = raw, raw
	}
	if fi, err := dataFile.Stat(); err == nil {
		available = fi.Size()
		if dataFile == f {
			available -= h.length
		}
	}

	compressed := h.flag("CompressedData")
	if !compressed && available >= 0 && want > available {
		return nil, fmt.Errorf("read voxel data: DimSize %v needs %d bytes, file holds %d", dims, want, available)
	}
	if compressed {
		zr, err := zlib.NewReader(data)
		if err != nil {
			return nil, fmt.Errorf("open compressed data: %w", err)
		}
		defer func() { _ = zr.Close() }()
		data = zr
	}

	// Read without preallocating so a compressed stream shorter than its
	// header claims fails before the whole buffer is allocated.
	buf, err := io.ReadAll(io.LimitReader(data, want))
	if err != nil {
		return nil, fmt.Errorf("read voxel data: %w", err)
	}
	if int64(len(buf)) < want {
		return nil, fmt.Errorf("read voxel data: %w", io.ErrUnexpectedEOF)
	}

	var order binary.ByteOrder = binary.LittleEndian
	if h.flag("BinaryDataByteOrderMSB", "ElementByteOrderMSB") {
		order = binary.BigEndian
	}

	slices := make([]*mat.Dense, nz)
	off := 0
	for z := range nz {
		values := make([]float64, nx*ny)
		for i := range values {
			values[i] = decodeMetaElement(buf[off:off+size], elemType, order)
			off += size
		}
		slices[z] = mat.NewDense(ny, nx, values)
	}

	src := tags.MapSource{}
	for _, key := range h.order {
		src[key] = headerValue(h.get(key))
	}

	geo := tags.Geometry{Rows: ny, Columns: nx}
	spacing := h.get("ElementSpacing")
	if spacing == "" {
		spacing = h.get("ElementSize")
	}
	if sp, err := parseFloats(spacing); err == nil && len(sp) > 0 {
		geo.Spacing = sp
	}

	return &rawVolume{slices: slices, source: tags.WithGeometry(src, geo)}, nil
}

// metaVoxelBytes returns the byte size of the voxel data described by dims,
// failing on non-positive or overflowing dimensions.
func metaVoxelBytes(dims []int, size int) (int64, error) {
	total := int64(size)
	for _, d := range dims {
		if d <= 0 {
			return 0, fmt.Errorf("read header: invalid DimSize %v", dims)
		}
		if total > math.MaxInt64/int64(d) {
			return 0, fmt.Errorf("read header: DimSize %v overflows", dims)
		}
		total *= int64(d)
	}
	if total > int64(math.MaxInt) {
		return 0, fmt.Errorf("read header: DimSize %v overflows", dims)
	}
	return total, nil
}

// headerValue keeps numeric header values as numbers.
func headerValue(s string) tags.Value {
	if nums, err := parseFloats(s); err == nil && len(nums) > 0 {
		return tags.Numbers(nums...)
	}
	return tags.Text(s)
}

func parseFloats(s string) ([]float64, error) {
	var out []float64
	for _, field := range strings.Fields(s) {
		v, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func parseInts(s string) ([]int, error) {
	var out []int
	for _, field := range strings.Fields(s) {
		v, err := strconv.Atoi(field)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
