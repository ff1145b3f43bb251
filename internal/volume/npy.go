package volume

import (
	"fmt"
	"os"

	"github.com/kshedden/gonpy"
	"gonum.org/v1/gonum/mat"

	"github.com/mrsinham/radqy/internal/tags"
)

// loadNPY reads a NumPy array shaped slices × rows × columns. A 2-D array is
// a single slice; extra leading axes are flattened into the slice axis.
func loadNPY(path string) (raw *rawVolume, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	// gonpy panics on a malformed shape tuple.
	defer func() {
		if r := recover(); r != nil {
			raw, err = nil, fmt.Errorf("decode npy: %v", r)
		}
	}()

	rdr, err := gonpy.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("decode npy: %w", err)
	}

	shape := rdr.Shape
	if len(shape) < 2 {
		return nil, fmt.Errorf("decode npy: shape %v has fewer than 2 axes", shape)
	}

	values, err := npyValues(rdr)
	if err != nil {
		return nil, fmt.Errorf("decode npy: %w", err)
	}

	rows, cols := shape[len(shape)-2], shape[len(shape)-1]
	depth := 1
	for _, d := range shape[:len(shape)-2] {
		depth *= d
	}
	if rows <= 0 || cols <= 0 || depth <= 0 {
		return nil, fmt.Errorf("decode npy: empty array %v", shape)
	}

	if len(values) != rows*cols*depth {
		return nil, fmt.Errorf("decode npy: %d values for shape %v", len(values), shape)
	}

	index := npyIndexer(shape, rdr.ColumnMajor)
	slices := make([]*mat.Dense, depth)
	for k := range depth {
		m := mat.NewDense(rows, cols, nil)
		for i := range rows {
			for j := range cols {
				m.Set(i, j, values[index(k, i, j)])
			}
		}
		slices[k] = m
	}

	geo := tags.Geometry{Rows: rows, Columns: cols}
	return &rawVolume{slices: slices, source: tags.WithGeometry(nil, geo)}, nil
}

// npyIndexer maps (slice, row, column) to the flat element index, slice
// being the row-major combination of every leading axis.
func npyIndexer(shape []int, columnMajor bool) func(k, i, j int) int {
	n := len(shape)
	strides := make([]int, n)
	if columnMajor {
		strides[0] = 1
		for a := 1; a < n; a++ {
			strides[a] = strides[a-1] * shape[a-1]
		}
	} else {
		strides[n-1] = 1
		for a := n - 2; a >= 0; a-- {
			strides[a] = strides[a+1] * shape[a+1]
		}
	}

	return func(k, i, j int) int {
		idx := i*strides[n-2] + j*strides[n-1]
		for a := n - 3; a >= 0; a-- {
			idx += (k % shape[a]) * strides[a]
			k /= shape[a]
		}
		return idx
	}
}

// npyValues reads the array data as float64 whatever its dtype.
func npyValues(rdr *gonpy.NpyReader) ([]float64, error) {
	switch rdr.Dtype {
	case "f8":
		return rdr.GetFloat64()
	case "f4":
		return widen[float32](rdr.GetFloat32())
	case "i1":
		return widen[int8](rdr.GetInt8())
	case "u1":
		return widen[uint8](rdr.GetUint8())
	case "i2":
		return widen[int16](rdr.GetInt16())
	case "u2":
		return widen[uint16](rdr.GetUint16())
	case "i4":
		return widen[int32](rdr.GetInt32())
	case "u4":
		return widen[uint32](rdr.GetUint32())
	case "i8":
		return widen[int64](rdr.GetInt64())
	case "u8":
		return widen[uint64](rdr.GetUint64())
	}
	return nil, fmt.Errorf("unsupported dtype %q", rdr.Dtype)
}

type number interface {
	~int8 | ~uint8 | ~int16 | ~uint16 | ~int32 | ~uint32 | ~int64 | ~uint64 | ~float32
}

func widen[T number](data []T, err error) ([]float64, error) {
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(data))
	for i, v := range data {
		out[i] = float64(v)
	}
	return out, nil
}
