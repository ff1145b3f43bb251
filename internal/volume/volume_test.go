package volume

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/KyungWonPark/nifti"
	"github.com/kshedden/gonpy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	dcm "github.com/mrsinham/radqy/internal/dicom"
	"github.com/mrsinham/radqy/internal/dicom/corruption"
	"github.com/mrsinham/radqy/internal/dicom/modalities"
	"github.com/mrsinham/radqy/internal/subject"
	"github.com/mrsinham/radqy/internal/tags"
)

const testDictionary = `
Manufacturer: MFR
Echo Time: TE
Rows: ROWS
Columns: COLS
Pixel Spacing: [VRX, VRY]
Slice Thickness: VRZ
`

func loadTestDictionary(t *testing.T) tags.Dictionary {
	t.Helper()
	dict, err := tags.ParseDictionary([]byte(testDictionary))
	require.NoError(t, err)
	return dict
}

func constSlice(rows, cols int, v float64) *mat.Dense {
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = v
	}
	return mat.NewDense(rows, cols, data)
}

func TestSeriesWindow(t *testing.T) {
	tests := []struct {
		n, middle int
		lo, hi    int
	}{
		{10, 100, 0, 10},
		{10, 50, 2, 7},
		{10, 0, 5, 6},
		{1, 0, 0, 1},
		{3, 100, 0, 3},
		{0, 100, 0, 0},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("n=%d,u=%d", tt.n, tt.middle), func(t *testing.T) {
			lo, hi := SeriesWindow(tt.n, tt.middle)
			if lo != tt.lo || hi != tt.hi {
				t.Errorf("SeriesWindow(%d, %d) = [%d, %d), want [%d, %d)", tt.n, tt.middle, lo, hi, tt.lo, tt.hi)
			}
		})
	}
}

func TestMiddleWindow(t *testing.T) {
	tests := []struct {
		n, middle int
		lo, hi    int
	}{
		{10, 100, 0, 10},
		{5, 100, 0, 4},
		{10, 50, 3, 7},
		{10, 0, 5, 6},
		{1, 100, 0, 1},
		{2, 100, 0, 2},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("n=%d,u=%d", tt.n, tt.middle), func(t *testing.T) {
			lo, hi := MiddleWindow(tt.n, tt.middle)
			if lo != tt.lo || hi != tt.hi {
				t.Errorf("MiddleWindow(%d, %d) = [%d, %d), want [%d, %d)", tt.n, tt.middle, lo, hi, tt.lo, tt.hi)
			}
		})
	}
}

func writeTestSeries(t *testing.T, dir string, instances []int) []string {
	t.Helper()
	slices := make([]*mat.Dense, len(instances))
	for i, inst := range instances {
		slices[i] = constSlice(4, 5, float64(100*inst))
	}
	paths, err := dcm.WriteSeries(dcm.SeriesOptions{
		Dir:             dir,
		Prefix:          "IM",
		ScanType:        modalities.MRI,
		PatientID:       "P001",
		Slices:          slices,
		InstanceNumbers: instances,
		PixelSpacing:    0.5,
		SliceThickness:  3,
	})
	require.NoError(t, err)
	return paths
}

func TestSample_SeriesSortedByInstanceNumber(t *testing.T) {
	paths := writeTestSeries(t, t.TempDir(), []int{3, 1, 5, 2, 4})

	vol, err := Sample(subject.Subject{ID: "IM_P001", Format: subject.FormatSeries, Paths: paths},
		Options{Middle: 100, Dictionary: loadTestDictionary(t)})
	require.NoError(t, err)

	require.Len(t, vol.Slices, 5)
	assert.Equal(t, 5, vol.Total)
	for i, s := range vol.Slices {
		assert.Equal(t, float64(100*(i+1)), s.At(0, 0), "slice %d", i)
	}

	mfr, _ := vol.Tags.Get("MFR")
	assert.Equal(t, "SIEMENS", mfr)
	te, _ := vol.Tags.Get("TE")
	assert.Equal(t, "20", te)
	rows, _ := vol.Tags.Get("ROWS")
	assert.Equal(t, "4", rows)
}

func TestSample_SeriesZeroMiddleKeepsOneSlice(t *testing.T) {
	paths := writeTestSeries(t, t.TempDir(), []int{1, 2, 3, 4, 5})

	vol, err := Sample(subject.Subject{ID: "s", Format: subject.FormatSeries, Paths: paths},
		Options{Middle: 0, Dictionary: loadTestDictionary(t)})
	require.NoError(t, err)

	require.Len(t, vol.Slices, 1)
	assert.Equal(t, 300.0, vol.Slices[0].At(0, 0))
}

func TestSample_SeriesDropsUnreadableFiles(t *testing.T) {
	dir := t.TempDir()
	paths := writeTestSeries(t, dir, []int{1, 2, 3})

	bad := filepath.Join(dir, "IM0000.dcm")
	require.NoError(t, os.WriteFile(bad, []byte("not dicom"), 0644))

	vol, err := Sample(subject.Subject{ID: "s", Format: subject.FormatSeries, Paths: append([]string{bad}, paths...)},
		Options{Middle: 100, Dictionary: loadTestDictionary(t)})
	require.NoError(t, err)
	assert.Len(t, vol.Slices, 3)
	assert.Equal(t, 4, vol.Total)

	_, err = Sample(subject.Subject{ID: "s", Format: subject.FormatSeries, Paths: []string{bad}},
		Options{Middle: 100, Dictionary: loadTestDictionary(t)})
	assert.ErrorIs(t, err, ErrNoSlices)
}

func TestSample_SeriesWithVendorBlocksAndDamage(t *testing.T) {
	slices := []*mat.Dense{constSlice(4, 5, 100), constSlice(4, 5, 200), constSlice(4, 5, 300)}
	paths, err := dcm.WriteSeries(dcm.SeriesOptions{
		Dir:       t.TempDir(),
		Prefix:    "IM",
		ScanType:  modalities.MRI,
		PatientID: "P007",
		Slices:    slices,
		Vendor:    []corruption.Kind{corruption.SiemensCSA},
		Damaged:   []int{1},
	})
	require.NoError(t, err)

	vol, err := Sample(subject.Subject{ID: "IM_P007", Format: subject.FormatSeries, Paths: paths},
		Options{Middle: 100, Dictionary: loadTestDictionary(t)})
	require.NoError(t, err)

	require.Len(t, vol.Slices, 2)
	assert.Equal(t, 100.0, vol.Slices[0].At(0, 0))
	assert.Equal(t, 300.0, vol.Slices[1].At(0, 0))
	mfr, _ := vol.Tags.Get("MFR")
	assert.Equal(t, "SIEMENS", mfr)
}

func TestSample_NIfTI(t *testing.T) {
	dir := t.TempDir()
	img := nifti.NewImg(4, 3, 6, 1)
	for z := range 6 {
		for y := range 3 {
			for x := range 4 {
				img.SetAt(uint32(x), uint32(y), uint32(z), 0, float32(100*z+10*y+x))
			}
		}
	}
	img.Save(filepath.Join(dir, "brain.nii"))

	vol, err := Sample(subject.Subject{ID: "brain", Format: subject.FormatNIfTI, Paths: []string{filepath.Join(dir, "brain.nii.gz")}},
		Options{Middle: 100, Dictionary: loadTestDictionary(t)})
	require.NoError(t, err)

	require.Len(t, vol.Slices, 6)
	r, c := vol.Slices[0].Dims()
	assert.Equal(t, 3, r)
	assert.Equal(t, 4, c)
	assert.Equal(t, 213.0, vol.Slices[2].At(1, 3))

	for abbrev, want := range map[string]string{"ROWS": "3", "COLS": "4", "VRX": "2", "VRZ": "2", "MFR": tags.NotAvailable} {
		got, _ := vol.Tags.Get(abbrev)
		assert.Equal(t, want, got, abbrev)
	}
}

func TestSample_NIfTIMiddle(t *testing.T) {
	dir := t.TempDir()
	img := nifti.NewImg(2, 2, 10, 1)
	for z := range 10 {
		for i := range 4 {
			img.SetAt(uint32(i%2), uint32(i/2), uint32(z), 0, float32(z))
		}
	}
	img.Save(filepath.Join(dir, "knee.nii"))

	vol, err := Sample(subject.Subject{ID: "knee", Format: subject.FormatNIfTI, Paths: []string{filepath.Join(dir, "knee.nii.gz")}},
		Options{Middle: 50, Dictionary: loadTestDictionary(t)})
	require.NoError(t, err)

	require.Len(t, vol.Slices, 4)
	assert.Equal(t, 3.0, vol.Slices[0].At(0, 0))
	assert.Equal(t, 6.0, vol.Slices[3].At(1, 1))
}

func TestSample_NIfTICorrupt(t *testing.T) {
	dir := t.TempDir()
	short := filepath.Join(dir, "short.nii")
	require.NoError(t, os.WriteFile(short, []byte("0123456789"), 0644))
	notGzip := filepath.Join(dir, "garbage.nii.gz")
	require.NoError(t, os.WriteFile(notGzip, bytes.Repeat([]byte{7}, 400), 0644))

	for _, path := range []string{short, notGzip, filepath.Join(dir, "missing.nii")} {
		_, err := Sample(subject.Subject{ID: "x", Format: subject.FormatNIfTI, Paths: []string{path}},
			Options{Middle: 100})
		assert.Error(t, err, path)
	}
}

func TestSample_NIfTIUnsupportedDatatype(t *testing.T) {
	for _, datatype := range []int16{1024, 1280} {
		t.Run(fmt.Sprint(datatype), func(t *testing.T) {
			dir := t.TempDir()
			img := nifti.NewImg(2, 2, 2, 1)
			hdr := img.GetHeader()
			hdr.Datatype = datatype
			hdr.Bitpix = 64
			img.SetNewHeader(hdr)
			img.Save(filepath.Join(dir, "counts.nii"))

			_, err := Sample(subject.Subject{ID: "counts", Format: subject.FormatNIfTI, Paths: []string{filepath.Join(dir, "counts.nii.gz")}},
				Options{Middle: 100})
			require.Error(t, err)
			assert.Contains(t, err.Error(), "not supported")
		})
	}
}

func TestNIfTIVoxel(t *testing.T) {
	tests := []struct {
		name     string
		v        float32
		datatype int16
		want     float64
	}{
		{"float", 1.5, 16, 1.5},
		{"int16 negative", 65535, niftiInt16, -1},
		{"int16 positive", 1200, niftiInt16, 1200},
		{"int8 negative", 255, niftiInt8, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := niftiVoxel(tt.v, tt.datatype); got != tt.want {
				t.Errorf("niftiVoxel(%v, %d) = %v, want %v", tt.v, tt.datatype, got, tt.want)
			}
		})
	}
}

// writeMetaImage writes a MET_SHORT volume with x varying fastest.
func writeMetaImage(t *testing.T, path string, nx, ny, nz int, voxels []int16, compressed bool) {
	t.Helper()
	var body bytes.Buffer
	require.NoError(t, binary.Write(&body, binary.LittleEndian, voxels))
	payload := body.Bytes()
	flag := "False"
	if compressed {
		var z bytes.Buffer
		zw := zlib.NewWriter(&z)
		_, err := zw.Write(payload)
		require.NoError(t, err)
		require.NoError(t, zw.Close())
		payload = z.Bytes()
		flag = "True"
	}

	header := fmt.Sprintf("ObjectType = Image\nNDims = 3\nBinaryData = True\nBinaryDataByteOrderMSB = False\n"+
		"CompressedData = %s\nModality = MET_MOD_MR\nElementSpacing = 0.8 0.8 3\nDimSize = %d %d %d\n"+
		"ElementType = MET_SHORT\nElementDataFile = LOCAL\n", flag, nx, ny, nz)
	require.NoError(t, os.WriteFile(path, append([]byte(header), payload...), 0644))
}

func TestSample_MetaImage(t *testing.T) {
	for _, compressed := range []bool{false, true} {
		t.Run(fmt.Sprintf("compressed=%v", compressed), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "prostate.mha")
			voxels := make([]int16, 3*2*4)
			for i := range voxels {
				voxels[i] = int16(i - 10)
			}
			writeMetaImage(t, path, 3, 2, 4, voxels, compressed)

			vol, err := Sample(subject.Subject{ID: "prostate", Format: subject.FormatMHA, Paths: []string{path}},
				Options{Middle: 100, Dictionary: loadTestDictionary(t)})
			require.NoError(t, err)

			require.Len(t, vol.Slices, 4)
			r, c := vol.Slices[0].Dims()
			assert.Equal(t, 2, r)
			assert.Equal(t, 3, c)
			assert.Equal(t, -10.0, vol.Slices[0].At(0, 0))
			// slice 1, row 1, column 2 is flat index 6 + 3 + 2
			assert.Equal(t, 1.0, vol.Slices[1].At(1, 2))

			for abbrev, want := range map[string]string{"ROWS": "2", "COLS": "3", "VRX": "0.8", "VRY": "0.8", "VRZ": "3"} {
				got, _ := vol.Tags.Get(abbrev)
				assert.Equal(t, want, got, abbrev)
			}
		})
	}
}

func TestSample_MetaImageDetached(t *testing.T) {
	dir := t.TempDir()
	var body bytes.Buffer
	require.NoError(t, binary.Write(&body, binary.LittleEndian, []float32{1, 2, 3, 4}))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "knee.raw"), body.Bytes(), 0644))

	header := "NDims = 2\nDimSize = 2 2\nElementType = MET_FLOAT\nElementDataFile = knee.raw\n"
	path := filepath.Join(dir, "knee.mha")
	require.NoError(t, os.WriteFile(path, []byte(header), 0644))

	vol, err := Sample(subject.Subject{ID: "knee", Format: subject.FormatMHA, Paths: []string{path}},
		Options{Middle: 100})
	require.NoError(t, err)
	require.Len(t, vol.Slices, 1)
	assert.Equal(t, 4.0, vol.Slices[0].At(1, 1))
}

func TestSample_MetaImageInvalid(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"no data file", "NDims = 3\nDimSize = 2 2 2\nElementType = MET_SHORT\n"},
		{"bad element type", "NDims = 2\nDimSize = 2 2\nElementType = MET_STRING\nElementDataFile = LOCAL\n"},
		{"bad dims", "NDims = 2\nDimSize = two\nElementType = MET_SHORT\nElementDataFile = LOCAL\n"},
		{"truncated data", "NDims = 2\nDimSize = 8 8\nElementType = MET_SHORT\nElementDataFile = LOCAL\nxx"},
		{"dims larger than file", "NDims = 3\nDimSize = 1000000 1000000 1000\nElementType = MET_UCHAR\nElementDataFile = LOCAL\n"},
		{"dims overflow", "NDims = 3\nDimSize = 4294967296 4294967296 4294967296\nElementType = MET_DOUBLE\nElementDataFile = LOCAL\n"},
		{"negative dim", "NDims = 3\nDimSize = 2 -2 2\nElementType = MET_UCHAR\nElementDataFile = LOCAL\n"},
		{"compressed dims larger than stream", "NDims = 3\nDimSize = 100000 100000 100\nElementType = MET_UCHAR\nCompressedData = True\nElementDataFile = LOCAL\nxx"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "bad.mha")
			require.NoError(t, os.WriteFile(path, []byte(tt.header), 0644))
			_, err := loadMetaImage(path)
			assert.Error(t, err)
		})
	}
}

func TestMetaVoxelBytes(t *testing.T) {
	n, err := metaVoxelBytes([]int{3, 2, 4}, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(48), n)

	_, err = metaVoxelBytes([]int{1 << 30, 1 << 30, 1 << 30}, 8)
	assert.Error(t, err)
	_, err = metaVoxelBytes([]int{4, 0}, 1)
	assert.Error(t, err)
}

func matElement(typ uint32, body []byte) []byte {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, typ)
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(body)))
	buf.Write(body)
	for buf.Len()%8 != 0 {
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

func matDoubleArray(name string, dims []int32, values []float64, smallName bool) []byte {
	var flags, dimBytes, data bytes.Buffer
	_ = binary.Write(&flags, binary.LittleEndian, []uint32{mxDOUBLE, 0})
	_ = binary.Write(&dimBytes, binary.LittleEndian, dims)
	_ = binary.Write(&data, binary.LittleEndian, values)

	nameElem := matElement(miINT8, []byte(name))
	if smallName {
		var small bytes.Buffer
		_ = binary.Write(&small, binary.LittleEndian, uint32(miINT8)|uint32(len(name))<<16)
		small.Write([]byte(name))
		for small.Len() < 8 {
			small.WriteByte(0)
		}
		nameElem = small.Bytes()
	}

	var body bytes.Buffer
	body.Write(matElement(miUINT32, flags.Bytes()))
	body.Write(matElement(miINT32, dimBytes.Bytes()))
	body.Write(nameElem)
	body.Write(matElement(miDOUBLE, data.Bytes()))
	return matElement(miMATRIX, body.Bytes())
}

func matHeader(text string, version uint16) []byte {
	h := make([]byte, matHeaderSize)
	copy(h, []byte(text+strings.Repeat(" ", 116)))
	binary.LittleEndian.PutUint16(h[124:], version)
	copy(h[126:], "IM")
	return h
}

func compressMATElement(elem []byte) []byte {
	var z bytes.Buffer
	zw := zlib.NewWriter(&z)
	_, _ = zw.Write(elem)
	_ = zw.Close()

	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, uint32(miCOMPRESSED))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(z.Len()))
	buf.Write(z.Bytes())
	return buf.Bytes()
}

func TestSample_MAT(t *testing.T) {
	// 2 rows × 3 columns × 4 slices, column-major
	values := make([]float64, 24)
	for i := range values {
		values[i] = float64(i)
	}
	other := matDoubleArray("info", []int32{1, 2}, []float64{7, 8}, true)
	vol := matDoubleArray("vol", []int32{2, 3, 4}, values, false)

	tests := []struct {
		name string
		body []byte
	}{
		{"plain", append(append([]byte{}, other...), vol...)},
		{"compressed", append(compressMATElement(other), compressMATElement(vol)...)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "liver.mat")
			data := append(matHeader("MATLAB 5.0 MAT-file", 0x0100), tt.body...)
			require.NoError(t, os.WriteFile(path, data, 0644))

			v, err := Sample(subject.Subject{ID: "liver", Format: subject.FormatMAT, Paths: []string{path}},
				Options{Middle: 100, Dictionary: loadTestDictionary(t)})
			require.NoError(t, err)

			require.Len(t, v.Slices, 4)
			r, c := v.Slices[0].Dims()
			assert.Equal(t, 2, r)
			assert.Equal(t, 3, c)
			// slice 2, row 1, column 2: 2·6 + 2·2 + 1
			assert.Equal(t, 17.0, v.Slices[2].At(1, 2))

			rows, _ := v.Tags.Get("ROWS")
			assert.Equal(t, tags.NotAvailable, rows)
		})
	}
}

func TestSample_MATInvalid(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"too short", []byte("MATLAB")},
		{"v7.3", matHeader("MATLAB 7.3 MAT-file", 0x0200)},
		{"no vol", append(matHeader("MATLAB 5.0 MAT-file", 0x0100), matDoubleArray("img", []int32{1, 1}, []float64{1}, false)...)},
		{"truncated", append(matHeader("MATLAB 5.0 MAT-file", 0x0100), 14, 0, 0, 0, 200, 0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "bad.mat")
			require.NoError(t, os.WriteFile(path, tt.data, 0644))
			_, err := loadMAT(path)
			assert.Error(t, err)
		})
	}
}

func TestSample_NPY(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lung.npy")
	w, err := gonpy.NewFileWriter(path)
	require.NoError(t, err)
	w.Shape = []int{3, 2, 4}
	values := make([]float64, 24)
	for i := range values {
		values[i] = float64(i)
	}
	require.NoError(t, w.WriteFloat64(values))

	vol, err := Sample(subject.Subject{ID: "lung", Format: subject.FormatNPY, Paths: []string{path}},
		Options{Middle: 100, Dictionary: loadTestDictionary(t)})
	require.NoError(t, err)

	require.Len(t, vol.Slices, 2)
	assert.Equal(t, 3, vol.Total)
	// window [0, 2) of 3 slices; slice 1, row 1, column 3 is 8 + 4 + 3
	assert.Equal(t, 15.0, vol.Slices[1].At(1, 3))

	cols, _ := vol.Tags.Get("COLS")
	assert.Equal(t, "4", cols)
}

func TestNPYIndexer(t *testing.T) {
	shape := []int{2, 3, 4}

	rowMajor := npyIndexer(shape, false)
	assert.Equal(t, 0, rowMajor(0, 0, 0))
	assert.Equal(t, 12+2*4+3, rowMajor(1, 2, 3))

	colMajor := npyIndexer(shape, true)
	assert.Equal(t, 1, colMajor(1, 0, 0))
	assert.Equal(t, 1+2*2+3*6, colMajor(1, 2, 3))

	folded := npyIndexer([]int{2, 2, 1, 1}, false)
	assert.Equal(t, 3, folded(3, 0, 0))
}

func TestSample_Errors(t *testing.T) {
	_, err := Sample(subject.Subject{ID: "x", Format: "tiff", Paths: []string{"x.tiff"}}, Options{})
	assert.True(t, errors.Is(err, ErrUnsupportedFormat), "got %v", err)

	_, err = Sample(subject.Subject{ID: "x", Format: subject.FormatMHA}, Options{})
	assert.ErrorIs(t, err, ErrNoSlices)
}
