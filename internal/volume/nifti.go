package volume

import (
	"fmt"
	"math"
	"os"

	"github.com/KyungWonPark/nifti"
	"gonum.org/v1/gonum/mat"

	"github.com/mrsinham/radqy/internal/tags"
)

// NIfTI-1 datatype codes whose voxels the reader decodes as unsigned or as
// float32 bits and that need reinterpreting.
const (
	niftiInt8   = 256
	niftiInt16  = 4
	niftiInt32  = 8
	niftiUint32 = 768
)

// unsupportedNIfTI lists the datatypes the reader cannot decode: it reads
// every 8-byte voxel as a float64.
var unsupportedNIfTI = map[int16]string{
	32:   "complex64",
	1024: "int64",
	1280: "uint64",
	1792: "complex128",
}

// loadNIfTI reads a .nii or .nii.gz volume. Slice z is the (y, x) plane of
// the first time point.
func loadNIfTI(path string) (raw *rawVolume, err error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	// The reader panics on truncated or unreadable files.
	defer func() {
		if r := recover(); r != nil {
			raw, err = nil, fmt.Errorf("decode nifti: %v", r)
		}
	}()

	var img nifti.Nifti1Image
	img.LoadImage(path, true)

	hdr := img.GetHeader()
	if hdr.SizeofHdr != 348 || hdr.Bitpix == 0 {
		return nil, fmt.Errorf("decode nifti: invalid header")
	}
	if name, ok := unsupportedNIfTI[hdr.Datatype]; ok {
		return nil, fmt.Errorf("decode nifti: %s voxels not supported", name)
	}

	dims := img.GetDims()
	nx, ny, nz := dims[0], dims[1], dims[2]
	if nz == 0 {
		nz = 1
	}
	if nx <= 0 || ny <= 0 {
		return nil, fmt.Errorf("decode nifti: invalid dimensions %dx%d", nx, ny)
	}

	slope, inter := float64(hdr.SclSlope), float64(hdr.SclInter)
	slices := make([]*mat.Dense, nz)
	for z := range nz {
		m := mat.NewDense(ny, nx, nil)
		for y := range ny {
			for x := range nx {
				v := niftiVoxel(img.GetAt(uint32(x), uint32(y), uint32(z), 0), hdr.Datatype)
				if slope != 0 {
					v = v*slope + inter
				}
				m.Set(y, x, v)
			}
		}
		slices[z] = m
	}

	geo := tags.Geometry{
		Rows:    ny,
		Columns: nx,
		Spacing: []float64{float64(hdr.Pixdim[1]), float64(hdr.Pixdim[2]), float64(hdr.Pixdim[3])},
	}
	return &rawVolume{slices: slices, source: tags.WithGeometry(nil, geo)}, nil
}

// niftiVoxel restores the sign or integer value of a voxel the reader
// returned as an unsigned or float32 quantity.
func niftiVoxel(v float32, datatype int16) float64 {
	switch datatype {
	case niftiInt8:
		return float64(int8(uint8(v)))
	case niftiInt16:
		return float64(int16(uint16(v)))
	case niftiInt32:
		return float64(int32(math.Float32bits(v)))
	case niftiUint32:
		return float64(math.Float32bits(v))
	}
	return float64(v)
}
