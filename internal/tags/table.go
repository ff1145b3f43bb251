package tags

import "github.com/mrsinham/radqy/internal/util"

// Source exposes the metadata of a loaded volume. Names are tag names with
// spaces removed.
type Source interface {
	Lookup(name string) (Value, bool)
}

// Field is one abbreviated tag column.
type Field struct {
	Name  string
	Value string
}

// Table holds the tag columns of one subject in dictionary order.
type Table []Field

// Get returns the value of a column.
func (t Table) Get(name string) (string, bool) {
	for _, f := range t {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// Extract resolves every dictionary entry against src. A missing tag fills all
// of its columns with NotAvailable. A multi-valued tag is split positionally,
// columns beyond the available values get NotAvailable, and a single value is
// repeated across all of the entry's columns.
func Extract(src Source, dict Dictionary) Table {
	table := make(Table, 0, len(dict.Columns()))
	for _, entry := range dict {
		value, ok := src.Lookup(util.NormalizeTagName(entry.Name))
		if ok && value.Len() == 0 {
			ok = false
		}

		for j, abbrev := range entry.Abbreviations {
			cell := NotAvailable
			switch {
			case !ok:
			case value.Len() == 1:
				cell = value.Cell(0)
			case j < value.Len():
				cell = value.Cell(j)
			}
			if cell == "" {
				cell = NotAvailable
			}
			table = append(table, Field{Name: abbrev, Value: cell})
		}
	}
	return table
}

// MapSource is a Source backed by a map, used for header key/value formats.
type MapSource map[string]Value

// Lookup implements Source.
func (m MapSource) Lookup(name string) (Value, bool) {
	v, ok := m[name]
	return v, ok
}

// Geometry describes the voxel grid of a volume without a DICOM header.
type Geometry struct {
	Rows    int
	Columns int
	// Spacing holds the column, row and slice spacing.
	Spacing []float64
}

type geometrySource struct {
	src Source
	geo Geometry
}

// WithGeometry wraps src so that the geometry tags Rows, Columns,
// PixelSpacing and SliceThickness fall back to the voxel grid when src lacks
// them.
func WithGeometry(src Source, geo Geometry) Source {
	if src == nil {
		src = MapSource{}
	}
	return geometrySource{src: src, geo: geo}
}

func (g geometrySource) Lookup(name string) (Value, bool) {
	if v, ok := g.src.Lookup(name); ok {
		return v, true
	}

	info, err := util.GetTagByName(name)
	if err != nil || info.Group != util.GroupGeometry {
		return Value{}, false
	}

	switch info.Name {
	case "Rows":
		return Numbers(float64(g.geo.Rows)), true
	case "Columns":
		return Numbers(float64(g.geo.Columns)), true
	case "PixelSpacing":
		if len(g.geo.Spacing) == 0 {
			return Value{}, false
		}
		return Numbers(g.geo.Spacing...), true
	case "SliceThickness":
		if len(g.geo.Spacing) < 3 {
			return Value{}, false
		}
		return Numbers(g.geo.Spacing[2]), true
	}
	return Value{}, false
}
