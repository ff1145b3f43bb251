// Package report writes the per-subject results table and derives the
// summary CSV from it.
package report

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/mrsinham/radqy/internal/tags"
)

// Column names with a fixed meaning.
const (
	ColumnParticipant = "Participant"
	ColumnImages      = "Name of Images"
	ColumnSlices      = "NUM"
)

// File names inside the output directory.
const (
	ResultsFile = "results.tsv"
	SummaryFile = "IQM.csv"
)

// Cell is one named value of a row.
type Cell struct {
	Name  string
	Value string
}

// Row is one subject, columns in output order.
type Row []Cell

// Get returns the value of a column.
func (r Row) Get(name string) (string, bool) {
	for _, c := range r {
		if c.Name == name {
			return c.Value, true
		}
	}
	return "", false
}

// Header is the comment block at the top of the results file.
type Header struct {
	Start    time.Time
	OutDir   string
	ScanType string
}

// Writer appends rows to a results file. The column row is taken from the
// first written row; later rows are aligned to it, missing cells read
// tags.NotAvailable and unknown cells are dropped.
type Writer struct {
	f       *os.File
	w       *csv.Writer
	columns []string
	rows    int
}

// Create truncates path and writes the comment block.
func Create(path string, h Header) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create report: %w", err)
	}

	_, err = fmt.Fprintf(f, "#start_time:\t%s\n#outdir:\t%s\n#scantype:\t%s\n#dataset:\n",
		h.Start.Format("2006-01-02 15:04:05.000000"), h.OutDir, h.ScanType)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("write report header: %w", err)
	}

	w := csv.NewWriter(f)
	w.Comma = '\t'
	return &Writer{f: f, w: w}, nil
}

// Columns returns the column row, nil before the first row.
func (w *Writer) Columns() []string {
	return w.columns
}

// Rows returns the number of data rows written.
func (w *Writer) Rows() int {
	return w.rows
}

// Write appends one row and flushes it.
func (w *Writer) Write(row Row) error {
	if w.columns == nil {
		w.columns = make([]string, len(row))
		for i, c := range row {
			w.columns[i] = c.Name
		}
		if err := w.w.Write(w.columns); err != nil {
			return fmt.Errorf("write report columns: %w", err)
		}
	}

	record := make([]string, len(w.columns))
	for i, name := range w.columns {
		v, ok := row.Get(name)
		if !ok || v == "" {
			v = tags.NotAvailable
		}
		record[i] = v
	}
	if err := w.w.Write(record); err != nil {
		return fmt.Errorf("write report row: %w", err)
	}
	w.w.Flush()
	if err := w.w.Error(); err != nil {
		return fmt.Errorf("flush report: %w", err)
	}
	w.rows++
	return nil
}

// Close flushes and closes the file.
func (w *Writer) Close() error {
	w.w.Flush()
	werr := w.w.Error()
	if err := w.f.Close(); err != nil {
		return err
	}
	return werr
}

// FormatFloat renders a metric the way the results table has always shown
// them: shortest round-trip digits, ".0" on whole numbers, exponent form
// below 1e-4 and from 1e16.
func FormatFloat(v float64) string {
	switch {
	case math.IsNaN(v):
		return "nan"
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	}

	abs := math.Abs(v)
	if abs != 0 && (abs < 1e-4 || abs >= 1e16) {
		return strconv.FormatFloat(v, 'e', -1, 64)
	}
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if v == math.Trunc(v) {
		s += ".0"
	}
	return s
}
