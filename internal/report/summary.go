package report

import (
	"encoding/csv"
	"fmt"
	"os"

	"github.com/mrsinham/radqy/internal/tags"
)

// NotApplicable replaces blank and NA cells in the summary.
const NotApplicable = "N/A"

// Summarize re-reads a results file, drops the image list column, rewrites
// blank and NA cells as N/A and writes the result as CSV.
func Summarize(tsvPath, csvPath string) error {
	in, err := os.Open(tsvPath)
	if err != nil {
		return fmt.Errorf("open results: %w", err)
	}
	defer func() { _ = in.Close() }()

	r := csv.NewReader(in)
	r.Comma = '\t'
	r.Comment = '#'
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	records, err := r.ReadAll()
	if err != nil {
		return fmt.Errorf("read results: %w", err)
	}
	if len(records) == 0 {
		return fmt.Errorf("read results: %s has no column row", tsvPath)
	}

	drop := -1
	for i, name := range records[0] {
		if name == ColumnImages {
			drop = i
		}
	}

	out, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("create summary: %w", err)
	}

	w := csv.NewWriter(out)
	width := len(records[0])
	for n, rec := range records {
		row := make([]string, 0, width)
		for i := range width {
			if i == drop {
				continue
			}
			v := ""
			if i < len(rec) {
				v = rec[i]
			}
			if n > 0 && (v == "" || v == tags.NotAvailable) {
				v = NotApplicable
			}
			row = append(row, v)
		}
		if err := w.Write(row); err != nil {
			_ = out.Close()
			return fmt.Errorf("write summary: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = out.Close()
		return fmt.Errorf("write summary: %w", err)
	}
	return out.Close()
}
