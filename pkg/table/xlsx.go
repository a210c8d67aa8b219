package table

import (
	"fmt"
	"path/filepath"

	"github.com/xuri/excelize/v2"
)

// readXLSX loads one sheet of a workbook. ONS releases often ship population
// estimates as XLSX with a few title rows above the header.
func readXLSX(path string, opts Options) (*Records, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open xlsx %s: %w", path, err)
	}
	defer f.Close()

	sheet := opts.Sheet
	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q of %s: %w", sheet, filepath.Base(path), err)
	}
	if len(rows) <= opts.SkipRows {
		return nil, fmt.Errorf("%s: sheet %q has no header after %d preamble rows", filepath.Base(path), sheet, opts.SkipRows)
	}
	rows = rows[opts.SkipRows:]

	rec := NewRecords(append([]string(nil), rows[0]...))
	for _, row := range rows[1:] {
		if blank(row) {
			continue
		}
		// GetRows trims trailing empty cells.
		if len(row) < len(rec.Header) {
			padded := make([]string, len(rec.Header))
			copy(padded, row)
			row = padded
		}
		rec.Append(row)
	}
	return rec, nil
}
