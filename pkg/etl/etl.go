// Package etl derives the district-level input tables from raw extracts:
// the CQC registry joined to the postcode directory, and LSOA population
// estimates rolled up to districts.
package etl

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Recorder keeps track of derived files.
type Recorder interface {
	RecordOutput(pipeline, path string, rows int) error
}

// Output is one written file.
type Output struct {
	Path string `json:"path"`
	Rows int    `json:"rows"`
}

// outputDir defaults to the "data" folder next to the input's folder.
func outputDir(input, dir string) (string, error) {
	if dir == "" {
		dir = filepath.Join(filepath.Dir(filepath.Dir(input)), "data")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	return dir, nil
}

// derivedPath is <dir>/<stem><suffix><ext>.
func derivedPath(dir, input, suffix string) string {
	base := filepath.Base(input)
	ext := filepath.Ext(base)
	if ext == "" || strings.EqualFold(ext, ".xlsx") {
		ext = ".csv"
	}
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(dir, stem+suffix+ext)
}

func record(rec Recorder, pipeline string, outs []Output) error {
	if rec == nil {
		return nil
	}
	for _, o := range outs {
		if err := rec.RecordOutput(pipeline, o.Path, o.Rows); err != nil {
			return fmt.Errorf("record %s: %w", o.Path, err)
		}
	}
	return nil
}
