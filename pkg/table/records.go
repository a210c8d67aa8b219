package table

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

// Options describes how a tabular file is laid out.
type Options struct {
	// SkipRows is the number of preamble lines before the header.
	SkipRows int
	// KeyColumn names the column holding the area name.
	KeyColumn string
	// Columns restricts numeric columns; empty keeps every column whose
	// non-empty cells all parse as numbers.
	Columns []string
	// Delimiter for CSV. Zero sniffs among ',', ';' and tab.
	Delimiter rune
	// Encoding of the CSV file, e.g. "windows-1252". Empty means UTF-8.
	Encoding string
	// Sheet selects the XLSX sheet; empty selects the first one.
	Sheet string
}

// Records is a raw string table: one header and the rows under it.
type Records struct {
	Header []string
	Rows   [][]string
	index  map[string]int
}

// NewRecords creates an empty record set with the given header.
func NewRecords(header []string) *Records {
	r := &Records{Header: header}
	r.reindex()
	return r
}

func (r *Records) reindex() {
	r.index = make(map[string]int, len(r.Header))
	for i, h := range r.Header {
		h = cleanHeader(h)
		r.Header[i] = h
		if _, dup := r.index[h]; !dup {
			r.index[h] = i
		}
	}
}

// Index returns the position of col (exact, then case-insensitive), or -1.
func (r *Records) Index(col string) int {
	if i, ok := r.index[col]; ok {
		return i
	}
	for i, h := range r.Header {
		if strings.EqualFold(h, col) {
			return i
		}
	}
	return -1
}

// Get returns the cell of row i in column col, or "" when absent.
func (r *Records) Get(i int, col string) string {
	j := r.Index(col)
	if j < 0 || j >= len(r.Rows[i]) {
		return ""
	}
	return r.Rows[i][j]
}

// AddColumn appends a column filled by fn.
func (r *Records) AddColumn(name string, fn func(row []string) string) {
	r.Header = append(r.Header, name)
	r.reindex()
	for i, row := range r.Rows {
		r.Rows[i] = append(row, fn(row))
	}
}

// Append adds a row.
func (r *Records) Append(row []string) {
	r.Rows = append(r.Rows, row)
}

// WriteCSV writes the records as a comma-separated file.
func (r *Records) WriteCSV(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(r.Header); err != nil {
		f.Close()
		return fmt.Errorf("write header: %w", err)
	}
	if err := w.WriteAll(r.Rows); err != nil {
		f.Close()
		return fmt.Errorf("write rows: %w", err)
	}
	return f.Close()
}

// ReadRecords loads a CSV or XLSX file into memory.
func ReadRecords(path string, opts Options) (*Records, error) {
	if isXLSX(path) {
		return readXLSX(path, opts)
	}
	var rec *Records
	err := Scan(path, opts, func(header []string) error {
		rec = NewRecords(header)
		return nil
	}, func(row []string) error {
		rec.Append(append([]string(nil), row...))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Scan streams a CSV file: onHeader receives the header once, onRow every
// data row. Row slices are reused between calls.
func Scan(path string, opts Options, onHeader func([]string) error, onRow func([]string) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var src io.Reader = f
	if enc := opts.Encoding; enc != "" && !isUTF8(enc) {
		e, err := htmlindex.Get(enc)
		if err != nil {
			return fmt.Errorf("unsupported encoding %q: %w", enc, err)
		}
		src = transform.NewReader(f, e.NewDecoder())
	}

	br := bufio.NewReaderSize(src, 64*1024)
	for i := 0; i < opts.SkipRows; i++ {
		if _, err := br.ReadString('\n'); err != nil {
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("%s: only %d preamble lines, want %d", filepath.Base(path), i, opts.SkipRows)
			}
			return fmt.Errorf("skip preamble: %w", err)
		}
	}

	delim := opts.Delimiter
	if delim == 0 {
		peek, _ := br.Peek(4096)
		delim = sniffDelimiter(peek)
	}

	r := csv.NewReader(br)
	r.Comma = delim
	r.LazyQuotes = true
	r.FieldsPerRecord = -1
	r.ReuseRecord = true

	header, err := r.Read()
	if err != nil {
		return fmt.Errorf("%s: read header: %w", filepath.Base(path), err)
	}
	header = append([]string(nil), header...)
	for i := range header {
		header[i] = cleanHeader(header[i])
	}
	if err := onHeader(header); err != nil {
		return err
	}

	for {
		record, err := r.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%s: read row: %w", filepath.Base(path), err)
		}
		if blank(record) {
			continue
		}
		if err := onRow(record); err != nil {
			return err
		}
	}
}

// sniffDelimiter picks the most frequent of ',', ';' and tab on the first line.
func sniffDelimiter(b []byte) rune {
	line := string(b)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	best, bestN := ',', strings.Count(line, ",")
	for _, d := range []rune{';', '\t'} {
		if n := strings.Count(line, string(d)); n > bestN {
			best, bestN = d, n
		}
	}
	return best
}

func cleanHeader(h string) string {
	return strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
}

func blank(record []string) bool {
	for _, c := range record {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func isUTF8(enc string) bool {
	e := strings.ToLower(strings.ReplaceAll(enc, "-", ""))
	return e == "utf8" || e == ""
}

func isXLSX(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".xlsx")
}
