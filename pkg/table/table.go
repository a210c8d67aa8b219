// Package table holds the numeric, name-keyed tables that flow from the
// loaders through aggregation to the map renderer.
package table

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/hazyhaar/areastat/pkg/area"
)

// Row is one area with its values, aligned with Table.Columns.
type Row struct {
	Key    string
	Values []float64
}

// Table is a set of areas keyed by name with ordered numeric columns.
// Lookups use area.MatchKey of the row key.
type Table struct {
	KeyColumn string
	Columns   []string
	Rows      []Row

	cols map[string]int
	keys map[string]int
}

// New creates an empty table.
func New(keyColumn string, columns ...string) *Table {
	t := &Table{KeyColumn: keyColumn, cols: make(map[string]int), keys: make(map[string]int)}
	for _, c := range columns {
		t.EnsureColumn(c)
	}
	return t
}

// Load reads a CSV or XLSX file into a numeric table.
func Load(path string, opts Options) (*Table, error) {
	rec, err := ReadRecords(path, opts)
	if err != nil {
		return nil, err
	}
	return FromRecords(rec, opts.KeyColumn, opts.Columns)
}

// LoadCSV reads a delimited text file into a numeric table.
func LoadCSV(path string, opts Options) (*Table, error) {
	if isXLSX(path) {
		return nil, fmt.Errorf("%s: not a CSV file", path)
	}
	return Load(path, opts)
}

// LoadXLSX reads one worksheet into a numeric table.
func LoadXLSX(path string, opts Options) (*Table, error) {
	rec, err := readXLSX(path, opts)
	if err != nil {
		return nil, err
	}
	return FromRecords(rec, opts.KeyColumn, opts.Columns)
}

// FromRecords converts raw records into a numeric table. Rows sharing a key
// are summed. Cells that do not parse count as zero.
func FromRecords(rec *Records, keyColumn string, columns []string) (*Table, error) {
	keyIdx := rec.Index(keyColumn)
	if keyIdx < 0 {
		return nil, fmt.Errorf("key column %q not found in header %v", keyColumn, rec.Header)
	}

	var idx []int
	if len(columns) > 0 {
		for _, c := range columns {
			j := rec.Index(c)
			if j < 0 {
				return nil, fmt.Errorf("column %q not found in header %v", c, rec.Header)
			}
			idx = append(idx, j)
		}
	} else {
		for j := range rec.Header {
			if j != keyIdx && numericColumn(rec, j) {
				idx = append(idx, j)
			}
		}
	}

	names := make([]string, len(idx))
	for i, j := range idx {
		names[i] = rec.Header[j]
	}
	t := New(rec.Header[keyIdx], names...)
	for _, row := range rec.Rows {
		if keyIdx >= len(row) {
			continue
		}
		key := strings.TrimSpace(row[keyIdx])
		if key == "" {
			continue
		}
		i := t.Upsert(key)
		for c, j := range idx {
			if j < len(row) {
				v, _ := ParseNumber(row[j])
				t.Rows[i].Values[c] += v
			}
		}
	}
	return t, nil
}

func numericColumn(rec *Records, j int) bool {
	seen := false
	for _, row := range rec.Rows {
		if j >= len(row) {
			continue
		}
		cell := strings.TrimSpace(row[j])
		if cell == "" {
			continue
		}
		if _, ok := ParseNumber(cell); !ok {
			return false
		}
		seen = true
	}
	return seen
}

// ParseNumber parses counts as published by ONS and CQC: thousands
// separators and surrounding spaces are accepted.
func ParseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, " ", "")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// EnsureColumn returns the index of col, appending it (zero-filled) if new.
func (t *Table) EnsureColumn(col string) int {
	if j, ok := t.cols[col]; ok {
		return j
	}
	t.Columns = append(t.Columns, col)
	j := len(t.Columns) - 1
	t.cols[col] = j
	for i := range t.Rows {
		t.Rows[i].Values = append(t.Rows[i].Values, 0)
	}
	return j
}

// AddColumn appends (or overwrites) col with fn evaluated on every row.
func (t *Table) AddColumn(col string, fn func(i int) float64) {
	j := t.EnsureColumn(col)
	for i := range t.Rows {
		t.Rows[i].Values[j] = fn(i)
	}
}

// HasColumn reports whether col exists.
func (t *Table) HasColumn(col string) bool {
	_, ok := t.cols[col]
	return ok
}

// ColumnIndex returns the index of col or -1.
func (t *Table) ColumnIndex(col string) int {
	if j, ok := t.cols[col]; ok {
		return j
	}
	return -1
}

// Upsert returns the row index for key, appending a zero row if absent.
func (t *Table) Upsert(key string) int {
	mk := area.MatchKey(key)
	if i, ok := t.keys[mk]; ok {
		return i
	}
	t.Rows = append(t.Rows, Row{Key: key, Values: make([]float64, len(t.Columns))})
	i := len(t.Rows) - 1
	t.keys[mk] = i
	return i
}

// Lookup returns the row index for key.
func (t *Table) Lookup(key string) (int, bool) {
	i, ok := t.keys[area.MatchKey(key)]
	return i, ok
}

// Value returns the value of col for key; ok is false when either is absent.
func (t *Table) Value(key, col string) (float64, bool) {
	i, ok := t.Lookup(key)
	if !ok {
		return 0, false
	}
	j, ok := t.cols[col]
	if !ok {
		return 0, false
	}
	return t.Rows[i].Values[j], true
}

// At returns the value of col in row i (zero for an unknown column).
func (t *Table) At(i int, col string) float64 {
	j, ok := t.cols[col]
	if !ok {
		return 0
	}
	return t.Rows[i].Values[j]
}

// Set stores v in row i, creating the column when needed.
func (t *Table) Set(i int, col string, v float64) {
	j := t.EnsureColumn(col)
	t.Rows[i].Values[j] = v
}

// Column returns a copy of col's values in row order.
func (t *Table) Column(col string) []float64 {
	j, ok := t.cols[col]
	if !ok {
		return nil
	}
	out := make([]float64, len(t.Rows))
	for i, r := range t.Rows {
		out[i] = r.Values[j]
	}
	return out
}

// Keys returns the row keys in row order.
func (t *Table) Keys() []string {
	out := make([]string, len(t.Rows))
	for i, r := range t.Rows {
		out[i] = r.Key
	}
	return out
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.Rows) }

// Clone returns a deep copy.
func (t *Table) Clone() *Table {
	c := New(t.KeyColumn, t.Columns...)
	for _, r := range t.Rows {
		i := c.Upsert(r.Key)
		copy(c.Rows[i].Values, r.Values)
	}
	return c
}

// RenameKeys rewrites every key through fn, summing rows that collide.
func (t *Table) RenameKeys(fn func(string) string) *Table {
	c := New(t.KeyColumn, t.Columns...)
	for _, r := range t.Rows {
		i := c.Upsert(fn(r.Key))
		for j, v := range r.Values {
			c.Rows[i].Values[j] += v
		}
	}
	return c
}

// SortByKey orders rows by key.
func (t *Table) SortByKey() {
	sort.SliceStable(t.Rows, func(i, j int) bool { return t.Rows[i].Key < t.Rows[j].Key })
	for i, r := range t.Rows {
		t.keys[area.MatchKey(r.Key)] = i
	}
}

// Ranked is one entry of a Top listing.
type Ranked struct {
	Key   string  `json:"name"`
	Value float64 `json:"value"`
}

// Top returns the n rows with the largest col values, ties broken by key.
// n <= 0 returns every row.
func (t *Table) Top(col string, n int) []Ranked {
	j, ok := t.cols[col]
	if !ok {
		return nil
	}
	out := make([]Ranked, len(t.Rows))
	for i, r := range t.Rows {
		out[i] = Ranked{Key: r.Key, Value: r.Values[j]}
	}
	sort.SliceStable(out, func(a, b int) bool {
		if out[a].Value != out[b].Value {
			return out[a].Value > out[b].Value
		}
		return out[a].Key < out[b].Key
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// WriteCSV writes the table with the key column first.
func (t *Table) WriteCSV(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	w := csv.NewWriter(f)
	header := append([]string{t.KeyColumn}, t.Columns...)
	if err := w.Write(header); err != nil {
		f.Close()
		return fmt.Errorf("write header: %w", err)
	}
	for _, r := range t.Rows {
		rec := make([]string, 0, len(r.Values)+1)
		rec = append(rec, r.Key)
		for _, v := range r.Values {
			rec = append(rec, strconv.FormatFloat(v, 'f', -1, 64))
		}
		if err := w.Write(rec); err != nil {
			f.Close()
			return fmt.Errorf("write row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("flush: %w", err)
	}
	return f.Close()
}
