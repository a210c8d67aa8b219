package area

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
)

// Hierarchy maps child area names (LADs) to their parent (Region or County).
// It is immutable once loaded.
type Hierarchy struct {
	Name    string
	parents map[string]string // child MatchKey -> parent name
	names   map[string]string // child MatchKey -> child name as loaded
	canon   *Canonicalizer
}

// NewHierarchy builds a hierarchy from child -> parent pairs.
func NewHierarchy(name string, pairs map[string]string, canon *Canonicalizer) *Hierarchy {
	h := &Hierarchy{Name: name, parents: make(map[string]string, len(pairs)), names: make(map[string]string, len(pairs)), canon: canon}
	for child, parent := range pairs {
		key := canon.Key(child)
		h.parents[key] = canon.Canonical(parent)
		h.names[key] = canon.Canonical(child)
	}
	return h
}

// LoadHierarchy reads a lookup CSV such as the ONS LAD-to-Region file and
// keeps the childCol -> parentCol pairs.
func LoadHierarchy(name, path, childCol, parentCol string, canon *Canonicalizer) (*Hierarchy, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open hierarchy %s: %w", path, err)
	}
	defer f.Close()

	h, err := readHierarchy(name, f, childCol, parentCol, canon)
	if err != nil {
		return nil, fmt.Errorf("hierarchy %s: %w", path, err)
	}
	return h, nil
}

func readHierarchy(name string, r io.Reader, childCol, parentCol string, canon *Canonicalizer) (*Hierarchy, error) {
	cr := csv.NewReader(r)
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	childIdx, parentIdx := -1, -1
	for i, col := range header {
		col = strings.TrimSpace(strings.TrimPrefix(col, "\ufeff"))
		switch {
		case strings.EqualFold(col, childCol):
			childIdx = i
		case strings.EqualFold(col, parentCol):
			parentIdx = i
		}
	}
	if childIdx < 0 || parentIdx < 0 {
		return nil, fmt.Errorf("columns %q/%q not found in header %v", childCol, parentCol, header)
	}

	h := &Hierarchy{Name: name, parents: make(map[string]string), names: make(map[string]string), canon: canon}
	var conflicts int
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		if childIdx >= len(record) || parentIdx >= len(record) {
			continue
		}
		child := strings.TrimSpace(record[childIdx])
		parent := canon.Canonical(record[parentIdx])
		if child == "" || parent == "" {
			continue
		}
		key := canon.Key(child)
		if prev, ok := h.parents[key]; ok && prev != parent {
			conflicts++
		}
		h.parents[key] = parent
		h.names[key] = canon.Canonical(child)
	}
	if conflicts > 0 {
		slog.Warn("hierarchy children with conflicting parents", "hierarchy", name, "conflicts", conflicts)
	}
	return h, nil
}

// Parent returns the canonical parent of child after canonicalization.
func (h *Hierarchy) Parent(child string) (string, bool) {
	p, ok := h.parents[h.canon.Key(child)]
	return p, ok
}

// Len returns the number of children in the mapping.
func (h *Hierarchy) Len() int { return len(h.parents) }

// Children returns the canonical child names, sorted.
func (h *Hierarchy) Children() []string {
	out := make([]string, 0, len(h.names))
	for _, n := range h.names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Parents returns the distinct parent names, sorted.
func (h *Hierarchy) Parents() []string {
	seen := make(map[string]struct{})
	for _, p := range h.parents {
		seen[p] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
