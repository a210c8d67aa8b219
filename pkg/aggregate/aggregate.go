package aggregate

import (
	"fmt"
	"sort"

	"github.com/hazyhaar/areastat/pkg/area"
	"github.com/hazyhaar/areastat/pkg/table"
)

// Report describes which leaf rows took part in an aggregation.
type Report struct {
	Level     Level    `json:"level"`
	Leaves    int      `json:"leaves"`
	Matched   int      `json:"matched"`
	Groups    int      `json:"groups"`
	Unmatched []string `json:"unmatched,omitempty"`
}

// Aggregate groups leaf rows by their parent in h and sums sumColumns
// within each group (every leaf column when sumColumns is empty). Leaves
// without a parent are left out of every group and listed in the report.
// Output rows are sorted by parent name.
func Aggregate(leaf *table.Table, h *area.Hierarchy, sumColumns []string) (*table.Table, Report, error) {
	if len(sumColumns) == 0 {
		sumColumns = leaf.Columns
	}
	idx := make([]int, len(sumColumns))
	for i, c := range sumColumns {
		j := leaf.ColumnIndex(c)
		if j < 0 {
			return nil, Report{}, fmt.Errorf("aggregate by %s: %w: %q", h.Name, ErrUnknownMetric, c)
		}
		idx[i] = j
	}

	out := table.New(h.Name, sumColumns...)
	rep := Report{Leaves: leaf.Len()}
	for _, r := range leaf.Rows {
		parent, ok := h.Parent(r.Key)
		if !ok {
			rep.Unmatched = append(rep.Unmatched, r.Key)
			continue
		}
		rep.Matched++
		p := out.Upsert(parent)
		for c, j := range idx {
			out.Rows[p].Values[c] += r.Values[j]
		}
	}
	out.SortByKey()
	sort.Strings(rep.Unmatched)
	rep.Groups = out.Len()
	return out, rep, nil
}
