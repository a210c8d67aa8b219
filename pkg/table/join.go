package table

import (
	"sort"

	"github.com/hazyhaar/areastat/pkg/area"
)

// JoinReport lists how the keys of a left join lined up.
type JoinReport struct {
	Matched   int      `json:"matched"`
	Unmatched []string `json:"unmatched,omitempty"` // left keys with no right row
	Unused    []string `json:"unused,omitempty"`    // right keys no left row asked for
}

// LeftJoin keeps every row of left and appends the columns of right, matched
// on area.MatchKey of the key. Left rows with no partner get zeros. Right
// columns that collide with a left column are prefixed with prefix.
func LeftJoin(left, right *Table, prefix string) (*Table, JoinReport) {
	out := left.Clone()
	names := make([]string, len(right.Columns))
	for j, c := range right.Columns {
		if out.HasColumn(c) {
			c = prefix + c
		}
		names[j] = c
		out.EnsureColumn(c)
	}

	var rep JoinReport
	used := make(map[string]bool, right.Len())
	for i, r := range out.Rows {
		k, ok := right.Lookup(r.Key)
		if !ok {
			rep.Unmatched = append(rep.Unmatched, r.Key)
			continue
		}
		rep.Matched++
		used[area.MatchKey(right.Rows[k].Key)] = true
		for j, c := range names {
			out.Set(i, c, right.Rows[k].Values[j])
		}
	}
	for _, r := range right.Rows {
		if !used[area.MatchKey(r.Key)] {
			rep.Unused = append(rep.Unused, r.Key)
		}
	}
	sort.Strings(rep.Unmatched)
	sort.Strings(rep.Unused)
	return out, rep
}
