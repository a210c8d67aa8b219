package atlas

import (
	"fmt"

	"github.com/hazyhaar/areastat/pkg/aggregate"
	"github.com/hazyhaar/areastat/pkg/area"
	"github.com/hazyhaar/areastat/pkg/choropleth"
	"github.com/hazyhaar/areastat/pkg/table"
)

// Unmatched stages.
const (
	StageHierarchy = "hierarchy" // district missing from the level's lookup
	StageBoundary  = "boundary"  // boundary feature with no row, drawn as 0
)

// Unmatched is an area that fell out of a join, with likely intended names.
type Unmatched struct {
	Name        string            `json:"name"`
	Stage       string            `json:"stage"`
	Suggestions []area.Suggestion `json:"suggestions,omitempty"`
}

// View is one metric at one level: the table, its ranking and its map.
type View struct {
	Level     aggregate.Level  `json:"level"`
	Metric    string           `json:"metric"`
	Rows      []table.Ranked   `json:"rows"`
	Report    aggregate.Report `json:"report"`
	Unmatched []Unmatched      `json:"unmatched"`

	Table *table.Table    `json:"-"`
	Map   *choropleth.Map `json:"-"`
}

// Top returns the first n rows of the ranking.
func (v *View) Top(n int) []table.Ranked {
	if n <= 0 || n >= len(v.Rows) {
		return v.Rows
	}
	return v.Rows[:n]
}

const maxSuggestions = 3

// View aggregates metric to level and renders it. Results are cached until
// the next reload.
func (a *Atlas) View(level aggregate.Level, metric string) (*View, error) {
	st, err := a.current()
	if err != nil {
		return nil, err
	}
	if err := st.catalog.Check(metric); err != nil {
		return nil, err
	}
	if !st.hasLevel(level) {
		return nil, fmt.Errorf("%w: %q is not configured", aggregate.ErrUnknownLevel, level)
	}

	key := fmt.Sprintf("%d|%s|%s", st.gen, level, metric)
	if v, ok := a.views.Get(key); ok {
		return v.(*View), nil
	}

	v, err := st.view(level, metric)
	if err != nil {
		return nil, err
	}
	if n := len(v.Unmatched); n > 0 {
		a.logger.Warn("unmatched areas", "level", level, "metric", metric, "count", n)
	}
	a.views.SetDefault(key, v)
	return v, nil
}

func (st *state) hasLevel(l aggregate.Level) bool {
	for _, x := range st.levels {
		if x == l {
			return true
		}
	}
	return false
}

func (st *state) view(level aggregate.Level, metric string) (*View, error) {
	v := &View{Level: level, Metric: metric, Unmatched: []Unmatched{}}

	if level == aggregate.District {
		v.Table = st.district
		n := st.district.Len()
		v.Report = aggregate.Report{Leaves: n, Matched: n, Groups: n}
	} else {
		h := st.hierarchies[level]
		tbl, rep, err := st.catalog.Aggregate(st.leaf, h)
		if err != nil {
			return nil, err
		}
		v.Table, v.Report = tbl, rep
		children := h.Children()
		for _, name := range rep.Unmatched {
			v.Unmatched = append(v.Unmatched, Unmatched{
				Name:        name,
				Stage:       StageHierarchy,
				Suggestions: area.Suggest(name, children, maxSuggestions),
			})
		}
	}
	v.Report.Level = level
	v.Rows = v.Table.Top(metric, 0)

	if b, ok := st.boundaries[level]; ok {
		m, err := choropleth.Render(v.Table, metric, b, choropleth.Options{Scale: st.scale, Canon: st.canon})
		if err != nil {
			return nil, err
		}
		v.Map = m
		keys := v.Table.Keys()
		for _, name := range m.Unmatched {
			v.Unmatched = append(v.Unmatched, Unmatched{
				Name:        name,
				Stage:       StageBoundary,
				Suggestions: area.Suggest(name, keys, maxSuggestions),
			})
		}
	}
	return v, nil
}
