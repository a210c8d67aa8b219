package aggregate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hazyhaar/areastat/pkg/area"
	"github.com/hazyhaar/areastat/pkg/table"
)

// AgeGroup is a population group made of census age bands.
type AgeGroup struct {
	Name    string   `yaml:"name" json:"name"`
	Columns []string `yaml:"columns" json:"columns"`
}

// DefaultAgeGroups are the 70+ groups built from the ONS five-year bands.
var DefaultAgeGroups = []AgeGroup{
	{Name: "70plus", Columns: []string{"Aged 70 to 74 years", "Aged 75 to 79 years", "Aged 80 to 84 years", "Aged 85 years and over"}},
	{Name: "75plus", Columns: []string{"Aged 75 to 79 years", "Aged 80 to 84 years", "Aged 85 years and over"}},
	{Name: "80plus", Columns: []string{"Aged 80 to 84 years", "Aged 85 years and over"}},
	{Name: "85plus", Columns: []string{"Aged 85 years and over"}},
}

// DefaultAgencyColumns lists the agency count column across data vintages.
var DefaultAgencyColumns = []string{"Total_Agencies", "Agency_Count"}

// DefaultRatings are the CQC overall ratings.
var DefaultRatings = []string{"Outstanding", "Good", "Requires improvement", "Inadequate", "Not rated"}

// PerPopulation is the denominator scale of agency rates.
const PerPopulation = 10000

// Config selects the columns a Catalog is built from.
type Config struct {
	AgencyColumns []string
	AgeGroups     []AgeGroup
	Ratings       []string
}

// Catalog knows which columns of a leaf table are summable base counts and
// which metrics are derived from them.
type Catalog struct {
	AgencyColumn string
	AgeGroups    []AgeGroup
	Ratings      []string
	// MissingRatings are configured ratings with no column in the leaf
	// table. They are left out of every rating share denominator.
	MissingRatings []string

	base        []string
	derivations []Derivation
	metrics     map[string]bool
}

// NewCatalog inspects leaf and builds the metric catalog. The agency column
// is the first of cfg.AgencyColumns present; age group bands must all be
// present. Ratings are matched case-insensitively and keep the leaf's
// spelling; those absent from leaf are listed in MissingRatings.
func NewCatalog(leaf *table.Table, cfg Config) (*Catalog, error) {
	if len(cfg.AgencyColumns) == 0 {
		cfg.AgencyColumns = DefaultAgencyColumns
	}
	if cfg.AgeGroups == nil {
		cfg.AgeGroups = DefaultAgeGroups
	}
	if cfg.Ratings == nil {
		cfg.Ratings = DefaultRatings
	}

	c := &Catalog{metrics: make(map[string]bool)}
	for _, col := range cfg.AgencyColumns {
		if leaf.HasColumn(col) {
			c.AgencyColumn = col
			break
		}
	}
	if c.AgencyColumn == "" {
		return nil, fmt.Errorf("%w: none of the agency columns %v in leaf table", ErrUnknownMetric, cfg.AgencyColumns)
	}

	for _, g := range cfg.AgeGroups {
		for _, col := range g.Columns {
			if !leaf.HasColumn(col) {
				return nil, fmt.Errorf("age group %s: %w: %q", g.Name, ErrUnknownMetric, col)
			}
		}
		c.AgeGroups = append(c.AgeGroups, g)
	}
	for _, r := range cfg.Ratings {
		if col, ok := findColumn(leaf, r); ok {
			c.Ratings = append(c.Ratings, col)
		} else {
			c.MissingRatings = append(c.MissingRatings, r)
		}
	}

	for _, g := range c.AgeGroups {
		pop := "Population_" + g.Name
		c.derivations = append(c.derivations,
			Sum{Name: pop, Columns: g.Columns},
			Rate{Name: "agencies_per_10k_" + g.Name, Numerator: c.AgencyColumn, Denominator: pop, Scale: PerPopulation},
		)
	}
	for _, r := range c.Ratings {
		c.derivations = append(c.derivations, Share{Name: r + "_pct", Part: r, Parts: c.Ratings, Scale: 100})
	}

	derived := make(map[string]bool, len(c.derivations))
	for _, d := range c.derivations {
		derived[d.Column()] = true
	}
	for _, col := range leaf.Columns {
		// Percentages shipped in the input are ratios, never summed.
		if derived[col] || strings.HasSuffix(col, "_pct") {
			continue
		}
		c.base = append(c.base, col)
		c.metrics[col] = true
	}
	for col := range derived {
		c.metrics[col] = true
	}
	return c, nil
}

// findColumn returns the column of t named name, ignoring case when there
// is no exact match.
func findColumn(t *table.Table, name string) (string, bool) {
	if t.HasColumn(name) {
		return name, true
	}
	for _, col := range t.Columns {
		if strings.EqualFold(strings.TrimSpace(col), strings.TrimSpace(name)) {
			return col, true
		}
	}
	return "", false
}

// Base returns the summable columns.
func (c *Catalog) Base() []string { return append([]string(nil), c.base...) }

// Derivations returns the derived metrics in evaluation order.
func (c *Catalog) Derivations() []Derivation { return append([]Derivation(nil), c.derivations...) }

// Metrics lists every selectable metric, sorted.
func (c *Catalog) Metrics() []string {
	out := make([]string, 0, len(c.metrics))
	for m := range c.metrics {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// Check returns ErrUnknownMetric when m is not in the catalog.
func (c *Catalog) Check(m string) error {
	if !c.metrics[m] {
		return fmt.Errorf("%w: %q", ErrUnknownMetric, m)
	}
	return nil
}

// Prepare returns the district-level table: base columns of leaf with the
// derivations applied row by row.
func (c *Catalog) Prepare(leaf *table.Table) (*table.Table, error) {
	out := table.New(leaf.KeyColumn, c.base...)
	for _, r := range leaf.Rows {
		i := out.Upsert(r.Key)
		for _, col := range c.base {
			v, _ := leaf.Value(r.Key, col)
			out.Set(i, col, v)
		}
	}
	out.SortByKey()
	if err := Derive(out, c.derivations...); err != nil {
		return nil, err
	}
	return out, nil
}

// Aggregate sums the base columns of leaf per parent in h, then derives.
func (c *Catalog) Aggregate(leaf *table.Table, h *area.Hierarchy) (*table.Table, Report, error) {
	out, rep, err := Aggregate(leaf, h, c.base)
	if err != nil {
		return nil, rep, err
	}
	if err := Derive(out, c.derivations...); err != nil {
		return nil, rep, err
	}
	return out, rep, nil
}
