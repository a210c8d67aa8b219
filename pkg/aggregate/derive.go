package aggregate

import (
	"fmt"

	"github.com/hazyhaar/areastat/pkg/table"
)

// Derivation computes one column from other columns of the same row.
// Derivations run after aggregation so ratios come from summed counts.
type Derivation interface {
	Column() string
	Inputs() []string
	Eval(t *table.Table, i int) float64
}

// Rate is Numerator / Denominator * Scale; a zero denominator yields 0.
type Rate struct {
	Name        string
	Numerator   string
	Denominator string
	Scale       float64
}

func (r Rate) Column() string   { return r.Name }
func (r Rate) Inputs() []string { return []string{r.Numerator, r.Denominator} }

func (r Rate) Eval(t *table.Table, i int) float64 {
	d := t.At(i, r.Denominator)
	if d == 0 {
		return 0
	}
	return t.At(i, r.Numerator) / d * scale(r.Scale)
}

// Share is Part over the sum of Parts, times Scale (100 for percentages).
type Share struct {
	Name  string
	Part  string
	Parts []string
	Scale float64
}

func (s Share) Column() string { return s.Name }

func (s Share) Inputs() []string {
	return append([]string{s.Part}, s.Parts...)
}

func (s Share) Eval(t *table.Table, i int) float64 {
	var total float64
	for _, p := range s.Parts {
		total += t.At(i, p)
	}
	if total == 0 {
		return 0
	}
	return t.At(i, s.Part) / total * scale(s.Scale)
}

// Sum adds Columns together, e.g. age bands into an age group.
type Sum struct {
	Name    string
	Columns []string
}

func (s Sum) Column() string   { return s.Name }
func (s Sum) Inputs() []string { return s.Columns }

func (s Sum) Eval(t *table.Table, i int) float64 {
	var v float64
	for _, c := range s.Columns {
		v += t.At(i, c)
	}
	return v
}

func scale(s float64) float64 {
	if s == 0 {
		return 1
	}
	return s
}

// Derive evaluates ds in order on every row of t, adding or overwriting
// their columns. Later derivations may use the output of earlier ones.
func Derive(t *table.Table, ds ...Derivation) error {
	for _, d := range ds {
		for _, in := range d.Inputs() {
			if !t.HasColumn(in) {
				return fmt.Errorf("derive %s: %w: %q", d.Column(), ErrUnknownMetric, in)
			}
		}
		t.AddColumn(d.Column(), func(i int) float64 { return d.Eval(t, i) })
	}
	return nil
}
