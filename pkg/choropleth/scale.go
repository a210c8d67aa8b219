package choropleth

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"gonum.org/v1/gonum/stat"
)

// Reds is the 6-class ColorBrewer "Reds" ramp.
var Reds = []string{"#fee5d9", "#fcbba1", "#fc9272", "#fb6a4a", "#de2d26", "#a50f15"}

// ScaleKind selects how values are split into colour classes.
type ScaleKind string

const (
	Linear   ScaleKind = "linear"
	Quantile ScaleKind = "quantile"
)

var ErrUnknownScale = errors.New("unknown scale")

// ParseScale parses a scale name; empty means linear.
func ParseScale(s string) (ScaleKind, error) {
	switch ScaleKind(strings.ToLower(strings.TrimSpace(s))) {
	case "", Linear:
		return Linear, nil
	case Quantile:
		return Quantile, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownScale, s)
}

// Scale maps values to colours. Breaks[k] is the lower bound of class k+1.
type Scale struct {
	Kind   ScaleKind `json:"kind"`
	Min    float64   `json:"min"`
	Max    float64   `json:"max"`
	Breaks []float64 `json:"breaks"`
	Colors []string  `json:"colors"`
}

// NewScale fits a scale of len(colors) classes to values.
func NewScale(kind ScaleKind, values []float64, colors []string) Scale {
	if len(colors) == 0 {
		colors = Reds
	}
	s := Scale{Kind: kind, Colors: colors}
	if len(values) == 0 {
		return s
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	s.Min, s.Max = sorted[0], sorted[len(sorted)-1]

	n := len(colors)
	for k := 1; k < n; k++ {
		var b float64
		switch kind {
		case Quantile:
			b = stat.Quantile(float64(k)/float64(n), stat.Empirical, sorted, nil)
		default:
			b = s.Min + (s.Max-s.Min)*float64(k)/float64(n)
		}
		s.Breaks = append(s.Breaks, b)
	}
	return s
}

// Class returns the colour class of v.
func (s Scale) Class(v float64) int {
	if s.Max == s.Min {
		return 0
	}
	k := sort.Search(len(s.Breaks), func(i int) bool { return s.Breaks[i] > v })
	// Quantile breaks can repeat; the top value still belongs to the last class.
	if v >= s.Max {
		k = len(s.Breaks)
	}
	return k
}

// Color returns the fill colour of v.
func (s Scale) Color(v float64) string {
	k := s.Class(v)
	if k >= len(s.Colors) {
		k = len(s.Colors) - 1
	}
	return s.Colors[k]
}

// LegendEntry is one class of the legend.
type LegendEntry struct {
	Color string  `json:"color"`
	From  float64 `json:"from"`
	To    float64 `json:"to"`
}

// Legend lists the classes with their value ranges.
func (s Scale) Legend() []LegendEntry {
	if len(s.Breaks) == 0 {
		return nil
	}
	out := make([]LegendEntry, 0, len(s.Colors))
	lo := s.Min
	for k, c := range s.Colors {
		hi := s.Max
		if k < len(s.Breaks) {
			hi = s.Breaks[k]
		}
		out = append(out, LegendEntry{Color: c, From: lo, To: hi})
		lo = hi
	}
	return out
}
