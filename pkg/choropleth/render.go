// Package choropleth turns a name-keyed table and a boundary collection into
// a coloured map, its GeoJSON, an HTML page and a bar chart.
package choropleth

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/hazyhaar/areastat/pkg/area"
	"github.com/hazyhaar/areastat/pkg/boundary"
	"github.com/hazyhaar/areastat/pkg/table"
)

// Options tune a render.
type Options struct {
	Scale  ScaleKind
	Colors []string
	// Canon canonicalizes feature names before lookup; nil keeps them as is.
	Canon *area.Canonicalizer
}

// Area is one drawn feature.
type Area struct {
	Name     string       `json:"name"`
	Value    float64      `json:"value"`
	Matched  bool         `json:"matched"`
	Fill     string       `json:"fill"`
	Tooltip  string       `json:"tooltip"`
	Geometry orb.Geometry `json:"-"`
}

// Map is a rendered choropleth of one metric.
type Map struct {
	Metric string `json:"metric"`
	Areas  []Area `json:"areas"`
	Scale  Scale  `json:"scale"`
	// Unmatched lists boundary features that had no row and were drawn as 0.
	Unmatched []string `json:"unmatched,omitempty"`
}

// Render draws every feature of b. Features without a row in t get value 0
// and Matched=false.
func Render(t *table.Table, metric string, b *boundary.Collection, opts Options) (*Map, error) {
	if !t.HasColumn(metric) {
		return nil, fmt.Errorf("render: metric %q not in table", metric)
	}
	if opts.Scale == "" {
		opts.Scale = Linear
	}

	m := &Map{Metric: metric, Areas: make([]Area, 0, len(b.Features))}
	var values []float64
	for _, f := range b.Features {
		a := Area{Name: f.Name, Geometry: f.Geometry}
		if f.Name != "" {
			a.Value, a.Matched = t.Value(opts.Canon.Canonical(f.Name), metric)
		}
		if a.Matched {
			values = append(values, a.Value)
		} else {
			m.Unmatched = append(m.Unmatched, f.Name)
		}
		a.Tooltip = fmt.Sprintf("%s: %.2f", a.Name, a.Value)
		m.Areas = append(m.Areas, a)
	}
	if len(values) == 0 {
		values = []float64{0}
	}
	m.Scale = NewScale(opts.Scale, values, opts.Colors)
	for i := range m.Areas {
		m.Areas[i].Fill = m.Scale.Color(m.Areas[i].Value)
	}
	sort.Strings(m.Unmatched)
	return m, nil
}

// FeatureCollection builds the GeoJSON of the map.
func (m *Map) FeatureCollection() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, a := range m.Areas {
		f := geojson.NewFeature(a.Geometry)
		f.Properties["name"] = a.Name
		f.Properties["value"] = a.Value
		f.Properties["matched"] = a.Matched
		f.Properties["fill"] = a.Fill
		f.Properties["tooltip"] = a.Tooltip
		fc.Append(f)
	}
	return fc
}

// GeoJSON marshals the map as a FeatureCollection.
func (m *Map) GeoJSON() ([]byte, error) {
	data, err := json.Marshal(m.FeatureCollection())
	if err != nil {
		return nil, fmt.Errorf("marshal geojson: %w", err)
	}
	return data, nil
}
