// Package boundary loads administrative boundary features from GeoJSON and
// Shapefile sources and indexes them by area name.
package boundary

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/golang/geo/s2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/hazyhaar/areastat/pkg/area"
)

// DefaultCenter and DefaultZoom frame Great Britain.
var DefaultCenter = [2]float64{54.5, -3}

const DefaultZoom = 5

// Feature is one boundary polygon with its resolved name.
type Feature struct {
	Name       string
	Geometry   orb.Geometry
	Properties map[string]any
}

// Collection is the set of features of one boundary file.
type Collection struct {
	KeyProperty string
	Features    []Feature
	// Unnamed counts features whose key property was missing or empty.
	Unnamed int

	byKey map[string]int
}

// Load reads a boundary file, dispatching on its extension.
func Load(path, keyProperty string) (*Collection, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".geojson", ".json":
		return LoadGeoJSON(path, keyProperty)
	case ".shp":
		return LoadShapefile(path, keyProperty)
	}
	return nil, fmt.Errorf("boundary %s: unsupported format", filepath.Base(path))
}

// LoadGeoJSON reads a FeatureCollection.
func LoadGeoJSON(path, keyProperty string) (*Collection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read boundary %s: %w", path, err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("parse boundary %s: %w", path, err)
	}
	c := &Collection{KeyProperty: keyProperty}
	for _, f := range fc.Features {
		if f.Geometry == nil {
			continue
		}
		c.add(f.Geometry, f.Properties)
	}
	c.logUnnamed(path)
	return c, nil
}

func (c *Collection) add(g orb.Geometry, props map[string]any) {
	name := strings.TrimSpace(lookupProperty(props, c.KeyProperty))
	if name == "" {
		c.Unnamed++
	}
	c.Features = append(c.Features, Feature{Name: name, Geometry: g, Properties: props})
	if name == "" {
		return
	}
	if c.byKey == nil {
		c.byKey = make(map[string]int)
	}
	c.byKey[area.MatchKey(name)] = len(c.Features) - 1
}

func (c *Collection) logUnnamed(path string) {
	if c.Unnamed > 0 {
		slog.Warn("boundary features without key property",
			"file", filepath.Base(path), "property", c.KeyProperty, "count", c.Unnamed)
	}
}

// lookupProperty finds key exactly, then case-insensitively, since boundary
// vintages disagree on case (eer17nm, EER17NM).
func lookupProperty(props map[string]any, key string) string {
	if v, ok := props[key]; ok {
		return propertyString(v)
	}
	for k, v := range props {
		if strings.EqualFold(k, key) {
			return propertyString(v)
		}
	}
	return ""
}

func propertyString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}

// Names returns the named features, sorted.
func (c *Collection) Names() []string {
	out := make([]string, 0, len(c.Features))
	for _, f := range c.Features {
		if f.Name != "" {
			out = append(out, f.Name)
		}
	}
	sort.Strings(out)
	return out
}

// Find returns the feature called name (case and accent insensitive).
func (c *Collection) Find(name string) (Feature, bool) {
	i, ok := c.byKey[area.MatchKey(name)]
	if !ok {
		return Feature{}, false
	}
	return c.Features[i], true
}

// Viewport returns the map centre (lat, lng) and zoom framing the named
// feature. Unknown names frame the whole country.
func (c *Collection) Viewport(name string) ([2]float64, int) {
	f, ok := c.Find(name)
	if !ok || f.Geometry == nil {
		return DefaultCenter, DefaultZoom
	}
	rect := latLngRect(f.Geometry)
	if rect.IsEmpty() {
		return DefaultCenter, DefaultZoom
	}
	ctr := rect.Center()
	return [2]float64{ctr.Lat.Degrees(), ctr.Lng.Degrees()}, zoomFor(rect)
}

// latLngRect is the s2 bounding rectangle of the geometry's vertices.
func latLngRect(g orb.Geometry) s2.Rect {
	rect := s2.EmptyRect()
	b := g.Bound()
	if b.IsEmpty() {
		return rect
	}
	for _, p := range []orb.Point{b.Min, b.Max} {
		rect = rect.AddPoint(s2.LatLngFromDegrees(p.Lat(), p.Lon()))
	}
	return rect
}

// zoomFor picks the web-map zoom at which the rectangle's larger side spans
// roughly one 256px tile.
func zoomFor(rect s2.Rect) int {
	size := rect.Size()
	span := max(size.Lat.Degrees(), size.Lng.Degrees())
	if span <= 0 {
		return 12
	}
	z := DefaultZoom
	for z < 12 && span < 360/float64(uint(1)<<uint(z+1))*1.4 {
		z++
	}
	return z
}
