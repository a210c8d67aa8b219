package boundary

import (
	"fmt"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
)

// LoadShapefile reads polygon records and their DBF attributes. Coordinates
// are taken as WGS84 longitude/latitude; reproject OSGB files beforehand.
func LoadShapefile(path, keyProperty string) (*Collection, error) {
	r, err := shp.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open shapefile %s: %w", path, err)
	}
	defer r.Close()

	fields := r.Fields()
	c := &Collection{KeyProperty: keyProperty}
	for r.Next() {
		n, shape := r.Shape()
		props := make(map[string]any, len(fields))
		for i, f := range fields {
			props[f.String()] = attribute(r.ReadAttribute(n, i))
		}
		g, err := shapeGeometry(shape)
		if err != nil {
			return nil, fmt.Errorf("shapefile %s record %d: %w", path, n, err)
		}
		if g == nil {
			continue
		}
		c.add(g, props)
	}
	c.logUnnamed(path)
	return c, nil
}

// attribute strips the space and NUL padding of a fixed-width DBF value.
func attribute(v string) string {
	return strings.Trim(v, "\x00 \t\r\n")
}

func shapeGeometry(s shp.Shape) (orb.Geometry, error) {
	switch p := s.(type) {
	case *shp.Polygon:
		return polygonFromParts(p.Parts, p.Points), nil
	case *shp.PolygonZ:
		return polygonFromParts(p.Parts, p.Points), nil
	case *shp.PolygonM:
		return polygonFromParts(p.Parts, p.Points), nil
	case *shp.Null:
		return nil, nil
	}
	return nil, fmt.Errorf("unsupported shape type %T", s)
}

// polygonFromParts groups shapefile rings into a multipolygon: clockwise
// rings are exteriors, counter-clockwise ones are holes of the preceding
// exterior.
func polygonFromParts(parts []int32, points []shp.Point) orb.Geometry {
	var mp orb.MultiPolygon
	for i, start := range parts {
		end := len(points)
		if i+1 < len(parts) {
			end = int(parts[i+1])
		}
		ring := make(orb.Ring, 0, end-int(start))
		for _, pt := range points[start:end] {
			ring = append(ring, orb.Point{pt.X, pt.Y})
		}
		if len(ring) == 0 {
			continue
		}
		if ring.Orientation() == orb.CW || len(mp) == 0 {
			mp = append(mp, orb.Polygon{ring})
			continue
		}
		last := len(mp) - 1
		mp[last] = append(mp[last], ring)
	}
	if len(mp) == 1 {
		return mp[0]
	}
	return mp
}
