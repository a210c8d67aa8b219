// Package aggregate rolls district-level tables up the administrative
// hierarchy and recomputes derived metrics from the summed base counts.
package aggregate

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownLevel  = errors.New("unknown level")
	ErrUnknownMetric = errors.New("unknown metric")
	ErrNoData        = errors.New("no data")
)

// Level is an aggregation level.
type Level string

const (
	Region   Level = "region"
	County   Level = "county"
	District Level = "district"
)

// Levels returns every level, coarsest first.
func Levels() []Level { return []Level{Region, County, District} }

// Label is the human name shown in selectors.
func (l Level) Label() string {
	switch l {
	case Region:
		return "Regions"
	case County:
		return "Counties"
	case District:
		return "Local Authority Districts"
	}
	return string(l)
}

// KeyColumn names the area column of tables at this level.
func (l Level) KeyColumn() string {
	switch l {
	case Region:
		return "Region"
	case County:
		return "County"
	}
	return "LAD"
}

// ParseLevel accepts the level names and the selector labels.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "region", "regions", "rgn":
		return Region, nil
	case "county", "counties", "cty", "utla":
		return County, nil
	case "district", "districts", "lad", "local authority districts":
		return District, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownLevel, s)
}
