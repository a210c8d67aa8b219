package atlas

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/areastat/pkg/aggregate"
	"github.com/hazyhaar/areastat/pkg/importer"
)

// Manifest describes the datasets behind the map: the leaf tables, the
// hierarchy lookups and boundary files per level, and the remote sources
// they are fetched from.
type Manifest struct {
	Title         string                `yaml:"title" json:"title"`
	Population    TableSpec             `yaml:"population" json:"population"`
	Agencies      TableSpec             `yaml:"agencies" json:"agencies"`
	AgencyColumns []string              `yaml:"agency_columns" json:"agency_columns,omitempty"`
	AgeGroups     []aggregate.AgeGroup  `yaml:"age_groups" json:"age_groups,omitempty"`
	Ratings       []string              `yaml:"ratings" json:"ratings,omitempty"`
	Substitutions map[string]string     `yaml:"substitutions" json:"substitutions,omitempty"`
	Levels        map[string]LevelSpec  `yaml:"levels" json:"levels"`
	Scale         string                `yaml:"scale" json:"scale"`
	Map           MapSpec               `yaml:"map" json:"map"`
	Sources       []importer.SourceSpec `yaml:"sources" json:"sources,omitempty"`

	dir string
}

// TableSpec locates a tabular input.
type TableSpec struct {
	File      string   `yaml:"file" json:"file"`
	KeyColumn string   `yaml:"key_column" json:"key_column"`
	SkipRows  int      `yaml:"skip_rows" json:"skip_rows,omitempty"`
	Encoding  string   `yaml:"encoding" json:"encoding,omitempty"`
	Sheet     string   `yaml:"sheet" json:"sheet,omitempty"`
	Columns   []string `yaml:"columns" json:"columns,omitempty"`
}

// HierarchySpec locates a child -> parent lookup.
type HierarchySpec struct {
	File   string `yaml:"file" json:"file"`
	Child  string `yaml:"child" json:"child"`
	Parent string `yaml:"parent" json:"parent"`
}

// BoundarySpec locates a boundary file and its name property.
type BoundarySpec struct {
	File        string `yaml:"file" json:"file"`
	KeyProperty string `yaml:"key_property" json:"key_property"`
}

// LevelSpec configures one aggregation level. The district level has no
// hierarchy.
type LevelSpec struct {
	Hierarchy *HierarchySpec `yaml:"hierarchy" json:"hierarchy,omitempty"`
	Boundary  *BoundarySpec  `yaml:"boundary" json:"boundary,omitempty"`
}

// MapSpec holds map defaults.
type MapSpec struct {
	Center [2]float64 `yaml:"center" json:"center"`
	Zoom   int        `yaml:"zoom" json:"zoom"`
	Top    int        `yaml:"top" json:"top"`
	// ZoomLevel names the level whose boundaries feed the zoom selector.
	ZoomLevel string `yaml:"zoom_level" json:"zoom_level"`
}

// LoadManifest reads and validates a manifest. Relative paths are resolved
// against dataDir, or the manifest's directory when dataDir is empty.
func LoadManifest(path, dataDir string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	if dataDir == "" {
		dataDir = filepath.Dir(path)
	}
	m.dir = dataDir
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	m.defaults()
	return &m, nil
}

func (m *Manifest) validate() error {
	if m.Population.File == "" || m.Population.KeyColumn == "" {
		return fmt.Errorf("population: file and key_column are required")
	}
	if m.Agencies.File == "" || m.Agencies.KeyColumn == "" {
		return fmt.Errorf("agencies: file and key_column are required")
	}
	if len(m.Levels) == 0 {
		return fmt.Errorf("no levels")
	}
	for name, spec := range m.Levels {
		lvl, err := aggregate.ParseLevel(name)
		if err != nil {
			return err
		}
		if lvl != aggregate.District && spec.Hierarchy == nil {
			return fmt.Errorf("level %s: hierarchy is required", name)
		}
		if h := spec.Hierarchy; h != nil && (h.File == "" || h.Child == "" || h.Parent == "") {
			return fmt.Errorf("level %s: hierarchy needs file, child and parent", name)
		}
		if b := spec.Boundary; b != nil && (b.File == "" || b.KeyProperty == "") {
			return fmt.Errorf("level %s: boundary needs file and key_property", name)
		}
	}
	return nil
}

func (m *Manifest) defaults() {
	if m.Title == "" {
		m.Title = "Home care agencies"
	}
	if m.Map.Center == ([2]float64{}) {
		m.Map.Center = [2]float64{54.5, -3}
	}
	if m.Map.Zoom == 0 {
		m.Map.Zoom = 5
	}
	if m.Map.Top == 0 {
		m.Map.Top = 5
	}
	if m.Map.ZoomLevel == "" {
		m.Map.ZoomLevel = string(aggregate.Region)
	}
}

// Path resolves a manifest-relative path.
func (m *Manifest) Path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.dir, p)
}

// Dir is the directory relative paths are resolved against.
func (m *Manifest) Dir() string { return m.dir }

// Level returns the configuration of lvl.
func (m *Manifest) Level(lvl aggregate.Level) (LevelSpec, bool) {
	for name, spec := range m.Levels {
		if l, _ := aggregate.ParseLevel(name); l == lvl {
			return spec, true
		}
	}
	return LevelSpec{}, false
}
