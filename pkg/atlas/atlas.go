// Package atlas holds the loaded datasets behind the map and serves
// aggregated views of them. State is loaded fresh from the manifest and
// swapped atomically on reload.
package atlas

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/hazyhaar/areastat/pkg/aggregate"
	"github.com/hazyhaar/areastat/pkg/area"
	"github.com/hazyhaar/areastat/pkg/boundary"
	"github.com/hazyhaar/areastat/pkg/choropleth"
	"github.com/hazyhaar/areastat/pkg/table"
)

// Atlas serves views over the datasets named in a manifest.
type Atlas struct {
	manifestPath string
	dataDir      string
	logger       *slog.Logger
	views        *cache.Cache

	mu    sync.RWMutex
	state *state
	err   error
	gen   int
}

type state struct {
	gen         int
	loadedAt    time.Time
	manifest    *Manifest
	canon       *area.Canonicalizer
	leaf        *table.Table
	join        table.JoinReport
	catalog     *aggregate.Catalog
	district    *table.Table
	levels      []aggregate.Level
	hierarchies map[aggregate.Level]*area.Hierarchy
	boundaries  map[aggregate.Level]*boundary.Collection
	scale       choropleth.ScaleKind
}

// New creates an atlas; call Load before serving. Views are cached for ttl
// (forever when ttl <= 0) and dropped on reload.
func New(manifestPath, dataDir string, ttl time.Duration, logger *slog.Logger) *Atlas {
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	cleanup := 2 * ttl
	if ttl == cache.NoExpiration {
		cleanup = 0
	}
	return &Atlas{
		manifestPath: manifestPath,
		dataDir:      dataDir,
		logger:       logger,
		views:        cache.New(ttl, cleanup),
	}
}

// Load reads every dataset named by the manifest. On failure the previous
// state, if any, keeps serving and the error is reported by Err.
func (a *Atlas) Load() error {
	st, err := a.load()

	a.mu.Lock()
	defer a.mu.Unlock()
	a.err = err
	if err != nil {
		a.logger.Error("atlas load failed", "manifest", a.manifestPath, "error", err)
		return err
	}
	a.gen++
	st.gen = a.gen
	a.state = st
	a.logger.Info("atlas loaded",
		"districts", st.leaf.Len(),
		"metrics", len(st.catalog.Metrics()),
		"levels", len(st.levels),
		"agency_column", st.catalog.AgencyColumn,
	)
	return nil
}

// Reload reloads all datasets from disk and drops cached views.
func (a *Atlas) Reload() error {
	err := a.Load()
	if err == nil {
		a.views.Flush()
	}
	return err
}

func (a *Atlas) load() (*state, error) {
	m, err := LoadManifest(a.manifestPath, a.dataDir)
	if err != nil {
		return nil, err
	}
	canon, err := area.NewCanonicalizer(m.Substitutions)
	if err != nil {
		return nil, fmt.Errorf("substitutions: %w", err)
	}
	st := &state{
		loadedAt:    time.Now(),
		manifest:    m,
		canon:       canon,
		hierarchies: make(map[aggregate.Level]*area.Hierarchy),
		boundaries:  make(map[aggregate.Level]*boundary.Collection),
	}
	if st.scale, err = choropleth.ParseScale(m.Scale); err != nil {
		return nil, err
	}

	pop, err := loadTable(m, m.Population)
	if err != nil {
		return nil, fmt.Errorf("population: %w", err)
	}
	agencies, err := loadTable(m, m.Agencies)
	if err != nil {
		return nil, fmt.Errorf("agencies: %w", err)
	}
	pop = pop.RenameKeys(canon.Canonical)
	agencies = agencies.RenameKeys(canon.Canonical)
	st.leaf, st.join = table.LeftJoin(pop, agencies, "agencies_")
	if len(st.join.Unmatched) > 0 || len(st.join.Unused) > 0 {
		a.logger.Warn("districts without agency counts",
			"unmatched", len(st.join.Unmatched), "unused_agency_rows", len(st.join.Unused))
	}

	st.catalog, err = aggregate.NewCatalog(st.leaf, aggregate.Config{
		AgencyColumns: m.AgencyColumns,
		AgeGroups:     m.AgeGroups,
		Ratings:       m.Ratings,
	})
	if err != nil {
		return nil, err
	}
	if len(st.catalog.MissingRatings) > 0 {
		a.logger.Warn("ratings not in agency data, left out of rating shares",
			"ratings", st.catalog.MissingRatings, "present", st.catalog.Ratings)
	}
	if st.district, err = st.catalog.Prepare(st.leaf); err != nil {
		return nil, err
	}

	for _, lvl := range aggregate.Levels() {
		spec, ok := m.Level(lvl)
		if !ok {
			continue
		}
		st.levels = append(st.levels, lvl)
		if h := spec.Hierarchy; h != nil && lvl != aggregate.District {
			hier, err := area.LoadHierarchy(lvl.KeyColumn(), m.Path(h.File), h.Child, h.Parent, canon)
			if err != nil {
				return nil, err
			}
			st.hierarchies[lvl] = hier
		}
		if b := spec.Boundary; b != nil {
			col, err := boundary.Load(m.Path(b.File), b.KeyProperty)
			if err != nil {
				return nil, err
			}
			st.boundaries[lvl] = col
		}
	}
	return st, nil
}

func loadTable(m *Manifest, spec TableSpec) (*table.Table, error) {
	return table.Load(m.Path(spec.File), table.Options{
		SkipRows:  spec.SkipRows,
		KeyColumn: spec.KeyColumn,
		Columns:   spec.Columns,
		Encoding:  spec.Encoding,
		Sheet:     spec.Sheet,
	})
}

func (a *Atlas) current() (*state, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.state == nil {
		if a.err != nil {
			return nil, fmt.Errorf("%w: %w", aggregate.ErrNoData, a.err)
		}
		return nil, aggregate.ErrNoData
	}
	return a.state, nil
}

// Err returns the error of the last load, nil when it succeeded.
func (a *Atlas) Err() error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.err
}

// Title is the manifest title, or a default before the first load.
func (a *Atlas) Title() string {
	st, err := a.current()
	if err != nil {
		return "Home care agencies"
	}
	return st.manifest.Title
}

// Metrics lists the selectable metrics.
func (a *Atlas) Metrics() ([]string, error) {
	st, err := a.current()
	if err != nil {
		return nil, err
	}
	return st.catalog.Metrics(), nil
}

// Levels lists the configured levels, coarsest first.
func (a *Atlas) Levels() []aggregate.Level {
	st, err := a.current()
	if err != nil {
		return nil
	}
	return append([]aggregate.Level(nil), st.levels...)
}

// Zones lists the names offered by the zoom selector.
func (a *Atlas) Zones() []string {
	st, err := a.current()
	if err != nil {
		return nil
	}
	if col := st.zoomBoundaries(); col != nil {
		return col.Names()
	}
	return nil
}

// Viewport returns the map centre and zoom for zone; an empty or unknown
// zone gives the manifest defaults.
func (a *Atlas) Viewport(zone string) ([2]float64, int) {
	st, err := a.current()
	if err != nil {
		return boundary.DefaultCenter, boundary.DefaultZoom
	}
	if col := st.zoomBoundaries(); zone != "" && col != nil {
		if _, ok := col.Find(zone); ok {
			return col.Viewport(zone)
		}
	}
	return st.manifest.Map.Center, st.manifest.Map.Zoom
}

func (st *state) zoomBoundaries() *boundary.Collection {
	lvl, err := aggregate.ParseLevel(st.manifest.Map.ZoomLevel)
	if err != nil {
		return nil
	}
	return st.boundaries[lvl]
}

// Top is the default length of ranked listings.
func (a *Atlas) Top() int {
	st, err := a.current()
	if err != nil {
		return 5
	}
	return st.manifest.Map.Top
}

// Status summarises the loaded state.
type Status struct {
	LoadedAt     time.Time        `json:"loaded_at"`
	Districts    int              `json:"districts"`
	Metrics      int              `json:"metrics"`
	Levels       []string         `json:"levels"`
	AgencyColumn string           `json:"agency_column,omitempty"`
	Join         table.JoinReport `json:"join"`
	Error        string           `json:"error,omitempty"`
}

// Status reports what is loaded and the last load error.
func (a *Atlas) Status() Status {
	var s Status
	if err := a.Err(); err != nil {
		s.Error = err.Error()
	}
	st, err := a.current()
	if err != nil {
		if s.Error == "" {
			s.Error = err.Error()
		}
		return s
	}
	s.LoadedAt = st.loadedAt
	s.Districts = st.leaf.Len()
	s.Metrics = len(st.catalog.Metrics())
	s.AgencyColumn = st.catalog.AgencyColumn
	s.Join = st.join
	for _, l := range st.levels {
		s.Levels = append(s.Levels, string(l))
	}
	return s
}

// IsNoData reports whether err means nothing has been loaded.
func IsNoData(err error) bool { return errors.Is(err, aggregate.ErrNoData) }
