package importer

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Adapter fetches one remote source (a boundary file, a lookup table, a
// registry extract) into the data directory.
type Adapter interface {
	// ID returns the unique identifier of this source (e.g. "ons-lad-boundaries").
	ID() string
	// Target returns the file name written under the data directory.
	Target() string
	// Description returns a human-readable description.
	Description() string
	// DefaultURL returns the default source URL used for seeding the database.
	DefaultURL() string
	// License returns the license identifier for this source (e.g. "OGL v3").
	License() string
	// Import downloads the source from sourceURL through dl and writes
	// Target() into dataDir.
	Import(ctx context.Context, dl *Downloader, sourceURL, dataDir string) error
}

// SourceSpec declares a remote source in the manifest.
type SourceSpec struct {
	ID          string `yaml:"id" json:"id"`
	Kind        string `yaml:"kind" json:"kind"`
	URL         string `yaml:"url" json:"url"`
	File        string `yaml:"file" json:"file"`
	Extension   string `yaml:"extension,omitempty" json:"extension,omitempty"`
	Description string `yaml:"description" json:"description"`
	License     string `yaml:"license" json:"license"`
}

// Factory builds an adapter from its manifest entry.
type Factory func(spec SourceSpec) (Adapter, error)

var (
	registryMu sync.RWMutex
	kinds      = make(map[string]Factory)
)

// Register adds a source kind to the global registry.
func Register(kind string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	kinds[kind] = f
}

// Kinds returns the registered source kinds, sorted.
func Kinds() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(kinds))
	for k := range kinds {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// New builds the adapter for spec; an empty kind means "file".
func New(spec SourceSpec) (Adapter, error) {
	kind := strings.ToLower(spec.Kind)
	if kind == "" {
		kind = "file"
	}
	registryMu.RLock()
	f, ok := kinds[kind]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("source %s: unknown kind %q", spec.ID, spec.Kind)
	}
	if spec.ID == "" || spec.URL == "" || spec.File == "" {
		return nil, fmt.Errorf("source %q: id, url and file are required", spec.ID)
	}
	return f(spec)
}

// Build returns the adapters for specs sorted by ID.
func Build(specs []SourceSpec) ([]Adapter, error) {
	seen := make(map[string]bool, len(specs))
	out := make([]Adapter, 0, len(specs))
	for _, s := range specs {
		if seen[s.ID] {
			return nil, fmt.Errorf("duplicate source id %q", s.ID)
		}
		seen[s.ID] = true
		a, err := New(s)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out, nil
}

// Get returns the adapter with the given ID.
func Get(adapters []Adapter, id string) (Adapter, error) {
	for _, a := range adapters {
		if a.ID() == id {
			return a, nil
		}
	}
	return nil, fmt.Errorf("unknown import source: %q", id)
}
