package importer

import (
	"context"
	"path/filepath"
)

func init() {
	Register("file", func(spec SourceSpec) (Adapter, error) {
		return &fileAdapter{spec: spec}, nil
	})
}

// fileAdapter downloads a single file as is (CSV lookups, GeoJSON).
type fileAdapter struct {
	spec SourceSpec
}

func (a *fileAdapter) ID() string          { return a.spec.ID }
func (a *fileAdapter) Target() string      { return a.spec.File }
func (a *fileAdapter) Description() string { return a.spec.Description }
func (a *fileAdapter) DefaultURL() string  { return a.spec.URL }
func (a *fileAdapter) License() string     { return a.spec.License }

func (a *fileAdapter) Import(ctx context.Context, dl *Downloader, sourceURL, dataDir string) error {
	return dl.Fetch(ctx, a.spec.ID, sourceURL, filepath.Join(dataDir, a.spec.File))
}
