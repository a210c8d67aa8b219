package importer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func init() {
	Register("zip", func(spec SourceSpec) (Adapter, error) {
		if spec.Extension == "" {
			spec.Extension = filepath.Ext(spec.File)
		}
		return &zipAdapter{spec: spec}, nil
	})
}

// zipAdapter downloads an archive (ONS shapefile bundles) and keeps the
// members sharing the base name of the wanted file, so .shp keeps its
// .dbf and .shx siblings.
type zipAdapter struct {
	spec SourceSpec
}

func (a *zipAdapter) ID() string          { return a.spec.ID }
func (a *zipAdapter) Target() string      { return a.spec.File }
func (a *zipAdapter) Description() string { return a.spec.Description }
func (a *zipAdapter) DefaultURL() string  { return a.spec.URL }
func (a *zipAdapter) License() string     { return a.spec.License }

func (a *zipAdapter) Import(ctx context.Context, dl *Downloader, sourceURL, dataDir string) error {
	dlDir := filepath.Join(dataDir, "_download", a.spec.ID)
	defer os.RemoveAll(dlDir)

	zipPath := filepath.Join(dlDir, "source.zip")
	if err := dl.Fetch(ctx, a.spec.ID, sourceURL, zipPath); err != nil {
		return err
	}
	paths, err := extractArchive(zipPath, dlDir)
	if err != nil {
		return fmt.Errorf("unzip: %w", err)
	}

	var member string
	for _, p := range paths {
		if strings.EqualFold(filepath.Ext(p), a.spec.Extension) {
			member = p
			break
		}
	}
	if member == "" {
		return fmt.Errorf("no %s file in archive", a.spec.Extension)
	}

	dest := filepath.Join(dataDir, a.spec.File)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	memberStem := strings.TrimSuffix(member, filepath.Ext(member))
	destStem := strings.TrimSuffix(dest, filepath.Ext(dest))
	for _, p := range paths {
		if strings.TrimSuffix(p, filepath.Ext(p)) != memberStem {
			continue
		}
		if err := os.Rename(p, destStem+filepath.Ext(p)); err != nil {
			return fmt.Errorf("move %s: %w", filepath.Base(p), err)
		}
	}
	return nil
}
