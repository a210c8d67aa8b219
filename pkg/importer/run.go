package importer

import (
	"context"
	"fmt"
	"log/slog"
)

// Run imports the sources named by ids (every adapter when ids is empty)
// using the URLs stored in sources, which may override the manifest.
func Run(ctx context.Context, sources *SourceDB, adapters []Adapter, ids []string, dataDir string, logger *slog.Logger) error {
	selected := adapters
	if len(ids) > 0 {
		selected = nil
		for _, id := range ids {
			a, err := Get(adapters, id)
			if err != nil {
				return err
			}
			selected = append(selected, a)
		}
	}

	dl := NewDownloader(logger)
	for _, a := range selected {
		url, err := sources.GetURL(a.ID())
		if err != nil {
			return err
		}
		logger.Info("importing source", "source", a.ID(), "url", url, "target", a.Target())
		if err := a.Import(ctx, dl, url, dataDir); err != nil {
			return fmt.Errorf("import %s: %w", a.ID(), err)
		}
		if err := sources.MarkImported(a.ID()); err != nil {
			return err
		}
	}
	logger.Info("import complete", "sources", len(selected))
	return nil
}
