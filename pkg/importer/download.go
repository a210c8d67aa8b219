// Package importer fetches the remote datasets named in the manifest into the
// data directory and keeps track of their provenance in a SQLite database.
package importer

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Downloader fetches source files with retries. ONS and CQC downloads are
// large and their CDNs drop connections now and then.
type Downloader struct {
	client   *http.Client
	logger   *slog.Logger
	attempts int
	backoff  time.Duration
}

// NewDownloader returns a Downloader making three attempts with exponential
// backoff starting at two seconds.
func NewDownloader(logger *slog.Logger) *Downloader {
	return &Downloader{
		client:   &http.Client{Timeout: 10 * time.Minute},
		logger:   logger,
		attempts: 3,
		backoff:  2 * time.Second,
	}
}

// Fetch downloads url to dest on behalf of source id. The body is written to
// dest+".part" and renamed once complete, so dest is never left truncated.
func (d *Downloader) Fetch(ctx context.Context, id, url, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	tmp := dest + ".part"
	start := time.Now()

	var lastErr error
	for attempt := 1; attempt <= d.attempts; attempt++ {
		if attempt > 1 {
			wait := d.backoff << (attempt - 2)
			d.logger.Warn("download failed, retrying", "source", id, "attempt", attempt-1, "wait", wait, "error", lastErr)
			select {
			case <-ctx.Done():
				os.Remove(tmp)
				return ctx.Err()
			case <-time.After(wait):
			}
		}

		n, err := d.get(ctx, url, tmp)
		if err != nil {
			lastErr = err
			continue
		}
		if err := os.Rename(tmp, dest); err != nil {
			os.Remove(tmp)
			return err
		}
		d.logger.Info("source downloaded", "source", id, "bytes", n, "duration", time.Since(start).Round(time.Millisecond))
		return nil
	}
	os.Remove(tmp)
	return fmt.Errorf("download %s: %d attempts failed: %w", id, d.attempts, lastErr)
}

func (d *Downloader) get(ctx context.Context, url, dest string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("HTTP %d for %s", resp.StatusCode, url)
	}

	f, err := os.Create(dest)
	if err != nil {
		return 0, fmt.Errorf("create file: %w", err)
	}
	n, err := io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, err
	}
	if resp.ContentLength > 0 && n != resp.ContentLength {
		return n, fmt.Errorf("short body: got %d of %d bytes", n, resp.ContentLength)
	}
	return n, nil
}

// extractArchive flattens the members of a ZIP archive into destDir and
// returns their paths. Directory entries, macOS resource forks and hidden
// files are skipped.
func extractArchive(src, destDir string) ([]string, error) {
	r, err := zip.OpenReader(src)
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}
	defer r.Close()

	var paths []string
	for _, f := range r.File {
		base := filepath.Base(f.Name)
		if f.FileInfo().IsDir() || strings.HasPrefix(f.Name, "__MACOSX/") || strings.HasPrefix(base, ".") {
			continue
		}
		dest := filepath.Join(destDir, base)
		if err := extractMember(f, dest); err != nil {
			return nil, err
		}
		paths = append(paths, dest)
	}
	return paths, nil
}

func extractMember(f *zip.File, dest string) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("open zip entry %s: %w", f.Name, err)
	}
	defer rc.Close()

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return fmt.Errorf("extract %s: %w", f.Name, err)
	}
	return out.Close()
}
