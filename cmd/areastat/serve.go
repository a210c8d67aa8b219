package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/areastat/pkg/api"
	"github.com/hazyhaar/areastat/pkg/atlas"
	"github.com/hazyhaar/areastat/pkg/chassis"
	"github.com/hazyhaar/areastat/pkg/importer"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the map page, the JSON API and the MCP endpoint",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	f := serveCmd.Flags()
	f.String("addr", ":8421", "listen address")
	f.Duration("cache-ttl", 10*time.Minute, "lifetime of cached views (0 keeps them until reload)")
	f.Duration("check-interval", 24*time.Hour, "interval between source URL checks (0 disables)")
	f.String("cert", "", "TLS certificate file")
	f.String("key", "", "TLS key file")
	f.Bool("http3", false, "also serve HTTP/3 over QUIC (self-signed cert when none is given)")
	v.BindPFlag("addr", f.Lookup("addr"))
	v.BindPFlag("cache_ttl", f.Lookup("cache-ttl"))
	v.BindPFlag("check_interval", f.Lookup("check-interval"))
	v.BindPFlag("cert_file", f.Lookup("cert"))
	v.BindPFlag("key_file", f.Lookup("key"))
	v.BindPFlag("http3", f.Lookup("http3"))
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	a := atlas.New(cfg.Manifest, cfg.DataDir, cfg.CacheTTL, logger)
	if err := a.Load(); err != nil {
		// Keep serving: the page shows the error until a reload succeeds.
		logger.Warn("serving without data", "error", err)
	}

	// SIGHUP: hot reload datasets.
	// SIGINT/SIGTERM: graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	go func() {
		for range sighup {
			logger.Info("SIGHUP received, reloading datasets")
			if err := a.Reload(); err == nil {
				logger.Info("datasets reloaded")
			}
		}
	}()

	if cfg.CheckInterval > 0 {
		if sdb, err := openSources(); err != nil {
			logger.Warn("source checks disabled", "error", err)
		} else {
			defer sdb.Close()
			go importer.NewChecker(sdb, logger, cfg.CheckInterval).Start(ctx)
		}
	}

	srv, err := chassis.New(chassis.Config{
		Addr:     cfg.Addr,
		Handler:  api.NewRouter(a, logger),
		CertFile: cfg.CertFile,
		KeyFile:  cfg.KeyFile,
		HTTP3:    cfg.HTTP3,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(ctx) }()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Stop(shutdownCtx)
}

// openSources opens the sources database seeded with the manifest sources.
func openSources() (*importer.SourceDB, error) {
	m, err := atlas.LoadManifest(cfg.Manifest, cfg.DataDir)
	if err != nil {
		return nil, err
	}
	adapters, err := importer.Build(m.Sources)
	if err != nil {
		return nil, err
	}
	sdb, err := openDB()
	if err != nil {
		return nil, err
	}
	if err := sdb.Seed(adapters); err != nil {
		sdb.Close()
		return nil, err
	}
	return sdb, nil
}

func openDB() (*importer.SourceDB, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.SourcesDB), 0o755); err != nil {
		return nil, err
	}
	return importer.OpenSourceDB(cfg.SourcesDB)
}
