// Command areastat serves the home care agency map and runs the offline
// preparation of its datasets.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hazyhaar/areastat/pkg/atlas"
)

type config struct {
	Addr          string        `mapstructure:"addr"`
	DataDir       string        `mapstructure:"data_dir"`
	Manifest      string        `mapstructure:"manifest"`
	SourcesDB     string        `mapstructure:"sources_db"`
	CacheTTL      time.Duration `mapstructure:"cache_ttl"`
	CheckInterval time.Duration `mapstructure:"check_interval"`
	LogLevel      string        `mapstructure:"log_level"`
	CertFile      string        `mapstructure:"cert_file"`
	KeyFile       string        `mapstructure:"key_file"`
	HTTP3         bool          `mapstructure:"http3"`
}

var (
	cfgFile string
	v       = viper.New()
	cfg     config
	logger  *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:           "areastat",
	Short:         "Map home care agency coverage across UK administrative areas",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		return loadConfig()
	},
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVar(&cfgFile, "config", "", "config file (default ./areastat.yaml)")
	f.String("data-dir", "", "directory manifest paths are relative to (default: manifest directory)")
	f.String("manifest", "data/manifest.yaml", "dataset manifest")
	f.String("sources-db", "data/sources.db", "SQLite database of sources and ETL outputs")
	f.String("log-level", "info", "debug, info, warn or error")
	v.BindPFlag("data_dir", f.Lookup("data-dir"))
	v.BindPFlag("manifest", f.Lookup("manifest"))
	v.BindPFlag("sources_db", f.Lookup("sources-db"))
	v.BindPFlag("log_level", f.Lookup("log-level"))

	v.SetDefault("addr", ":8421")
	v.SetDefault("cache_ttl", "10m")
	v.SetDefault("check_interval", "24h")
}

// loadConfig applies defaults, then areastat.yaml, then AREASTAT_*
// variables, then flags.
func loadConfig() error {
	v.SetEnvPrefix("AREASTAT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("areastat")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	if used := v.ConfigFileUsed(); used != "" {
		logger.Debug("config loaded", "path", used)
	}
	return nil
}

// loadAtlas loads the manifest datasets once, for the one-shot commands.
func loadAtlas() (*atlas.Atlas, error) {
	a := atlas.New(cfg.Manifest, cfg.DataDir, 0, logger)
	if err := a.Load(); err != nil {
		return nil, err
	}
	return a, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
