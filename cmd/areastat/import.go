package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/areastat/pkg/atlas"
	"github.com/hazyhaar/areastat/pkg/importer"
)

var importCmd = &cobra.Command{
	Use:   "import [source-id...]",
	Short: "Download the manifest sources into the data directory (all when no id is given)",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := atlas.LoadManifest(cfg.Manifest, cfg.DataDir)
		if err != nil {
			return err
		}
		adapters, err := importer.Build(m.Sources)
		if err != nil {
			return err
		}
		if len(adapters) == 0 {
			return fmt.Errorf("manifest %s lists no sources", cfg.Manifest)
		}
		sdb, err := openDB()
		if err != nil {
			return err
		}
		defer sdb.Close()
		if err := sdb.Seed(adapters); err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Hour)
		defer cancel()
		return importer.Run(ctx, sdb, adapters, args, m.Dir(), logger)
	},
}

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List the manifest sources with their last check and import",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		sdb, err := openSources()
		if err != nil {
			return err
		}
		defer sdb.Close()

		sources, err := sdb.ListSources()
		if err != nil {
			return err
		}
		t := tablewriter.NewWriter(cmd.OutOrStdout())
		t.SetHeader([]string{"Source", "Target", "URL", "Status", "Checked", "Imported"})
		t.SetAutoWrapText(false)
		for _, s := range sources {
			status := "-"
			if s.LastStatus != nil {
				status = strconv.Itoa(*s.LastStatus)
			}
			if s.LastError != nil {
				status += " " + *s.LastError
			}
			t.Append([]string{s.AdapterID, s.Target, s.SourceURL, status, unixTime(s.LastCheck), unixTime(s.LastImport)})
		}
		t.Render()
		return nil
	},
}

var sourcesSetURLCmd = &cobra.Command{
	Use:   "set-url <source-id> <url>",
	Short: "Override a source URL; the override survives manifest reseeding",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		sdb, err := openSources()
		if err != nil {
			return err
		}
		defer sdb.Close()
		return sdb.SetURL(args[0], args[1])
	},
}

var sourcesCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Probe every source URL once",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		sdb, err := openSources()
		if err != nil {
			return err
		}
		defer sdb.Close()
		sum := importer.NewChecker(sdb, logger, 0).CheckAll(cmd.Context())
		fmt.Fprintf(cmd.OutOrStdout(), "%d sources: %d ok, %d failed\n", sum.Total, sum.OK, sum.Failed)
		if sum.Failed > 0 {
			return fmt.Errorf("%d sources failed", sum.Failed)
		}
		return nil
	},
}

var sourcesOutputsCmd = &cobra.Command{
	Use:   "outputs",
	Short: "List the files written by the etl commands",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		sdb, err := openDB()
		if err != nil {
			return err
		}
		defer sdb.Close()
		outs, err := sdb.ListOutputs()
		if err != nil {
			return err
		}
		t := tablewriter.NewWriter(cmd.OutOrStdout())
		t.SetHeader([]string{"Path", "Pipeline", "Rows", "Written"})
		t.SetAutoWrapText(false)
		for _, o := range outs {
			t.Append([]string{o.Path, o.Pipeline, strconv.Itoa(o.Rows), unixTime(&o.CreatedAt)})
		}
		t.Render()
		return nil
	},
}

func init() {
	sourcesCmd.AddCommand(sourcesSetURLCmd, sourcesCheckCmd, sourcesOutputsCmd)
	rootCmd.AddCommand(importCmd, sourcesCmd)
}

func unixTime(ts *int64) string {
	if ts == nil {
		return "-"
	}
	return time.Unix(*ts, 0).Format("2006-01-02 15:04")
}
