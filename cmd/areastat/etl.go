package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/areastat/pkg/etl"
)

var etlCmd = &cobra.Command{
	Use:   "etl",
	Short: "Derive district-level tables from raw extracts",
}

var cqcCfg etl.CQCConfig

var etlCQCCmd = &cobra.Command{
	Use:   "cqc",
	Short: "Locate CQC agencies by postcode and count them per district and rating",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		sdb, err := openDB()
		if err != nil {
			return err
		}
		defer sdb.Close()

		res, err := etl.RunCQC(cmd.Context(), cqcCfg, sdb, logger)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%d agencies, %d without a district, %d districts\n", res.Agencies, res.Unlocated, res.Districts)
		fmt.Fprintf(out, "duplicate names: %d before join, %d after\n", res.DuplicatesBefore, res.DuplicatesAfter)
		fmt.Fprintf(out, "ratings: %s\n", strings.Join(res.Ratings, ", "))
		writeOutputs(out, res.Outputs)
		return nil
	},
}

var popCfg etl.PopulationConfig

var etlPopulationCmd = &cobra.Command{
	Use:   "population",
	Short: "Sum LSOA population age bands per district",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		sdb, err := openDB()
		if err != nil {
			return err
		}
		defer sdb.Close()

		res, err := etl.RunPopulation(cmd.Context(), popCfg, sdb, logger)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%d rows, %d districts, %d columns summed\n", res.Rows, res.Districts, len(res.Columns))
		if n := len(res.Unmatched); n > 0 {
			fmt.Fprintf(out, "%d LSOAs missing from the lookup: %s\n", n, strings.Join(res.Unmatched, ", "))
		}
		writeOutputs(out, res.Outputs)
		return nil
	},
}

func init() {
	f := etlCQCCmd.Flags()
	f.StringVar(&cqcCfg.Registry, "registry", "", "CQC registry extract (Name, Postcode, CQC_Rating)")
	f.StringVar(&cqcCfg.Postcodes, "postcodes", "", "ONS postcode directory CSV")
	f.StringVar(&cqcCfg.OutDir, "out-dir", "", "output directory (default: ../data next to the registry)")
	f.StringVar(&cqcCfg.Encoding, "encoding", "", "input encoding, e.g. windows-1252 (default: UTF-8 or sniffed)")
	etlCQCCmd.MarkFlagRequired("registry")
	etlCQCCmd.MarkFlagRequired("postcodes")

	f = etlPopulationCmd.Flags()
	f.StringVar(&popCfg.Population, "population", "", "LSOA population CSV")
	f.IntVar(&popCfg.SkipRows, "skip-rows", 0, "preamble rows before the header")
	f.StringVar(&popCfg.Lookup, "lookup", "", "LSOA to ward/district lookup CSV")
	f.StringVar(&popCfg.LookupCode, "lookup-code", "LSOA21CD", "LSOA code column of the lookup")
	f.StringVar(&popCfg.District, "district", "LAD23NM", "district name column of the lookup")
	f.StringVar(&popCfg.OutDir, "out-dir", "", "output directory (default: ../data next to the population file)")
	f.StringVar(&popCfg.Encoding, "encoding", "", "input encoding")
	etlPopulationCmd.MarkFlagRequired("population")
	etlPopulationCmd.MarkFlagRequired("lookup")

	etlCmd.AddCommand(etlCQCCmd, etlPopulationCmd)
	rootCmd.AddCommand(etlCmd)
}

func writeOutputs(w io.Writer, outs []etl.Output) {
	t := tablewriter.NewWriter(w)
	t.SetHeader([]string{"Output", "Rows"})
	for _, o := range outs {
		t.Append([]string{o.Path, strconv.Itoa(o.Rows)})
	}
	t.Render()
}
