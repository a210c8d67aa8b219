package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/areastat/pkg/aggregate"
	"github.com/hazyhaar/areastat/pkg/api"
	"github.com/hazyhaar/areastat/pkg/atlas"
	"github.com/hazyhaar/areastat/pkg/choropleth"
)

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Write the map page, GeoJSON or bar chart for metrics at a level",
	Args:  cobra.NoArgs,
	RunE:  runRender,
}

var topCmd = &cobra.Command{
	Use:   "top",
	Short: "Print the areas ranked by a metric, and the areas that failed to match",
	Args:  cobra.NoArgs,
	RunE:  runTop,
}

var viewFlags struct {
	level   string
	metrics []string
	zone    string
	out     string
	format  string
	n       int
}

func init() {
	for _, c := range []*cobra.Command{renderCmd, topCmd} {
		c.Flags().StringVar(&viewFlags.level, "level", "region", "region, county or district")
		c.Flags().IntVarP(&viewFlags.n, "top", "n", 0, "number of ranked areas (0 = manifest default)")
	}
	renderCmd.Flags().StringSliceVar(&viewFlags.metrics, "metric", nil, "metrics to map (repeatable)")
	renderCmd.Flags().StringVar(&viewFlags.zone, "zoom", "", "area to centre the map on")
	renderCmd.Flags().StringVarP(&viewFlags.out, "out", "o", "", "output file (format from extension: .html, .geojson, .png)")
	renderCmd.Flags().StringVar(&viewFlags.format, "format", "", "html, geojson or png (overrides the extension)")
	renderCmd.MarkFlagRequired("out")
	topCmd.Flags().StringSliceVar(&viewFlags.metrics, "metric", nil, "metric to rank by")
	topCmd.MarkFlagRequired("metric")
	rootCmd.AddCommand(renderCmd, topCmd)
}

func runRender(cmd *cobra.Command, _ []string) error {
	a, err := loadAtlas()
	if err != nil {
		return err
	}
	format := viewFlags.format
	if format == "" {
		format = strings.TrimPrefix(strings.ToLower(filepath.Ext(viewFlags.out)), ".")
	}

	var buf bytes.Buffer
	switch format {
	case "html", "htm":
		data, err := api.BuildPage(a, viewFlags.level, viewFlags.metrics, viewFlags.zone, false)
		if err != nil {
			return err
		}
		if err := choropleth.WritePage(&buf, data); err != nil {
			return err
		}
	case "geojson", "json":
		view, err := singleView(a)
		if err != nil {
			return err
		}
		if view.Map == nil {
			return fmt.Errorf("no boundaries for level %s", view.Level)
		}
		data, err := view.Map.GeoJSON()
		if err != nil {
			return err
		}
		buf.Write(data)
	case "png":
		view, err := singleView(a)
		if err != nil {
			return err
		}
		if err := choropleth.BarChart(&buf, view.Top(topN(a)), view.Metric); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown format %q", format)
	}

	if err := os.WriteFile(viewFlags.out, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", viewFlags.out, err)
	}
	logger.Info("rendered", "path", viewFlags.out, "format", format, "bytes", buf.Len())
	return nil
}

func runTop(cmd *cobra.Command, _ []string) error {
	a, err := loadAtlas()
	if err != nil {
		return err
	}
	view, err := singleView(a)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	t := tablewriter.NewWriter(out)
	t.SetHeader([]string{"#", view.Level.Label(), view.Metric})
	t.SetAlignment(tablewriter.ALIGN_LEFT)
	for i, r := range view.Top(topN(a)) {
		t.Append([]string{strconv.Itoa(i + 1), r.Key, fmt.Sprintf("%.2f", r.Value)})
	}
	t.Render()

	if len(view.Unmatched) == 0 {
		return nil
	}
	fmt.Fprintf(out, "\n%d unmatched areas\n", len(view.Unmatched))
	u := tablewriter.NewWriter(out)
	u.SetHeader([]string{"Area", "Stage", "Did you mean"})
	for _, m := range view.Unmatched {
		var names []string
		for _, s := range m.Suggestions {
			names = append(names, s.Name)
		}
		u.Append([]string{m.Name, m.Stage, strings.Join(names, ", ")})
	}
	u.Render()
	return nil
}

func singleView(a *atlas.Atlas) (*atlas.View, error) {
	if len(viewFlags.metrics) != 1 {
		return nil, fmt.Errorf("%w: exactly one --metric is needed", aggregate.ErrUnknownMetric)
	}
	lvl, err := aggregate.ParseLevel(viewFlags.level)
	if err != nil {
		return nil, err
	}
	return a.View(lvl, viewFlags.metrics[0])
}

func topN(a *atlas.Atlas) int {
	if viewFlags.n > 0 {
		return viewFlags.n
	}
	return a.Top()
}
