package etl

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hazyhaar/areastat/pkg/table"
)

// PopulationConfig locates the LSOA population extract and the
// LSOA -> ward -> district lookup.
type PopulationConfig struct {
	Population string
	SkipRows   int
	Lookup     string
	// LookupCode and District name the lookup's LSOA code and district
	// columns; defaults LSOA21CD and LAD23NM.
	LookupCode string
	District   string
	OutDir     string
	Encoding   string
}

// PopulationResult summarises a population run.
type PopulationResult struct {
	Rows      int      `json:"rows"`
	Unmatched []string `json:"unmatched,omitempty"` // LSOA codes with no lookup row
	// DuplicateCodes counts lookup codes listed more than once; the last row
	// wins. ConflictingCodes are those whose rows disagree on the district.
	DuplicateCodes   int `json:"duplicate_codes"`
	ConflictingCodes int `json:"conflicting_codes"`
	Districts int      `json:"districts"`
	Columns   []string `json:"columns"`
	Outputs   []Output `json:"outputs"`
}

// RunPopulation splits the "type:code:name" area column, joins the lookup
// on the LSOA code and sums the age-band columns (and Total) per district.
// It writes <stem>_merged and <stem>_aggregated.
func RunPopulation(ctx context.Context, cfg PopulationConfig, rec Recorder, logger *slog.Logger) (*PopulationResult, error) {
	if cfg.LookupCode == "" {
		cfg.LookupCode = "LSOA21CD"
	}
	if cfg.District == "" {
		cfg.District = "LAD23NM"
	}

	pop, err := table.ReadRecords(cfg.Population, table.Options{SkipRows: cfg.SkipRows, Encoding: cfg.Encoding})
	if err != nil {
		return nil, fmt.Errorf("population: %w", err)
	}
	if len(pop.Header) == 0 {
		return nil, fmt.Errorf("population %s: empty header", cfg.Population)
	}
	lookup, err := table.ReadRecords(cfg.Lookup, table.Options{})
	if err != nil {
		return nil, fmt.Errorf("lsoa lookup: %w", err)
	}
	codeIdx := lookup.Index(cfg.LookupCode)
	if codeIdx < 0 {
		return nil, fmt.Errorf("lsoa lookup: column %q not found", cfg.LookupCode)
	}
	if lookup.Index(cfg.District) < 0 {
		return nil, fmt.Errorf("lsoa lookup: column %q not found", cfg.District)
	}
	res := &PopulationResult{Rows: len(pop.Rows)}
	byCode := make(map[string][]string, len(lookup.Rows))
	seen := make(map[string]bool)
	for _, row := range lookup.Rows {
		if codeIdx >= len(row) {
			continue
		}
		code := strings.TrimSpace(row[codeIdx])
		if prev, ok := byCode[code]; ok {
			if !seen[code] {
				seen[code] = true
				res.DuplicateCodes++
			}
			if lookupDistrict(lookup, prev, cfg.District) != lookupDistrict(lookup, row, cfg.District) {
				res.ConflictingCodes++
			}
		}
		byCode[code] = row
	}
	if res.DuplicateCodes > 0 {
		logger.Warn("lsoa lookup has duplicate codes, last row kept",
			"lookup", cfg.Lookup, "duplicates", res.DuplicateCodes, "conflicting_districts", res.ConflictingCodes)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	header := append([]string(nil), pop.Header...)
	header = append(header, "GeoType", "LSOA21_Code", "LSOA_Name")
	header = append(header, lookup.Header...)
	merged := table.NewRecords(header)

	emptyLookup := make([]string, len(lookup.Header))
	for _, row := range pop.Rows {
		geoType, code, name := splitArea(row[0])
		out := concat(row, len(pop.Header), []string{geoType, code, name})
		match, ok := byCode[code]
		if !ok {
			if strings.HasPrefix(strings.ToLower(geoType), "lsoa") {
				res.Unmatched = append(res.Unmatched, code)
			}
			match = emptyLookup
		}
		merged.Append(concat(out, len(out), padded(match, len(lookup.Header))))
	}
	if len(res.Unmatched) > 0 {
		logger.Warn("unmatched LSOAs", "count", len(res.Unmatched), "first", res.Unmatched[0])
	} else {
		logger.Info("all LSOAs matched")
	}

	var cols []string
	for _, h := range merged.Header {
		if strings.Contains(h, "Aged") || h == "Total" {
			cols = append(cols, h)
		}
	}
	agg, err := table.FromRecords(merged, cfg.District, cols)
	if err != nil {
		return nil, fmt.Errorf("aggregate population: %w", err)
	}
	agg.SortByKey()
	res.Districts = agg.Len()
	res.Columns = cols

	dir, err := outputDir(cfg.Population, cfg.OutDir)
	if err != nil {
		return nil, err
	}
	mergedPath := derivedPath(dir, cfg.Population, "_merged")
	if err := merged.WriteCSV(mergedPath); err != nil {
		return nil, err
	}
	aggPath := derivedPath(dir, cfg.Population, "_aggregated")
	if err := agg.WriteCSV(aggPath); err != nil {
		return nil, err
	}
	res.Outputs = []Output{
		{Path: mergedPath, Rows: len(merged.Rows)},
		{Path: aggPath, Rows: agg.Len()},
	}
	if err := record(rec, "population", res.Outputs); err != nil {
		return nil, err
	}
	logger.Info("population outputs written", "dir", dir, "districts", res.Districts, "columns", len(cols))
	return res, nil
}

func lookupDistrict(lookup *table.Records, row []string, col string) string {
	if i := lookup.Index(col); i < len(row) {
		return strings.TrimSpace(row[i])
	}
	return ""
}

// splitArea splits "lsoa2021:E01000001:City of London 001A".
func splitArea(s string) (geoType, code, name string) {
	parts := strings.SplitN(s, ":", 3)
	geoType = strings.TrimSpace(parts[0])
	if len(parts) > 1 {
		code = strings.TrimSpace(parts[1])
	}
	if len(parts) > 2 {
		name = strings.TrimSpace(strings.ReplaceAll(parts[2], ":", ""))
	}
	return geoType, code, name
}

func padded(row []string, width int) []string {
	if len(row) >= width {
		return row[:width]
	}
	out := make([]string, width)
	copy(out, row)
	return out
}
