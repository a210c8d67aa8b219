package etl

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/hazyhaar/areastat/pkg/table"
)

// postcodeColumns are copied from the postcode directory onto each agency.
var postcodeColumns = []string{"pcds", "oa21cd", "lsoa21cd", "lsoa21nm", "msoa21cd", "msoa21nm", "ladcd", "ladnm"}

// CQCConfig locates the registry extract and the postcode directory.
type CQCConfig struct {
	Registry  string // CSV with Name, Postcode, CQC_Rating
	Postcodes string // ONS postcode directory (pcds ... ladnm)
	OutDir    string
	Encoding  string
}

// CQCResult summarises a CQC run.
type CQCResult struct {
	Agencies         int      `json:"agencies"`
	Unlocated        int      `json:"unlocated"`
	DuplicatesBefore int      `json:"duplicates_before"`
	DuplicatesAfter  int      `json:"duplicates_after"`
	Districts        int      `json:"districts"`
	Ratings          []string `json:"ratings"`
	Outputs          []Output `json:"outputs"`
}

// RunCQC joins agencies to districts by postcode and writes the
// <stem>_postcodes, <stem>_LAD and <stem>_LAD_CQC_counts tables.
func RunCQC(ctx context.Context, cfg CQCConfig, rec Recorder, logger *slog.Logger) (*CQCResult, error) {
	agencies, err := table.ReadRecords(cfg.Registry, table.Options{Encoding: cfg.Encoding})
	if err != nil {
		return nil, fmt.Errorf("cqc registry: %w", err)
	}
	for _, col := range []string{"Name", "Postcode", "CQC_Rating"} {
		if agencies.Index(col) < 0 {
			return nil, fmt.Errorf("cqc registry: column %q not found", col)
		}
	}
	pcIdx := agencies.Index("Postcode")
	wanted := make(map[string]bool, len(agencies.Rows))
	for _, row := range agencies.Rows {
		if pcIdx < len(row) {
			row[pcIdx] = normalizePostcode(row[pcIdx])
			wanted[row[pcIdx]] = true
		}
	}

	res := &CQCResult{Agencies: len(agencies.Rows)}
	res.DuplicatesBefore = duplicateNames(agencies.Rows, agencies.Index("Name"))
	logger.Info("cqc registry loaded", "agencies", res.Agencies, "duplicate_names", res.DuplicatesBefore)

	lookup, err := scanPostcodes(ctx, cfg.Postcodes, wanted)
	if err != nil {
		return nil, err
	}

	// Left join: every agency is kept, once per matching directory row.
	joined := table.NewRecords(append(append([]string(nil), agencies.Header...), postcodeColumns...))
	empty := make([]string, len(postcodeColumns))
	for _, row := range agencies.Rows {
		pc := ""
		if pcIdx < len(row) {
			pc = row[pcIdx]
		}
		matches := lookup[pc]
		if len(matches) == 0 {
			res.Unlocated++
			joined.Append(concat(row, len(agencies.Header), empty))
			continue
		}
		for _, m := range matches {
			joined.Append(concat(row, len(agencies.Header), m))
		}
	}
	res.DuplicatesAfter = duplicateNames(joined.Rows, joined.Index("Name"))
	logger.Info("postcodes joined", "rows", len(joined.Rows), "unlocated", res.Unlocated, "duplicate_names", res.DuplicatesAfter)

	totals, counts := countByDistrict(joined)
	res.Districts = totals.Len()
	res.Ratings = counts.Columns

	for _, r := range res.Ratings {
		counts.AddColumn(r+"_pct", func(i int) float64 {
			var sum float64
			for _, c := range res.Ratings {
				sum += counts.At(i, c)
			}
			if sum == 0 {
				return 0
			}
			return counts.At(i, r) / sum * 100
		})
	}
	counts.AddColumn("Total_Agencies", func(i int) float64 {
		v, _ := totals.Value(counts.Rows[i].Key, "Total_Agencies")
		return v
	})

	dir, err := outputDir(cfg.Registry, cfg.OutDir)
	if err != nil {
		return nil, err
	}
	postcodesPath := derivedPath(dir, cfg.Registry, "_postcodes")
	if err := joined.WriteCSV(postcodesPath); err != nil {
		return nil, err
	}
	ladPath := derivedPath(dir, cfg.Registry, "_LAD")
	if err := totals.WriteCSV(ladPath); err != nil {
		return nil, err
	}
	countsPath := derivedPath(dir, cfg.Registry, "_LAD_CQC_counts")
	if err := counts.WriteCSV(countsPath); err != nil {
		return nil, err
	}
	res.Outputs = []Output{
		{Path: postcodesPath, Rows: len(joined.Rows)},
		{Path: ladPath, Rows: totals.Len()},
		{Path: countsPath, Rows: counts.Len()},
	}
	if err := record(rec, "cqc", res.Outputs); err != nil {
		return nil, err
	}
	logger.Info("cqc outputs written", "dir", dir, "districts", res.Districts, "ratings", len(res.Ratings))
	return res, nil
}

// scanPostcodes streams the postcode directory and keeps the rows whose
// pcds is wanted.
func scanPostcodes(ctx context.Context, path string, wanted map[string]bool) (map[string][][]string, error) {
	out := make(map[string][][]string)
	var idx []int
	n := 0
	err := table.Scan(path, table.Options{}, func(header []string) error {
		rec := table.NewRecords(header)
		for _, c := range postcodeColumns {
			j := rec.Index(c)
			if j < 0 {
				return fmt.Errorf("postcode lookup: column %q not found", c)
			}
			idx = append(idx, j)
		}
		return nil
	}, func(row []string) error {
		n++
		if n%100000 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if idx[0] >= len(row) {
			return nil
		}
		pc := normalizePostcode(row[idx[0]])
		if !wanted[pc] {
			return nil
		}
		vals := make([]string, len(idx))
		for i, j := range idx {
			if j < len(row) {
				vals[i] = row[j]
			}
		}
		vals[0] = pc
		out[pc] = append(out[pc], vals)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("postcode lookup: %w", err)
	}
	return out, nil
}

// countByDistrict counts agencies per ladnm, overall and per rating.
// Rows without a district or rating are not counted.
func countByDistrict(joined *table.Records) (totals, counts *table.Table) {
	ladIdx := joined.Index("ladnm")
	nameIdx := joined.Index("Name")
	ratingIdx := joined.Index("CQC_Rating")

	totals = table.New("ladnm", "Total_Agencies")
	ratings := map[string]bool{}
	for _, row := range joined.Rows {
		if r := strings.TrimSpace(row[ratingIdx]); r != "" && strings.TrimSpace(row[ladIdx]) != "" {
			ratings[r] = true
		}
	}
	cols := make([]string, 0, len(ratings))
	for r := range ratings {
		cols = append(cols, r)
	}
	sort.Strings(cols)
	counts = table.New("ladnm", cols...)

	for _, row := range joined.Rows {
		lad := strings.TrimSpace(row[ladIdx])
		if lad == "" || strings.TrimSpace(row[nameIdx]) == "" {
			continue
		}
		i := totals.Upsert(lad)
		totals.Rows[i].Values[0]++
		if r := strings.TrimSpace(row[ratingIdx]); r != "" {
			j := counts.Upsert(lad)
			counts.Set(j, r, counts.At(j, r)+1)
		}
	}
	totals.SortByKey()
	counts.SortByKey()
	return totals, counts
}

// duplicateNames counts rows whose name occurs more than once.
func duplicateNames(rows [][]string, nameIdx int) int {
	seen := make(map[string]int, len(rows))
	for _, row := range rows {
		if nameIdx < len(row) {
			seen[row[nameIdx]]++
		}
	}
	n := 0
	for _, c := range seen {
		if c > 1 {
			n += c
		}
	}
	return n
}

func normalizePostcode(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// concat pads row to width and appends extra.
func concat(row []string, width int, extra []string) []string {
	out := make([]string, width, width+len(extra))
	copy(out, row)
	return append(out, extra...)
}
