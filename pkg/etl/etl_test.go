package etl

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/hazyhaar/areastat/pkg/table"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type memRecorder struct {
	outputs map[string][]string
}

func (m *memRecorder) RecordOutput(pipeline, path string, rows int) error {
	if m.outputs == nil {
		m.outputs = map[string][]string{}
	}
	m.outputs[pipeline] = append(m.outputs[pipeline], filepath.Base(path))
	return nil
}

func write(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

const registry = "Name,Postcode,CQC_Rating\n" +
	"Care A, ls1 4ap ,Good\n" +
	"Care B,LS1 4AP,Outstanding\n" +
	"Care C,YO1 7HH,Good\n" +
	"Care C,YO1 7HH,Inadequate\n" +
	"Care D,ZZ9 9ZZ,Good\n" +
	"Care E,YO1 7HH,\n"

const postcodes = "pcds,oa21cd,lsoa21cd,lsoa21nm,msoa21cd,msoa21nm,ladcd,ladnm,unused\n" +
	"LS1 4AP,E00,E01,Leeds 1,E02,Leeds A,E08000035,Leeds,x\n" +
	"YO1 7HH,E00,E01,York 1,E02,York A,E06000014,York,x\n" +
	"BD1 1AA,E00,E01,Brad 1,E02,Brad A,E08000032,Bradford,x\n"

func TestRunCQC(t *testing.T) {
	root := t.TempDir()
	regPath := filepath.Join(root, "raw", "HomeCare.csv")
	pcPath := filepath.Join(root, "raw", "pcd.csv")
	write(t, regPath, registry)
	write(t, pcPath, postcodes)

	rec := &memRecorder{}
	res, err := RunCQC(context.Background(), CQCConfig{Registry: regPath, Postcodes: pcPath}, rec, discard())
	if err != nil {
		t.Fatalf("RunCQC: %v", err)
	}
	if res.Agencies != 6 || res.Unlocated != 1 {
		t.Errorf("agencies = %d, unlocated = %d", res.Agencies, res.Unlocated)
	}
	if res.DuplicatesBefore != 2 || res.DuplicatesAfter != 2 {
		t.Errorf("duplicates = %d/%d, want 2/2", res.DuplicatesBefore, res.DuplicatesAfter)
	}
	if !reflect.DeepEqual(res.Ratings, []string{"Good", "Inadequate", "Outstanding"}) {
		t.Errorf("ratings = %v", res.Ratings)
	}

	want := []string{"HomeCare_postcodes.csv", "HomeCare_LAD.csv", "HomeCare_LAD_CQC_counts.csv"}
	if !reflect.DeepEqual(rec.outputs["cqc"], want) {
		t.Errorf("recorded = %v, want %v", rec.outputs["cqc"], want)
	}
	dataDir := filepath.Join(root, "data")

	lad, err := table.LoadCSV(filepath.Join(dataDir, "HomeCare_LAD.csv"), table.Options{KeyColumn: "ladnm"})
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := lad.Value("Leeds", "Total_Agencies"); v != 2 {
		t.Errorf("Leeds agencies = %v, want 2", v)
	}
	if v, _ := lad.Value("York", "Total_Agencies"); v != 3 {
		t.Errorf("York agencies = %v, want 3", v)
	}
	if _, ok := lad.Lookup("Bradford"); ok {
		t.Error("district without agencies listed")
	}

	counts, err := table.LoadCSV(filepath.Join(dataDir, "HomeCare_LAD_CQC_counts.csv"), table.Options{KeyColumn: "ladnm"})
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		lad, col string
		want     float64
	}{
		{"Leeds", "Good", 1},
		{"Leeds", "Outstanding_pct", 50},
		{"York", "Good_pct", 50},
		{"York", "Inadequate", 1},
		{"York", "Total_Agencies", 3},
	}
	for _, tt := range tests {
		if v, _ := counts.Value(tt.lad, tt.col); v != tt.want {
			t.Errorf("%s %s = %v, want %v", tt.lad, tt.col, v, tt.want)
		}
	}

	data, err := os.ReadFile(filepath.Join(dataDir, "HomeCare_postcodes.csv"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "Care A,LS1 4AP,Good,LS1 4AP") {
		t.Errorf("postcodes not normalized:\n%s", data)
	}
}

func TestRunCQC_MissingColumn(t *testing.T) {
	dir := t.TempDir()
	write(t, filepath.Join(dir, "reg.csv"), "Name,Postcode\nA,LS1\n")
	write(t, filepath.Join(dir, "pc.csv"), postcodes)
	_, err := RunCQC(context.Background(), CQCConfig{
		Registry: filepath.Join(dir, "reg.csv"), Postcodes: filepath.Join(dir, "pc.csv"), OutDir: dir,
	}, nil, discard())
	if err == nil || !strings.Contains(err.Error(), "CQC_Rating") {
		t.Fatalf("err = %v", err)
	}
}

const populationCSV = "Title\n" +
	"Dataset: mid-2022\n" +
	"Area,Total,Aged 70 to 74 years,Aged 85 years and over,Other\n" +
	"lsoa2021:E01000001:Leeds 001A,1000,50,10,7\n" +
	"lsoa2021:E01000002:Leeds 001B,2000,70,20,7\n" +
	"lsoa2021:E01000003:York 001A,500,30,5,7\n" +
	"lsoa2021:E09999999:Nowhere 001A,400,1,1,7\n"

const lsoaLookup = "LSOA21CD,LSOA21NM,WD23CD,WD23NM,LAD23CD,LAD23NM\n" +
	"E01000001,Leeds 001A,W1,Ward 1,E08000035,Leeds\n" +
	"E01000002,Leeds 001B,W2,Ward 2,E08000035,Leeds\n" +
	"E01000003,York 001A,W3,Ward 3,E06000014,York\n"

func TestRunPopulation(t *testing.T) {
	root := t.TempDir()
	popPath := filepath.Join(root, "raw", "pop.csv")
	lookupPath := filepath.Join(root, "raw", "lsoa.csv")
	write(t, popPath, populationCSV)
	write(t, lookupPath, lsoaLookup)
	out := filepath.Join(root, "out")

	rec := &memRecorder{}
	res, err := RunPopulation(context.Background(), PopulationConfig{
		Population: popPath, SkipRows: 2, Lookup: lookupPath, OutDir: out,
	}, rec, discard())
	if err != nil {
		t.Fatalf("RunPopulation: %v", err)
	}
	if !reflect.DeepEqual(res.Unmatched, []string{"E09999999"}) {
		t.Errorf("unmatched = %v", res.Unmatched)
	}
	if !reflect.DeepEqual(res.Columns, []string{"Total", "Aged 70 to 74 years", "Aged 85 years and over"}) {
		t.Errorf("columns = %v", res.Columns)
	}
	if res.Districts != 2 {
		t.Errorf("districts = %d, want 2", res.Districts)
	}
	if !reflect.DeepEqual(rec.outputs["population"], []string{"pop_merged.csv", "pop_aggregated.csv"}) {
		t.Errorf("recorded = %v", rec.outputs["population"])
	}

	agg, err := table.LoadCSV(filepath.Join(out, "pop_aggregated.csv"), table.Options{KeyColumn: "LAD23NM"})
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := agg.Value("Leeds", "Total"); v != 3000 {
		t.Errorf("Leeds Total = %v, want 3000", v)
	}
	if v, _ := agg.Value("Leeds", "Aged 85 years and over"); v != 30 {
		t.Errorf("Leeds 85+ = %v, want 30", v)
	}
	if agg.HasColumn("Other") {
		t.Error("non-age column aggregated")
	}

	merged, err := table.ReadRecords(filepath.Join(out, "pop_merged.csv"), table.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if got := merged.Get(0, "LSOA_Name"); got != "Leeds 001A" {
		t.Errorf("LSOA_Name = %q", got)
	}
	if got := merged.Get(3, "WD23NM"); got != "" {
		t.Errorf("unmatched row ward = %q, want empty", got)
	}
}

func TestRunPopulation_DuplicateLookupCodes(t *testing.T) {
	root := t.TempDir()
	popPath := filepath.Join(root, "pop.csv")
	lookupPath := filepath.Join(root, "lsoa.csv")
	write(t, popPath, populationCSV)
	write(t, lookupPath, lsoaLookup+
		"E01000001,Leeds 001A,W1,Ward 1,E08000035,Leeds\n"+
		"E01000003,York 001A,W9,Ward 9,E07000165,Harrogate\n")

	var logs bytes.Buffer
	res, err := RunPopulation(context.Background(), PopulationConfig{
		Population: popPath, SkipRows: 2, Lookup: lookupPath, OutDir: filepath.Join(root, "out"),
	}, nil, slog.New(slog.NewTextHandler(&logs, nil)))
	if err != nil {
		t.Fatalf("RunPopulation: %v", err)
	}
	if res.DuplicateCodes != 2 || res.ConflictingCodes != 1 {
		t.Errorf("duplicates = %d, conflicting = %d, want 2 and 1", res.DuplicateCodes, res.ConflictingCodes)
	}
	if !strings.Contains(logs.String(), "duplicate codes") || !strings.Contains(logs.String(), "conflicting_districts=1") {
		t.Errorf("logs = %s", logs.String())
	}

	agg, err := table.LoadCSV(filepath.Join(root, "out", "pop_aggregated.csv"), table.Options{KeyColumn: "LAD23NM"})
	if err != nil {
		t.Fatal(err)
	}
	// The population row is counted once, under the last lookup row.
	if v, _ := agg.Value("Leeds", "Total"); v != 3000 {
		t.Errorf("Leeds Total = %v, want 3000", v)
	}
	if _, ok := agg.Value("York", "Total"); ok {
		t.Error("York kept despite a later lookup row")
	}
	if v, _ := agg.Value("Harrogate", "Total"); v != 500 {
		t.Errorf("Harrogate Total = %v, want 500", v)
	}
}

func TestSplitArea(t *testing.T) {
	tests := []struct{ in, typ, code, name string }{
		{"lsoa2021:E01000001:City of London 001A", "lsoa2021", "E01000001", "City of London 001A"},
		{"lsoa2021 : E01 : A:B", "lsoa2021", "E01", "AB"},
		{"England", "England", "", ""},
	}
	for _, tt := range tests {
		typ, code, name := splitArea(tt.in)
		if typ != tt.typ || code != tt.code || name != tt.name {
			t.Errorf("splitArea(%q) = %q, %q, %q", tt.in, typ, code, name)
		}
	}
}

func TestDerivedPath(t *testing.T) {
	if got := derivedPath("/d", "/x/pop.xlsx", "_merged"); got != filepath.Join("/d", "pop_merged.csv") {
		t.Errorf("derivedPath = %q", got)
	}
}
