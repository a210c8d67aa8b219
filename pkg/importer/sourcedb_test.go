package importer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

// fakeAdapter implements Adapter for test seeding.
type fakeAdapter struct {
	id, target, desc, url, license string
}

func (f *fakeAdapter) ID() string          { return f.id }
func (f *fakeAdapter) Target() string      { return f.target }
func (f *fakeAdapter) Description() string { return f.desc }
func (f *fakeAdapter) DefaultURL() string  { return f.url }
func (f *fakeAdapter) License() string     { return f.license }
func (f *fakeAdapter) Import(context.Context, *Downloader, string, string) error {
	return nil
}

func tempSourceDB(t *testing.T) *SourceDB {
	t.Helper()
	dir := t.TempDir()
	sdb, err := OpenSourceDB(filepath.Join(dir, "sources.db"))
	if err != nil {
		t.Fatalf("OpenSourceDB: %v", err)
	}
	t.Cleanup(func() { sdb.Close() })
	return sdb
}

func TestOpenSourceDB_CreatesTables(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")

	sdb, err := OpenSourceDB(path)
	if err != nil {
		t.Fatalf("OpenSourceDB: %v", err)
	}
	defer sdb.Close()

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("db file not created: %v", err)
	}

	sources, err := sdb.ListSources()
	if err != nil {
		t.Fatalf("ListSources on empty db: %v", err)
	}
	if len(sources) != 0 {
		t.Fatalf("expected 0 sources, got %d", len(sources))
	}
	outs, err := sdb.ListOutputs()
	if err != nil {
		t.Fatalf("ListOutputs on empty db: %v", err)
	}
	if len(outs) != 0 {
		t.Fatalf("expected 0 outputs, got %d", len(outs))
	}
}

func TestSeed_InsertOrIgnore(t *testing.T) {
	sdb := tempSourceDB(t)

	adapters := []Adapter{
		&fakeAdapter{"ons-rgn", "rgn.geojson", "regions", "https://example.com/rgn", "OGL v3"},
		&fakeAdapter{"ons-cty", "cty.geojson", "counties", "https://example.com/cty", "OGL v3"},
	}

	if err := sdb.Seed(adapters); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	url, err := sdb.GetURL("ons-rgn")
	if err != nil {
		t.Fatalf("GetURL: %v", err)
	}
	if url != "https://example.com/rgn" {
		t.Fatalf("expected https://example.com/rgn, got %s", url)
	}

	// Seed again should not overwrite.
	modified := []Adapter{
		&fakeAdapter{"ons-rgn", "rgn.geojson", "regions", "https://changed.com/rgn", "OGL v3"},
	}
	if err := sdb.Seed(modified); err != nil {
		t.Fatalf("Seed again: %v", err)
	}

	url, err = sdb.GetURL("ons-rgn")
	if err != nil {
		t.Fatalf("GetURL after re-seed: %v", err)
	}
	if url != "https://example.com/rgn" {
		t.Fatalf("re-seed should not overwrite, got %s", url)
	}
}

func TestSetURL(t *testing.T) {
	sdb := tempSourceDB(t)

	adapters := []Adapter{
		&fakeAdapter{"ons-rgn", "rgn.geojson", "regions", "https://example.com/original", "OGL v3"},
	}
	if err := sdb.Seed(adapters); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	if err := sdb.SetURL("ons-rgn", "https://example.com/updated"); err != nil {
		t.Fatalf("SetURL: %v", err)
	}

	url, err := sdb.GetURL("ons-rgn")
	if err != nil {
		t.Fatalf("GetURL: %v", err)
	}
	if url != "https://example.com/updated" {
		t.Fatalf("expected updated URL, got %s", url)
	}
}

func TestSetURL_NotFound(t *testing.T) {
	sdb := tempSourceDB(t)

	err := sdb.SetURL("nonexistent", "https://example.com")
	if err == nil {
		t.Fatal("expected error for nonexistent source")
	}
}

func TestUpdateCheck(t *testing.T) {
	sdb := tempSourceDB(t)

	adapters := []Adapter{
		&fakeAdapter{"ons-rgn", "rgn.geojson", "regions", "https://example.com/rgn", "OGL v3"},
	}
	if err := sdb.Seed(adapters); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	if err := sdb.UpdateCheck("ons-rgn", 200, ""); err != nil {
		t.Fatalf("UpdateCheck: %v", err)
	}

	sources, err := sdb.ListSources()
	if err != nil {
		t.Fatalf("ListSources: %v", err)
	}
	if len(sources) != 1 {
		t.Fatalf("expected 1 source, got %d", len(sources))
	}
	src := sources[0]
	if src.Target != "rgn.geojson" {
		t.Fatalf("target = %q", src.Target)
	}
	if src.LastStatus == nil || *src.LastStatus != 200 {
		t.Fatalf("expected last_status=200, got %v", src.LastStatus)
	}
	if src.LastCheck == nil || *src.LastCheck == 0 {
		t.Fatal("expected last_check to be set")
	}
	if src.LastError != nil {
		t.Fatalf("expected nil last_error, got %v", *src.LastError)
	}

	// Now with an error.
	if err := sdb.UpdateCheck("ons-rgn", 404, "not found"); err != nil {
		t.Fatalf("UpdateCheck with error: %v", err)
	}

	sources, _ = sdb.ListSources()
	src = sources[0]
	if src.LastStatus == nil || *src.LastStatus != 404 {
		t.Fatalf("expected last_status=404, got %v", src.LastStatus)
	}
	if src.LastError == nil || *src.LastError != "not found" {
		t.Fatalf("expected last_error='not found', got %v", src.LastError)
	}
}

func TestListSources_Order(t *testing.T) {
	sdb := tempSourceDB(t)

	adapters := []Adapter{
		&fakeAdapter{"z-last", "z.csv", "desc1", "https://example.com/z", "OGL v3"},
		&fakeAdapter{"a-first", "a.csv", "desc2", "https://example.com/a", "OGL v3"},
	}
	if err := sdb.Seed(adapters); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	sources, err := sdb.ListSources()
	if err != nil {
		t.Fatalf("ListSources: %v", err)
	}
	if len(sources) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(sources))
	}
	if sources[0].AdapterID != "a-first" {
		t.Fatalf("expected first source to be 'a-first', got %s", sources[0].AdapterID)
	}
}

func TestMarkImported(t *testing.T) {
	sdb := tempSourceDB(t)
	if err := sdb.Seed([]Adapter{&fakeAdapter{"ons-rgn", "rgn.geojson", "regions", "https://example.com/rgn", "OGL v3"}}); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if err := sdb.MarkImported("ons-rgn"); err != nil {
		t.Fatalf("MarkImported: %v", err)
	}
	sources, _ := sdb.ListSources()
	if sources[0].LastImport == nil {
		t.Fatal("expected last_import to be set")
	}
}

func TestRecordOutput_Upsert(t *testing.T) {
	sdb := tempSourceDB(t)

	if err := sdb.RecordOutput("cqc", "/data/HomeCare_LAD.csv", 300); err != nil {
		t.Fatalf("RecordOutput: %v", err)
	}
	if err := sdb.RecordOutput("population", "/data/pop_aggregated.csv", 296); err != nil {
		t.Fatalf("RecordOutput: %v", err)
	}
	if err := sdb.RecordOutput("cqc", "/data/HomeCare_LAD.csv", 310); err != nil {
		t.Fatalf("RecordOutput again: %v", err)
	}

	outs, err := sdb.ListOutputs()
	if err != nil {
		t.Fatalf("ListOutputs: %v", err)
	}
	if len(outs) != 2 {
		t.Fatalf("expected 2 outputs, got %d", len(outs))
	}
	if outs[0].Path != "/data/HomeCare_LAD.csv" || outs[0].Rows != 310 {
		t.Fatalf("first output = %+v, want updated row count", outs[0])
	}
	if outs[1].Pipeline != "population" {
		t.Fatalf("second output pipeline = %q", outs[1].Pipeline)
	}
}
