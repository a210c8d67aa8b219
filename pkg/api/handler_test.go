package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/server"

	"github.com/hazyhaar/areastat/pkg/atlas"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func testAtlas(t *testing.T) *atlas.Atlas {
	t.Helper()
	a := atlas.New(filepath.Join("..", "atlas", "testdata", "manifest.yaml"), "", 0, discard())
	if err := a.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return a
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestMetricsAndLevels(t *testing.T) {
	h := NewRouter(testAtlas(t), discard())

	rec := get(t, h, "/v1/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp metricsResponse
	decode(t, rec, &resp)
	if len(resp.Metrics) == 0 || len(resp.Levels) != 2 || resp.Levels[0].Name != "region" {
		t.Errorf("resp = %+v", resp)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing request id")
	}

	rec = get(t, h, "/v1/levels")
	if !strings.Contains(rec.Body.String(), `"label":"Local Authority Districts"`) {
		t.Errorf("levels = %s", rec.Body.String())
	}
}

func TestAreas(t *testing.T) {
	h := NewRouter(testAtlas(t), discard())

	rec := get(t, h, "/v1/areas?level=region&metric=Total_Agencies&top=1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	var resp areasResponse
	decode(t, rec, &resp)
	if len(resp.Rows) != 1 || resp.Rows[0].Key != "Yorkshire and The Humber" || resp.Rows[0].Value != 175 {
		t.Errorf("rows = %+v", resp.Rows)
	}
	if resp.Report.Groups != 2 || len(resp.Report.Unmatched) != 1 {
		t.Errorf("report = %+v", resp.Report)
	}
	if len(resp.Unmatched) != 2 {
		t.Errorf("unmatched = %+v", resp.Unmatched)
	}
}

func TestAreas_BadRequests(t *testing.T) {
	h := NewRouter(testAtlas(t), discard())

	cases := []string{
		"/v1/areas?level=region&metric=nope",
		"/v1/areas?level=ward&metric=Total_Agencies",
		"/v1/areas?level=county&metric=Total_Agencies",
		"/v1/areas?level=region",
		"/v1/areas?metric=Total_Agencies&top=x",
		"/v1/map?metric=nope",
	}
	for _, target := range cases {
		rec := get(t, h, target)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", target, rec.Code)
		}
		var body map[string]string
		decode(t, rec, &body)
		if body["error"] == "" {
			t.Errorf("%s: no error message", target)
		}
	}
}

func TestMap(t *testing.T) {
	h := NewRouter(testAtlas(t), discard())

	rec := get(t, h, "/v1/map?level=region&metric=agencies_per_10k_70plus")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/geo+json" {
		t.Errorf("content type = %q", ct)
	}
	var fc struct {
		Features []struct {
			Properties map[string]any `json:"properties"`
		} `json:"features"`
	}
	decode(t, rec, &fc)
	if len(fc.Features) != 3 {
		t.Fatalf("features = %d", len(fc.Features))
	}
	for _, f := range fc.Features {
		if f.Properties["name"] == "North East" && f.Properties["value"] != 0.0 {
			t.Errorf("North East = %v", f.Properties)
		}
	}

	if rec := get(t, h, "/v1/map?level=district&metric=Total_Agencies"); rec.Code != http.StatusNotFound {
		t.Errorf("district map status = %d, want 404", rec.Code)
	}
}

func TestChart(t *testing.T) {
	h := NewRouter(testAtlas(t), discard())

	rec := get(t, h, "/v1/chart.png?level=district&metric=Total_Agencies&top=3")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	if !strings.HasPrefix(rec.Body.String(), "\x89PNG") {
		t.Error("not a PNG")
	}
}

func TestPage(t *testing.T) {
	h := NewRouter(testAtlas(t), discard())

	rec := get(t, h, "/?level=region&metric=agencies_per_10k_70plus&metric=Good_pct&zoom=South+West")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	for _, want := range []string{"Home care agencies (test)", `id="map0"`, `id="map1"`, "North East", "Atlantis", "/v1/chart.png?"} {
		if !strings.Contains(body, want) {
			t.Errorf("page missing %q", want)
		}
	}
	if strings.Contains(body, "Could not build the map") {
		t.Error("unexpected warning banner")
	}
}

func TestPage_WarningWhenNoData(t *testing.T) {
	a := atlas.New(filepath.Join(t.TempDir(), "missing.yaml"), "", 0, discard())
	if err := a.Load(); err == nil {
		t.Fatal("expected load error")
	}
	h := NewRouter(a, discard())

	rec := get(t, h, "/")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "missing.yaml") {
		t.Error("warning banner should carry the load error")
	}
	if rec := get(t, h, "/v1/areas?metric=Total_Agencies&level=region"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("areas status = %d, want 503", rec.Code)
	}

	rec = get(t, h, "/v1/health")
	var health map[string]any
	decode(t, rec, &health)
	if health["status"] != "degraded" {
		t.Errorf("health = %v", health)
	}
}

func TestReload(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join("..", "atlas", "testdata")
	entries, err := os.ReadDir(src)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		data, err := os.ReadFile(filepath.Join(src, e.Name()))
		if err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, e.Name()), data, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	a := atlas.New(filepath.Join(dir, "manifest.yaml"), "", 0, discard())
	if err := a.Load(); err != nil {
		t.Fatal(err)
	}
	h := NewRouter(a, discard())

	if rec := get(t, h, "/v1/reload"); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET reload = %d", rec.Code)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/reload", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("reload = %d %s", rec.Code, rec.Body.String())
	}

	os.Remove(filepath.Join(dir, "population.csv"))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/reload", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("broken reload = %d", rec.Code)
	}
	if rec := get(t, h, "/v1/areas?level=region&metric=Total_Agencies"); rec.Code != http.StatusOK {
		t.Errorf("previous data should still serve, got %d", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	h := NewRouter(testAtlas(t), discard())

	req := httptest.NewRequest(http.MethodOptions, "/v1/areas", nil)
	req.Header.Set("Origin", "https://example.org")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("headers = %v", rec.Header())
	}
}

func callTool(t *testing.T, srv *server.MCPServer, name string, args map[string]any) string {
	t.Helper()
	params, _ := json.Marshal(map[string]any{"name": name, "arguments": args})
	msg := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":` + string(params) + `}`
	resp := srv.HandleMessage(context.Background(), json.RawMessage(msg))
	out, err := json.Marshal(resp)
	if err != nil {
		t.Fatal(err)
	}
	return string(out)
}

func TestMCPTools(t *testing.T) {
	srv := server.NewMCPServer("areastat", "test", server.WithToolCapabilities(false))
	registerMCPTools(srv, newEndpoints(testAtlas(t), discard()))

	out := callTool(t, srv, "aggregate_metric", map[string]any{"metric": "Total_Agencies", "level": "region", "top": 1})
	if !strings.Contains(out, "Yorkshire and The Humber") || strings.Contains(out, `"isError":true`) {
		t.Errorf("aggregate_metric = %s", out)
	}

	out = callTool(t, srv, "unmatched_areas", map[string]any{"level": "region"})
	if !strings.Contains(out, "Atlantiss") {
		t.Errorf("unmatched_areas = %s", out)
	}

	out = callTool(t, srv, "list_metrics", nil)
	if !strings.Contains(out, "agencies_per_10k_70plus") {
		t.Errorf("list_metrics = %s", out)
	}

	out = callTool(t, srv, "aggregate_metric", map[string]any{"metric": "nope"})
	if !strings.Contains(out, `"isError":true`) {
		t.Errorf("unknown metric should be a tool error: %s", out)
	}
}
