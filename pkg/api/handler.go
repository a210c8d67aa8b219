// Package api serves the interactive map page, the JSON API and the MCP
// tools over one atlas.
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/cors"

	"github.com/hazyhaar/areastat/pkg/aggregate"
	"github.com/hazyhaar/areastat/pkg/atlas"
	"github.com/hazyhaar/areastat/pkg/choropleth"
	"github.com/hazyhaar/areastat/pkg/kit"
)

// Version is reported by the MCP server.
var Version = "dev"

// defaultMetric is preselected on the page when present.
const defaultMetric = "agencies_per_10k_70plus"

// NewRouter returns an http.Handler with all areastat routes.
func NewRouter(a *atlas.Atlas, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	eps := newEndpoints(a, logger)
	h := &handler{atlas: a, eps: eps, logger: logger}

	mux.HandleFunc("GET /{$}", h.handlePage)
	mux.HandleFunc("GET /v1/metrics", h.handleMetrics)
	mux.HandleFunc("GET /v1/levels", h.handleLevels)
	mux.HandleFunc("GET /v1/areas", h.handleAreas)
	mux.HandleFunc("GET /v1/unmatched", h.handleUnmatched)
	mux.HandleFunc("GET /v1/map", h.handleMap)
	mux.HandleFunc("GET /v1/chart.png", h.handleChart)
	mux.HandleFunc("GET /v1/reload", methodNotAllowed)
	mux.HandleFunc("POST /v1/reload", h.handleReload)
	mux.HandleFunc("GET /v1/health", h.handleHealth)

	mcpSrv := server.NewMCPServer("areastat", Version, server.WithToolCapabilities(false))
	registerMCPTools(mcpSrv, eps)
	mux.Handle("/mcp", server.NewStreamableHTTPServer(mcpSrv))

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", kit.RequestIDHeader, "Mcp-Session-Id"},
		ExposedHeaders: []string{kit.RequestIDHeader, "Mcp-Session-Id"},
	})
	return kit.RequestID(c.Handler(mux))
}

type handler struct {
	atlas  *atlas.Atlas
	eps    *endpoints
	logger *slog.Logger
}

// --- JSON API ---

func (h *handler) handleMetrics(w http.ResponseWriter, r *http.Request) {
	resp, err := h.eps.listMetrics(r.Context(), nil)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) handleLevels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]levelInfo{"levels": levelInfos(h.atlas)})
}

func (h *handler) handleAreas(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	top, err := parseTop(q.Get("top"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	resp, err := h.eps.aggregate(r.Context(), &areasReq{
		Level:  q.Get("level"),
		Metric: q.Get("metric"),
		Top:    top,
	})
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) handleUnmatched(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	resp, err := h.eps.unmatched(r.Context(), &unmatchedReq{Level: q.Get("level"), Metric: q.Get("metric")})
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) handleMap(w http.ResponseWriter, r *http.Request) {
	v, ok := h.view(w, r)
	if !ok {
		return
	}
	if v.Map == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no boundaries for level %s", v.Level))
		return
	}
	data, err := v.Map.GeoJSON()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.Write(data)
}

func (h *handler) handleChart(w http.ResponseWriter, r *http.Request) {
	v, ok := h.view(w, r)
	if !ok {
		return
	}
	top, err := parseTop(r.URL.Query().Get("top"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if top == 0 {
		top = h.atlas.Top()
	}
	var buf bytes.Buffer
	if err := choropleth.BarChart(&buf, v.Top(top), v.Metric); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(buf.Bytes())
}

// view resolves the level and metric query parameters into a view, writing
// the error response itself when it fails.
func (h *handler) view(w http.ResponseWriter, r *http.Request) (*atlas.View, bool) {
	q := r.URL.Query()
	lvl, err := resolveLevel(h.atlas, q.Get("level"))
	if err != nil {
		writeFailure(w, err)
		return nil, false
	}
	v, err := h.atlas.View(lvl, q.Get("metric"))
	if err != nil {
		writeFailure(w, err)
		return nil, false
	}
	return v, true
}

func (h *handler) handleReload(w http.ResponseWriter, _ *http.Request) {
	if err := h.atlas.Reload(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.logger.Info("atlas reloaded via API")
	writeJSON(w, http.StatusOK, h.atlas.Status())
}

type healthResponse struct {
	State string `json:"status"`
	atlas.Status
}

func (h *handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	st := h.atlas.Status()
	resp := healthResponse{State: "ok", Status: st}
	if st.Error != "" {
		resp.State = "degraded"
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- page ---

func (h *handler) handlePage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	data, err := BuildPage(h.atlas, q.Get("level"), q["metric"], q.Get("zoom"), true)
	if err != nil {
		writeFailure(w, err)
		return
	}
	h.writePage(w, data)
}

// BuildPage assembles the page for metrics at level, centred on zone. When
// nothing is loaded the page carries only the warning banner. Charts link
// back to /v1/chart.png when withCharts is set.
func BuildPage(a *atlas.Atlas, level string, metrics []string, zone string, withCharts bool) (choropleth.PageData, error) {
	data := choropleth.PageData{Title: a.Title()}
	if err := a.Err(); err != nil {
		data.Warning = err.Error()
	}

	all, err := a.Metrics()
	if err != nil {
		data.Warning = err.Error()
		data.Center, data.Zoom = a.Viewport("")
		return data, nil
	}
	lvl, err := resolveLevel(a, level)
	if err != nil {
		return data, err
	}
	if len(metrics) == 0 && len(all) > 0 {
		metrics = []string{all[0]}
		for _, m := range all {
			if m == defaultMetric {
				metrics[0] = m
			}
		}
	}

	for _, l := range a.Levels() {
		data.Levels = append(data.Levels, choropleth.Option{Value: string(l), Label: l.Label(), Selected: l == lvl})
	}
	selected := make(map[string]bool, len(metrics))
	for _, m := range metrics {
		selected[m] = true
	}
	for _, m := range all {
		data.Metrics = append(data.Metrics, choropleth.Option{Value: m, Label: m, Selected: selected[m]})
	}
	for _, z := range a.Zones() {
		data.Zooms = append(data.Zooms, choropleth.Option{Value: z, Label: z, Selected: z == zone})
	}
	data.Center, data.Zoom = a.Viewport(zone)

	seen := make(map[string]bool)
	for i, m := range metrics {
		v, err := a.View(lvl, m)
		if err != nil {
			return data, err
		}
		panel, err := newPanel(fmt.Sprintf("map%d", i), v, a.Top(), withCharts)
		if err != nil {
			return data, err
		}
		data.Panels = append(data.Panels, panel)
		for _, u := range v.Unmatched {
			if !seen[u.Name] {
				seen[u.Name] = true
				data.Unmatched = append(data.Unmatched, u.Name)
			}
		}
	}
	return data, nil
}

func newPanel(id string, v *atlas.View, top int, withChart bool) (choropleth.Panel, error) {
	var chart string
	if withChart {
		chart = "/v1/chart.png?" + url.Values{
			"level":  {string(v.Level)},
			"metric": {v.Metric},
			"top":    {strconv.Itoa(top)},
		}.Encode()
	}
	if v.Map == nil {
		return choropleth.Panel{ID: id, Metric: v.Metric, GeoJSON: template.JS("null"), Top: v.Top(top), ChartURL: chart}, nil
	}
	return choropleth.NewPanel(id, v.Map, v.Top(top), chart)
}

func (h *handler) writePage(w http.ResponseWriter, data choropleth.PageData) {
	var buf bytes.Buffer
	if err := choropleth.WritePage(&buf, data); err != nil {
		h.logger.Error("render page", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}

// --- helpers ---

func parseTop(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid top %q", s)
	}
	return n, nil
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, aggregate.ErrUnknownLevel), errors.Is(err, aggregate.ErrUnknownMetric):
		return http.StatusBadRequest
	case errors.Is(err, aggregate.ErrNoData):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeFailure(w http.ResponseWriter, err error) {
	writeError(w, errorStatus(err), err.Error())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func methodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}
