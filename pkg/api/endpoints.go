package api

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/areastat/pkg/aggregate"
	"github.com/hazyhaar/areastat/pkg/atlas"
	"github.com/hazyhaar/areastat/pkg/kit"
	"github.com/hazyhaar/areastat/pkg/table"
)

// Shared request/response types used by both HTTP and MCP transports.

type levelInfo struct {
	Name  string `json:"name"`
	Label string `json:"label"`
}

type metricsResponse struct {
	Metrics []string    `json:"metrics"`
	Levels  []levelInfo `json:"levels"`
}

type areasReq struct {
	Level  string
	Metric string
	Top    int
}

type areasResponse struct {
	Level     aggregate.Level   `json:"level"`
	Metric    string            `json:"metric"`
	Rows      []table.Ranked    `json:"rows"`
	Report    aggregate.Report  `json:"report"`
	Unmatched []atlas.Unmatched `json:"unmatched"`
}

type unmatchedReq struct {
	Level  string
	Metric string
}

type unmatchedResponse struct {
	Level     aggregate.Level   `json:"level"`
	Unmatched []atlas.Unmatched `json:"unmatched"`
	// NoAgencyData lists districts with population but no agency row.
	NoAgencyData []string `json:"no_agency_data"`
}

type endpoints struct {
	listMetrics kit.Endpoint
	aggregate   kit.Endpoint
	unmatched   kit.Endpoint
}

func newEndpoints(a *atlas.Atlas, logger *slog.Logger) *endpoints {
	return &endpoints{
		listMetrics: kit.Logging(logger, "list_metrics")(listMetricsEndpoint(a)),
		aggregate:   kit.Logging(logger, "aggregate_metric")(aggregateEndpoint(a)),
		unmatched:   kit.Logging(logger, "unmatched_areas")(unmatchedEndpoint(a)),
	}
}

func listMetricsEndpoint(a *atlas.Atlas) kit.Endpoint {
	return func(_ context.Context, _ any) (any, error) {
		metrics, err := a.Metrics()
		if err != nil {
			return nil, err
		}
		return metricsResponse{Metrics: metrics, Levels: levelInfos(a)}, nil
	}
}

func aggregateEndpoint(a *atlas.Atlas) kit.Endpoint {
	return func(_ context.Context, request any) (any, error) {
		req := request.(*areasReq)
		if req.Metric == "" {
			return nil, fmt.Errorf("%w: metric is required", aggregate.ErrUnknownMetric)
		}
		lvl, err := resolveLevel(a, req.Level)
		if err != nil {
			return nil, err
		}
		v, err := a.View(lvl, req.Metric)
		if err != nil {
			return nil, err
		}
		top := req.Top
		if top == 0 {
			top = a.Top()
		}
		return areasResponse{
			Level:     v.Level,
			Metric:    v.Metric,
			Rows:      v.Top(top),
			Report:    v.Report,
			Unmatched: v.Unmatched,
		}, nil
	}
}

func unmatchedEndpoint(a *atlas.Atlas) kit.Endpoint {
	return func(_ context.Context, request any) (any, error) {
		req := request.(*unmatchedReq)
		lvl, err := resolveLevel(a, req.Level)
		if err != nil {
			return nil, err
		}
		metric := req.Metric
		if metric == "" {
			metric = a.Status().AgencyColumn
		}
		v, err := a.View(lvl, metric)
		if err != nil {
			return nil, err
		}
		resp := unmatchedResponse{
			Level:        lvl,
			Unmatched:    v.Unmatched,
			NoAgencyData: a.Status().Join.Unmatched,
		}
		if resp.NoAgencyData == nil {
			resp.NoAgencyData = []string{}
		}
		return resp, nil
	}
}

// resolveLevel parses s, defaulting to the coarsest configured level.
func resolveLevel(a *atlas.Atlas, s string) (aggregate.Level, error) {
	if s == "" {
		levels := a.Levels()
		if len(levels) == 0 {
			return "", aggregate.ErrNoData
		}
		return levels[0], nil
	}
	return aggregate.ParseLevel(s)
}

func levelInfos(a *atlas.Atlas) []levelInfo {
	out := []levelInfo{}
	for _, l := range a.Levels() {
		out = append(out, levelInfo{Name: string(l), Label: l.Label()})
	}
	return out
}
