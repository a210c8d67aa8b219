package api

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hazyhaar/areastat/pkg/kit"
)

// registerMCPTools registers the areastat MCP tools on the server. They
// dispatch to the same endpoints as the HTTP routes.
func registerMCPTools(srv *server.MCPServer, eps *endpoints) {
	registerListMetrics(srv, eps)
	registerAggregateMetric(srv, eps)
	registerUnmatchedAreas(srv, eps)
}

func registerListMetrics(srv *server.MCPServer, eps *endpoints) {
	tool := mcp.NewTool("list_metrics",
		mcp.WithDescription("List the metrics that can be mapped and the aggregation levels (region, county, district)."),
	)
	kit.RegisterMCPTool(srv, tool, eps.listMetrics, func(kit.Args) (any, error) {
		return nil, nil
	})
}

func registerAggregateMetric(srv *server.MCPServer, eps *endpoints) {
	tool := mcp.NewTool("aggregate_metric",
		mcp.WithDescription("Aggregate a metric to a level and return the areas ranked by value, with the areas that could not be matched."),
		mcp.WithString("metric", mcp.Required(), mcp.Description("Metric name, e.g. agencies_per_10k_70plus")),
		mcp.WithString("level", mcp.Description("region, county or district (default: coarsest configured)")),
		mcp.WithNumber("top", mcp.Description("Number of ranked areas to return (0 = manifest default)")),
	)
	kit.RegisterMCPTool(srv, tool, eps.aggregate, func(args kit.Args) (any, error) {
		req := &areasReq{}
		var err error
		if req.Metric, err = args.String("metric"); err != nil {
			return nil, err
		}
		if req.Level, err = args.String("level"); err != nil {
			return nil, err
		}
		if req.Top, err = args.Count("top"); err != nil {
			return nil, err
		}
		return req, nil
	})
}

func registerUnmatchedAreas(srv *server.MCPServer, eps *endpoints) {
	tool := mcp.NewTool("unmatched_areas",
		mcp.WithDescription("Report districts missing from the level's lookup and boundary features drawn as 0, with likely intended names."),
		mcp.WithString("level", mcp.Description("region, county or district")),
		mcp.WithString("metric", mcp.Description("Metric used for the map join (default: agency count)")),
	)
	kit.RegisterMCPTool(srv, tool, eps.unmatched, func(args kit.Args) (any, error) {
		req := &unmatchedReq{}
		var err error
		if req.Level, err = args.String("level"); err != nil {
			return nil, err
		}
		if req.Metric, err = args.String("metric"); err != nil {
			return nil, err
		}
		return req, nil
	})
}
