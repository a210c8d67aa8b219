package kit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

func TestChain_Order(t *testing.T) {
	var trace []string
	mw := func(name string) Middleware {
		return func(next Endpoint) Endpoint {
			return func(ctx context.Context, req any) (any, error) {
				trace = append(trace, name)
				return next(ctx, req)
			}
		}
	}
	ep := Chain(mw("a"), mw("b"), mw("c"))(func(context.Context, any) (any, error) {
		trace = append(trace, "endpoint")
		return nil, nil
	})
	if _, err := ep(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	if got := strings.Join(trace, ","); got != "a,b,c,endpoint" {
		t.Errorf("order = %s", got)
	}
}

func TestRequestID(t *testing.T) {
	var seen, transport string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
		transport = GetTransport(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if len(seen) != 36 || rec.Header().Get(RequestIDHeader) != seen {
		t.Errorf("generated id = %q, header = %q", seen, rec.Header().Get(RequestIDHeader))
	}
	if transport != "http" {
		t.Errorf("transport = %q", transport)
	}

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if seen != "abc-123" || rec.Header().Get(RequestIDHeader) != "abc-123" {
		t.Errorf("client id not kept: %q", seen)
	}
}

func TestLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	failing := Logging(logger, "aggregate_metric")(func(context.Context, any) (any, error) {
		return nil, errors.New("boom")
	})
	ctx := WithTransport(WithRequestID(context.Background(), "r1"), "mcp")
	if _, err := failing(ctx, nil); err == nil {
		t.Fatal("error swallowed")
	}
	out := buf.String()
	for _, want := range []string{"level=WARN", "endpoint=aggregate_metric", "transport=mcp", "request_id=r1", "error=boom"} {
		if !strings.Contains(out, want) {
			t.Errorf("log %q missing %q", out, want)
		}
	}
}

func TestArgs(t *testing.T) {
	args := Args{"level": " region ", "top": 5.0, "bad": -1.0, "frac": 2.5, "num": 3.0}

	if s, err := args.String("level"); err != nil || s != "region" {
		t.Errorf("String(level) = %q, %v", s, err)
	}
	if s, err := args.String("missing"); err != nil || s != "" {
		t.Errorf("String(missing) = %q, %v", s, err)
	}
	if _, err := args.String("num"); err == nil {
		t.Error("number accepted as string")
	}
	if n, err := args.Count("top"); err != nil || n != 5 {
		t.Errorf("Count(top) = %d, %v", n, err)
	}
	if n, err := args.Count("missing"); err != nil || n != 0 {
		t.Errorf("Count(missing) = %d, %v", n, err)
	}
	for _, name := range []string{"bad", "frac", "level"} {
		if _, err := args.Count(name); err == nil {
			t.Errorf("Count(%s) accepted", name)
		}
	}
}

func TestRegisterMCPTool(t *testing.T) {
	srv := server.NewMCPServer("test", "0", server.WithToolCapabilities(false))
	var transport, requestID string
	ep := func(ctx context.Context, req any) (any, error) {
		transport, requestID = GetTransport(ctx), GetRequestID(ctx)
		return map[string]any{"top": req}, nil
	}
	RegisterMCPTool(srv, mcp.NewTool("rank"), ep, func(args Args) (any, error) {
		n, err := args.Count("top")
		return n, err
	})

	call := func(args string) string {
		msg := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"rank","arguments":` + args + `}}`
		out, err := json.Marshal(srv.HandleMessage(context.Background(), json.RawMessage(msg)))
		if err != nil {
			t.Fatal(err)
		}
		return string(out)
	}

	out := call(`{"top":3}`)
	if !strings.Contains(out, `{\"top\":3}`) || transport != "mcp" || len(requestID) != 36 {
		t.Errorf("out = %s, transport = %q, request id = %q", out, transport, requestID)
	}
	out = call(`{"top":-2}`)
	if !strings.Contains(out, `"isError":true`) || !strings.Contains(out, "invalid arguments") {
		t.Errorf("negative top = %s", out)
	}
}
