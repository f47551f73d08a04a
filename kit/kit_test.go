package kit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func TestChain_Order(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next Endpoint) Endpoint {
			return func(ctx context.Context, req any) (any, error) {
				order = append(order, name+"_before")
				resp, err := next(ctx, req)
				order = append(order, name+"_after")
				return resp, err
			}
		}
	}
	base := func(_ context.Context, _ any) (any, error) {
		order = append(order, "endpoint")
		return "ok", nil
	}

	chained := Chain(mw("a"), mw("b"))(base)
	resp, err := chained(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp != "ok" {
		t.Fatalf("response: got %v", resp)
	}
	expected := []string{"a_before", "b_before", "endpoint", "b_after", "a_after"}
	if len(order) != len(expected) {
		t.Fatalf("order length: got %d, want %d", len(order), len(expected))
	}
	for i, v := range expected {
		if order[i] != v {
			t.Fatalf("order[%d]: got %q, want %q", i, order[i], v)
		}
	}
}

func TestChain_ErrorPropagation(t *testing.T) {
	errFail := errors.New("fail")
	base := func(_ context.Context, _ any) (any, error) {
		return nil, errFail
	}
	noop := func(next Endpoint) Endpoint { return next }
	_, err := Chain(noop)(base)(context.Background(), nil)
	if !errors.Is(err, errFail) {
		t.Fatalf("error: got %v, want %v", err, errFail)
	}
}

func TestContext_Transport(t *testing.T) {
	if v := GetTransport(context.Background()); v != "http" {
		t.Fatalf("default transport: got %q, want 'http'", v)
	}
	if v := GetTransport(WithTransport(context.Background(), "mcp")); v != "mcp" {
		t.Fatalf("transport: got %q", v)
	}
}

func TestContext_Values(t *testing.T) {
	ctx := context.Background()
	if GetTraceID(ctx) != "" || GetSiteID(ctx) != "" {
		t.Fatal("empty context should yield empty values")
	}
	if attrs := LogAttrs(ctx); len(attrs) != 2 {
		t.Fatalf("LogAttrs on empty context: got %v", attrs)
	}
	ctx = WithSiteID(WithTraceID(ctx, "trc_1"), "steam")
	if v := GetTraceID(ctx); v != "trc_1" {
		t.Fatalf("trace_id: got %q", v)
	}
	if v := GetSiteID(ctx); v != "steam" {
		t.Fatalf("site_id: got %q", v)
	}
	if attrs := LogAttrs(ctx); len(attrs) != 6 || attrs[5] != "steam" {
		t.Fatalf("LogAttrs: got %v", attrs)
	}
}

func TestRecover(t *testing.T) {
	boom := func(context.Context, any) (any, error) { panic("boom") }
	_, err := Recover()(boom)(context.Background(), nil)
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("Recover: got %v", err)
	}
}

func TestLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	fail := func(context.Context, any) (any, error) { return nil, errors.New("upstream") }

	ctx := WithSiteID(WithTransport(context.Background(), "mcp"), "lastfm")
	if _, err := Logging(logger, "mirror_refresh")(fail)(ctx, nil); err == nil {
		t.Fatal("Logging must pass errors through")
	}
	out := buf.String()
	for _, want := range []string{"level=WARN", "op=mirror_refresh", "transport=mcp", "site=lastfm", "error=upstream"} {
		if !strings.Contains(out, want) {
			t.Fatalf("log %q: missing %q", out, want)
		}
	}
}

type echoReq struct {
	Site string `json:"site"`
}

func TestRegisterMCPTool(t *testing.T) {
	// WHAT: Arguments decode into the typed request, the context carries the
	// mcp transport, a trace id and the enriched site, and errors become tool errors.
	// WHY: Every mirror tool relies on this plumbing.
	impl := &mcp.Implementation{Name: "kit-test", Version: "0.1.0"}
	srv := mcp.NewServer(impl, nil)
	RegisterMCPTool(srv, MCPTool[echoReq]{
		Tool: &mcp.Tool{Name: "echo", InputSchema: map[string]any{"type": "object"}},
		Endpoint: func(ctx context.Context, req any) (any, error) {
			r := req.(*echoReq)
			if r.Site == "bad" {
				return nil, errors.New("bad site")
			}
			return map[string]string{
				"site":      GetSiteID(ctx),
				"transport": GetTransport(ctx),
				"trace":     GetTraceID(ctx),
			}, nil
		},
		Enrich: func(ctx context.Context, r *echoReq) context.Context { return WithSiteID(ctx, r.Site) },
		Middleware: []Middleware{Recover()},
	})

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.Run(ctx, serverT) }()
	session, err := mcp.NewClient(impl, nil).Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	defer session.Close()

	res, err := session.CallTool(ctx, &mcp.CallToolParams{Name: "echo", Arguments: map[string]any{"site": "steam"}})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if err := res.GetError(); err != nil {
		t.Fatalf("tool error: %v", err)
	}
	var got map[string]string
	if err := json.Unmarshal([]byte(res.Content[0].(*mcp.TextContent).Text), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["site"] != "steam" || got["transport"] != "mcp" || len(got["trace"]) != 12 {
		t.Fatalf("context: got %v", got)
	}

	res, err = session.CallTool(ctx, &mcp.CallToolParams{Name: "echo", Arguments: map[string]any{"site": "bad"}})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if !res.IsError {
		t.Fatal("endpoint error: want tool error")
	}
}
