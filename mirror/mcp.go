package mirror

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/profilemirror/kit"
)

// RegisterMCP registers the mirror tools on an MCP server.
func (m *Mirror) RegisterMCP(srv *mcp.Server) {
	m.registerSnapshotTool(srv)
	m.registerRefreshTool(srv)
}

func inputSchema(properties map[string]any) map[string]any {
	return map[string]any{"type": "object", "properties": properties}
}

type siteReq struct {
	Site string `json:"site"`
}

func enrichSite(ctx context.Context, r *siteReq) context.Context {
	if r.Site == "" {
		return ctx
	}
	return kit.WithSiteID(ctx, r.Site)
}

func (m *Mirror) tool(tool *mcp.Tool, endpoint kit.Endpoint) kit.MCPTool[siteReq] {
	return kit.MCPTool[siteReq]{
		Tool:       tool,
		Endpoint:   endpoint,
		Enrich:     enrichSite,
		Middleware: []kit.Middleware{kit.Logging(m.logger, tool.Name), kit.Recover()},
	}
}

var siteProperty = map[string]any{
	"site": map[string]any{"type": "string", "description": "Site id; omit for every site"},
}

func (m *Mirror) registerSnapshotTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "mirror_snapshot",
		Description: "Current mirrored profile data: every site's payload with source and freshness status, or one site's payload.",
		InputSchema: inputSchema(siteProperty),
	}
	endpoint := func(_ context.Context, req any) (any, error) {
		r := req.(*siteReq)
		snap := m.Snapshot()
		if r.Site == "" {
			return snap, nil
		}
		p, ok := snap.Site(r.Site)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownSite, r.Site)
		}
		return p, nil
	}
	kit.RegisterMCPTool(srv, m.tool(tool, endpoint))
}

func (m *Mirror) registerRefreshTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "mirror_refresh",
		Description: "Refresh one site now, or every site concurrently. Sites already refreshing are skipped.",
		InputSchema: inputSchema(siteProperty),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*siteReq)
		if r.Site == "" {
			results, err := m.RefreshAll(ctx)
			if err != nil {
				return nil, err
			}
			return map[string]any{"results": results}, nil
		}
		res, err := m.RefreshSite(ctx, r.Site)
		if err != nil {
			return nil, err
		}
		return map[string]any{"results": []RefreshResult{res}}, nil
	}
	kit.RegisterMCPTool(srv, m.tool(tool, endpoint))
}
