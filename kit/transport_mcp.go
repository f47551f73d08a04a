package kit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/profilemirror/idgen"
)

// MCPTool binds an Endpoint to an MCP tool. Arguments are decoded into a
// fresh Req and passed to Endpoint as *Req.
type MCPTool[Req any] struct {
	Tool     *mcp.Tool
	Endpoint Endpoint
	// Enrich, when set, derives the call context from the decoded request.
	Enrich func(context.Context, *Req) context.Context
	// Middleware wraps Endpoint, outermost first.
	Middleware []Middleware
}

// RegisterMCPTool registers t on srv. Every call gets the "mcp" transport
// and a fresh trace id. Endpoint errors become tool errors; responses are
// returned as JSON text.
func RegisterMCPTool[Req any](srv *mcp.Server, t MCPTool[Req]) {
	endpoint := Chain(t.Middleware...)(t.Endpoint)
	srv.AddTool(t.Tool, func(ctx context.Context, call *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		req := new(Req)
		if args := call.Params.Arguments; len(args) > 0 {
			if err := json.Unmarshal(args, req); err != nil {
				return toolError(fmt.Errorf("invalid arguments: %w", err)), nil
			}
		}
		ctx = WithTraceID(WithTransport(ctx, "mcp"), idgen.TraceID())
		if t.Enrich != nil {
			ctx = t.Enrich(ctx, req)
		}

		resp, err := endpoint(ctx, req)
		if err != nil {
			return toolError(err), nil
		}
		data, err := json.Marshal(resp)
		if err != nil {
			return toolError(fmt.Errorf("marshal: %w", err)), nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil
	})
}

func toolError(err error) *mcp.CallToolResult {
	var res mcp.CallToolResult
	res.SetError(err)
	return &res
}
