package profwatch

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/vigie/kit"
)

// RegisterMCP registers the monitor tools on an MCP server. The tools share
// the audited endpoints with the HTTP API; only the transport tag differs.
func (svc *Service) RegisterMCP(srv *mcp.Server) {
	svc.registerAddProfile(srv)
	svc.registerRemoveProfile(srv)
	svc.registerListProfiles(srv)
	svc.registerCheckProfile(srv)
	svc.registerStats(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func mcpCtx(ctx context.Context) context.Context {
	return kit.WithTransport(ctx, "mcp")
}

func (svc *Service) registerAddProfile(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "vigie_add_profile",
		Description: "Put a LinkedIn profile URL under job-change watch",
		InputSchema: inputSchema(map[string]any{
			"url":  map[string]any{"type": "string", "description": "Profile URL (https://www.linkedin.com/in/...)"},
			"name": map[string]any{"type": "string", "description": "Optional display label for the roster"},
		}, []string{"url"}),
	}

	decode := func(r *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var p addProfileRequest
		if err := json.Unmarshal(r.Params.Arguments, &p); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &p, EnrichCtx: mcpCtx}, nil
	}

	kit.RegisterMCPTool(srv, tool, svc.endpoints.addProfile, decode)
}

func (svc *Service) registerRemoveProfile(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "vigie_remove_profile",
		Description: "Remove a profile from the watch roster (history is kept)",
		InputSchema: inputSchema(map[string]any{
			"url": map[string]any{"type": "string", "description": "Profile URL"},
		}, []string{"url"}),
	}

	decode := func(r *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var p removeProfileRequest
		if err := json.Unmarshal(r.Params.Arguments, &p); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &p, EnrichCtx: mcpCtx}, nil
	}

	kit.RegisterMCPTool(srv, tool, svc.endpoints.removeProfile, decode)
}

func (svc *Service) registerListProfiles(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "vigie_list_profiles",
		Description: "List watched profiles with their last observed role",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	decode := func(r *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{EnrichCtx: mcpCtx}, nil
	}

	kit.RegisterMCPTool(srv, tool, svc.endpoints.listProfiles, decode)
}

func (svc *Service) registerCheckProfile(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "vigie_check_profile",
		Description: "Check one watched profile immediately and report the outcome",
		InputSchema: inputSchema(map[string]any{
			"url": map[string]any{"type": "string", "description": "Profile URL"},
		}, []string{"url"}),
	}

	decode := func(r *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var p checkProfileRequest
		if err := json.Unmarshal(r.Params.Arguments, &p); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &p, EnrichCtx: mcpCtx}, nil
	}

	kit.RegisterMCPTool(srv, tool, svc.endpoints.checkProfile, decode)
}

func (svc *Service) registerStats(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "vigie_stats",
		Description: "Aggregate monitor counters: roster size, stored profiles, changes",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	decode := func(r *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{EnrichCtx: mcpCtx}, nil
	}

	kit.RegisterMCPTool(srv, tool, svc.endpoints.stats, decode)
}
