package tools

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const healthPingTimeout = 2 * time.Second

// Pinger reports whether the database answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

type healthResult struct {
	Status   string `json:"status"`
	Service  string `json:"service"`
	Version  string `json:"version"`
	Database string `json:"database,omitempty"`
}

// RegisterHealthTool adds a health check tool to the MCP server. With a
// non-nil db the tool also pings the database and reports "degraded" when
// it does not answer.
func RegisterHealthTool(s *server.MCPServer, version string, db Pinger) {
	tool := mcp.NewTool(
		"health",
		mcp.WithDescription("Returns obra-engine health status, version and database reachability"),
		mcp.WithReadOnlyHintAnnotation(true),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		result := healthResult{Status: "ok", Service: "obra-engine", Version: version}
		if db != nil {
			pingCtx, cancel := context.WithTimeout(ctx, healthPingTimeout)
			defer cancel()
			if err := db.Ping(pingCtx); err != nil {
				result.Status = "degraded"
				result.Database = "unreachable"
			} else {
				result.Database = "ok"
			}
		}
		return jsonResult(result)
	})
}
