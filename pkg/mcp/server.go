package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
)

// instructions is sent to clients on initialize.
const instructions = `obra-engine exposes the construction-project tablas of an owner.
Call list_tablas first to learn tabla IDs and column keys, then get_tabla_rows
to read materialized rows. Formula columns are computed server-side and are
read-only. resolve_extraction_links maps a documents folder to the tablas its
files are imported into; progress_curve returns plan and actual series.`

// Server wraps the mcp-go MCPServer used by obra-engine.
type Server struct {
	mcp    *server.MCPServer
	logger *zap.Logger
}

// NewServer creates the MCP server. Every tool call goes through the
// CallLogger hooks so it is logged and counted.
func NewServer(name, version string, logger *zap.Logger) *Server {
	calls := NewCallLogger(logger)
	return &Server{
		mcp: server.NewMCPServer(
			name,
			version,
			server.WithToolCapabilities(true),
			server.WithInstructions(instructions),
			server.WithRecovery(),
			server.WithHooks(calls.Hooks()),
		),
		logger: logger,
	}
}

// MCP returns the underlying MCPServer for tool registration.
func (s *Server) MCP() *server.MCPServer {
	return s.mcp
}

// NewStreamableHTTPServer returns a stateless HTTP transport. The caller's
// mux decides the mount path.
func (s *Server) NewStreamableHTTPServer() *server.StreamableHTTPServer {
	return server.NewStreamableHTTPServer(s.mcp, server.WithStateLess(true))
}

// RegisterTool adds a single tool to the server.
func (s *Server) RegisterTool(tool mcp.Tool, handler server.ToolHandlerFunc) {
	s.logger.Debug("Registering MCP tool", zap.String("tool", tool.Name))
	s.mcp.AddTool(tool, handler)
}
