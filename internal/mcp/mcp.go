// Package mcp implements the Model Context Protocol server for the CCE.
//
// The MCP server exposes the read side of the HTTP API through MCP tools,
// resources, and prompts so that MCP-compatible agents can inspect conflict,
// theatre, front, alliance, relation, and world state. Nothing here writes.
package mcp

import (
	"log/slog"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Project-GHOSTLINE/live-monitor-sub001/internal/service/query"
)

// Server wraps the MCP server with the CCE query service.
type Server struct {
	mcpServer *mcpserver.MCPServer
	queries   *query.Service
	logger    *slog.Logger
}

// New creates and configures a new MCP server with all resources, tools, and prompts.
func New(queries *query.Service, logger *slog.Logger, version string) *Server {
	s := &Server{
		queries: queries,
		logger:  logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"cce",
		version,
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithPromptCapabilities(true),
		mcpserver.WithInstructions(serverInstructions),
	)

	s.registerResources()
	s.registerTools()
	s.registerPrompts()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

const serverInstructions = `The CCE maintains decayed, aggregated state for geopolitical conflicts.
State is recomputed on a fixed tick; every value here reflects the last completed tick.

Start with cce_world for the global picture, then drill into cce_theatres,
cce_conflicts, cce_fronts, cce_alliances, or cce_relations. All tools are read-only.
Metrics are in [0,1] except momentum, which is signed.`
