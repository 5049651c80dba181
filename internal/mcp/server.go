// Package mcp exposes the gateway's owner-side state over the Model Context
// Protocol, so the owner's AI assistant can inspect paired apps, resources,
// and usage without touching the admin HTTP API.
package mcp

import (
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/glueco/keywarden/internal/store"
)

// MCPServer wraps the mcp-go server with Keywarden tool and resource
// registrations. Tools are deliberately owner-scoped: nothing here mints
// codes, reveals secrets, or acts on behalf of a paired app.
type MCPServer struct {
	store  *store.Store
	logger *slog.Logger
	server *server.MCPServer
}

// NewMCPServer creates an MCPServer pre-loaded with all Keywarden tools and
// resources. The returned server is ready to serve over stdio or HTTP.
func NewMCPServer(st *store.Store, logger *slog.Logger) *MCPServer {
	s := &MCPServer{
		store:  st,
		logger: logger,
	}

	mcpServer := server.NewMCPServer(
		"Keywarden Gateway",
		"0.1.0",
		server.WithResourceCapabilities(true, false),
		server.WithToolCapabilities(true),
	)

	s.registerTools(mcpServer)
	s.registerResources(mcpServer)

	s.server = mcpServer
	return s
}

// Server returns the underlying mcp-go MCPServer instance. Useful for
// advanced configuration or testing.
func (s *MCPServer) Server() *server.MCPServer {
	return s.server
}

// ServeStdio starts the MCP server in stdio mode. This is the primary
// integration path for MCP clients that launch the server as a subprocess.
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server in stdio mode")
	return server.ServeStdio(s.server)
}

// ServeHTTP starts the MCP server in Streamable HTTP mode, listening on
// the given address (e.g. ":3001"). This is suitable for remote MCP clients.
func (s *MCPServer) ServeHTTP(addr string) error {
	httpServer := server.NewStreamableHTTPServer(s.server)
	s.logger.Info("MCP HTTP server starting", "addr", addr)
	return httpServer.Start(addr)
}

func readOnlyAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint: boolPtr(true),
	}
}

func mutatingAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint: boolPtr(false),
	}
}

func boolPtr(b bool) *bool {
	return &b
}
