// Package mcp is the stdio serving surface: it exposes the search
// service's refresh and query operations as tools.
package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/server"

	"github.com/adelbertc/ensime-server/internal/project"
	"github.com/adelbertc/ensime-server/internal/search"
)

const (
	// ServerName is the MCP server name
	ServerName = "ensime-index"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp     *server.MCPServer
	service *search.SearchService
}

// NewServer creates a server over the configured project.
func NewServer(config *project.Config, resolver project.SourceResolver) (*Server, error) {
	service, err := search.NewSearchService(config, resolver)
	if err != nil {
		return nil, err
	}
	return NewServerWith(service), nil
}

// NewServerWith wires a server over an existing search service.
func NewServerWith(service *search.SearchService) *Server {
	mcpServer := server.NewMCPServer(ServerName, ServerVersion)
	s := &Server{mcp: mcpServer, service: service}
	s.registerTools()
	return s
}

// Serve starts the MCP server on stdio and blocks until shutdown
func (s *Server) Serve(ctx context.Context) error {
	defer func() { _ = s.service.Close() }()
	return server.ServeStdio(s.mcp)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(refreshIndexTool(), s.handleRefreshIndex)
	s.mcp.AddTool(searchClassesTool(), s.handleSearchClasses)
	s.mcp.AddTool(searchClassesMethodsTool(), s.handleSearchClassesMethods)
	s.mcp.AddTool(findFqnTool(), s.handleFindFqn)
}
