package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/server"
	"github.com/pkg/errors"

	"github.com/Zereker/ideahub/internal/connection"
	"github.com/Zereker/ideahub/pkg/log"
)

// Server represents an MCP server
type Server struct {
	logger    *slog.Logger
	handler   *Handler
	mcpServer *server.MCPServer
	name      string
	version   string
}

// ServerConfig contains server configuration
type ServerConfig struct {
	Name    string
	Version string
}

// NewServer creates a new MCP server and registers the connection tools
func NewServer(sessions *connection.Registry, config ServerConfig) *Server {
	s := &Server{
		logger:  log.Logger("mcp"),
		handler: NewHandler(sessions),
		name:    config.Name,
		version: config.Version,
	}

	s.mcpServer = server.NewMCPServer(config.Name, config.Version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	handlers := s.handler.handlers()
	for _, tool := range connectionTools() {
		s.mcpServer.AddTool(tool, handlers[tool.Name])
	}

	return s
}

// MCP 返回底层 MCPServer
func (s *Server) MCP() *server.MCPServer {
	return s.mcpServer
}

// RunStdio runs the MCP server using stdio transport until ctx is done or stdin closes
func (s *Server) RunStdio(ctx context.Context) error {
	s.logger.Info("starting stdio server", "name", s.name, "version", s.version)

	stdio := server.NewStdioServer(s.mcpServer)
	if err := stdio.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return errors.WithMessage(err, "serve stdio")
	}
	return nil
}
