package mcp

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/crateseek/crateseek/internal/indexer"
	"github.com/crateseek/crateseek/internal/searcher"
	"github.com/crateseek/crateseek/internal/storage"
)

// ServerName is the MCP server name
const ServerName = "crateseek"

// Searcher runs hybrid searches
type Searcher interface {
	Search(ctx context.Context, req searcher.Request) (*searcher.Response, error)
	InvalidateCache()
	Config() searcher.Config
}

// Ingester runs the ingestion pipeline
type Ingester interface {
	Run(ctx context.Context, opts indexer.Options) (*indexer.Statistics, error)
}

// StatusReader reports index statistics
type StatusReader interface {
	GetStatus(ctx context.Context) (*storage.IndexStatus, error)
}

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp      *server.MCPServer
	searcher Searcher
	ingester Ingester
	status   StatusReader
	logger   zerolog.Logger
}

// NewServer creates a new MCP server instance. The caller owns the
// dependencies and closes them after Serve returns.
func NewServer(version string, srch Searcher, ing Ingester, status StatusReader, logger zerolog.Logger) (*Server, error) {
	if srch == nil || ing == nil || status == nil {
		return nil, fmt.Errorf("mcp server requires searcher, ingester and status reader")
	}

	mcpServer := server.NewMCPServer(
		ServerName,
		version,
		server.WithToolCapabilities(false),
	)

	s := &Server{
		mcp:      mcpServer,
		searcher: srch,
		ingester: ing,
		status:   status,
		logger:   logger,
	}

	if err := s.registerTools(); err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}

	return s, nil
}

// Serve starts the MCP server on stdio and blocks until shutdown
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info().Str("transport", "stdio").Msg("mcp server starting")
	return server.ServeStdio(s.mcp)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() error {
	s.mcp.AddTool(searchReviewsTool(), s.logged("search_reviews", s.handleSearchReviews))
	s.mcp.AddTool(ingestReviewsTool(), s.logged("ingest_reviews", s.handleIngestReviews))
	s.mcp.AddTool(getStatusTool(), s.logged("get_status", s.handleGetStatus))
	return nil
}

// logged wraps a tool handler with a debug entry and an error log
func (s *Server) logged(name string, h server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		s.logger.Debug().Str("tool", name).Msg("tool called")
		result, err := h(ctx, request)
		if err != nil {
			s.logger.Warn().Err(err).Str("tool", name).Msg("tool failed")
		}
		return result, err
	}
}
