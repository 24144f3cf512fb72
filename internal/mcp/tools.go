package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/crateseek/crateseek/internal/indexer"
	"github.com/crateseek/crateseek/internal/searcher"
	"github.com/crateseek/crateseek/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams       = -32602 // Invalid method parameters
	ErrorCodeInternalError       = -32603 // Internal JSON-RPC error
	ErrorCodeUpstreamUnavailable = -32001 // Embedding or tag service unreachable
	ErrorCodeIngestInProgress    = -32002 // Another ingestion run is already running
	ErrorCodeEmptyQuery          = -32004 // Query parameter is empty
)

const maxTopN = 100

// handleSearchReviews handles the search_reviews tool invocation
func (s *Server) handleSearchReviews(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	query, ok := args["query"].(string)
	if !ok || strings.TrimSpace(query) == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	topN := getIntDefault(args, "top_n", s.searcher.Config().TopN)
	if topN < 1 || topN > maxTopN {
		return nil, newMCPError(ErrorCodeInvalidParams, "top_n must be between 1 and 100", map[string]interface{}{
			"param": "top_n",
			"value": topN,
		})
	}

	req := searcher.Request{Query: query, TopN: topN, Surface: "mcp", UseCache: true}
	if k, ok := getFloat(args, "k"); ok {
		if k < 0 || math.IsNaN(k) || math.IsInf(k, 0) {
			return nil, newMCPError(ErrorCodeInvalidParams, "k must be a number >= 0", map[string]interface{}{
				"param": "k",
				"value": k,
			})
		}
		req.K = &k
	}

	resp, err := s.searcher.Search(ctx, req)
	if err != nil {
		return nil, toolError("search failed", err)
	}

	results := make([]map[string]interface{}, 0, len(resp.Results))
	for _, r := range resp.Results {
		result := map[string]interface{}{
			"rank":      r.Rank,
			"artist":    r.Artist,
			"title":     r.Title,
			"url":       r.URL,
			"relevance": roundTo(r.RelevanceScore, 4),
		}
		if r.Tags != nil {
			result["tags"] = *r.Tags
		}
		if r.Score != nil {
			result["score"] = *r.Score
		}
		results = append(results, result)
	}

	response := map[string]interface{}{
		"query":              query,
		"results":            results,
		"total_results":      len(results),
		"vector_candidates":  resp.VectorCandidates,
		"lexical_candidates": resp.LexicalCandidates,
		"lexical_degraded":   resp.LexicalDegraded,
		"cache_hit":          resp.CacheHit,
		"duration_ms":        resp.Duration.Milliseconds(),
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleIngestReviews handles the ingest_reviews tool invocation
func (s *Server) handleIngestReviews(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]interface{})
	rebuild := getBoolDefault(args, "rebuild", false)

	stats, err := s.ingester.Run(ctx, indexer.Options{Rebuild: rebuild})
	// A failed run may still have committed earlier batches
	if !errors.Is(err, types.ErrIngestInProgress) {
		s.searcher.InvalidateCache()
	}
	if err != nil {
		return nil, toolError("ingestion failed", err)
	}

	response := map[string]interface{}{
		"run_id":             stats.RunID,
		"rebuilt":            stats.Rebuilt,
		"documents_chunked":  stats.DocumentsChunked,
		"chunks_created":     stats.ChunksCreated,
		"chunks_tagged":      stats.ChunksTagged,
		"chunks_retagged":    stats.ChunksRetagged,
		"tag_failures":       stats.TagFailures,
		"embeddings_created": stats.EmbeddingsCreated,
		"lexical_rows":       stats.LexicalRows,
		"duration_ms":        stats.Duration.Milliseconds(),
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status, err := s.status.GetStatus(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to get status", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response := map[string]interface{}{
		"schema_version": status.SchemaVersion,
		"statistics": map[string]interface{}{
			"documents_count":  status.DocumentsCount,
			"chunks_count":     status.ChunksCount,
			"tagged_count":     status.TaggedCount,
			"embeddings_count": status.EmbeddingsCount,
			"lexical_count":    status.LexicalCount,
			"dimensions":       status.Dimensions,
			"index_size_mb":    fmt.Sprintf("%.2f", status.IndexSizeMB),
		},
		"ingesting": status.IngestLockOwner != "",
		"health": map[string]interface{}{
			"database_accessible":  status.Health.DatabaseAccessible,
			"embeddings_available": status.Health.EmbeddingsAvailable,
			"lexical_index_built":  status.Health.LexicalIndexBuilt,
		},
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// Helper functions

// toolError maps a component error onto an MCP error code
func toolError(message string, err error) error {
	data := map[string]interface{}{"error": err.Error()}
	switch {
	case errors.Is(err, types.ErrIngestInProgress):
		return newMCPError(ErrorCodeIngestInProgress, "ingestion already in progress", data)
	case errors.Is(err, types.ErrConfig), errors.Is(err, types.ErrDimensionMismatch), errors.Is(err, searcher.ErrEmptyQuery):
		return newMCPError(ErrorCodeInvalidParams, message, data)
	case errors.Is(err, types.ErrUpstreamUnavailable):
		return newMCPError(ErrorCodeUpstreamUnavailable, message, data)
	default:
		return newMCPError(ErrorCodeInternalError, message, data)
	}
}

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// roundTo rounds v to the given number of decimal places
func roundTo(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getFloat extracts an optional numeric parameter
func getFloat(args map[string]interface{}, key string) (float64, bool) {
	switch val := args[key].(type) {
	case float64:
		return val, true
	case int:
		return float64(val), true
	default:
		return 0, false
	}
}
