package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// searchReviewsTool returns the tool definition for search_reviews
func searchReviewsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_reviews",
		Description: "Search music reviews by mood, instrumentation, genre or free text using hybrid vector and keyword retrieval",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Search query, e.g. 'melancholic piano with tape hiss'",
				},
				"top_n": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results to return (1-100)",
					"default":     20,
					"minimum":     1,
					"maximum":     100,
				},
				"k": map[string]interface{}{
					"type":        "number",
					"description": "Reciprocal Rank Fusion constant; larger values flatten rank differences",
					"default":     60,
					"minimum":     0,
				},
			},
			Required: []string{"query"},
		},
	}
}

// ingestReviewsTool returns the tool definition for ingest_reviews
func ingestReviewsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "ingest_reviews",
		Description: "Chunk, tag and embed stored reviews that are not yet searchable",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"rebuild": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, drop the vector and keyword indexes and rebuild them from stored chunks",
					"default":     false,
				},
			},
		},
	}
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_status",
		Description: "Report corpus size, index coverage and health",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}
