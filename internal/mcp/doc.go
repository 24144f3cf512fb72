// Package mcp implements the Model Context Protocol (MCP) server for crateseek.
//
// The MCP server exposes three tools to AI assistants:
//   - search_reviews: Hybrid search over indexed music reviews
//   - ingest_reviews: Chunk, tag and embed stored reviews
//   - get_status: Corpus size, index coverage and health
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// # Basic Usage
//
// The MCP server is started via the mcp command:
//
//	crateseek mcp --config crateseek.yaml
//
// It then listens on stdin for MCP protocol messages and writes responses to
// stdout. Logs go to stderr.
//
// # Tool: search_reviews
//
//	Request:
//	{
//	  "name": "search_reviews",
//	  "arguments": {"query": "melancholic piano with tape hiss", "top_n": 5, "k": 60}
//	}
//
//	Response:
//	{
//	  "query": "melancholic piano with tape hiss",
//	  "results": [
//	    {
//	      "rank": 1,
//	      "artist": "Grouper",
//	      "title": "Ruins",
//	      "tags": "Melancholic, Piano, Lo-fi, Tape hiss",
//	      "score": 8.4,
//	      "url": "https://example.com/reviews/ruins",
//	      "relevance": 0.0328
//	    }
//	  ],
//	  "total_results": 1,
//	  "lexical_degraded": false
//	}
//
// # Tool: ingest_reviews
//
//	Request:  {"name": "ingest_reviews", "arguments": {"rebuild": false}}
//	Response: {"chunks_created": 412, "tag_failures": 3, "embeddings_created": 412, ...}
//
// Ingestion runs synchronously. A concurrent call fails with code -32002.
// Cached search results are dropped once a run finishes.
//
// # Tool: get_status
//
//	Request:  {"name": "get_status", "arguments": {}}
//	Response: {"statistics": {"documents_count": 120, ...}, "health": {...}}
//
// # Error Codes
//
//	-32602  Invalid parameters (bad top_n or k, dimension mismatch)
//	-32603  Internal error
//	-32001  Embedding or tag service unavailable
//	-32002  Ingestion already in progress
//	-32004  Empty query
package mcp
