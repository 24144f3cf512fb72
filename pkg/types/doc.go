// Package types provides shared type definitions for crateseek.
//
// This package defines the domain types used across the ingestion pipeline,
// the retrieval engine and the outer surfaces (HTTP, MCP, CLI).
//
// # Core Types
//
// Document is one music review, the unit users import:
//
//	doc := &types.Document{
//	    ID:       42,
//	    Artist:   "Boards of Canada",
//	    Title:    "Music Has the Right to Children",
//	    FullText: reviewBody,
//	}
//
// Chunk is a window of a document's text and the unit both indices store.
// Its identity is (DocumentID, StartOffset); ID is assigned on insert and is
// the join key shared by the vector index and the lexical index:
//
//	chunk := &types.Chunk{
//	    DocumentID:  42,
//	    StartOffset: 1000,
//	    Text:        window,
//	}
//
// Tags stay nil until the tag generator has produced them.
//
// # Search Results
//
// SearchResult is a hydrated hit, ordered by fused relevance:
//
//	result := types.SearchResult{
//	    ChunkID:        123,
//	    Rank:           1,
//	    RelevanceScore: 0.0325,
//	    Artist:         "Boards of Canada",
//	}
//
// RelevanceScore is a Reciprocal Rank Fusion score. Higher is better and it
// is not normalized to [0, 1].
//
// # Errors
//
// Errors are sentinel values compared with errors.Is. ConfigError carries the
// offending field and unwraps to ErrConfig.
package types
