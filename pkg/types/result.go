package types

// FusedResult is one entry of a fused ranking, before hydration
type FusedResult struct {
	ChunkID int64
	Score   float64
}

// SearchResult represents a single search result with relevance information
type SearchResult struct {
	// Identification
	ChunkID    int64
	DocumentID int64
	Rank       int // Position in result set (1-based)

	// Scoring
	RelevanceScore float64 // Reciprocal Rank Fusion score

	// Metadata
	Tags   *string
	Artist string
	Title  string
	Score  *float64 // Review rating, not relevance
	URL    string
}
