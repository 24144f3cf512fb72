package storage

import (
	"context"
	"time"

	"github.com/crateseek/crateseek/pkg/types"
)

// Storage defines the interface for persisting reviews and querying both indices
type Storage interface {
	// Document operations
	InsertDocuments(ctx context.Context, docs []*types.Document) (inserted int, err error)
	GetDocument(ctx context.Context, documentID int64) (*types.Document, error)
	ListUnchunkedDocuments(ctx context.Context, afterID int64, limit int) ([]*types.Document, error)

	// Chunk operations
	InsertChunks(ctx context.Context, chunks []*types.Chunk) (inserted int, err error)
	GetChunk(ctx context.Context, chunkID int64) (*types.Chunk, error)
	ListChunksByDocument(ctx context.Context, documentID int64) ([]*types.Chunk, error)
	ListUntaggedChunks(ctx context.Context, afterID int64, limit int) ([]*types.Chunk, error)
	UpdateChunkTags(ctx context.Context, chunkID int64, tags string) (bool, error)
	ListChunksWithoutEmbedding(ctx context.Context, afterID int64, limit int) ([]*types.Chunk, error)

	// Embedding operations
	InsertEmbedding(ctx context.Context, embedding *Embedding) (bool, error)
	GetEmbedding(ctx context.Context, chunkID int64) (*Embedding, error)

	// Lexical index operations
	ExtendLexicalIndex(ctx context.Context) (int, error)
	ResetIndexes(ctx context.Context) error

	// Search operations
	SearchVector(ctx context.Context, vector []float32, limit int) ([]VectorResult, error)
	SearchText(ctx context.Context, query string, limit int) ([]TextResult, error)
	LookupMetadata(ctx context.Context, chunkIDs []int64) ([]types.Metadata, error)

	// Ingest lock operations
	AcquireIngestLock(ctx context.Context, owner string, staleAfter time.Duration) error
	RefreshIngestLock(ctx context.Context, owner string) error
	ReleaseIngestLock(ctx context.Context, owner string) error

	// Status operations
	GetStatus(ctx context.Context) (*IndexStatus, error)
	IndexGeneration(ctx context.Context) (int64, error)

	// Database operations
	Close() error
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx represents a database transaction
type Tx interface {
	Commit() error
	Rollback() error
	Storage // Embed Storage interface for transaction operations
}

// Embedding represents a vector embedding for a chunk
type Embedding struct {
	ChunkID   int64
	Vector    []float32 // Serialized little-endian on write
	Dimension int
	Provider  string
	Model     string
	CreatedAt time.Time
}

// VectorResult represents a result from nearest-neighbor search
type VectorResult struct {
	ChunkID  int64
	Distance float64 // Cosine distance, lower is closer
}

// TextResult represents a result from full-text search
type TextResult struct {
	ChunkID   int64
	Relevance float64 // Negated BM25, higher is better
}

// IndexStatus contains statistics about the stored corpus and both indices
type IndexStatus struct {
	SchemaVersion   string
	DocumentsCount  int
	ChunksCount     int
	TaggedCount     int
	EmbeddingsCount int
	LexicalCount    int
	Dimensions      []int // Distinct embedding dimensions present
	IndexSizeMB     float64
	IngestLockOwner string // Empty when no ingestion holds the lock
	Health          HealthStatus
}

// HealthStatus represents the health of the index
type HealthStatus struct {
	DatabaseAccessible  bool
	EmbeddingsAvailable bool
	LexicalIndexBuilt   bool
}
