package indexer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/crateseek/crateseek/internal/chunker"
	"github.com/crateseek/crateseek/internal/embedder"
	"github.com/crateseek/crateseek/internal/metrics"
	"github.com/crateseek/crateseek/internal/storage"
	"github.com/crateseek/crateseek/pkg/types"
)

const (
	// DefaultDocumentBatchSize is the number of documents chunked and committed together
	DefaultDocumentBatchSize = 10

	// DefaultEmbedBatchSize is the number of chunks embedded and committed together
	DefaultEmbedBatchSize = embedder.DefaultBatchSize

	// DefaultLockStaleAfter is how long an unrefreshed ingest lock is honoured
	DefaultLockStaleAfter = 30 * time.Minute
)

// Tagger generates tags for many texts at once. A failed text yields a nil entry.
type Tagger interface {
	Tag(ctx context.Context, texts []string) (tags []*string, failures int)
}

// Indexer coordinates the ingestion pipeline: chunk -> tag -> embed -> lexical index
type Indexer struct {
	storage  storage.Storage
	chunker  *chunker.Chunker
	tagger   Tagger
	embedder embedder.Embedder

	lock IndexLock

	documentBatchSize int
	embedBatchSize    int
	lockStaleAfter    time.Duration

	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// Options controls a single ingestion run
type Options struct {
	Rebuild bool // Drop the vector and lexical indices before indexing
}

// Statistics contains statistics about an ingestion run
type Statistics struct {
	RunID             string
	DocumentsChunked  int
	ChunksCreated     int
	ChunksTagged      int
	ChunksRetagged    int
	TagFailures       int
	EmbeddingsCreated int
	LexicalRows       int
	Rebuilt           bool
	Duration          time.Duration
}

// Option configures an Indexer.
type Option func(*Indexer)

// WithDocumentBatchSize sets how many documents share one transaction.
func WithDocumentBatchSize(n int) Option {
	return func(idx *Indexer) {
		if n > 0 {
			idx.documentBatchSize = n
		}
	}
}

// WithEmbedBatchSize sets how many chunks are embedded per provider call.
func WithEmbedBatchSize(n int) Option {
	return func(idx *Indexer) {
		if n > 0 && n <= embedder.MaxBatchSize {
			idx.embedBatchSize = n
		}
	}
}

// WithLockStaleAfter sets when another process may take over an abandoned run.
func WithLockStaleAfter(d time.Duration) Option {
	return func(idx *Indexer) {
		if d > 0 {
			idx.lockStaleAfter = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(idx *Indexer) {
		idx.logger = logger
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(idx *Indexer) {
		idx.metrics = m
	}
}

// New creates a new Indexer instance
func New(store storage.Storage, ch *chunker.Chunker, tg Tagger, emb embedder.Embedder, opts ...Option) (*Indexer, error) {
	if store == nil || ch == nil || tg == nil || emb == nil {
		return nil, fmt.Errorf("indexer requires storage, chunker, tagger and embedder")
	}
	idx := &Indexer{
		storage:           store,
		chunker:           ch,
		tagger:            tg,
		embedder:          emb,
		documentBatchSize: DefaultDocumentBatchSize,
		embedBatchSize:    DefaultEmbedBatchSize,
		lockStaleAfter:    DefaultLockStaleAfter,
		logger:            zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx, nil
}

// Run brings both indices up to date with the stored documents.
// Only one run may proceed at a time, in this process and across processes
// sharing the database. A second run over a fully indexed corpus writes nothing.
func (idx *Indexer) Run(ctx context.Context, opts Options) (*Statistics, error) {
	if !idx.lock.TryAcquire() {
		return nil, fmt.Errorf("%w: already running in this process", types.ErrIngestInProgress)
	}
	defer idx.lock.Release()

	owner := uuid.NewString()
	if err := idx.storage.AcquireIngestLock(ctx, owner, idx.lockStaleAfter); err != nil {
		return nil, err
	}
	defer func() {
		if err := idx.storage.ReleaseIngestLock(context.WithoutCancel(ctx), owner); err != nil {
			idx.logger.Warn().Err(err).Str("run_id", owner).Msg("failed to release ingest lock")
		}
	}()

	startTime := time.Now()
	stats := &Statistics{RunID: owner}
	log := idx.logger.With().Str("run_id", owner).Logger()
	log.Info().Bool("rebuild", opts.Rebuild).Msg("ingestion started")

	err := idx.run(ctx, owner, opts, stats, log)
	stats.Duration = time.Since(startTime)

	status := "success"
	if err != nil {
		status = "error"
		log.Error().Err(err).Dur("duration", stats.Duration).Msg("ingestion failed")
	} else {
		log.Info().
			Int("documents", stats.DocumentsChunked).
			Int("chunks", stats.ChunksCreated).
			Int("tag_failures", stats.TagFailures).
			Int("embeddings", stats.EmbeddingsCreated).
			Int("lexical_rows", stats.LexicalRows).
			Dur("duration", stats.Duration).
			Msg("ingestion finished")
	}
	idx.metrics.RecordIngest(status, metrics.IngestStats{
		Chunks:      stats.ChunksCreated,
		TagFailures: stats.TagFailures,
		Embeddings:  stats.EmbeddingsCreated,
		LexicalRows: stats.LexicalRows,
		Duration:    stats.Duration,
	})
	if status == "success" {
		idx.updateIndexGauges(ctx)
	}

	return stats, err
}

func (idx *Indexer) run(ctx context.Context, owner string, opts Options, stats *Statistics, log zerolog.Logger) error {
	if opts.Rebuild {
		if err := idx.storage.ResetIndexes(ctx); err != nil {
			return fmt.Errorf("failed to reset indexes: %w", err)
		}
		stats.Rebuilt = true
		log.Info().Msg("vector and lexical indexes dropped")
	}

	stages := []struct {
		name string
		fn   func(context.Context, *Statistics, zerolog.Logger) error
	}{
		{"retag", idx.retagChunks},
		{"chunk", idx.chunkDocuments},
		{"embed", idx.embedChunks},
		{"lexical", idx.extendLexicalIndex},
	}
	for _, stage := range stages {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := stage.fn(ctx, stats, log.With().Str("stage", stage.name).Logger()); err != nil {
			return fmt.Errorf("%s stage: %w", stage.name, err)
		}
		if err := idx.storage.RefreshIngestLock(ctx, owner); err != nil {
			return err
		}
	}
	return nil
}

// retagChunks attaches tags to chunks left untagged by earlier runs
func (idx *Indexer) retagChunks(ctx context.Context, stats *Statistics, log zerolog.Logger) error {
	var afterID int64
	for {
		chunks, err := idx.storage.ListUntaggedChunks(ctx, afterID, idx.documentBatchSize)
		if err != nil {
			return fmt.Errorf("failed to list untagged chunks: %w", err)
		}
		if len(chunks) == 0 {
			return nil
		}
		afterID = chunks[len(chunks)-1].ID

		tags, failures := idx.tagger.Tag(ctx, chunkTexts(chunks))
		if err := ctx.Err(); err != nil {
			return err
		}
		stats.TagFailures += failures

		updated, err := idx.commitTags(ctx, chunks, tags)
		if err != nil {
			return err
		}
		stats.ChunksRetagged += updated
		log.Debug().Int("chunks", len(chunks)).Int("tagged", updated).Int("failures", failures).Msg("retag batch committed")
	}
}

// commitTags writes successful tags for one batch in a single transaction
func (idx *Indexer) commitTags(ctx context.Context, chunks []*types.Chunk, tags []*string) (int, error) {
	tx, err := idx.storage.BeginTx(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	updated := 0
	for i, chunk := range chunks {
		if tags[i] == nil {
			continue
		}
		ok, err := tx.UpdateChunkTags(ctx, chunk.ID, *tags[i])
		if err != nil {
			return 0, err
		}
		if ok {
			updated++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return updated, nil
}

// chunkDocuments chunks and tags documents that have no chunks yet
func (idx *Indexer) chunkDocuments(ctx context.Context, stats *Statistics, log zerolog.Logger) error {
	var afterID int64
	for {
		docs, err := idx.storage.ListUnchunkedDocuments(ctx, afterID, idx.documentBatchSize)
		if err != nil {
			return fmt.Errorf("failed to list unchunked documents: %w", err)
		}
		if len(docs) == 0 {
			return nil
		}
		afterID = docs[len(docs)-1].ID

		chunks := make([]*types.Chunk, 0, len(docs))
		for _, doc := range docs {
			docChunks := idx.chunker.ChunkDocument(doc)
			if len(docChunks) == 0 {
				log.Debug().Int64("document_id", doc.ID).Msg("document has no indexable text")
				continue
			}
			chunks = append(chunks, docChunks...)
		}
		if len(chunks) == 0 {
			continue
		}

		tags, failures := idx.tagger.Tag(ctx, chunkTexts(chunks))
		if err := ctx.Err(); err != nil {
			return err
		}
		tagged := 0
		for i := range chunks {
			chunks[i].Tags = tags[i]
			if tags[i] != nil {
				tagged++
			}
		}

		inserted, err := idx.commitChunks(ctx, chunks)
		if err != nil {
			return err
		}
		stats.DocumentsChunked += len(docs)
		stats.ChunksCreated += inserted
		stats.ChunksTagged += tagged
		stats.TagFailures += failures
		log.Debug().Int("documents", len(docs)).Int("chunks", inserted).Int("failures", failures).Msg("document batch committed")
	}
}

func (idx *Indexer) commitChunks(ctx context.Context, chunks []*types.Chunk) (int, error) {
	tx, err := idx.storage.BeginTx(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	inserted, err := tx.InsertChunks(ctx, chunks)
	if err != nil {
		return 0, fmt.Errorf("failed to store chunks: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return inserted, nil
}

// embedChunks embeds every chunk missing from the vector index.
// A provider failure aborts the stage; earlier batches stay committed.
func (idx *Indexer) embedChunks(ctx context.Context, stats *Statistics, log zerolog.Logger) error {
	var afterID int64
	for {
		chunks, err := idx.storage.ListChunksWithoutEmbedding(ctx, afterID, idx.embedBatchSize)
		if err != nil {
			return fmt.Errorf("failed to list chunks without embeddings: %w", err)
		}
		if len(chunks) == 0 {
			return nil
		}
		afterID = chunks[len(chunks)-1].ID

		texts := make([]string, len(chunks))
		for i, chunk := range chunks {
			texts[i] = chunk.EmbeddingText()
		}
		vectors, err := embedder.EmbedAll(ctx, idx.embedder, texts, idx.embedBatchSize)
		if err != nil {
			return fmt.Errorf("failed to embed chunks %d-%d: %w", chunks[0].ID, afterID, err)
		}

		inserted, err := idx.commitEmbeddings(ctx, chunks, vectors)
		if err != nil {
			return err
		}
		stats.EmbeddingsCreated += inserted
		log.Debug().Int("chunks", len(chunks)).Int("embeddings", inserted).Msg("embedding batch committed")
	}
}

func (idx *Indexer) commitEmbeddings(ctx context.Context, chunks []*types.Chunk, vectors [][]float32) (int, error) {
	tx, err := idx.storage.BeginTx(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	inserted := 0
	for i, chunk := range chunks {
		ok, err := tx.InsertEmbedding(ctx, &storage.Embedding{
			ChunkID:   chunk.ID,
			Vector:    vectors[i],
			Dimension: len(vectors[i]),
			Provider:  idx.embedder.Provider(),
			Model:     idx.embedder.Model(),
		})
		if err != nil {
			return 0, fmt.Errorf("failed to store embedding: %w", err)
		}
		if ok {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return inserted, nil
}

// extendLexicalIndex posts tagged chunks not yet in the lexical index
func (idx *Indexer) extendLexicalIndex(ctx context.Context, stats *Statistics, log zerolog.Logger) error {
	n, err := idx.storage.ExtendLexicalIndex(ctx)
	if err != nil {
		return err
	}
	stats.LexicalRows += n
	log.Debug().Int("rows", n).Msg("lexical index extended")
	return nil
}

func (idx *Indexer) updateIndexGauges(ctx context.Context) {
	status, err := idx.storage.GetStatus(ctx)
	if err != nil {
		idx.logger.Warn().Err(err).Msg("failed to read index status")
		return
	}
	idx.metrics.UpdateIndexStats(status.DocumentsCount, status.ChunksCount, status.EmbeddingsCount)
}

func chunkTexts(chunks []*types.Chunk) []string {
	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Text
	}
	return texts
}

// Running reports whether this indexer is mid-run
func (idx *Indexer) Running() bool {
	return idx.lock.Held()
}
