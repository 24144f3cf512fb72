package indexer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crateseek/crateseek/internal/chunker"
	"github.com/crateseek/crateseek/internal/embedder"
	"github.com/crateseek/crateseek/internal/metrics"
	"github.com/crateseek/crateseek/internal/storage"
	"github.com/crateseek/crateseek/internal/tagger"
	"github.com/crateseek/crateseek/pkg/types"
)

// generatorFunc adapts a function to tagger.Generator
type generatorFunc func(ctx context.Context, text string) (string, error)

func (f generatorFunc) GenerateTags(ctx context.Context, text string) (string, error) {
	return f(ctx, text)
}

// failingEmbedder implements embedder.Embedder and always fails
type failingEmbedder struct {
	calls atomic.Int32
}

func (f *failingEmbedder) GenerateEmbedding(ctx context.Context, req embedder.EmbeddingRequest) (*embedder.Embedding, error) {
	f.calls.Add(1)
	return nil, embedder.ErrProviderFailed
}

func (f *failingEmbedder) GenerateBatch(ctx context.Context, req embedder.BatchEmbeddingRequest) (*embedder.BatchEmbeddingResponse, error) {
	f.calls.Add(1)
	return nil, embedder.ErrProviderFailed
}

func (f *failingEmbedder) Dimension() int   { return 384 }
func (f *failingEmbedder) Provider() string { return "failing" }
func (f *failingEmbedder) Model() string    { return "failing-v1" }
func (f *failingEmbedder) Close() error     { return nil }

var testChunkOptions = chunker.Options{Size: 60, Overlap: 15, MinLength: 10}

func setupTestStorage(t testing.TB) *storage.SQLiteStorage {
	t.Helper()
	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seedReviews(t testing.TB, store storage.Storage, texts ...string) {
	t.Helper()
	docs := make([]*types.Document, len(texts))
	for i, text := range texts {
		docs[i] = &types.Document{
			ID:       int64(i + 1),
			Artist:   fmt.Sprintf("Artist %d", i+1),
			Title:    fmt.Sprintf("Album %d", i+1),
			URL:      fmt.Sprintf("https://example.com/reviews/%d", i+1),
			FullText: text,
		}
	}
	n, err := store.InsertDocuments(context.Background(), docs)
	require.NoError(t, err)
	require.Equal(t, len(texts), n)
}

func staticTags(tags string) tagger.Generator {
	return generatorFunc(func(ctx context.Context, text string) (string, error) {
		return tags, nil
	})
}

func newTestIndexer(t testing.TB, store storage.Storage, gen tagger.Generator, emb embedder.Embedder, opts ...Option) *Indexer {
	t.Helper()
	ch, err := chunker.New(testChunkOptions)
	require.NoError(t, err)

	batch, err := tagger.NewBatch(gen, tagger.WithConcurrency(4))
	require.NoError(t, err)
	t.Cleanup(batch.Release)

	if emb == nil {
		emb, err = embedder.New(embedder.Config{Provider: embedder.ProviderLocal})
		require.NoError(t, err)
	}

	idx, err := New(store, ch, batch, emb, opts...)
	require.NoError(t, err)
	return idx
}

var reviews = []string{
	"A slow-burning record of warm analog synths, brushed drums and hushed vocals that reward patient listening.",
	"Short and loud punk.",
	"The guitars are jangly and bright while the rhythm section keeps a motorik pulse under every song on the album.",
}

func TestNew(t *testing.T) {
	store := setupTestStorage(t)
	ch, err := chunker.New(testChunkOptions)
	require.NoError(t, err)

	_, err = New(store, ch, nil, nil)
	assert.Error(t, err)

	idx := newTestIndexer(t, store, staticTags("rock"), nil,
		WithDocumentBatchSize(2), WithEmbedBatchSize(0), WithEmbedBatchSize(4096))
	assert.Equal(t, 2, idx.documentBatchSize)
	assert.Equal(t, DefaultEmbedBatchSize, idx.embedBatchSize)
	assert.Equal(t, DefaultLockStaleAfter, idx.lockStaleAfter)
	assert.False(t, idx.Running())
}

func TestRun_IndexesCorpus(t *testing.T) {
	ctx := context.Background()
	store := setupTestStorage(t)
	seedReviews(t, store, reviews...)

	idx := newTestIndexer(t, store, staticTags("warm, Synths, Drums"), nil, WithDocumentBatchSize(2))
	stats, err := idx.Run(ctx, Options{})
	require.NoError(t, err)

	status, err := store.GetStatus(ctx)
	require.NoError(t, err)

	assert.NotEmpty(t, stats.RunID)
	assert.Equal(t, 3, stats.DocumentsChunked)
	assert.Greater(t, stats.ChunksCreated, 3, "long reviews span several windows")
	assert.Equal(t, stats.ChunksCreated, stats.ChunksTagged)
	assert.Zero(t, stats.TagFailures)
	assert.Equal(t, stats.ChunksCreated, stats.EmbeddingsCreated)
	assert.Equal(t, stats.ChunksCreated, stats.LexicalRows)
	assert.Positive(t, stats.Duration)

	assert.Equal(t, stats.ChunksCreated, status.ChunksCount)
	assert.Equal(t, status.ChunksCount, status.TaggedCount)
	assert.Equal(t, status.ChunksCount, status.EmbeddingsCount)
	assert.Equal(t, status.ChunksCount, status.LexicalCount)
	assert.Empty(t, status.IngestLockOwner, "lock released after the run")

	chunks, err := store.ListChunksByDocument(ctx, 2)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, reviews[1], chunks[0].Text)
	require.NotNil(t, chunks[0].Tags)
	assert.Equal(t, "warm, Synths, Drums", *chunks[0].Tags)
}

func TestRun_Idempotent(t *testing.T) {
	ctx := context.Background()
	store := setupTestStorage(t)
	seedReviews(t, store, reviews...)

	var calls atomic.Int32
	gen := generatorFunc(func(ctx context.Context, text string) (string, error) {
		calls.Add(1)
		return "jangly", nil
	})
	idx := newTestIndexer(t, store, gen, nil)

	_, err := idx.Run(ctx, Options{})
	require.NoError(t, err)
	firstCalls := calls.Load()

	stats, err := idx.Run(ctx, Options{})
	require.NoError(t, err)
	assert.Zero(t, stats.DocumentsChunked)
	assert.Zero(t, stats.ChunksCreated)
	assert.Zero(t, stats.ChunksRetagged)
	assert.Zero(t, stats.EmbeddingsCreated)
	assert.Zero(t, stats.LexicalRows)
	assert.Equal(t, firstCalls, calls.Load(), "no tag requests for an indexed corpus")
}

func TestRun_TagFailuresAreIsolated(t *testing.T) {
	ctx := context.Background()
	store := setupTestStorage(t)
	seedReviews(t, store, reviews...)

	var healthy atomic.Bool
	gen := generatorFunc(func(ctx context.Context, text string) (string, error) {
		if strings.Contains(text, "punk") && !healthy.Load() {
			return "", fmt.Errorf("%w: connection refused", types.ErrUpstreamUnavailable)
		}
		return "loud", nil
	})
	idx := newTestIndexer(t, store, gen, nil)

	stats, err := idx.Run(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TagFailures)
	assert.Equal(t, stats.ChunksCreated-1, stats.ChunksTagged)
	assert.Equal(t, stats.ChunksCreated, stats.EmbeddingsCreated)
	assert.Equal(t, stats.ChunksCreated-1, stats.LexicalRows, "untagged chunks stay out of the lexical index")

	healthy.Store(true)
	stats, err = idx.Run(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ChunksRetagged)
	assert.Zero(t, stats.TagFailures)
	assert.Zero(t, stats.EmbeddingsCreated)
	assert.Equal(t, 1, stats.LexicalRows)

	results, err := store.SearchText(ctx, "punk", 10)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestRun_EmbeddingFailureAbortsRun(t *testing.T) {
	ctx := context.Background()
	store := setupTestStorage(t)
	seedReviews(t, store, reviews...)

	failing := &failingEmbedder{}
	idx := newTestIndexer(t, store, staticTags("bright"), failing)

	stats, err := idx.Run(ctx, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrUpstreamUnavailable)
	require.NotNil(t, stats)
	assert.Positive(t, stats.ChunksCreated, "chunk batches commit before embedding")
	assert.Zero(t, stats.EmbeddingsCreated)
	assert.Zero(t, stats.LexicalRows, "later stages are skipped")
	assert.Equal(t, int32(1), failing.calls.Load())

	status, err := store.GetStatus(ctx)
	require.NoError(t, err)
	assert.Empty(t, status.IngestLockOwner)

	recovered := newTestIndexer(t, store, staticTags("bright"), nil)
	stats, err = recovered.Run(ctx, Options{})
	require.NoError(t, err)
	assert.Zero(t, stats.ChunksCreated)
	assert.Equal(t, status.ChunksCount, stats.EmbeddingsCreated)
	assert.Equal(t, status.ChunksCount, stats.LexicalRows)
}

func TestRun_Rebuild(t *testing.T) {
	ctx := context.Background()
	store := setupTestStorage(t)
	seedReviews(t, store, reviews...)

	idx := newTestIndexer(t, store, staticTags("motorik"), nil)
	first, err := idx.Run(ctx, Options{})
	require.NoError(t, err)

	stats, err := idx.Run(ctx, Options{Rebuild: true})
	require.NoError(t, err)
	assert.True(t, stats.Rebuilt)
	assert.Zero(t, stats.ChunksCreated, "chunks survive a rebuild")
	assert.Equal(t, first.ChunksCreated, stats.EmbeddingsCreated)
	assert.Equal(t, first.ChunksCreated, stats.LexicalRows)
}

func TestRun_SingleWriter(t *testing.T) {
	ctx := context.Background()
	store := setupTestStorage(t)
	seedReviews(t, store, reviews...)

	t.Run("in process", func(t *testing.T) {
		idx := newTestIndexer(t, store, staticTags("x"), nil)
		require.True(t, idx.lock.TryAcquire())
		defer idx.lock.Release()

		assert.True(t, idx.Running())
		_, err := idx.Run(ctx, Options{})
		assert.ErrorIs(t, err, types.ErrIngestInProgress)
	})

	t.Run("across processes", func(t *testing.T) {
		require.NoError(t, store.AcquireIngestLock(ctx, "other-process", DefaultLockStaleAfter))
		defer func() { _ = store.ReleaseIngestLock(ctx, "other-process") }()

		idx := newTestIndexer(t, store, staticTags("x"), nil)
		_, err := idx.Run(ctx, Options{})
		assert.ErrorIs(t, err, types.ErrIngestInProgress)

		status, err := store.GetStatus(ctx)
		require.NoError(t, err)
		assert.Zero(t, status.ChunksCount)
	})
}

func TestRun_ContextCancellation(t *testing.T) {
	store := setupTestStorage(t)
	seedReviews(t, store, reviews...)

	ctx, cancel := context.WithCancel(context.Background())
	gen := generatorFunc(func(ctx context.Context, text string) (string, error) {
		cancel()
		return "", ctx.Err()
	})
	idx := newTestIndexer(t, store, gen, nil)

	_, err := idx.Run(ctx, Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))

	status, err := store.GetStatus(context.Background())
	require.NoError(t, err)
	assert.Zero(t, status.ChunksCount, "a cancelled batch is not committed")
	assert.Empty(t, status.IngestLockOwner)
}

func TestRun_RecordsMetrics(t *testing.T) {
	ctx := context.Background()
	store := setupTestStorage(t)
	seedReviews(t, store, reviews...)

	m := metrics.New(prometheus.NewRegistry())
	idx := newTestIndexer(t, store, staticTags("hushed"), nil, WithMetrics(m))

	stats, err := idx.Run(ctx, Options{})
	require.NoError(t, err)

	assert.Equal(t, float64(stats.ChunksCreated), counterValue(t, m.IngestChunksTotal))
	assert.Equal(t, float64(stats.EmbeddingsCreated), counterValue(t, m.IngestEmbeddingsTotal))
	assert.Equal(t, float64(1), counterValue(t, m.IngestRunsTotal.WithLabelValues("success")))

	var gauge dto.Metric
	require.NoError(t, m.IndexDocuments.Write(&gauge))
	assert.Equal(t, float64(len(reviews)), gauge.GetGauge().GetValue())
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var metric dto.Metric
	require.NoError(t, c.Write(&metric))
	return metric.GetCounter().GetValue()
}

func TestIndexLock_ConcurrentAcquisition(t *testing.T) {
	t.Run("TryAcquire fails while held", func(t *testing.T) {
		var lock IndexLock
		require.True(t, lock.TryAcquire())
		assert.True(t, lock.Held())
		assert.False(t, lock.TryAcquire())

		lock.Release()
		assert.False(t, lock.Held())
		assert.True(t, lock.TryAcquire())
		lock.Release()
	})

	t.Run("only one goroutine wins", func(t *testing.T) {
		var lock IndexLock
		const numGoroutines = 100

		var wins atomic.Int32
		var wg sync.WaitGroup
		wg.Add(numGoroutines)
		for range numGoroutines {
			go func() {
				defer wg.Done()
				if lock.TryAcquire() {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), wins.Load())
	})
}
