package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crateseek/crateseek/internal/embedder"
	"github.com/crateseek/crateseek/internal/storage"
	"github.com/crateseek/crateseek/pkg/types"
)

// fakeTagger implements checkTagger
type fakeTagger struct {
	tags string
	fail bool
}

func (f *fakeTagger) Tag(ctx context.Context, texts []string) ([]*string, int) {
	out := make([]*string, len(texts))
	if f.fail {
		return out, len(texts)
	}
	for i := range texts {
		out[i] = ptr(f.tags)
	}
	return out, 0
}

func newCheckFixtures(t *testing.T) (*storage.SQLiteStorage, embedder.Embedder) {
	t.Helper()
	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	emb, err := embedder.NewLocalProvider(nil)
	require.NoError(t, err)
	return store, emb
}

func TestRunCheck(t *testing.T) {
	store, emb := newCheckFixtures(t)

	var buf bytes.Buffer
	err := runCheck(context.Background(), &buf, store, emb, &fakeTagger{tags: "Melancholic, Piano, Tape hiss"})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "Embedding provider: local")
	assert.Contains(t, out, "dimension 384")
	assert.Contains(t, out, "Tags: Melancholic, Piano, Tape hiss")
}

func TestRunCheckSkipTagger(t *testing.T) {
	store, emb := newCheckFixtures(t)

	var buf bytes.Buffer
	require.NoError(t, runCheck(context.Background(), &buf, store, emb, nil))
	assert.NotContains(t, buf.String(), "Tags:")
}

func TestRunCheckTagFailure(t *testing.T) {
	store, emb := newCheckFixtures(t)

	var buf bytes.Buffer
	err := runCheck(context.Background(), &buf, store, emb, &fakeTagger{fail: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tag generation failed")
}

func TestRunCheckDimensionMismatch(t *testing.T) {
	store, emb := newCheckFixtures(t)
	ctx := context.Background()

	_, err := store.InsertDocuments(ctx, []*types.Document{{ID: 1, Title: "Ruins", Artist: "Grouper", FullText: "Piano."}})
	require.NoError(t, err)
	_, err = store.InsertChunks(ctx, []*types.Chunk{{DocumentID: 1, StartOffset: 0, Text: "Piano."}})
	require.NoError(t, err)
	chunks, err := store.ListChunksByDocument(ctx, 1)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	_, err = store.InsertEmbedding(ctx, &storage.Embedding{ChunkID: chunks[0].ID, Vector: make([]float32, 8), Dimension: 8})
	require.NoError(t, err)

	var buf bytes.Buffer
	err = runCheck(ctx, &buf, store, emb, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ingest --rebuild")
}
