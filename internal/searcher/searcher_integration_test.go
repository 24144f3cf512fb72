package searcher

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crateseek/crateseek/internal/embedder"
	"github.com/crateseek/crateseek/internal/storage"
	"github.com/crateseek/crateseek/pkg/types"
)

// indexWholeReview stores doc as one tagged chunk in both indices
func indexWholeReview(t *testing.T, store storage.Storage, emb embedder.Embedder, doc *types.Document, tags string) {
	t.Helper()
	ctx := context.Background()

	chunk := &types.Chunk{DocumentID: doc.ID, Text: doc.FullText, Tags: &tags}
	_, err := store.InsertChunks(ctx, []*types.Chunk{chunk})
	require.NoError(t, err)

	stored, err := store.ListChunksByDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, stored, 1)

	e, err := emb.GenerateEmbedding(ctx, embedder.EmbeddingRequest{Text: stored[0].EmbeddingText()})
	require.NoError(t, err)
	_, err = store.InsertEmbedding(ctx, &storage.Embedding{
		ChunkID: stored[0].ID, Vector: e.Vector, Dimension: e.Dimension,
		Provider: emb.Provider(), Model: emb.Model(),
	})
	require.NoError(t, err)

	_, err = store.ExtendLexicalIndex(ctx)
	require.NoError(t, err)
}

func TestSearch_SQLiteIndex(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	emb, err := embedder.New(embedder.Config{Provider: embedder.ProviderLocal})
	require.NoError(t, err)

	score := 7.9
	docs := []*types.Document{
		{ID: 1, Artist: "Harold Budd", Title: "The Pearl", Score: &score, URL: "https://example.com/1",
			FullText: "Treated piano notes hang in warm reverb over soft synth pads."},
		{ID: 2, Artist: "Wire", Title: "Pink Flag", URL: "https://example.com/2",
			FullText: "Jagged guitars and shouted choruses race past in under two minutes."},
		{ID: 3, Artist: "Basic Channel", Title: "BCD", URL: "https://example.com/3",
			FullText: "Submerged dub chords pulse beneath hiss and echo for hours."},
	}
	_, err = store.InsertDocuments(ctx, docs)
	require.NoError(t, err)

	tags := []string{"Calm, Piano, Ambient, Reverb", "Aggressive, Guitar, Punk", "Hypnotic, Dub techno, Echo"}
	for i, doc := range docs {
		indexWholeReview(t, store, emb, doc, tags[i])
	}

	s, err := New(store, emb, DefaultConfig())
	require.NoError(t, err)

	resp, err := s.Search(ctx, Request{Query: "piano reverb"})
	require.NoError(t, err)
	require.Len(t, resp.Results, 3, "every chunk has an embedding")
	assert.Equal(t, 1, resp.LexicalCandidates)
	assert.False(t, resp.LexicalDegraded)

	var piano *types.SearchResult
	for i := range resp.Results {
		if resp.Results[i].DocumentID == 1 {
			piano = &resp.Results[i]
		}
	}
	require.NotNil(t, piano)
	assert.Equal(t, "The Pearl", piano.Title)
	require.NotNil(t, piano.Score)
	assert.Equal(t, 7.9, *piano.Score)
	assert.Equal(t, tags[0], *piano.Tags)

	resp, err = s.Search(ctx, Request{Query: `"guitars:jagged"`})
	require.NoError(t, err)
	assert.False(t, resp.LexicalDegraded, "field syntax and quotes are sanitized")
	assert.Equal(t, 1, resp.LexicalCandidates)

	resp, err = s.Search(ctx, Request{Query: "piano AND"})
	require.NoError(t, err)
	assert.True(t, resp.LexicalDegraded)
	assert.Len(t, resp.Results, 3, "vector results survive a malformed lexical query")
}

func TestSearch_CacheSeesIngestFromAnotherConnection(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reviews.db")

	// Separate handles stand in for the serve and ingest processes
	served, err := storage.NewSQLiteStorage(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = served.Close() })
	ingest, err := storage.NewSQLiteStorage(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ingest.Close() })

	emb, err := embedder.New(embedder.Config{Provider: embedder.ProviderLocal})
	require.NoError(t, err)

	first := &types.Document{ID: 1, Artist: "Grouper", Title: "Ruins", URL: "https://example.com/1",
		FullText: "A lone piano under tape hiss."}
	_, err = ingest.InsertDocuments(ctx, []*types.Document{first})
	require.NoError(t, err)
	indexWholeReview(t, ingest, emb, first, "Melancholic, Piano")

	s, err := New(served, emb, DefaultConfig())
	require.NoError(t, err)

	resp, err := s.Search(ctx, Request{Query: "piano", UseCache: true})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)

	resp, err = s.Search(ctx, Request{Query: "piano", UseCache: true})
	require.NoError(t, err)
	assert.True(t, resp.CacheHit, "unchanged index answers from cache")

	second := &types.Document{ID: 2, Artist: "Harold Budd", Title: "The Pearl", URL: "https://example.com/2",
		FullText: "Treated piano notes in warm reverb."}
	_, err = ingest.InsertDocuments(ctx, []*types.Document{second})
	require.NoError(t, err)
	indexWholeReview(t, ingest, emb, second, "Calm, Piano, Reverb")

	resp, err = s.Search(ctx, Request{Query: "piano", UseCache: true})
	require.NoError(t, err)
	assert.False(t, resp.CacheHit)
	assert.Len(t, resp.Results, 2, "newly ingested review is visible without invalidation")
}
