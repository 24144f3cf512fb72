package config

import (
	"time"

	"github.com/crateseek/crateseek/internal/chunker"
	"github.com/crateseek/crateseek/internal/embedder"
	"github.com/crateseek/crateseek/internal/indexer"
	"github.com/crateseek/crateseek/internal/searcher"
	"github.com/crateseek/crateseek/internal/tagger"
)

// Defaults returns a Config populated with the values reviews were indexed with.
func Defaults() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path: "~/.crateseek/reviews.db",
		},
		Server: ServerConfig{
			Addr:            "127.0.0.1:8000",
			AllowedOrigins:  []string{"*"},
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			Metrics:         true,
		},
		Search: SearchConfig{
			TopN:      searcher.DefaultTopN,
			K:         searcher.DefaultK,
			VectorK:   searcher.DefaultVectorK,
			LexicalK:  searcher.DefaultLexicalK,
			Timeout:   10 * time.Second,
			CacheSize: 1000,
			CacheTTL:  time.Hour,
		},
		Chunking: ChunkingConfig{
			Size:      chunker.DefaultSize,
			Overlap:   chunker.DefaultOverlap,
			MinLength: chunker.DefaultMinLength,
		},
		Ingest: IngestConfig{
			DocumentBatchSize: indexer.DefaultDocumentBatchSize,
			EmbedBatchSize:    indexer.DefaultEmbedBatchSize,
			LockStaleAfter:    indexer.DefaultLockStaleAfter,
		},
		Embedding: EmbeddingConfig{
			Provider:  embedder.ProviderOllama,
			Model:     embedder.DefaultOllamaModel,
			BaseURL:   embedder.DefaultOllamaURL,
			CacheSize: 10000,
			Timeout:   60 * time.Second,
		},
		Tagger: TaggerConfig{
			Provider:      tagger.ProviderOllama,
			Model:         tagger.DefaultModel,
			BaseURL:       tagger.DefaultOllamaURL,
			ContextWindow: tagger.DefaultContextWindow,
			Temperature:   tagger.DefaultTemperature,
			Concurrency:   tagger.DefaultConcurrency,
			CallTimeout:   2 * time.Minute,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}
