package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crateseek/crateseek/internal/embedder"
	"github.com/crateseek/crateseek/pkg/types"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{EnvDBPath, EnvAddr, EnvLogLevel, EnvEmbeddingAPIKey, EnvTaggerAPIKey, EnvHuggingFaceKey} {
		t.Setenv(name, "")
	}
}

func TestDefaultsAreValid(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 20, cfg.Search.TopN)
	assert.Equal(t, 60.0, cfg.Search.K)
	assert.Equal(t, 1200, cfg.Chunking.Size)
	assert.Equal(t, 200, cfg.Chunking.Overlap)
	assert.Equal(t, 100, cfg.Chunking.MinLength)
}

func TestLoad(t *testing.T) {
	clearEnv(t)

	t.Run("missing file falls back to defaults", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		require.NoError(t, err)
		assert.Equal(t, Defaults().Search, cfg.Search)
	})

	t.Run("file overrides defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		content := `
database:
  path: /tmp/reviews.db
search:
  topN: 5
  k: 1
  timeout: 250ms
chunking:
  size: 600
  overlap: 100
embedding:
  provider: local
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "/tmp/reviews.db", cfg.Database.Path)
		assert.Equal(t, 5, cfg.Search.TopN)
		assert.Equal(t, 1.0, cfg.Search.K)
		assert.Equal(t, 250*time.Millisecond, cfg.Search.Timeout)
		assert.Equal(t, 600, cfg.Chunking.Size)
		assert.Equal(t, 100, cfg.Chunking.Overlap)
		// Untouched fields keep their defaults
		assert.Equal(t, 100, cfg.Chunking.MinLength)
		assert.Equal(t, embedder.ProviderLocal, cfg.Embedding.Provider)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("search: [unterminated"), 0o600))

		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cannot parse config file")
	})

	t.Run("invalid values", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("chunking:\n  size: 100\n  overlap: 100\n"), 0o600))

		_, err := Load(path)
		require.Error(t, err)
		assert.ErrorIs(t, err, types.ErrConfig)
	})
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvDBPath, "/data/crateseek.db")
	t.Setenv(EnvAddr, ":9000")
	t.Setenv(EnvLogLevel, "debug")
	t.Setenv(EnvEmbeddingAPIKey, "embed-key")
	t.Setenv(EnvTaggerAPIKey, "tag-key")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "/data/crateseek.db", cfg.Database.Path)
	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "embed-key", cfg.Embedding.APIKey)
	assert.Equal(t, "tag-key", cfg.Tagger.APIKey)
}

func TestHuggingFaceTokenOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvHuggingFaceKey, "hf-token")

	cfg := Defaults()
	cfg.ApplyEnv()
	assert.Empty(t, cfg.Embedding.APIKey, "token only applies to the huggingface provider")

	cfg.Embedding.Provider = embedder.ProviderHuggingFace
	cfg.ApplyEnv()
	assert.Equal(t, "hf-token", cfg.Embedding.APIKey)
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("CRATESEEK_TEST_SET", "value")
	t.Setenv("CRATESEEK_TEST_EMPTY", "")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"set variable", "key: ${CRATESEEK_TEST_SET}", "key: value"},
		{"default ignored when set", "key: ${CRATESEEK_TEST_SET:-other}", "key: value"},
		{"default used when empty", "key: ${CRATESEEK_TEST_EMPTY:-fallback}", "key: fallback"},
		{"default used when unset", "key: ${CRATESEEK_TEST_UNSET:-fallback}", "key: fallback"},
		{"empty default", "key: ${CRATESEEK_TEST_UNSET:-}", "key: "},
		{"unset without default kept", "key: ${CRATESEEK_TEST_UNSET}", "key: ${CRATESEEK_TEST_UNSET}"},
		{"no references", "key: plain", "key: plain"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExpandEnvVars(tt.input))
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		field  string
	}{
		{"empty database path", func(c *Config) { c.Database.Path = " " }, "database.path"},
		{"negative k", func(c *Config) { c.Search.K = -1 }, "k"},
		{"zero top_n", func(c *Config) { c.Search.TopN = 0 }, "top_n"},
		{"overlap equals size", func(c *Config) { c.Chunking.Overlap = c.Chunking.Size }, "chunk_overlap"},
		{"zero chunk size", func(c *Config) { c.Chunking.Size = 0 }, "chunk_size"},
		{"zero document batch", func(c *Config) { c.Ingest.DocumentBatchSize = 0 }, "ingest.documentBatchSize"},
		{"embed batch too large", func(c *Config) { c.Ingest.EmbedBatchSize = embedder.MaxBatchSize + 1 }, "ingest.embedBatchSize"},
		{"unknown embedding provider", func(c *Config) { c.Embedding.Provider = "jina" }, "embedding.provider"},
		{"unknown tagger provider", func(c *Config) { c.Tagger.Provider = "huggingface" }, "tagger.provider"},
		{"zero tagger concurrency", func(c *Config) { c.Tagger.Concurrency = 0 }, "tagger.concurrency"},
		{"negative rate limit", func(c *Config) { c.Tagger.RateLimit = -1 }, "tagger.rateLimit"},
		{"unknown log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.modify(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, types.ErrConfig)

			var cfgErr *types.ConfigError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Search.K = -1
	cfg.Embedding.Provider = "unknown"
	cfg.Log.Level = "loud"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "k:")
	assert.Contains(t, err.Error(), "embedding.provider")
	assert.Contains(t, err.Error(), "log.level")
}

func TestSaveRoundTrip(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := Defaults()
	cfg.Database.Path = "/tmp/roundtrip.db"
	cfg.Search.CacheTTL = 5 * time.Minute
	cfg.Tagger.RateLimit = 2.5
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestConversions(t *testing.T) {
	cfg := Defaults()
	cfg.Search.Dimension = 384
	cfg.Embedding.Provider = embedder.ProviderLocal

	sc := cfg.SearcherConfig()
	assert.Equal(t, cfg.Search.TopN, sc.TopN)
	assert.Equal(t, cfg.Search.K, sc.K)
	assert.Equal(t, 384, sc.Dimension)
	assert.Equal(t, cfg.Search.CacheTTL, sc.CacheTTL)

	opts := cfg.ChunkerOptions()
	assert.Equal(t, cfg.Chunking.Size, opts.Size)
	assert.Equal(t, cfg.Chunking.Overlap, opts.Overlap)

	assert.Equal(t, embedder.ProviderLocal, cfg.EmbedderConfig().Provider)
	assert.Equal(t, cfg.Tagger.Model, cfg.GeneratorConfig().Model)
	assert.Equal(t, cfg.Log.Level, cfg.LoggerConfig().Level)
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, "reviews.db"), ExpandPath("~/reviews.db"))
	assert.Equal(t, "/abs/reviews.db", ExpandPath("/abs/reviews.db"))
	assert.Equal(t, "relative.db", ExpandPath("relative.db"))
}
