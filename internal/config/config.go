// Package config loads crateseek settings from a YAML file with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/crateseek/crateseek/internal/chunker"
	"github.com/crateseek/crateseek/internal/embedder"
	"github.com/crateseek/crateseek/internal/logger"
	"github.com/crateseek/crateseek/internal/searcher"
	"github.com/crateseek/crateseek/internal/tagger"
	"github.com/crateseek/crateseek/pkg/types"
)

// Environment overrides applied after the file is parsed
const (
	EnvDBPath          = "CRATESEEK_DB_PATH"
	EnvAddr            = "CRATESEEK_ADDR"
	EnvLogLevel        = "CRATESEEK_LOG_LEVEL"
	EnvEmbeddingAPIKey = "CRATESEEK_EMBEDDING_API_KEY"
	EnvTaggerAPIKey    = "CRATESEEK_TAGGER_API_KEY"
	EnvHuggingFaceKey  = embedder.EnvHuggingFaceToken
)

// Config is the root configuration
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Server    ServerConfig    `yaml:"server"`
	Search    SearchConfig    `yaml:"search"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Tagger    TaggerConfig    `yaml:"tagger"`
	Log       LogConfig       `yaml:"log"`
}

// DatabaseConfig locates the SQLite file
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ServerConfig controls the HTTP API
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	AllowedOrigins  []string      `yaml:"allowedOrigins"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	Metrics         bool          `yaml:"metrics"`
}

// SearchConfig holds fusion defaults
type SearchConfig struct {
	TopN      int           `yaml:"topN"`
	K         float64       `yaml:"k"`
	VectorK   int           `yaml:"vectorK"`
	LexicalK  int           `yaml:"lexicalK"`
	Dimension int           `yaml:"dimension"`
	Timeout   time.Duration `yaml:"timeout"`
	CacheSize int           `yaml:"cacheSize"`
	CacheTTL  time.Duration `yaml:"cacheTTL"`
}

// ChunkingConfig is the sliding window geometry
type ChunkingConfig struct {
	Size      int `yaml:"size"`
	Overlap   int `yaml:"overlap"`
	MinLength int `yaml:"minLength"`
}

// IngestConfig sizes the ingestion batches
type IngestConfig struct {
	DocumentBatchSize int           `yaml:"documentBatchSize"`
	EmbedBatchSize    int           `yaml:"embedBatchSize"`
	LockStaleAfter    time.Duration `yaml:"lockStaleAfter"`
}

// EmbeddingConfig selects the embedding provider
type EmbeddingConfig struct {
	Provider  string        `yaml:"provider"`
	Model     string        `yaml:"model"`
	BaseURL   string        `yaml:"baseURL"`
	APIKey    string        `yaml:"apiKey"`
	Dimension int           `yaml:"dimension"`
	CacheSize int           `yaml:"cacheSize"`
	Timeout   time.Duration `yaml:"timeout"`
}

// TaggerConfig selects the tag generation model and its fan-out
type TaggerConfig struct {
	Provider      string        `yaml:"provider"`
	Model         string        `yaml:"model"`
	BaseURL       string        `yaml:"baseURL"`
	APIKey        string        `yaml:"apiKey"`
	ContextWindow int           `yaml:"contextWindow"`
	Temperature   float64       `yaml:"temperature"`
	MaxTokens     int           `yaml:"maxTokens"`
	Concurrency   int           `yaml:"concurrency"`
	RateLimit     float64       `yaml:"rateLimit"` // requests per second, 0 = unlimited
	Burst         int           `yaml:"burst"`
	CallTimeout   time.Duration `yaml:"callTimeout"`
}

// LogConfig controls log output
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// DefaultConfigDir returns ~/.crateseek
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".crateseek"
	}
	return filepath.Join(home, ".crateseek")
}

// DefaultConfigPath returns ~/.crateseek/config.yaml
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Load reads path, falling back to defaults when path is empty or missing.
// Environment overrides are applied last and the result is validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		path = ExpandPath(path)
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// Defaults only
		case err != nil:
			return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
		default:
			data = []byte(ExpandEnvVars(string(data)))
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
			}
		}
	}

	cfg.ApplyEnv()
	cfg.Database.Path = ExpandPath(cfg.Database.Path)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overlays the CRATESEEK_* environment variables
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvDBPath); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv(EnvAddr); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv(EnvEmbeddingAPIKey); v != "" {
		c.Embedding.APIKey = v
	} else if v := os.Getenv(EnvHuggingFaceKey); v != "" && c.Embedding.Provider == embedder.ProviderHuggingFace && c.Embedding.APIKey == "" {
		c.Embedding.APIKey = v
	}
	if v := os.Getenv(EnvTaggerAPIKey); v != "" {
		c.Tagger.APIKey = v
	}
}

// ExpandEnvVars substitutes ${VAR} and ${VAR:-default}. A reference with no
// value and no default is left untouched.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		name := groups[1]
		hasDefault := strings.Contains(match, ":-")

		if val, ok := os.LookupEnv(name); ok && val != "" {
			return val
		}
		if hasDefault {
			return groups[2]
		}
		return match
	})
}

// Save writes cfg as YAML, creating the parent directory
func Save(path string, cfg *Config) error {
	path = ExpandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// Validate reports every invalid setting. The result joins *types.ConfigError
// values, so errors.Is(err, types.ErrConfig) holds.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Database.Path) == "" {
		errs = append(errs, types.NewConfigError("database.path", "cannot be empty"))
	}

	if err := c.SearcherConfig().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Search.Timeout < 0 {
		errs = append(errs, types.NewConfigError("search.timeout", "must be non-negative, got %s", c.Search.Timeout))
	}
	if c.Search.CacheSize < 0 {
		errs = append(errs, types.NewConfigError("search.cacheSize", "must be non-negative, got %d", c.Search.CacheSize))
	}

	if err := c.ChunkerOptions().Validate(); err != nil {
		errs = append(errs, err)
	}

	if c.Ingest.DocumentBatchSize <= 0 {
		errs = append(errs, types.NewConfigError("ingest.documentBatchSize", "must be positive, got %d", c.Ingest.DocumentBatchSize))
	}
	if c.Ingest.EmbedBatchSize <= 0 || c.Ingest.EmbedBatchSize > embedder.MaxBatchSize {
		errs = append(errs, types.NewConfigError("ingest.embedBatchSize", "must be in 1..%d, got %d", embedder.MaxBatchSize, c.Ingest.EmbedBatchSize))
	}

	embeddingProviders := []string{embedder.ProviderOllama, embedder.ProviderOpenAI, embedder.ProviderHuggingFace, embedder.ProviderLocal}
	if !slices.Contains(embeddingProviders, strings.ToLower(c.Embedding.Provider)) {
		errs = append(errs, types.NewConfigError("embedding.provider", "unknown provider %q", c.Embedding.Provider))
	}
	if c.Embedding.Dimension < 0 {
		errs = append(errs, types.NewConfigError("embedding.dimension", "must be non-negative, got %d", c.Embedding.Dimension))
	}

	taggerProviders := []string{tagger.ProviderOllama, tagger.ProviderOpenAI}
	if !slices.Contains(taggerProviders, strings.ToLower(c.Tagger.Provider)) {
		errs = append(errs, types.NewConfigError("tagger.provider", "unknown provider %q", c.Tagger.Provider))
	}
	if c.Tagger.Concurrency <= 0 {
		errs = append(errs, types.NewConfigError("tagger.concurrency", "must be positive, got %d", c.Tagger.Concurrency))
	}
	if c.Tagger.RateLimit < 0 {
		errs = append(errs, types.NewConfigError("tagger.rateLimit", "must be non-negative, got %v", c.Tagger.RateLimit))
	}

	switch strings.ToLower(c.Log.Level) {
	case "trace", "debug", "info", "warn", "warning", "error", "disabled", "off":
	default:
		errs = append(errs, types.NewConfigError("log.level", "unknown level %q", c.Log.Level))
	}

	return errors.Join(errs...)
}

// SearcherConfig converts the search section
func (c *Config) SearcherConfig() searcher.Config {
	return searcher.Config{
		TopN:      c.Search.TopN,
		K:         c.Search.K,
		VectorK:   c.Search.VectorK,
		LexicalK:  c.Search.LexicalK,
		Dimension: c.Search.Dimension,
		Timeout:   c.Search.Timeout,
		CacheSize: c.Search.CacheSize,
		CacheTTL:  c.Search.CacheTTL,
	}
}

// ChunkerOptions converts the chunking section
func (c *Config) ChunkerOptions() chunker.Options {
	return chunker.Options{
		Size:      c.Chunking.Size,
		Overlap:   c.Chunking.Overlap,
		MinLength: c.Chunking.MinLength,
	}
}

// EmbedderConfig converts the embedding section
func (c *Config) EmbedderConfig() embedder.Config {
	return embedder.Config{
		Provider:  c.Embedding.Provider,
		Model:     c.Embedding.Model,
		BaseURL:   c.Embedding.BaseURL,
		APIKey:    c.Embedding.APIKey,
		Dimension: c.Embedding.Dimension,
		CacheSize: c.Embedding.CacheSize,
		Timeout:   c.Embedding.Timeout,
	}
}

// GeneratorConfig converts the tagger section's model settings
func (c *Config) GeneratorConfig() tagger.Config {
	return tagger.Config{
		Provider:      c.Tagger.Provider,
		Model:         c.Tagger.Model,
		BaseURL:       c.Tagger.BaseURL,
		APIKey:        c.Tagger.APIKey,
		ContextWindow: c.Tagger.ContextWindow,
		Temperature:   c.Tagger.Temperature,
		MaxTokens:     c.Tagger.MaxTokens,
	}
}

// LoggerConfig converts the log section
func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{
		Level:  c.Log.Level,
		Pretty: c.Log.Pretty,
	}
}

// ExpandPath resolves a leading ~/ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
