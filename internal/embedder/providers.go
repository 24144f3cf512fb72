package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
	"unicode"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/crateseek/crateseek/pkg/types"
)

// Provider configuration
const (
	ProviderOllama      = "ollama"
	ProviderOpenAI      = "openai"
	ProviderHuggingFace = "huggingface"
	ProviderLocal       = "local"

	// Default models
	DefaultOllamaModel      = "mxbai-embed-large"
	DefaultOpenAIModel      = "text-embedding-3-small"
	DefaultHuggingFaceModel = "mixedbread-ai/mxbai-embed-large-v1"

	// Default endpoints
	DefaultOllamaURL      = "http://localhost:11434"
	DefaultHuggingFaceURL = "https://api-inference.huggingface.co/models"

	// Dimensions
	OllamaDimension      = 1024
	OpenAIDimension      = 1536
	HuggingFaceDimension = 1024
	LocalDimension       = 384

	// Batch limits
	DefaultBatchSize = 128
	MaxBatchSize     = 256

	// Retry configuration
	MaxRetries        = 3
	InitialBackoffMs  = 100
	MaxBackoffMs      = 5000
	BackoffMultiplier = 2.0
)

// Environment variables
const (
	EnvEmbeddingProvider = "CRATESEEK_EMBEDDING_PROVIDER"
	EnvHuggingFaceToken  = "HUGGINGFACE_TOKEN"
	EnvOpenAIAPIKey      = "OPENAI_API_KEY"
)

// fetchFunc embeds texts that missed the cache, in order
type fetchFunc func(ctx context.Context, texts []string) ([][]float32, error)

// embedWithCache serves cached texts and sends the rest to fetch in one call.
// Every returned vector is normalized and checked against dimension.
func embedWithCache(ctx context.Context, cache *Cache, req BatchEmbeddingRequest, provider, model string, dimension int, fetch fetchFunc) ([]*Embedding, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}

	results := make([]*Embedding, len(req.Texts))
	hashes := make([]string, len(req.Texts))
	missing := make([]int, 0, len(req.Texts))
	for i, text := range req.Texts {
		hashes[i] = ComputeHash(text)
		if cache != nil {
			if emb, ok := cache.Get(hashes[i]); ok {
				results[i] = emb
				continue
			}
		}
		missing = append(missing, i)
	}
	if len(missing) == 0 {
		return results, nil
	}

	texts := make([]string, len(missing))
	for j, i := range missing {
		texts[j] = req.Texts[i]
	}

	vectors, err := retryWithBackoff(ctx, DefaultRetryConfig(), func() ([][]float32, error) {
		return fetch(ctx, texts)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrProviderFailed, err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: requested %d embeddings, got %d", ErrProviderFailed, len(texts), len(vectors))
	}

	for j, i := range missing {
		if dimension > 0 && len(vectors[j]) != dimension {
			return nil, fmt.Errorf("%w: %s returned %d dimensions, want %d",
				types.ErrDimensionMismatch, provider, len(vectors[j]), dimension)
		}
		emb := &Embedding{
			Vector:    NormalizeVector(vectors[j]),
			Dimension: len(vectors[j]),
			Provider:  provider,
			Model:     model,
			Hash:      hashes[i],
		}
		if cache != nil {
			cache.Set(hashes[i], emb)
		}
		results[i] = emb
	}
	return results, nil
}

// generateOne embeds a single text through GenerateBatch
func generateOne(ctx context.Context, e Embedder, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}
	resp, err := e.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{req.Text}})
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("%w: no embeddings returned", ErrProviderFailed)
	}
	return resp.Embeddings[0], nil
}

// LangchainProvider implements Embedder on top of a langchaingo embedder.
// It backs both the ollama and openai providers.
type LangchainProvider struct {
	provider  string
	model     string
	dimension int
	client    embeddings.Embedder
	cache     *Cache
}

// NewLangchainProvider wraps an existing langchaingo embedder
func NewLangchainProvider(provider, model string, dimension int, client embeddings.Embedder, cache *Cache) *LangchainProvider {
	return &LangchainProvider{
		provider:  provider,
		model:     model,
		dimension: dimension,
		client:    client,
		cache:     cache,
	}
}

// NewOllamaProvider creates an embedder backed by an Ollama server
func NewOllamaProvider(cfg Config, cache *Cache) (*LangchainProvider, error) {
	model := valueOr(cfg.Model, DefaultOllamaModel)
	llm, err := ollama.New(
		ollama.WithModel(model),
		ollama.WithServerURL(valueOr(cfg.BaseURL, DefaultOllamaURL)),
	)
	if err != nil {
		return nil, fmt.Errorf("create ollama client: %w", err)
	}

	client, err := embeddings.NewEmbedder(llm, embeddings.WithBatchSize(MaxBatchSize))
	if err != nil {
		return nil, fmt.Errorf("create ollama embedder: %w", err)
	}

	dimension := cfg.Dimension
	if dimension == 0 {
		dimension = OllamaDimension
	}
	return NewLangchainProvider(ProviderOllama, model, dimension, client, cache), nil
}

// NewOpenAIProvider creates an embedder for any OpenAI-compatible endpoint
func NewOpenAIProvider(cfg Config, cache *Cache) (*LangchainProvider, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv(EnvOpenAIAPIKey)
	}
	if apiKey == "" && cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: %s not set", ErrNoProviderEnabled, EnvOpenAIAPIKey)
	}
	if apiKey == "" {
		// Local OpenAI-compatible services don't require authentication
		apiKey = "none"
	}

	model := valueOr(cfg.Model, DefaultOpenAIModel)
	opts := []openai.Option{
		openai.WithToken(apiKey),
		openai.WithEmbeddingModel(model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create openai client: %w", err)
	}

	client, err := embeddings.NewEmbedder(llm,
		embeddings.WithBatchSize(MaxBatchSize),
		embeddings.WithStripNewLines(false),
	)
	if err != nil {
		return nil, fmt.Errorf("create openai embedder: %w", err)
	}

	dimension := cfg.Dimension
	if dimension == 0 {
		dimension = OpenAIDimension
	}
	return NewLangchainProvider(ProviderOpenAI, model, dimension, client, cache), nil
}

func (l *LangchainProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	return generateOne(ctx, l, req)
}

func (l *LangchainProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	embs, err := embedWithCache(ctx, l.cache, req, l.provider, l.model, l.dimension, l.client.EmbedDocuments)
	if err != nil {
		return nil, err
	}
	return &BatchEmbeddingResponse{Embeddings: embs, Provider: l.provider, Model: l.model}, nil
}

func (l *LangchainProvider) Dimension() int {
	return l.dimension
}

func (l *LangchainProvider) Provider() string {
	return l.provider
}

func (l *LangchainProvider) Model() string {
	return l.model
}

func (l *LangchainProvider) Close() error {
	return nil
}

// HuggingFaceProvider implements Embedder using the Hugging Face inference API
type HuggingFaceProvider struct {
	apiKey     string
	baseURL    string
	model      string
	dimension  int
	httpClient *http.Client
	cache      *Cache
}

// NewHuggingFaceProvider creates a new Hugging Face embedder
func NewHuggingFaceProvider(cfg Config, cache *Cache) (*HuggingFaceProvider, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv(EnvHuggingFaceToken)
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: %s not set", ErrNoProviderEnabled, EnvHuggingFaceToken)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	dimension := cfg.Dimension
	if dimension == 0 {
		dimension = HuggingFaceDimension
	}

	return &HuggingFaceProvider{
		apiKey:    apiKey,
		baseURL:   strings.TrimSuffix(valueOr(cfg.BaseURL, DefaultHuggingFaceURL), "/"),
		model:     valueOr(cfg.Model, DefaultHuggingFaceModel),
		dimension: dimension,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		cache: cache,
	}, nil
}

func (h *HuggingFaceProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	return generateOne(ctx, h, req)
}

func (h *HuggingFaceProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	embs, err := embedWithCache(ctx, h.cache, req, ProviderHuggingFace, h.model, h.dimension, h.callAPI)
	if err != nil {
		return nil, err
	}
	return &BatchEmbeddingResponse{Embeddings: embs, Provider: ProviderHuggingFace, Model: h.model}, nil
}

func (h *HuggingFaceProvider) callAPI(ctx context.Context, texts []string) ([][]float32, error) {
	reqBody := map[string]interface{}{
		"inputs": texts,
		"parameters": map[string]interface{}{
			"normalize": true,
		},
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", h.baseURL+"/"+h.model, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+h.apiKey)

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api call: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("api error %d: %s", resp.StatusCode, string(bodyBytes))
		if !retryableStatus(resp.StatusCode) {
			return nil, permanent(err)
		}
		return nil, err
	}

	var vectors [][]float32
	if err := json.NewDecoder(resp.Body).Decode(&vectors); err != nil {
		return nil, permanent(fmt.Errorf("decode response: %w", err))
	}
	return vectors, nil
}

func (h *HuggingFaceProvider) Dimension() int {
	return h.dimension
}

func (h *HuggingFaceProvider) Provider() string {
	return ProviderHuggingFace
}

func (h *HuggingFaceProvider) Model() string {
	return h.model
}

func (h *HuggingFaceProvider) Close() error {
	h.httpClient.CloseIdleConnections()
	return nil
}

// LocalProvider is an offline embedder based on feature hashing of words.
// Texts sharing vocabulary land close together, which is enough for tests
// and for running the whole pipeline without network access.
type LocalProvider struct {
	model     string
	dimension int
	cache     *Cache
}

// NewLocalProvider creates a new local embedder
func NewLocalProvider(cache *Cache) (*LocalProvider, error) {
	return &LocalProvider{
		model:     "local-hashing",
		dimension: LocalDimension,
		cache:     cache,
	}, nil
}

func (l *LocalProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	return generateOne(ctx, l, req)
}

func (l *LocalProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	embs, err := embedWithCache(ctx, l.cache, req, ProviderLocal, l.model, l.dimension, l.embed)
	if err != nil {
		return nil, err
	}
	return &BatchEmbeddingResponse{Embeddings: embs, Provider: ProviderLocal, Model: l.model}, nil
}

func (l *LocalProvider) embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vectors[i] = hashingVector(text, l.dimension)
	}
	return vectors, nil
}

// hashingVector adds a signed unit per lowercased word at a hashed index.
// Text without words falls back to hashing the whole string.
func hashingVector(text string, dimension int) []float32 {
	vector := make([]float32, dimension)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	if len(words) == 0 {
		words = []string{text}
	}
	for _, w := range words {
		h := fnv.New64a()
		_, _ = h.Write([]byte(w))
		sum := h.Sum64()
		idx := int(sum % uint64(dimension))
		if sum&(1<<63) != 0 {
			vector[idx]--
		} else {
			vector[idx]++
		}
	}
	return vector
}

func (l *LocalProvider) Dimension() int {
	return l.dimension
}

func (l *LocalProvider) Provider() string {
	return ProviderLocal
}

func (l *LocalProvider) Model() string {
	return l.model
}

func (l *LocalProvider) Close() error {
	return nil
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
