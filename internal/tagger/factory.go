package tagger

import (
	"fmt"
	"os"
	"strings"

	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// Provider configuration
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"

	DefaultModel         = "qwen2.5:7b"
	DefaultOllamaURL     = "http://localhost:11434"
	DefaultContextWindow = 4096
	DefaultTemperature   = 0.0

	EnvOpenAIAPIKey = "OPENAI_API_KEY"
)

// Config holds tag generator configuration
type Config struct {
	Provider      string
	Model         string
	BaseURL       string
	APIKey        string
	ContextWindow int
	Temperature   float64
	MaxTokens     int
}

// DefaultConfig returns the settings the tags were designed with
func DefaultConfig() Config {
	return Config{
		Provider:      ProviderOllama,
		Model:         DefaultModel,
		BaseURL:       DefaultOllamaURL,
		ContextWindow: DefaultContextWindow,
		Temperature:   DefaultTemperature,
	}
}

// New creates a Generator for the configured provider
func New(cfg Config) (Generator, error) {
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	switch strings.ToLower(cfg.Provider) {
	case ProviderOllama, "":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = DefaultOllamaURL
		}
		numCtx := cfg.ContextWindow
		if numCtx <= 0 {
			numCtx = DefaultContextWindow
		}
		llm, err := ollama.New(
			ollama.WithModel(model),
			ollama.WithServerURL(baseURL),
			ollama.WithRunnerNumCtx(numCtx),
		)
		if err != nil {
			return nil, fmt.Errorf("create ollama client: %w", err)
		}
		return NewLLMGenerator(llm, cfg.Temperature, cfg.MaxTokens), nil

	case ProviderOpenAI:
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv(EnvOpenAIAPIKey)
		}
		if apiKey == "" {
			// Local OpenAI-compatible services don't require authentication
			apiKey = "none"
		}
		opts := []openai.Option{
			openai.WithModel(model),
			openai.WithToken(apiKey),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		llm, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("create openai client: %w", err)
		}
		return NewLLMGenerator(llm, cfg.Temperature, cfg.MaxTokens), nil

	default:
		return nil, fmt.Errorf("unknown tagger provider %q", cfg.Provider)
	}
}
