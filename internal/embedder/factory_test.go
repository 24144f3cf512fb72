package embedder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectProvider(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		hfToken  string
		openai   string
		want     string
	}{
		{"explicit ollama", "ollama", "", "", ProviderOllama},
		{"explicit provider is lowercased", "HuggingFace", "", "", ProviderHuggingFace},
		{"hugging face token present", "", "hf-token", "", ProviderHuggingFace},
		{"openai key present", "", "", "sk-test", ProviderOpenAI},
		{"hugging face takes precedence", "", "hf-token", "sk-test", ProviderHuggingFace},
		{"fallback to local", "", "", "", ProviderLocal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvEmbeddingProvider, tt.provider)
			t.Setenv(EnvHuggingFaceToken, tt.hfToken)
			t.Setenv(EnvOpenAIAPIKey, tt.openai)

			assert.Equal(t, tt.want, DetectProvider())
		})
	}
}

func TestNewFromEnv(t *testing.T) {
	t.Setenv(EnvEmbeddingProvider, "")
	t.Setenv(EnvHuggingFaceToken, "")
	t.Setenv(EnvOpenAIAPIKey, "")

	emb, err := NewFromEnv()
	require.NoError(t, err)
	defer emb.Close()
	assert.Equal(t, ProviderLocal, emb.Provider())
}

func TestNew(t *testing.T) {
	t.Setenv(EnvOpenAIAPIKey, "")
	t.Setenv(EnvHuggingFaceToken, "")

	tests := []struct {
		name    string
		cfg     Config
		want    string
		wantDim int
		wantErr error
	}{
		{name: "local", cfg: Config{Provider: "local", CacheSize: 10}, want: ProviderLocal, wantDim: LocalDimension},
		{name: "empty provider is local", cfg: Config{}, want: ProviderLocal, wantDim: LocalDimension},
		{name: "ollama defaults", cfg: Config{Provider: "ollama"}, want: ProviderOllama, wantDim: OllamaDimension},
		{name: "ollama custom dimension", cfg: Config{Provider: "ollama", Model: "nomic-embed-text", Dimension: 768}, want: ProviderOllama, wantDim: 768},
		{name: "openai compatible endpoint without key", cfg: Config{Provider: "openai", BaseURL: "http://localhost:8080/v1"}, want: ProviderOpenAI, wantDim: OpenAIDimension},
		{name: "openai without key", cfg: Config{Provider: "openai"}, wantErr: ErrNoProviderEnabled},
		{name: "huggingface", cfg: Config{Provider: "huggingface", APIKey: "hf"}, want: ProviderHuggingFace, wantDim: HuggingFaceDimension},
		{name: "unknown", cfg: Config{Provider: "word2vec"}, wantErr: ErrUnsupportedModel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			emb, err := New(tt.cfg)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			defer emb.Close()
			assert.Equal(t, tt.want, emb.Provider())
			assert.Equal(t, tt.wantDim, emb.Dimension())
		})
	}
}
