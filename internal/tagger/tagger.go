package tagger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"github.com/crateseek/crateseek/pkg/types"
)

// PromptTemplate asks for tags describing one review segment
const PromptTemplate = "Summarize the music review segment below. Return ONLY a comma-separated list of: " +
	"Emotions, Feelings, Instruments, Genres and effects.\n\nReview segment:\n%s"

// Common errors
var (
	ErrEmptyResponse = fmt.Errorf("tag generator returned no tags: %w", types.ErrUpstreamUnavailable)
	ErrEmptyText     = errors.New("text cannot be empty")
)

// Generator produces a comma-separated tag string for a piece of review text
type Generator interface {
	GenerateTags(ctx context.Context, text string) (string, error)
}

// BuildPrompt renders the tagging prompt for text
func BuildPrompt(text string) string {
	return fmt.Sprintf(PromptTemplate, text)
}

// LLMGenerator implements Generator with one completion call per text
type LLMGenerator struct {
	llm         llms.Model
	temperature float64
	maxTokens   int
}

// NewLLMGenerator wraps a langchaingo model
func NewLLMGenerator(llm llms.Model, temperature float64, maxTokens int) *LLMGenerator {
	return &LLMGenerator{
		llm:         llm,
		temperature: temperature,
		maxTokens:   maxTokens,
	}
}

// GenerateTags calls the model and normalizes its answer.
// Transport failures and empty answers wrap types.ErrUpstreamUnavailable.
func (g *LLMGenerator) GenerateTags(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyText
	}

	opts := []llms.CallOption{llms.WithTemperature(g.temperature)}
	if g.maxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(g.maxTokens))
	}

	completion, err := llms.GenerateFromSinglePrompt(ctx, g.llm, BuildPrompt(text), opts...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("%w: %w", types.ErrUpstreamUnavailable, ctxErr)
		}
		return "", fmt.Errorf("%w: %v", types.ErrUpstreamUnavailable, err)
	}

	tags := types.NormalizeTags(completion)
	if tags == "" {
		return "", ErrEmptyResponse
	}
	return tags, nil
}
