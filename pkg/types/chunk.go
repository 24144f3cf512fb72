package types

import (
	"errors"
	"fmt"
	"strings"
)

// EmbeddingTextFormat is the text sent to the embedding model for a chunk
const EmbeddingTextFormat = "Tags: %s\nReview: %s"

// Chunk is a contiguous window of a document's text
type Chunk struct {
	// Identification
	ID          int64 // Assigned on insert; 0 until persisted
	DocumentID  int64
	StartOffset int // Rune offset into the document text

	// Content
	Text string
	Tags *string // Nullable until the tag generator succeeds
}

// Validate checks if the chunk is valid
func (c *Chunk) Validate() error {
	if c.DocumentID <= 0 {
		return errors.New("chunk must belong to a document")
	}
	if c.StartOffset < 0 {
		return errors.New("start offset must be non-negative")
	}
	if c.Text == "" {
		return ErrEmptyContent
	}
	return nil
}

// Tagged reports whether tags have been generated
func (c *Chunk) Tagged() bool {
	return c.Tags != nil
}

// EmbeddingText returns the text embedded for this chunk.
// Untagged chunks are embedded with an empty tag line.
func (c *Chunk) EmbeddingText() string {
	tags := ""
	if c.Tags != nil {
		tags = *c.Tags
	}
	return fmt.Sprintf(EmbeddingTextFormat, tags, c.Text)
}

// NormalizeTags trims an LLM tag response into a comma-separated list.
// Returns "" when nothing usable remains.
func NormalizeTags(raw string) string {
	parts := strings.Split(raw, ",")
	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(strings.Trim(strings.TrimSpace(p), ".*-\"'"))
		if p != "" {
			tags = append(tags, p)
		}
	}
	return strings.Join(tags, ", ")
}
