package types

import (
	"errors"
	"strings"
)

// Document is one music review together with its display metadata
type Document struct {
	ID       int64
	Title    string
	Artist   string
	URL      string
	Score    *float64 // Nullable - not every review carries a rating
	FullText string
}

// Validate checks that the document can be chunked and displayed
func (d *Document) Validate() error {
	if d.ID <= 0 {
		return errors.New("document id must be positive")
	}
	if strings.TrimSpace(d.FullText) == "" {
		return errors.New("document text cannot be empty")
	}
	return nil
}

// Metadata is the display data attached to a chunk at hydration time
type Metadata struct {
	ChunkID    int64
	DocumentID int64
	Tags       *string
	Artist     string
	Title      string
	Score      *float64
	URL        string
}
