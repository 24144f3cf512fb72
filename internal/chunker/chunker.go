package chunker

import (
	"iter"

	"github.com/crateseek/crateseek/pkg/types"
)

const (
	// DefaultSize is the window length in runes
	DefaultSize = 1200

	// DefaultOverlap is the number of runes shared by consecutive windows
	DefaultOverlap = 200

	// DefaultMinLength is the shortest trailing window worth indexing
	DefaultMinLength = 100
)

// Options controls window geometry
type Options struct {
	Size      int
	Overlap   int
	MinLength int
}

// DefaultOptions returns the window geometry used for reviews
func DefaultOptions() Options {
	return Options{
		Size:      DefaultSize,
		Overlap:   DefaultOverlap,
		MinLength: DefaultMinLength,
	}
}

// Validate reports the first invalid option as a *types.ConfigError
func (o Options) Validate() error {
	if o.Size <= 0 {
		return types.NewConfigError("chunk_size", "must be positive, got %d", o.Size)
	}
	if o.Overlap < 0 {
		return types.NewConfigError("chunk_overlap", "must be non-negative, got %d", o.Overlap)
	}
	if o.Overlap >= o.Size {
		return types.NewConfigError("chunk_overlap", "must be smaller than chunk_size (%d >= %d)", o.Overlap, o.Size)
	}
	if o.MinLength < 0 {
		return types.NewConfigError("chunk_min_length", "must be non-negative, got %d", o.MinLength)
	}
	return nil
}

// Step returns the distance between consecutive window starts
func (o Options) Step() int {
	return o.Size - o.Overlap
}

// threshold is the effective minimum trailing window length
func (o Options) threshold() int {
	return min(o.MinLength, o.Overlap)
}

// Chunker splits documents into windows with fixed options
type Chunker struct {
	opts Options
}

// New creates a Chunker after validating opts
func New(opts Options) (*Chunker, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Chunker{opts: opts}, nil
}

// Options returns the chunker's window geometry
func (c *Chunker) Options() Options {
	return c.opts
}

// Windows returns the (rune offset, text) windows of text
func (c *Chunker) Windows(text string) iter.Seq2[int, string] {
	return windows(text, c.opts)
}

// ChunkDocument materializes the windows of doc as unsaved chunks
func (c *Chunker) ChunkDocument(doc *types.Document) []*types.Chunk {
	chunks := make([]*types.Chunk, 0)
	for offset, text := range c.Windows(doc.FullText) {
		if text == "" {
			continue
		}
		chunks = append(chunks, &types.Chunk{
			DocumentID:  doc.ID,
			StartOffset: offset,
			Text:        text,
		})
	}
	return chunks
}

// Windows validates opts and returns the windows of text
func Windows(text string, opts Options) (iter.Seq2[int, string], error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return windows(text, opts), nil
}

// Chunk validates opts and materializes the windows of text as unsaved chunks
// belonging to documentID
func Chunk(documentID int64, text string, opts Options) ([]*types.Chunk, error) {
	c, err := New(opts)
	if err != nil {
		return nil, err
	}
	return c.ChunkDocument(&types.Document{ID: documentID, FullText: text}), nil
}

func windows(text string, opts Options) iter.Seq2[int, string] {
	return func(yield func(int, string) bool) {
		runes := []rune(text)
		if len(runes) <= opts.Size {
			yield(0, text)
			return
		}

		step := opts.Step()
		minLen := opts.threshold()
		for start := 0; start < len(runes); start += step {
			end := min(start+opts.Size, len(runes))
			if start > 0 && end-start < minLen {
				return
			}
			if !yield(start, string(runes[start:end])) {
				return
			}
		}
	}
}
