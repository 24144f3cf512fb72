package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/crateseek/crateseek/internal/indexer"
	"github.com/crateseek/crateseek/internal/storage"
	"github.com/crateseek/crateseek/pkg/types"
)

const importBatchSize = 500

// reviewRecord is one line of an import file
type reviewRecord struct {
	ID       int64    `json:"id"`
	Title    string   `json:"title"`
	Artist   string   `json:"artist"`
	URL      string   `json:"url"`
	Score    *float64 `json:"score"`
	FullText string   `json:"full_text"`
}

func (r reviewRecord) document() *types.Document {
	return &types.Document{
		ID:       r.ID,
		Title:    r.Title,
		Artist:   r.Artist,
		URL:      r.URL,
		Score:    r.Score,
		FullText: r.FullText,
	}
}

func importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <reviews.jsonl>",
		Short: "Load reviews from a JSON Lines file",
		Long: `Load reviews from a JSON Lines file, one object per line with the fields
id, title, artist, url, score and full_text. Reviews already stored are
left untouched. Use "-" to read from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			var in io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			stats, err := importReviews(ctx, a.store, in)
			fmt.Fprintf(cmd.OutOrStdout(), "Read %d reviews, stored %d new, skipped %d invalid\n",
				stats.Read, stats.Inserted, stats.Skipped)
			return err
		},
	}
}

type importStats struct {
	Read     int
	Inserted int
	Skipped  int
}

// importReviews stores every valid record of a JSON Lines stream. Each batch
// is written in its own transaction.
func importReviews(ctx context.Context, store storage.Storage, in io.Reader) (importStats, error) {
	var stats importStats
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	batch := make([]*types.Document, 0, importBatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		tx, err := store.BeginTx(ctx)
		if err != nil {
			return err
		}
		n, err := tx.InsertDocuments(ctx, batch)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		stats.Inserted += n
		batch = batch[:0]
		return nil
	}

	line := 0
	for scanner.Scan() {
		line++
		if len(bytes.TrimSpace(scanner.Bytes())) == 0 {
			continue
		}
		var rec reviewRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return stats, fmt.Errorf("line %d: %w", line, err)
		}
		stats.Read++

		doc := rec.document()
		if err := doc.Validate(); err != nil {
			stats.Skipped++
			continue
		}
		batch = append(batch, doc)
		if len(batch) == importBatchSize {
			if err := flush(); err != nil {
				return stats, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return stats, err
	}
	return stats, flush()
}

func ingestCmd() *cobra.Command {
	var rebuild bool

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Chunk, tag, embed and index stored reviews",
		Long: `Bring the vector and keyword indexes up to date. Reviews without chunks are
chunked and tagged, chunks without embeddings are embedded, and tagged chunks
are added to the keyword index. Running it again on an indexed corpus does
nothing. --rebuild drops both indexes first and rebuilds them from stored
chunks.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			stats, err := a.indexer.Run(ctx, indexer.Options{Rebuild: rebuild})
			if stats != nil {
				printIngestStats(cmd.OutOrStdout(), stats)
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&rebuild, "rebuild", false, "drop and rebuild the vector and keyword indexes")
	return cmd
}

func printIngestStats(w io.Writer, stats *indexer.Statistics) {
	fmt.Fprintf(w, "Run:              %s\n", stats.RunID)
	if stats.Rebuilt {
		fmt.Fprintln(w, "Indexes rebuilt:  yes")
	}
	fmt.Fprintf(w, "Reviews chunked:  %d\n", stats.DocumentsChunked)
	fmt.Fprintf(w, "Chunks created:   %d\n", stats.ChunksCreated)
	fmt.Fprintf(w, "Chunks tagged:    %d (retagged %d, failed %d)\n", stats.ChunksTagged, stats.ChunksRetagged, stats.TagFailures)
	fmt.Fprintf(w, "Embeddings:       %d\n", stats.EmbeddingsCreated)
	fmt.Fprintf(w, "Keyword rows:     %d\n", stats.LexicalRows)
	fmt.Fprintf(w, "Duration:         %s\n", stats.Duration.Round(time.Millisecond))
}
