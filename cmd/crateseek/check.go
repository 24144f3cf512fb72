package main

import (
	"context"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/crateseek/crateseek/internal/embedder"
	"github.com/crateseek/crateseek/internal/storage"
)

const probeReview = `The record opens with a lone piano drifting under a layer of tape hiss,
the melody half-buried as if recorded in another room. By the third track the
reverb swallows everything, and the quiet becomes the point.`

// checkTagger is the subset of the tag pool used by check
type checkTagger interface {
	Tag(ctx context.Context, texts []string) ([]*string, int)
}

func checkCmd() *cobra.Command {
	var skipTagger bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify the embedding and tag providers respond",
		Long: `Embed and tag a sample review segment with the configured providers and
compare the embedding dimension with the vectors already stored.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			var tg checkTagger
			if !skipTagger {
				tg = a.tagger
			}
			return runCheck(cmd.Context(), cmd.OutOrStdout(), a.store, a.embedder, tg)
		},
	}

	cmd.Flags().BoolVar(&skipTagger, "skip-tagger", false, "only check the embedding provider")
	return cmd
}

// runCheck embeds, optionally tags, and compares the embedding dimension
// with the stored index. A nil tagger skips tagging.
func runCheck(ctx context.Context, w io.Writer, store storage.Storage, emb embedder.Embedder, tg checkTagger) error {
	fmt.Fprintf(w, "Embedding provider: %s (%s)\n", emb.Provider(), emb.Model())

	start := time.Now()
	vectors, err := embedder.EmbedAll(ctx, emb, []string{probeReview}, 1)
	if err != nil {
		return fmt.Errorf("embedding check failed: %w", err)
	}
	fmt.Fprintf(w, "  dimension %d, took %s\n", len(vectors[0]), time.Since(start).Round(time.Millisecond))

	status, err := store.GetStatus(ctx)
	if err != nil {
		return err
	}
	if len(status.Dimensions) > 0 && !slices.Contains(status.Dimensions, len(vectors[0])) {
		return fmt.Errorf("embedder produces %d dimensions but the index holds %v; run ingest --rebuild", len(vectors[0]), status.Dimensions)
	}

	if tg == nil {
		return nil
	}

	start = time.Now()
	tags, failures := tg.Tag(ctx, []string{probeReview})
	if failures > 0 || len(tags) == 0 || tags[0] == nil {
		return fmt.Errorf("tag generation failed, see log for details")
	}
	fmt.Fprintf(w, "Tags: %s\n  took %s\n", *tags[0], time.Since(start).Round(time.Millisecond))
	return nil
}
