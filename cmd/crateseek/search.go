package main

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/spf13/cobra"

	"github.com/crateseek/crateseek/internal/searcher"
	"github.com/crateseek/crateseek/internal/storage"
)

func searchCmd() *cobra.Command {
	var (
		topN    int
		k       float64
		asJSON  bool
		explain bool
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Run one hybrid search and print the results",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			req := searcher.Request{
				Query:   strings.Join(args, " "),
				TopN:    topN,
				Surface: "cli",
			}
			if cmd.Flags().Changed("k") {
				req.K = &k
			}

			resp, err := a.searcher.Search(cmd.Context(), req)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return writeSearchJSON(out, req.Query, resp)
			}
			writeSearchText(out, resp, explain)
			return nil
		},
	}

	cmd.Flags().IntVarP(&topN, "top-n", "n", 0, "number of results (default from config)")
	cmd.Flags().Float64Var(&k, "k", searcher.DefaultK, "Reciprocal Rank Fusion constant")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print results as JSON")
	cmd.Flags().BoolVar(&explain, "explain", false, "print candidate counts and timing")
	return cmd
}

func writeSearchText(w io.Writer, resp *searcher.Response, explain bool) {
	if len(resp.Results) == 0 {
		fmt.Fprintln(w, "No results")
	}
	for _, r := range resp.Results {
		score := "n/a"
		if r.Score != nil {
			score = fmt.Sprintf("%.1f", *r.Score)
		}
		fmt.Fprintf(w, "%2d. %s - %s  [score %s, relevance %.4f]\n", r.Rank, r.Artist, r.Title, score, r.RelevanceScore)
		if r.Tags != nil {
			fmt.Fprintf(w, "    %s\n", *r.Tags)
		}
		fmt.Fprintf(w, "    %s\n", r.URL)
	}

	if explain {
		degraded := ""
		if resp.LexicalDegraded {
			degraded = " (keyword search degraded)"
		}
		fmt.Fprintf(w, "\nvector candidates: %d, keyword candidates: %d%s, took %s\n",
			resp.VectorCandidates, resp.LexicalCandidates, degraded, resp.Duration)
	}
}

func writeSearchJSON(w io.Writer, query string, resp *searcher.Response) error {
	results := make([]map[string]any, 0, len(resp.Results))
	for _, r := range resp.Results {
		results = append(results, map[string]any{
			"rank":      r.Rank,
			"tags":      r.Tags,
			"artist":    r.Artist,
			"title":     r.Title,
			"score":     r.Score,
			"url":       r.URL,
			"relevance": math.Round(r.RelevanceScore*1e4) / 1e4,
		})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"query":            query,
		"results":          results,
		"lexical_degraded": resp.LexicalDegraded,
	})
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show corpus size and index coverage",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			status, err := a.store.GetStatus(cmd.Context())
			if err != nil {
				return err
			}
			writeStatus(cmd.OutOrStdout(), a.cfg.Database.Path, status)
			return nil
		},
	}
}

func writeStatus(w io.Writer, dbPath string, s *storage.IndexStatus) {
	fmt.Fprintf(w, "Database:         %s (%.2f MB, schema %s)\n", dbPath, s.IndexSizeMB, s.SchemaVersion)
	fmt.Fprintf(w, "Reviews:          %d\n", s.DocumentsCount)
	fmt.Fprintf(w, "Chunks:           %d (%d tagged)\n", s.ChunksCount, s.TaggedCount)
	fmt.Fprintf(w, "Embeddings:       %d %v\n", s.EmbeddingsCount, s.Dimensions)
	fmt.Fprintf(w, "Keyword rows:     %d\n", s.LexicalCount)
	if s.IngestLockOwner != "" {
		fmt.Fprintf(w, "Ingesting:        %s\n", s.IngestLockOwner)
	}
	fmt.Fprintf(w, "Healthy:          database=%v embeddings=%v keyword=%v\n",
		s.Health.DatabaseAccessible, s.Health.EmbeddingsAvailable, s.Health.LexicalIndexBuilt)
}
