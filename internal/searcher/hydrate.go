package searcher

import (
	"context"
	"fmt"

	"github.com/crateseek/crateseek/pkg/types"
)

// MetadataLookup resolves chunk ids to display metadata in one call.
// Missing ids are omitted and row order is unspecified.
type MetadataLookup interface {
	LookupMetadata(ctx context.Context, chunkIDs []int64) ([]types.Metadata, error)
}

// Hydrate attaches display metadata to fused results.
// Results keep the fused order with 1-based ranks; ids without metadata are
// dropped and later results move up. Lookup errors propagate.
func Hydrate(ctx context.Context, lookup MetadataLookup, fused []types.FusedResult) ([]types.SearchResult, error) {
	if len(fused) == 0 {
		return []types.SearchResult{}, nil
	}

	ids := make([]int64, len(fused))
	for i, f := range fused {
		ids[i] = f.ChunkID
	}

	rows, err := lookup.LookupMetadata(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to hydrate results: %w", err)
	}
	byID := make(map[int64]types.Metadata, len(rows))
	for _, row := range rows {
		byID[row.ChunkID] = row
	}

	results := make([]types.SearchResult, 0, len(fused))
	for _, f := range fused {
		meta, ok := byID[f.ChunkID]
		if !ok {
			continue
		}
		results = append(results, types.SearchResult{
			ChunkID:        f.ChunkID,
			DocumentID:     meta.DocumentID,
			Rank:           len(results) + 1,
			RelevanceScore: f.Score,
			Tags:           meta.Tags,
			Artist:         meta.Artist,
			Title:          meta.Title,
			Score:          meta.Score,
			URL:            meta.URL,
		})
	}
	return results, nil
}
