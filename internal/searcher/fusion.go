package searcher

import (
	"cmp"
	"math"
	"slices"

	"github.com/crateseek/crateseek/pkg/types"
)

// Fuse merges ranked id lists with Reciprocal Rank Fusion.
//
// An id at 0-based rank r of a list contributes 1/(k+r+1); contributions are
// summed across lists. A repeated id inside one list counts once, at its first
// rank. Results are ordered by score descending, ties broken by ascending id.
// Fusion is symmetric in the order of lists.
func Fuse(k float64, lists ...[]int64) ([]types.FusedResult, error) {
	if k < 0 || math.IsNaN(k) || math.IsInf(k, 0) {
		return nil, types.NewConfigError("k", "must be a finite number >= 0, got %v", k)
	}

	scores := make(map[int64]float64)
	for _, list := range lists {
		seen := make(map[int64]struct{}, len(list))
		for rank, id := range list {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			scores[id] += 1.0 / (k + float64(rank) + 1)
		}
	}

	fused := make([]types.FusedResult, 0, len(scores))
	for id, score := range scores {
		fused = append(fused, types.FusedResult{ChunkID: id, Score: score})
	}
	sortFused(fused)
	return fused, nil
}

// sortFused sorts by score descending, then chunk id ascending
func sortFused(results []types.FusedResult) {
	slices.SortFunc(results, func(a, b types.FusedResult) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.ChunkID, b.ChunkID)
	})
}

// truncate keeps at most n results
func truncate(results []types.FusedResult, n int) []types.FusedResult {
	if n >= 0 && len(results) > n {
		return results[:n]
	}
	return results
}
