// Package searcher implements hybrid review retrieval: dense vector similarity
// and sparse lexical matching fused with Reciprocal Rank Fusion.
//
// # Basic Usage
//
//	s, err := searcher.New(store, embedder, searcher.DefaultConfig(),
//	    searcher.WithLogger(log),
//	    searcher.WithMetrics(m),
//	)
//
//	resp, err := s.Search(ctx, searcher.Request{Query: "warm analog synths"})
//	for _, r := range resp.Results {
//	    fmt.Printf("[%d] %s - %s (%.4f)\n", r.Rank, r.Artist, r.Title, r.RelevanceScore)
//	}
//
// # Retrieval
//
// A search runs two retrievals concurrently, each bounded by Config.Timeout:
//
//   - Vector: the query is embedded (unless Request.Vector is set) and the
//     VectorK nearest chunks are returned by ascending cosine distance.
//   - Lexical: when the query text is non-blank, the LexicalK best FTS5 bm25
//     matches over chunk tags and text.
//
// A lexical failure or timeout degrades to an empty list; the search still
// succeeds and Response.LexicalDegraded is set. A vector failure fails the
// search.
//
// # Fusion
//
// Fuse scores each chunk id as the sum over lists of 1/(k+r+1), where r is
// its 0-based rank in that list. Higher is better. Ties are broken by
// ascending chunk id, so results are deterministic:
//
//	fused, _ := searcher.Fuse(1, []int64{a, b, c}, []int64{b, d})
//	// b 0.8333, a 0.5, d 0.3333, c 0.25
//
// k must be >= 0; k = 0 is allowed.
//
// # Hydration
//
// Hydrate resolves the top fused ids to display metadata with one batched
// lookup and returns them in fused order with 1-based ranks. Ids without
// metadata are dropped.
//
// # Caching
//
// Text requests with UseCache set are cached in an LRU keyed by the query,
// its resolved parameters and the index generation read at query time. Any
// committed ingestion write bumps the generation, so a separate ingest process
// never leaves a server answering from stale entries. InvalidateCache frees
// the entries early after an in-process ingestion.
package searcher
