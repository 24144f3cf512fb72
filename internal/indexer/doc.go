// Package indexer runs the ingestion pipeline that brings the vector and
// lexical indices up to date with the stored review documents.
//
// # Basic Usage
//
//	idx, err := indexer.New(store, chunker, tagBatch, embedder,
//	    indexer.WithLogger(log),
//	    indexer.WithMetrics(m),
//	)
//
//	stats, err := idx.Run(ctx, indexer.Options{Rebuild: false})
//	fmt.Printf("%d chunks, %d embeddings\n", stats.ChunksCreated, stats.EmbeddingsCreated)
//
// # Pipeline
//
// Each run executes four stages in order:
//
//  1. Retag: chunks whose tags are still NULL get another tag request.
//  2. Chunk: documents without chunks are split into overlapping windows,
//     tagged concurrently and committed DocumentBatchSize documents per
//     transaction.
//  3. Embed: chunks missing from the vector index are embedded as
//     "Tags: <tags>\nReview: <text>" and committed one transaction per batch.
//  4. Lexical: tagged chunks not yet in the FTS5 index are posted to it.
//
// A failed tag request leaves that chunk untagged and the batch proceeds.
// An embedding failure aborts the run; batches committed before it remain.
//
// # Concurrency
//
// Only one run proceeds at a time. An in-process IndexLock rejects overlapping
// calls and a database ingest lock, owned by a per-run UUID, rejects other
// processes. The database lock is refreshed between stages and taken over
// once it goes stale.
//
// # Idempotency
//
// Every stage selects only rows that are still missing, so a second run over
// a fully indexed corpus writes nothing. Options.Rebuild drops both indices
// first; documents, chunks and tags are kept.
package indexer
