// Package storage provides SQLite-based persistence for reviews and both search indices.
//
// The storage layer manages:
//   - Review documents (immutable once inserted)
//   - Review chunks and their tags
//   - Vector embeddings for chunks
//   - The FTS5 lexical index over tagged chunks
//   - The single-writer ingest lock
//
// # Database Schema
//
// Tables:
//   - schema_version: Applied migrations
//   - reviews: Documents with title, artist, url, score and full text
//   - review_chunks: Overlapping windows of a review, unique per (review_id, start_offset)
//   - chunk_embeddings: One little-endian float32 vector per chunk
//   - review_chunks_fts: FTS5 index over (tags, chunk), rowid = chunk id
//   - ingest_lock: At most one row naming the running ingestion
//
// # Basic Usage
//
//	db, err := storage.NewSQLiteStorage("reviews.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	inserted, err := db.InsertDocuments(ctx, []*types.Document{doc})
//
// # Transactions
//
// Use transactions for atomic batches:
//
//	tx, err := db.BeginTx(ctx)
//	if err != nil {
//	    return err
//	}
//	defer tx.Rollback()
//
//	if _, err := tx.InsertChunks(ctx, chunks); err != nil {
//	    return err
//	}
//	for _, c := range chunks {
//	    tx.UpdateChunkTags(ctx, c.ID, tags[c.ID])
//	}
//
//	if err := tx.Commit(); err != nil {
//	    return err
//	}
//
// # Idempotent Writes
//
// Every write is insert-once. Re-inserting a document, a chunk at the same
// offset, tags on an already tagged chunk, or a second embedding for a chunk
// leaves the stored row untouched. Ingestion can therefore be re-run at any
// point and only fills gaps.
//
// # Vector Search
//
//	results, err := db.SearchVector(ctx, queryVector, 50)
//	for _, r := range results {
//	    fmt.Printf("Chunk %d: distance %.3f\n", r.ChunkID, r.Distance)
//	}
//
// Results are ordered by cosine distance ascending, ties by chunk id.
// Only embeddings with the query's dimension are considered.
//
// # Lexical Search
//
//	results, err := db.SearchText(ctx, "warm analog synths", 50)
//
// The query passes through SanitizeLexicalQuery and is then handed to FTS5
// MATCH. Queries FTS5 cannot parse return ErrMalformedQuery (wrapped).
// The lexical index is extended explicitly with ExtendLexicalIndex and only
// covers chunks that carry tags.
//
// # Build Tags
//
// The storage package supports two build configurations:
//
// CGO Build (sqlite_vec tag):
//
//   - Uses github.com/mattn/go-sqlite3 driver
//
//   - Registers vec_distance_cosine so ranking runs in SQL
//
//   - Requires C compiler
//
//     CGO_ENABLED=1 go build -tags "sqlite_vec,sqlite_fts5"
//
// Pure Go Build (default, or purego tag):
//
//   - Uses modernc.org/sqlite driver
//
//   - Pure Go vector ranking (slower)
//
//   - No C compiler needed
//
//     CGO_ENABLED=0 go build -tags "purego"
package storage
