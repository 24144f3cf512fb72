package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/crateseek/crateseek/pkg/types"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = types.ErrNotFound
)

// lookupBatchSize bounds the number of bound parameters per IN (...) query
const lookupBatchSize = 500

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db *sql.DB
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite benefits from single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Apply migrations
	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// BeginTx starts a new transaction
func (s *SQLiteStorage) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{tx: tx, storage: s}, nil
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// sqliteTx wraps a SQL transaction
type sqliteTx struct {
	tx      *sql.Tx
	storage *SQLiteStorage
}

func (t *sqliteTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

// querier returns the transaction querier
func (t *sqliteTx) querier() querier {
	return t.tx
}

// querier returns the DB querier
func (s *SQLiteStorage) querier() querier {
	return s.db
}

// Document operations

// insertDocumentsWithQuerier inserts documents that are not stored yet.
// Documents are immutable, so an existing id is left untouched.
func (s *SQLiteStorage) insertDocumentsWithQuerier(ctx context.Context, q querier, docs []*types.Document) (int, error) {
	query := `
		INSERT INTO reviews (id, title, artist, url, score, full_text, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`
	now := time.Now()
	inserted := 0
	for _, doc := range docs {
		if err := doc.Validate(); err != nil {
			return inserted, fmt.Errorf("document %d: %w", doc.ID, err)
		}
		result, err := q.ExecContext(ctx, query,
			doc.ID, doc.Title, doc.Artist, doc.URL, nullFloat(doc.Score), doc.FullText, now)
		if err != nil {
			return inserted, fmt.Errorf("failed to insert document %d: %w", doc.ID, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return inserted, err
		}
		inserted += int(n)
	}
	return inserted, nil
}

func (s *SQLiteStorage) InsertDocuments(ctx context.Context, docs []*types.Document) (int, error) {
	return s.insertDocumentsWithQuerier(ctx, s.querier(), docs)
}

// getDocumentWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) getDocumentWithQuerier(ctx context.Context, q querier, documentID int64) (*types.Document, error) {
	query := `
		SELECT id, title, artist, url, score, full_text
		FROM reviews
		WHERE id = ?
	`
	doc, err := scanDocument(q.QueryRowContext(ctx, query, documentID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *SQLiteStorage) GetDocument(ctx context.Context, documentID int64) (*types.Document, error) {
	return s.getDocumentWithQuerier(ctx, s.querier(), documentID)
}

// listUnchunkedDocumentsWithQuerier pages through documents that have no chunks yet
func (s *SQLiteStorage) listUnchunkedDocumentsWithQuerier(ctx context.Context, q querier, afterID int64, limit int) ([]*types.Document, error) {
	query := `
		SELECT r.id, r.title, r.artist, r.url, r.score, r.full_text
		FROM reviews r
		WHERE r.id > ?
		  AND NOT EXISTS (SELECT 1 FROM review_chunks c WHERE c.review_id = r.id)
		ORDER BY r.id
		LIMIT ?
	`
	rows, err := q.QueryContext(ctx, query, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unchunked documents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	docs := make([]*types.Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (s *SQLiteStorage) ListUnchunkedDocuments(ctx context.Context, afterID int64, limit int) ([]*types.Document, error) {
	return s.listUnchunkedDocumentsWithQuerier(ctx, s.querier(), afterID, limit)
}

// Chunk operations

// insertChunksWithQuerier stores chunks and assigns their IDs.
// A chunk whose (review_id, start_offset) already exists keeps the stored row.
func (s *SQLiteStorage) insertChunksWithQuerier(ctx context.Context, q querier, chunks []*types.Chunk) (int, error) {
	query := `
		INSERT INTO review_chunks (review_id, start_offset, chunk, tags, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(review_id, start_offset) DO NOTHING
	`
	now := time.Now()
	inserted := 0
	for _, chunk := range chunks {
		if err := chunk.Validate(); err != nil {
			return inserted, err
		}
		result, err := q.ExecContext(ctx, query,
			chunk.DocumentID, chunk.StartOffset, chunk.Text, nullString(chunk.Tags), now)
		if err != nil {
			return inserted, fmt.Errorf("failed to insert chunk: %w", err)
		}

		n, err := result.RowsAffected()
		if err != nil {
			return inserted, err
		}
		if n == 1 {
			id, err := result.LastInsertId()
			if err != nil {
				return inserted, err
			}
			chunk.ID = id
			inserted++
			continue
		}

		// Conflict - resolve the existing id
		err = q.QueryRowContext(ctx,
			"SELECT id FROM review_chunks WHERE review_id = ? AND start_offset = ?",
			chunk.DocumentID, chunk.StartOffset).Scan(&chunk.ID)
		if err != nil {
			return inserted, fmt.Errorf("failed to resolve existing chunk: %w", err)
		}
	}
	return inserted, nil
}

func (s *SQLiteStorage) InsertChunks(ctx context.Context, chunks []*types.Chunk) (int, error) {
	return s.insertChunksWithQuerier(ctx, s.querier(), chunks)
}

// getChunkWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) getChunkWithQuerier(ctx context.Context, q querier, chunkID int64) (*types.Chunk, error) {
	query := `
		SELECT id, review_id, start_offset, chunk, tags
		FROM review_chunks
		WHERE id = ?
	`
	chunk, err := scanChunk(q.QueryRowContext(ctx, query, chunkID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return chunk, nil
}

func (s *SQLiteStorage) GetChunk(ctx context.Context, chunkID int64) (*types.Chunk, error) {
	return s.getChunkWithQuerier(ctx, s.querier(), chunkID)
}

// listChunksByDocumentWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) listChunksByDocumentWithQuerier(ctx context.Context, q querier, documentID int64) ([]*types.Chunk, error) {
	query := `
		SELECT id, review_id, start_offset, chunk, tags
		FROM review_chunks
		WHERE review_id = ?
		ORDER BY start_offset
	`
	return queryChunks(ctx, q, query, documentID)
}

func (s *SQLiteStorage) ListChunksByDocument(ctx context.Context, documentID int64) ([]*types.Chunk, error) {
	return s.listChunksByDocumentWithQuerier(ctx, s.querier(), documentID)
}

// listUntaggedChunksWithQuerier pages through chunks whose tags are still NULL
func (s *SQLiteStorage) listUntaggedChunksWithQuerier(ctx context.Context, q querier, afterID int64, limit int) ([]*types.Chunk, error) {
	query := `
		SELECT id, review_id, start_offset, chunk, tags
		FROM review_chunks
		WHERE tags IS NULL AND id > ?
		ORDER BY id
		LIMIT ?
	`
	return queryChunks(ctx, q, query, afterID, limit)
}

func (s *SQLiteStorage) ListUntaggedChunks(ctx context.Context, afterID int64, limit int) ([]*types.Chunk, error) {
	return s.listUntaggedChunksWithQuerier(ctx, s.querier(), afterID, limit)
}

// updateChunkTagsWithQuerier attaches tags once; tagged chunks are never overwritten
func (s *SQLiteStorage) updateChunkTagsWithQuerier(ctx context.Context, q querier, chunkID int64, tags string) (bool, error) {
	result, err := q.ExecContext(ctx,
		"UPDATE review_chunks SET tags = ? WHERE id = ? AND tags IS NULL", tags, chunkID)
	if err != nil {
		return false, fmt.Errorf("failed to update chunk tags: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *SQLiteStorage) UpdateChunkTags(ctx context.Context, chunkID int64, tags string) (bool, error) {
	return s.updateChunkTagsWithQuerier(ctx, s.querier(), chunkID, tags)
}

// listChunksWithoutEmbeddingWithQuerier pages through chunks absent from the vector index
func (s *SQLiteStorage) listChunksWithoutEmbeddingWithQuerier(ctx context.Context, q querier, afterID int64, limit int) ([]*types.Chunk, error) {
	query := `
		SELECT c.id, c.review_id, c.start_offset, c.chunk, c.tags
		FROM review_chunks c
		LEFT JOIN chunk_embeddings e ON e.chunk_id = c.id
		WHERE e.chunk_id IS NULL AND c.id > ?
		ORDER BY c.id
		LIMIT ?
	`
	return queryChunks(ctx, q, query, afterID, limit)
}

func (s *SQLiteStorage) ListChunksWithoutEmbedding(ctx context.Context, afterID int64, limit int) ([]*types.Chunk, error) {
	return s.listChunksWithoutEmbeddingWithQuerier(ctx, s.querier(), afterID, limit)
}

// Embedding operations

// insertEmbeddingWithQuerier writes an embedding once; an existing row is kept
func (s *SQLiteStorage) insertEmbeddingWithQuerier(ctx context.Context, q querier, embedding *Embedding) (bool, error) {
	if len(embedding.Vector) == 0 {
		return false, fmt.Errorf("embedding for chunk %d is empty", embedding.ChunkID)
	}
	if embedding.Dimension == 0 {
		embedding.Dimension = len(embedding.Vector)
	}
	if embedding.Dimension != len(embedding.Vector) {
		return false, fmt.Errorf("%w: chunk %d declares %d, vector has %d",
			types.ErrDimensionMismatch, embedding.ChunkID, embedding.Dimension, len(embedding.Vector))
	}

	query := `
		INSERT INTO chunk_embeddings (chunk_id, vector, dimension, provider, model, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(chunk_id) DO NOTHING
	`
	now := time.Now()
	result, err := q.ExecContext(ctx, query,
		embedding.ChunkID, serializeVector(embedding.Vector), embedding.Dimension,
		embedding.Provider, embedding.Model, now)
	if err != nil {
		return false, fmt.Errorf("failed to insert embedding: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	embedding.CreatedAt = now
	return n == 1, nil
}

func (s *SQLiteStorage) InsertEmbedding(ctx context.Context, embedding *Embedding) (bool, error) {
	return s.insertEmbeddingWithQuerier(ctx, s.querier(), embedding)
}

// getEmbeddingWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) getEmbeddingWithQuerier(ctx context.Context, q querier, chunkID int64) (*Embedding, error) {
	query := `
		SELECT chunk_id, vector, dimension, provider, model, created_at
		FROM chunk_embeddings
		WHERE chunk_id = ?
	`
	var embedding Embedding
	var blob []byte
	err := q.QueryRowContext(ctx, query, chunkID).Scan(
		&embedding.ChunkID, &blob, &embedding.Dimension,
		&embedding.Provider, &embedding.Model, &embedding.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	embedding.Vector = deserializeVector(blob)
	return &embedding, nil
}

func (s *SQLiteStorage) GetEmbedding(ctx context.Context, chunkID int64) (*Embedding, error) {
	return s.getEmbeddingWithQuerier(ctx, s.querier(), chunkID)
}

// Lexical index operations

// extendLexicalIndexWithQuerier posts every tagged chunk not yet in the lexical index
func (s *SQLiteStorage) extendLexicalIndexWithQuerier(ctx context.Context, q querier) (int, error) {
	query := `
		INSERT INTO review_chunks_fts (rowid, tags, chunk)
		SELECT id, tags, chunk
		FROM review_chunks
		WHERE tags IS NOT NULL
		  AND id NOT IN (SELECT rowid FROM review_chunks_fts)
	`
	result, err := q.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to extend lexical index: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		if err := bumpGeneration(ctx, q); err != nil {
			return 0, err
		}
	}
	return int(n), nil
}

func (s *SQLiteStorage) ExtendLexicalIndex(ctx context.Context) (int, error) {
	return s.extendLexicalIndexWithQuerier(ctx, s.querier())
}

// resetIndexesWithQuerier drops every embedding and lexical posting.
// Documents, chunks and tags are kept.
func (s *SQLiteStorage) resetIndexesWithQuerier(ctx context.Context, q querier) error {
	if _, err := q.ExecContext(ctx, "DELETE FROM chunk_embeddings"); err != nil {
		return fmt.Errorf("failed to reset vector index: %w", err)
	}
	if _, err := q.ExecContext(ctx, "DELETE FROM review_chunks_fts"); err != nil {
		return fmt.Errorf("failed to reset lexical index: %w", err)
	}
	return bumpGeneration(ctx, q)
}

// bumpGeneration marks both indices as changed. Embedding inserts and tag
// updates bump it through triggers; FTS5 tables cannot carry triggers.
func bumpGeneration(ctx context.Context, q querier) error {
	if _, err := q.ExecContext(ctx, "UPDATE index_generation SET value = value + 1 WHERE id = 1"); err != nil {
		return fmt.Errorf("failed to bump index generation: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) ResetIndexes(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.resetIndexesWithQuerier(ctx, tx); err != nil {
		return err
	}
	return tx.Commit()
}

// Search operations

func (s *SQLiteStorage) SearchVector(ctx context.Context, queryVector []float32, limit int) ([]VectorResult, error) {
	// Implementation moved to separate file for clarity
	return searchVector(ctx, s.querier(), queryVector, limit)
}

func (s *SQLiteStorage) SearchText(ctx context.Context, query string, limit int) ([]TextResult, error) {
	// Implementation moved to separate file for clarity
	return searchText(ctx, s.querier(), query, limit)
}

// lookupMetadataWithQuerier resolves chunk ids to display metadata in as few
// queries as possible. Row order is unspecified and missing ids are omitted.
func (s *SQLiteStorage) lookupMetadataWithQuerier(ctx context.Context, q querier, chunkIDs []int64) ([]types.Metadata, error) {
	results := make([]types.Metadata, 0, len(chunkIDs))
	for start := 0; start < len(chunkIDs); start += lookupBatchSize {
		batch := chunkIDs[start:min(start+lookupBatchSize, len(chunkIDs))]

		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(batch)), ",")
		query := `
			SELECT c.id, c.review_id, c.tags, r.artist, r.title, r.score, r.url
			FROM review_chunks c
			INNER JOIN reviews r ON r.id = c.review_id
			WHERE c.id IN (` + placeholders + `)
		`
		args := make([]interface{}, len(batch))
		for i, id := range batch {
			args[i] = id
		}

		rows, err := q.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to look up metadata: %w", err)
		}
		for rows.Next() {
			var m types.Metadata
			var tags sql.NullString
			var score sql.NullFloat64
			if err := rows.Scan(&m.ChunkID, &m.DocumentID, &tags, &m.Artist, &m.Title, &score, &m.URL); err != nil {
				_ = rows.Close()
				return nil, err
			}
			m.Tags = fromNullString(tags)
			m.Score = fromNullFloat(score)
			results = append(results, m)
		}
		err = rows.Err()
		_ = rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}

func (s *SQLiteStorage) LookupMetadata(ctx context.Context, chunkIDs []int64) ([]types.Metadata, error) {
	return s.lookupMetadataWithQuerier(ctx, s.querier(), chunkIDs)
}

// Ingest lock operations

// acquireIngestLockWithQuerier takes the single-writer lock, or takes it over
// when the holder has not refreshed it within staleAfter.
func (s *SQLiteStorage) acquireIngestLockWithQuerier(ctx context.Context, q querier, owner string, staleAfter time.Duration) error {
	now := time.Now()
	query := `
		INSERT INTO ingest_lock (id, owner, acquired_at)
		VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			owner = excluded.owner,
			acquired_at = excluded.acquired_at
		WHERE ingest_lock.acquired_at < ? OR ingest_lock.owner = excluded.owner
	`
	result, err := q.ExecContext(ctx, query, owner, now.UnixNano(), now.Add(-staleAfter).UnixNano())
	if err != nil {
		return fmt.Errorf("failed to acquire ingest lock: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return types.ErrIngestInProgress
	}
	return nil
}

func (s *SQLiteStorage) AcquireIngestLock(ctx context.Context, owner string, staleAfter time.Duration) error {
	return s.acquireIngestLockWithQuerier(ctx, s.querier(), owner, staleAfter)
}

// refreshIngestLockWithQuerier extends the lease of a held lock
func (s *SQLiteStorage) refreshIngestLockWithQuerier(ctx context.Context, q querier, owner string) error {
	result, err := q.ExecContext(ctx,
		"UPDATE ingest_lock SET acquired_at = ? WHERE id = 1 AND owner = ?", time.Now().UnixNano(), owner)
	if err != nil {
		return fmt.Errorf("failed to refresh ingest lock: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: lock lost by %s", types.ErrIngestInProgress, owner)
	}
	return nil
}

func (s *SQLiteStorage) RefreshIngestLock(ctx context.Context, owner string) error {
	return s.refreshIngestLockWithQuerier(ctx, s.querier(), owner)
}

// releaseIngestLockWithQuerier drops the lock if owner still holds it
func (s *SQLiteStorage) releaseIngestLockWithQuerier(ctx context.Context, q querier, owner string) error {
	_, err := q.ExecContext(ctx, "DELETE FROM ingest_lock WHERE id = 1 AND owner = ?", owner)
	if err != nil {
		return fmt.Errorf("failed to release ingest lock: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) ReleaseIngestLock(ctx context.Context, owner string) error {
	return s.releaseIngestLockWithQuerier(ctx, s.querier(), owner)
}

// Status operations

func (s *SQLiteStorage) indexGenerationWithQuerier(ctx context.Context, q querier) (int64, error) {
	var gen int64
	err := q.QueryRowContext(ctx, "SELECT value FROM index_generation WHERE id = 1").Scan(&gen)
	if err != nil {
		return 0, fmt.Errorf("failed to read index generation: %w", err)
	}
	return gen, nil
}

// IndexGeneration returns a counter that changes whenever a committed write
// could change search results.
func (s *SQLiteStorage) IndexGeneration(ctx context.Context) (int64, error) {
	return s.indexGenerationWithQuerier(ctx, s.querier())
}

func (s *SQLiteStorage) GetStatus(ctx context.Context) (*IndexStatus, error) {
	status := &IndexStatus{}

	version, err := SchemaVersion(ctx, s.db)
	if err != nil {
		return nil, err
	}
	status.SchemaVersion = version

	counts := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM reviews", &status.DocumentsCount},
		{"SELECT COUNT(*) FROM review_chunks", &status.ChunksCount},
		{"SELECT COUNT(*) FROM review_chunks WHERE tags IS NOT NULL", &status.TaggedCount},
		{"SELECT COUNT(*) FROM chunk_embeddings", &status.EmbeddingsCount},
		{"SELECT COUNT(*) FROM review_chunks_fts", &status.LexicalCount},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, err
		}
	}

	// Distinct dimensions; more than one means a rebuild is due
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT dimension FROM chunk_embeddings ORDER BY dimension")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var dim int
		if err := rows.Scan(&dim); err != nil {
			return nil, err
		}
		status.Dimensions = append(status.Dimensions, dim)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var owner string
	err = s.db.QueryRowContext(ctx, "SELECT owner FROM ingest_lock WHERE id = 1").Scan(&owner)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	status.IngestLockOwner = owner

	// Calculate database size
	var pageCount, pageSize int
	err = s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount)
	if err == nil {
		_ = s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
		status.IndexSizeMB = float64(pageCount*pageSize) / (1024 * 1024)
	}

	status.Health = HealthStatus{
		DatabaseAccessible:  true,
		EmbeddingsAvailable: status.EmbeddingsCount > 0,
		LexicalIndexBuilt:   status.LexicalCount > 0,
	}

	return status, nil
}

// Scanning helpers

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDocument(row rowScanner) (*types.Document, error) {
	var doc types.Document
	var score sql.NullFloat64
	if err := row.Scan(&doc.ID, &doc.Title, &doc.Artist, &doc.URL, &score, &doc.FullText); err != nil {
		return nil, err
	}
	doc.Score = fromNullFloat(score)
	return &doc, nil
}

func scanChunk(row rowScanner) (*types.Chunk, error) {
	var chunk types.Chunk
	var tags sql.NullString
	if err := row.Scan(&chunk.ID, &chunk.DocumentID, &chunk.StartOffset, &chunk.Text, &tags); err != nil {
		return nil, err
	}
	chunk.Tags = fromNullString(tags)
	return &chunk, nil
}

func queryChunks(ctx context.Context, q querier, query string, args ...interface{}) ([]*types.Chunk, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	chunks := make([]*types.Chunk, 0)
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func fromNullFloat(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	f := nf.Float64
	return &f
}

// Transaction implementations

// Writes go through the transaction querier; status reads use the database.

func (t *sqliteTx) InsertDocuments(ctx context.Context, docs []*types.Document) (int, error) {
	return t.storage.insertDocumentsWithQuerier(ctx, t.querier(), docs)
}

func (t *sqliteTx) GetDocument(ctx context.Context, documentID int64) (*types.Document, error) {
	return t.storage.getDocumentWithQuerier(ctx, t.querier(), documentID)
}

func (t *sqliteTx) ListUnchunkedDocuments(ctx context.Context, afterID int64, limit int) ([]*types.Document, error) {
	return t.storage.listUnchunkedDocumentsWithQuerier(ctx, t.querier(), afterID, limit)
}

func (t *sqliteTx) InsertChunks(ctx context.Context, chunks []*types.Chunk) (int, error) {
	return t.storage.insertChunksWithQuerier(ctx, t.querier(), chunks)
}

func (t *sqliteTx) GetChunk(ctx context.Context, chunkID int64) (*types.Chunk, error) {
	return t.storage.getChunkWithQuerier(ctx, t.querier(), chunkID)
}

func (t *sqliteTx) ListChunksByDocument(ctx context.Context, documentID int64) ([]*types.Chunk, error) {
	return t.storage.listChunksByDocumentWithQuerier(ctx, t.querier(), documentID)
}

func (t *sqliteTx) ListUntaggedChunks(ctx context.Context, afterID int64, limit int) ([]*types.Chunk, error) {
	return t.storage.listUntaggedChunksWithQuerier(ctx, t.querier(), afterID, limit)
}

func (t *sqliteTx) UpdateChunkTags(ctx context.Context, chunkID int64, tags string) (bool, error) {
	return t.storage.updateChunkTagsWithQuerier(ctx, t.querier(), chunkID, tags)
}

func (t *sqliteTx) ListChunksWithoutEmbedding(ctx context.Context, afterID int64, limit int) ([]*types.Chunk, error) {
	return t.storage.listChunksWithoutEmbeddingWithQuerier(ctx, t.querier(), afterID, limit)
}

func (t *sqliteTx) InsertEmbedding(ctx context.Context, embedding *Embedding) (bool, error) {
	return t.storage.insertEmbeddingWithQuerier(ctx, t.querier(), embedding)
}

func (t *sqliteTx) GetEmbedding(ctx context.Context, chunkID int64) (*Embedding, error) {
	return t.storage.getEmbeddingWithQuerier(ctx, t.querier(), chunkID)
}

func (t *sqliteTx) ExtendLexicalIndex(ctx context.Context) (int, error) {
	return t.storage.extendLexicalIndexWithQuerier(ctx, t.querier())
}

func (t *sqliteTx) ResetIndexes(ctx context.Context) error {
	return t.storage.resetIndexesWithQuerier(ctx, t.querier())
}

func (t *sqliteTx) SearchVector(ctx context.Context, vector []float32, limit int) ([]VectorResult, error) {
	return searchVector(ctx, t.querier(), vector, limit)
}

func (t *sqliteTx) SearchText(ctx context.Context, query string, limit int) ([]TextResult, error) {
	return searchText(ctx, t.querier(), query, limit)
}

func (t *sqliteTx) LookupMetadata(ctx context.Context, chunkIDs []int64) ([]types.Metadata, error) {
	return t.storage.lookupMetadataWithQuerier(ctx, t.querier(), chunkIDs)
}

func (t *sqliteTx) AcquireIngestLock(ctx context.Context, owner string, staleAfter time.Duration) error {
	return t.storage.acquireIngestLockWithQuerier(ctx, t.querier(), owner, staleAfter)
}

func (t *sqliteTx) RefreshIngestLock(ctx context.Context, owner string) error {
	return t.storage.refreshIngestLockWithQuerier(ctx, t.querier(), owner)
}

func (t *sqliteTx) ReleaseIngestLock(ctx context.Context, owner string) error {
	return t.storage.releaseIngestLockWithQuerier(ctx, t.querier(), owner)
}

func (t *sqliteTx) IndexGeneration(ctx context.Context) (int64, error) {
	return t.storage.indexGenerationWithQuerier(ctx, t.querier())
}

func (t *sqliteTx) GetStatus(ctx context.Context) (*IndexStatus, error) {
	return t.storage.GetStatus(ctx)
}

func (t *sqliteTx) Close() error {
	// Transactions don't close the underlying connection
	return nil
}

func (t *sqliteTx) BeginTx(ctx context.Context) (Tx, error) {
	// SQLite does not support true nested transactions
	return nil, errors.New("nested transactions not supported")
}
