package storage

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/crateseek/crateseek/pkg/types"
)

// searchVector returns the limit nearest chunks by cosine distance, closest first.
// Embeddings whose dimension differs from the query vector are never compared.
func searchVector(ctx context.Context, q querier, queryVector []float32, limit int) ([]VectorResult, error) {
	if limit <= 0 || len(queryVector) == 0 {
		return []VectorResult{}, nil
	}
	// Use SQL-side ranking when vec_distance_cosine is registered
	if VectorExtensionAvailable {
		return searchVectorOptimized(ctx, q, queryVector, limit)
	}
	// Fall back to Go-based computation for purego builds
	return searchVectorFallback(ctx, q, queryVector, limit)
}

// searchVectorOptimized computes distances at the database layer
func searchVectorOptimized(ctx context.Context, q querier, queryVector []float32, limit int) ([]VectorResult, error) {
	query := `
		SELECT
			chunk_id,
			vec_distance_cosine(vector, ?) AS distance
		FROM chunk_embeddings
		WHERE dimension = ?
		ORDER BY distance, chunk_id
		LIMIT ?
	`
	rows, err := q.QueryContext(ctx, query, serializeVector(queryVector), len(queryVector), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to execute vector search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	// Results are already sorted and limited
	results := make([]VectorResult, 0, limit)
	for rows.Next() {
		var result VectorResult
		if err := rows.Scan(&result.ChunkID, &result.Distance); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// searchVectorFallback performs vector search using Go-based cosine computation.
// This is used when the SQL function is not registered (purego builds).
func searchVectorFallback(ctx context.Context, q querier, queryVector []float32, limit int) ([]VectorResult, error) {
	query := `
		SELECT chunk_id, vector
		FROM chunk_embeddings
		WHERE dimension = ?
	`
	rows, err := q.QueryContext(ctx, query, len(queryVector))
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	candidates := make([]candidate, 0, 1000)
	for rows.Next() {
		var chunkID int64
		var blob []byte
		if err := rows.Scan(&chunkID, &blob); err != nil {
			return nil, err
		}
		vector := deserializeVector(blob)
		if len(vector) != len(queryVector) {
			continue // Dimension mismatch, skip
		}
		candidates = append(candidates, candidate{
			chunkID: chunkID,
			score:   cosineDistance(queryVector, vector),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sortCandidates(candidates)

	if limit > len(candidates) {
		limit = len(candidates)
	}
	results := make([]VectorResult, limit)
	for i := 0; i < limit; i++ {
		results[i] = VectorResult{ChunkID: candidates[i].chunkID, Distance: candidates[i].score}
	}
	return results, nil
}

// searchText performs BM25 full-text search over the lexical index.
// Relevance is the negated bm25 value so that higher is better.
func searchText(ctx context.Context, q querier, query string, limit int) ([]TextResult, error) {
	sanitized := SanitizeLexicalQuery(query)
	if sanitized == "" {
		return nil, fmt.Errorf("%w: nothing left to match in %q", types.ErrMalformedQuery, query)
	}
	if limit <= 0 {
		return []TextResult{}, nil
	}

	sqlQuery := `
		SELECT
			rowid,
			bm25(review_chunks_fts) AS score
		FROM review_chunks_fts
		WHERE review_chunks_fts MATCH ?
		ORDER BY score, rowid
		LIMIT ?
	`
	rows, err := q.QueryContext(ctx, sqlQuery, sanitized, limit)
	if err != nil {
		return nil, classifyTextError(err)
	}
	defer func() { _ = rows.Close() }()

	results := make([]TextResult, 0)
	for rows.Next() {
		var chunkID int64
		var score float64
		if err := rows.Scan(&chunkID, &score); err != nil {
			return nil, err
		}
		results = append(results, TextResult{ChunkID: chunkID, Relevance: -score})
	}
	if err := rows.Err(); err != nil {
		return nil, classifyTextError(err)
	}
	return results, nil
}

// classifyTextError maps FTS5 query parse failures to ErrMalformedQuery
func classifyTextError(err error) error {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"fts5:", "syntax error", "no such column", "unterminated string"} {
		if strings.Contains(msg, marker) {
			return fmt.Errorf("%w: %v", types.ErrMalformedQuery, err)
		}
	}
	return fmt.Errorf("failed to execute FTS search: %w", err)
}

// columnFilterPattern matches FTS5 column filters such as "genre:jazz"
var columnFilterPattern = regexp.MustCompile(`(\w+):(\w+)`)

// quoteReplacer strips every quote character FTS5 treats as a string delimiter
var quoteReplacer = strings.NewReplacer(`"`, " ", `'`, " ", "`", " ")

// SanitizeLexicalQuery rewrites free text into an FTS5 MATCH expression.
// Column filters become plain terms and quotes are removed; everything else,
// including AND/OR/NOT, keeps its FTS5 meaning. An empty result means the
// query has nothing left to match.
func SanitizeLexicalQuery(query string) string {
	sanitized := columnFilterPattern.ReplaceAllString(query, "$1 $2")
	sanitized = quoteReplacer.Replace(sanitized)
	return strings.Join(strings.Fields(sanitized), " ")
}

// candidate represents a chunk with its distance to the query
type candidate struct {
	chunkID int64
	score   float64
}

// sortCandidates sorts candidates by distance ascending, then by chunk id
func sortCandidates(candidates []candidate) {
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score < candidates[j].score
		}
		return candidates[i].chunkID < candidates[j].chunkID
	})
}

// serializeVector converts a float32 slice to a byte blob (little-endian)
func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// deserializeVector converts a byte blob back to a float32 slice
func deserializeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vector[i] = math.Float32frombits(bits)
	}
	return vector
}

// cosineSimilarity computes the cosine similarity between two vectors
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// cosineDistance is 1 - cosine similarity; zero vectors sit at distance 1
func cosineDistance(a, b []float32) float64 {
	return 1 - cosineSimilarity(a, b)
}

// cosineDistanceBlob is the SQL-callable form of cosineDistance over serialized vectors
func cosineDistanceBlob(a, b []byte) float64 {
	return cosineDistance(deserializeVector(a), deserializeVector(b))
}
