package searcher

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/crateseek/crateseek/internal/embedder"
	"github.com/crateseek/crateseek/internal/metrics"
	"github.com/crateseek/crateseek/internal/storage"
	"github.com/crateseek/crateseek/pkg/types"
)

// Defaults applied to requests that leave a parameter unset
const (
	DefaultTopN     = 20
	DefaultK        = 60.0
	DefaultVectorK  = 50
	DefaultLexicalK = 50
)

// ErrEmptyQuery is returned when a request carries neither query text nor a vector
var ErrEmptyQuery = errors.New("query text or vector required")

// Index is the read side of storage used by the searcher
type Index interface {
	SearchVector(ctx context.Context, vector []float32, limit int) ([]storage.VectorResult, error)
	SearchText(ctx context.Context, query string, limit int) ([]storage.TextResult, error)
	MetadataLookup

	// IndexGeneration changes whenever a committed write could change results
	IndexGeneration(ctx context.Context) (int64, error)
}

// Config holds the fusion parameters and limits used when a request omits them
type Config struct {
	TopN      int
	K         float64
	VectorK   int
	LexicalK  int
	Dimension int           // Expected query vector length; 0 takes the embedder's
	Timeout   time.Duration // Deadline for each retrieval call; 0 disables it
	CacheSize int           // Cached responses; 0 disables the cache
	CacheTTL  time.Duration
}

// DefaultConfig returns the fusion parameters used for reviews
func DefaultConfig() Config {
	return Config{
		TopN:      DefaultTopN,
		K:         DefaultK,
		VectorK:   DefaultVectorK,
		LexicalK:  DefaultLexicalK,
		Timeout:   10 * time.Second,
		CacheSize: 1000,
		CacheTTL:  time.Hour,
	}
}

// Validate reports the first invalid parameter as a *types.ConfigError
func (c Config) Validate() error {
	if c.TopN <= 0 {
		return types.NewConfigError("top_n", "must be positive, got %d", c.TopN)
	}
	if c.K < 0 {
		return types.NewConfigError("k", "must be >= 0, got %v", c.K)
	}
	if c.VectorK <= 0 {
		return types.NewConfigError("vector_k", "must be positive, got %d", c.VectorK)
	}
	if c.LexicalK <= 0 {
		return types.NewConfigError("lexical_k", "must be positive, got %d", c.LexicalK)
	}
	if c.Dimension < 0 {
		return types.NewConfigError("dimension", "must be non-negative, got %d", c.Dimension)
	}
	return nil
}

// Request contains parameters for a search operation.
// Zero values select the searcher's configured defaults.
type Request struct {
	Query    string
	Vector   []float32 // Precomputed query vector; nil embeds Query
	TopN     int
	K        *float64 // nil selects the default; 0 is a valid constant
	VectorK  int
	LexicalK int
	Surface  string // Metrics label for the caller (http, mcp, cli)
	UseCache bool
}

// Response contains fused, hydrated results and search metadata
type Response struct {
	Results           []types.SearchResult
	VectorCandidates  int
	LexicalCandidates int
	LexicalDegraded   bool
	Duration          time.Duration
	CacheHit          bool
}

// cacheEntry represents a cached search response with expiration time
type cacheEntry struct {
	response  *Response
	expiresAt time.Time
}

// Searcher fuses vector and lexical rankings over an Index
type Searcher struct {
	index    Index
	embedder embedder.Embedder
	cfg      Config

	cache   *lru.Cache[[32]byte, *cacheEntry]
	cacheMu sync.RWMutex

	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// Option configures a Searcher.
type Option func(*Searcher)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Searcher) {
		s.logger = logger
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Searcher) {
		s.metrics = m
	}
}

// New creates a Searcher. emb may be nil when every request carries a vector.
func New(index Index, emb embedder.Embedder, cfg Config, opts ...Option) (*Searcher, error) {
	if index == nil {
		return nil, fmt.Errorf("searcher requires an index")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Dimension == 0 && emb != nil {
		cfg.Dimension = emb.Dimension()
	}

	s := &Searcher{
		index:    index,
		embedder: emb,
		cfg:      cfg,
		logger:   zerolog.Nop(),
	}
	if cfg.CacheSize > 0 {
		cache, err := lru.New[[32]byte, *cacheEntry](cfg.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create LRU cache: %w", err)
		}
		s.cache = cache
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Config returns the searcher's defaults
func (s *Searcher) Config() Config {
	return s.cfg
}

// resolved holds a request after defaults are applied
type resolved struct {
	query    string
	vector   []float32
	topN     int
	k        float64
	vectorK  int
	lexicalK int
}

func (s *Searcher) resolve(req Request) (resolved, error) {
	r := resolved{
		query:    strings.TrimSpace(req.Query),
		vector:   req.Vector,
		topN:     s.cfg.TopN,
		k:        s.cfg.K,
		vectorK:  s.cfg.VectorK,
		lexicalK: s.cfg.LexicalK,
	}
	if r.query == "" && r.vector == nil {
		return r, ErrEmptyQuery
	}
	if r.vector == nil && s.embedder == nil {
		return r, fmt.Errorf("%w: no embedder configured for text queries", types.ErrConfig)
	}
	if req.TopN < 0 {
		return r, types.NewConfigError("top_n", "must be >= 0, got %d", req.TopN)
	}
	if req.TopN > 0 {
		r.topN = req.TopN
	}
	if req.K != nil {
		if *req.K < 0 {
			return r, types.NewConfigError("k", "must be >= 0, got %v", *req.K)
		}
		r.k = *req.K
	}
	if req.VectorK > 0 {
		r.vectorK = req.VectorK
	}
	if req.LexicalK > 0 {
		r.lexicalK = req.LexicalK
	}
	if r.vector != nil {
		if err := s.checkDimension(r.vector); err != nil {
			return r, err
		}
	}
	return r, nil
}

func (s *Searcher) checkDimension(vector []float32) error {
	if s.cfg.Dimension > 0 && len(vector) != s.cfg.Dimension {
		return fmt.Errorf("%w: query has %d dimensions, index expects %d",
			types.ErrDimensionMismatch, len(vector), s.cfg.Dimension)
	}
	return nil
}

// Search runs vector and lexical retrieval concurrently, fuses the two
// rankings and hydrates the top results.
//
// Lexical failures and timeouts degrade to an empty lexical list. Vector
// failures, timeouts and hydration failures fail the search.
func (s *Searcher) Search(ctx context.Context, req Request) (*Response, error) {
	startTime := time.Now()
	surface := req.Surface
	if surface == "" {
		surface = "library"
	}

	resp, err := s.search(ctx, req)
	duration := time.Since(startTime)
	if err != nil {
		s.metrics.RecordSearch(surface, "error", duration)
		return nil, err
	}
	resp.Duration = duration
	s.metrics.RecordSearch(surface, "success", duration)
	return resp, nil
}

func (s *Searcher) search(ctx context.Context, req Request) (*Response, error) {
	r, err := s.resolve(req)
	if err != nil {
		return nil, err
	}

	cacheable := req.UseCache && s.cache != nil && req.Vector == nil
	var key [32]byte
	if cacheable {
		// Keyed by generation so writes from another process are never masked
		gen, err := s.index.IndexGeneration(ctx)
		if err != nil {
			s.logger.Warn().Err(err).Msg("index generation unavailable, bypassing cache")
			cacheable = false
		} else {
			key = computeQueryHash(r, gen)
			if cached := s.checkCache(key); cached != nil {
				cached.CacheHit = true
				return cached, nil
			}
		}
	}

	var (
		vectorIDs  []int64
		lexicalIDs []int64
		degraded   bool
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		vctx, cancel := s.withTimeout(gctx)
		defer cancel()
		ids, err := s.vectorCandidates(vctx, r)
		if err != nil {
			return err
		}
		vectorIDs = ids
		return nil
	})
	if storage.SanitizeLexicalQuery(r.query) != "" {
		g.Go(func() error {
			lctx, cancel := s.withTimeout(gctx)
			defer cancel()
			lexicalIDs, degraded = s.lexicalCandidates(lctx, r)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	s.metrics.RecordCandidates("vector", len(vectorIDs))
	s.metrics.RecordCandidates("lexical", len(lexicalIDs))

	fused, err := Fuse(r.k, vectorIDs, lexicalIDs)
	if err != nil {
		return nil, err
	}
	results, err := Hydrate(ctx, s.index, truncate(fused, r.topN))
	if err != nil {
		return nil, err
	}

	resp := &Response{
		Results:           results,
		VectorCandidates:  len(vectorIDs),
		LexicalCandidates: len(lexicalIDs),
		LexicalDegraded:   degraded,
	}
	if cacheable && !degraded && len(results) > 0 {
		s.storeInCache(key, resp)
	}
	return resp, nil
}

// withTimeout bounds a single retrieval call by the configured timeout
func (s *Searcher) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.Timeout > 0 {
		return context.WithTimeout(ctx, s.cfg.Timeout)
	}
	return context.WithCancel(ctx)
}

// vectorCandidates returns chunk ids by ascending cosine distance
func (s *Searcher) vectorCandidates(ctx context.Context, r resolved) ([]int64, error) {
	vector := r.vector
	if vector == nil {
		emb, err := s.embedder.GenerateEmbedding(ctx, embedder.EmbeddingRequest{Text: r.query})
		if err != nil {
			return nil, fmt.Errorf("failed to generate query embedding: %w", err)
		}
		if err := s.checkDimension(emb.Vector); err != nil {
			return nil, err
		}
		vector = emb.Vector
	}

	results, err := s.index.SearchVector(ctx, vector, r.vectorK)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	ids := make([]int64, len(results))
	for i, vr := range results {
		ids[i] = vr.ChunkID
	}
	return ids, nil
}

// lexicalCandidates returns chunk ids by descending relevance.
// Any failure yields an empty list and reports degraded.
func (s *Searcher) lexicalCandidates(ctx context.Context, r resolved) ([]int64, bool) {
	results, err := s.index.SearchText(ctx, r.query, r.lexicalK)
	if err != nil {
		reason := "error"
		switch {
		case errors.Is(err, types.ErrMalformedQuery):
			reason = "malformed"
		case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
			reason = "timeout"
		case errors.Is(err, context.Canceled):
			reason = "cancelled"
		}
		s.logger.Warn().Err(err).Str("reason", reason).Str("query", r.query).Msg("lexical search degraded")
		s.metrics.RecordLexicalDegraded(reason)
		return nil, true
	}

	ids := make([]int64, len(results))
	for i, tr := range results {
		ids[i] = tr.ChunkID
	}
	return ids, false
}

// checkCache looks up a cached response, dropping it once expired
func (s *Searcher) checkCache(key [32]byte) *Response {
	now := time.Now()

	s.cacheMu.RLock()
	entry, found := s.cache.Get(key)
	if !found {
		s.cacheMu.RUnlock()
		return nil
	}
	if now.After(entry.expiresAt) {
		s.cacheMu.RUnlock()

		s.cacheMu.Lock()
		s.cache.Remove(key)
		s.cacheMu.Unlock()
		return nil
	}
	response := copyResponse(entry.response)
	s.cacheMu.RUnlock()

	return response
}

// storeInCache saves a copy of resp until the configured TTL passes
func (s *Searcher) storeInCache(key [32]byte, resp *Response) {
	entry := &cacheEntry{
		response:  copyResponse(resp),
		expiresAt: time.Now().Add(s.cfg.CacheTTL),
	}

	s.cacheMu.Lock()
	s.cache.Add(key, entry)
	s.cacheMu.Unlock()
}

// InvalidateCache drops every cached response. Called after ingestion changes
// either index.
func (s *Searcher) InvalidateCache() {
	if s.cache == nil {
		return
	}
	s.cacheMu.Lock()
	s.cache.Purge()
	s.cacheMu.Unlock()
}

// copyResponse creates a deep copy of a Response
func copyResponse(src *Response) *Response {
	if src == nil {
		return nil
	}
	dst := *src
	dst.Results = make([]types.SearchResult, len(src.Results))
	for i, result := range src.Results {
		dst.Results[i] = result
		if result.Tags != nil {
			tags := *result.Tags
			dst.Results[i].Tags = &tags
		}
		if result.Score != nil {
			score := *result.Score
			dst.Results[i].Score = &score
		}
	}
	return &dst
}

// computeQueryHash computes a unique hash for a resolved text request
func computeQueryHash(r resolved, generation int64) [32]byte {
	var data strings.Builder
	data.WriteString(strconv.FormatInt(generation, 10))
	data.WriteString("|")
	data.WriteString(r.query)
	data.WriteString("|")
	data.WriteString(strconv.Itoa(r.topN))
	data.WriteString("|")
	data.WriteString(strconv.FormatFloat(r.k, 'g', -1, 64))
	data.WriteString("|")
	data.WriteString(strconv.Itoa(r.vectorK))
	data.WriteString("|")
	data.WriteString(strconv.Itoa(r.lexicalK))
	return sha256.Sum256([]byte(data.String()))
}
