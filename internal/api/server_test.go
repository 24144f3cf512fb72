package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crateseek/crateseek/internal/metrics"
	"github.com/crateseek/crateseek/internal/searcher"
	"github.com/crateseek/crateseek/pkg/types"
)

// fakeSearcher implements Searcher
type fakeSearcher struct {
	resp  *searcher.Response
	err   error
	calls int
	last  searcher.Request
}

func (f *fakeSearcher) Search(ctx context.Context, req searcher.Request) (*searcher.Response, error) {
	f.calls++
	f.last = req
	return f.resp, f.err
}

func ptr[T any](v T) *T { return &v }

func sampleResponse() *searcher.Response {
	return &searcher.Response{
		Results: []types.SearchResult{
			{
				ChunkID:        7,
				DocumentID:     2,
				Rank:           1,
				RelevanceScore: 0.0327868852,
				Tags:           ptr("Melancholic, Piano, Tape hiss"),
				Artist:         "Grouper",
				Title:          "Ruins",
				Score:          ptr(8.4),
				URL:            "https://example.com/ruins",
			},
			{
				ChunkID:        9,
				DocumentID:     3,
				Rank:           2,
				RelevanceScore: 0.016129,
				Artist:         "Wire",
				Title:          "Pink Flag",
				URL:            "https://example.com/pink-flag",
			},
		},
	}
}

func newTestServer(t *testing.T, srch Searcher, opts ...Option) *Server {
	t.Helper()
	s, err := New(srch, Config{AllowedOrigins: []string{"*"}}, opts...)
	require.NoError(t, err)
	return s
}

func doRequest(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestNew(t *testing.T) {
	_, err := New(nil, Config{})
	assert.Error(t, err)

	s, err := New(&fakeSearcher{}, Config{})
	require.NoError(t, err)
	assert.Equal(t, DefaultShutdownTimeout, s.cfg.ShutdownTimeout)
}

func TestSearch(t *testing.T) {
	for _, path := range []string{"/search", "/api/search"} {
		t.Run(path, func(t *testing.T) {
			fake := &fakeSearcher{resp: sampleResponse()}
			s := newTestServer(t, fake)

			rec := doRequest(t, s.Handler(), http.MethodPost, path, `{"query":"melancholic piano","top_n":5,"k":1}`)
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			assert.Equal(t, "melancholic piano", fake.last.Query)
			assert.Equal(t, 5, fake.last.TopN)
			require.NotNil(t, fake.last.K)
			assert.Equal(t, 1.0, *fake.last.K)
			assert.Equal(t, "http", fake.last.Surface)
			assert.True(t, fake.last.UseCache)

			var body SearchResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			require.Len(t, body.Results, 2)

			first := body.Results[0]
			assert.Equal(t, "Grouper", first.Artist)
			assert.Equal(t, "Ruins", first.Title)
			assert.Equal(t, "https://example.com/ruins", first.URL)
			require.NotNil(t, first.Tags)
			assert.Equal(t, "Melancholic, Piano, Tape hiss", *first.Tags)
			require.NotNil(t, first.Score)
			assert.Equal(t, 8.4, *first.Score)
			assert.Equal(t, 0.0328, first.Relevance)

			assert.Equal(t, 0.0161, body.Results[1].Relevance)
		})
	}
}

func TestSearchNullableFields(t *testing.T) {
	fake := &fakeSearcher{resp: sampleResponse()}
	s := newTestServer(t, fake)

	rec := doRequest(t, s.Handler(), http.MethodPost, "/search", `{"query":"post-punk"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var raw struct {
		Results []map[string]any `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	require.Len(t, raw.Results, 2)

	second := raw.Results[1]
	assert.Contains(t, second, "tags")
	assert.Nil(t, second["tags"])
	assert.Contains(t, second, "score")
	assert.Nil(t, second["score"])
}

func TestSearchDefaults(t *testing.T) {
	fake := &fakeSearcher{resp: &searcher.Response{}}
	s := newTestServer(t, fake)

	rec := doRequest(t, s.Handler(), http.MethodPost, "/search", `{"query":"ambient drone"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Zero(t, fake.last.TopN, "zero selects the configured default")
	assert.Nil(t, fake.last.K)
	assert.JSONEq(t, `{"results":[]}`, rec.Body.String())
}

func TestSearchZeroK(t *testing.T) {
	fake := &fakeSearcher{resp: &searcher.Response{}}
	s := newTestServer(t, fake)

	rec := doRequest(t, s.Handler(), http.MethodPost, "/search", `{"query":"ambient","k":0}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, fake.last.K)
	assert.Zero(t, *fake.last.K)
}

func TestSearchBadRequest(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"query":`},
		{"missing query", `{"top_n":5}`},
		{"blank query", `{"query":"   "}`},
		{"negative top_n", `{"query":"piano","top_n":-1}`},
		{"negative k", `{"query":"piano","k":-0.5}`},
		{"wrong type", `{"query":42}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeSearcher{resp: &searcher.Response{}}
			s := newTestServer(t, fake)

			rec := doRequest(t, s.Handler(), http.MethodPost, "/search", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Zero(t, fake.calls)

			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestSearchErrors(t *testing.T) {
	t.Run("upstream failure is 500", func(t *testing.T) {
		fake := &fakeSearcher{err: errors.New("embed query: connection refused")}
		s := newTestServer(t, fake)

		rec := doRequest(t, s.Handler(), http.MethodPost, "/search", `{"query":"piano"}`)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.JSONEq(t, `{"error":"search failed"}`, rec.Body.String())
	})

	t.Run("config error is 400", func(t *testing.T) {
		fake := &fakeSearcher{err: types.NewConfigError("k", "must be finite")}
		s := newTestServer(t, fake)

		rec := doRequest(t, s.Handler(), http.MethodPost, "/search", `{"query":"piano"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestMethodNotAllowed(t *testing.T) {
	s := newTestServer(t, &fakeSearcher{resp: &searcher.Response{}})

	rec := doRequest(t, s.Handler(), http.MethodGet, "/search", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, &fakeSearcher{})

	for _, path := range []string{"/health", "/api/health"} {
		rec := doRequest(t, s.Handler(), http.MethodGet, path, "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	}
}

func TestRequestID(t *testing.T) {
	s := newTestServer(t, &fakeSearcher{})

	t.Run("generated", func(t *testing.T) {
		rec := doRequest(t, s.Handler(), http.MethodGet, "/health", "")
		assert.Len(t, rec.Header().Get(RequestIDHeader), 36)
	})

	t.Run("propagated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set(RequestIDHeader, "req-123")
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		assert.Equal(t, "req-123", rec.Header().Get(RequestIDHeader))
	})
}

func TestCORS(t *testing.T) {
	t.Run("wildcard", func(t *testing.T) {
		s := newTestServer(t, &fakeSearcher{})

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "http://localhost:5173")
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)

		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("preflight", func(t *testing.T) {
		s := newTestServer(t, &fakeSearcher{})

		req := httptest.NewRequest(http.MethodOptions, "/search", nil)
		req.Header.Set("Origin", "http://localhost:5173")
		req.Header.Set("Access-Control-Request-Method", "POST")
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
	})

	t.Run("listed origin", func(t *testing.T) {
		s, err := New(&fakeSearcher{}, Config{AllowedOrigins: []string{"https://crates.example.com"}})
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "https://crates.example.com")
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)

		assert.Equal(t, "https://crates.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "Origin", rec.Header().Get("Vary"))
	})

	t.Run("unlisted origin", func(t *testing.T) {
		s, err := New(&fakeSearcher{}, Config{AllowedOrigins: []string{"https://crates.example.com"}})
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodOptions, "/search", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		req.Header.Set("Access-Control-Request-Method", "POST")
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	s := newTestServer(t, &fakeSearcher{resp: &searcher.Response{}}, WithMetrics(m), WithGatherer(reg))

	rec := doRequest(t, s.Handler(), http.MethodPost, "/search", `{"query":"piano"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, s.Handler(), http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "crateseek_http_requests_total")
	assert.Contains(t, body, `path="POST /search"`)
}

func TestMetricsRouteDisabled(t *testing.T) {
	s := newTestServer(t, &fakeSearcher{})

	rec := doRequest(t, s.Handler(), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServeGracefulShutdown(t *testing.T) {
	fake := &fakeSearcher{resp: sampleResponse()}
	s := newTestServer(t, fake)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/api/search"
	resp, err := http.Post(url, "application/json", bytes.NewBufferString(`{"query":"piano"}`))
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(data), "Grouper")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
