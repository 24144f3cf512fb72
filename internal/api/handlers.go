package api

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/crateseek/crateseek/internal/searcher"
	"github.com/crateseek/crateseek/pkg/types"
)

// SearchRequest is the body of POST /search
type SearchRequest struct {
	Query string   `json:"query"`
	TopN  *int     `json:"top_n,omitempty"`
	K     *float64 `json:"k,omitempty"`
}

// SearchResult is one hydrated review chunk
type SearchResult struct {
	Tags      *string  `json:"tags"`
	Artist    string   `json:"artist"`
	Title     string   `json:"title"`
	Score     *float64 `json:"score"`
	URL       string   `json:"url"`
	Relevance float64  `json:"relevance"`
}

// SearchResponse is the body of a successful search
type SearchResponse struct {
	Results []SearchResult `json:"results"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "cannot read request body")
		return
	}

	var req SearchRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	if req.TopN != nil && *req.TopN < 0 {
		writeError(w, http.StatusBadRequest, "top_n must be >= 0")
		return
	}
	if req.K != nil && *req.K < 0 {
		writeError(w, http.StatusBadRequest, "k must be >= 0")
		return
	}

	sreq := searcher.Request{
		Query:    req.Query,
		K:        req.K,
		Surface:  "http",
		UseCache: true,
	}
	if req.TopN != nil {
		sreq.TopN = *req.TopN
	}

	resp, err := s.searcher.Search(r.Context(), sreq)
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("query", req.Query).Msg("search failed")
		if errors.Is(err, types.ErrConfig) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}

	out := SearchResponse{Results: make([]SearchResult, 0, len(resp.Results))}
	for _, res := range resp.Results {
		out.Results = append(out.Results, SearchResult{
			Tags:      res.Tags,
			Artist:    res.Artist,
			Title:     res.Title,
			Score:     res.Score,
			URL:       res.URL,
			Relevance: math.Round(res.RelevanceScore*1e4) / 1e4,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
