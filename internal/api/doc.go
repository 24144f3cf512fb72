// Package api serves hybrid review search over HTTP.
//
// Routes:
//
//	POST /search, /api/search   {"query": "...", "top_n": 20, "k": 60}
//	GET  /health, /api/health   {"status": "ok"}
//	GET  /metrics               Prometheus exposition, when a gatherer is set
//
// A search answers 400 with {"error": ...} for a blank query, malformed JSON
// or a negative top_n or k, and 500 when retrieval fails. Relevance is the
// fused score rounded to four decimals.
//
// Every response carries an X-Request-ID header, taken from the request when
// present. Allowed CORS origins come from the server section of the config.
package api
