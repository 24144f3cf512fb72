package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordSearch("http", "ok", time.Millisecond)
		m.RecordCandidates("vector", 3)
		m.RecordLexicalDegraded("timeout")
		m.RecordIngest("ok", IngestStats{Chunks: 1})
		m.UpdateIndexStats(1, 2, 3)
		m.RecordHTTPRequest("POST", "/search", "200", time.Millisecond)
	})
}

func TestRecordSearch(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordSearch("http", "ok", 10*time.Millisecond)
	m.RecordSearch("http", "ok", 20*time.Millisecond)
	m.RecordSearch("mcp", "error", time.Millisecond)

	assert.Equal(t, 2.0, value(t, m.SearchRequestsTotal.WithLabelValues("http", "ok")))
	assert.Equal(t, 1.0, value(t, m.SearchRequestsTotal.WithLabelValues("mcp", "error")))
}

func TestRecordIngest(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordIngest("ok", IngestStats{Chunks: 5, TagFailures: 1, Embeddings: 5, LexicalRows: 4, Duration: time.Second})

	assert.Equal(t, 5.0, value(t, m.IngestChunksTotal))
	assert.Equal(t, 1.0, value(t, m.IngestTagFailuresTotal))
	assert.Equal(t, 4.0, value(t, m.IngestLexicalRowsTotal))
	assert.Equal(t, 1.0, value(t, m.IngestRunsTotal.WithLabelValues("ok")))
}

func TestRegistryExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.RecordLexicalDegraded("malformed_query")
	m.UpdateIndexStats(2, 10, 8)

	families, err := reg.Gather()
	require.NoError(t, err)

	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["crateseek_search_lexical_degraded_total"])
	assert.True(t, names["crateseek_index_chunks"])
	assert.True(t, names["crateseek_uptime_seconds"])
}

func TestNilRegistryRegistersNothing(t *testing.T) {
	assert.NotPanics(t, func() {
		New(nil)
		New(nil)
	})
}

func value(t *testing.T, m prometheus.Metric) float64 {
	t.Helper()
	var out dto.Metric
	require.NoError(t, m.Write(&out))
	if out.Counter != nil {
		return out.Counter.GetValue()
	}
	return out.Gauge.GetValue()
}
