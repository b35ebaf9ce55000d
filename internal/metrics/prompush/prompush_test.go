package prompush

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"songetl/internal/metrics"
)

type gateway struct {
	mu     sync.Mutex
	method string
	path   string
	body   []byte
	status int
}

func newGateway(t *testing.T, status int) (*gateway, *httptest.Server) {
	t.Helper()
	g := &gateway{status: status}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		g.mu.Lock()
		g.method, g.path, g.body = r.Method, r.URL.Path, body
		g.mu.Unlock()
		w.WriteHeader(g.status)
	}))
	t.Cleanup(srv.Close)
	return g, srv
}

func TestNewBackend_RequiresJobAndURL(t *testing.T) {
	_, err := NewBackend("", "http://localhost:9091")
	require.Error(t, err)
	_, err = NewBackend("songetl", " ")
	require.Error(t, err)
}

func TestFlush_PutsCollectorsToJobGroup(t *testing.T) {
	g, srv := newGateway(t, http.StatusOK)

	b, err := NewBackend("songetl", srv.URL, WithGrouping("run_id", "r1"))
	require.NoError(t, err)

	b.IncCounter(metrics.StepTotal, 1, metrics.Labels{"step": "song_file", "status": "ok"})
	b.ObserveHistogram(metrics.StepDurationSeconds, 0.02, metrics.Labels{"step": "song_file", "status": "ok"})
	b.IncCounter(metrics.RecordsTotal, 5, metrics.Labels{"kind": "songplays"})
	b.IncCounter(metrics.BatchesTotal, 1, nil)

	require.NoError(t, b.Flush())

	g.mu.Lock()
	defer g.mu.Unlock()
	assert.Equal(t, http.MethodPut, g.method)
	assert.Equal(t, "/metrics/job/songetl/run_id/r1", g.path)
	for _, name := range []string{metrics.StepTotal, metrics.StepDurationSeconds, metrics.RecordsTotal, metrics.BatchesTotal, "songplays"} {
		assert.Contains(t, string(g.body), name)
	}
}

func TestFlush_GatewayErrorIsReturned(t *testing.T) {
	_, srv := newGateway(t, http.StatusInternalServerError)

	b, err := NewBackend("songetl", srv.URL)
	require.NoError(t, err)
	b.IncCounter(metrics.BatchesTotal, 1, nil)

	err = b.Flush()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prompush: push")
}

func TestIgnoredObservationsDoNotPanic(t *testing.T) {
	b, err := NewBackend("songetl", "http://127.0.0.1:1")
	require.NoError(t, err)

	b.IncCounter(metrics.RecordsTotal, 1, metrics.Labels{})
	b.IncCounter("unknown_total", 1, nil)
	b.IncCounter(metrics.BatchesTotal, -1, nil)
	b.ObserveHistogram(metrics.StepDurationSeconds, -1, nil)
	b.ObserveHistogram("unknown_seconds", 1, nil)
}
