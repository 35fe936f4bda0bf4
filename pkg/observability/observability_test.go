package observability

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iron-manus/jarvis/pkg/config"
	"github.com/iron-manus/jarvis/pkg/fsm"
	"github.com/iron-manus/jarvis/pkg/phases"
)

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func startedManager(t *testing.T, cfg config.ObservabilityConfig) *Manager {
	t.Helper()
	m := New(cfg, "test")
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return m
}

func scrape(t *testing.T, m *Manager) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestDisabledManagerIsInert(t *testing.T) {
	m := startedManager(t, config.ObservabilityConfig{})

	_, span := m.Tracer("test").Start(context.Background(), "op")
	span.End()

	r := m.Recorder()
	require.NotNil(t, r)
	r.TurnProcessed(phases.PhaseQuery, time.Millisecond, fsm.StatusInProgress)
	r.PhaseTransition(phases.PhaseQuery, phases.PhaseEnhance)
	r.Rollback(phases.PhasePlan)
	r.ActiveSessions(1)
	r.PersistRetried("upsert_entities")
	r.PersistDropped("upsert_relations")
	r.RecordPromptTokens(phases.PhasePlan, 120)

	rec := httptest.NewRecorder()
	m.MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStartRejectsUnknownExporter(t *testing.T) {
	m := New(config.ObservabilityConfig{
		TracingEnabled:  true,
		TracingExporter: "carrier-pigeon",
	}, "test")
	err := m.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown tracing exporter")
}

func TestMetricsEndToEnd(t *testing.T) {
	m := startedManager(t, config.ObservabilityConfig{MetricsEnabled: true})
	r := m.Recorder()

	r.TurnProcessed(phases.PhaseExecute, 42*time.Millisecond, fsm.StatusInProgress)
	r.PhaseTransition(phases.PhaseExecute, phases.PhaseVerify)
	r.Rollback(phases.PhasePlan)
	r.ActiveSessions(3)
	r.ActiveSessions(-1)
	r.PersistRetried("upsert_entities")
	r.PersistDropped("upsert_relations")
	r.RecordPromptTokens(phases.PhaseKnowledge, 256)

	body := scrape(t, m)
	for _, name := range []string{
		"jarvis_turn_duration_seconds",
		"jarvis_turns_total",
		"jarvis_phase_transitions_total",
		"jarvis_rollbacks_total",
		"jarvis_active_sessions",
		"jarvis_persist_retries_total",
		"jarvis_persist_drops_total",
		"jarvis_prompt_tokens_total",
	} {
		assert.Contains(t, body, name)
	}
}

func TestMiddlewarePreservesResponse(t *testing.T) {
	m := startedManager(t, config.ObservabilityConfig{MetricsEnabled: true})

	handler := m.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, isFlusher := w.(http.Flusher)
		assert.True(t, isFlusher, "streaming needs Flush through the wrapper")
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/mcp", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "short and stout", rec.Body.String())
	assert.Contains(t, scrape(t, m), "jarvis_http_requests_total")
}

func TestWrapTransportRecordsFetches(t *testing.T) {
	m := startedManager(t, config.ObservabilityConfig{MetricsEnabled: true})

	ok := roundTripperFunc(func(*http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader("ok")),
			Header:     make(http.Header),
		}, nil
	})
	client := &http.Client{Transport: m.WrapTransport(ok)}
	resp, err := client.Get("http://api.example.test/data?key=secret")
	require.NoError(t, err)
	_ = resp.Body.Close()

	failing := roundTripperFunc(func(*http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	})
	client = &http.Client{Transport: m.WrapTransport(failing)}
	_, err = client.Get("http://down.example.test/")
	require.Error(t, err)

	body := scrape(t, m)
	assert.Contains(t, body, "jarvis_fetches_total")
	assert.Contains(t, body, "jarvis_fetch_errors_total")
	assert.Contains(t, body, `host="api.example.test"`)
	assert.NotContains(t, body, "key=secret", "query strings stay out of telemetry")
}
