package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/iron-manus/jarvis/pkg/fsm"
	"github.com/iron-manus/jarvis/pkg/phases"
	"github.com/iron-manus/jarvis/pkg/session"
)

// Recorder translates workflow signals into instruments. The zero value
// drops every measurement, so the controller, store, and prompt assembler
// take a *Recorder unconditionally and only the metrics flag decides
// whether anything is emitted.
type Recorder struct {
	turnDuration     metric.Float64Histogram
	turnsTotal       metric.Int64Counter
	phaseTransitions metric.Int64Counter
	rollbacksTotal   metric.Int64Counter
	activeSessions   metric.Int64UpDownCounter
	persistRetries   metric.Int64Counter
	persistDrops     metric.Int64Counter
	promptTokens     metric.Int64Counter
	fetchDuration    metric.Float64Histogram
	fetchesTotal     metric.Int64Counter
	fetchErrors      metric.Int64Counter
	httpDuration     metric.Float64Histogram
	httpRequests     metric.Int64Counter
}

var (
	_ fsm.Observer     = (*Recorder)(nil)
	_ session.Observer = (*Recorder)(nil)
)

func newRecorder(meter metric.Meter) (*Recorder, error) {
	r := &Recorder{}
	var err error

	if r.turnDuration, err = meter.Float64Histogram(
		"jarvis_turn_duration_seconds",
		metric.WithDescription("Turn processing duration in seconds"),
	); err != nil {
		return nil, fmt.Errorf("turn duration histogram: %w", err)
	}
	if r.turnsTotal, err = meter.Int64Counter(
		"jarvis_turns_total",
		metric.WithDescription("Turns processed"),
	); err != nil {
		return nil, fmt.Errorf("turns counter: %w", err)
	}
	if r.phaseTransitions, err = meter.Int64Counter(
		"jarvis_phase_transitions_total",
		metric.WithDescription("Phase transitions by edge"),
	); err != nil {
		return nil, fmt.Errorf("phase transitions counter: %w", err)
	}
	if r.rollbacksTotal, err = meter.Int64Counter(
		"jarvis_rollbacks_total",
		metric.WithDescription("Verification rollbacks by target phase"),
	); err != nil {
		return nil, fmt.Errorf("rollbacks counter: %w", err)
	}
	if r.activeSessions, err = meter.Int64UpDownCounter(
		"jarvis_active_sessions",
		metric.WithDescription("Sessions currently cached in memory"),
	); err != nil {
		return nil, fmt.Errorf("active sessions counter: %w", err)
	}
	if r.persistRetries, err = meter.Int64Counter(
		"jarvis_persist_retries_total",
		metric.WithDescription("Graph persistence retries"),
	); err != nil {
		return nil, fmt.Errorf("persist retries counter: %w", err)
	}
	if r.persistDrops, err = meter.Int64Counter(
		"jarvis_persist_drops_total",
		metric.WithDescription("Graph writes abandoned after the retry budget"),
	); err != nil {
		return nil, fmt.Errorf("persist drops counter: %w", err)
	}
	if r.promptTokens, err = meter.Int64Counter(
		"jarvis_prompt_tokens_total",
		metric.WithDescription("Tokens in assembled prompts"),
	); err != nil {
		return nil, fmt.Errorf("prompt tokens counter: %w", err)
	}
	if r.fetchDuration, err = meter.Float64Histogram(
		"jarvis_fetch_duration_seconds",
		metric.WithDescription("Outbound endpoint fetch duration in seconds"),
	); err != nil {
		return nil, fmt.Errorf("fetch duration histogram: %w", err)
	}
	if r.fetchesTotal, err = meter.Int64Counter(
		"jarvis_fetches_total",
		metric.WithDescription("Outbound endpoint fetches"),
	); err != nil {
		return nil, fmt.Errorf("fetches counter: %w", err)
	}
	if r.fetchErrors, err = meter.Int64Counter(
		"jarvis_fetch_errors_total",
		metric.WithDescription("Outbound endpoint fetches that failed at the transport"),
	); err != nil {
		return nil, fmt.Errorf("fetch errors counter: %w", err)
	}
	if r.httpDuration, err = meter.Float64Histogram(
		"jarvis_http_request_duration_seconds",
		metric.WithDescription("Served HTTP request duration in seconds"),
	); err != nil {
		return nil, fmt.Errorf("http duration histogram: %w", err)
	}
	if r.httpRequests, err = meter.Int64Counter(
		"jarvis_http_requests_total",
		metric.WithDescription("Served HTTP requests"),
	); err != nil {
		return nil, fmt.Errorf("http requests counter: %w", err)
	}
	return r, nil
}

// TurnProcessed records one controller turn.
func (r *Recorder) TurnProcessed(phase phases.Phase, d time.Duration, status fsm.Status) {
	if r == nil || r.turnDuration == nil {
		return
	}
	ctx := context.Background()
	attrs := metric.WithAttributes(
		attribute.String("phase", string(phase)),
		attribute.String("status", string(status)),
	)
	r.turnDuration.Record(ctx, d.Seconds(), attrs)
	r.turnsTotal.Add(ctx, 1, attrs)
}

// PhaseTransition records one edge of the workflow graph.
func (r *Recorder) PhaseTransition(from, to phases.Phase) {
	if r == nil || r.phaseTransitions == nil {
		return
	}
	r.phaseTransitions.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("from", string(from)),
		attribute.String("to", string(to)),
	))
}

// Rollback records a failed verification by its rollback target.
func (r *Recorder) Rollback(target phases.Phase) {
	if r == nil || r.rollbacksTotal == nil {
		return
	}
	r.rollbacksTotal.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("target", string(target)),
	))
}

// ActiveSessions moves the cached-session gauge.
func (r *Recorder) ActiveSessions(delta int) {
	if r == nil || r.activeSessions == nil {
		return
	}
	r.activeSessions.Add(context.Background(), int64(delta))
}

// PersistRetried records one retried graph write.
func (r *Recorder) PersistRetried(op string) {
	if r == nil || r.persistRetries == nil {
		return
	}
	r.persistRetries.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("op", op),
	))
}

// PersistDropped records a graph write abandoned after its retry budget.
func (r *Recorder) PersistDropped(op string) {
	if r == nil || r.persistDrops == nil {
		return
	}
	r.persistDrops.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("op", op),
	))
}

// RecordPromptTokens matches prompt.TokenRecorder.
func (r *Recorder) RecordPromptTokens(phase phases.Phase, tokens int) {
	if r == nil || r.promptTokens == nil || tokens <= 0 {
		return
	}
	r.promptTokens.Add(context.Background(), int64(tokens), metric.WithAttributes(
		attribute.String("phase", string(phase)),
	))
}

// RecordFetch records one outbound fetch. status is zero when the transport
// itself failed.
func (r *Recorder) RecordFetch(ctx context.Context, host string, status int, d time.Duration, err error) {
	if r == nil || r.fetchDuration == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("host", host),
		attribute.Int("status", status),
	)
	r.fetchDuration.Record(ctx, d.Seconds(), attrs)
	r.fetchesTotal.Add(ctx, 1, attrs)
	if err != nil {
		r.fetchErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("host", host)))
	}
}

// RecordHTTPRequest records one served request.
func (r *Recorder) RecordHTTPRequest(method, path string, status int, d time.Duration) {
	if r == nil || r.httpDuration == nil {
		return
	}
	ctx := context.Background()
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.Int("status", status),
	)
	r.httpDuration.Record(ctx, d.Seconds(), attrs)
	r.httpRequests.Add(ctx, 1, attrs)
}
