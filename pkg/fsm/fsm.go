// Package fsm is the phase controller: the single entry point every agent
// turn passes through. It loads the session under its lock, applies the
// transition the reported phase implies, writes state back, and answers
// with the next phase's prompt and tool set.
package fsm

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/iron-manus/jarvis/pkg/config"
	"github.com/iron-manus/jarvis/pkg/knowledge"
	"github.com/iron-manus/jarvis/pkg/phases"
	"github.com/iron-manus/jarvis/pkg/prompt"
	"github.com/iron-manus/jarvis/pkg/roles"
	"github.com/iron-manus/jarvis/pkg/session"
	"github.com/iron-manus/jarvis/pkg/verify"
)

// Status classifies a response for the caller: the loop keeps going, the
// objective is finished, or the turn hit an internal failure.
type Status string

const (
	StatusInProgress Status = "IN_PROGRESS"
	StatusDone       Status = "DONE"
	StatusError      Status = "ERROR"
)

// Response is what a turn hands back to the agent.
type Response struct {
	NextPhase        phases.Phase   `json:"next_phase"`
	SystemPrompt     string         `json:"system_prompt"`
	AllowedNextTools []string       `json:"allowed_next_tools"`
	Payload          map[string]any `json:"payload"`
	Status           Status         `json:"status"`
}

// Gatherer is the slice of the knowledge orchestrator the controller needs.
type Gatherer interface {
	Gather(ctx context.Context, req knowledge.Request) knowledge.Result
}

// Observer receives controller signals for metrics. Methods must be safe
// for concurrent use.
type Observer interface {
	TurnProcessed(phase phases.Phase, d time.Duration, status Status)
	PhaseTransition(from, to phases.Phase)
	Rollback(target phases.Phase)
}

type nopObserver struct{}

func (nopObserver) TurnProcessed(phases.Phase, time.Duration, Status) {}
func (nopObserver) PhaseTransition(phases.Phase, phases.Phase)        {}
func (nopObserver) Rollback(phases.Phase)                             {}

// Controller drives sessions through the eight-phase workflow.
type Controller struct {
	cfg      *config.Config
	store    *session.Store
	gatherer Gatherer
	prompts  *prompt.Assembler
	tracer   trace.Tracer
	observer Observer
}

// Option tunes a Controller.
type Option func(*Controller)

// WithObserver forwards controller signals to a metrics sink.
func WithObserver(o Observer) Option {
	return func(c *Controller) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithTracer records fsm.step spans on t.
func WithTracer(t trace.Tracer) Option {
	return func(c *Controller) {
		if t != nil {
			c.tracer = t
		}
	}
}

// New builds a Controller over the session store and knowledge pipeline.
func New(cfg *config.Config, store *session.Store, gatherer Gatherer, prompts *prompt.Assembler, opts ...Option) *Controller {
	c := &Controller{
		cfg:      cfg,
		store:    store,
		gatherer: gatherer,
		prompts:  prompts,
		tracer:   noop.NewTracerProvider().Tracer("jarvis/fsm"),
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Step processes one turn. The per-session lock is held from entry to
// response emission, so turns of the same session serialize while other
// sessions proceed in parallel. Step never panics outward: internal
// corruption becomes a Status ERROR response that restarts the loop at
// QUERY.
func (c *Controller) Step(ctx context.Context, event Event) (resp Response) {
	start := time.Now()
	from := phases.PhaseInit

	ctx, span := c.tracer.Start(ctx, "fsm.step", trace.WithAttributes(
		attribute.String("session_id", event.SessionID),
		attribute.String("phase_completed", string(event.PhaseCompleted)),
	))
	defer span.End()

	unlock := c.store.Lock(event.SessionID)
	defer unlock()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("Phase controller recovered",
				"session_id", event.SessionID, "panic", r)
			resp = c.errorResponse(event.SessionID)
		}
		span.SetAttributes(
			attribute.String("next_phase", string(resp.NextPhase)),
			attribute.String("status", string(resp.Status)),
		)
		c.observer.TurnProcessed(from, time.Since(start), resp.Status)
	}()

	s := c.store.Get(ctx, event.SessionID)
	from = s.CurrentPhase

	if event.InitialObjective != "" && s.CurrentPhase == phases.PhaseInit && s.InitialObjective == "" {
		c.seed(s, event.InitialObjective)
	}

	next := c.transition(ctx, s, event)
	if from != next {
		c.observer.PhaseTransition(from, next)
	}

	s.CurrentPhase = next
	s.BumpTransitionCount()
	c.store.Update(s)

	promptText, tools := c.prompts.Assemble(next, s)

	status := StatusInProgress
	if next == phases.PhaseDone {
		status = StatusDone
	}
	return Response{
		NextPhase:        next,
		SystemPrompt:     promptText,
		AllowedNextTools: tools,
		Payload:          responsePayload(s),
		Status:           status,
	}
}

// seed primes a brand-new session from its objective: role heuristic, empty
// plan, and the request that QUERY confirm the role choice.
func (c *Controller) seed(s *session.Session, objective string) {
	s.InitialObjective = objective
	s.DetectedRole = roles.Detect(objective)
	s.Set(session.KeyCurrentObjective, objective)
	s.Set(session.KeyDetectedRole, string(s.DetectedRole))
	s.SetTodos(nil)
	s.Set(session.KeyCurrentTaskIndex, 0)
	s.Set(session.KeyAwaitingRoleSelection, true)

	slog.Info("Session objective set",
		"session_id", s.ID, "role", s.DetectedRole, "objective_len", len(objective))
}

// transition applies the table for (current phase, reported phase). An
// event reporting a phase the session is not in resyncs the loop to QUERY
// instead of guessing.
func (c *Controller) transition(ctx context.Context, s *session.Session, event Event) phases.Phase {
	switch s.CurrentPhase {
	case phases.PhaseInit:
		return phases.PhaseQuery
	case phases.PhaseDone:
		return phases.PhaseDone
	}

	if event.PhaseCompleted != s.CurrentPhase {
		slog.Warn("Out-of-order phase report, resyncing",
			"session_id", s.ID,
			"current", s.CurrentPhase, "reported", event.PhaseCompleted)
		return phases.PhaseQuery
	}

	s.Merge(event.Payload)

	switch s.CurrentPhase {
	case phases.PhaseQuery:
		return c.completeQuery(s, event)
	case phases.PhaseEnhance:
		return c.completeEnhance(ctx, s, event)
	case phases.PhaseKnowledge:
		return c.completeKnowledge(ctx, s, event)
	case phases.PhasePlan:
		return c.completePlan(s, event)
	case phases.PhaseExecute:
		return c.completeExecute(s, event)
	case phases.PhaseVerify:
		return c.completeVerify(s, event)
	default:
		return phases.PhaseQuery
	}
}

func (c *Controller) completeQuery(s *session.Session, event Event) phases.Phase {
	var p QueryPayload
	if err := decodePayload(event.Payload, &p); err != nil {
		slog.Warn("Undecodable QUERY payload", "session_id", s.ID, "error", err)
	}

	if s.Bool(session.KeyAwaitingRoleSelection) {
		if p.ClaudeResponse != "" {
			if role, ok := parseRoleSelection(p.ClaudeResponse); ok {
				s.DetectedRole = role
				s.Set(session.KeyDetectedRole, string(role))
			} else {
				slog.Debug("Role selection unusable, keeping heuristic",
					"session_id", s.ID, "role", s.DetectedRole)
			}
		}
		s.Set(session.KeyAwaitingRoleSelection, false)
	}
	if p.InterpretedGoal != "" {
		s.Set(session.KeyInterpretedGoal, p.InterpretedGoal)
	}
	return phases.PhaseEnhance
}

// completeEnhance stores the refined goal and runs the knowledge gather up
// front, so the KNOWLEDGE prompt already carries API results for the agent
// to vet.
func (c *Controller) completeEnhance(ctx context.Context, s *session.Session, event Event) phases.Phase {
	var p EnhancePayload
	if err := decodePayload(event.Payload, &p); err != nil {
		slog.Warn("Undecodable ENHANCE payload", "session_id", s.ID, "error", err)
	}
	if p.EnhancedGoal != "" {
		s.Set(session.KeyEnhancedGoal, p.EnhancedGoal)
	}
	s.Set(session.KeyAwaitingAPISelection, true)

	c.gather(ctx, s, nil)
	return phases.PhaseKnowledge
}

// completeKnowledge stores what the agent gathered itself and, when the
// agent pinned specific endpoints, re-runs the gather against exactly
// those. KNOWLEDGE always advances to PLAN.
func (c *Controller) completeKnowledge(ctx context.Context, s *session.Session, event Event) phases.Phase {
	var p KnowledgePayload
	if err := decodePayload(event.Payload, &p); err != nil {
		slog.Warn("Undecodable KNOWLEDGE payload", "session_id", s.ID, "error", err)
	}
	if p.KnowledgeGathered != "" {
		s.Set(session.KeyKnowledgeGathered, p.KnowledgeGathered)
	}
	s.Set(session.KeyAwaitingAPISelection, false)

	if ids := parseEndpointSelection(p.ClaudeResponse); len(ids) > 0 {
		c.gather(ctx, s, ids)
	}
	return phases.PhasePlan
}

// gather runs the knowledge pipeline and stores its outcome. The pipeline
// never returns an error; failures arrive as a degraded zero-confidence
// result, so a dead API layer cannot stall the workflow.
func (c *Controller) gather(ctx context.Context, s *session.Session, endpointIDs []string) {
	ctx, span := c.tracer.Start(ctx, "knowledge.gather", trace.WithAttributes(
		attribute.String("session_id", s.ID),
		attribute.String("role", string(s.DetectedRole)),
	))
	defer span.End()

	objective := s.String(session.KeyEnhancedGoal)
	if objective == "" {
		objective = s.InitialObjective
	}
	result := c.gatherer.Gather(ctx, knowledge.Request{
		SessionID:   s.ID,
		Objective:   objective,
		Role:        s.DetectedRole,
		EndpointIDs: endpointIDs,
	})

	s.Set(session.KeySynthesizedKnowledge, result.Answer)
	s.Set(session.KeyKnowledgeConfidence, result.Confidence)
	s.Set(session.KeyAPIUsageMetrics, result.Metrics)
}

func (c *Controller) completePlan(s *session.Session, event Event) phases.Phase {
	var p PlanPayload
	if err := decodePayload(event.Payload, &p); err != nil {
		slog.Warn("Undecodable PLAN payload", "session_id", s.ID, "error", err)
	}
	if p.PlanCreated {
		s.SetTodos(p.TodosWithMetaprompts)
		s.Set(session.KeyCurrentTaskIndex, 0)
		slog.Info("Plan adopted",
			"session_id", s.ID, "todos", len(p.TodosWithMetaprompts))
	}
	return phases.PhaseExecute
}

func (c *Controller) completeExecute(s *session.Session, event Event) phases.Phase {
	var p ExecutePayload
	if err := decodePayload(event.Payload, &p); err != nil {
		slog.Warn("Undecodable EXECUTE payload", "session_id", s.ID, "error", err)
	}

	c.adjustEffectiveness(s, p.ExecutionSuccess)

	idx := s.TaskIndex()
	if p.MoreTasksPending || idx < len(s.Todos())-1 {
		s.Set(session.KeyCurrentTaskIndex, idx+1)
		return phases.PhaseExecute
	}
	return phases.PhaseVerify
}

func (c *Controller) completeVerify(s *session.Session, event Event) phases.Phase {
	var p VerifyPayload
	if err := decodePayload(event.Payload, &p); err != nil {
		slog.Warn("Undecodable VERIFY payload", "session_id", s.ID, "error", err)
	}

	assessment := verify.Assess(s, p.VerificationPassed, c.cfg.Verification)
	if assessment.Valid && p.VerificationPassed {
		slog.Info("Session verified complete",
			"session_id", s.ID, "completion_pct", assessment.CompletionPct)
		return phases.PhaseDone
	}

	reason := assessment.Reason
	if reason == "" {
		reason = "agent did not confirm verification"
	}
	s.Set(session.KeyVerificationFailure, reason)
	s.Set(session.KeyLastCompletionPct, assessment.CompletionPct)

	rb := verify.RollbackTarget(assessment.CompletionPct)
	switch {
	case rb.ResetIndex:
		s.Set(session.KeyCurrentTaskIndex, 0)
	case rb.DecrementIndex:
		if idx := s.TaskIndex(); idx > 0 {
			s.Set(session.KeyCurrentTaskIndex, idx-1)
		}
	}
	c.observer.Rollback(rb.Target)
	slog.Info("Verification failed, rolling back",
		"session_id", s.ID, "completion_pct", assessment.CompletionPct,
		"target", rb.Target, "reason", reason)
	return rb.Target
}

// adjustEffectiveness nudges reasoning effectiveness after an execution
// report. Complex roles swing harder in both directions; the result stays
// inside the configured bounds.
func (c *Controller) adjustEffectiveness(s *session.Session, success bool) {
	delta := 0.10
	if roles.Config(s.DetectedRole).Complexity == roles.ComplexityComplex {
		delta = 0.15
	}
	if !success {
		delta = -delta
	}

	v := s.ReasoningEffectiveness + delta
	if min := c.cfg.Reasoning.MinEffectiveness; v < min {
		v = min
	}
	if max := c.cfg.Reasoning.MaxEffectiveness; v > max {
		v = max
	}
	s.ReasoningEffectiveness = v
	s.Set(session.KeyReasoningEffectiveness, v)
}

// responsePayload is the merged view of session state the agent sees.
func responsePayload(s *session.Session) map[string]any {
	out := make(map[string]any, len(s.Payload)+5)
	for k, v := range s.Payload {
		out[k] = v
	}
	out[session.KeySessionID] = s.ID
	out[session.KeyCurrentObjective] = s.InitialObjective
	out[session.KeyDetectedRole] = string(s.DetectedRole)
	out[session.KeyReasoningEffectiveness] = s.ReasoningEffectiveness
	out[session.KeyPhaseTransitionCount] = s.TransitionCount()
	return out
}

func (c *Controller) errorResponse(sessionID string) Response {
	return Response{
		NextPhase: phases.PhaseQuery,
		SystemPrompt: "Internal session state could not be processed. The workflow " +
			"restarts at QUERY: re-read the objective, interpret it again, and " +
			"report back with phase_completed=QUERY.",
		AllowedNextTools: prompt.AllowedTools(phases.PhaseQuery),
		Payload:          map[string]any{session.KeySessionID: sessionID},
		Status:           StatusError,
	}
}
