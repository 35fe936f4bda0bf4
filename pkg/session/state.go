// Package session holds per-session workflow state and the two-level store
// that persists it: an in-memory cache in front of a write-behind knowledge
// graph. All mutation happens under a per-session lock, so a session never
// sees two turns at once.
package session

import (
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/iron-manus/jarvis/pkg/phases"
	"github.com/iron-manus/jarvis/pkg/roles"
	"github.com/iron-manus/jarvis/pkg/todo"
)

// Payload keys the workflow reads and writes. The payload is an open map:
// agents may add keys freely and the server round-trips them untouched.
const (
	KeyCurrentTaskIndex       = "current_task_index"
	KeyCurrentTodos           = "current_todos"
	KeyPhaseTransitionCount   = "phase_transition_count"
	KeyInterpretedGoal        = "interpreted_goal"
	KeyEnhancedGoal           = "enhanced_goal"
	KeyKnowledgeGathered      = "knowledge_gathered"
	KeySynthesizedKnowledge   = "synthesized_knowledge"
	KeyKnowledgeConfidence    = "knowledge_confidence"
	KeyAPIUsageMetrics        = "api_usage_metrics"
	KeyVerificationFailure    = "verification_failure_reason"
	KeyLastCompletionPct      = "last_completion_percentage"
	KeyAwaitingRoleSelection  = "awaiting_role_selection"
	KeyAwaitingAPISelection   = "awaiting_api_selection"
	KeyClaudeResponse         = "claude_response"
	KeyDetectedRole           = "detected_role"
	KeySessionID              = "session_id"
	KeyCurrentObjective       = "current_objective"
	KeyReasoningEffectiveness = "reasoning_effectiveness"
)

// Session is the state the FSM drives. Timestamps are epoch milliseconds.
type Session struct {
	ID                     string         `json:"session_id"`
	CurrentPhase           phases.Phase   `json:"current_phase"`
	InitialObjective       string         `json:"initial_objective"`
	DetectedRole           roles.Role     `json:"detected_role"`
	ReasoningEffectiveness float64        `json:"reasoning_effectiveness"`
	Payload                map[string]any `json:"payload"`
	CreatedAt              int64          `json:"created_at"`
	LastActivity           int64          `json:"last_activity"`
}

// New creates the default state a session starts from.
func New(id string, initialEffectiveness float64) *Session {
	now := time.Now().UnixMilli()
	return &Session{
		ID:                     id,
		CurrentPhase:           phases.PhaseInit,
		ReasoningEffectiveness: initialEffectiveness,
		Payload: map[string]any{
			KeyCurrentTaskIndex:     0,
			KeyCurrentTodos:         []any{},
			KeyPhaseTransitionCount: 0,
		},
		CreatedAt:    now,
		LastActivity: now,
	}
}

// Touch marks the session active now. Every state write goes through this.
func (s *Session) Touch() {
	s.LastActivity = time.Now().UnixMilli()
}

// IdleSince reports how long ago the session was last touched.
func (s *Session) IdleSince(now time.Time) time.Duration {
	return now.Sub(time.UnixMilli(s.LastActivity))
}

// Set writes one payload key.
func (s *Session) Set(key string, value any) {
	if s.Payload == nil {
		s.Payload = make(map[string]any)
	}
	s.Payload[key] = value
}

// Merge copies every key of m into the payload, overwriting existing keys.
func (s *Session) Merge(m map[string]any) {
	for k, v := range m {
		s.Set(k, v)
	}
}

// String reads a payload key as a string. Missing or non-string → "".
func (s *Session) String(key string) string {
	v, ok := s.Payload[key].(string)
	if !ok {
		return ""
	}
	return v
}

// Bool reads a payload key as a bool. Missing or non-bool → false.
func (s *Session) Bool(key string) bool {
	v, ok := s.Payload[key].(bool)
	if !ok {
		return false
	}
	return v
}

// Int reads a payload key as an int, tolerating the float64 that JSON
// decoding produces. Missing or non-numeric → 0.
func (s *Session) Int(key string) int {
	switch v := s.Payload[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// Float reads a payload key as a float64. Missing or non-numeric → 0.
func (s *Session) Float(key string) float64 {
	switch v := s.Payload[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}

// Todos decodes payload.current_todos. Entries that cannot be decoded are
// dropped; statuses and priorities are normalized to known values.
func (s *Session) Todos() []todo.Todo {
	raw, ok := s.Payload[KeyCurrentTodos]
	if !ok {
		return nil
	}
	var todos []todo.Todo
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &todos,
	})
	if err != nil || decoder.Decode(raw) != nil {
		return nil
	}
	return todo.Normalize(todos)
}

// SetTodos stores the todo list and clamps current_task_index into
// [0, len(todos)].
func (s *Session) SetTodos(todos []todo.Todo) {
	s.Set(KeyCurrentTodos, todos)
	idx := s.Int(KeyCurrentTaskIndex)
	if idx < 0 {
		idx = 0
	}
	if idx > len(todos) {
		idx = len(todos)
	}
	s.Set(KeyCurrentTaskIndex, idx)
}

// TaskIndex returns payload.current_task_index clamped to
// [0, len(current_todos)].
func (s *Session) TaskIndex() int {
	idx := s.Int(KeyCurrentTaskIndex)
	if idx < 0 {
		return 0
	}
	if n := len(s.Todos()); idx > n {
		return n
	}
	return idx
}

// TransitionCount returns payload.phase_transition_count.
func (s *Session) TransitionCount() int {
	return s.Int(KeyPhaseTransitionCount)
}

// BumpTransitionCount increments payload.phase_transition_count.
func (s *Session) BumpTransitionCount() {
	s.Set(KeyPhaseTransitionCount, s.TransitionCount()+1)
}
