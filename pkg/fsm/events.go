package fsm

import (
	"encoding/json"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/iron-manus/jarvis/pkg/phases"
	"github.com/iron-manus/jarvis/pkg/roles"
	"github.com/iron-manus/jarvis/pkg/todo"
)

// Event is one turn of the conversation loop: the agent reports which phase
// it finished, plus whatever payload that phase produced. The first turn of
// a session carries the objective instead.
type Event struct {
	SessionID        string         `json:"session_id"`
	PhaseCompleted   phases.Phase   `json:"phase_completed,omitempty"`
	InitialObjective string         `json:"initial_objective,omitempty"`
	Payload          map[string]any `json:"payload,omitempty"`
}

// Typed views over the payload map, one per phase. Decoding is weakly typed
// and ignores unknown keys; the raw map is still merged into session state,
// so keys these structs do not name round-trip untouched.

// QueryPayload carries the keys a QUERY completion is known to send.
type QueryPayload struct {
	InterpretedGoal string `mapstructure:"interpreted_goal"`
	ClaudeResponse  string `mapstructure:"claude_response"`
}

// EnhancePayload carries the keys an ENHANCE completion is known to send.
type EnhancePayload struct {
	EnhancedGoal string `mapstructure:"enhanced_goal"`
}

// KnowledgePayload carries the keys a KNOWLEDGE completion is known to
// send. ClaudeResponse may hold an endpoint selection JSON.
type KnowledgePayload struct {
	KnowledgeGathered string `mapstructure:"knowledge_gathered"`
	ClaudeResponse    string `mapstructure:"claude_response"`
}

// PlanPayload carries the keys a PLAN completion is known to send.
type PlanPayload struct {
	PlanCreated          bool        `mapstructure:"plan_created"`
	TodosWithMetaprompts []todo.Todo `mapstructure:"todos_with_metaprompts"`
}

// ExecutePayload carries the keys an EXECUTE completion is known to send.
type ExecutePayload struct {
	ExecutionSuccess     bool `mapstructure:"execution_success"`
	CurrentTaskCompleted bool `mapstructure:"current_task_completed"`
	MoreTasksPending     bool `mapstructure:"more_tasks_pending"`
}

// VerifyPayload carries the keys a VERIFY completion is known to send.
type VerifyPayload struct {
	VerificationPassed bool `mapstructure:"verification_passed"`
}

// decodePayload fills a typed view from the raw payload map. Agents are
// loose with types, so decoding is weak: "true", 1 and true all read as
// true, numbers arrive as float64, and so on.
func decodePayload(payload map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(payload)
}

// roleSelection is the JSON shape the agent returns when QUERY asked it to
// confirm or override the detected role.
type roleSelection struct {
	SelectedRole string  `json:"selected_role"`
	Confidence   float64 `json:"confidence"`
	Reasoning    string  `json:"reasoning"`
}

// parseRoleSelection extracts a valid role from the agent's QUERY response.
// Malformed JSON and unknown role names report ok=false; the caller keeps
// the heuristic role in that case.
func parseRoleSelection(raw string) (roles.Role, bool) {
	var sel roleSelection
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &sel); err != nil {
		return "", false
	}
	role, err := roles.Parse(sel.SelectedRole)
	if err != nil {
		return "", false
	}
	return role, true
}

// endpointSelection is the JSON the agent may return from KNOWLEDGE to pin
// which registry endpoints get queried.
type endpointSelection struct {
	SelectedEndpoints []string `json:"selected_endpoints"`
	Reasoning         string   `json:"reasoning"`
}

// parseEndpointSelection extracts agent-selected endpoint ids from a
// KNOWLEDGE response. Anything unparseable yields nil, which leaves
// endpoint selection to the registry's role affinity.
func parseEndpointSelection(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var sel endpointSelection
	if err := json.Unmarshal([]byte(raw), &sel); err != nil {
		return nil
	}
	return sel.SelectedEndpoints
}
