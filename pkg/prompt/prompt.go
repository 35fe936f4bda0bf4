// Package prompt assembles the per-phase system prompt and allowed-tools
// set the orchestrator returns to the agent each turn.
//
// Assembly is a fixed pipeline: base template → role methodology → tool
// guidance → phase context drawn from the session payload → {{session_id}}
// substitution. The first QUERY additionally embeds the role-selection
// contract.
package prompt

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/iron-manus/jarvis/pkg/phases"
	"github.com/iron-manus/jarvis/pkg/roles"
	"github.com/iron-manus/jarvis/pkg/session"
	"github.com/iron-manus/jarvis/pkg/todo"
	"github.com/iron-manus/jarvis/pkg/utils"
)

// contextClip caps payload-derived blocks so accumulated knowledge cannot
// grow a prompt without bound.
const contextClip = 2000

// TokenRecorder receives the token count of every assembled prompt.
type TokenRecorder func(phase phases.Phase, tokens int)

// Assembler renders phase prompts. Safe for concurrent use.
type Assembler struct {
	workspaceRoot string
	counter       *utils.TokenCounter
	record        TokenRecorder
}

// Option customizes an Assembler.
type Option func(*Assembler)

// WithTokenRecorder forwards prompt token counts to a metrics sink.
func WithTokenRecorder(r TokenRecorder) Option {
	return func(a *Assembler) { a.record = r }
}

// New builds an assembler. workspaceRoot locates session workspaces for the
// KNOWLEDGE instructions. Token counting degrades to disabled if no
// encoding can be loaded.
func New(workspaceRoot string, opts ...Option) *Assembler {
	counter, err := utils.NewTokenCounter("claude")
	if err != nil {
		slog.Warn("Prompt token counting disabled", "error", err)
	}
	a := &Assembler{workspaceRoot: workspaceRoot, counter: counter}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// AllowedTools returns a copy of the phase's tool set.
func AllowedTools(phase phases.Phase) []string {
	tools := allowedTools[phase]
	out := make([]string, len(tools))
	copy(out, tools)
	return out
}

// Assemble renders the system prompt for phase against the session state
// and returns it together with the phase's allowed tools.
func (a *Assembler) Assemble(phase phases.Phase, s *session.Session) (string, []string) {
	if !phase.Valid() {
		phase = phases.PhaseQuery
	}

	var b strings.Builder
	b.WriteString(basePrompts[phase])

	if block := roleBlock(s.DetectedRole); block != "" {
		b.WriteString("\n\n")
		b.WriteString(block)
	}

	b.WriteString("\n\n")
	b.WriteString(toolGuidance[phase])

	if ctx := a.phaseContext(phase, s); ctx != "" {
		b.WriteString("\n\n")
		b.WriteString(ctx)
	}

	if phase == phases.PhaseQuery && s.Bool(session.KeyAwaitingRoleSelection) {
		b.WriteString(roleSelectionPrompt)
	}

	text := strings.ReplaceAll(b.String(), "{{session_id}}", s.ID)

	if a.counter != nil {
		tokens := a.counter.Count(text)
		if a.record != nil {
			a.record(phase, tokens)
		}
		slog.Debug("Assembled prompt",
			"session_id", s.ID, "phase", phase, "tokens", tokens)
	}

	return text, AllowedTools(phase)
}

// roleBlock renders the methodology bullets of the session's role. Sessions
// that have not left INIT yet carry no role and get no block.
func roleBlock(role roles.Role) string {
	if !role.Valid() {
		return ""
	}
	cfg := roles.Config(role)
	var b strings.Builder
	fmt.Fprintf(&b, "## Methodology (%s)\n\n", role)
	fmt.Fprintf(&b, "Focus: %s. Frameworks: %s.\n", cfg.Focus, strings.Join(cfg.Frameworks, ", "))
	for _, bullet := range cfg.Thinking {
		fmt.Fprintf(&b, "- %s\n", bullet)
	}
	return strings.TrimRight(b.String(), "\n")
}

// phaseContext injects the payload keys each phase needs to see.
func (a *Assembler) phaseContext(phase phases.Phase, s *session.Session) string {
	switch phase {
	case phases.PhaseEnhance:
		if goal := s.String(session.KeyInterpretedGoal); goal != "" {
			return "Interpreted goal:\n" + goal
		}

	case phases.PhaseKnowledge:
		var parts []string
		if goal := s.String(session.KeyEnhancedGoal); goal != "" {
			parts = append(parts, "Enhanced goal:\n"+goal)
		}
		parts = append(parts, "Session workspace: "+
			utils.WorkspacePath(a.workspaceRoot, "{{session_id}}"))
		if prior := s.String(session.KeySynthesizedKnowledge); prior != "" {
			parts = append(parts, "Knowledge from the previous pass:\n"+clip(prior))
		}
		if metrics, ok := s.Payload[session.KeyAPIUsageMetrics]; ok {
			if data, err := json.Marshal(metrics); err == nil {
				parts = append(parts, "Previous research metrics: "+string(data))
			}
		}
		return strings.Join(parts, "\n\n")

	case phases.PhasePlan:
		var parts []string
		goal := s.String(session.KeyEnhancedGoal)
		if goal == "" {
			goal = s.String(session.KeyInterpretedGoal)
		}
		if goal == "" {
			goal = s.InitialObjective
		}
		if goal != "" {
			parts = append(parts, "Goal:\n"+goal)
		}
		if k := s.String(session.KeySynthesizedKnowledge); k != "" {
			summary := "Knowledge summary:\n" + clip(k)
			if conf := s.Float(session.KeyKnowledgeConfidence); conf > 0 {
				summary += fmt.Sprintf("\n(confidence %.2f)", conf)
			}
			parts = append(parts, summary)
		}
		return strings.Join(parts, "\n\n")

	case phases.PhaseExecute:
		todos := s.Todos()
		idx := s.TaskIndex()
		var parts []string
		if block := todo.FormatForContext(todos); block != "" {
			parts = append(parts, strings.TrimSpace(block))
		}
		if idx < len(todos) {
			current := todos[idx]
			parts = append(parts, fmt.Sprintf("Current todo (index %d): %s", idx, current.Content))
			if mp, ok := todo.ParseMetaPrompt(current.Content); ok {
				parts = append(parts, fmt.Sprintf(
					"Delegation breakdown:\n- Role: %s\n- Context: %s\n- Prompt: %s\n- Output: %s",
					mp.Role, mp.Context, mp.Prompt, mp.Output))
			}
		} else {
			parts = append(parts, "No todo remains at the current index; report completion status honestly.")
		}
		return strings.Join(parts, "\n\n")

	case phases.PhaseVerify:
		todos := s.Todos()
		var parts []string
		parts = append(parts, strings.TrimSpace(todo.Summary(todos)))
		done, total := todo.Critical(todos)
		parts = append(parts, fmt.Sprintf("Completion: %d%% overall, %d/%d critical todos done.",
			todo.CompletionPct(todos), done, total))
		if reason := s.String(session.KeyVerificationFailure); reason != "" {
			parts = append(parts, "Previous verification failure:\n"+reason)
		}
		return strings.Join(parts, "\n\n")
	}
	return ""
}

// clip caps s at contextClip runes.
func clip(s string) string {
	runes := []rune(s)
	if len(runes) <= contextClip {
		return s
	}
	return string(runes[:contextClip]) + " [truncated]"
}
