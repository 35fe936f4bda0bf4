package prompt

import (
	"fmt"
	"strings"

	"github.com/iron-manus/jarvis/pkg/phases"
	"github.com/iron-manus/jarvis/pkg/roles"
)

// allowedTools is the per-phase tool vocabulary surfaced to the agent in
// allowed_next_tools. The sets are fixed; DONE permits nothing.
var allowedTools = map[phases.Phase][]string{
	phases.PhaseInit:    {"JARVIS"},
	phases.PhaseQuery:   {"JARVIS"},
	phases.PhaseEnhance: {"JARVIS"},
	phases.PhaseKnowledge: {
		"WebSearch", "WebFetch", "APITaskAgent",
		"PythonComputationalTool", "Task", "JARVIS",
	},
	phases.PhasePlan: {"TodoWrite"},
	phases.PhaseExecute: {
		"TodoRead", "TodoWrite", "Task", "Bash",
		"Read", "Write", "Edit", "PythonComputationalTool",
	},
	phases.PhaseVerify: {"TodoRead", "Read", "PythonComputationalTool"},
	phases.PhaseDone:   {},
}

// basePrompts are the per-phase instruction templates. {{session_id}} is
// substituted during assembly.
var basePrompts = map[phases.Phase]string{
	phases.PhaseInit: `You are the reasoning agent of an orchestrated workflow (session {{session_id}}).
The orchestrator drives you through eight phases: INIT, QUERY, ENHANCE, KNOWLEDGE, PLAN, EXECUTE, VERIFY, DONE.
The session is initializing. Call JARVIS to begin.`,

	phases.PhaseQuery: `## QUERY phase (session {{session_id}})

Interpret the objective. Strip filler, resolve pronouns, and state what the user actually needs as one precise goal sentence.

When done, call JARVIS with phase_completed="QUERY" and put the goal in payload.interpreted_goal.`,

	phases.PhaseEnhance: `## ENHANCE phase (session {{session_id}})

Strengthen the interpreted goal: add the requirements it implies, name constraints and edge cases, and make success measurable. Do not change its intent.

When done, call JARVIS with phase_completed="ENHANCE" and put the result in payload.enhanced_goal.`,

	phases.PhaseKnowledge: `## KNOWLEDGE phase (session {{session_id}})

Gather the facts the goal depends on. Prefer primary sources over recall:
- APITaskAgent runs a full research pass (select, fetch, synthesize) in one call.
- WebSearch/WebFetch cover anything outside the endpoint registry.
- If you already hold the needed knowledge, write it to your session workspace as synthesized_knowledge.md; the orchestrator will use it verbatim.
- To pin specific registry endpoints, reply with payload.claude_response set to {"selected_endpoints": ["<id>", ...]}.

When done, call JARVIS with phase_completed="KNOWLEDGE" and summarize findings in payload.knowledge_gathered.`,

	phases.PhasePlan: `## PLAN phase (session {{session_id}})

Decompose the goal into todos with TodoWrite. Each todo gets a clear content string, a priority (high/medium/low), and status "pending".

Mark work that deserves focused delegation with a meta-prompt in the todo content:
(ROLE: <role>) (CONTEXT: <domain>) (PROMPT: <instruction>) (OUTPUT: <deliverable>)

When the list is complete, call JARVIS with phase_completed="PLAN", payload.plan_created=true, and the list in payload.todos_with_metaprompts.`,

	phases.PhaseExecute: `## EXECUTE phase (session {{session_id}})

Work on exactly one todo: the current one shown below. Use the tools; do not simulate their output. Update its status with TodoWrite as you progress.

When the todo is done (or blocked), call JARVIS with phase_completed="EXECUTE" and report:
- payload.execution_success: whether the todo succeeded
- payload.current_task_completed: what was done
- payload.more_tasks_pending: whether todos remain
- payload.current_task_index: the index you worked on`,

	phases.PhaseVerify: `## VERIFY phase (session {{session_id}})

Audit the work against the original objective. Read the todo list and the produced artifacts; judge completion honestly — unmet criteria fail verification.

When done, call JARVIS with phase_completed="VERIFY" and payload.verification_passed set to your verdict.`,

	phases.PhaseDone: `## Workflow complete (session {{session_id}})

All phases are finished. No further tool calls are expected for this session.`,
}

// toolGuidance appends per-phase advice on using the allowed tools.
var toolGuidance = map[phases.Phase]string{
	phases.PhaseInit:    "Allowed now: JARVIS only.",
	phases.PhaseQuery:   "Allowed now: JARVIS only. No research yet — interpretation first.",
	phases.PhaseEnhance: "Allowed now: JARVIS only. Enrich the goal from what you already know.",
	phases.PhaseKnowledge: "Allowed now: WebSearch, WebFetch, APITaskAgent, PythonComputationalTool, Task, JARVIS. " +
		"APITaskAgent is the fastest path through the endpoint registry.",
	phases.PhasePlan: "Allowed now: TodoWrite. Produce the full list in one call when possible.",
	phases.PhaseExecute: "Allowed now: TodoRead, TodoWrite, Task, Bash, Read, Write, Edit, PythonComputationalTool. " +
		"Single-task focus: finish the current todo before touching the next.",
	phases.PhaseVerify: "Allowed now: TodoRead, Read, PythonComputationalTool. Inspect, do not modify.",
	phases.PhaseDone:   "No tools are allowed in DONE.",
}

// roleSelectionPrompt is embedded on the first QUERY entry. It lists every
// role and the JSON reply contract consumed on the next turn.
var roleSelectionPrompt = buildRoleSelectionPrompt()

func buildRoleSelectionPrompt() string {
	var b strings.Builder
	b.WriteString("\n\n## Role selection\n\n")
	b.WriteString("Choose the single cognitive role best suited to this objective:\n\n")
	for _, r := range roles.All {
		cfg := roles.Config(r)
		fmt.Fprintf(&b, "- %s — focus: %s, complexity: %s\n", r, cfg.Focus, cfg.Complexity)
	}
	b.WriteString("\nInclude your choice in the next JARVIS call as payload.claude_response, a JSON string of the form:\n")
	b.WriteString(`{"selected_role": "<role>", "confidence": <0..1>, "reasoning": "<one sentence>"}`)
	b.WriteString("\nIf you skip this, the heuristic role detection stands.")
	return b.String()
}
