// Package verify implements the completion gate of the VERIFY phase: an
// ordered rule chain over the session's todo list and reasoning
// effectiveness, plus the rollback policy applied when the gate fails.
package verify

import (
	"fmt"

	"github.com/iron-manus/jarvis/pkg/config"
	"github.com/iron-manus/jarvis/pkg/phases"
	"github.com/iron-manus/jarvis/pkg/session"
	"github.com/iron-manus/jarvis/pkg/todo"
)

// Assessment is the verdict over one VERIFY turn.
type Assessment struct {
	Valid         bool           `json:"valid"`
	Reason        string         `json:"reason,omitempty"`
	CompletionPct int            `json:"completion_pct"`
	CriticalDone  int            `json:"critical_done"`
	CriticalTotal int            `json:"critical_total"`
	Breakdown     todo.Breakdown `json:"breakdown"`
}

// Assess evaluates the six verification rules in order; the first failure
// wins. claimedPassed is the agent's own verification_passed assertion. An
// empty todo list counts as 100% complete.
func Assess(s *session.Session, claimedPassed bool, cfg config.VerificationConfig) Assessment {
	todos := s.Todos()
	breakdown := todo.CountByStatus(todos)
	pct := todo.CompletionPct(todos)
	criticalDone, criticalTotal := todo.Critical(todos)

	a := Assessment{
		CompletionPct: pct,
		CriticalDone:  criticalDone,
		CriticalTotal: criticalTotal,
		Breakdown:     breakdown,
	}

	criticalOK := criticalDone == criticalTotal
	pctOK := pct >= cfg.CompletionThreshold

	switch {
	case !criticalOK:
		a.Reason = fmt.Sprintf("critical todos incomplete: %d/%d done",
			criticalDone, criticalTotal)
	case !pctOK:
		a.Reason = fmt.Sprintf("completion %d%% below threshold %d%%",
			pct, cfg.CompletionThreshold)
	case highPriorityPending(todos) > 0:
		a.Reason = fmt.Sprintf("%d high-priority todo(s) still pending",
			highPriorityPending(todos))
	case breakdown.InProgress > 0:
		a.Reason = fmt.Sprintf("%d todo(s) still in progress", breakdown.InProgress)
	case s.ReasoningEffectiveness < cfg.SuccessRateThreshold:
		a.Reason = fmt.Sprintf("reasoning effectiveness %.2f below threshold %.2f",
			s.ReasoningEffectiveness, cfg.SuccessRateThreshold)
	case claimedPassed && !(criticalOK && pctOK):
		a.Reason = "inconsistent claim"
	default:
		a.Valid = true
	}
	return a
}

func highPriorityPending(todos []todo.Todo) int {
	n := 0
	for _, t := range todos {
		if t.Priority == todo.PriorityHigh && t.Status == todo.StatusPending {
			n++
		}
	}
	return n
}

// Rollback says where a failed verification sends the session.
type Rollback struct {
	Target phases.Phase
	// ResetIndex zeroes current_task_index (re-planning starts over).
	ResetIndex bool
	// DecrementIndex steps current_task_index back one, floored at zero
	// (redo the almost-done task).
	DecrementIndex bool
}

// RollbackTarget maps a completion percentage to the retry edge: under 50%
// the plan itself is suspect, under 80% execution continues where it
// stopped, and at 80–99% the last task is redone.
func RollbackTarget(pct int) Rollback {
	switch {
	case pct < 50:
		return Rollback{Target: phases.PhasePlan, ResetIndex: true}
	case pct < 80:
		return Rollback{Target: phases.PhaseExecute}
	default:
		return Rollback{Target: phases.PhaseExecute, DecrementIndex: true}
	}
}
