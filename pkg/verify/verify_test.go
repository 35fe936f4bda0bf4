package verify

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/iron-manus/jarvis/pkg/config"
	"github.com/iron-manus/jarvis/pkg/phases"
	"github.com/iron-manus/jarvis/pkg/session"
	"github.com/iron-manus/jarvis/pkg/todo"
)

func verifyConfig() config.VerificationConfig {
	cfg := config.VerificationConfig{}
	cfg.SetDefaults() // threshold 95, success rate 0.7
	return cfg
}

func sessionWith(todos []todo.Todo, effectiveness float64) *session.Session {
	s := session.New("session_verify01", effectiveness)
	s.SetTodos(todos)
	return s
}

// completedTodos builds n completed low-priority todos.
func completedTodos(n int) []todo.Todo {
	todos := make([]todo.Todo, n)
	for i := range todos {
		todos[i] = todo.Todo{ID: fmt.Sprintf("t%02d", i), Content: "task",
			Status: todo.StatusCompleted, Priority: todo.PriorityLow}
	}
	return todos
}

func withLast(todos []todo.Todo, status todo.Status) []todo.Todo {
	todos[len(todos)-1].Status = status
	return todos
}

func TestAssessAllRulesPass(t *testing.T) {
	s := sessionWith([]todo.Todo{
		{ID: "a", Content: "done", Status: todo.StatusCompleted, Priority: todo.PriorityHigh},
		{ID: "b", Content: "done too", Status: todo.StatusCompleted, Priority: todo.PriorityLow},
	}, 0.9)

	a := Assess(s, true, verifyConfig())
	assert.True(t, a.Valid)
	assert.Empty(t, a.Reason)
	assert.Equal(t, 100, a.CompletionPct)
	assert.Equal(t, 1, a.CriticalDone)
	assert.Equal(t, 1, a.CriticalTotal)
	assert.Equal(t, 2, a.Breakdown.Completed)
}

func TestAssessEmptyTodosIsComplete(t *testing.T) {
	s := sessionWith(nil, 0.9)

	a := Assess(s, false, verifyConfig())
	assert.True(t, a.Valid)
	assert.Equal(t, 100, a.CompletionPct)
	assert.Zero(t, a.CriticalTotal)
}

func TestAssessRuleOrderFirstFailureWins(t *testing.T) {
	cfg := verifyConfig()

	tests := []struct {
		name          string
		todos         []todo.Todo
		effectiveness float64
		wantReason    string
	}{
		{
			name: "critical incomplete beats low completion",
			todos: []todo.Todo{
				{ID: "a", Content: "x", Status: todo.StatusPending, Priority: todo.PriorityHigh},
				{ID: "b", Content: "y", Status: todo.StatusPending, Priority: todo.PriorityLow},
			},
			effectiveness: 0.9,
			wantReason:    "critical todos incomplete: 0/1 done",
		},
		{
			name: "completion below threshold",
			todos: []todo.Todo{
				{ID: "a", Content: "x", Status: todo.StatusCompleted, Priority: todo.PriorityHigh},
				{ID: "b", Content: "y", Status: todo.StatusPending, Priority: todo.PriorityLow},
			},
			effectiveness: 0.9,
			wantReason:    "completion 50% below threshold 95%",
		},
		{
			name:          "in-progress todo blocks",
			todos:         withLast(completedTodos(20), todo.StatusInProgress),
			effectiveness: 0.9,
			wantReason:    "1 todo(s) still in progress",
		},
		{
			name: "low effectiveness",
			todos: []todo.Todo{
				{ID: "a", Content: "x", Status: todo.StatusCompleted, Priority: todo.PriorityHigh},
			},
			effectiveness: 0.5,
			wantReason:    "reasoning effectiveness 0.50 below threshold 0.70",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := sessionWith(tt.todos, tt.effectiveness)
			a := Assess(s, false, cfg)
			assert.False(t, a.Valid)
			assert.Equal(t, tt.wantReason, a.Reason)
		})
	}
}

func TestAssessHighPriorityPendingRule(t *testing.T) {
	// A pending high-priority todo is also an incomplete critical todo, so
	// the critical rule reports it first.
	todos := withLast(completedTodos(20), todo.StatusPending)
	todos[19].Priority = todo.PriorityHigh

	s := sessionWith(todos, 0.9)
	a := Assess(s, false, verifyConfig())
	assert.False(t, a.Valid)
	assert.Equal(t, "critical todos incomplete: 0/1 done", a.Reason)
}

func TestAssessCompletionRounding(t *testing.T) {
	// 19 of 20 complete rounds to 95% and meets the default threshold.
	todos := withLast(completedTodos(20), todo.StatusPending)

	s := sessionWith(todos, 0.9)
	a := Assess(s, false, verifyConfig())
	assert.True(t, a.Valid)
	assert.Equal(t, 95, a.CompletionPct)
}

func TestRollbackTarget(t *testing.T) {
	tests := []struct {
		pct  int
		want Rollback
	}{
		{0, Rollback{Target: phases.PhasePlan, ResetIndex: true}},
		{20, Rollback{Target: phases.PhasePlan, ResetIndex: true}},
		{49, Rollback{Target: phases.PhasePlan, ResetIndex: true}},
		{50, Rollback{Target: phases.PhaseExecute}},
		{79, Rollback{Target: phases.PhaseExecute}},
		{80, Rollback{Target: phases.PhaseExecute, DecrementIndex: true}},
		{99, Rollback{Target: phases.PhaseExecute, DecrementIndex: true}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RollbackTarget(tt.pct), "pct %d", tt.pct)
	}
}
