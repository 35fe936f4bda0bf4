// Package todo models the per-session task list the agent maintains during
// PLAN and EXECUTE, including the meta-prompt convention that marks a todo as
// a unit of delegated work.
package todo

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a todo.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// Priority orders todos by urgency. High-priority todos are critical.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Todo is a unit of work in the session task list.
type Todo struct {
	ID       string   `json:"id" yaml:"id"`
	Content  string   `json:"content" yaml:"content"`
	Status   Status   `json:"status" yaml:"status"`
	Priority Priority `json:"priority" yaml:"priority"`
}

// Critical reports whether the todo must be completed before verification can
// pass: high priority, or content carrying a meta-prompt.
func (t Todo) Critical() bool {
	return t.Priority == PriorityHigh || HasMetaPrompt(t.Content)
}

// ValidStatus reports whether s is a known status.
func ValidStatus(s Status) bool {
	return s == StatusPending || s == StatusInProgress || s == StatusCompleted
}

// ValidPriority reports whether p is a known priority.
func ValidPriority(p Priority) bool {
	return p == PriorityHigh || p == PriorityMedium || p == PriorityLow
}

// Normalize fills defaults in place: missing IDs get a uuid, unknown statuses
// become pending, unknown priorities become medium.
func Normalize(todos []Todo) []Todo {
	out := make([]Todo, len(todos))
	for i, t := range todos {
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		if !ValidStatus(t.Status) {
			t.Status = StatusPending
		}
		if !ValidPriority(t.Priority) {
			t.Priority = PriorityMedium
		}
		out[i] = t
	}
	return out
}

// Breakdown counts todos per status.
type Breakdown struct {
	Completed  int `json:"completed"`
	InProgress int `json:"in_progress"`
	Pending    int `json:"pending"`
	Total      int `json:"total"`
}

// CountByStatus computes the status breakdown of a todo list.
func CountByStatus(todos []Todo) Breakdown {
	b := Breakdown{Total: len(todos)}
	for _, t := range todos {
		switch t.Status {
		case StatusCompleted:
			b.Completed++
		case StatusInProgress:
			b.InProgress++
		default:
			b.Pending++
		}
	}
	return b
}

// CompletionPct returns round(100*completed/total). An empty list is 100%
// complete by definition.
func CompletionPct(todos []Todo) int {
	if len(todos) == 0 {
		return 100
	}
	completed := CountByStatus(todos).Completed
	return int(float64(completed)/float64(len(todos))*100 + 0.5)
}

// Critical partitions the list into done and total counts over the critical
// subset (high priority or meta-prompt-bearing).
func Critical(todos []Todo) (done, total int) {
	for _, t := range todos {
		if !t.Critical() {
			continue
		}
		total++
		if t.Status == StatusCompleted {
			done++
		}
	}
	return done, total
}

func statusIcon(s Status) string {
	switch s {
	case StatusPending:
		return "[PENDING]"
	case StatusInProgress:
		return "[IN PROGRESS]"
	case StatusCompleted:
		return "[DONE]"
	default:
		return "[UNKNOWN]"
	}
}

// Summary renders a one-line count header followed by one line per todo.
func Summary(todos []Todo) string {
	if len(todos) == 0 {
		return "No active todos"
	}

	b := CountByStatus(todos)
	var sb strings.Builder
	fmt.Fprintf(&sb, "Task list: %d total (%d pending, %d in progress, %d completed)\n\n",
		b.Total, b.Pending, b.InProgress, b.Completed)

	for _, t := range todos {
		fmt.Fprintf(&sb, "%s [%s] %s\n", statusIcon(t.Status), t.ID, t.Content)
	}

	return sb.String()
}

// FormatForContext renders the list as a block suitable for embedding in an
// instruction prompt.
func FormatForContext(todos []Todo) string {
	if len(todos) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("\n<current_todos>\n")
	sb.WriteString("Your current task list:\n\n")

	for _, t := range todos {
		fmt.Fprintf(&sb, "%s %s (%s) - %s\n", statusIcon(t.Status), t.Status, t.Priority, t.Content)
	}

	sb.WriteString("\nUpdate todo status with TodoWrite as you make progress.\n")
	sb.WriteString("</current_todos>\n")

	return sb.String()
}
