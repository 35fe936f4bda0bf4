// Package phases defines the eight-phase workflow state machine vocabulary.
//
// Every session walks INIT → QUERY → ENHANCE → KNOWLEDGE → PLAN → EXECUTE →
// VERIFY → DONE. The only backward edges start at VERIFY, which may return to
// PLAN or EXECUTE when verification fails.
package phases

import "fmt"

// Phase is one state of the eight-phase workflow.
type Phase string

const (
	PhaseInit      Phase = "INIT"
	PhaseQuery     Phase = "QUERY"
	PhaseEnhance   Phase = "ENHANCE"
	PhaseKnowledge Phase = "KNOWLEDGE"
	PhasePlan      Phase = "PLAN"
	PhaseExecute   Phase = "EXECUTE"
	PhaseVerify    Phase = "VERIFY"
	PhaseDone      Phase = "DONE"
)

// All lists every phase in happy-path order.
var All = []Phase{
	PhaseInit,
	PhaseQuery,
	PhaseEnhance,
	PhaseKnowledge,
	PhasePlan,
	PhaseExecute,
	PhaseVerify,
	PhaseDone,
}

// Parse converts a string to a Phase.
func Parse(s string) (Phase, error) {
	p := Phase(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown phase: %q", s)
	}
	return p, nil
}

// Valid reports whether p is one of the eight phases.
func (p Phase) Valid() bool {
	switch p {
	case PhaseInit, PhaseQuery, PhaseEnhance, PhaseKnowledge,
		PhasePlan, PhaseExecute, PhaseVerify, PhaseDone:
		return true
	}
	return false
}

// Next returns the happy-path successor. DONE is terminal and returns itself.
func (p Phase) Next() Phase {
	switch p {
	case PhaseInit:
		return PhaseQuery
	case PhaseQuery:
		return PhaseEnhance
	case PhaseEnhance:
		return PhaseKnowledge
	case PhaseKnowledge:
		return PhasePlan
	case PhasePlan:
		return PhaseExecute
	case PhaseExecute:
		return PhaseVerify
	case PhaseVerify:
		return PhaseDone
	default:
		return PhaseDone
	}
}

// Terminal reports whether p is the final phase.
func (p Phase) Terminal() bool {
	return p == PhaseDone
}

func (p Phase) String() string {
	return string(p)
}

// Completable lists the phases an agent may report as completed on the wire.
// INIT and DONE are never reported: INIT has no work to complete and DONE is
// terminal.
var Completable = []Phase{
	PhaseQuery,
	PhaseEnhance,
	PhaseKnowledge,
	PhasePlan,
	PhaseExecute,
	PhaseVerify,
}
