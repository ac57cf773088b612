// Package combat runs the turn-based simulation of a single arena match.
//
// The loop is an explicit state machine: introducing, acting(i), resolving,
// terminal. Machine.Step performs exactly one transition, so tests can drive a
// fight one beat at a time with a fake clock and a fake narration provider.
package combat

import "fmt"

// Phase is the tag of a State.
type Phase int

const (
	PhaseIntroducing Phase = iota
	PhaseActing
	PhaseResolving
	PhaseTerminal
)

// String returns the lowercase phase name.
func (p Phase) String() string {
	switch p {
	case PhaseIntroducing:
		return "introducing"
	case PhaseActing:
		return "acting"
	case PhaseResolving:
		return "resolving"
	case PhaseTerminal:
		return "terminal"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// State is the tagged loop state. Action is meaningful only while acting and
// holds the index of the next action to perform.
type State struct {
	Phase  Phase
	Action int
}

// String renders the state as "acting(3)" or the bare phase name.
func (s State) String() string {
	if s.Phase == PhaseActing {
		return fmt.Sprintf("acting(%d)", s.Action)
	}
	return s.Phase.String()
}

// resolution records why acting ended.
type resolution int

const (
	resolveNone resolution = iota
	// resolveZeroA: side A reached zero health.
	resolveZeroA
	resolveZeroB
	resolveCeiling
)
