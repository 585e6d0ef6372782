// Package statemachine implements the 10-state deterministic order
// lifecycle FSM (spec §4.1). One OrderStateMachine value is owned per
// Order; it never loses history — the transition list is append-only —
// and it never allows a transition outside the documented allowed set.
package statemachine

import (
	"fmt"
	"time"
)

// State is one of the ten order lifecycle states.
type State string

const (
	Created         State = "CREATED"
	Validated       State = "VALIDATED"
	Submitted       State = "SUBMITTED"
	Acknowledged    State = "ACKNOWLEDGED"
	PartiallyFilled State = "PARTIALLY_FILLED"
	Filled          State = "FILLED"
	Cancelled       State = "CANCELLED"
	Rejected        State = "REJECTED"
	Failed          State = "FAILED"
	Expired         State = "EXPIRED"
)

var terminalStates = map[State]bool{
	Filled:    true,
	Cancelled: true,
	Rejected:  true,
	Failed:    true,
	Expired:   true,
}

var cancellableStates = map[State]bool{
	Created:         true,
	Validated:       true,
	Submitted:       true,
	Acknowledged:    true,
	PartiallyFilled: true,
}

// allowed is the exact transition table from spec §4.1. Same-state
// transitions are permitted from every non-terminal state (for
// metadata-only updates) and are checked separately in
// CanTransition/Transition, not listed here.
var allowed = map[State]map[State]bool{
	Created:         {Validated: true, Rejected: true, Failed: true},
	Validated:       {Submitted: true, Rejected: true, Cancelled: true},
	Submitted:       {Acknowledged: true, Rejected: true, Failed: true, Cancelled: true, Expired: true},
	Acknowledged:    {PartiallyFilled: true, Filled: true, Cancelled: true, Rejected: true, Expired: true},
	PartiallyFilled: {Filled: true, Cancelled: true},
}

// InvalidTransitionError reports a rejected transition attempt, carrying
// both endpoints so callers can log or branch on them.
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid state transition: %s -> %s", e.From, e.To)
}

// Transition is one append-only history entry.
type Transition struct {
	From      State
	To        State
	Timestamp time.Time
	Reason    string
	Metadata  map[string]string
}

// Machine is a per-Order FSM value: current state, full transition
// history, creation time, and last-update time.
type Machine struct {
	current   State
	history   []Transition
	createdAt time.Time
	updatedAt time.Time
}

// New creates a Machine in the Created state.
func New(now time.Time) *Machine {
	return &Machine{
		current:   Created,
		createdAt: now,
		updatedAt: now,
	}
}

// Restore reconstructs a Machine from persisted state (used by the Order
// Manager's crash-safe resume path). The caller supplies the full history
// verbatim; no validation is re-run against the transition table, since
// the table may have evolved and history is a historical record.
func Restore(current State, history []Transition, createdAt, updatedAt time.Time) *Machine {
	return &Machine{current: current, history: history, createdAt: createdAt, updatedAt: updatedAt}
}

// State returns the current state.
func (m *Machine) State() State { return m.current }

// History returns the append-only transition log. The returned slice is a
// copy; callers cannot mutate machine-internal history through it.
func (m *Machine) History() []Transition {
	out := make([]Transition, len(m.history))
	copy(out, m.history)
	return out
}

// CreatedAt returns the machine's creation timestamp.
func (m *Machine) CreatedAt() time.Time { return m.createdAt }

// CanTransition reports whether to is reachable from the current state:
// any transition out of a terminal state (including to itself) is never
// allowed, same-state is otherwise always allowed, and any other
// transition must be in the allowed table.
func (m *Machine) CanTransition(to State) bool {
	if terminalStates[m.current] {
		return false
	}
	if to == m.current {
		return true
	}
	return allowed[m.current][to]
}

// Transition attempts to move the machine to `to`, recording a history
// entry with reason and optional metadata. Returns InvalidTransitionError
// if the move is not allowed; the machine is left unchanged on failure.
func (m *Machine) Transition(to State, now time.Time, reason string, metadata map[string]string) error {
	if !m.CanTransition(to) {
		return &InvalidTransitionError{From: m.current, To: to}
	}
	m.history = append(m.history, Transition{
		From:      m.current,
		To:        to,
		Timestamp: now,
		Reason:    reason,
		Metadata:  metadata,
	})
	m.current = to
	m.updatedAt = now
	return nil
}

// IsTerminal reports whether the current state is terminal.
func (m *Machine) IsTerminal() bool { return terminalStates[m.current] }

// IsActive reports whether the current state is not terminal.
func (m *Machine) IsActive() bool { return !m.IsTerminal() }

// CanCancel reports whether the current state permits cancellation.
func (m *Machine) CanCancel() bool { return cancellableStates[m.current] }

// TimeInState returns the elapsed time since the last transition.
func (m *Machine) TimeInState(now time.Time) time.Duration { return now.Sub(m.updatedAt) }

// Lifetime returns the elapsed time since creation.
func (m *Machine) Lifetime(now time.Time) time.Duration { return now.Sub(m.createdAt) }

// LastUpdated returns the timestamp of the most recent transition (or
// creation time, if none has occurred yet).
func (m *Machine) LastUpdated() time.Time { return m.updatedAt }
