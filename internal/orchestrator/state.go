package orchestrator

import (
	"fmt"
	"slices"
	"time"

	"github.com/Iron-Ham/arbiter/internal/event"
)

// State is a step of the per-contract deliberation state machine.
type State string

const (
	StateIdle         State = "idle"
	StateProposing    State = "proposing"
	StateDiscussing   State = "discussing"
	StateSynthesizing State = "synthesizing"
	StateSettling     State = "settling"
	StateDone         State = "done"
	StateFailed       State = "failed"
)

// IsTerminal reports whether s ends a deliberation.
func (s State) IsTerminal() bool {
	return s == StateDone || s == StateFailed
}

func (s State) String() string { return string(s) }

// Phase maps s onto the event bus phase its messages belong to.
func (s State) Phase() event.Phase {
	switch s {
	case StateIdle, StateProposing:
		return event.PhaseProposing
	case StateDiscussing:
		return event.PhaseDiscussion
	case StateSynthesizing, StateSettling:
		return event.PhaseConsensus
	default:
		return event.PhaseCompleted
	}
}

// ValidTransitions is the deliberation state machine. Failed is reachable
// from every non-terminal state.
var ValidTransitions = map[State][]State{
	StateIdle:         {StateProposing, StateFailed},
	StateProposing:    {StateDiscussing, StateFailed},
	StateDiscussing:   {StateSynthesizing, StateFailed},
	StateSynthesizing: {StateSettling, StateFailed},
	StateSettling:     {StateDone, StateFailed},
}

// Transition records one state change.
type Transition struct {
	From      State     `json:"from,omitempty"`
	To        State     `json:"to"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason,omitempty"`
}

// machine tracks one deliberation. It is owned by a single goroutine.
type machine struct {
	current State
	history []Transition
	now     func() time.Time
}

func newMachine(now func() time.Time) *machine {
	return &machine{
		current: StateIdle,
		history: []Transition{{To: StateIdle, Timestamp: now()}},
		now:     now,
	}
}

func (m *machine) can(to State) bool {
	return slices.Contains(ValidTransitions[m.current], to)
}

func (m *machine) to(next State, reason string) error {
	if !m.can(next) {
		return fmt.Errorf("invalid transition %s -> %s", m.current, next)
	}
	m.history = append(m.history, Transition{From: m.current, To: next, Timestamp: m.now(), Reason: reason})
	m.current = next
	return nil
}

// path returns the states visited, in order.
func (m *machine) path() []State {
	out := make([]State, len(m.history))
	for i, t := range m.history {
		out[i] = t.To
	}
	return out
}
