package sweep

import "fmt"

// State is a worker lifecycle state.
type State int

const (
	StateStarting State = iota
	StatePolling
	StateSubmitting
	StateIdle
	StateStopped
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StatePolling:
		return "polling"
	case StateSubmitting:
		return "submitting"
	case StateIdle:
		return "idle"
	case StateStopped:
		return "stopped"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether s is absorbing.
func (s State) Terminal() bool { return s == StateStopped || s == StateTerminated }

// transitions lists the legal successors of every non-terminal state.
// Polling loops onto itself while the ledger is unreachable.
var transitions = map[State][]State{
	StateStarting:   {StatePolling, StateStopped},
	StatePolling:    {StatePolling, StateSubmitting, StateIdle, StateStopped},
	StateSubmitting: {StateIdle, StateTerminated, StateStopped},
	StateIdle:       {StatePolling, StateStopped},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
