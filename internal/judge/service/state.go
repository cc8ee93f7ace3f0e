package service

import "fmt"

// State is where a judge session is in its lifecycle.
type State int

const (
	StateInstalling State = iota
	StateSpawning
	StateStreaming
	StatePassed
	StateFailed
	StateTimedOut
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateInstalling:
		return "installing"
	case StateSpawning:
		return "spawning"
	case StateStreaming:
		return "streaming"
	case StatePassed:
		return "passed"
	case StateFailed:
		return "failed"
	case StateTimedOut:
		return "timed_out"
	case StateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether no further transition follows s.
func (s State) Terminal() bool {
	return s >= StatePassed
}

// StateObserver is told about every state a session enters.
type StateObserver func(sessionID string, state State)
