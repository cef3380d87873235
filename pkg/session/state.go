package session

import "fmt"

// State is the session lifecycle: Idle -> Connected -> Closing -> Closed.
type State int

const (
	StateIdle State = iota
	StateConnected
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// transitions is the only place lifecycle moves are allowed.
var transitions = map[State][]State{
	StateIdle:      {StateConnected, StateClosing},
	StateConnected: {StateClosing},
	StateClosing:   {StateClosed},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// transition moves s.state; callers hold s.mu.
func (s *Session) transition(to State) error {
	if !canTransition(s.state, to) {
		return fmt.Errorf("session: invalid transition %s -> %s", s.state, to)
	}
	s.state = to
	return nil
}
