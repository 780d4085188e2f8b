package feed

import (
	"fmt"
	"time"
)

// StateKind enumerates live channel states.
type StateKind int

const (
	StateConnecting StateKind = iota
	StateOpen
	StateClosed
	StateReconnecting
)

func (k StateKind) String() string {
	switch k {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateReconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("state(%d)", int(k))
	}
}

// State is a snapshot of the connection state machine:
// Connecting -> Open -> Closed -> Reconnecting -> Connecting ...
type State struct {
	Kind StateKind

	// Reason is set for Closed.
	Reason error

	// Attempt and Delay are set for Reconnecting. Attempt starts at 1.
	Attempt int
	Delay   time.Duration

	At time.Time
}

func (s State) String() string {
	switch s.Kind {
	case StateClosed:
		if s.Reason != nil {
			return fmt.Sprintf("closed (%v)", s.Reason)
		}
		return "closed"
	case StateReconnecting:
		return fmt.Sprintf("reconnecting (attempt %d in %s)", s.Attempt, s.Delay)
	default:
		return s.Kind.String()
	}
}
