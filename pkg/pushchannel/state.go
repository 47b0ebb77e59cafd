package pushchannel

import (
	"fmt"

	"github.com/gorilla/websocket"
)

// Phase is the connection lifecycle position. A Channel only ever moves forward:
// Idle -> Connecting -> Open -> {Closed | Errored}, or Connecting -> {Closed | Errored}.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseConnecting
	PhaseOpen
	PhaseClosed
	PhaseErrored
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseConnecting:
		return "connecting"
	case PhaseOpen:
		return "open"
	case PhaseClosed:
		return "closed"
	case PhaseErrored:
		return "errored"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Terminal reports whether no further transition can follow.
func (p Phase) Terminal() bool {
	return p == PhaseClosed || p == PhaseErrored
}

// State is a snapshot of the connection. Code and Reason are set for PhaseClosed,
// Err for PhaseErrored.
type State struct {
	Phase  Phase
	Code   int
	Reason string
	Err    error
}

func (s State) String() string {
	switch s.Phase {
	case PhaseClosed:
		return fmt.Sprintf("closed(%d, %q)", s.Code, s.Reason)
	case PhaseErrored:
		return fmt.Sprintf("errored(%v)", s.Err)
	default:
		return s.Phase.String()
	}
}

func closedByClient() State {
	return State{Phase: PhaseClosed, Code: websocket.CloseNormalClosure, Reason: "closed by client"}
}

func canTransition(from, to Phase) bool {
	if from.Terminal() {
		return false
	}
	switch from {
	case PhaseIdle:
		return to == PhaseConnecting || to == PhaseClosed
	case PhaseConnecting:
		return to == PhaseOpen || to == PhaseClosed || to == PhaseErrored
	case PhaseOpen:
		return to == PhaseClosed || to == PhaseErrored
	default:
		return false
	}
}

// TransportError reports that the connection could not be established or dropped.
type TransportError struct {
	Op  string
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("push channel %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
