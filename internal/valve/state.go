package valve

import (
	"errors"
	"fmt"
	"time"
)

// Position is a commanded valve position.
type Position string

const (
	Closed Position = "closed"
	Open   Position = "open"
)

// Opposite returns the position a toggle from p targets.
func (p Position) Opposite() Position {
	if p == Open {
		return Closed
	}
	return Open
}

func (p Position) valid() bool { return p == Open || p == Closed }

// Phase is the machine's externally visible state.
type Phase string

const (
	PhaseClosed  Phase = "closed"
	PhaseOpen    Phase = "open"
	PhasePending Phase = "pending"
	PhaseError   Phase = "error"
)

var (
	ErrCommandPending    = errors.New("a valve command is already in flight")
	ErrDeviceOffline     = errors.New("device is offline")
	ErrNoCommandInFlight = errors.New("no valve command in flight")
	ErrInvalidTarget     = errors.New("invalid valve target")
)

// State is the per-device valve command state. Commanded is client-asserted:
// it only changes when the backend acknowledges a command.
type State struct {
	Phase     Phase     `json:"phase"`
	Commanded Position  `json:"commanded_position"`
	Target    Position  `json:"target,omitempty"` // in flight, or last failed
	Pending   bool      `json:"pending"`
	LastError string    `json:"last_error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Initial is the state of a newly observed device.
func Initial(now time.Time) State {
	return State{Phase: PhaseClosed, Commanded: Closed, UpdatedAt: now}
}

// EventKind enumerates machine inputs.
type EventKind int

const (
	EventRequest EventKind = iota + 1
	EventSucceeded
	EventFailed
)

// Event is one input to Transition.
type Event struct {
	Kind   EventKind
	Target Position // EventRequest
	Online bool     // EventRequest
	Cause  string   // EventFailed
	At     time.Time
}

// Transition is the only function that produces a new State. A rejected
// event returns the input state unchanged together with an error.
func Transition(s State, ev Event) (State, error) {
	switch ev.Kind {
	case EventRequest:
		if !ev.Target.valid() {
			return s, fmt.Errorf("%w: %q", ErrInvalidTarget, ev.Target)
		}
		if s.Pending {
			return s, ErrCommandPending
		}
		if !ev.Online {
			return s, ErrDeviceOffline
		}
		return State{
			Phase:     PhasePending,
			Commanded: s.Commanded,
			Target:    ev.Target,
			Pending:   true,
			UpdatedAt: ev.At,
		}, nil

	case EventSucceeded:
		if !s.Pending {
			return s, ErrNoCommandInFlight
		}
		return State{
			Phase:     phaseFor(s.Target),
			Commanded: s.Target,
			UpdatedAt: ev.At,
		}, nil

	case EventFailed:
		if !s.Pending {
			return s, ErrNoCommandInFlight
		}
		return State{
			Phase:     PhaseError,
			Commanded: s.Commanded,
			Target:    s.Target,
			LastError: ev.Cause,
			UpdatedAt: ev.At,
		}, nil
	}
	return s, fmt.Errorf("unknown valve event kind %d", ev.Kind)
}

func phaseFor(p Position) Phase {
	if p == Open {
		return PhaseOpen
	}
	return PhaseClosed
}
