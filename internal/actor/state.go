package actor

import (
	"errors"
	"fmt"
	"time"
)

// State is the lifecycle state of a supervised actor.
type State int

const (
	StateStarting State = iota
	StateBuilding
	StateReady
	StateRestarting
	StateBackoff
	StateStopped
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// ValidTransitions defines allowed state transitions.
// Key is the current state, value is the list of valid next states.
var ValidTransitions = map[State][]State{
	StateStarting:   {StateBuilding, StateStopped},
	StateBuilding:   {StateReady, StateRestarting, StateStopped},
	StateReady:      {StateRestarting, StateStopped},
	StateRestarting: {StateBackoff, StateStopped},
	StateBackoff:    {StateBuilding, StateStopped},
}

// CanTransition checks if a transition from one state to another is valid.
func CanTransition(from, to State) bool {
	for _, target := range ValidTransitions[from] {
		if target == to {
			return true
		}
	}
	return false
}

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateBuilding:
		return "building"
	case StateReady:
		return "ready"
	case StateRestarting:
		return "restarting"
	case StateBackoff:
		return "backoff"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON health reports.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Transition represents a state change with metadata.
type Transition struct {
	From      State
	To        State
	Reason    string
	Timestamp time.Time
}

// NewTransition creates a new transition record.
func NewTransition(from, to State, reason string) Transition {
	return Transition{
		From:      from,
		To:        to,
		Reason:    reason,
		Timestamp: time.Now(),
	}
}

// IsValid returns true if this transition is allowed by the state machine.
func (t Transition) IsValid() bool {
	return CanTransition(t.From, t.To)
}

// Validate returns an error wrapping ErrInvalidTransition for a disallowed transition.
func (t Transition) Validate() error {
	if !t.IsValid() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.From, t.To)
	}
	return nil
}

// Status is a point-in-time snapshot of an actor, safe to read from any goroutine.
type Status struct {
	State      State     `json:"state"`
	Generation uint64    `json:"generation"`
	HandleID   string    `json:"handle_id,omitempty"`
	Restarts   uint64    `json:"restarts"`
	LastError  string    `json:"last_error,omitempty"`
	Since      time.Time `json:"since"`
}
