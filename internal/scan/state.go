package scan

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned when an event is not allowed in the draft's current state
var ErrInvalidTransition = errors.New("invalid transition")

// State is the lifecycle state of a draft
type State int

const (
	StateCaptured State = iota
	StateEnhancing
	StateReadyEnhanced
	StateReadyDegraded
	StateFinalized
	StateDiscarded
)

var stateNames = map[State]string{
	StateCaptured:      "captured",
	StateEnhancing:     "enhancing",
	StateReadyEnhanced: "ready_enhanced",
	StateReadyDegraded: "ready_degraded",
	StateFinalized:     "finalized",
	StateDiscarded:     "discarded",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText encodes the state by name
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Ready reports whether the draft can be edited, exported or finalized
func (s State) Ready() bool {
	return s == StateReadyEnhanced || s == StateReadyDegraded
}

// Event is an input to the draft state machine
type Event int

const (
	// EventEnhance starts an enhancement attempt, automatically after capture or on retry
	EventEnhance Event = iota
	EventEnhanceSucceeded
	// EventEnhanceFailed covers unavailable, failed and timed out attempts
	EventEnhanceFailed
	EventSkip
	EventRename
	EventFinalize
	EventDiscard
)

var eventNames = map[Event]string{
	EventEnhance:          "enhance",
	EventEnhanceSucceeded: "enhance_succeeded",
	EventEnhanceFailed:    "enhance_failed",
	EventSkip:             "skip",
	EventRename:           "rename",
	EventFinalize:         "finalize",
	EventDiscard:          "discard",
}

func (e Event) String() string {
	if name, ok := eventNames[e]; ok {
		return name
	}
	return fmt.Sprintf("event(%d)", int(e))
}

type transitionKey struct {
	from  State
	event Event
}

var transitions = map[transitionKey]State{
	{StateCaptured, EventEnhance}: StateEnhancing,
	{StateCaptured, EventDiscard}: StateDiscarded,

	{StateEnhancing, EventEnhanceSucceeded}: StateReadyEnhanced,
	{StateEnhancing, EventEnhanceFailed}:    StateReadyDegraded,
	{StateEnhancing, EventSkip}:             StateReadyDegraded,
	{StateEnhancing, EventEnhance}:          StateEnhancing, // retry supersedes the in-flight attempt
	{StateEnhancing, EventDiscard}:          StateDiscarded,

	{StateReadyEnhanced, EventRename}:   StateReadyEnhanced,
	{StateReadyEnhanced, EventFinalize}: StateFinalized,
	{StateReadyEnhanced, EventDiscard}:  StateDiscarded,

	{StateReadyDegraded, EventRename}:   StateReadyDegraded,
	{StateReadyDegraded, EventEnhance}:  StateEnhancing,
	{StateReadyDegraded, EventFinalize}: StateFinalized,
	{StateReadyDegraded, EventDiscard}:  StateDiscarded,
}

// Transition returns the state reached from `from` on event ev. It has no side effects.
func Transition(from State, ev Event) (State, error) {
	to, ok := transitions[transitionKey{from, ev}]
	if !ok {
		return from, fmt.Errorf("%w: %s from %s", ErrInvalidTransition, ev, from)
	}
	return to, nil
}
