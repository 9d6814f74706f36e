package statemachine

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTransition = errors.New("statemachine: transition needs a from state, a to state and an event")
	ErrInvalidEvent      = errors.New("statemachine: state and event are required")
)

// TransitionError is returned by Resolve and Fire when a state cannot move.
// Rejected is set when transitions exist for the pair but every guard vetoed them.
type TransitionError struct {
	From     string
	Event    string
	Rejected bool
}

func (e *TransitionError) Error() string {
	if e.Rejected {
		return fmt.Sprintf("statemachine: guards rejected %q from %q", e.Event, e.From)
	}
	return fmt.Sprintf("statemachine: no transition for %q from %q", e.Event, e.From)
}

func IsNoTransitionAvailableError(err error) bool {
	var e *TransitionError
	return errors.As(err, &e) && !e.Rejected
}

func IsTransitionRejectedError(err error) bool {
	var e *TransitionError
	return errors.As(err, &e) && e.Rejected
}
