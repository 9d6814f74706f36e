package statemachine

import (
	"context"
	"fmt"
	"slices"
)

// State represents a state in the state machine.
type State interface {
	Name() string
}

// Event represents an event that can trigger a state transition.
type Event interface {
	Name() string
}

// Action executes side effects during state transitions. Returning an error prevents the transition.
type Action func(ctx context.Context, from, to State, event Event, data any) error

// Guard evaluates whether a transition should be allowed based on runtime conditions.
type Guard func(ctx context.Context, from State, event Event, data any) bool

// Transition defines a state change triggered by an event, with optional guards and actions.
type Transition struct {
	From    State
	To      State
	Event   Event
	Guards  []Guard  // All must pass for transition to proceed
	Actions []Action // Executed in order by Fire
}

// Table is an immutable transition table. It holds no current state: callers
// keep the state wherever it is persisted and ask the table what the next
// state is. A Table is safe for concurrent use once built.
//
// Lookups use a nested map [fromState][event][]Transition. Several transitions
// may share a (from, event) pair; the first one whose guards all pass wins.
type Table struct {
	transitions map[string]map[string][]Transition
}

// New builds a table from the given options.
func New(opts ...Option) (*Table, error) {
	t := &Table{transitions: make(map[string]map[string][]Transition)}
	for _, opt := range opts {
		if err := opt(t); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// MustNew is like New but panics on a malformed table.
func MustNew(opts ...Option) *Table {
	t, err := New(opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to build transition table: %v", err))
	}
	return t
}

func (t *Table) add(tr Transition) error {
	if tr.From == nil || tr.To == nil || tr.Event == nil {
		return ErrInvalidTransition
	}
	from, event := tr.From.Name(), tr.Event.Name()
	if _, ok := t.transitions[from]; !ok {
		t.transitions[from] = make(map[string][]Transition)
	}
	t.transitions[from][event] = append(t.transitions[from][event], tr)
	return nil
}

// Resolve returns the transition that applies to (from, event) without running actions.
func (t *Table) Resolve(ctx context.Context, from State, event Event, data any) (Transition, error) {
	if from == nil || event == nil {
		return Transition{}, ErrInvalidEvent
	}

	candidates := t.transitions[from.Name()][event.Name()]
	if len(candidates) == 0 {
		return Transition{}, &TransitionError{From: from.Name(), Event: event.Name()}
	}

	for _, tr := range candidates {
		if guardsPass(ctx, tr.Guards, from, event, data) {
			return tr, nil
		}
	}
	return Transition{}, &TransitionError{From: from.Name(), Event: event.Name(), Rejected: true}
}

// Fire resolves the transition for (from, event), runs its actions in order and
// returns the target state. An action error aborts and is returned wrapped.
func (t *Table) Fire(ctx context.Context, from State, event Event, data any) (State, error) {
	tr, err := t.Resolve(ctx, from, event, data)
	if err != nil {
		return nil, err
	}
	for _, action := range tr.Actions {
		if err := action(ctx, from, tr.To, event, data); err != nil {
			return nil, fmt.Errorf("action failed: %w", err)
		}
	}
	return tr.To, nil
}

// CanFire reports whether some transition would accept event in state from.
func (t *Table) CanFire(ctx context.Context, from State, event Event, data any) bool {
	_, err := t.Resolve(ctx, from, event, data)
	return err == nil
}

// Events lists the event names defined for state from, sorted.
func (t *Table) Events(from State) []string {
	if from == nil {
		return nil
	}
	names := make([]string, 0, len(t.transitions[from.Name()]))
	for name := range t.transitions[from.Name()] {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func guardsPass(ctx context.Context, guards []Guard, from State, event Event, data any) bool {
	for _, g := range guards {
		if !g(ctx, from, event, data) {
			return false
		}
	}
	return true
}

// StringState provides a simple string-based state implementation for basic use cases.
type StringState string

func (s StringState) Name() string {
	return string(s)
}

// StringEvent provides a simple string-based event implementation for basic use cases.
type StringEvent string

func (e StringEvent) Name() string {
	return string(e)
}
