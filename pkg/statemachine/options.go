package statemachine

import "fmt"

// Option configures a table during construction.
type Option func(*Table) error

// TransitionOption configures a single transition with guards and actions.
type TransitionOption func(*Transition)

// WithTransition adds a single transition to the table.
func WithTransition(from, to State, event Event, opts ...TransitionOption) Option {
	return func(t *Table) error {
		tr := Transition{From: from, To: to, Event: event}
		for _, opt := range opts {
			opt(&tr)
		}
		return t.add(tr)
	}
}

// WithTransitions adds multiple transitions at once.
func WithTransitions(transitions []Transition) Option {
	return func(t *Table) error {
		for i, tr := range transitions {
			if err := t.add(tr); err != nil {
				return fmt.Errorf("failed to add transition[%d] %s->%s on %s: %w",
					i, nameOf(tr.From), nameOf(tr.To), nameOf(tr.Event), err)
			}
		}
		return nil
	}
}

// WithSelfLoop adds an explicit no-op transition for each event, so that the
// event is acknowledged in state without being treated as undefined.
func WithSelfLoop(state State, events ...Event) Option {
	return func(t *Table) error {
		for _, e := range events {
			if err := t.add(Transition{From: state, To: state, Event: e}); err != nil {
				return err
			}
		}
		return nil
	}
}

// WithGuard adds a single guard to a transition.
func WithGuard(guard Guard) TransitionOption {
	return func(tr *Transition) {
		if guard != nil {
			tr.Guards = append(tr.Guards, guard)
		}
	}
}

// WithGuards adds multiple guards to a transition.
func WithGuards(guards ...Guard) TransitionOption {
	return func(tr *Transition) {
		for _, g := range guards {
			if g != nil {
				tr.Guards = append(tr.Guards, g)
			}
		}
	}
}

// WithAction adds a single action to a transition.
func WithAction(action Action) TransitionOption {
	return func(tr *Transition) {
		if action != nil {
			tr.Actions = append(tr.Actions, action)
		}
	}
}

type named interface{ Name() string }

func nameOf(n named) string {
	if n == nil {
		return "<nil>"
	}
	return n.Name()
}
