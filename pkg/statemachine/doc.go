// Package statemachine provides an immutable finite-state transition table.
//
// States and events are anything with a Name method; StringState and
// StringEvent cover the simple cases. A Table never stores the current
// state. Callers keep the state in their own storage (typically a database
// row updated with compare-and-set) and ask the table what comes next:
//
//	const (
//	    Draft    = statemachine.StringState("draft")
//	    InReview = statemachine.StringState("in_review")
//	    Submit   = statemachine.StringEvent("submit")
//	)
//
//	table := statemachine.MustNew(
//	    statemachine.WithTransition(Draft, InReview, Submit),
//	)
//
//	next, err := table.Fire(ctx, Draft, Submit, nil)
//
// # Guards and Actions
//
// Several transitions may be declared for the same (from, event) pair. Guards
// select between them; the first transition whose guards all pass wins, so
// declaration order is priority order. Actions run in order inside Fire and
// any error aborts the lookup.
//
// # Error Handling
//
//	if statemachine.IsNoTransitionAvailableError(err) { /* pair not declared */ }
//	if statemachine.IsTransitionRejectedError(err)   { /* all guards vetoed */ }
package statemachine
