package reconcile

import (
	"context"
	"slices"

	"github.com/dmitrymomot/paygate/pkg/billing"
	"github.com/dmitrymomot/paygate/pkg/statemachine"
	"github.com/dmitrymomot/paygate/svc/eligibility"
)

// decision is the guard input: the event and the account as last read.
type decision struct {
	event   *billing.Event
	account *eligibility.Account
}

func eventOf(data any) *billing.Event {
	if d, ok := data.(*decision); ok && d != nil {
		return d.event
	}
	return nil
}

func hasTrial(_ context.Context, _ statemachine.State, _ statemachine.Event, data any) bool {
	ev := eventOf(data)
	return ev != nil && ev.HasTrial()
}

func noTrial(ctx context.Context, from statemachine.State, e statemachine.Event, data any) bool {
	return !hasTrial(ctx, from, e, data)
}

func charged(_ context.Context, _ statemachine.State, _ statemachine.Event, data any) bool {
	ev := eventOf(data)
	return ev != nil && ev.Amount.IsPositive()
}

func notCharged(ctx context.Context, from statemachine.State, e statemachine.Event, data any) bool {
	return !charged(ctx, from, e, data)
}

// newSubscription admits a checkout that starts a subscription other than
// the one the account already holds.
func newSubscription(_ context.Context, _ statemachine.State, _ statemachine.Event, data any) bool {
	d, ok := data.(*decision)
	if !ok || d == nil || d.event == nil || d.account == nil {
		return false
	}
	return d.event.SubscriptionID != "" && d.event.SubscriptionID != d.account.ExternalSubscriptionID
}

func statusIn(statuses ...string) statemachine.Guard {
	return func(_ context.Context, _ statemachine.State, _ statemachine.Event, data any) bool {
		ev := eventOf(data)
		return ev != nil && slices.Contains(statuses, ev.Status)
	}
}

// statusTargets maps processor subscription statuses onto local states.
// Statuses not listed here, such as incomplete, leave the state alone.
var statusTargets = []struct {
	to       eligibility.SubscriptionState
	statuses []string
}{
	{eligibility.StateTrialing, []string{billing.StatusTrialing}},
	{eligibility.StateActive, []string{billing.StatusActive}},
	{eligibility.StatePastDue, []string{billing.StatusPastDue, billing.StatusUnpaid, billing.StatusPaused}},
	{eligibility.StateCanceled, []string{billing.StatusCanceled, billing.StatusIncompleteExpired}},
}

func syncFromStatus(from eligibility.SubscriptionState) []statemachine.Option {
	opts := make([]statemachine.Option, 0, len(statusTargets))
	for _, t := range statusTargets {
		opts = append(opts, statemachine.WithTransition(from, t.to, billing.EventSubscriptionUpdated,
			statemachine.WithGuard(statusIn(t.statuses...))))
	}
	return opts
}

// NewTransitionTable builds the subscription lifecycle. Pairs missing from
// the table are illegal and the reconciler acknowledges them without
// touching the account.
func NewTransitionTable() *statemachine.Table {
	var (
		none     = eligibility.StateNone
		trialing = eligibility.StateTrialing
		active   = eligibility.StateActive
		pastDue  = eligibility.StatePastDue
		canceled = eligibility.StateCanceled

		completed = billing.EventCheckoutCompleted
		succeeded = billing.EventInvoicePaymentSucceeded
		failed    = billing.EventInvoicePaymentFailed
		deleted   = billing.EventSubscriptionDeleted
		trialEnds = billing.EventTrialWillEnd
	)

	opts := []statemachine.Option{
		// None
		statemachine.WithTransition(none, trialing, completed, statemachine.WithGuard(hasTrial)),
		statemachine.WithTransition(none, active, completed, statemachine.WithGuard(noTrial)),
		statemachine.WithTransition(none, canceled, deleted),
		statemachine.WithSelfLoop(none, succeeded, trialEnds),

		// Trialing
		statemachine.WithTransition(trialing, active, succeeded, statemachine.WithGuard(charged)),
		statemachine.WithTransition(trialing, trialing, succeeded, statemachine.WithGuard(notCharged)),
		statemachine.WithTransition(trialing, pastDue, failed),
		statemachine.WithTransition(trialing, canceled, deleted),
		statemachine.WithSelfLoop(trialing, completed, trialEnds),

		// Active
		statemachine.WithTransition(active, pastDue, failed),
		statemachine.WithTransition(active, canceled, deleted),
		statemachine.WithSelfLoop(active, succeeded, completed, trialEnds),

		// PastDue
		statemachine.WithTransition(pastDue, active, succeeded),
		statemachine.WithTransition(pastDue, canceled, deleted),
		statemachine.WithSelfLoop(pastDue, failed, completed, trialEnds),

		// Canceled is terminal for its subscription; only a new one revives the account.
		statemachine.WithTransition(canceled, trialing, completed, statemachine.WithGuards(newSubscription, hasTrial)),
		statemachine.WithTransition(canceled, active, completed, statemachine.WithGuards(newSubscription, noTrial)),
	}
	for _, from := range []eligibility.SubscriptionState{none, trialing, active, pastDue} {
		opts = append(opts, syncFromStatus(from)...)
	}
	return statemachine.MustNew(opts...)
}
