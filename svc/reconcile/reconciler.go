// Package reconcile applies payment-processor webhooks to account state.
//
// Every delivery is verified, de-duplicated by event id and then resolved
// against an explicit transition table. State writes are compare-and-set, so
// concurrent or out-of-order deliveries for one account never overwrite a
// newer state with an older one.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/paygate/pkg/billing"
	"github.com/dmitrymomot/paygate/pkg/logger"
	"github.com/dmitrymomot/paygate/pkg/statemachine"
	"github.com/dmitrymomot/paygate/svc/eligibility"
	"github.com/dmitrymomot/paygate/svc/ledger"
	"github.com/dmitrymomot/paygate/svc/notify"
)

// Config tunes de-duplication and conflict handling.
type Config struct {
	EventClaimTTL  time.Duration `env:"EVENT_CLAIM_TTL" envDefault:"5m"`
	EventRetention time.Duration `env:"EVENT_RETENTION" envDefault:"720h"`
	MaxAttempts    int           `env:"RECONCILE_MAX_ATTEMPTS" envDefault:"3"`
}

// Reasons an event was acknowledged without a state change.
const (
	IgnoredUnknownType     = "unknown_event_type"
	IgnoredAccountNotFound = "account_not_found"
	IgnoredStale           = "stale_subscription"
	IgnoredNoTransition    = "no_transition"
	IgnoredMissingTier     = "missing_tier"
)

var ErrTooManyConflicts = errors.New("reconcile: account kept changing during processing")

// Result describes what one delivery did.
type Result struct {
	EventID       string
	EventType     billing.EventType
	ProviderEvent string
	Duplicate     bool
	Ignored       bool
	Reason        string
	AccountID     uuid.UUID
	From          eligibility.SubscriptionState
	To            eligibility.SubscriptionState
}

// Reconciler processes webhook deliveries.
type Reconciler interface {
	// Process verifies and applies one delivery. A nil error means the
	// processor may be told the event was handled; duplicates and ignored
	// events are not errors.
	Process(ctx context.Context, payload []byte, signature string) (*Result, error)
}

type Option func(*reconciler)

func WithConfig(cfg Config) Option {
	return func(r *reconciler) {
		if cfg.MaxAttempts > 0 {
			r.maxAttempts = cfg.MaxAttempts
		}
	}
}

func WithLedger(l ledger.Ledger) Option {
	return func(r *reconciler) { r.ledger = l }
}

func WithNotifier(n notify.Notifier) Option {
	return func(r *reconciler) { r.notifier = n }
}

func WithLogger(log *slog.Logger) Option {
	return func(r *reconciler) {
		if log != nil {
			r.log = log
		}
	}
}

type reconciler struct {
	provider    billing.Provider
	accounts    eligibility.AccountStore
	events      EventLog
	table       *statemachine.Table
	ledger      ledger.Ledger
	notifier    notify.Notifier
	log         *slog.Logger
	maxAttempts int
}

// New creates a reconciler. Panics if a required dependency is nil.
func New(provider billing.Provider, accounts eligibility.AccountStore, events EventLog, opts ...Option) Reconciler {
	switch {
	case provider == nil:
		panic("reconcile: billing provider is required")
	case accounts == nil:
		panic("reconcile: account store is required")
	case events == nil:
		panic("reconcile: event log is required")
	}
	r := &reconciler{
		provider:    provider,
		accounts:    accounts,
		events:      events,
		table:       NewTransitionTable(),
		log:         slog.Default(),
		maxAttempts: 3,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.With(logger.Component("reconcile"), logger.Provider(provider.Name()))
	return r
}

func (r *reconciler) Process(ctx context.Context, payload []byte, signature string) (*Result, error) {
	start := time.Now()

	ev, err := r.provider.ParseWebhook(ctx, payload, signature)
	if err != nil {
		if errors.Is(err, billing.ErrInvalidSignature) {
			WebhookEventsTotal.WithLabelValues("", OutcomeInvalidSignature).Inc()
			r.log.WarnContext(ctx, "webhook signature rejected", logger.Error(err))
			return nil, eligibility.Mark(eligibility.KindAuthenticity, err)
		}
		WebhookEventsTotal.WithLabelValues("", OutcomeInvalidPayload).Inc()
		r.log.WarnContext(ctx, "webhook payload rejected", logger.Error(err))
		return nil, eligibility.Mark(eligibility.KindValidation, err)
	}

	eventType := string(ev.Type)
	defer func() {
		WebhookDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
	}()

	log := r.log.With(logger.EventID(ev.ID), logger.EventType(ev.ProviderEvent))
	ctx = logger.ContextWith(ctx, logger.EventID(ev.ID))

	claimed, err := r.events.Claim(ctx, ev.ID, ev.ProviderEvent)
	if err != nil {
		WebhookEventsTotal.WithLabelValues(eventType, OutcomeFailed).Inc()
		log.ErrorContext(ctx, "event claim failed", logger.Error(err))
		return nil, storeFailure(err)
	}
	if !claimed {
		WebhookEventsTotal.WithLabelValues(eventType, OutcomeDuplicate).Inc()
		log.DebugContext(ctx, "duplicate webhook delivery")
		return &Result{EventID: ev.ID, EventType: ev.Type, ProviderEvent: ev.ProviderEvent, Duplicate: true}, nil
	}

	res, err := r.dispatch(ctx, log, ev)
	if err != nil {
		WebhookEventsTotal.WithLabelValues(eventType, OutcomeFailed).Inc()
		log.ErrorContext(ctx, "webhook processing failed", logger.Error(err))
		if rerr := r.events.Release(ctx, ev.ID); rerr != nil {
			log.ErrorContext(ctx, "event claim release failed", logger.Error(rerr))
		}
		return nil, err
	}

	if err := r.events.Complete(ctx, ev.ID); err != nil {
		// The work is applied; a redelivery after the claim expires replays idempotently.
		log.ErrorContext(ctx, "event completion not recorded", logger.Error(err))
	}

	outcome := OutcomeProcessed
	if res.Ignored {
		outcome = OutcomeIgnored
	}
	WebhookEventsTotal.WithLabelValues(eventType, outcome).Inc()
	log.InfoContext(ctx, "webhook processed",
		logger.AccountID(res.AccountID),
		slog.String("from", string(res.From)),
		slog.String("to", string(res.To)),
		slog.Bool("ignored", res.Ignored),
		slog.String("reason", res.Reason),
		logger.Duration(time.Since(start)))
	return res, nil
}

func (r *reconciler) dispatch(ctx context.Context, log *slog.Logger, ev *billing.Event) (*Result, error) {
	res := &Result{EventID: ev.ID, EventType: ev.Type, ProviderEvent: ev.ProviderEvent}
	if ev.Type == billing.EventUnknown {
		res.Ignored, res.Reason = true, IgnoredUnknownType
		return res, nil
	}

	acc, err := r.findAccount(ctx, ev)
	if err != nil {
		return nil, err
	}

	for attempt := 1; ; attempt++ {
		err = r.apply(ctx, ev, acc, res)
		if !errors.Is(err, eligibility.ErrStateConflict) {
			break
		}
		if attempt >= r.maxAttempts {
			return nil, eligibility.Mark(eligibility.KindConflict, errors.Join(ErrTooManyConflicts, err))
		}
		log.DebugContext(ctx, "state changed concurrently, re-evaluating", logger.Attempt(attempt))
		if acc, err = r.accounts.GetAccount(ctx, acc.ID); err != nil {
			return nil, storeFailure(err)
		}
	}
	if err != nil {
		return nil, err
	}

	if ev.Type == billing.EventInvoicePaymentSucceeded && ev.Amount.IsPositive() {
		if err := r.recordPayment(ctx, ev, res.AccountID); err != nil {
			return nil, err
		}
	}
	if ev.Type == billing.EventTrialWillEnd && acc != nil && !res.Ignored {
		r.notifyTrialEnding(ctx, log, ev, acc)
	}
	return res, nil
}

// findAccount resolves the account from metadata, then the subscription id,
// then the customer id. A nil account with a nil error means none matched.
func (r *reconciler) findAccount(ctx context.Context, ev *billing.Event) (*eligibility.Account, error) {
	lookups := make([]func() (*eligibility.Account, error), 0, 3)
	if id, err := uuid.Parse(ev.AccountID); err == nil {
		lookups = append(lookups, func() (*eligibility.Account, error) { return r.accounts.GetAccount(ctx, id) })
	}
	if ev.SubscriptionID != "" {
		lookups = append(lookups, func() (*eligibility.Account, error) {
			return r.accounts.GetAccountBySubscriptionID(ctx, ev.SubscriptionID)
		})
	}
	if ev.CustomerID != "" {
		lookups = append(lookups, func() (*eligibility.Account, error) {
			return r.accounts.GetAccountByCustomerID(ctx, ev.CustomerID)
		})
	}

	for _, lookup := range lookups {
		acc, err := lookup()
		if err == nil {
			return acc, nil
		}
		if !errors.Is(err, eligibility.ErrAccountNotFound) {
			return nil, storeFailure(err)
		}
	}
	return nil, nil
}

// stale reports events about a subscription the account no longer holds.
// A checkout for a new subscription on a canceled account is not stale.
func stale(acc *eligibility.Account, ev *billing.Event) bool {
	if ev.SubscriptionID == "" || acc.ExternalSubscriptionID == "" || ev.SubscriptionID == acc.ExternalSubscriptionID {
		return false
	}
	return acc.SubscriptionState != eligibility.StateCanceled || ev.Type != billing.EventCheckoutCompleted
}

func (r *reconciler) apply(ctx context.Context, ev *billing.Event, acc *eligibility.Account, res *Result) error {
	res.Ignored, res.Reason = false, ""
	if acc == nil {
		res.Ignored, res.Reason = true, IgnoredAccountNotFound
		return nil
	}
	res.AccountID = acc.ID
	res.From, res.To = acc.SubscriptionState, acc.SubscriptionState

	if stale(acc, ev) {
		res.Ignored, res.Reason = true, IgnoredStale
		return nil
	}

	tr, err := r.table.Resolve(ctx, acc.SubscriptionState, ev.Type, &decision{event: ev, account: acc})
	if statemachine.IsNoTransitionAvailableError(err) || statemachine.IsTransitionRejectedError(err) {
		res.Ignored, res.Reason = true, IgnoredNoTransition
		return nil
	}
	if err != nil {
		return err
	}
	to := tr.To.(eligibility.SubscriptionState)
	res.To = to

	if !writes(acc.SubscriptionState, to, ev.Type) {
		return nil
	}

	update, ok := buildUpdate(acc, ev, to)
	if !ok {
		res.Ignored, res.Reason, res.To = true, IgnoredMissingTier, acc.SubscriptionState
		return nil
	}
	if _, err := r.accounts.TransitionSubscription(ctx, acc.ID, acc.SubscriptionState, update); err != nil {
		if errors.Is(err, eligibility.ErrStateConflict) {
			return err
		}
		return storeFailure(err)
	}
	return nil
}

// writes reports whether a resolved transition changes anything stored.
// Notifications and payments on an account without a subscription only
// trigger side effects.
func writes(from, to eligibility.SubscriptionState, t billing.EventType) bool {
	if t == billing.EventTrialWillEnd {
		return false
	}
	return from != eligibility.StateNone || to != eligibility.StateNone
}

// buildUpdate derives the stored fields for the target state. It reports
// false when a paying state would be entered without a paid tier.
func buildUpdate(acc *eligibility.Account, ev *billing.Event, to eligibility.SubscriptionState) (eligibility.SubscriptionUpdate, bool) {
	u := eligibility.SubscriptionUpdate{
		State:       to,
		CustomerID:  ev.CustomerID,
		PeriodStart: ev.PeriodStart,
		PeriodEnd:   ev.PeriodEnd,
		TrialEnd:    ev.TrialEnd,
	}
	switch ev.Type {
	case billing.EventCheckoutCompleted, billing.EventSubscriptionUpdated, billing.EventSubscriptionDeleted:
		u.SubscriptionID = ev.SubscriptionID
	}
	if tier := eligibility.Tier(ev.Tier); tier.Paid() {
		u.Tier = tier
	}

	if to == eligibility.StateCanceled {
		u.Active = acc.Whitelisted
		if !acc.Whitelisted {
			u.Tier = eligibility.TierFree
		}
		return u, true
	}

	u.Active = to.Paying()
	tier := acc.Tier
	if u.Tier != "" {
		tier = u.Tier
	}
	if u.Active && !tier.Paid() && !acc.Whitelisted {
		return u, false
	}
	return u, true
}

func (r *reconciler) recordPayment(ctx context.Context, ev *billing.Event, accountID uuid.UUID) error {
	if r.ledger == nil {
		return nil
	}
	_, err := r.ledger.RecordPayment(ctx, ledger.Payment{
		EventID:        ev.ID,
		AccountID:      accountID,
		SubscriptionID: ev.SubscriptionID,
		Amount:         ev.Amount,
		Currency:       ev.Currency,
	})
	if err == nil || errors.Is(err, ledger.ErrDuplicateEntry) {
		return nil
	}
	return storeFailure(err)
}

func (r *reconciler) notifyTrialEnding(ctx context.Context, log *slog.Logger, ev *billing.Event, acc *eligibility.Account) {
	if r.notifier == nil {
		return
	}
	trialEnd := ev.TrialEnd
	if trialEnd == nil {
		trialEnd = acc.TrialEnd
	}
	err := r.notifier.TrialEnding(ctx, notify.TrialEnding{
		AccountID: acc.ID,
		Email:     acc.Email,
		Tier:      acc.Tier,
		TrialEnd:  trialEnd,
	})
	if err != nil {
		log.WarnContext(ctx, "trial ending notification failed", logger.AccountID(acc.ID), logger.Error(err))
	}
}

func storeFailure(err error) error {
	if eligibility.KindOf(err) == eligibility.KindInternal {
		err = errors.Join(eligibility.ErrStoreUnavailable, err)
	}
	return err
}
