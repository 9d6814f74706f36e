// Package access answers whether an account may use paid features right now.
package access

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/paygate/svc/eligibility"
	"github.com/dmitrymomot/paygate/svc/whitelist"
)

var ErrNotEntitled = errors.New("access: account is not entitled to paid features")

// Config controls how long a past-due account keeps access.
// Zero grace revokes access as soon as a payment fails.
type Config struct {
	GracePeriod time.Duration `env:"GRACE_PERIOD" envDefault:"0s"`
}

// Reasons reported in Entitlement.Reason.
const (
	ReasonWhitelisted    = "whitelisted"
	ReasonTrialing       = "trialing"
	ReasonActive         = "active"
	ReasonGrace          = "past_due_grace"
	ReasonPastDue        = "past_due"
	ReasonCanceled       = "canceled"
	ReasonNoSubscription = "no_subscription"
)

// Entitlement is the resolved access of one account.
type Entitlement struct {
	AccountID   uuid.UUID
	Granted     bool
	Tier        eligibility.Tier
	State       eligibility.SubscriptionState
	Whitelisted bool
	Reason      string
	GraceUntil  *time.Time
}

// AccountReader is the store access the resolver needs.
type AccountReader interface {
	GetAccount(ctx context.Context, id uuid.UUID) (*eligibility.Account, error)
}

// Resolver resolves entitlements.
type Resolver interface {
	Resolve(ctx context.Context, accountID uuid.UUID) (*Entitlement, error)
	// Require returns ErrNotEntitled unless the account currently has access.
	Require(ctx context.Context, accountID uuid.UUID) (*Entitlement, error)
}

type Option func(*resolver)

func WithConfig(cfg Config) Option {
	return func(r *resolver) {
		if cfg.GracePeriod > 0 {
			r.grace = cfg.GracePeriod
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *resolver) {
		if now != nil {
			r.now = now
		}
	}
}

type resolver struct {
	accounts  AccountReader
	whitelist whitelist.Resolver
	grace     time.Duration
	now       func() time.Time
}

// NewResolver panics if accounts or allowList is nil. A whitelisted account
// keeps its free access only while allowList still resolves its email.
func NewResolver(accounts AccountReader, allowList whitelist.Resolver, opts ...Option) Resolver {
	if accounts == nil {
		panic("access: account reader is required")
	}
	if allowList == nil {
		panic("access: whitelist resolver is required")
	}
	r := &resolver{accounts: accounts, whitelist: allowList, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *resolver) Resolve(ctx context.Context, accountID uuid.UUID) (*Entitlement, error) {
	acc, err := r.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	whitelisted, err := r.stillWhitelisted(ctx, acc)
	if err != nil {
		return nil, err
	}
	return r.evaluate(acc, whitelisted), nil
}

// stillWhitelisted re-checks the allow-list for accounts that were granted
// through it. Deactivated and expired entries revoke the grant.
func (r *resolver) stillWhitelisted(ctx context.Context, acc *eligibility.Account) (bool, error) {
	if !acc.Whitelisted || !acc.SubscriptionActive {
		return false, nil
	}
	_, err := r.whitelist.Resolve(ctx, acc.Email)
	switch {
	case errors.Is(err, whitelist.ErrNotWhitelisted):
		return false, nil
	case err != nil:
		return false, err
	}
	return true, nil
}

func (r *resolver) Require(ctx context.Context, accountID uuid.UUID) (*Entitlement, error) {
	e, err := r.Resolve(ctx, accountID)
	if errors.Is(err, eligibility.ErrAccountNotFound) {
		return nil, eligibility.Mark(eligibility.KindValidation, ErrNotEntitled)
	}
	if err != nil {
		return nil, err
	}
	if !e.Granted {
		return e, eligibility.Mark(eligibility.KindValidation, ErrNotEntitled)
	}
	return e, nil
}

func (r *resolver) evaluate(acc *eligibility.Account, whitelisted bool) *Entitlement {
	e := &Entitlement{
		AccountID:   acc.ID,
		Tier:        acc.Tier,
		State:       acc.SubscriptionState,
		Whitelisted: whitelisted,
	}
	if whitelisted {
		e.Granted, e.Reason = true, ReasonWhitelisted
		return e
	}

	switch acc.SubscriptionState {
	case eligibility.StateTrialing:
		e.Granted, e.Reason = true, ReasonTrialing
	case eligibility.StateActive:
		e.Granted, e.Reason = true, ReasonActive
	case eligibility.StatePastDue:
		e.Reason = ReasonPastDue
		if r.grace <= 0 {
			break
		}
		anchor := acc.UpdatedAt
		if acc.PeriodEnd != nil {
			anchor = *acc.PeriodEnd
		}
		until := anchor.Add(r.grace)
		e.GraceUntil = &until
		if r.now().Before(until) {
			e.Granted, e.Reason = true, ReasonGrace
		}
	case eligibility.StateCanceled:
		e.Reason = ReasonCanceled
	default:
		e.Reason = ReasonNoSubscription
	}
	if !acc.Tier.Paid() {
		e.Granted = false
	}
	return e
}
