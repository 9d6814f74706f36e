package eligibility

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Tier is the subscription tier an account is entitled to.
type Tier string

const (
	TierFree     Tier = "free"
	TierPro      Tier = "pro"
	TierBusiness Tier = "business"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	switch t {
	case TierFree, TierPro, TierBusiness:
		return true
	}
	return false
}

// Paid reports whether t requires a purchase.
func (t Tier) Paid() bool {
	return t == TierPro || t == TierBusiness
}

func (t Tier) rank() int {
	switch t {
	case TierPro:
		return 1
	case TierBusiness:
		return 2
	}
	return 0
}

// MaxTier returns the higher of a and b.
func MaxTier(a, b Tier) Tier {
	if b.rank() > a.rank() {
		return b
	}
	return a
}

// SubscriptionState is the payment-driven lifecycle state of an account.
type SubscriptionState string

const (
	StateNone     SubscriptionState = "none"
	StateTrialing SubscriptionState = "trialing"
	StateActive   SubscriptionState = "active"
	StatePastDue  SubscriptionState = "past_due"
	StateCanceled SubscriptionState = "canceled"
)

// Name implements statemachine.State.
func (s SubscriptionState) Name() string {
	return string(s)
}

// Valid reports whether s is a known state.
func (s SubscriptionState) Valid() bool {
	switch s {
	case StateNone, StateTrialing, StateActive, StatePastDue, StateCanceled:
		return true
	}
	return false
}

// Paying reports whether the state keeps a paid subscription alive.
// PastDue keeps access until the grace period decision is made by the caller.
func (s SubscriptionState) Paying() bool {
	return s == StateTrialing || s == StateActive || s == StatePastDue
}

// Account is the identity anchor every entitlement decision hangs off.
// Accounts are never deleted, only deactivated.
type Account struct {
	ID                     uuid.UUID
	Email                  string
	Phone                  string
	Tier                   Tier
	Whitelisted            bool
	WhitelistReason        string
	ExternalCustomerID     string
	ExternalSubscriptionID string
	SubscriptionActive     bool
	SubscriptionState      SubscriptionState
	PeriodStart            *time.Time
	PeriodEnd              *time.Time
	TrialEnd               *time.Time
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// Consistent reports whether the account satisfies the entitlement invariant:
// an active subscription requires a paid tier or a whitelist grant.
func (a *Account) Consistent() bool {
	if !a.SubscriptionActive {
		return true
	}
	return a.Tier != TierFree || a.Whitelisted
}

// SubscriptionUpdate carries the fields a payment-driven transition writes.
// Empty strings and nil times leave the stored value unchanged.
type SubscriptionUpdate struct {
	State          SubscriptionState
	Tier           Tier
	SubscriptionID string
	CustomerID     string
	Active         bool
	PeriodStart    *time.Time
	PeriodEnd      *time.Time
	TrialEnd       *time.Time
}

// Apply writes u onto a copy of a and returns it.
func (u SubscriptionUpdate) Apply(a Account, now time.Time) Account {
	a.SubscriptionState = u.State
	a.SubscriptionActive = u.Active
	if u.Tier != "" {
		a.Tier = u.Tier
	}
	if u.SubscriptionID != "" {
		a.ExternalSubscriptionID = u.SubscriptionID
	}
	if u.CustomerID != "" {
		a.ExternalCustomerID = u.CustomerID
	}
	if u.PeriodStart != nil {
		a.PeriodStart = u.PeriodStart
	}
	if u.PeriodEnd != nil {
		a.PeriodEnd = u.PeriodEnd
	}
	if u.TrialEnd != nil {
		a.TrialEnd = u.TrialEnd
	}
	a.UpdatedAt = now
	return a
}

// NormalizeEmail lower-cases and trims an email so lookups are case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// EmailDomain returns the normalized domain part of an email, or "" if malformed.
func EmailDomain(email string) string {
	email = NormalizeEmail(email)
	at := strings.LastIndexByte(email, '@')
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return email[at+1:]
}
