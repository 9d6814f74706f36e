// Package whitelist resolves developer and tester emails to free-access grants.
package whitelist

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrymomot/paygate/svc/eligibility"
)

var ErrNotWhitelisted = errors.New("whitelist: email is not whitelisted")

// Grant describes the access a whitelist entry confers.
type Grant struct {
	Email       string
	Role        string
	AccessLevel eligibility.AccessLevel
	ExpiresAt   *time.Time
	Permissions eligibility.Permissions
	Reason      string
}

// Tier returns the tier granted for a checkout that requested tier.
// Full access honours the request; restricted levels grant their own tier.
func (g Grant) Tier(requested eligibility.Tier) eligibility.Tier {
	if g.AccessLevel == eligibility.AccessFull && requested.Paid() {
		return requested
	}
	return g.AccessLevel.Tier()
}

// Resolver answers whether an email is whitelisted.
type Resolver interface {
	// Resolve returns ErrNotWhitelisted when the email has no effective entry.
	// Store failures are returned wrapped with eligibility.ErrStoreUnavailable
	// and are safe to retry.
	Resolve(ctx context.Context, email string) (*Grant, error)
}

// Option configures the resolver.
type Option func(*resolver)

// WithClock overrides the clock used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(r *resolver) {
		if now != nil {
			r.now = now
		}
	}
}

type resolver struct {
	store eligibility.WhitelistStore
	now   func() time.Time
}

// NewResolver creates a resolver over store. Panics if store is nil.
func NewResolver(store eligibility.WhitelistStore, opts ...Option) Resolver {
	if store == nil {
		panic("whitelist: store is required")
	}
	r := &resolver{store: store, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *resolver) Resolve(ctx context.Context, email string) (*Grant, error) {
	email = eligibility.NormalizeEmail(email)
	if email == "" {
		return nil, ErrNotWhitelisted
	}

	entry, err := r.store.GetWhitelistEntry(ctx, email)
	if errors.Is(err, eligibility.ErrWhitelistEntryNotFound) {
		return nil, ErrNotWhitelisted
	}
	if err != nil {
		if errors.Is(err, eligibility.ErrStoreUnavailable) {
			return nil, err
		}
		return nil, errors.Join(eligibility.ErrStoreUnavailable, err)
	}

	// Inactive and expired entries are indistinguishable from absent ones.
	if !entry.Effective(r.now()) {
		return nil, ErrNotWhitelisted
	}

	return &Grant{
		Email:       entry.Email,
		Role:        entry.Role,
		AccessLevel: entry.AccessLevel,
		ExpiresAt:   entry.ExpiresAt,
		Permissions: entry.Permissions,
		Reason:      entry.Reason,
	}, nil
}
