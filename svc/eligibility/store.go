package eligibility

import (
	"context"

	"github.com/google/uuid"
)

// Store is the single source of truth for accounts, coupons, redemptions and
// the allow-list. It carries no business rules; every mutable counter lives
// behind one atomic primitive so callers never read-modify-write.
type Store interface {
	AccountStore
	CouponStore
	WhitelistStore
}

// AccountStore persists accounts.
type AccountStore interface {
	// GetAccount returns ErrAccountNotFound if the account does not exist.
	GetAccount(ctx context.Context, id uuid.UUID) (*Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*Account, error)
	GetAccountBySubscriptionID(ctx context.Context, subscriptionID string) (*Account, error)
	GetAccountByCustomerID(ctx context.Context, customerID string) (*Account, error)

	// EnsureAccount creates a free account if none exists with this id and
	// returns the stored record. The email and phone of an existing account are
	// filled in only when empty.
	EnsureAccount(ctx context.Context, id uuid.UUID, email, phone string) (*Account, error)

	// SetCustomerID records the processor customer id if the account has none yet
	// and returns the id that is stored afterwards.
	SetCustomerID(ctx context.Context, id uuid.UUID, customerID string) (string, error)

	// GrantWhitelist activates the account at tier without any payment.
	GrantWhitelist(ctx context.Context, id uuid.UUID, tier Tier, reason string) (*Account, error)

	// TransitionSubscription applies update only if the stored state still equals
	// expected. Returns ErrStateConflict otherwise.
	TransitionSubscription(ctx context.Context, id uuid.UUID, expected SubscriptionState, update SubscriptionUpdate) (*Account, error)

	// HasPaidHistory reports whether the account ever held a processor subscription.
	HasPaidHistory(ctx context.Context, id uuid.UUID) (bool, error)

	// CountActiveSubscribers counts accounts holding a live paid subscription.
	CountActiveSubscribers(ctx context.Context) (int64, error)
}

// CouponStore persists coupons and their redemption rows.
type CouponStore interface {
	// GetCouponByCode returns ErrCouponNotFound if no coupon has this code.
	GetCouponByCode(ctx context.Context, code string) (*Coupon, error)
	SaveCoupon(ctx context.Context, coupon *Coupon) error
	CountCouponUsages(ctx context.Context, couponID, accountID uuid.UUID) (int, error)

	// CommitRedemption atomically increments the coupon counter if it is still
	// below MaxUses and the account is still below perAccountLimit (0 disables
	// the check), then inserts usage. Returns ErrCouponExhausted or
	// ErrPerAccountLimit when the race is lost; nothing is written in that case.
	CommitRedemption(ctx context.Context, usage CouponUsage, perAccountLimit int) (*Coupon, error)
}

// WhitelistStore persists the allow-list.
type WhitelistStore interface {
	// GetWhitelistEntry returns ErrWhitelistEntryNotFound if the email is not listed.
	GetWhitelistEntry(ctx context.Context, email string) (*WhitelistEntry, error)
	SaveWhitelistEntry(ctx context.Context, entry *WhitelistEntry) error
	DeactivateWhitelistEntry(ctx context.Context, email string) error
}
