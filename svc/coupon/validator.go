// Package coupon validates promotional codes and prices them against the
// tier catalog. Validation never mutates anything; redemption is committed
// separately through eligibility.CouponStore.CommitRedemption.
package coupon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dmitrymomot/paygate/svc/eligibility"
)

var ErrUnknownTier = errors.New("coupon: tier has no price")

// Store is the read access the validator needs.
type Store interface {
	GetCouponByCode(ctx context.Context, code string) (*eligibility.Coupon, error)
	CountCouponUsages(ctx context.Context, couponID, accountID uuid.UUID) (int, error)
	HasPaidHistory(ctx context.Context, accountID uuid.UUID) (bool, error)
}

// Result is the outcome of a validation. When Valid is false only Code and
// Reason are set.
type Result struct {
	Valid            bool
	Code             string
	Reason           Reason
	Coupon           *eligibility.Coupon
	Plan             Plan
	DiscountApplied  decimal.Decimal
	FinalPrice       decimal.Decimal
	TrialDaysGranted int
}

// CouponID returns the id of the validated coupon, or uuid.Nil.
func (r *Result) CouponID() uuid.UUID {
	if r.Coupon == nil {
		return uuid.Nil
	}
	return r.Coupon.ID
}

// Err returns a *RejectionError for invalid results and nil otherwise.
func (r *Result) Err() error {
	if r.Valid {
		return nil
	}
	return &RejectionError{Code: r.Code, Reason: r.Reason}
}

// Validator checks coupon eligibility.
type Validator interface {
	// Validate runs the eligibility rules in order and stops at the first
	// failure. A rejected coupon is reported through Result, not the error;
	// the error is reserved for store failures and unknown tiers.
	Validate(ctx context.Context, code string, accountID uuid.UUID, email string, tier eligibility.Tier) (*Result, error)
}

// Option configures the validator.
type Option func(*validator)

// WithClock overrides the clock used for validity windows.
func WithClock(now func() time.Time) Option {
	return func(v *validator) {
		if now != nil {
			v.now = now
		}
	}
}

type validator struct {
	store   Store
	catalog *Catalog
	now     func() time.Time
}

// NewValidator creates a validator. Panics if store or catalog is nil.
func NewValidator(store Store, catalog *Catalog, opts ...Option) Validator {
	if store == nil {
		panic("coupon: store is required")
	}
	if catalog == nil {
		panic("coupon: catalog is required")
	}
	v := &validator{store: store, catalog: catalog, now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func (v *validator) Validate(ctx context.Context, code string, accountID uuid.UUID, email string, tier eligibility.Tier) (*Result, error) {
	code = eligibility.NormalizeCode(code)
	plan, ok := v.catalog.Plan(tier)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTier, tier)
	}
	reject := func(reason Reason) (*Result, error) {
		return &Result{Code: code, Reason: reason}, nil
	}

	c, err := v.store.GetCouponByCode(ctx, code)
	if errors.Is(err, eligibility.ErrCouponNotFound) {
		return reject(ReasonCodeNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("coupon: load %q: %w", code, err)
	}

	now := v.now()
	switch {
	case !c.Active, c.NotYetValid(now):
		return reject(ReasonInactive)
	case c.Expired(now):
		return reject(ReasonExpired)
	case c.Exhausted():
		return reject(ReasonExhausted)
	case c.TargetTier != "" && c.TargetTier != tier:
		return reject(ReasonTierNotEligible)
	case !c.AllowsEmail(email):
		return reject(ReasonEmailNotEligible)
	case !c.AllowsDomain(email):
		return reject(ReasonDomainNotEligible)
	}

	if c.MaxUsesPerAccount > 0 && accountID != uuid.Nil {
		used, err := v.store.CountCouponUsages(ctx, c.ID, accountID)
		if err != nil {
			return nil, fmt.Errorf("coupon: count usages: %w", err)
		}
		if used >= c.MaxUsesPerAccount {
			return reject(ReasonPerAccountLimitReached)
		}
	}

	if c.FirstTimeOnly && accountID != uuid.Nil {
		paid, err := v.store.HasPaidHistory(ctx, accountID)
		if err != nil {
			return nil, fmt.Errorf("coupon: paid history: %w", err)
		}
		if paid {
			return reject(ReasonNotFirstTime)
		}
	}

	discount := Discount(c, plan.Price)
	return &Result{
		Valid:            true,
		Code:             c.Code,
		Coupon:           c,
		Plan:             plan,
		DiscountApplied:  discount,
		FinalPrice:       plan.Price.Sub(discount),
		TrialDaysGranted: max(c.BonusTrialDays, 0),
	}, nil
}
