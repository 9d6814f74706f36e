package eligibility

import (
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DiscountType selects how Coupon.DiscountValue is interpreted.
type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

// Coupon is a promotion definition managed by administrators.
// CurrentUses is only ever changed through Store.CommitRedemption.
type Coupon struct {
	ID                uuid.UUID
	Code              string
	Active            bool
	DiscountType      DiscountType
	DiscountValue     decimal.Decimal
	BonusTrialDays    int
	TargetTier        Tier // empty means any paid tier
	ValidFrom         *time.Time
	ValidUntil        *time.Time
	MaxUses           int // 0 means unlimited
	MaxUsesPerAccount int // 0 means unlimited
	FirstTimeOnly     bool
	AllowedEmails     []string
	AllowedDomains    []string
	CurrentUses       int
	ExternalCouponID  string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Exhausted reports whether the global usage cap has been reached.
func (c *Coupon) Exhausted() bool {
	return c.MaxUses > 0 && c.CurrentUses >= c.MaxUses
}

// NotYetValid reports whether now is before ValidFrom.
func (c *Coupon) NotYetValid(now time.Time) bool {
	return c.ValidFrom != nil && now.Before(*c.ValidFrom)
}

// Expired reports whether now is after ValidUntil. The bound is inclusive.
func (c *Coupon) Expired(now time.Time) bool {
	return c.ValidUntil != nil && now.After(*c.ValidUntil)
}

// AllowsEmail reports whether the allow-list admits email. An empty list admits everyone.
func (c *Coupon) AllowsEmail(email string) bool {
	if len(c.AllowedEmails) == 0 {
		return true
	}
	return slices.Contains(c.AllowedEmails, NormalizeEmail(email))
}

// AllowsDomain reports whether the domain allow-list admits email.
func (c *Coupon) AllowsDomain(email string) bool {
	if len(c.AllowedDomains) == 0 {
		return true
	}
	domain := EmailDomain(email)
	return domain != "" && slices.Contains(c.AllowedDomains, domain)
}

// Normalize canonicalizes the code and allow-lists in place.
func (c *Coupon) Normalize() {
	c.Code = NormalizeCode(c.Code)
	for i, e := range c.AllowedEmails {
		c.AllowedEmails[i] = NormalizeEmail(e)
	}
	for i, d := range c.AllowedDomains {
		c.AllowedDomains[i] = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(d), "@"))
	}
}

// NormalizeCode upper-cases and trims a coupon code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// UsageStatus is the status of a redemption row.
type UsageStatus string

const UsageApplied UsageStatus = "applied"

// CouponUsage is the immutable audit row written once per successful redemption.
type CouponUsage struct {
	ID               uuid.UUID
	CouponID         uuid.UUID
	CouponCode       string
	AccountID        uuid.UUID
	Email            string
	DiscountApplied  decimal.Decimal
	TrialDaysGranted int
	SessionID        string
	Status           UsageStatus
	CreatedAt        time.Time
}
