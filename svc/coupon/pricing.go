package coupon

import (
	"github.com/shopspring/decimal"

	"github.com/dmitrymomot/paygate/svc/eligibility"
)

// PricingConfig holds the list price, processor price reference and base
// trial length of every paid tier.
type PricingConfig struct {
	Currency string `env:"PRICE_CURRENCY" envDefault:"USD"`

	ProPriceID   string          `env:"PRICE_PRO_ID" envDefault:"price_pro"`
	ProPrice     decimal.Decimal `env:"PRICE_PRO" envDefault:"3.49"`
	ProTrialDays int             `env:"TRIAL_DAYS_PRO" envDefault:"7"`

	BusinessPriceID   string          `env:"PRICE_BUSINESS_ID" envDefault:"price_business"`
	BusinessPrice     decimal.Decimal `env:"PRICE_BUSINESS" envDefault:"9.99"`
	BusinessTrialDays int             `env:"TRIAL_DAYS_BUSINESS" envDefault:"0"`
}

// DefaultPricing returns the built-in prices used when no environment overrides exist.
func DefaultPricing() PricingConfig {
	return PricingConfig{
		Currency:          "USD",
		ProPriceID:        "price_pro",
		ProPrice:          decimal.RequireFromString("3.49"),
		ProTrialDays:      7,
		BusinessPriceID:   "price_business",
		BusinessPrice:     decimal.RequireFromString("9.99"),
		BusinessTrialDays: 0,
	}
}

// Plan is the price of one paid tier.
type Plan struct {
	Tier      eligibility.Tier
	PriceID   string
	Price     decimal.Decimal
	TrialDays int
	Currency  string
}

// Catalog is an immutable tier to plan lookup.
type Catalog struct {
	plans map[eligibility.Tier]Plan
}

// NewCatalog builds a catalog from cfg.
func NewCatalog(cfg PricingConfig) *Catalog {
	return &Catalog{plans: map[eligibility.Tier]Plan{
		eligibility.TierPro: {
			Tier:      eligibility.TierPro,
			PriceID:   cfg.ProPriceID,
			Price:     cfg.ProPrice,
			TrialDays: max(cfg.ProTrialDays, 0),
			Currency:  cfg.Currency,
		},
		eligibility.TierBusiness: {
			Tier:      eligibility.TierBusiness,
			PriceID:   cfg.BusinessPriceID,
			Price:     cfg.BusinessPrice,
			TrialDays: max(cfg.BusinessTrialDays, 0),
			Currency:  cfg.Currency,
		},
	}}
}

// Plan returns the plan for tier. Free has no plan.
func (c *Catalog) Plan(tier eligibility.Tier) (Plan, bool) {
	p, ok := c.plans[tier]
	return p, ok
}

// Discount computes the amount a coupon takes off base. Percentages apply to
// base; fixed amounts are clamped to [0, base]. The result is never negative
// and never exceeds base.
func Discount(c *eligibility.Coupon, base decimal.Decimal) decimal.Decimal {
	var d decimal.Decimal
	switch c.DiscountType {
	case eligibility.DiscountPercentage:
		d = base.Mul(c.DiscountValue).Div(decimal.NewFromInt(100))
	case eligibility.DiscountFixed:
		d = c.DiscountValue
	}
	if d.IsNegative() {
		return decimal.Zero
	}
	if d.GreaterThan(base) {
		return base
	}
	return d
}
