package billing

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dmitrymomot/paygate/pkg/httpx"
	"github.com/dmitrymomot/paygate/pkg/logger"
	"github.com/dmitrymomot/paygate/pkg/validator"
	"github.com/dmitrymomot/paygate/svc/eligibility"
)

type couponRequest struct {
	Active            bool            `json:"active"`
	DiscountType      string          `json:"discount_type"`
	DiscountValue     decimal.Decimal `json:"discount_value"`
	BonusTrialDays    int             `json:"bonus_trial_days"`
	TargetTier        string          `json:"target_tier"`
	ValidFrom         *time.Time      `json:"valid_from"`
	ValidUntil        *time.Time      `json:"valid_until"`
	MaxUses           int             `json:"max_uses"`
	MaxUsesPerAccount int             `json:"max_uses_per_account"`
	FirstTimeOnly     bool            `json:"first_time_only"`
	AllowedEmails     []string        `json:"allowed_emails"`
	AllowedDomains    []string        `json:"allowed_domains"`
	ExternalCouponID  string          `json:"external_coupon_id"`
}

var hundred = decimal.NewFromInt(100)

func (c couponRequest) validate(code string) error {
	percentage := c.DiscountType == string(eligibility.DiscountPercentage)
	return validator.Apply(
		validator.ValidCode("code", code),
		validator.OneOf("discount_type", eligibility.DiscountType(c.DiscountType),
			[]eligibility.DiscountType{eligibility.DiscountPercentage, eligibility.DiscountFixed}),
		validator.When(percentage, validator.DecimalRange("discount_value", c.DiscountValue, decimal.Zero, hundred)),
		validator.When(!percentage, validator.PositiveDecimal("discount_value", c.DiscountValue)),
		validator.MinNum("bonus_trial_days", c.BonusTrialDays, 0),
		validator.MaxNum("bonus_trial_days", c.BonusTrialDays, 365),
		validator.When(c.TargetTier != "", validator.OneOf("target_tier", eligibility.Tier(c.TargetTier),
			[]eligibility.Tier{eligibility.TierPro, eligibility.TierBusiness})),
		validator.DateOrder("valid_from", c.ValidFrom, c.ValidUntil),
		validator.MinNum("max_uses", c.MaxUses, 0),
		validator.MinNum("max_uses_per_account", c.MaxUsesPerAccount, 0),
	)
}

type couponResponse struct {
	ID uuid.UUID `json:"id"`
	couponRequest
	Code        string    `json:"code"`
	CurrentUses int       `json:"current_uses"`
	UpdatedAt   time.Time `json:"updated_at,omitzero"`
}

func toCouponResponse(c *eligibility.Coupon) couponResponse {
	return couponResponse{
		ID:   c.ID,
		Code: c.Code,
		couponRequest: couponRequest{
			Active:            c.Active,
			DiscountType:      string(c.DiscountType),
			DiscountValue:     c.DiscountValue,
			BonusTrialDays:    c.BonusTrialDays,
			TargetTier:        string(c.TargetTier),
			ValidFrom:         c.ValidFrom,
			ValidUntil:        c.ValidUntil,
			MaxUses:           c.MaxUses,
			MaxUsesPerAccount: c.MaxUsesPerAccount,
			FirstTimeOnly:     c.FirstTimeOnly,
			AllowedEmails:     c.AllowedEmails,
			AllowedDomains:    c.AllowedDomains,
			ExternalCouponID:  c.ExternalCouponID,
		},
		CurrentUses: c.CurrentUses,
		UpdatedAt:   c.UpdatedAt,
	}
}

func (h *handlers) getCoupon(w http.ResponseWriter, r *http.Request) {
	c, err := h.opts.Coupons.GetCouponByCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		httpx.Error(w, httpError(err))
		return
	}
	httpx.JSON(w, http.StatusOK, toCouponResponse(c), nil)
}

// putCoupon creates or replaces a coupon definition. The usage counter is
// never taken from the request.
func (h *handlers) putCoupon(w http.ResponseWriter, r *http.Request) {
	code := eligibility.NormalizeCode(chi.URLParam(r, "code"))
	var in couponRequest
	if err := httpx.DecodeJSON(r, &in, maxJSONBody); err != nil {
		httpx.Error(w, err)
		return
	}
	if err := in.validate(code); err != nil {
		httpx.Error(w, err)
		return
	}

	c := &eligibility.Coupon{
		Code:              code,
		Active:            in.Active,
		DiscountType:      eligibility.DiscountType(in.DiscountType),
		DiscountValue:     in.DiscountValue,
		BonusTrialDays:    in.BonusTrialDays,
		TargetTier:        eligibility.Tier(in.TargetTier),
		ValidFrom:         in.ValidFrom,
		ValidUntil:        in.ValidUntil,
		MaxUses:           in.MaxUses,
		MaxUsesPerAccount: in.MaxUsesPerAccount,
		FirstTimeOnly:     in.FirstTimeOnly,
		AllowedEmails:     in.AllowedEmails,
		AllowedDomains:    in.AllowedDomains,
		ExternalCouponID:  in.ExternalCouponID,
	}
	if err := h.opts.Coupons.SaveCoupon(r.Context(), c); err != nil {
		httpx.Error(w, httpError(err))
		return
	}
	h.log.InfoContext(r.Context(), "coupon saved", logger.CouponCode(c.Code), slog.Int("current_uses", c.CurrentUses))

	saved, err := h.opts.Coupons.GetCouponByCode(r.Context(), code)
	if err != nil {
		httpx.Error(w, httpError(err))
		return
	}
	httpx.JSON(w, http.StatusOK, toCouponResponse(saved), nil)
}

type permissions struct {
	AdminPanel      bool `json:"admin_panel"`
	CreateCoupons   bool `json:"create_coupons"`
	ManageWhitelist bool `json:"manage_whitelist"`
	BypassLimits    bool `json:"bypass_limits"`
}

type whitelistRequest struct {
	Role        string      `json:"role"`
	AccessLevel string      `json:"access_level"`
	Active      bool        `json:"active"`
	ExpiresAt   *time.Time  `json:"expires_at"`
	Permissions permissions `json:"permissions"`
	Reason      string      `json:"reason"`
}

type whitelistResponse struct {
	Email string `json:"email"`
	whitelistRequest
	UpdatedAt time.Time `json:"updated_at,omitzero"`
}

func toWhitelistResponse(e *eligibility.WhitelistEntry) whitelistResponse {
	return whitelistResponse{
		Email: e.Email,
		whitelistRequest: whitelistRequest{
			Role:        e.Role,
			AccessLevel: string(e.AccessLevel),
			Active:      e.Active,
			ExpiresAt:   e.ExpiresAt,
			Permissions: permissions(e.Permissions),
			Reason:      e.Reason,
		},
		UpdatedAt: e.UpdatedAt,
	}
}

func (h *handlers) getWhitelist(w http.ResponseWriter, r *http.Request) {
	e, err := h.opts.Whitelist.GetWhitelistEntry(r.Context(), chi.URLParam(r, "email"))
	if err != nil {
		httpx.Error(w, httpError(err))
		return
	}
	httpx.JSON(w, http.StatusOK, toWhitelistResponse(e), nil)
}

func (h *handlers) putWhitelist(w http.ResponseWriter, r *http.Request) {
	email := eligibility.NormalizeEmail(chi.URLParam(r, "email"))
	var in whitelistRequest
	if err := httpx.DecodeJSON(r, &in, maxJSONBody); err != nil {
		httpx.Error(w, err)
		return
	}
	err := validator.Apply(
		validator.ValidEmail("email", email),
		validator.OneOf("access_level", eligibility.AccessLevel(in.AccessLevel),
			[]eligibility.AccessLevel{eligibility.AccessFull, eligibility.AccessPro, eligibility.AccessBusiness}),
		validator.MaxLen("role", in.Role, 64),
		validator.MaxLen("reason", in.Reason, 500),
	)
	if err != nil {
		httpx.Error(w, err)
		return
	}

	entry := &eligibility.WhitelistEntry{
		Email:       email,
		Role:        in.Role,
		AccessLevel: eligibility.AccessLevel(in.AccessLevel),
		Active:      in.Active,
		ExpiresAt:   in.ExpiresAt,
		Permissions: eligibility.Permissions(in.Permissions),
		Reason:      in.Reason,
	}
	if err := h.opts.Whitelist.SaveWhitelistEntry(r.Context(), entry); err != nil {
		httpx.Error(w, httpError(err))
		return
	}
	h.log.InfoContext(r.Context(), "whitelist entry saved",
		slog.String("email", email), slog.Bool("active", entry.Active))
	httpx.JSON(w, http.StatusOK, toWhitelistResponse(entry), nil)
}

func (h *handlers) deleteWhitelist(w http.ResponseWriter, r *http.Request) {
	email := eligibility.NormalizeEmail(chi.URLParam(r, "email"))
	if err := h.opts.Whitelist.DeactivateWhitelistEntry(r.Context(), email); err != nil {
		httpx.Error(w, httpError(err))
		return
	}
	h.log.InfoContext(r.Context(), "whitelist entry deactivated", slog.String("email", email))
	w.WriteHeader(http.StatusNoContent)
}
