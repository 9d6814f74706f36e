package billing

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dmitrymomot/paygate/pkg/httpx"
	"github.com/dmitrymomot/paygate/pkg/logger"
	"github.com/dmitrymomot/paygate/pkg/validator"
	"github.com/dmitrymomot/paygate/svc/checkout"
	"github.com/dmitrymomot/paygate/svc/coupon"
	"github.com/dmitrymomot/paygate/svc/eligibility"
)

type checkoutRequest struct {
	AccountID  string `json:"account_id"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
	Tier       string `json:"tier"`
	CouponCode string `json:"coupon_code"`
}

// checkoutResponse is returned for both outcomes. Success is false whenever
// ErrorMessage is set.
type checkoutResponse struct {
	Success          bool                `json:"success"`
	SessionID        string              `json:"session_id,omitempty"`
	RedirectURL      string              `json:"redirect_url,omitempty"`
	WhitelistGranted bool                `json:"whitelist_granted,omitempty"`
	AccessLevel      string              `json:"access_level,omitempty"`
	Tier             string              `json:"tier,omitempty"`
	CouponCode       string              `json:"coupon_code,omitempty"`
	DiscountApplied  *decimal.Decimal    `json:"discount_applied,omitempty"`
	FinalPrice       *decimal.Decimal    `json:"final_price,omitempty"`
	TrialDays        int                 `json:"trial_days,omitempty"`
	ErrorKind        string              `json:"error_kind,omitempty"`
	Reason           string              `json:"reason,omitempty"`
	ErrorMessage     string              `json:"error_message,omitempty"`
	Details          map[string][]string `json:"details,omitempty"`
}

func (h *handlers) createCheckout(w http.ResponseWriter, r *http.Request) {
	var in checkoutRequest
	if err := httpx.DecodeJSON(r, &in, maxJSONBody); err != nil {
		httpx.Error(w, err)
		return
	}

	req := checkout.Request{
		Email:      in.Email,
		Phone:      in.Phone,
		Tier:       eligibility.Tier(in.Tier),
		CouponCode: in.CouponCode,
	}
	if id, err := uuid.Parse(in.AccountID); err == nil {
		req.AccountID = id
	}

	res, err := h.opts.Checkout.CreateCheckout(r.Context(), req)
	if err != nil {
		h.checkoutFailed(w, r, err)
		return
	}

	out := checkoutResponse{
		Success:          true,
		SessionID:        res.SessionID,
		RedirectURL:      res.RedirectURL,
		WhitelistGranted: res.WhitelistGranted,
		AccessLevel:      string(res.AccessLevel),
		Tier:             string(res.Tier),
		CouponCode:       res.CouponCode,
		TrialDays:        res.TrialDays,
	}
	if !res.WhitelistGranted {
		out.DiscountApplied, out.FinalPrice = &res.DiscountApplied, &res.FinalPrice
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) checkoutFailed(w http.ResponseWriter, r *http.Request, err error) {
	kind := eligibility.KindOf(err)
	if kind == eligibility.KindInternal || kind.Retryable() {
		h.log.ErrorContext(r.Context(), "checkout failed", logger.Error(err))
	}

	out := checkoutResponse{
		ErrorKind: string(kind),
		Reason:    string(coupon.ReasonOf(err)),
	}
	var ve validator.ValidationErrors
	switch {
	case errors.As(err, &ve):
		out.ErrorMessage, out.Details = "invalid checkout request", ve.Details()
	case errors.Is(err, eligibility.ErrCouponExhausted):
		out.Reason, out.ErrorMessage = string(coupon.ReasonExhausted), coupon.ReasonExhausted.Message()
	case errors.Is(err, eligibility.ErrPerAccountLimit):
		out.Reason, out.ErrorMessage = string(coupon.ReasonPerAccountLimitReached), coupon.ReasonPerAccountLimitReached.Message()
	case out.Reason != "":
		out.ErrorMessage = coupon.Reason(out.Reason).Message()
	default:
		out.ErrorMessage = http.StatusText(statusOf(kind))
		var httpErr httpx.HTTPError
		if errors.As(httpError(err), &httpErr) && httpErr.Message != "" {
			out.ErrorMessage = httpErr.Message
		}
	}
	writeJSON(w, statusOf(kind), out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
