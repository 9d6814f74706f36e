package billing

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dmitrymomot/paygate/pkg/httpx"
	"github.com/dmitrymomot/paygate/pkg/validator"
	"github.com/dmitrymomot/paygate/svc/ledger"
)

type summaryResponse struct {
	TotalRevenue      decimal.Decimal `json:"total_revenue"`
	TotalDiscount     decimal.Decimal `json:"total_discount"`
	AverageDiscount   decimal.Decimal `json:"average_discount"`
	Redemptions       int64           `json:"redemptions"`
	Payments          int64           `json:"payments"`
	ActiveSubscribers int64           `json:"active_subscribers"`
}

type entryResponse struct {
	ID             uuid.UUID       `json:"id"`
	Kind           string          `json:"kind"`
	AccountID      uuid.UUID       `json:"account_id"`
	CouponCode     string          `json:"coupon_code,omitempty"`
	EventID        string          `json:"event_id,omitempty"`
	SessionID      string          `json:"session_id,omitempty"`
	SubscriptionID string          `json:"subscription_id,omitempty"`
	Amount         decimal.Decimal `json:"amount"`
	Discount       decimal.Decimal `json:"discount"`
	Currency       string          `json:"currency,omitempty"`
	TrialDays      int             `json:"trial_days,omitempty"`
	Reversal       bool            `json:"reversal,omitempty"`
	ReversesID     *uuid.UUID      `json:"reverses_id,omitempty"`
	Note           string          `json:"note,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

func toEntryResponse(e ledger.Entry) entryResponse {
	out := entryResponse{
		ID:             e.ID,
		Kind:           string(e.Kind),
		AccountID:      e.AccountID,
		CouponCode:     e.CouponCode,
		EventID:        e.EventID,
		SessionID:      e.SessionID,
		SubscriptionID: e.SubscriptionID,
		Amount:         e.Amount,
		Discount:       e.Discount,
		Currency:       e.Currency,
		TrialDays:      e.TrialDays,
		Reversal:       e.Reversal,
		Note:           e.Note,
		CreatedAt:      e.CreatedAt,
	}
	if e.ReversesID != uuid.Nil {
		out.ReversesID = &e.ReversesID
	}
	return out
}

func (h *handlers) analyticsSummary(w http.ResponseWriter, r *http.Request) {
	s, err := h.opts.Ledger.Summary(r.Context())
	if err != nil {
		httpx.Error(w, httpError(err))
		return
	}
	httpx.JSON(w, http.StatusOK, summaryResponse{
		TotalRevenue:      s.TotalRevenue,
		TotalDiscount:     s.TotalDiscount,
		AverageDiscount:   s.AverageDiscount,
		Redemptions:       s.Redemptions,
		Payments:          s.Payments,
		ActiveSubscribers: s.ActiveSubscribers,
	}, nil)
}

func (h *handlers) analyticsEntries(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	entries, err := h.opts.Ledger.Entries(r.Context(), f)
	if err != nil {
		httpx.Error(w, httpError(err))
		return
	}
	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toEntryResponse(e))
	}
	httpx.JSON(w, http.StatusOK, out, map[string]any{"count": len(out), "limit": f.Normalize().Limit})
}

// parseFilter reads account_id, kind, since, until (RFC 3339) and limit.
func parseFilter(r *http.Request) (ledger.Filter, error) {
	q := r.URL.Query()
	var f ledger.Filter

	if v := q.Get("account_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return f, httpx.ErrBadRequest.WithMessage("account_id must be a UUID")
		}
		f.AccountID = id
	}
	switch k := ledger.Kind(q.Get("kind")); k {
	case "", ledger.KindCouponRedemption, ledger.KindPayment:
		f.Kind = k
	default:
		return f, httpx.ErrBadRequest.WithMessage("kind must be coupon_redemption or payment")
	}
	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"since", &f.Since}, {"until", &f.Until}} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, httpx.ErrBadRequest.WithMessage(p.name + " must be an RFC 3339 timestamp")
		}
		*p.dst = &t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return f, httpx.ErrBadRequest.WithMessage("limit must be a positive integer")
		}
		f.Limit = n
	}
	return f, nil
}

type reversalRequest struct {
	Note string `json:"note"`
}

func (h *handlers) reverseEntry(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "entryID"))
	if err != nil {
		httpx.Error(w, httpx.ErrBadRequest.WithMessage("entry id must be a UUID"))
		return
	}
	var in reversalRequest
	if err := httpx.DecodeJSON(r, &in, maxJSONBody); err != nil {
		httpx.Error(w, err)
		return
	}
	if err := validator.Apply(validator.Required("note", in.Note), validator.MaxLen("note", in.Note, 500)); err != nil {
		httpx.Error(w, err)
		return
	}

	e, err := h.opts.Ledger.RecordReversal(r.Context(), id, in.Note)
	switch {
	case err == nil:
		httpx.JSON(w, http.StatusCreated, toEntryResponse(*e), nil)
	case errors.Is(err, ledger.ErrEntryNotFound):
		httpx.Error(w, httpx.ErrNotFound.WithMessage(err.Error()))
	case errors.Is(err, ledger.ErrAlreadyReversed), errors.Is(err, ledger.ErrReverseReversal):
		httpx.Error(w, httpx.ErrConflict.WithMessage(err.Error()))
	default:
		httpx.Error(w, httpError(err))
	}
}
