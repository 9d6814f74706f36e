package billing

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dmitrymomot/paygate/pkg/httpx"
)

type entitlementResponse struct {
	AccountID   uuid.UUID  `json:"account_id"`
	Granted     bool       `json:"granted"`
	Tier        string     `json:"tier"`
	State       string     `json:"state"`
	Whitelisted bool       `json:"whitelisted"`
	Reason      string     `json:"reason"`
	GraceUntil  *time.Time `json:"grace_until,omitempty"`
}

func (h *handlers) entitlement(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "accountID"))
	if err != nil {
		httpx.Error(w, httpx.ErrBadRequest.WithMessage("account id must be a UUID"))
		return
	}

	e, err := h.opts.Entitlements.Resolve(r.Context(), id)
	if err != nil {
		httpx.Error(w, httpError(err))
		return
	}

	httpx.JSON(w, http.StatusOK, entitlementResponse{
		AccountID:   e.AccountID,
		Granted:     e.Granted,
		Tier:        string(e.Tier),
		State:       string(e.State),
		Whitelisted: e.Whitelisted,
		Reason:      e.Reason,
		GraceUntil:  e.GraceUntil,
	}, nil)
}
