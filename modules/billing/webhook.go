package billing

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/paygate/pkg/httpx"
	"github.com/dmitrymomot/paygate/pkg/logger"
	"github.com/dmitrymomot/paygate/svc/eligibility"
)

type webhookResponse struct {
	Received  bool   `json:"received"`
	EventID   string `json:"event_id,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Ignored   bool   `json:"ignored,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// webhook answers 200 only once the delivery is applied or known to be a
// duplicate. Anything else is non-2xx so the processor redelivers; malformed
// and forged deliveries get 400.
func (h *handlers) webhook(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	hook, ok := h.opts.Webhooks[provider]
	if !ok {
		httpx.Error(w, httpx.ErrNotFound.WithMessage("unknown payment provider"))
		return
	}

	payload, err := httpx.ReadBody(r, maxWebhookBody)
	if err != nil {
		httpx.Error(w, err)
		return
	}

	res, err := hook.Reconciler.Process(r.Context(), payload, r.Header.Get(hook.SignatureHeader))
	if err != nil {
		kind := eligibility.KindOf(err)
		status := http.StatusInternalServerError
		switch kind {
		case eligibility.KindAuthenticity, eligibility.KindValidation:
			status = http.StatusBadRequest
		case eligibility.KindStore:
			status = http.StatusServiceUnavailable
		}
		h.log.WarnContext(r.Context(), "webhook not acknowledged",
			logger.Provider(provider), logger.Error(err))
		httpx.Error(w, httpx.HTTPError{Code: status, Key: string(kind), Message: http.StatusText(status)})
		return
	}

	writeJSON(w, http.StatusOK, webhookResponse{
		Received:  true,
		EventID:   res.EventID,
		Duplicate: res.Duplicate,
		Ignored:   res.Ignored,
		Reason:    res.Reason,
	})
}
