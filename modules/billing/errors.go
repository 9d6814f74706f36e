package billing

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/dmitrymomot/paygate/pkg/httpx"
	"github.com/dmitrymomot/paygate/pkg/validator"
	"github.com/dmitrymomot/paygate/svc/eligibility"
)

// statusOf maps an error kind onto the HTTP status clients see.
func statusOf(kind eligibility.Kind) int {
	switch kind {
	case eligibility.KindValidation:
		return http.StatusUnprocessableEntity
	case eligibility.KindAuthenticity:
		return http.StatusBadRequest
	case eligibility.KindConflict:
		return http.StatusConflict
	case eligibility.KindUpstream:
		return http.StatusBadGateway
	case eligibility.KindNotFound:
		return http.StatusNotFound
	case eligibility.KindStore:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// httpError converts a service error into an httpx.HTTPError. Upstream,
// store and internal failures get a generic message so connection details
// never reach clients.
func httpError(err error) error {
	var httpErr httpx.HTTPError
	if errors.As(err, &httpErr) || validator.IsValidationError(err) {
		return err
	}

	kind := eligibility.KindOf(err)
	e := httpx.HTTPError{Code: statusOf(kind), Key: string(kind)}
	switch kind {
	case eligibility.KindValidation, eligibility.KindConflict, eligibility.KindNotFound, eligibility.KindAuthenticity:
		return e.WithMessage(err.Error())
	case eligibility.KindUpstream:
		return e.WithMessage("payment processor unavailable, retry later")
	case eligibility.KindStore:
		return e.WithMessage("storage unavailable, retry later")
	}
	return httpx.ErrInternalServerError
}

func bearerAuth(token string) func(http.Handler) http.Handler {
	want := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				w.Header().Set("WWW-Authenticate", `Bearer realm="paygate-admin"`)
				httpx.Error(w, httpx.ErrUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
