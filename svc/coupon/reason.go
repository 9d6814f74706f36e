package coupon

import (
	"errors"
	"fmt"

	"github.com/dmitrymomot/paygate/svc/eligibility"
)

// Reason is the specific cause a coupon was rejected. Values are stable and
// shown to clients verbatim.
type Reason string

const (
	ReasonCodeNotFound           Reason = "CodeNotFound"
	ReasonInactive               Reason = "Inactive"
	ReasonExpired                Reason = "Expired"
	ReasonExhausted              Reason = "Exhausted"
	ReasonTierNotEligible        Reason = "TierNotEligible"
	ReasonEmailNotEligible       Reason = "EmailNotEligible"
	ReasonDomainNotEligible      Reason = "DomainNotEligible"
	ReasonPerAccountLimitReached Reason = "PerAccountLimitReached"
	ReasonNotFirstTime           Reason = "NotFirstTime"
)

// Message is a short human-readable explanation of the reason.
func (r Reason) Message() string {
	switch r {
	case ReasonCodeNotFound:
		return "coupon code does not exist"
	case ReasonInactive:
		return "coupon is not active"
	case ReasonExpired:
		return "coupon has expired"
	case ReasonExhausted:
		return "coupon has no uses left"
	case ReasonTierNotEligible:
		return "coupon does not apply to this plan"
	case ReasonEmailNotEligible:
		return "coupon is not available for this email"
	case ReasonDomainNotEligible:
		return "coupon is not available for this email domain"
	case ReasonPerAccountLimitReached:
		return "coupon was already used by this account"
	case ReasonNotFirstTime:
		return "coupon is only for first-time subscribers"
	}
	return string(r)
}

// ErrRejected is matched by every RejectionError.
var ErrRejected = errors.New("coupon rejected")

// RejectionError reports why a coupon cannot be applied.
type RejectionError struct {
	Code   string
	Reason Reason
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("coupon %q rejected: %s", e.Code, e.Reason.Message())
}

func (e *RejectionError) Is(target error) bool { return target == ErrRejected }

// ErrorKind reports unknown codes as not-found and every other reason as a
// validation failure.
func (e *RejectionError) ErrorKind() eligibility.Kind {
	if e.Reason == ReasonCodeNotFound {
		return eligibility.KindNotFound
	}
	return eligibility.KindValidation
}

// ReasonOf extracts the rejection reason from err, or "" if err is not a rejection.
func ReasonOf(err error) Reason {
	var re *RejectionError
	if errors.As(err, &re) {
		return re.Reason
	}
	return ""
}
