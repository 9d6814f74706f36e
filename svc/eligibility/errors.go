package eligibility

import "errors"

var (
	ErrAccountNotFound        = errors.New("account not found")
	ErrCouponNotFound         = errors.New("coupon not found")
	ErrWhitelistEntryNotFound = errors.New("whitelist entry not found")
	ErrEmailTaken             = errors.New("email already belongs to another account")
	ErrCouponCapBelowUsage    = errors.New("coupon max uses is below its current uses")

	ErrCouponExhausted = errors.New("coupon exhausted")
	ErrPerAccountLimit = errors.New("coupon per-account limit reached")
	ErrStateConflict   = errors.New("subscription state changed concurrently")

	ErrStoreUnavailable = errors.New("eligibility store unavailable")
)

// Kind is the stable error classification surfaced to callers so clients can
// render a specific message without parsing error strings.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindAuthenticity Kind = "authenticity"
	KindConflict     Kind = "conflict"
	KindUpstream     Kind = "upstream"
	KindNotFound     Kind = "not_found"
	KindStore        Kind = "store"
	KindInternal     Kind = "internal"
)

// Retryable reports whether a caller may retry the same request unchanged.
func (k Kind) Retryable() bool {
	return k == KindUpstream || k == KindStore
}

type kindError struct {
	kind Kind
	err  error
}

func (e *kindError) Error() string   { return e.err.Error() }
func (e *kindError) Unwrap() error   { return e.err }
func (e *kindError) ErrorKind() Kind { return e.kind }

// Mark attaches kind to err. A nil err stays nil.
func Mark(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, err: err}
}

// KindOf classifies err. Explicit marks win over the package sentinels.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}

	var k interface{ ErrorKind() Kind }
	if errors.As(err, &k) {
		return k.ErrorKind()
	}

	switch {
	case errors.Is(err, ErrAccountNotFound),
		errors.Is(err, ErrCouponNotFound),
		errors.Is(err, ErrWhitelistEntryNotFound):
		return KindNotFound
	case errors.Is(err, ErrCouponExhausted),
		errors.Is(err, ErrPerAccountLimit),
		errors.Is(err, ErrStateConflict),
		errors.Is(err, ErrEmailTaken):
		return KindConflict
	case errors.Is(err, ErrCouponCapBelowUsage):
		return KindValidation
	case errors.Is(err, ErrStoreUnavailable):
		return KindStore
	}
	return KindInternal
}
