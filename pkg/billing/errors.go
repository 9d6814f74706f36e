package billing

import "errors"

var (
	ErrInvalidSignature   = errors.New("billing: invalid webhook signature")
	ErrInvalidPayload     = errors.New("billing: malformed webhook payload")
	ErrCustomerNotFound   = errors.New("billing: customer not found")
	ErrUpstream           = errors.New("billing: payment processor request failed")
	ErrMissingCheckoutURL = errors.New("billing: processor returned no checkout url")
	ErrUnsupported        = errors.New("billing: operation not supported by processor")
	ErrInvalidConfig      = errors.New("billing: invalid provider configuration")
	ErrDiscountNotMapped  = errors.New("billing: coupon has no processor discount id")
)
