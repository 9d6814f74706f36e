package checkout

import "errors"

var (
	ErrInvalidRequest  = errors.New("checkout: invalid request")
	ErrInvalidTier     = errors.New("checkout: tier is not purchasable")
	ErrCheckoutFailed  = errors.New("checkout: payment processor could not create the session")
	ErrCustomerFailed  = errors.New("checkout: payment processor customer unavailable")
	ErrCouponNotUsable = errors.New("checkout: coupon cannot be applied by the payment processor")
)
