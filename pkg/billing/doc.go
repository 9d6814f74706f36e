// Package billing abstracts the payment processor behind a small Provider
// interface: customer lookup and creation, hosted checkout sessions, and
// verified webhook events normalized to one vocabulary.
//
// Two providers are available. Stripe is the default; Paddle is selected with
// BILLING_PROVIDER=paddle.
//
//	provider, err := billing.NewStripeProvider(cfg)
//	if err != nil {
//		return err
//	}
//	event, err := provider.ParseWebhook(ctx, body, r.Header.Get("Stripe-Signature"))
//	if errors.Is(err, billing.ErrInvalidSignature) {
//		// reject with 400
//	}
//
// Amounts in events are decimals in major currency units.
package billing
