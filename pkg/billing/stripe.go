package billing

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
)

// StripeConfig holds configuration for the Stripe provider.
type StripeConfig struct {
	SecretKey     string        `env:"STRIPE_SECRET_KEY"`
	WebhookSecret string        `env:"STRIPE_WEBHOOK_SECRET"`
	Currency      string        `env:"STRIPE_CURRENCY" envDefault:"usd"`
	APIURL        string        `env:"STRIPE_API_URL"`
	Timeout       time.Duration `env:"STRIPE_TIMEOUT" envDefault:"10s"`
}

// StripeProvider implements Provider on top of the Stripe API.
type StripeProvider struct {
	api *client.API
	cfg StripeConfig
}

// NewStripeProvider creates a Stripe provider. The SDK's own network retries
// are disabled; callers decide what is safe to retry.
func NewStripeProvider(cfg StripeConfig) (*StripeProvider, error) {
	if cfg.SecretKey == "" {
		return nil, fmt.Errorf("%w: stripe secret key is required", ErrInvalidConfig)
	}
	if cfg.WebhookSecret == "" {
		return nil, fmt.Errorf("%w: stripe webhook secret is required", ErrInvalidConfig)
	}
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	backendCfg := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: cfg.Timeout},
		MaxNetworkRetries: stripe.Int64(0),
	}
	if cfg.APIURL != "" {
		backendCfg.URL = stripe.String(strings.TrimRight(cfg.APIURL, "/"))
	}
	backends := &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, backendCfg),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, backendCfg),
	}

	return &StripeProvider{
		api: client.New(cfg.SecretKey, backends),
		cfg: cfg,
	}, nil
}

// Name implements Provider.
func (p *StripeProvider) Name() string { return "stripe" }

// FindCustomerByEmail implements Provider.
func (p *StripeProvider) FindCustomerByEmail(ctx context.Context, email string) (string, error) {
	params := &stripe.CustomerListParams{Email: stripe.String(email)}
	params.Context = ctx
	params.Limit = stripe.Int64(1)
	params.Single = true

	iter := p.api.Customers.List(params)
	for iter.Next() {
		if c := iter.Customer(); c != nil && !c.Deleted {
			return c.ID, nil
		}
	}
	if err := iter.Err(); err != nil {
		return "", upstream("list customers", err)
	}
	return "", ErrCustomerNotFound
}

// CreateCustomer implements Provider.
func (p *StripeProvider) CreateCustomer(ctx context.Context, req CustomerRequest) (string, error) {
	params := &stripe.CustomerParams{
		Email:    stripe.String(req.Email),
		Metadata: map[string]string{MetaAccountID: req.AccountID},
	}
	if req.Phone != "" {
		params.Phone = stripe.String(req.Phone)
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	c, err := p.api.Customers.New(params)
	if err != nil {
		return "", upstream("create customer", err)
	}
	return c.ID, nil
}

// CreateCheckoutSession implements Provider.
func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, req SessionRequest) (*Session, error) {
	if req.PriceID == "" {
		return nil, fmt.Errorf("%w: price id is required", ErrInvalidConfig)
	}

	md := req.Metadata()
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		ClientReferenceID: stripe.String(req.AccountID),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(req.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: md,
		},
		Metadata: md,
	}
	if req.CustomerID != "" {
		params.Customer = stripe.String(req.CustomerID)
	} else if req.Email != "" {
		params.CustomerEmail = stripe.String(req.Email)
	}
	if req.TrialDays > 0 {
		params.SubscriptionData.TrialPeriodDays = stripe.Int64(int64(req.TrialDays))
	}

	if req.Discount != nil {
		couponID, err := p.discountCoupon(ctx, req.Discount)
		if err != nil {
			return nil, err
		}
		params.Discounts = []*stripe.CheckoutSessionDiscountParams{
			{Coupon: stripe.String(couponID)},
		}
	}
	params.Context = ctx

	s, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, upstream("create checkout session", err)
	}
	if s.URL == "" {
		return nil, ErrMissingCheckoutURL
	}

	return &Session{
		ID:        s.ID,
		URL:       s.URL,
		ExpiresAt: time.Unix(s.ExpiresAt, 0),
	}, nil
}

// discountCoupon returns the processor coupon to attach to a session. Coupons
// without an external id get a single-use processor coupon created on the fly.
func (p *StripeProvider) discountCoupon(ctx context.Context, d *Discount) (string, error) {
	if d.ExternalCouponID != "" {
		return d.ExternalCouponID, nil
	}

	params := &stripe.CouponParams{
		Duration:       stripe.String(string(stripe.CouponDurationOnce)),
		MaxRedemptions: stripe.Int64(1),
	}
	if d.Code != "" {
		params.Name = stripe.String(d.Code)
	}
	switch d.Kind {
	case DiscountPercentage:
		params.PercentOff = stripe.Float64(d.Value.InexactFloat64())
	case DiscountFixed:
		currency := d.Currency
		if currency == "" {
			currency = p.cfg.Currency
		}
		params.AmountOff = stripe.Int64(d.Value.Shift(2).Round(0).IntPart())
		params.Currency = stripe.String(strings.ToLower(currency))
	default:
		return "", fmt.Errorf("%w: discount kind %q", ErrUnsupported, d.Kind)
	}
	params.Context = ctx

	c, err := p.api.Coupons.New(params)
	if err != nil {
		return "", upstream("create coupon", err)
	}
	return c.ID, nil
}

func upstream(op string, err error) error {
	if se, ok := err.(*stripe.Error); ok && se.Msg != "" {
		return fmt.Errorf("%w: %s: %s", ErrUpstream, op, se.Msg)
	}
	return fmt.Errorf("%w: %s: %w", ErrUpstream, op, err)
}
