package billing_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/dmitrymomot/paygate/pkg/billing"
)

const stripeWebhookSecret = "whsec_test_secret"

func newStripeProvider(t *testing.T, apiURL string) *billing.StripeProvider {
	t.Helper()
	p, err := billing.NewStripeProvider(billing.StripeConfig{
		SecretKey:     "sk_test_123",
		WebhookSecret: stripeWebhookSecret,
		APIURL:        apiURL,
		Timeout:       2 * time.Second,
	})
	require.NoError(t, err)
	return p
}

func signedStripeEvent(t *testing.T, eventType string, object any) ([]byte, string) {
	t.Helper()
	raw, err := json.Marshal(object)
	require.NoError(t, err)
	payload, err := json.Marshal(map[string]any{
		"id":          "evt_" + eventType,
		"object":      "event",
		"type":        eventType,
		"created":     time.Now().Unix(),
		"api_version": "2020-08-27",
		"data":        map[string]json.RawMessage{"object": raw},
	})
	require.NoError(t, err)

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    stripeWebhookSecret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})
	return signed.Payload, signed.Header
}

func TestNewStripeProvider_Config(t *testing.T) {
	t.Parallel()

	_, err := billing.NewStripeProvider(billing.StripeConfig{WebhookSecret: "whsec"})
	assert.ErrorIs(t, err, billing.ErrInvalidConfig)

	_, err = billing.NewStripeProvider(billing.StripeConfig{SecretKey: "sk"})
	assert.ErrorIs(t, err, billing.ErrInvalidConfig)

	p, err := billing.NewStripeProvider(billing.StripeConfig{SecretKey: "sk", WebhookSecret: "whsec"})
	require.NoError(t, err)
	assert.Equal(t, "stripe", p.Name())
}

func TestStripeProvider_ParseWebhook(t *testing.T) {
	t.Parallel()

	p := newStripeProvider(t, "")
	ctx := context.Background()

	t.Run("checkout completed carries metadata", func(t *testing.T) {
		t.Parallel()
		payload, sig := signedStripeEvent(t, "checkout.session.completed", map[string]any{
			"id":           "cs_1",
			"object":       "checkout.session",
			"mode":         "subscription",
			"customer":     "cus_1",
			"subscription": "sub_1",
			"metadata": map[string]string{
				billing.MetaAccountID:  "acc-1",
				billing.MetaTier:       "pro",
				billing.MetaCouponCode: "WELCOME30",
				billing.MetaTrialDays:  "21",
			},
		})

		ev, err := p.ParseWebhook(ctx, payload, sig)
		require.NoError(t, err)
		assert.Equal(t, "evt_checkout.session.completed", ev.ID)
		assert.Equal(t, billing.EventCheckoutCompleted, ev.Type)
		assert.Equal(t, "acc-1", ev.AccountID)
		assert.Equal(t, "pro", ev.Tier)
		assert.Equal(t, "WELCOME30", ev.CouponCode)
		assert.Equal(t, "sub_1", ev.SubscriptionID)
		assert.Equal(t, "cus_1", ev.CustomerID)
		assert.Equal(t, "cs_1", ev.SessionID)
		assert.Equal(t, 21, ev.TrialDays)
		assert.True(t, ev.HasTrial())
	})

	t.Run("payment mode sessions are not subscriptions", func(t *testing.T) {
		t.Parallel()
		payload, sig := signedStripeEvent(t, "checkout.session.completed", map[string]any{
			"id":   "cs_2",
			"mode": "payment",
		})
		ev, err := p.ParseWebhook(ctx, payload, sig)
		require.NoError(t, err)
		assert.Equal(t, billing.EventUnknown, ev.Type)
	})

	t.Run("invoice with parent subscription details", func(t *testing.T) {
		t.Parallel()
		payload, sig := signedStripeEvent(t, "invoice.payment_succeeded", map[string]any{
			"id":          "in_1",
			"customer":    "cus_1",
			"amount_paid": 349,
			"currency":    "usd",
			"parent": map[string]any{
				"subscription_details": map[string]any{
					"subscription": "sub_1",
					"metadata":     map[string]string{billing.MetaAccountID: "acc-1"},
				},
			},
			"lines": map[string]any{
				"data": []map[string]any{{"period": map[string]int64{"start": 1700000000, "end": 1702592000}}},
			},
		})

		ev, err := p.ParseWebhook(ctx, payload, sig)
		require.NoError(t, err)
		assert.Equal(t, billing.EventInvoicePaymentSucceeded, ev.Type)
		assert.Equal(t, "sub_1", ev.SubscriptionID)
		assert.Equal(t, "in_1", ev.InvoiceID)
		assert.Equal(t, "acc-1", ev.AccountID)
		assert.True(t, decimal.RequireFromString("3.49").Equal(ev.Amount))
		assert.Equal(t, "USD", ev.Currency)
		require.NotNil(t, ev.PeriodEnd)
		assert.Equal(t, int64(1702592000), ev.PeriodEnd.Unix())
	})

	t.Run("failed invoice reports the amount due", func(t *testing.T) {
		t.Parallel()
		payload, sig := signedStripeEvent(t, "invoice.payment_failed", map[string]any{
			"id":           "in_2",
			"subscription": "sub_1",
			"amount_due":   999,
		})
		ev, err := p.ParseWebhook(ctx, payload, sig)
		require.NoError(t, err)
		assert.Equal(t, billing.EventInvoicePaymentFailed, ev.Type)
		assert.Equal(t, "sub_1", ev.SubscriptionID)
		assert.True(t, decimal.RequireFromString("9.99").Equal(ev.Amount))
	})

	t.Run("subscription events", func(t *testing.T) {
		t.Parallel()
		cases := map[string]billing.EventType{
			"customer.subscription.updated":        billing.EventSubscriptionUpdated,
			"customer.subscription.created":        billing.EventSubscriptionUpdated,
			"customer.subscription.deleted":        billing.EventSubscriptionDeleted,
			"customer.subscription.trial_will_end": billing.EventTrialWillEnd,
		}
		for stripeType, want := range cases {
			payload, sig := signedStripeEvent(t, stripeType, map[string]any{
				"id":        "sub_1",
				"customer":  "cus_1",
				"status":    "past_due",
				"trial_end": 1700000000,
				"items": map[string]any{
					"data": []map[string]any{{"current_period_start": 1700000000, "current_period_end": 1702592000}},
				},
			})
			ev, err := p.ParseWebhook(ctx, payload, sig)
			require.NoError(t, err, stripeType)
			assert.Equal(t, want, ev.Type, stripeType)
			assert.Equal(t, billing.StatusPastDue, ev.Status)
			assert.Equal(t, "sub_1", ev.SubscriptionID)
			require.NotNil(t, ev.PeriodStart)
			assert.Equal(t, int64(1700000000), ev.PeriodStart.Unix())
		}
	})

	t.Run("unrecognized types are returned as unknown", func(t *testing.T) {
		t.Parallel()
		payload, sig := signedStripeEvent(t, "charge.refunded", map[string]any{"id": "ch_1"})
		ev, err := p.ParseWebhook(ctx, payload, sig)
		require.NoError(t, err)
		assert.Equal(t, billing.EventUnknown, ev.Type)
		assert.Equal(t, "charge.refunded", ev.ProviderEvent)
	})

	t.Run("bad signature", func(t *testing.T) {
		t.Parallel()
		payload, _ := signedStripeEvent(t, "invoice.payment_failed", map[string]any{"id": "in_3"})
		_, err := p.ParseWebhook(ctx, payload, "t=1,v1=deadbeef")
		assert.ErrorIs(t, err, billing.ErrInvalidSignature)

		_, err = p.ParseWebhook(ctx, payload, "")
		assert.ErrorIs(t, err, billing.ErrInvalidSignature)
	})
}

func TestStripeProvider_Checkout(t *testing.T) {
	t.Parallel()

	var sessionForm, couponForm, customerForm map[string][]string
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/customers", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("email") == "known@example.com" {
			_, _ = w.Write([]byte(`{"object":"list","url":"/v1/customers","has_more":false,"data":[{"id":"cus_known","object":"customer"}]}`))
			return
		}
		_, _ = w.Write([]byte(`{"object":"list","url":"/v1/customers","has_more":false,"data":[]}`))
	})
	mux.HandleFunc("POST /v1/customers", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		customerForm = r.PostForm
		assert.Equal(t, "customer-acc-1", r.Header.Get("Idempotency-Key"))
		_, _ = w.Write([]byte(`{"id":"cus_new","object":"customer"}`))
	})
	mux.HandleFunc("POST /v1/coupons", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		couponForm = r.PostForm
		_, _ = w.Write([]byte(`{"id":"co_once","object":"coupon"}`))
	})
	mux.HandleFunc("POST /v1/checkout/sessions", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		sessionForm = r.PostForm
		_, _ = w.Write([]byte(`{"id":"cs_test","object":"checkout.session","url":"https://checkout.example/cs_test","expires_at":1700000000}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	p := newStripeProvider(t, srv.URL)
	ctx := context.Background()

	id, err := p.FindCustomerByEmail(ctx, "known@example.com")
	require.NoError(t, err)
	assert.Equal(t, "cus_known", id)

	_, err = p.FindCustomerByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, billing.ErrCustomerNotFound)

	id, err = p.CreateCustomer(ctx, billing.CustomerRequest{
		AccountID:      "acc-1",
		Email:          "new@example.com",
		IdempotencyKey: "customer-acc-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "cus_new", id)
	assert.Equal(t, "acc-1", customerForm["metadata[account_id]"][0])

	session, err := p.CreateCheckoutSession(ctx, billing.SessionRequest{
		AccountID:  "acc-1",
		CustomerID: "cus_new",
		Tier:       "pro",
		PriceID:    "price_pro",
		TrialDays:  21,
		CouponCode: "WELCOME30",
		Discount: &billing.Discount{
			Kind:  billing.DiscountPercentage,
			Value: decimal.NewFromInt(30),
			Code:  "WELCOME30",
		},
		SuccessURL: "https://app.example/ok",
		CancelURL:  "https://app.example/cancel",
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_test", session.ID)
	assert.Equal(t, "https://checkout.example/cs_test", session.URL)

	assert.Equal(t, "30", couponForm["percent_off"][0])
	assert.Equal(t, "once", couponForm["duration"][0])
	assert.Equal(t, "co_once", sessionForm["discounts[0][coupon]"][0])
	assert.Equal(t, "21", sessionForm["subscription_data[trial_period_days]"][0])
	assert.Equal(t, "acc-1", sessionForm["metadata[account_id]"][0])
	assert.Equal(t, "WELCOME30", sessionForm["subscription_data[metadata][coupon_code]"][0])
	assert.Equal(t, "price_pro", sessionForm["line_items[0][price]"][0])
}

func TestStripeProvider_UpstreamError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"No such price: 'price_missing'"}}`))
	}))
	t.Cleanup(srv.Close)

	p := newStripeProvider(t, srv.URL)
	_, err := p.CreateCheckoutSession(context.Background(), billing.SessionRequest{
		AccountID: "acc-1",
		PriceID:   "price_missing",
	})
	require.ErrorIs(t, err, billing.ErrUpstream)
	assert.Contains(t, err.Error(), "No such price")
}
