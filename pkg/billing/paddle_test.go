package billing_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/paygate/pkg/billing"
)

const paddleWebhookSecret = "pdl_ntfset_test"

func paddleSignature(body []byte) string {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	mac := hmac.New(sha256.New, []byte(paddleWebhookSecret))
	mac.Write([]byte(ts + ":"))
	mac.Write(body)
	return fmt.Sprintf("ts=%s;h1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func newPaddleProvider(t *testing.T) *billing.PaddleProvider {
	t.Helper()
	p, err := billing.NewPaddleProvider(billing.PaddleConfig{
		APIKey:        "pdl_sdbx_apikey_test",
		WebhookSecret: paddleWebhookSecret,
		Environment:   "sandbox",
	})
	require.NoError(t, err)
	return p
}

func TestNewPaddleProvider_Config(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  billing.PaddleConfig
	}{
		{name: "missing api key", cfg: billing.PaddleConfig{WebhookSecret: "s"}},
		{name: "missing webhook secret", cfg: billing.PaddleConfig{APIKey: "k"}},
		{name: "unknown environment", cfg: billing.PaddleConfig{APIKey: "k", WebhookSecret: "s", Environment: "staging"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := billing.NewPaddleProvider(tt.cfg)
			assert.ErrorIs(t, err, billing.ErrInvalidConfig)
		})
	}

	assert.Equal(t, "paddle", newPaddleProvider(t).Name())
}

func TestPaddleProvider_ParseWebhook(t *testing.T) {
	t.Parallel()

	p := newPaddleProvider(t)
	ctx := context.Background()

	t.Run("subscription created completes checkout", func(t *testing.T) {
		t.Parallel()
		body := []byte(`{
			"event_id": "evt_01",
			"event_type": "subscription.created",
			"occurred_at": "2026-01-02T10:00:00Z",
			"data": {
				"id": "sub_01",
				"status": "trialing",
				"customer_id": "ctm_01",
				"transaction_id": "txn_01",
				"custom_data": {"account_id": "acc-1", "tier": "pro", "trial_days": "7"},
				"current_billing_period": {"starts_at": "2026-01-02T10:00:00Z", "ends_at": "2026-01-09T10:00:00Z"},
				"items": [{"trial_dates": {"starts_at": "2026-01-02T10:00:00Z", "ends_at": "2026-01-09T10:00:00Z"}}]
			}
		}`)

		ev, err := p.ParseWebhook(ctx, body, paddleSignature(body))
		require.NoError(t, err)
		assert.Equal(t, "evt_01", ev.ID)
		assert.Equal(t, billing.EventCheckoutCompleted, ev.Type)
		assert.Equal(t, "sub_01", ev.SubscriptionID)
		assert.Equal(t, "txn_01", ev.SessionID)
		assert.Equal(t, "acc-1", ev.AccountID)
		assert.Equal(t, "pro", ev.Tier)
		assert.Equal(t, 7, ev.TrialDays)
		require.NotNil(t, ev.TrialEnd)
		assert.Equal(t, 9, ev.TrialEnd.Day())
	})

	t.Run("completed transaction is a payment", func(t *testing.T) {
		t.Parallel()
		body := []byte(`{
			"event_id": "evt_02",
			"event_type": "transaction.completed",
			"occurred_at": "2026-01-09T10:00:00Z",
			"data": {
				"id": "txn_02",
				"status": "completed",
				"subscription_id": "sub_01",
				"currency_code": "usd",
				"custom_data": {"account_id": "acc-1"},
				"details": {"totals": {"grand_total": "349"}}
			}
		}`)

		ev, err := p.ParseWebhook(ctx, body, paddleSignature(body))
		require.NoError(t, err)
		assert.Equal(t, billing.EventInvoicePaymentSucceeded, ev.Type)
		assert.Equal(t, "txn_02", ev.InvoiceID)
		assert.Equal(t, "sub_01", ev.SubscriptionID)
		assert.True(t, decimal.RequireFromString("3.49").Equal(ev.Amount))
		assert.Equal(t, "USD", ev.Currency)
	})

	t.Run("event types", func(t *testing.T) {
		t.Parallel()
		cases := map[string]billing.EventType{
			"subscription.updated":       billing.EventSubscriptionUpdated,
			"subscription.past_due":      billing.EventSubscriptionUpdated,
			"subscription.canceled":      billing.EventSubscriptionDeleted,
			"transaction.payment_failed": billing.EventInvoicePaymentFailed,
			"customer.created":           billing.EventUnknown,
		}
		for paddleType, want := range cases {
			body := fmt.Appendf(nil, `{"event_id":"evt_%s","event_type":%q,"occurred_at":"2026-01-02T10:00:00Z","data":{"id":"x_1","subscription_id":"sub_01"}}`, paddleType, paddleType)
			ev, err := p.ParseWebhook(ctx, body, paddleSignature(body))
			require.NoError(t, err, paddleType)
			assert.Equal(t, want, ev.Type, paddleType)
		}
	})

	t.Run("tampered body", func(t *testing.T) {
		t.Parallel()
		body := []byte(`{"event_id":"evt_03","event_type":"subscription.canceled","data":{}}`)
		sig := paddleSignature(body)
		_, err := p.ParseWebhook(ctx, append(body, ' '), sig)
		assert.ErrorIs(t, err, billing.ErrInvalidSignature)

		_, err = p.ParseWebhook(ctx, body, "garbage")
		assert.ErrorIs(t, err, billing.ErrInvalidSignature)
	})
}

func TestPaddleProvider_CheckDiscount(t *testing.T) {
	t.Parallel()
	p := newPaddleProvider(t)

	var _ billing.DiscountChecker = p
	assert.NoError(t, p.CheckDiscount(nil))
	assert.NoError(t, p.CheckDiscount(&billing.Discount{ExternalCouponID: "dsc_01"}))

	unmapped := &billing.Discount{Kind: billing.DiscountPercentage, Value: decimal.NewFromInt(30), Code: "WELCOME30"}
	assert.ErrorIs(t, p.CheckDiscount(unmapped), billing.ErrDiscountNotMapped)

	_, err := p.CreateCheckoutSession(context.Background(), billing.SessionRequest{PriceID: "pri_01", Discount: unmapped})
	assert.ErrorIs(t, err, billing.ErrDiscountNotMapped)
	assert.NotErrorIs(t, err, billing.ErrUpstream)
}
