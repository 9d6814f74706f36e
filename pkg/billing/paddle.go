package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"
	"github.com/shopspring/decimal"
)

// PaddleConfig holds configuration for the Paddle provider.
type PaddleConfig struct {
	APIKey        string `env:"PADDLE_API_KEY"`
	WebhookSecret string `env:"PADDLE_WEBHOOK_SECRET"`
	Environment   string `env:"PADDLE_ENVIRONMENT" envDefault:"production"`
}

// PaddleProvider implements Provider for Paddle Billing.
//
// Paddle defines trial length on the price, so SessionRequest.TrialDays only
// travels in custom data. Discounts must reference an existing Paddle
// discount through Discount.ExternalCouponID.
type PaddleProvider struct {
	client   *paddle.SDK
	verifier *paddle.WebhookVerifier
}

// NewPaddleProvider creates a Paddle provider for the configured environment.
func NewPaddleProvider(cfg PaddleConfig) (*PaddleProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: paddle API key is required", ErrInvalidConfig)
	}
	if cfg.WebhookSecret == "" {
		return nil, fmt.Errorf("%w: paddle webhook secret is required", ErrInvalidConfig)
	}

	var (
		client *paddle.SDK
		err    error
	)
	switch strings.ToLower(cfg.Environment) {
	case "sandbox":
		client, err = paddle.NewSandbox(cfg.APIKey)
	case "production", "":
		client, err = paddle.New(cfg.APIKey)
	default:
		return nil, fmt.Errorf("%w: paddle environment %q", ErrInvalidConfig, cfg.Environment)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create paddle client: %w", err)
	}

	return &PaddleProvider{
		client:   client,
		verifier: paddle.NewWebhookVerifier(cfg.WebhookSecret),
	}, nil
}

// Name implements Provider.
func (p *PaddleProvider) Name() string { return "paddle" }

// FindCustomerByEmail implements Provider.
func (p *PaddleProvider) FindCustomerByEmail(ctx context.Context, email string) (string, error) {
	res, err := p.client.CustomersClient.ListCustomers(ctx, &paddle.ListCustomersRequest{
		Email: []string{email},
	})
	if err != nil {
		return "", fmt.Errorf("%w: list customers: %w", ErrUpstream, err)
	}

	var id string
	err = res.Iter(ctx, func(c *paddle.Customer) (bool, error) {
		id = c.ID
		return false, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: list customers: %w", ErrUpstream, err)
	}
	if id == "" {
		return "", ErrCustomerNotFound
	}
	return id, nil
}

// CreateCustomer implements Provider. Paddle has no idempotency keys but
// rejects duplicate emails, so a conflict is resolved by looking the customer up.
func (p *PaddleProvider) CreateCustomer(ctx context.Context, req CustomerRequest) (string, error) {
	c, err := p.client.CustomersClient.CreateCustomer(ctx, &paddle.CreateCustomerRequest{
		Email:      req.Email,
		CustomData: paddle.CustomData{MetaAccountID: req.AccountID},
	})
	if err == nil {
		return c.ID, nil
	}

	if id, lookupErr := p.FindCustomerByEmail(ctx, req.Email); lookupErr == nil {
		return id, nil
	}
	return "", fmt.Errorf("%w: create customer: %w", ErrUpstream, err)
}

// CheckDiscount implements DiscountChecker. Paddle transactions can only
// reference discounts that already exist in the Paddle catalog.
func (p *PaddleProvider) CheckDiscount(d *Discount) error {
	if d != nil && d.ExternalCouponID == "" {
		return fmt.Errorf("%w: paddle discounts need an external discount id", ErrDiscountNotMapped)
	}
	return nil
}

// CreateCheckoutSession implements Provider with a Paddle transaction whose
// checkout URL is the hosted payment page.
func (p *PaddleProvider) CreateCheckoutSession(ctx context.Context, req SessionRequest) (*Session, error) {
	if req.PriceID == "" {
		return nil, fmt.Errorf("%w: price id is required", ErrInvalidConfig)
	}
	if err := p.CheckDiscount(req.Discount); err != nil {
		return nil, err
	}

	item := paddle.NewCreateTransactionItemsTransactionItemFromCatalog(&paddle.TransactionItemFromCatalog{
		PriceID:  req.PriceID,
		Quantity: 1,
	})

	customData := paddle.CustomData{}
	for k, v := range req.Metadata() {
		customData[k] = v
	}
	txReq := &paddle.CreateTransactionRequest{
		Items:      []paddle.CreateTransactionItems{*item},
		CustomData: customData,
	}
	if req.CustomerID != "" {
		txReq.CustomerID = paddle.PtrTo(req.CustomerID)
	}
	if req.SuccessURL != "" {
		txReq.Checkout = &paddle.TransactionCheckout{URL: paddle.PtrTo(req.SuccessURL)}
	}
	if req.Discount != nil {
		txReq.DiscountID = paddle.PtrTo(req.Discount.ExternalCouponID)
	}

	tx, err := p.client.TransactionsClient.CreateTransaction(ctx, txReq)
	if err != nil {
		return nil, fmt.Errorf("%w: create transaction: %w", ErrUpstream, err)
	}
	if tx.Checkout == nil || tx.Checkout.URL == nil || *tx.Checkout.URL == "" {
		return nil, ErrMissingCheckoutURL
	}

	return &Session{
		ID:        tx.ID,
		URL:       *tx.Checkout.URL,
		ExpiresAt: time.Now().Add(24 * time.Hour),
	}, nil
}

// ParseWebhook implements Provider.
func (p *PaddleProvider) ParseWebhook(ctx context.Context, payload []byte, signature string) (*Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/webhook", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request for verification: %w", err)
	}
	req.Header.Set("Paddle-Signature", signature)

	valid, err := p.verifier.Verify(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	if !valid {
		return nil, ErrInvalidSignature
	}

	return decodePaddleEvent(payload)
}

type paddleNotification struct {
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

type paddlePeriod struct {
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`
}

// paddleEntity covers the fields shared by subscription and transaction payloads.
type paddleEntity struct {
	ID                   string         `json:"id"`
	Status               string         `json:"status"`
	CustomerID           string         `json:"customer_id"`
	SubscriptionID       string         `json:"subscription_id"`
	TransactionID        string         `json:"transaction_id"`
	CurrencyCode         string         `json:"currency_code"`
	CustomData           map[string]any `json:"custom_data"`
	CurrentBillingPeriod *paddlePeriod  `json:"current_billing_period"`
	BillingPeriod        *paddlePeriod  `json:"billing_period"`
	Items                []struct {
		TrialDates *paddlePeriod `json:"trial_dates"`
	} `json:"items"`
	Details *struct {
		Totals struct {
			GrandTotal string `json:"grand_total"`
		} `json:"totals"`
	} `json:"details"`
}

func decodePaddleEvent(payload []byte) (*Event, error) {
	var n paddleNotification
	if err := json.Unmarshal(payload, &n); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	if n.EventID == "" {
		return nil, fmt.Errorf("%w: missing event id", ErrInvalidPayload)
	}

	out := &Event{
		ID:            n.EventID,
		Type:          EventUnknown,
		ProviderEvent: n.EventType,
		OccurredAt:    n.OccurredAt.UTC(),
	}

	var data paddleEntity
	if len(n.Data) > 0 {
		if err := json.Unmarshal(n.Data, &data); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidPayload, n.EventType, err)
		}
	}

	switch {
	case n.EventType == "subscription.created":
		out.Type = EventCheckoutCompleted
		out.SessionID = data.TransactionID
	case n.EventType == "subscription.canceled":
		out.Type = EventSubscriptionDeleted
	case strings.HasPrefix(n.EventType, "subscription."):
		out.Type = EventSubscriptionUpdated
	case n.EventType == "transaction.completed" && data.SubscriptionID != "":
		out.Type = EventInvoicePaymentSucceeded
	case n.EventType == "transaction.payment_failed" && data.SubscriptionID != "":
		out.Type = EventInvoicePaymentFailed
	default:
		return out, nil
	}

	out.CustomerID = data.CustomerID
	out.Status = data.Status
	if strings.HasPrefix(n.EventType, "subscription.") {
		out.SubscriptionID = data.ID
		if p := data.CurrentBillingPeriod; p != nil {
			out.PeriodStart, out.PeriodEnd = timePtr(p.StartsAt), timePtr(p.EndsAt)
		}
		for _, it := range data.Items {
			if it.TrialDates != nil {
				out.TrialEnd = timePtr(it.TrialDates.EndsAt)
				break
			}
		}
	} else {
		out.InvoiceID = data.ID
		out.SubscriptionID = data.SubscriptionID
		out.Status = ""
		out.Currency = strings.ToUpper(data.CurrencyCode)
		if p := data.BillingPeriod; p != nil {
			out.PeriodStart, out.PeriodEnd = timePtr(p.StartsAt), timePtr(p.EndsAt)
		}
		if data.Details != nil {
			amount, err := decimal.NewFromString(data.Details.Totals.GrandTotal)
			if err != nil && data.Details.Totals.GrandTotal != "" {
				return nil, fmt.Errorf("%w: grand total: %w", ErrInvalidPayload, err)
			}
			out.Amount = amount.Shift(-2)
		}
	}

	applyMetadata(out, stringMap(data.CustomData))
	return out, nil
}

func stringMap(m map[string]any) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		switch tv := v.(type) {
		case string:
			out[k] = tv
		case float64:
			out[k] = strconv.FormatFloat(tv, 'f', -1, 64)
		case nil:
		default:
			out[k] = fmt.Sprint(tv)
		}
	}
	return out
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	t = t.UTC()
	return &t
}
