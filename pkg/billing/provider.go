package billing

import (
	"context"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Provider is the narrow surface the engine needs from a payment processor.
// Implementations hide processor quirks (metadata fields, id formats, minor
// units) and always return normalized values.
type Provider interface {
	// Name identifies the processor in logs, metrics and webhook routes.
	Name() string

	// FindCustomerByEmail returns ErrCustomerNotFound when the processor has
	// no customer with this email. Safe to retry.
	FindCustomerByEmail(ctx context.Context, email string) (string, error)

	// CreateCustomer creates a processor customer record. Implementations pass
	// req.IdempotencyKey to the processor so a repeated call returns the same
	// customer instead of creating a duplicate.
	CreateCustomer(ctx context.Context, req CustomerRequest) (string, error)

	// CreateCheckoutSession creates a hosted checkout session. Never retried by
	// callers: a failed call may still have created a session remotely.
	CreateCheckoutSession(ctx context.Context, req SessionRequest) (*Session, error)

	// ParseWebhook verifies the signature and normalizes the payload.
	// Returns ErrInvalidSignature when authenticity cannot be established.
	ParseWebhook(ctx context.Context, payload []byte, signature string) (*Event, error)
}

// Metadata keys written on sessions and subscriptions. Webhooks read them back
// to associate processor objects with accounts without a lookup table.
const (
	MetaAccountID  = "account_id"
	MetaTier       = "tier"
	MetaCouponCode = "coupon_code"
	MetaTrialDays  = "trial_days"
)

// CustomerRequest describes a processor customer to create.
type CustomerRequest struct {
	AccountID      string
	Email          string
	Phone          string
	IdempotencyKey string
}

// DiscountKind mirrors the coupon discount types.
type DiscountKind string

const (
	DiscountPercentage DiscountKind = "percentage"
	DiscountFixed      DiscountKind = "fixed"
)

// Discount is applied to the first invoice of a checkout session.
// ExternalCouponID, when set, references a coupon that already exists at the
// processor and takes precedence over Kind and Value.
type Discount struct {
	Kind             DiscountKind
	Value            decimal.Decimal
	Currency         string
	ExternalCouponID string
	Code             string
}

// DiscountChecker is implemented by providers that cannot apply every
// discount. CheckDiscount must not call the processor.
type DiscountChecker interface {
	CheckDiscount(d *Discount) error
}

// SessionRequest carries everything a checkout session needs.
type SessionRequest struct {
	AccountID  string
	CustomerID string
	Email      string
	Tier       string
	PriceID    string
	TrialDays  int
	Discount   *Discount
	CouponCode string
	SuccessURL string
	CancelURL  string
}

// Metadata returns the key/value pairs attached to the session and the
// subscription it creates.
func (r SessionRequest) Metadata() map[string]string {
	md := map[string]string{
		MetaAccountID: r.AccountID,
		MetaTier:      r.Tier,
	}
	if r.CouponCode != "" {
		md[MetaCouponCode] = r.CouponCode
	}
	if r.TrialDays > 0 {
		md[MetaTrialDays] = strconv.Itoa(r.TrialDays)
	}
	return md
}

// Session is a processor-issued checkout handle.
type Session struct {
	ID        string
	URL       string
	ExpiresAt time.Time
}

// EventType is the normalized webhook event type.
type EventType string

const (
	EventCheckoutCompleted       EventType = "checkout_completed"
	EventInvoicePaymentSucceeded EventType = "invoice_payment_succeeded"
	EventInvoicePaymentFailed    EventType = "invoice_payment_failed"
	EventSubscriptionUpdated     EventType = "subscription_updated"
	EventSubscriptionDeleted     EventType = "subscription_deleted"
	EventTrialWillEnd            EventType = "trial_will_end"
	EventUnknown                 EventType = "unknown"
)

// Name implements statemachine.Event.
func (t EventType) Name() string {
	return string(t)
}

// Subscription statuses reported by processors, normalized to one vocabulary.
const (
	StatusTrialing          = "trialing"
	StatusActive            = "active"
	StatusPastDue           = "past_due"
	StatusUnpaid            = "unpaid"
	StatusCanceled          = "canceled"
	StatusIncomplete        = "incomplete"
	StatusIncompleteExpired = "incomplete_expired"
	StatusPaused            = "paused"
)

// Event is a verified, normalized webhook event.
type Event struct {
	ID            string
	Type          EventType
	ProviderEvent string
	OccurredAt    time.Time

	AccountID      string
	Tier           string
	CouponCode     string
	CustomerID     string
	SubscriptionID string
	SessionID      string
	InvoiceID      string
	Status         string

	TrialDays   int
	TrialEnd    *time.Time
	PeriodStart *time.Time
	PeriodEnd   *time.Time

	Amount   decimal.Decimal
	Currency string
}

// HasTrial reports whether the event describes a subscription with a trial window.
func (e *Event) HasTrial() bool {
	return e.TrialDays > 0 || (e.TrialEnd != nil && e.TrialEnd.After(e.OccurredAt))
}
