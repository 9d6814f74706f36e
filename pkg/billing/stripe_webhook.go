package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// ParseWebhook implements Provider. Any verification failure, including a
// stale timestamp, is reported as ErrInvalidSignature.
func (p *StripeProvider) ParseWebhook(_ context.Context, payload []byte, signature string) (*Event, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signature, p.cfg.WebhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	return decodeStripeEvent(ev)
}

func decodeStripeEvent(ev stripe.Event) (*Event, error) {
	out := &Event{
		ID:            ev.ID,
		ProviderEvent: string(ev.Type),
		Type:          EventUnknown,
		OccurredAt:    time.Unix(ev.Created, 0).UTC(),
	}
	if ev.Data == nil || len(ev.Data.Raw) == 0 {
		return out, nil
	}

	switch ev.Type {
	case "checkout.session.completed":
		var s stripeCheckoutSession
		if err := json.Unmarshal(ev.Data.Raw, &s); err != nil {
			return nil, fmt.Errorf("%w: checkout session: %w", ErrInvalidPayload, err)
		}
		if s.Mode != string(stripe.CheckoutSessionModeSubscription) {
			return out, nil
		}
		out.Type = EventCheckoutCompleted
		out.SessionID = s.ID
		out.CustomerID = s.Customer
		out.SubscriptionID = s.Subscription
		out.Currency = strings.ToUpper(s.Currency)
		applyMetadata(out, s.Metadata)
		if out.AccountID == "" {
			out.AccountID = s.ClientReferenceID
		}

	case "invoice.payment_succeeded", "invoice.payment_failed":
		var inv stripeInvoice
		if err := json.Unmarshal(ev.Data.Raw, &inv); err != nil {
			return nil, fmt.Errorf("%w: invoice: %w", ErrInvalidPayload, err)
		}
		out.Type = EventInvoicePaymentSucceeded
		amount := inv.AmountPaid
		if ev.Type == "invoice.payment_failed" {
			out.Type = EventInvoicePaymentFailed
			amount = inv.AmountDue
		}
		out.InvoiceID = inv.ID
		out.CustomerID = inv.Customer
		out.SubscriptionID = inv.subscriptionID()
		out.Amount = decimal.New(amount, -2)
		out.Currency = strings.ToUpper(inv.Currency)
		applyMetadata(out, inv.metadata())
		if len(inv.Lines.Data) > 0 {
			out.PeriodStart = unixTime(inv.Lines.Data[0].Period.Start)
			out.PeriodEnd = unixTime(inv.Lines.Data[0].Period.End)
		}

	case "customer.subscription.created", "customer.subscription.updated",
		"customer.subscription.deleted", "customer.subscription.trial_will_end":
		var sub stripeSubscription
		if err := json.Unmarshal(ev.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("%w: subscription: %w", ErrInvalidPayload, err)
		}
		switch ev.Type {
		case "customer.subscription.deleted":
			out.Type = EventSubscriptionDeleted
		case "customer.subscription.trial_will_end":
			out.Type = EventTrialWillEnd
		default:
			out.Type = EventSubscriptionUpdated
		}
		out.SubscriptionID = sub.ID
		out.CustomerID = sub.Customer
		out.Status = sub.Status
		out.TrialEnd = unixTime(sub.TrialEnd)
		out.PeriodStart, out.PeriodEnd = sub.period()
		applyMetadata(out, sub.Metadata)
	}

	return out, nil
}

func applyMetadata(e *Event, md map[string]string) {
	if len(md) == 0 {
		return
	}
	e.AccountID = md[MetaAccountID]
	e.Tier = md[MetaTier]
	e.CouponCode = md[MetaCouponCode]
	if v, err := strconv.Atoi(md[MetaTrialDays]); err == nil && v > 0 {
		e.TrialDays = v
	}
}

func unixTime(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}

type stripeCheckoutSession struct {
	ID                string            `json:"id"`
	Mode              string            `json:"mode"`
	Customer          string            `json:"customer"`
	Subscription      string            `json:"subscription"`
	ClientReferenceID string            `json:"client_reference_id"`
	Currency          string            `json:"currency"`
	Metadata          map[string]string `json:"metadata"`
}

type stripePeriod struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// stripeInvoice accepts both the pre-2025 layout, where the subscription id
// sits on the invoice, and the newer one under parent.subscription_details.
type stripeInvoice struct {
	ID           string `json:"id"`
	Customer     string `json:"customer"`
	Subscription string `json:"subscription"`
	AmountPaid   int64  `json:"amount_paid"`
	AmountDue    int64  `json:"amount_due"`
	Currency     string `json:"currency"`
	Parent       struct {
		SubscriptionDetails struct {
			Subscription string            `json:"subscription"`
			Metadata     map[string]string `json:"metadata"`
		} `json:"subscription_details"`
	} `json:"parent"`
	SubscriptionDetails struct {
		Metadata map[string]string `json:"metadata"`
	} `json:"subscription_details"`
	Lines struct {
		Data []struct {
			Period stripePeriod `json:"period"`
		} `json:"data"`
	} `json:"lines"`
}

func (i *stripeInvoice) subscriptionID() string {
	if i.Subscription != "" {
		return i.Subscription
	}
	return i.Parent.SubscriptionDetails.Subscription
}

func (i *stripeInvoice) metadata() map[string]string {
	if md := i.Parent.SubscriptionDetails.Metadata; len(md) > 0 {
		return md
	}
	return i.SubscriptionDetails.Metadata
}

// stripeSubscription carries the billing period either on the subscription
// (older API versions) or on its items.
type stripeSubscription struct {
	ID                 string `json:"id"`
	Customer           string `json:"customer"`
	Status             string `json:"status"`
	TrialEnd           int64  `json:"trial_end"`
	CurrentPeriodStart int64  `json:"current_period_start"`
	CurrentPeriodEnd   int64  `json:"current_period_end"`
	Items              struct {
		Data []struct {
			CurrentPeriodStart int64 `json:"current_period_start"`
			CurrentPeriodEnd   int64 `json:"current_period_end"`
		} `json:"data"`
	} `json:"items"`
	Metadata map[string]string `json:"metadata"`
}

func (s *stripeSubscription) period() (*time.Time, *time.Time) {
	start, end := s.CurrentPeriodStart, s.CurrentPeriodEnd
	if start == 0 && len(s.Items.Data) > 0 {
		start, end = s.Items.Data[0].CurrentPeriodStart, s.Items.Data[0].CurrentPeriodEnd
	}
	return unixTime(start), unixTime(end)
}
