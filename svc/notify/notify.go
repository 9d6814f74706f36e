// Package notify tells account holders about billing lifecycle events.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/paygate/pkg/email"
	"github.com/dmitrymomot/paygate/svc/eligibility"
)

var ErrMissingRecipient = errors.New("notify: account has no email")

// TrialEnding describes a trial that is about to convert or lapse.
type TrialEnding struct {
	AccountID uuid.UUID
	Email     string
	Tier      eligibility.Tier
	TrialEnd  *time.Time
}

// Notifier dispatches lifecycle notifications.
type Notifier interface {
	TrialEnding(ctx context.Context, n TrialEnding) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n TrialEnding) error

func (f NotifierFunc) TrialEnding(ctx context.Context, n TrialEnding) error {
	return f(ctx, n)
}

// EmailNotifier sends notifications as transactional email.
type EmailNotifier struct {
	sender  email.Sender
	product string
}

// NewEmailNotifier panics if sender is nil.
func NewEmailNotifier(sender email.Sender, product string) *EmailNotifier {
	if sender == nil {
		panic("notify: email sender is required")
	}
	if product == "" {
		product = "your subscription"
	}
	return &EmailNotifier{sender: sender, product: product}
}

func (n *EmailNotifier) TrialEnding(ctx context.Context, t TrialEnding) error {
	if strings.TrimSpace(t.Email) == "" {
		return ErrMissingRecipient
	}

	when := "soon"
	if t.TrialEnd != nil {
		when = "on " + t.TrialEnd.UTC().Format("January 2, 2006")
	}
	plan := string(t.Tier)
	if plan == "" {
		plan = "paid"
	}

	return n.sender.Send(ctx, email.Message{
		To:      t.Email,
		Subject: fmt.Sprintf("Your %s trial ends %s", n.product, when),
		TextBody: fmt.Sprintf(
			"Hi,\n\nYour free trial of the %s plan ends %s. "+
				"Your subscription will continue automatically unless you cancel before then.\n",
			plan, when,
		),
		Tag: "trial-ending",
	})
}
