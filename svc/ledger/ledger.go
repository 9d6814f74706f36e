// Package ledger is the append-only record of coupon redemptions and
// payments. Rows are never edited or deleted; corrections are new rows that
// point at the row they reverse, and every analytics figure nets them out.
package ledger

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/paygate/svc/eligibility"
)

// Kind distinguishes what a ledger row records.
type Kind string

const (
	KindCouponRedemption Kind = "coupon_redemption"
	KindPayment          Kind = "payment"
)

// Entry is one immutable ledger row. For redemptions Discount holds the
// amount taken off and Amount the price charged after it. For payments
// Amount is what the processor collected.
type Entry struct {
	ID             uuid.UUID
	Kind           Kind
	AccountID      uuid.UUID
	CouponID       uuid.UUID
	CouponCode     string
	EventID        string
	SessionID      string
	SubscriptionID string
	Amount         decimal.Decimal
	Discount       decimal.Decimal
	Currency       string
	TrialDays      int
	Reversal       bool
	ReversesID     uuid.UUID
	Note           string
	CreatedAt      time.Time
}

// Payment is a processor-confirmed charge.
type Payment struct {
	EventID        string
	AccountID      uuid.UUID
	SubscriptionID string
	Amount         decimal.Decimal
	Currency       string
}

// Filter narrows Entries. Zero fields match everything.
type Filter struct {
	AccountID uuid.UUID
	Kind      Kind
	Since     *time.Time
	Until     *time.Time
	Limit     int
}

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// Normalize clamps Limit into [1, MaxLimit].
func (f Filter) Normalize() Filter {
	switch {
	case f.Limit <= 0:
		f.Limit = DefaultLimit
	case f.Limit > MaxLimit:
		f.Limit = MaxLimit
	}
	return f
}

// Match reports whether e passes the filter. Limit is not considered.
func (f Filter) Match(e *Entry) bool {
	if f.AccountID != uuid.Nil && e.AccountID != f.AccountID {
		return false
	}
	if f.Kind != "" && e.Kind != f.Kind {
		return false
	}
	if f.Since != nil && e.CreatedAt.Before(*f.Since) {
		return false
	}
	if f.Until != nil && e.CreatedAt.After(*f.Until) {
		return false
	}
	return true
}

// Summary is the analytics view over the ledger. Reversed rows are excluded.
type Summary struct {
	TotalRevenue      decimal.Decimal
	TotalDiscount     decimal.Decimal
	AverageDiscount   decimal.Decimal
	Redemptions       int64
	Payments          int64
	ActiveSubscribers int64
}

// Ledger records and reads usage rows.
type Ledger interface {
	// RecordCouponUsage appends the ledger side of a committed redemption.
	RecordCouponUsage(ctx context.Context, usage eligibility.CouponUsage, finalPrice decimal.Decimal, currency string) (*Entry, error)

	// RecordPayment appends a payment row. A second call with the same event
	// id returns ErrDuplicateEntry and writes nothing.
	RecordPayment(ctx context.Context, p Payment) (*Entry, error)

	// RecordReversal appends a row cancelling entryID. Each row can be
	// reversed once; reversals themselves cannot be reversed.
	RecordReversal(ctx context.Context, entryID uuid.UUID, note string) (*Entry, error)

	Entries(ctx context.Context, f Filter) ([]Entry, error)
	Summary(ctx context.Context) (*Summary, error)
}

// SubscriberCounter reports the live paid subscriber count.
type SubscriberCounter interface {
	CountActiveSubscribers(ctx context.Context) (int64, error)
}

// Option configures the ledger service.
type Option func(*service)

// WithClock overrides the clock used for CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *service) {
		if now != nil {
			s.now = now
		}
	}
}

type service struct {
	store       Store
	subscribers SubscriberCounter
	now         func() time.Time
}

// New returns a Ledger on store. Panics if store or subscribers is nil.
func New(store Store, subscribers SubscriberCounter, opts ...Option) Ledger {
	if store == nil {
		panic("ledger: store is required")
	}
	if subscribers == nil {
		panic("ledger: subscriber counter is required")
	}
	s := &service{
		store:       store,
		subscribers: subscribers,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) RecordCouponUsage(ctx context.Context, usage eligibility.CouponUsage, finalPrice decimal.Decimal, currency string) (*Entry, error) {
	if usage.CouponID == uuid.Nil || usage.AccountID == uuid.Nil {
		return nil, ErrInvalidEntry
	}
	e := &Entry{
		ID:         uuid.New(),
		Kind:       KindCouponRedemption,
		AccountID:  usage.AccountID,
		CouponID:   usage.CouponID,
		CouponCode: usage.CouponCode,
		SessionID:  usage.SessionID,
		Amount:     finalPrice,
		Discount:   usage.DiscountApplied,
		Currency:   strings.ToUpper(currency),
		TrialDays:  usage.TrialDaysGranted,
		CreatedAt:  s.now(),
	}
	if err := s.store.Insert(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

func (s *service) RecordPayment(ctx context.Context, p Payment) (*Entry, error) {
	if p.EventID == "" || p.Amount.IsNegative() {
		return nil, ErrInvalidEntry
	}
	e := &Entry{
		ID:             uuid.New(),
		Kind:           KindPayment,
		AccountID:      p.AccountID,
		EventID:        p.EventID,
		SubscriptionID: p.SubscriptionID,
		Amount:         p.Amount,
		Currency:       strings.ToUpper(p.Currency),
		CreatedAt:      s.now(),
	}
	if err := s.store.Insert(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

func (s *service) RecordReversal(ctx context.Context, entryID uuid.UUID, note string) (*Entry, error) {
	orig, err := s.store.Get(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if orig.Reversal {
		return nil, ErrReverseReversal
	}

	e := *orig
	e.ID = uuid.New()
	e.EventID = ""
	e.Reversal = true
	e.ReversesID = orig.ID
	e.Note = note
	e.CreatedAt = s.now()
	if err := s.store.Insert(ctx, &e); err != nil {
		if errors.Is(err, ErrDuplicateEntry) {
			return nil, ErrAlreadyReversed
		}
		return nil, err
	}
	return &e, nil
}

func (s *service) Entries(ctx context.Context, f Filter) ([]Entry, error) {
	return s.store.List(ctx, f.Normalize())
}

// Summary reads the ledger totals and the subscriber count concurrently.
func (s *service) Summary(ctx context.Context) (*Summary, error) {
	var (
		totals      Totals
		subscribers int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		totals, err = s.store.Totals(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		subscribers, err = s.subscribers.CountActiveSubscribers(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, errors.Join(ErrSummaryFailed, err)
	}

	sum := &Summary{
		TotalRevenue:      totals.Revenue,
		TotalDiscount:     totals.Discount,
		AverageDiscount:   decimal.Zero,
		Redemptions:       totals.Redemptions,
		Payments:          totals.Payments,
		ActiveSubscribers: subscribers,
	}
	if totals.Redemptions > 0 {
		sum.AverageDiscount = totals.Discount.DivRound(decimal.NewFromInt(totals.Redemptions), 4)
	}
	return sum, nil
}
