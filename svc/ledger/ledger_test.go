package ledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/paygate/svc/eligibility"
	"github.com/dmitrymomot/paygate/svc/ledger"
)

type mockCounter struct {
	mock.Mock
}

func (m *mockCounter) CountActiveSubscribers(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func newLedger(t *testing.T, subscribers int64) ledger.Ledger {
	t.Helper()
	counter := &mockCounter{}
	counter.On("CountActiveSubscribers", mock.Anything).Return(subscribers, nil)
	return ledger.New(ledger.NewMemoryStore(), counter)
}

func usage(discount string) eligibility.CouponUsage {
	return eligibility.CouponUsage{
		ID:               uuid.New(),
		CouponID:         uuid.New(),
		CouponCode:       "WELCOME30",
		AccountID:        uuid.New(),
		DiscountApplied:  decimal.RequireFromString(discount),
		TrialDaysGranted: 14,
		SessionID:        "cs_" + uuid.NewString(),
	}
}

func TestLedger_RecordPayment(t *testing.T) {
	t.Parallel()

	l := newLedger(t, 0)
	ctx := context.Background()
	p := ledger.Payment{EventID: "evt_1", AccountID: uuid.New(), SubscriptionID: "sub_1", Amount: decimal.RequireFromString("3.49"), Currency: "usd"}

	e, err := l.RecordPayment(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, ledger.KindPayment, e.Kind)
	assert.Equal(t, "USD", e.Currency)

	_, err = l.RecordPayment(ctx, p)
	assert.ErrorIs(t, err, ledger.ErrDuplicateEntry)

	entries, err := l.Entries(ctx, ledger.Filter{Kind: ledger.KindPayment})
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	_, err = l.RecordPayment(ctx, ledger.Payment{Amount: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, ledger.ErrInvalidEntry)
}

func TestLedger_Reversal(t *testing.T) {
	t.Parallel()

	l := newLedger(t, 0)
	ctx := context.Background()

	pay, err := l.RecordPayment(ctx, ledger.Payment{EventID: "evt_1", Amount: decimal.RequireFromString("9.99"), Currency: "USD"})
	require.NoError(t, err)

	rev, err := l.RecordReversal(ctx, pay.ID, "refund")
	require.NoError(t, err)
	assert.True(t, rev.Reversal)
	assert.Equal(t, pay.ID, rev.ReversesID)
	assert.Equal(t, "refund", rev.Note)

	_, err = l.RecordReversal(ctx, pay.ID, "again")
	assert.ErrorIs(t, err, ledger.ErrAlreadyReversed)

	_, err = l.RecordReversal(ctx, rev.ID, "undo")
	assert.ErrorIs(t, err, ledger.ErrReverseReversal)

	_, err = l.RecordReversal(ctx, uuid.New(), "missing")
	assert.ErrorIs(t, err, ledger.ErrEntryNotFound)

	// The original row is untouched.
	entries, err := l.Entries(ctx, ledger.Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.True(t, entries[0].Reversal, "newest first")
	assert.False(t, entries[1].Reversal)
	assert.Equal(t, "9.99", entries[1].Amount.String())
}

func TestLedger_Summary(t *testing.T) {
	t.Parallel()

	l := newLedger(t, 3)
	ctx := context.Background()

	_, err := l.RecordCouponUsage(ctx, usage("1.047"), decimal.RequireFromString("2.443"), "usd")
	require.NoError(t, err)
	second, err := l.RecordCouponUsage(ctx, usage("2"), decimal.RequireFromString("7.99"), "usd")
	require.NoError(t, err)
	_, err = l.RecordCouponUsage(ctx, usage("1"), decimal.RequireFromString("2.49"), "usd")
	require.NoError(t, err)

	_, err = l.RecordPayment(ctx, ledger.Payment{EventID: "evt_a", Amount: decimal.RequireFromString("3.49")})
	require.NoError(t, err)
	refunded, err := l.RecordPayment(ctx, ledger.Payment{EventID: "evt_b", Amount: decimal.RequireFromString("9.99")})
	require.NoError(t, err)

	_, err = l.RecordReversal(ctx, second.ID, "support override")
	require.NoError(t, err)
	_, err = l.RecordReversal(ctx, refunded.ID, "refund")
	require.NoError(t, err)

	sum, err := l.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, "3.49", sum.TotalRevenue.String())
	assert.Equal(t, int64(1), sum.Payments)
	assert.Equal(t, int64(2), sum.Redemptions)
	assert.Equal(t, "2.047", sum.TotalDiscount.String())
	assert.Equal(t, "1.0235", sum.AverageDiscount.String())
	assert.Equal(t, int64(3), sum.ActiveSubscribers)
}

func TestLedger_SummaryEmpty(t *testing.T) {
	t.Parallel()

	sum, err := newLedger(t, 0).Summary(context.Background())
	require.NoError(t, err)
	assert.True(t, sum.AverageDiscount.IsZero())
	assert.True(t, sum.TotalRevenue.IsZero())
}

func TestLedger_SummaryCounterFailure(t *testing.T) {
	t.Parallel()

	counter := &mockCounter{}
	counter.On("CountActiveSubscribers", mock.Anything).Return(int64(0), errors.New("db down"))
	_, err := ledger.New(ledger.NewMemoryStore(), counter).Summary(context.Background())
	assert.ErrorIs(t, err, ledger.ErrSummaryFailed)
}

func TestLedger_EntriesFilter(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start
	counter := &mockCounter{}
	l := ledger.New(ledger.NewMemoryStore(), counter, ledger.WithClock(func() time.Time {
		now = now.Add(time.Hour)
		return now
	}))
	ctx := context.Background()

	u := usage("1")
	for i := range 5 {
		u.ID = uuid.New()
		_, err := l.RecordCouponUsage(ctx, u, decimal.NewFromInt(int64(i)), "USD")
		require.NoError(t, err)
	}
	_, err := l.RecordPayment(ctx, ledger.Payment{EventID: "evt", AccountID: u.AccountID, Amount: decimal.NewFromInt(1)})
	require.NoError(t, err)

	all, err := l.Entries(ctx, ledger.Filter{AccountID: u.AccountID})
	require.NoError(t, err)
	assert.Len(t, all, 6)

	limited, err := l.Entries(ctx, ledger.Filter{Kind: ledger.KindCouponRedemption, Limit: 2})
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, "4", limited[0].Amount.String())

	since := start.Add(3 * time.Hour)
	recent, err := l.Entries(ctx, ledger.Filter{Kind: ledger.KindCouponRedemption, Since: &since})
	require.NoError(t, err)
	assert.Len(t, recent, 3)

	none, err := l.Entries(ctx, ledger.Filter{AccountID: uuid.New()})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestFilter_Normalize(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ledger.DefaultLimit, ledger.Filter{}.Normalize().Limit)
	assert.Equal(t, ledger.MaxLimit, ledger.Filter{Limit: 5000}.Normalize().Limit)
	assert.Equal(t, 7, ledger.Filter{Limit: 7}.Normalize().Limit)
}
