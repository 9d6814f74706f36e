package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/paygate/pkg/pg/pgtest"
	"github.com/dmitrymomot/paygate/svc/ledger"
	"github.com/dmitrymomot/paygate/svc/ledger/postgres"
)

func TestStore(t *testing.T) {
	store := postgres.New(pgtest.NewPool(t))
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	account := uuid.New()

	pay := &ledger.Entry{
		ID:        uuid.New(),
		Kind:      ledger.KindPayment,
		AccountID: account,
		EventID:   "evt_1",
		Amount:    decimal.RequireFromString("9.99"),
		Currency:  "USD",
		CreatedAt: now,
	}
	require.NoError(t, store.Insert(ctx, pay))

	dup := *pay
	dup.ID = uuid.New()
	assert.ErrorIs(t, store.Insert(ctx, &dup), ledger.ErrDuplicateEntry)

	redemption := &ledger.Entry{
		ID:         uuid.New(),
		Kind:       ledger.KindCouponRedemption,
		AccountID:  account,
		CouponID:   uuid.New(),
		CouponCode: "WELCOME30",
		SessionID:  "cs_1",
		Amount:     decimal.RequireFromString("2.443"),
		Discount:   decimal.RequireFromString("1.047"),
		TrialDays:  14,
		CreatedAt:  now.Add(time.Second),
	}
	require.NoError(t, store.Insert(ctx, redemption))

	got, err := store.Get(ctx, redemption.ID)
	require.NoError(t, err)
	assert.Equal(t, redemption.CouponID, got.CouponID)
	assert.True(t, redemption.Discount.Equal(got.Discount))
	assert.Equal(t, uuid.Nil, got.ReversesID)

	_, err = store.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, ledger.ErrEntryNotFound)

	rev := *pay
	rev.ID = uuid.New()
	rev.EventID = ""
	rev.Reversal = true
	rev.ReversesID = pay.ID
	rev.CreatedAt = now.Add(2 * time.Second)
	require.NoError(t, store.Insert(ctx, &rev))

	again := rev
	again.ID = uuid.New()
	assert.ErrorIs(t, store.Insert(ctx, &again), ledger.ErrDuplicateEntry)

	entries, err := store.List(ctx, ledger.Filter{AccountID: account}.Normalize())
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, rev.ID, entries[0].ID)

	payments, err := store.List(ctx, ledger.Filter{Kind: ledger.KindPayment, Limit: 1})
	require.NoError(t, err)
	assert.Len(t, payments, 1)

	totals, err := store.Totals(ctx)
	require.NoError(t, err)
	assert.True(t, totals.Revenue.IsZero())
	assert.True(t, decimal.RequireFromString("1.047").Equal(totals.Discount))
	assert.Equal(t, int64(1), totals.Redemptions)
	assert.Equal(t, int64(0), totals.Payments)
}
