package reconcile_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/paygate/pkg/billing"
	"github.com/dmitrymomot/paygate/pkg/logger"
	"github.com/dmitrymomot/paygate/svc/eligibility"
	"github.com/dmitrymomot/paygate/svc/ledger"
	"github.com/dmitrymomot/paygate/svc/notify"
	"github.com/dmitrymomot/paygate/svc/reconcile"
)

const validSignature = "sig-ok"

// jsonProvider accepts billing.Event JSON signed with validSignature.
type jsonProvider struct{}

func (jsonProvider) Name() string { return "json" }
func (jsonProvider) FindCustomerByEmail(context.Context, string) (string, error) {
	return "", billing.ErrUnsupported
}
func (jsonProvider) CreateCustomer(context.Context, billing.CustomerRequest) (string, error) {
	return "", billing.ErrUnsupported
}
func (jsonProvider) CreateCheckoutSession(context.Context, billing.SessionRequest) (*billing.Session, error) {
	return nil, billing.ErrUnsupported
}

func (jsonProvider) ParseWebhook(_ context.Context, payload []byte, signature string) (*billing.Event, error) {
	if signature != validSignature {
		return nil, billing.ErrInvalidSignature
	}
	var ev billing.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, errors.Join(billing.ErrInvalidPayload, err)
	}
	return &ev, nil
}

type mockEventLog struct {
	mock.Mock
}

func (m *mockEventLog) Claim(ctx context.Context, eventID, eventType string) (bool, error) {
	args := m.Called(ctx, eventID, eventType)
	return args.Bool(0), args.Error(1)
}

func (m *mockEventLog) Complete(ctx context.Context, eventID string) error {
	return m.Called(ctx, eventID).Error(0)
}

func (m *mockEventLog) Release(ctx context.Context, eventID string) error {
	return m.Called(ctx, eventID).Error(0)
}

type fixture struct {
	store    *eligibility.MemoryStore
	ledger   ledger.Ledger
	notified atomic.Int32
	r        reconcile.Reconciler
}

func newFixture(t *testing.T, opts ...reconcile.Option) *fixture {
	t.Helper()
	f := &fixture{store: eligibility.NewMemoryStore()}
	f.ledger = ledger.New(ledger.NewMemoryStore(), f.store)
	opts = append([]reconcile.Option{
		reconcile.WithLedger(f.ledger),
		reconcile.WithLogger(logger.Nop()),
		reconcile.WithNotifier(notify.NotifierFunc(func(context.Context, notify.TrialEnding) error {
			f.notified.Add(1)
			return nil
		})),
	}, opts...)
	f.r = reconcile.New(jsonProvider{}, f.store, reconcile.NewMemoryEventLog(time.Minute), opts...)
	return f
}

func (f *fixture) account(t *testing.T) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := f.store.EnsureAccount(context.Background(), id, id.String()+"@example.com", "")
	require.NoError(t, err)
	return id
}

func (f *fixture) deliver(t *testing.T, ev billing.Event) *reconcile.Result {
	t.Helper()
	payload, err := json.Marshal(ev)
	require.NoError(t, err)
	res, err := f.r.Process(context.Background(), payload, validSignature)
	require.NoError(t, err)
	return res
}

func (f *fixture) state(t *testing.T, id uuid.UUID) *eligibility.Account {
	t.Helper()
	acc, err := f.store.GetAccount(context.Background(), id)
	require.NoError(t, err)
	require.True(t, acc.Consistent(), "active subscription requires a paid tier")
	return acc
}

func checkoutCompleted(eventID string, accountID uuid.UUID, sub string, trialDays int) billing.Event {
	return billing.Event{
		ID:             eventID,
		Type:           billing.EventCheckoutCompleted,
		OccurredAt:     time.Now(),
		AccountID:      accountID.String(),
		Tier:           "pro",
		CustomerID:     "cus_1",
		SubscriptionID: sub,
		SessionID:      "cs_" + eventID,
		TrialDays:      trialDays,
	}
}

func invoice(eventID string, typ billing.EventType, sub, amount string) billing.Event {
	return billing.Event{
		ID:             eventID,
		Type:           typ,
		OccurredAt:     time.Now(),
		SubscriptionID: sub,
		Amount:         decimal.RequireFromString(amount),
		Currency:       "usd",
	}
}

func TestProcess_CheckoutCompleted(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	trial, paid := f.account(t), f.account(t)

	res := f.deliver(t, checkoutCompleted("evt_1", trial, "sub_t", 21))
	assert.Equal(t, eligibility.StateNone, res.From)
	assert.Equal(t, eligibility.StateTrialing, res.To)
	acc := f.state(t, trial)
	assert.Equal(t, eligibility.StateTrialing, acc.SubscriptionState)
	assert.Equal(t, eligibility.TierPro, acc.Tier)
	assert.Equal(t, "sub_t", acc.ExternalSubscriptionID)
	assert.True(t, acc.SubscriptionActive)

	f.deliver(t, checkoutCompleted("evt_2", paid, "sub_p", 0))
	assert.Equal(t, eligibility.StateActive, f.state(t, paid).SubscriptionState)
}

func TestProcess_Idempotent(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	id := f.account(t)
	f.deliver(t, checkoutCompleted("evt_c", id, "sub_1", 0))

	pay := invoice("evt_pay", billing.EventInvoicePaymentSucceeded, "sub_1", "3.49")
	first := f.deliver(t, pay)
	assert.False(t, first.Duplicate)
	after := f.state(t, id)

	second := f.deliver(t, pay)
	assert.True(t, second.Duplicate)
	assert.Equal(t, after, f.state(t, id))

	sum, err := f.ledger.Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), sum.Payments)
	assert.Equal(t, "3.49", sum.TotalRevenue.String())
}

func TestProcess_PastDueAndRecovery(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	id := f.account(t)
	f.deliver(t, checkoutCompleted("evt_c", id, "sub_1", 0))

	res := f.deliver(t, invoice("evt_f", billing.EventInvoicePaymentFailed, "sub_1", "3.49"))
	assert.Equal(t, eligibility.StateActive, res.From)
	assert.Equal(t, eligibility.StatePastDue, res.To)
	acc := f.state(t, id)
	assert.Equal(t, eligibility.StatePastDue, acc.SubscriptionState)
	assert.True(t, acc.SubscriptionActive, "access is not revoked on the first failure")

	f.deliver(t, invoice("evt_s", billing.EventInvoicePaymentSucceeded, "sub_1", "3.49"))
	assert.Equal(t, eligibility.StateActive, f.state(t, id).SubscriptionState)
}

func TestProcess_TrialConversion(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	id := f.account(t)
	f.deliver(t, checkoutCompleted("evt_c", id, "sub_1", 7))

	// The zero-amount invoice issued when a trial starts keeps the trial.
	f.deliver(t, invoice("evt_zero", billing.EventInvoicePaymentSucceeded, "sub_1", "0"))
	assert.Equal(t, eligibility.StateTrialing, f.state(t, id).SubscriptionState)

	end := time.Now().Add(3 * 24 * time.Hour)
	f.deliver(t, billing.Event{ID: "evt_twe", Type: billing.EventTrialWillEnd, SubscriptionID: "sub_1", TrialEnd: &end})
	assert.Equal(t, int32(1), f.notified.Load())
	assert.Equal(t, eligibility.StateTrialing, f.state(t, id).SubscriptionState)

	f.deliver(t, invoice("evt_paid", billing.EventInvoicePaymentSucceeded, "sub_1", "3.49"))
	assert.Equal(t, eligibility.StateActive, f.state(t, id).SubscriptionState)
}

func TestProcess_SubscriptionUpdatedAndDeleted(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	id := f.account(t)
	f.deliver(t, checkoutCompleted("evt_c", id, "sub_1", 0))

	updated := func(eventID, status string) billing.Event {
		return billing.Event{ID: eventID, Type: billing.EventSubscriptionUpdated, SubscriptionID: "sub_1", Status: status, Tier: "business"}
	}

	f.deliver(t, updated("evt_u1", billing.StatusUnpaid))
	assert.Equal(t, eligibility.StatePastDue, f.state(t, id).SubscriptionState)

	res := f.deliver(t, updated("evt_u2", billing.StatusIncomplete))
	assert.True(t, res.Ignored)
	assert.Equal(t, eligibility.StatePastDue, f.state(t, id).SubscriptionState)

	f.deliver(t, updated("evt_u3", billing.StatusActive))
	acc := f.state(t, id)
	assert.Equal(t, eligibility.StateActive, acc.SubscriptionState)
	assert.Equal(t, eligibility.TierBusiness, acc.Tier)

	f.deliver(t, billing.Event{ID: "evt_d", Type: billing.EventSubscriptionDeleted, SubscriptionID: "sub_1"})
	acc = f.state(t, id)
	assert.Equal(t, eligibility.StateCanceled, acc.SubscriptionState)
	assert.False(t, acc.SubscriptionActive)
	assert.Equal(t, eligibility.TierFree, acc.Tier)

	// Canceled is terminal for this subscription.
	res = f.deliver(t, invoice("evt_late", billing.EventInvoicePaymentSucceeded, "sub_1", "3.49"))
	assert.True(t, res.Ignored)
	res = f.deliver(t, checkoutCompleted("evt_replay", id, "sub_1", 0))
	assert.True(t, res.Ignored)
	assert.Equal(t, eligibility.StateCanceled, f.state(t, id).SubscriptionState)

	// A new subscription revives the account.
	f.deliver(t, checkoutCompleted("evt_new", id, "sub_2", 0))
	acc = f.state(t, id)
	assert.Equal(t, eligibility.StateActive, acc.SubscriptionState)
	assert.Equal(t, "sub_2", acc.ExternalSubscriptionID)
}

func TestProcess_OutOfOrder(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	t.Run("delete before checkout", func(t *testing.T) {
		id := f.account(t)
		deleted := billing.Event{ID: "evt_del_" + id.String(), Type: billing.EventSubscriptionDeleted, AccountID: id.String(), SubscriptionID: "sub_x"}
		f.deliver(t, deleted)
		res := f.deliver(t, checkoutCompleted("evt_co_"+id.String(), id, "sub_x", 0))
		assert.True(t, res.Ignored)
		acc := f.state(t, id)
		assert.Equal(t, eligibility.StateCanceled, acc.SubscriptionState)
		assert.False(t, acc.SubscriptionActive)
	})

	t.Run("events for an old subscription", func(t *testing.T) {
		id := f.account(t)
		f.deliver(t, checkoutCompleted("evt_a_"+id.String(), id, "sub_new", 0))
		res := f.deliver(t, billing.Event{ID: "evt_b_" + id.String(), Type: billing.EventInvoicePaymentFailed, AccountID: id.String(), SubscriptionID: "sub_old"})
		assert.True(t, res.Ignored)
		assert.Equal(t, reconcile.IgnoredStale, res.Reason)
		assert.Equal(t, eligibility.StateActive, f.state(t, id).SubscriptionState)
	})

	t.Run("unknown account and type", func(t *testing.T) {
		res := f.deliver(t, invoice("evt_orphan", billing.EventInvoicePaymentFailed, "sub_nobody", "1"))
		assert.True(t, res.Ignored)
		assert.Equal(t, reconcile.IgnoredAccountNotFound, res.Reason)

		res = f.deliver(t, billing.Event{ID: "evt_unknown", Type: billing.EventUnknown, ProviderEvent: "customer.created"})
		assert.True(t, res.Ignored)
		assert.Equal(t, reconcile.IgnoredUnknownType, res.Reason)
	})
}

func TestProcess_MissingTier(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	id := f.account(t)
	ev := checkoutCompleted("evt_c", id, "sub_1", 0)
	ev.Tier = ""
	res := f.deliver(t, ev)
	assert.True(t, res.Ignored)
	assert.Equal(t, reconcile.IgnoredMissingTier, res.Reason)
	assert.Equal(t, eligibility.StateNone, f.state(t, id).SubscriptionState)
}

func TestProcess_InvalidSignature(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	id := f.account(t)
	payload, err := json.Marshal(checkoutCompleted("evt_c", id, "sub_1", 0))
	require.NoError(t, err)

	_, err = f.r.Process(context.Background(), payload, "forged")
	assert.ErrorIs(t, err, billing.ErrInvalidSignature)
	assert.Equal(t, eligibility.KindAuthenticity, eligibility.KindOf(err))
	assert.Equal(t, eligibility.StateNone, f.state(t, id).SubscriptionState)

	// The rejected delivery must not poison the event id.
	res := f.deliver(t, checkoutCompleted("evt_c", id, "sub_1", 0))
	assert.False(t, res.Duplicate)
	assert.Equal(t, eligibility.StateActive, f.state(t, id).SubscriptionState)

	_, err = f.r.Process(context.Background(), []byte("{"), validSignature)
	assert.ErrorIs(t, err, billing.ErrInvalidPayload)
	assert.Equal(t, eligibility.KindValidation, eligibility.KindOf(err))
}

func TestProcess_ConcurrentDuplicates(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	id := f.account(t)
	f.deliver(t, checkoutCompleted("evt_c", id, "sub_1", 0))
	payload, err := json.Marshal(invoice("evt_dup", billing.EventInvoicePaymentSucceeded, "sub_1", "9.99"))
	require.NoError(t, err)

	var (
		wg         sync.WaitGroup
		duplicates atomic.Int32
	)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.r.Process(context.Background(), payload, validSignature)
			if assert.NoError(t, err) && res.Duplicate {
				duplicates.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(19), duplicates.Load())
	entries, err := f.ledger.Entries(context.Background(), ledger.Filter{Kind: ledger.KindPayment})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestProcess_FailureReleasesClaim(t *testing.T) {
	t.Parallel()

	store := eligibility.NewMemoryStore()
	events := &mockEventLog{}
	events.On("Claim", mock.Anything, "evt_1", mock.Anything).Return(true, nil)
	events.On("Release", mock.Anything, "evt_1").Return(nil).Once()

	failing := &failingAccounts{AccountStore: store, err: errors.New("connection reset")}
	r := reconcile.New(jsonProvider{}, failing, events, reconcile.WithLogger(logger.Nop()))

	id := uuid.New()
	payload, err := json.Marshal(checkoutCompleted("evt_1", id, "sub_1", 0))
	require.NoError(t, err)

	_, err = r.Process(context.Background(), payload, validSignature)
	require.Error(t, err)
	assert.Equal(t, eligibility.KindStore, eligibility.KindOf(err))
	assert.True(t, eligibility.KindOf(err).Retryable())
	events.AssertExpectations(t)
	events.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
}

func TestProcess_ClaimFailure(t *testing.T) {
	t.Parallel()

	events := &mockEventLog{}
	events.On("Claim", mock.Anything, "evt_1", mock.Anything).Return(false, errors.New("redis: connection refused"))

	r := reconcile.New(jsonProvider{}, eligibility.NewMemoryStore(), events, reconcile.WithLogger(logger.Nop()))
	payload, err := json.Marshal(billing.Event{ID: "evt_1", Type: billing.EventInvoicePaymentFailed})
	require.NoError(t, err)

	_, err = r.Process(context.Background(), payload, validSignature)
	assert.ErrorIs(t, err, eligibility.ErrStoreUnavailable)
}

// failingAccounts fails every account lookup.
type failingAccounts struct {
	eligibility.AccountStore
	err error
}

func (f *failingAccounts) GetAccount(context.Context, uuid.UUID) (*eligibility.Account, error) {
	return nil, f.err
}

func TestProcess_ConflictRetried(t *testing.T) {
	t.Parallel()

	store := eligibility.NewMemoryStore()
	id := uuid.New()
	_, err := store.EnsureAccount(context.Background(), id, "race@example.com", "")
	require.NoError(t, err)

	racing := &racingAccounts{AccountStore: store, conflicts: 2}
	r := reconcile.New(jsonProvider{}, racing, reconcile.NewMemoryEventLog(time.Minute), reconcile.WithLogger(logger.Nop()))

	payload, err := json.Marshal(checkoutCompleted("evt_1", id, "sub_1", 0))
	require.NoError(t, err)
	res, err := r.Process(context.Background(), payload, validSignature)
	require.NoError(t, err)
	assert.Equal(t, eligibility.StateActive, res.To)

	acc, err := store.GetAccount(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, eligibility.StateActive, acc.SubscriptionState)

	exhausted := &racingAccounts{AccountStore: store, conflicts: 10}
	r = reconcile.New(jsonProvider{}, exhausted, reconcile.NewMemoryEventLog(time.Minute), reconcile.WithLogger(logger.Nop()))
	payload, err = json.Marshal(invoice("evt_2", billing.EventInvoicePaymentFailed, "sub_1", "1"))
	require.NoError(t, err)
	_, err = r.Process(context.Background(), payload, validSignature)
	assert.ErrorIs(t, err, reconcile.ErrTooManyConflicts)
}

// racingAccounts reports a lost compare-and-set for the first n writes.
type racingAccounts struct {
	eligibility.AccountStore
	conflicts int32
	seen      atomic.Int32
}

func (r *racingAccounts) TransitionSubscription(ctx context.Context, id uuid.UUID, expected eligibility.SubscriptionState, u eligibility.SubscriptionUpdate) (*eligibility.Account, error) {
	if r.seen.Add(1) <= r.conflicts {
		return nil, eligibility.ErrStateConflict
	}
	return r.AccountStore.TransitionSubscription(ctx, id, expected, u)
}
