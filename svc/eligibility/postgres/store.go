// Package postgres implements eligibility.Store on PostgreSQL with pgx.
//
// Counter increments and subscription transitions are single conditional
// statements, so concurrent callers are serialised by the database rather
// than by application code.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/paygate/pkg/pg"
	"github.com/dmitrymomot/paygate/svc/eligibility"
)

// Store is the PostgreSQL-backed eligibility store.
type Store struct {
	pool *pgxpool.Pool
}

var _ eligibility.Store = (*Store)(nil)

// New returns a store using pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const accountColumns = `id, email, phone, tier, whitelisted, whitelist_reason,
	external_customer_id, external_subscription_id, subscription_active,
	subscription_state, period_start, period_end, trial_end, created_at, updated_at`

func scanAccount(row pgx.Row) (*eligibility.Account, error) {
	var a eligibility.Account
	err := row.Scan(
		&a.ID,
		&a.Email,
		&a.Phone,
		&a.Tier,
		&a.Whitelisted,
		&a.WhitelistReason,
		&a.ExternalCustomerID,
		&a.ExternalSubscriptionID,
		&a.SubscriptionActive,
		&a.SubscriptionState,
		&a.PeriodStart,
		&a.PeriodEnd,
		&a.TrialEnd,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) GetAccount(ctx context.Context, id uuid.UUID) (*eligibility.Account, error) {
	return s.queryAccount(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
}

func (s *Store) GetAccountByEmail(ctx context.Context, email string) (*eligibility.Account, error) {
	email = eligibility.NormalizeEmail(email)
	if email == "" {
		return nil, eligibility.ErrAccountNotFound
	}
	return s.queryAccount(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email = $1`, email)
}

func (s *Store) GetAccountBySubscriptionID(ctx context.Context, subscriptionID string) (*eligibility.Account, error) {
	if subscriptionID == "" {
		return nil, eligibility.ErrAccountNotFound
	}
	return s.queryAccount(ctx, `SELECT `+accountColumns+` FROM accounts WHERE external_subscription_id = $1
		ORDER BY updated_at DESC LIMIT 1`, subscriptionID)
}

func (s *Store) GetAccountByCustomerID(ctx context.Context, customerID string) (*eligibility.Account, error) {
	if customerID == "" {
		return nil, eligibility.ErrAccountNotFound
	}
	return s.queryAccount(ctx, `SELECT `+accountColumns+` FROM accounts WHERE external_customer_id = $1
		ORDER BY created_at LIMIT 1`, customerID)
}

func (s *Store) queryAccount(ctx context.Context, query string, args ...any) (*eligibility.Account, error) {
	acc, err := scanAccount(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		return nil, storeErr(err, eligibility.ErrAccountNotFound)
	}
	return acc, nil
}

func (s *Store) EnsureAccount(ctx context.Context, id uuid.UUID, email, phone string) (*eligibility.Account, error) {
	query := `
INSERT INTO accounts (id, email, phone)
VALUES ($1, $2, $3)
ON CONFLICT (id) DO UPDATE
SET email = CASE WHEN accounts.email = '' THEN EXCLUDED.email ELSE accounts.email END,
    phone = CASE WHEN accounts.phone = '' THEN EXCLUDED.phone ELSE accounts.phone END,
    updated_at = NOW()
RETURNING ` + accountColumns
	acc, err := scanAccount(s.pool.QueryRow(ctx, query, id, eligibility.NormalizeEmail(email), phone))
	if err != nil {
		if pg.IsDuplicateKeyError(err) {
			return nil, eligibility.ErrEmailTaken
		}
		return nil, storeErr(err, eligibility.ErrAccountNotFound)
	}
	return acc, nil
}

func (s *Store) SetCustomerID(ctx context.Context, id uuid.UUID, customerID string) (string, error) {
	query := `
UPDATE accounts
SET external_customer_id = CASE WHEN external_customer_id = '' THEN $2 ELSE external_customer_id END,
    updated_at = NOW()
WHERE id = $1
RETURNING external_customer_id`
	var stored string
	if err := s.pool.QueryRow(ctx, query, id, customerID).Scan(&stored); err != nil {
		return "", storeErr(err, eligibility.ErrAccountNotFound)
	}
	return stored, nil
}

func (s *Store) GrantWhitelist(ctx context.Context, id uuid.UUID, tier eligibility.Tier, reason string) (*eligibility.Account, error) {
	query := `
UPDATE accounts
SET tier = $2, whitelisted = TRUE, whitelist_reason = $3, subscription_active = TRUE, updated_at = NOW()
WHERE id = $1
RETURNING ` + accountColumns
	return s.queryAccount(ctx, query, id, string(tier), reason)
}

func (s *Store) TransitionSubscription(ctx context.Context, id uuid.UUID, expected eligibility.SubscriptionState, u eligibility.SubscriptionUpdate) (*eligibility.Account, error) {
	query := `
UPDATE accounts
SET subscription_state = $3,
    subscription_active = $4,
    tier = COALESCE(NULLIF($5::text, ''), tier),
    external_subscription_id = COALESCE(NULLIF($6::text, ''), external_subscription_id),
    external_customer_id = COALESCE(NULLIF($7::text, ''), external_customer_id),
    period_start = COALESCE($8::timestamptz, period_start),
    period_end = COALESCE($9::timestamptz, period_end),
    trial_end = COALESCE($10::timestamptz, trial_end),
    updated_at = NOW()
WHERE id = $1 AND subscription_state = $2
RETURNING ` + accountColumns
	acc, err := scanAccount(s.pool.QueryRow(ctx, query,
		id,
		string(expected),
		string(u.State),
		u.Active,
		string(u.Tier),
		u.SubscriptionID,
		u.CustomerID,
		u.PeriodStart,
		u.PeriodEnd,
		u.TrialEnd,
	))
	if err == nil {
		return acc, nil
	}
	if !pg.IsNotFoundError(err) {
		return nil, storeErr(err, nil)
	}

	// No row matched: either the account is missing or its state moved on.
	if _, getErr := s.GetAccount(ctx, id); getErr != nil {
		return nil, getErr
	}
	return nil, eligibility.ErrStateConflict
}

func (s *Store) HasPaidHistory(ctx context.Context, id uuid.UUID) (bool, error) {
	var paid bool
	err := s.pool.QueryRow(ctx,
		`SELECT external_subscription_id <> '' OR subscription_state <> 'none' FROM accounts WHERE id = $1`,
		id,
	).Scan(&paid)
	if pg.IsNotFoundError(err) {
		return false, nil
	}
	if err != nil {
		return false, storeErr(err, nil)
	}
	return paid, nil
}

func (s *Store) CountActiveSubscribers(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM accounts WHERE subscription_state IN ('trialing', 'active', 'past_due')`,
	).Scan(&n)
	if err != nil {
		return 0, storeErr(err, nil)
	}
	return n, nil
}

// storeErr maps pgx.ErrNoRows to notFound and everything else to a retryable
// store failure that still wraps the driver error.
func storeErr(err, notFound error) error {
	if notFound != nil && pg.IsNotFoundError(err) {
		return notFound
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return errors.Join(eligibility.ErrStoreUnavailable, fmt.Errorf("postgres: %w", err))
}
