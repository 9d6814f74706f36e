// Package postgres stores ledger rows in the ledger_entries table.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/paygate/pkg/pg"
	"github.com/dmitrymomot/paygate/svc/eligibility"
	"github.com/dmitrymomot/paygate/svc/ledger"
)

type Store struct {
	pool *pgxpool.Pool
}

var _ ledger.Store = (*Store)(nil)

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const entryColumns = `id, kind, account_id, coupon_id, coupon_code, event_id, session_id,
	subscription_id, amount, discount, currency, trial_days, reversal, reverses_id, note, created_at`

func nullable(id uuid.UUID) uuid.NullUUID {
	return uuid.NullUUID{UUID: id, Valid: id != uuid.Nil}
}

func (s *Store) Insert(ctx context.Context, e *ledger.Entry) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO ledger_entries (`+entryColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		e.ID,
		string(e.Kind),
		nullable(e.AccountID),
		nullable(e.CouponID),
		e.CouponCode,
		e.EventID,
		e.SessionID,
		e.SubscriptionID,
		e.Amount,
		e.Discount,
		e.Currency,
		e.TrialDays,
		e.Reversal,
		nullable(e.ReversesID),
		e.Note,
		e.CreatedAt,
	)
	switch {
	case err == nil:
		return nil
	case pg.IsDuplicateKeyError(err):
		return ledger.ErrDuplicateEntry
	case pg.IsForeignKeyViolationError(err):
		return ledger.ErrEntryNotFound
	}
	return errors.Join(eligibility.ErrStoreUnavailable, err)
}

func scanEntry(row pgx.Row) (*ledger.Entry, error) {
	var (
		e                           ledger.Entry
		accountID, couponID, revID uuid.NullUUID
	)
	err := row.Scan(
		&e.ID,
		&e.Kind,
		&accountID,
		&couponID,
		&e.CouponCode,
		&e.EventID,
		&e.SessionID,
		&e.SubscriptionID,
		&e.Amount,
		&e.Discount,
		&e.Currency,
		&e.TrialDays,
		&e.Reversal,
		&revID,
		&e.Note,
		&e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.AccountID = accountID.UUID
	e.CouponID = couponID.UUID
	e.ReversesID = revID.UUID
	return &e, nil
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (*ledger.Entry, error) {
	e, err := scanEntry(s.pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE id = $1`, id))
	if pg.IsNotFoundError(err) {
		return nil, ledger.ErrEntryNotFound
	}
	if err != nil {
		return nil, errors.Join(eligibility.ErrStoreUnavailable, err)
	}
	return e, nil
}

func (s *Store) List(ctx context.Context, f ledger.Filter) ([]ledger.Entry, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.AccountID != uuid.Nil {
		add("account_id = $%d", f.AccountID)
	}
	if f.Kind != "" {
		add("kind = $%d", string(f.Kind))
	}
	if f.Since != nil {
		add("created_at >= $%d", *f.Since)
	}
	if f.Until != nil {
		add("created_at <= $%d", *f.Until)
	}

	query := `SELECT ` + entryColumns + ` FROM ledger_entries`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, f.Limit)
	query += fmt.Sprintf(` ORDER BY created_at DESC, id LIMIT $%d`, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Join(eligibility.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []ledger.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, errors.Join(eligibility.ErrStoreUnavailable, err)
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Join(eligibility.ErrStoreUnavailable, err)
	}
	return out, nil
}

func (s *Store) Totals(ctx context.Context) (ledger.Totals, error) {
	var t ledger.Totals
	err := s.pool.QueryRow(ctx, `
SELECT
    COALESCE(SUM(CASE WHEN reversal THEN -amount ELSE amount END) FILTER (WHERE kind = 'payment'), 0),
    COALESCE(SUM(CASE WHEN reversal THEN -discount ELSE discount END) FILTER (WHERE kind = 'coupon_redemption'), 0),
    COALESCE(SUM(CASE WHEN reversal THEN -1 ELSE 1 END) FILTER (WHERE kind = 'coupon_redemption'), 0),
    COALESCE(SUM(CASE WHEN reversal THEN -1 ELSE 1 END) FILTER (WHERE kind = 'payment'), 0)
FROM ledger_entries`).Scan(&t.Revenue, &t.Discount, &t.Redemptions, &t.Payments)
	if err != nil {
		return ledger.Totals{}, errors.Join(eligibility.ErrStoreUnavailable, err)
	}
	return t, nil
}
