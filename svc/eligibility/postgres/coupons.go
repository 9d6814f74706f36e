package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dmitrymomot/paygate/pkg/pg"
	"github.com/dmitrymomot/paygate/svc/eligibility"
)

const couponColumns = `id, code, active, discount_type, discount_value, bonus_trial_days,
	target_tier, valid_from, valid_until, max_uses, max_uses_per_account, first_time_only,
	allowed_emails, allowed_domains, current_uses, external_coupon_id, created_at, updated_at`

func scanCoupon(row pgx.Row) (*eligibility.Coupon, error) {
	var c eligibility.Coupon
	err := row.Scan(
		&c.ID,
		&c.Code,
		&c.Active,
		&c.DiscountType,
		&c.DiscountValue,
		&c.BonusTrialDays,
		&c.TargetTier,
		&c.ValidFrom,
		&c.ValidUntil,
		&c.MaxUses,
		&c.MaxUsesPerAccount,
		&c.FirstTimeOnly,
		&c.AllowedEmails,
		&c.AllowedDomains,
		&c.CurrentUses,
		&c.ExternalCouponID,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) GetCouponByCode(ctx context.Context, code string) (*eligibility.Coupon, error) {
	c, err := scanCoupon(s.pool.QueryRow(ctx,
		`SELECT `+couponColumns+` FROM coupons WHERE code = $1`,
		eligibility.NormalizeCode(code),
	))
	if err != nil {
		return nil, storeErr(err, eligibility.ErrCouponNotFound)
	}
	return c, nil
}

// SaveCoupon upserts by code. The usage counter and identity of an existing
// coupon are kept; only CommitRedemption changes current_uses.
func (s *Store) SaveCoupon(ctx context.Context, coupon *eligibility.Coupon) error {
	c := *coupon
	c.AllowedEmails = append([]string{}, coupon.AllowedEmails...)
	c.AllowedDomains = append([]string{}, coupon.AllowedDomains...)
	c.Normalize()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}

	query := `
INSERT INTO coupons (id, code, active, discount_type, discount_value, bonus_trial_days, target_tier,
    valid_from, valid_until, max_uses, max_uses_per_account, first_time_only,
    allowed_emails, allowed_domains, external_coupon_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
ON CONFLICT (code) DO UPDATE
SET active = EXCLUDED.active,
    discount_type = EXCLUDED.discount_type,
    discount_value = EXCLUDED.discount_value,
    bonus_trial_days = EXCLUDED.bonus_trial_days,
    target_tier = EXCLUDED.target_tier,
    valid_from = EXCLUDED.valid_from,
    valid_until = EXCLUDED.valid_until,
    max_uses = EXCLUDED.max_uses,
    max_uses_per_account = EXCLUDED.max_uses_per_account,
    first_time_only = EXCLUDED.first_time_only,
    allowed_emails = EXCLUDED.allowed_emails,
    allowed_domains = EXCLUDED.allowed_domains,
    external_coupon_id = EXCLUDED.external_coupon_id,
    updated_at = NOW()
RETURNING id, current_uses`
	err := s.pool.QueryRow(ctx, query,
		c.ID,
		c.Code,
		c.Active,
		string(c.DiscountType),
		c.DiscountValue,
		c.BonusTrialDays,
		string(c.TargetTier),
		c.ValidFrom,
		c.ValidUntil,
		c.MaxUses,
		c.MaxUsesPerAccount,
		c.FirstTimeOnly,
		c.AllowedEmails,
		c.AllowedDomains,
		c.ExternalCouponID,
	).Scan(&coupon.ID, &coupon.CurrentUses)
	if err != nil {
		if isCheckViolation(err, "coupons_uses_within_cap") {
			return eligibility.ErrCouponCapBelowUsage
		}
		return storeErr(err, nil)
	}
	return nil
}

func (s *Store) CountCouponUsages(ctx context.Context, couponID, accountID uuid.UUID) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM coupon_usages WHERE coupon_id = $1 AND account_id = $2`,
		couponID, accountID,
	).Scan(&n)
	if err != nil {
		return 0, storeErr(err, nil)
	}
	return n, nil
}

var errRedemptionLost = errors.New("redemption lost")

// CommitRedemption locks the coupon row, checks the per-account limit under
// that lock, then increments the counter only while it is below max_uses.
func (s *Store) CommitRedemption(ctx context.Context, usage eligibility.CouponUsage, perAccountLimit int) (*eligibility.Coupon, error) {
	var (
		committed *eligibility.Coupon
		outcome   error
	)
	err := pg.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		var code string
		err := tx.QueryRow(ctx, `SELECT code FROM coupons WHERE id = $1 FOR UPDATE`, usage.CouponID).Scan(&code)
		if err != nil {
			if pg.IsNotFoundError(err) {
				outcome = eligibility.ErrCouponNotFound
				return errRedemptionLost
			}
			return err
		}

		if perAccountLimit > 0 {
			var used int
			err := tx.QueryRow(ctx,
				`SELECT COUNT(*) FROM coupon_usages WHERE coupon_id = $1 AND account_id = $2`,
				usage.CouponID, usage.AccountID,
			).Scan(&used)
			if err != nil {
				return err
			}
			if used >= perAccountLimit {
				outcome = eligibility.ErrPerAccountLimit
				return errRedemptionLost
			}
		}

		c, err := scanCoupon(tx.QueryRow(ctx, `
UPDATE coupons
SET current_uses = current_uses + 1, updated_at = NOW()
WHERE id = $1 AND (max_uses = 0 OR current_uses < max_uses)
RETURNING `+couponColumns, usage.CouponID))
		if err != nil {
			if pg.IsNotFoundError(err) {
				outcome = eligibility.ErrCouponExhausted
				return errRedemptionLost
			}
			return err
		}

		if usage.ID == uuid.Nil {
			usage.ID = uuid.New()
		}
		if usage.Status == "" {
			usage.Status = eligibility.UsageApplied
		}
		_, err = tx.Exec(ctx, `
INSERT INTO coupon_usages (id, coupon_id, coupon_code, account_id, email, discount_applied,
    trial_days_granted, session_id, status)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			usage.ID,
			usage.CouponID,
			c.Code,
			usage.AccountID,
			eligibility.NormalizeEmail(usage.Email),
			usage.DiscountApplied,
			usage.TrialDaysGranted,
			usage.SessionID,
			string(usage.Status),
		)
		if err != nil {
			return err
		}
		committed = c
		return nil
	})

	switch {
	case outcome != nil:
		return nil, outcome
	case err != nil:
		return nil, storeErr(err, nil)
	}
	return committed, nil
}

func isCheckViolation(err error, constraint string) bool {
	return pg.IsCheckViolationError(err) && pg.ConstraintName(err) == constraint
}
