package postgres

import (
	"context"

	"github.com/dmitrymomot/paygate/svc/eligibility"
)

func (s *Store) GetWhitelistEntry(ctx context.Context, email string) (*eligibility.WhitelistEntry, error) {
	var e eligibility.WhitelistEntry
	err := s.pool.QueryRow(ctx, `
SELECT email, role, access_level, active, expires_at, perm_admin_panel, perm_create_coupons,
    perm_manage_whitelist, perm_bypass_limits, reason, created_at, updated_at
FROM whitelist_entries WHERE email = $1`,
		eligibility.NormalizeEmail(email),
	).Scan(
		&e.Email,
		&e.Role,
		&e.AccessLevel,
		&e.Active,
		&e.ExpiresAt,
		&e.Permissions.AdminPanel,
		&e.Permissions.CreateCoupons,
		&e.Permissions.ManageWhitelist,
		&e.Permissions.BypassLimits,
		&e.Reason,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, storeErr(err, eligibility.ErrWhitelistEntryNotFound)
	}
	return &e, nil
}

func (s *Store) SaveWhitelistEntry(ctx context.Context, entry *eligibility.WhitelistEntry) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO whitelist_entries (email, role, access_level, active, expires_at, perm_admin_panel,
    perm_create_coupons, perm_manage_whitelist, perm_bypass_limits, reason)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (email) DO UPDATE
SET role = EXCLUDED.role,
    access_level = EXCLUDED.access_level,
    active = EXCLUDED.active,
    expires_at = EXCLUDED.expires_at,
    perm_admin_panel = EXCLUDED.perm_admin_panel,
    perm_create_coupons = EXCLUDED.perm_create_coupons,
    perm_manage_whitelist = EXCLUDED.perm_manage_whitelist,
    perm_bypass_limits = EXCLUDED.perm_bypass_limits,
    reason = EXCLUDED.reason,
    updated_at = NOW()`,
		eligibility.NormalizeEmail(entry.Email),
		entry.Role,
		string(entry.AccessLevel),
		entry.Active,
		entry.ExpiresAt,
		entry.Permissions.AdminPanel,
		entry.Permissions.CreateCoupons,
		entry.Permissions.ManageWhitelist,
		entry.Permissions.BypassLimits,
		entry.Reason,
	)
	if err != nil {
		return storeErr(err, nil)
	}
	return nil
}

func (s *Store) DeactivateWhitelistEntry(ctx context.Context, email string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE whitelist_entries SET active = FALSE, updated_at = NOW() WHERE email = $1`,
		eligibility.NormalizeEmail(email),
	)
	if err != nil {
		return storeErr(err, nil)
	}
	if tag.RowsAffected() == 0 {
		return eligibility.ErrWhitelistEntryNotFound
	}
	return nil
}
