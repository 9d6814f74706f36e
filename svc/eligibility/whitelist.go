package eligibility

import "time"

// AccessLevel is the breadth of access a whitelist entry grants.
type AccessLevel string

const (
	AccessFull     AccessLevel = "full"
	AccessPro      AccessLevel = "pro"
	AccessBusiness AccessLevel = "business"
)

// Tier returns the tier granted by the access level. Full access maps to the top tier.
func (l AccessLevel) Tier() Tier {
	switch l {
	case AccessPro:
		return TierPro
	default:
		return TierBusiness
	}
}

// Permissions are the operational flags carried by a whitelist entry.
type Permissions struct {
	AdminPanel      bool
	CreateCoupons   bool
	ManageWhitelist bool
	BypassLimits    bool
}

// WhitelistEntry grants free access to a developer or tester email.
type WhitelistEntry struct {
	Email       string
	Role        string
	AccessLevel AccessLevel
	Active      bool
	ExpiresAt   *time.Time
	Permissions Permissions
	Reason      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Effective reports whether the entry grants access at now.
// Inactive and expired entries behave exactly like a missing entry.
func (e *WhitelistEntry) Effective(now time.Time) bool {
	if e == nil || !e.Active {
		return false
	}
	return e.ExpiresAt == nil || now.Before(*e.ExpiresAt)
}
