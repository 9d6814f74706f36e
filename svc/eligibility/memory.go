package eligibility

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMemoryClock overrides the clock used for timestamps.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

// MemoryStore is a process-local Store. A single mutex serialises every
// mutation, which gives the same atomicity guarantees as the Postgres store.
// Values are copied in and out so callers never share memory with the store.
type MemoryStore struct {
	mu        sync.Mutex
	now       func() time.Time
	accounts  map[uuid.UUID]Account
	coupons   map[string]Coupon
	usages    []CouponUsage
	whitelist map[string]WhitelistEntry
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		now:       func() time.Time { return time.Now().UTC() },
		accounts:  make(map[uuid.UUID]Account),
		coupons:   make(map[string]Coupon),
		whitelist: make(map[string]WhitelistEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) GetAccount(_ context.Context, id uuid.UUID) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return &acc, nil
}

func (s *MemoryStore) GetAccountByEmail(_ context.Context, email string) (*Account, error) {
	return s.findAccount(func(a Account) bool { return a.Email == NormalizeEmail(email) })
}

func (s *MemoryStore) GetAccountBySubscriptionID(_ context.Context, subscriptionID string) (*Account, error) {
	if subscriptionID == "" {
		return nil, ErrAccountNotFound
	}
	return s.findAccount(func(a Account) bool { return a.ExternalSubscriptionID == subscriptionID })
}

func (s *MemoryStore) GetAccountByCustomerID(_ context.Context, customerID string) (*Account, error) {
	if customerID == "" {
		return nil, ErrAccountNotFound
	}
	return s.findAccount(func(a Account) bool { return a.ExternalCustomerID == customerID })
}

func (s *MemoryStore) findAccount(match func(Account) bool) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, acc := range s.accounts {
		if match(acc) {
			return &acc, nil
		}
	}
	return nil, ErrAccountNotFound
}

func (s *MemoryStore) EnsureAccount(_ context.Context, id uuid.UUID, email, phone string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	email = NormalizeEmail(email)
	if email != "" {
		for otherID, other := range s.accounts {
			if otherID != id && other.Email == email {
				return nil, ErrEmailTaken
			}
		}
	}

	now := s.now()
	acc, ok := s.accounts[id]
	if !ok {
		acc = Account{
			ID:                id,
			Email:             email,
			Phone:             phone,
			Tier:              TierFree,
			SubscriptionState: StateNone,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		s.accounts[id] = acc
		return &acc, nil
	}

	changed := false
	if acc.Email == "" && email != "" {
		acc.Email = email
		changed = true
	}
	if acc.Phone == "" && phone != "" {
		acc.Phone = phone
		changed = true
	}
	if changed {
		acc.UpdatedAt = now
		s.accounts[id] = acc
	}
	return &acc, nil
}

func (s *MemoryStore) SetCustomerID(_ context.Context, id uuid.UUID, customerID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[id]
	if !ok {
		return "", ErrAccountNotFound
	}
	if acc.ExternalCustomerID == "" {
		acc.ExternalCustomerID = customerID
		acc.UpdatedAt = s.now()
		s.accounts[id] = acc
	}
	return acc.ExternalCustomerID, nil
}

func (s *MemoryStore) GrantWhitelist(_ context.Context, id uuid.UUID, tier Tier, reason string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	acc.Tier = tier
	acc.Whitelisted = true
	acc.WhitelistReason = reason
	acc.SubscriptionActive = true
	acc.UpdatedAt = s.now()
	s.accounts[id] = acc
	return &acc, nil
}

func (s *MemoryStore) TransitionSubscription(_ context.Context, id uuid.UUID, expected SubscriptionState, update SubscriptionUpdate) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	if acc.SubscriptionState != expected {
		return nil, ErrStateConflict
	}
	acc = update.Apply(acc, s.now())
	s.accounts[id] = acc
	return &acc, nil
}

func (s *MemoryStore) HasPaidHistory(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[id]
	if !ok {
		return false, nil
	}
	return acc.ExternalSubscriptionID != "" || acc.SubscriptionState != StateNone, nil
}

func (s *MemoryStore) CountActiveSubscribers(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, acc := range s.accounts {
		if acc.SubscriptionState.Paying() {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) GetCouponByCode(_ context.Context, code string) (*Coupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.coupons[NormalizeCode(code)]
	if !ok {
		return nil, ErrCouponNotFound
	}
	return cloneCoupon(c), nil
}

func (s *MemoryStore) SaveCoupon(_ context.Context, coupon *Coupon) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *cloneCoupon(*coupon)
	c.Normalize()
	now := s.now()
	if existing, ok := s.coupons[c.Code]; ok {
		if c.MaxUses > 0 && c.MaxUses < existing.CurrentUses {
			return ErrCouponCapBelowUsage
		}
		// The counter is owned by CommitRedemption; admin edits never reset it.
		c.ID = existing.ID
		c.CurrentUses = existing.CurrentUses
		c.CreatedAt = existing.CreatedAt
	} else {
		if c.ID == uuid.Nil {
			c.ID = uuid.New()
		}
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	s.coupons[c.Code] = c

	coupon.ID = c.ID
	coupon.CurrentUses = c.CurrentUses
	return nil
}

func (s *MemoryStore) CountCouponUsages(_ context.Context, couponID, accountID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countUsagesLocked(couponID, accountID), nil
}

func (s *MemoryStore) countUsagesLocked(couponID, accountID uuid.UUID) int {
	n := 0
	for _, u := range s.usages {
		if u.CouponID == couponID && u.AccountID == accountID {
			n++
		}
	}
	return n
}

func (s *MemoryStore) CommitRedemption(_ context.Context, usage CouponUsage, perAccountLimit int) (*Coupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		code string
		c    Coupon
		ok   bool
	)
	for k, v := range s.coupons {
		if v.ID == usage.CouponID {
			code, c, ok = k, v, true
			break
		}
	}
	if !ok {
		return nil, ErrCouponNotFound
	}
	if c.Exhausted() {
		return nil, ErrCouponExhausted
	}
	if perAccountLimit > 0 && s.countUsagesLocked(usage.CouponID, usage.AccountID) >= perAccountLimit {
		return nil, ErrPerAccountLimit
	}

	now := s.now()
	c.CurrentUses++
	c.UpdatedAt = now
	s.coupons[code] = c

	if usage.ID == uuid.Nil {
		usage.ID = uuid.New()
	}
	if usage.Status == "" {
		usage.Status = UsageApplied
	}
	usage.CouponCode = c.Code
	usage.Email = NormalizeEmail(usage.Email)
	usage.CreatedAt = now
	s.usages = append(s.usages, usage)

	return cloneCoupon(c), nil
}

// Usages returns a copy of every redemption row, oldest first.
func (s *MemoryStore) Usages() []CouponUsage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.usages)
}

func (s *MemoryStore) GetWhitelistEntry(_ context.Context, email string) (*WhitelistEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.whitelist[NormalizeEmail(email)]
	if !ok {
		return nil, ErrWhitelistEntryNotFound
	}
	return &e, nil
}

func (s *MemoryStore) SaveWhitelistEntry(_ context.Context, entry *WhitelistEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := *entry
	e.Email = NormalizeEmail(e.Email)
	now := s.now()
	if existing, ok := s.whitelist[e.Email]; ok {
		e.CreatedAt = existing.CreatedAt
	} else {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
	s.whitelist[e.Email] = e
	return nil
}

func (s *MemoryStore) DeactivateWhitelistEntry(_ context.Context, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email = NormalizeEmail(email)
	e, ok := s.whitelist[email]
	if !ok {
		return ErrWhitelistEntryNotFound
	}
	e.Active = false
	e.UpdatedAt = s.now()
	s.whitelist[email] = e
	return nil
}

func cloneCoupon(c Coupon) *Coupon {
	c.AllowedEmails = slices.Clone(c.AllowedEmails)
	c.AllowedDomains = slices.Clone(c.AllowedDomains)
	return &c
}
