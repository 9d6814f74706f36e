package whitelist

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrymomot/paygate/pkg/cache"
	"github.com/dmitrymomot/paygate/svc/eligibility"
)

// CachedStore is a read-through cache in front of a WhitelistStore. Writes go
// through the cache and invalidate the email, so the cache is never the
// source of truth. Missing entries are cached too, for at most ttl.
//
// Only the writing process invalidates. Other replicas may serve a stale
// answer, positive or negative, for up to ttl after an admin write.
type CachedStore struct {
	next  eligibility.WhitelistStore
	cache *cache.LRU[string, *eligibility.WhitelistEntry]
}

var _ eligibility.WhitelistStore = (*CachedStore)(nil)

// NewCachedStore wraps next with an LRU of the given capacity and ttl.
// A non-positive capacity or ttl disables caching and every read hits next.
func NewCachedStore(next eligibility.WhitelistStore, capacity int, ttl time.Duration) *CachedStore {
	if next == nil {
		panic("whitelist: store is required")
	}
	if capacity <= 0 || ttl <= 0 {
		return &CachedStore{next: next}
	}
	return &CachedStore{
		next:  next,
		cache: cache.New[string, *eligibility.WhitelistEntry](capacity, ttl),
	}
}

func (c *CachedStore) GetWhitelistEntry(ctx context.Context, email string) (*eligibility.WhitelistEntry, error) {
	email = eligibility.NormalizeEmail(email)
	if c.cache == nil {
		return c.next.GetWhitelistEntry(ctx, email)
	}
	if entry, ok := c.cache.Get(email); ok {
		if entry == nil {
			return nil, eligibility.ErrWhitelistEntryNotFound
		}
		cp := *entry
		return &cp, nil
	}

	entry, err := c.next.GetWhitelistEntry(ctx, email)
	switch {
	case errors.Is(err, eligibility.ErrWhitelistEntryNotFound):
		c.cache.Put(email, nil)
		return nil, err
	case err != nil:
		return nil, err
	}
	cp := *entry
	c.cache.Put(email, &cp)
	return entry, nil
}

func (c *CachedStore) SaveWhitelistEntry(ctx context.Context, entry *eligibility.WhitelistEntry) error {
	defer c.Invalidate(entry.Email)
	return c.next.SaveWhitelistEntry(ctx, entry)
}

func (c *CachedStore) DeactivateWhitelistEntry(ctx context.Context, email string) error {
	defer c.Invalidate(email)
	return c.next.DeactivateWhitelistEntry(ctx, email)
}

// Invalidate drops any cached answer for email.
func (c *CachedStore) Invalidate(email string) {
	if c.cache == nil {
		return
	}
	c.cache.Remove(eligibility.NormalizeEmail(email))
}
