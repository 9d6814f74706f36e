package ratelimiter

import (
	"context"
	"sync"
	"time"
)

type bucket struct {
	tokens     int
	refilled   time.Time
	lastAccess time.Time
}

// MemoryStore keeps buckets in process memory. Buckets untouched for
// staleAfter are swept by a background goroutine until Close.
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time

	cleanupInterval time.Duration
	staleAfter      time.Duration
	stop            chan struct{}
	stopOnce        sync.Once
}

type MemoryStoreOption func(*MemoryStore)

// WithCleanupInterval sets how often stale buckets are swept. Zero disables sweeping.
func WithCleanupInterval(d time.Duration) MemoryStoreOption {
	return func(s *MemoryStore) { s.cleanupInterval = d }
}

func WithClock(now func() time.Time) MemoryStoreOption {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		buckets:         make(map[string]*bucket),
		now:             time.Now,
		cleanupInterval: 5 * time.Minute,
		staleAfter:      time.Hour,
		stop:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cleanupInterval > 0 {
		go s.cleanup()
	}
	return s
}

func (s *MemoryStore) ConsumeTokens(_ context.Context, key string, n int, cfg Config) (int, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	b, ok := s.buckets[key]
	if !ok {
		b = &bucket{tokens: cfg.Capacity, refilled: now}
		s.buckets[key] = b
	}
	b.tokens, b.refilled = refill(b.tokens, b.refilled, now, cfg)
	b.lastAccess = now

	if b.tokens < n {
		return b.tokens - n, b.refilled.Add(cfg.RefillInterval), nil
	}
	b.tokens -= n
	return b.tokens, b.refilled.Add(cfg.RefillInterval), nil
}

func (s *MemoryStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buckets, key)
	return nil
}

func (s *MemoryStore) cleanup() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.removeStale()
		case <-s.stop:
			return
		}
	}
}

func (s *MemoryStore) removeStale() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for key, b := range s.buckets {
		if now.Sub(b.lastAccess) > s.staleAfter {
			delete(s.buckets, key)
		}
	}
}

// Close stops the sweeper. Safe to call more than once.
func (s *MemoryStore) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
}
