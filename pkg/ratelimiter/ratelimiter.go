// Package ratelimiter throttles requests with a token bucket. Buckets live in
// a Store: MemoryStore for a single instance, RedisStore when several
// instances share the limit.
package ratelimiter

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidConfig     = errors.New("ratelimiter: invalid configuration")
	ErrInvalidTokenCount = errors.New("ratelimiter: invalid token count")
	ErrStoreUnavailable  = errors.New("ratelimiter: store unavailable")
)

// Config defines a bucket. Zero capacity disables limiting.
type Config struct {
	Capacity       int           `env:"CHECKOUT_RATE_CAPACITY" envDefault:"10"`
	RefillRate     int           `env:"CHECKOUT_RATE_REFILL" envDefault:"1"`
	RefillInterval time.Duration `env:"CHECKOUT_RATE_INTERVAL" envDefault:"6s"`
}

// Enabled reports whether requests should be limited at all.
func (c Config) Enabled() bool { return c.Capacity > 0 }

func (c Config) validate() error {
	if c.Capacity <= 0 {
		return fmt.Errorf("%w: capacity must be positive, got %d", ErrInvalidConfig, c.Capacity)
	}
	if c.RefillRate <= 0 {
		return fmt.Errorf("%w: refill rate must be positive, got %d", ErrInvalidConfig, c.RefillRate)
	}
	if c.RefillInterval <= 0 {
		return fmt.Errorf("%w: refill interval must be positive, got %v", ErrInvalidConfig, c.RefillInterval)
	}
	return nil
}

// Store keeps bucket state. ConsumeTokens takes n tokens when available and
// returns what is left; a negative remainder means the request was denied and
// nothing was taken.
type Store interface {
	ConsumeTokens(ctx context.Context, key string, n int, cfg Config) (remaining int, resetAt time.Time, err error)
	Reset(ctx context.Context, key string) error
}

type Result struct {
	Limit     int
	Remaining int
	ResetAt   time.Time
}

func (r *Result) Allowed() bool { return r.Remaining >= 0 }

// RetryAfter is zero for allowed requests.
func (r *Result) RetryAfter() time.Duration {
	if r.Allowed() {
		return 0
	}
	return max(0, time.Until(r.ResetAt))
}

type Bucket struct {
	store Store
	cfg   Config
}

func NewBucket(store Store, cfg Config) (*Bucket, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidConfig)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Bucket{store: store, cfg: cfg}, nil
}

func (b *Bucket) Allow(ctx context.Context, key string) (*Result, error) {
	return b.AllowN(ctx, key, 1)
}

func (b *Bucket) AllowN(ctx context.Context, key string, n int) (*Result, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: must be positive, got %d", ErrInvalidTokenCount, n)
	}
	remaining, resetAt, err := b.store.ConsumeTokens(ctx, key, n, b.cfg)
	if err != nil {
		return nil, errors.Join(ErrStoreUnavailable, err)
	}
	return &Result{Limit: b.cfg.Capacity, Remaining: remaining, ResetAt: resetAt}, nil
}

func (b *Bucket) Reset(ctx context.Context, key string) error {
	return b.store.Reset(ctx, key)
}

// refill adds the tokens earned since refilled and returns the new count and
// refill mark. Elapsed intervals are capped so huge gaps cannot overflow.
func refill(tokens int, refilled, now time.Time, cfg Config) (int, time.Time) {
	elapsed := now.Sub(refilled)
	if elapsed < cfg.RefillInterval {
		return tokens, refilled
	}
	intervals := min(int64(elapsed/cfg.RefillInterval), int64(cfg.Capacity/cfg.RefillRate+1))
	tokens = min(tokens+int(intervals)*cfg.RefillRate, cfg.Capacity)
	return tokens, refilled.Add(time.Duration(intervals) * cfg.RefillInterval)
}
