package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrymomot/paygate/pkg/redis"
)

// EventLog de-duplicates webhook deliveries by processor event id.
//
// Claim atomically records the id if it is unseen and reports whether the
// caller now owns it. It reports false for ids already completed and for ids
// another worker is processing. Release drops an unfinished claim so the
// processor's retry is processed again; Complete makes the id permanent.
type EventLog interface {
	Claim(ctx context.Context, eventID, eventType string) (bool, error)
	Complete(ctx context.Context, eventID string) error
	Release(ctx context.Context, eventID string) error
}

type memoryEvent struct {
	done      bool
	claimedAt time.Time
}

// MemoryEventLog keeps processed ids in process memory. Suitable for tests
// and single-instance development.
type MemoryEventLog struct {
	mu     sync.Mutex
	ttl    time.Duration
	now    func() time.Time
	events map[string]memoryEvent
}

func NewMemoryEventLog(ttl time.Duration) *MemoryEventLog {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &MemoryEventLog{ttl: ttl, now: time.Now, events: make(map[string]memoryEvent)}
}

func (l *MemoryEventLog) Claim(_ context.Context, eventID, _ string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if e, ok := l.events[eventID]; ok {
		if e.done || now.Sub(e.claimedAt) < l.ttl {
			return false, nil
		}
	}
	l.events[eventID] = memoryEvent{claimedAt: now}
	return true, nil
}

func (l *MemoryEventLog) Complete(_ context.Context, eventID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events[eventID] = memoryEvent{done: true, claimedAt: l.now()}
	return nil
}

func (l *MemoryEventLog) Release(_ context.Context, eventID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.events[eventID]; ok && !e.done {
		delete(l.events, eventID)
	}
	return nil
}

// RedisEventLog stores event ids as SET NX claims. Completed ids are kept for
// the retention window, which must exceed the processor's retry horizon.
type RedisEventLog struct {
	claims    *redis.Claims
	ttl       time.Duration
	retention time.Duration
}

func NewRedisEventLog(claims *redis.Claims, ttl, retention time.Duration) *RedisEventLog {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisEventLog{claims: claims, ttl: ttl, retention: retention}
}

func (l *RedisEventLog) Claim(ctx context.Context, eventID, _ string) (bool, error) {
	return l.claims.Claim(ctx, eventID, l.ttl)
}

func (l *RedisEventLog) Complete(ctx context.Context, eventID string) error {
	return l.claims.Complete(ctx, eventID, l.retention)
}

func (l *RedisEventLog) Release(ctx context.Context, eventID string) error {
	return l.claims.Release(ctx, eventID)
}
