package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	claimPending = "pending"
	claimDone    = "done"
)

// Claims is a set of exclusive, expiring keys. A key is claimed with SET NX so
// exactly one caller wins even when many race for it. An unfinished claim
// expires after its TTL, which lets a crashed worker's key be retried later.
type Claims struct {
	client redis.UniversalClient
	prefix string
}

// NewClaims returns a claim set whose keys are stored under prefix.
func NewClaims(client redis.UniversalClient, prefix string) *Claims {
	return &Claims{client: client, prefix: prefix}
}

// Claim reports true if the caller now owns key. Keys already claimed or
// completed return false.
func (c *Claims) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, c.prefix+key, claimPending, ttl).Result()
}

// Complete marks key finished and keeps it for retention. A zero retention keeps it forever.
func (c *Claims) Complete(ctx context.Context, key string, retention time.Duration) error {
	return c.client.Set(ctx, c.prefix+key, claimDone, retention).Err()
}

// Release drops an unfinished claim so the key can be claimed again.
// Completed keys are left alone.
func (c *Claims) Release(ctx context.Context, key string) error {
	k := c.prefix + key
	// Compare-and-delete so a release never erases a completion written by another worker.
	return releaseScript.Run(ctx, c.client, []string{k}, claimPending).Err()
}

// Completed reports whether key was marked finished.
func (c *Claims) Completed(ctx context.Context, key string) (bool, error) {
	v, err := c.client.Get(ctx, c.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return v == claimDone, nil
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)
