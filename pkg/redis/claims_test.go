package redis_test

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/paygate/pkg/redis"
)

// Requires a running server: REDIS_TEST_URL=redis://localhost:6379/15 go test ./pkg/redis
func connect(t *testing.T) *redis.Claims {
	t.Helper()
	url := os.Getenv("REDIS_TEST_URL")
	if url == "" {
		t.Skip("REDIS_TEST_URL not set")
	}
	client, err := redis.Connect(context.Background(), redis.Config{
		ConnectionURL:  url,
		RetryAttempts:  1,
		ConnectTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return redis.NewClaims(client, "paygate-test:"+uuid.NewString()+":")
}

func TestClaims(t *testing.T) {
	t.Parallel()
	claims := connect(t)
	ctx := context.Background()

	t.Run("only one concurrent claimer wins", func(t *testing.T) {
		t.Parallel()
		var (
			wg   sync.WaitGroup
			wins atomic.Int32
		)
		for range 20 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := claims.Claim(ctx, "evt_race", time.Minute)
				assert.NoError(t, err)
				if ok {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
	})

	t.Run("release allows a retry, completion does not", func(t *testing.T) {
		t.Parallel()
		ok, err := claims.Claim(ctx, "evt_retry", time.Minute)
		require.NoError(t, err)
		require.True(t, ok)

		require.NoError(t, claims.Release(ctx, "evt_retry"))
		ok, err = claims.Claim(ctx, "evt_retry", time.Minute)
		require.NoError(t, err)
		require.True(t, ok)

		require.NoError(t, claims.Complete(ctx, "evt_retry", time.Hour))
		require.NoError(t, claims.Release(ctx, "evt_retry"))

		done, err := claims.Completed(ctx, "evt_retry")
		require.NoError(t, err)
		assert.True(t, done)

		ok, err = claims.Claim(ctx, "evt_retry", time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestConnect_EmptyURL(t *testing.T) {
	t.Parallel()
	_, err := redis.Connect(context.Background(), redis.Config{})
	assert.ErrorIs(t, err, redis.ErrEmptyConnectionURL)
}
