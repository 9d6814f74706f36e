package redis

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// Healthcheck returns a ping closure for health endpoints.
func Healthcheck(client redis.UniversalClient) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := client.Ping(ctx).Err(); err != nil {
			return errors.Join(ErrHealthcheckFailed, err)
		}
		return nil
	}
}
