package redis

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/paygate/pkg/backoff"
)

// Connect parses cfg.ConnectionURL and pings the server until it answers or
// the attempts run out. The whole procedure is bounded by cfg.ConnectTimeout.
func Connect(ctx context.Context, cfg Config) (*redis.Client, error) {
	if cfg.ConnectionURL == "" {
		return nil, ErrEmptyConnectionURL
	}
	opts, err := redis.ParseURL(cfg.ConnectionURL)
	if err != nil {
		return nil, errors.Join(ErrInvalidURL, err)
	}

	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	client := redis.NewClient(opts)
	err = backoff.Retry(ctx, cfg.RetryAttempts, backoff.Fixed{Interval: cfg.RetryInterval}, func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
	if err != nil {
		_ = client.Close()
		return nil, errors.Join(ErrNotReady, err)
	}
	return client, nil
}
