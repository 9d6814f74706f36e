package pg

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/paygate/pkg/backoff"
)

// Connect opens a pool and pings it, retrying with exponential backoff so the
// service survives a database that is still starting.
func Connect(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.ConnectionString == "" {
		return nil, ErrEmptyConnectionString
	}
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString)
	if err != nil {
		return nil, errors.Join(ErrFailedToParseDBConfig, err)
	}
	poolConfig.MaxConns = cfg.MaxOpenConns
	poolConfig.MinConns = cfg.MaxIdleConns
	poolConfig.HealthCheckPeriod = cfg.HealthCheckPeriod
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime

	var pool *pgxpool.Pool
	strategy := backoff.Exponential{InitialInterval: cfg.RetryInterval, Multiplier: 2, JitterFactor: 0.1}
	err = backoff.Retry(ctx, cfg.RetryAttempts, strategy, func(ctx context.Context) error {
		p, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return err
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			return err
		}
		pool = p
		return nil
	})
	if err != nil {
		return nil, errors.Join(ErrFailedToOpenDBConnection, err)
	}
	return pool, nil
}
