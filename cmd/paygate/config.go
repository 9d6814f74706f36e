package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/dmitrymomot/paygate/pkg/billing"
	"github.com/dmitrymomot/paygate/pkg/clientip"
	"github.com/dmitrymomot/paygate/pkg/config"
	"github.com/dmitrymomot/paygate/pkg/email"
	"github.com/dmitrymomot/paygate/pkg/httpserver"
	"github.com/dmitrymomot/paygate/pkg/logger"
	"github.com/dmitrymomot/paygate/pkg/pg"
	"github.com/dmitrymomot/paygate/pkg/ratelimiter"
	"github.com/dmitrymomot/paygate/pkg/redis"
	"github.com/dmitrymomot/paygate/pkg/requestid"
	"github.com/dmitrymomot/paygate/svc/access"
	"github.com/dmitrymomot/paygate/svc/checkout"
	"github.com/dmitrymomot/paygate/svc/coupon"
	"github.com/dmitrymomot/paygate/svc/reconcile"
)

const serviceName = "paygate"

// Event log and rate limit backends.
const (
	backendPostgres = "postgres"
	backendRedis    = "redis"
	backendMemory   = "memory"
)

type appConfig struct {
	Env             string `env:"APP_ENV" envDefault:"development"`
	BillingProvider string `env:"BILLING_PROVIDER" envDefault:"stripe"`
	EventLog        string `env:"EVENT_LOG" envDefault:"postgres"`
	RateLimitStore  string `env:"RATE_LIMIT_STORE" envDefault:"memory"`
	AdminToken      string `env:"ADMIN_TOKEN"`
	ProductName     string `env:"PRODUCT_NAME" envDefault:"Paygate"`

	WhitelistCacheSize int           `env:"WHITELIST_CACHE_SIZE" envDefault:"1024"`
	WhitelistCacheTTL  time.Duration `env:"WHITELIST_CACHE_TTL" envDefault:"1m"`

	HTTP      httpserver.Config
	Postgres  pg.Config
	Redis     redis.Config
	Email     email.Config
	Stripe    billing.StripeConfig
	Paddle    billing.PaddleConfig
	Pricing   coupon.PricingConfig
	Checkout  checkout.Config
	Reconcile reconcile.Config
	Access    access.Config
	RateLimit ratelimiter.Config
}

func (c appConfig) validate() error {
	switch c.BillingProvider {
	case "stripe", "paddle":
	default:
		return fmt.Errorf("BILLING_PROVIDER must be stripe or paddle, got %q", c.BillingProvider)
	}
	switch c.EventLog {
	case backendPostgres, backendRedis, backendMemory:
	default:
		return fmt.Errorf("EVENT_LOG must be postgres, redis or memory, got %q", c.EventLog)
	}
	switch c.RateLimitStore {
	case backendRedis, backendMemory:
	default:
		return fmt.Errorf("RATE_LIMIT_STORE must be redis or memory, got %q", c.RateLimitStore)
	}
	return nil
}

func (c appConfig) needsRedis() bool {
	return c.EventLog == backendRedis || (c.RateLimit.Enabled() && c.RateLimitStore == backendRedis)
}

func loadConfig() (appConfig, error) {
	var cfg appConfig
	if err := config.Load(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.validate()
}

func newLogger(cfg appConfig) *slog.Logger {
	return logger.New(
		logger.WithEnvironment(cfg.Env, serviceName),
		logger.WithAttr(slog.String("version", Version)),
		logger.WithContextExtractors(requestid.LoggerExtractor(), clientip.LoggerExtractor()),
	)
}
