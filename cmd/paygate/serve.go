package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/dmitrymomot/paygate/migrations"
	routes "github.com/dmitrymomot/paygate/modules/billing"
	"github.com/dmitrymomot/paygate/pkg/billing"
	"github.com/dmitrymomot/paygate/pkg/email"
	"github.com/dmitrymomot/paygate/pkg/httpserver"
	"github.com/dmitrymomot/paygate/pkg/logger"
	"github.com/dmitrymomot/paygate/pkg/pg"
	"github.com/dmitrymomot/paygate/pkg/ratelimiter"
	"github.com/dmitrymomot/paygate/pkg/redis"
	"github.com/dmitrymomot/paygate/svc/access"
	"github.com/dmitrymomot/paygate/svc/checkout"
	"github.com/dmitrymomot/paygate/svc/coupon"
	eligibilitypg "github.com/dmitrymomot/paygate/svc/eligibility/postgres"
	"github.com/dmitrymomot/paygate/svc/ledger"
	ledgerpg "github.com/dmitrymomot/paygate/svc/ledger/postgres"
	"github.com/dmitrymomot/paygate/svc/notify"
	"github.com/dmitrymomot/paygate/svc/reconcile"
	"github.com/dmitrymomot/paygate/svc/whitelist"
)

var skipMigrations bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg, newLogger(cfg))
	},
}

func init() {
	serveCmd.Flags().BoolVar(&skipMigrations, "skip-migrations", false, "do not apply migrations on startup")
}

func serve(ctx context.Context, cfg appConfig, log *slog.Logger) error {
	pool, err := pg.Connect(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	defer pool.Close()

	if !skipMigrations {
		if err := pg.Migrate(ctx, pool, migrations.FS, cfg.Postgres, log); err != nil {
			return err
		}
	}

	checks := []httpserver.Check{{Name: "postgres", Fn: pg.Healthcheck(pool)}}

	var rdb *goredis.Client
	if cfg.needsRedis() {
		if rdb, err = redis.Connect(ctx, cfg.Redis); err != nil {
			return err
		}
		defer rdb.Close()
		checks = append(checks, httpserver.Check{Name: "redis", Fn: redis.Healthcheck(rdb)})
	}

	provider, err := newProvider(cfg)
	if err != nil {
		return err
	}

	store := eligibilitypg.New(pool)
	book := ledger.New(ledgerpg.New(pool), store)
	cachedWhitelist := whitelist.NewCachedStore(store, cfg.WhitelistCacheSize, cfg.WhitelistCacheTTL)
	allowList := whitelist.NewResolver(cachedWhitelist)
	catalog := coupon.NewCatalog(cfg.Pricing)

	checkoutSvc := checkout.NewService(
		store,
		allowList,
		coupon.NewValidator(store, catalog),
		catalog,
		provider,
		checkout.WithConfig(cfg.Checkout),
		checkout.WithLedger(book),
		checkout.WithLogger(log),
	)

	sender, err := newSender(cfg, log)
	if err != nil {
		return err
	}
	reconciler := reconcile.New(provider, store, newEventLog(cfg, pool, rdb),
		reconcile.WithConfig(cfg.Reconcile),
		reconcile.WithLedger(book),
		reconcile.WithNotifier(notify.NewEmailNotifier(sender, cfg.ProductName)),
		reconcile.WithLogger(log),
	)

	limiter, err := newCheckoutLimiter(cfg, rdb, log)
	if err != nil {
		return err
	}

	if cfg.AdminToken == "" {
		log.WarnContext(ctx, "ADMIN_TOKEN is not set, admin and analytics routes are disabled")
	}

	router := routes.Router(routes.RouterOptions{
		Checkout: checkoutSvc,
		Webhooks: map[string]routes.Webhook{
			provider.Name(): {Reconciler: reconciler, SignatureHeader: signatureHeader(provider.Name())},
		},
		Entitlements:    access.NewResolver(store, allowList, access.WithConfig(cfg.Access)),
		Ledger:          book,
		AdminToken:      cfg.AdminToken,
		Coupons:         store,
		Whitelist:       cachedWhitelist,
		CheckoutLimiter: limiter,
		HealthChecks:    checks,
		Logger:          log,
	})

	log.InfoContext(ctx, "starting paygate",
		logger.Provider(provider.Name()),
		slog.String("event_log", cfg.EventLog),
		slog.String("git_commit", GitCommit),
	)
	return httpserver.New(cfg.HTTP, httpserver.WithLogger(log)).Run(ctx, router)
}

func newProvider(cfg appConfig) (billing.Provider, error) {
	switch cfg.BillingProvider {
	case "paddle":
		return billing.NewPaddleProvider(cfg.Paddle)
	default:
		return billing.NewStripeProvider(cfg.Stripe)
	}
}

func signatureHeader(provider string) string {
	if provider == "paddle" {
		return "Paddle-Signature"
	}
	return "Stripe-Signature"
}

// newSender falls back to logging emails when Postmark is not configured.
func newSender(cfg appConfig, log *slog.Logger) (email.Sender, error) {
	if !cfg.Email.Enabled() {
		log.Warn("postmark is not configured, emails are only logged")
		return email.NewLogSender(log), nil
	}
	return email.NewPostmarkSender(cfg.Email)
}

func newEventLog(cfg appConfig, pool *pgxpool.Pool, rdb *goredis.Client) reconcile.EventLog {
	switch cfg.EventLog {
	case backendRedis:
		return reconcile.NewRedisEventLog(redis.NewClaims(rdb, cfg.Redis.KeyPrefix+"events:"),
			cfg.Reconcile.EventClaimTTL, cfg.Reconcile.EventRetention)
	case backendMemory:
		return reconcile.NewMemoryEventLog(cfg.Reconcile.EventClaimTTL)
	default:
		return eligibilitypg.NewEventLog(pool, cfg.Reconcile.EventClaimTTL)
	}
}

func newCheckoutLimiter(cfg appConfig, rdb *goredis.Client, log *slog.Logger) (func(http.Handler) http.Handler, error) {
	if !cfg.RateLimit.Enabled() {
		return nil, nil
	}
	var store ratelimiter.Store
	if cfg.RateLimitStore == backendRedis {
		store = ratelimiter.NewRedisStore(rdb, cfg.Redis.KeyPrefix)
	} else {
		store = ratelimiter.NewMemoryStore()
	}
	bucket, err := ratelimiter.NewBucket(store, cfg.RateLimit)
	if err != nil {
		return nil, fmt.Errorf("checkout rate limit: %w", err)
	}
	return ratelimiter.Middleware(bucket, ratelimiter.ByClientIP, log), nil
}
