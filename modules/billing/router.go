// Package billing mounts the checkout, webhook, entitlement, analytics and
// admin endpoints on a chi router.
package billing

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dmitrymomot/paygate/pkg/clientip"
	"github.com/dmitrymomot/paygate/pkg/httpserver"
	"github.com/dmitrymomot/paygate/pkg/logger"
	"github.com/dmitrymomot/paygate/pkg/requestid"
	"github.com/dmitrymomot/paygate/svc/access"
	"github.com/dmitrymomot/paygate/svc/checkout"
	"github.com/dmitrymomot/paygate/svc/eligibility"
	"github.com/dmitrymomot/paygate/svc/ledger"
	"github.com/dmitrymomot/paygate/svc/reconcile"
)

// Webhook binds one processor's reconciler to the header carrying its signature.
type Webhook struct {
	Reconciler      reconcile.Reconciler
	SignatureHeader string
}

// RouterOptions configures which endpoints are mounted. Each service is
// optional and its routes are only mounted if it is provided.
type RouterOptions struct {
	Checkout     checkout.Service
	Webhooks     map[string]Webhook // keyed by provider name
	Entitlements access.Resolver
	Ledger       ledger.Ledger

	// Admin routes need both a token and the stores they edit.
	AdminToken string
	Coupons    eligibility.CouponStore
	Whitelist  eligibility.WhitelistStore

	// CheckoutLimiter, when set, wraps POST /checkout.
	CheckoutLimiter func(http.Handler) http.Handler

	HealthChecks []httpserver.Check
	Logger       *slog.Logger
}

// Maximum accepted request bodies.
const (
	maxJSONBody    = 64 << 10
	maxWebhookBody = 1 << 20
)

type handlers struct {
	opts RouterOptions
	log  *slog.Logger
}

// Router creates the billing router.
//
// Example:
//
//	r := billing.Router(billing.RouterOptions{
//	    Checkout: checkoutSvc,
//	    Webhooks: map[string]billing.Webhook{
//	        "stripe": {Reconciler: reconciler, SignatureHeader: "Stripe-Signature"},
//	    },
//	    Entitlements: accessResolver,
//	})
//	httpserver.New(cfg).Run(ctx, r)
func Router(opts RouterOptions) chi.Router {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	h := &handlers{opts: opts, log: log.With(logger.Component("http"))}

	r := chi.NewRouter()
	r.Use(requestid.Middleware, clientip.Middleware, middleware.Recoverer)

	r.Get("/healthz", httpserver.HealthCheckHandler(h.log, opts.HealthChecks...))
	r.Handle("/metrics", promhttp.Handler())

	if opts.Checkout != nil {
		checkoutHandler := http.Handler(http.HandlerFunc(h.createCheckout))
		if opts.CheckoutLimiter != nil {
			checkoutHandler = opts.CheckoutLimiter(checkoutHandler)
		}
		r.Method(http.MethodPost, "/checkout", checkoutHandler)
	}
	if len(opts.Webhooks) > 0 {
		r.Post("/webhooks/{provider}", h.webhook)
	}
	if opts.Entitlements != nil {
		r.Get("/entitlements/{accountID}", h.entitlement)
	}

	if opts.AdminToken == "" {
		return r
	}
	r.Group(func(admin chi.Router) {
		admin.Use(bearerAuth(opts.AdminToken))
		if opts.Ledger != nil {
			admin.Get("/analytics/summary", h.analyticsSummary)
			admin.Get("/analytics/entries", h.analyticsEntries)
			admin.Post("/admin/ledger/{entryID}/reversal", h.reverseEntry)
		}
		if opts.Coupons != nil {
			admin.Get("/admin/coupons/{code}", h.getCoupon)
			admin.Put("/admin/coupons/{code}", h.putCoupon)
		}
		if opts.Whitelist != nil {
			admin.Get("/admin/whitelist/{email}", h.getWhitelist)
			admin.Put("/admin/whitelist/{email}", h.putWhitelist)
			admin.Delete("/admin/whitelist/{email}", h.deleteWhitelist)
		}
	})
	return r
}
