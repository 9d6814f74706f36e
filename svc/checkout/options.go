package checkout

import (
	"log/slog"
	"time"

	"github.com/dmitrymomot/paygate/pkg/backoff"
	"github.com/dmitrymomot/paygate/svc/ledger"
)

// Config bounds the calls made to the payment processor.
type Config struct {
	ProviderTimeout time.Duration `env:"CHECKOUT_PROVIDER_TIMEOUT" envDefault:"10s"`
	LookupAttempts  int           `env:"CHECKOUT_LOOKUP_ATTEMPTS" envDefault:"3"`
	SuccessURL      string        `env:"CHECKOUT_SUCCESS_URL" envDefault:"http://localhost:8080/billing/success"`
	CancelURL       string        `env:"CHECKOUT_CANCEL_URL" envDefault:"http://localhost:8080/billing/cancel"`
}

// Option configures the checkout service.
type Option func(*service)

func WithConfig(cfg Config) Option {
	return func(s *service) {
		if cfg.ProviderTimeout > 0 {
			s.cfg.ProviderTimeout = cfg.ProviderTimeout
		}
		if cfg.LookupAttempts > 0 {
			s.cfg.LookupAttempts = cfg.LookupAttempts
		}
		if cfg.SuccessURL != "" {
			s.cfg.SuccessURL = cfg.SuccessURL
		}
		if cfg.CancelURL != "" {
			s.cfg.CancelURL = cfg.CancelURL
		}
	}
}

// WithLedger records every committed redemption in l.
func WithLedger(l ledger.Ledger) Option {
	return func(s *service) {
		s.ledger = l
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(s *service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithBackoff sets the delay strategy for customer lookups.
func WithBackoff(strategy backoff.Strategy) Option {
	return func(s *service) {
		if strategy != nil {
			s.backoff = strategy
		}
	}
}
