// Package checkout turns a purchase request into either a whitelist grant or
// a processor checkout session.
//
// Coupon inventory is consumed only after the processor has issued a
// session. A request that fails or is abandoned earlier leaves the coupon
// untouched, and an orphaned session simply expires at the processor.
package checkout

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/dmitrymomot/paygate/pkg/backoff"
	"github.com/dmitrymomot/paygate/pkg/billing"
	"github.com/dmitrymomot/paygate/pkg/logger"
	"github.com/dmitrymomot/paygate/pkg/validator"
	"github.com/dmitrymomot/paygate/svc/coupon"
	"github.com/dmitrymomot/paygate/svc/eligibility"
	"github.com/dmitrymomot/paygate/svc/ledger"
	"github.com/dmitrymomot/paygate/svc/whitelist"
)

// Request is a purchase attempt for one account.
type Request struct {
	AccountID  uuid.UUID
	Email      string
	Phone      string
	Tier       eligibility.Tier
	CouponCode string
}

// Validate checks the request shape. Tier purchasability is checked separately.
func (r Request) Validate() error {
	return validator.Apply(
		validator.RequiredUUID("account_id", r.AccountID),
		validator.Required("email", r.Email),
		validator.ValidEmail("email", r.Email),
		validator.When(r.Phone != "", validator.ValidPhone("phone", r.Phone)),
		validator.OneOf("tier", r.Tier, []eligibility.Tier{eligibility.TierFree, eligibility.TierPro, eligibility.TierBusiness}),
		validator.When(r.CouponCode != "", validator.ValidCode("coupon_code", r.CouponCode)),
	)
}

// Result is either a whitelist grant or an open checkout session.
type Result struct {
	SessionID        string
	RedirectURL      string
	WhitelistGranted bool
	AccessLevel      eligibility.AccessLevel
	Tier             eligibility.Tier
	CouponCode       string
	DiscountApplied  decimal.Decimal
	FinalPrice       decimal.Decimal
	TrialDays        int
}

// Service orchestrates checkout.
type Service interface {
	CreateCheckout(ctx context.Context, req Request) (*Result, error)
}

type service struct {
	store     eligibility.Store
	whitelist whitelist.Resolver
	coupons   coupon.Validator
	catalog   *coupon.Catalog
	provider  billing.Provider
	ledger    ledger.Ledger
	log       *slog.Logger
	backoff   backoff.Strategy
	cfg       Config

	customers singleflight.Group
}

// NewService creates the checkout orchestrator. Panics if a required
// dependency is nil.
func NewService(
	store eligibility.Store,
	resolver whitelist.Resolver,
	coupons coupon.Validator,
	catalog *coupon.Catalog,
	provider billing.Provider,
	opts ...Option,
) Service {
	switch {
	case store == nil:
		panic("checkout: store is required")
	case resolver == nil:
		panic("checkout: whitelist resolver is required")
	case coupons == nil:
		panic("checkout: coupon validator is required")
	case catalog == nil:
		panic("checkout: catalog is required")
	case provider == nil:
		panic("checkout: billing provider is required")
	}

	s := &service{
		store:     store,
		whitelist: resolver,
		coupons:   coupons,
		catalog:   catalog,
		provider:  provider,
		log:       slog.Default(),
		backoff:   backoff.Default(),
		cfg: Config{
			ProviderTimeout: 10 * time.Second,
			LookupAttempts:  3,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(logger.Component("checkout"), logger.Provider(provider.Name()))
	return s
}

func (s *service) CreateCheckout(ctx context.Context, req Request) (*Result, error) {
	res, err := s.createCheckout(ctx, req)
	CheckoutsTotal.WithLabelValues(outcome(res, err)).Inc()
	return res, err
}

func outcome(res *Result, err error) string {
	switch {
	case err == nil && res.WhitelistGranted:
		return OutcomeWhitelisted
	case err == nil:
		return OutcomeSession
	}
	switch eligibility.KindOf(err) {
	case eligibility.KindValidation, eligibility.KindNotFound:
		return OutcomeRejected
	case eligibility.KindConflict:
		return OutcomeConflict
	}
	return OutcomeFailed
}

func (s *service) createCheckout(ctx context.Context, req Request) (*Result, error) {
	req.Email = eligibility.NormalizeEmail(req.Email)
	req.CouponCode = eligibility.NormalizeCode(req.CouponCode)
	if err := req.Validate(); err != nil {
		return nil, eligibility.Mark(eligibility.KindValidation, errors.Join(ErrInvalidRequest, err))
	}
	if !req.Tier.Paid() {
		return nil, eligibility.Mark(eligibility.KindValidation, ErrInvalidTier)
	}
	plan, ok := s.catalog.Plan(req.Tier)
	if !ok {
		return nil, eligibility.Mark(eligibility.KindValidation, ErrInvalidTier)
	}

	log := s.log.With(logger.AccountID(req.AccountID))
	acc, err := s.store.EnsureAccount(ctx, req.AccountID, req.Email, req.Phone)
	if err != nil {
		return nil, err
	}

	grant, err := s.whitelist.Resolve(ctx, req.Email)
	switch {
	case err == nil:
		return s.grantWhitelist(ctx, log, acc, grant, req.Tier)
	case !errors.Is(err, whitelist.ErrNotWhitelisted):
		return nil, err
	}

	var (
		validated *coupon.Result
		discount  *billing.Discount
	)
	if req.CouponCode != "" {
		validated, err = s.coupons.Validate(ctx, req.CouponCode, acc.ID, req.Email, req.Tier)
		if err != nil {
			return nil, err
		}
		if !validated.Valid {
			log.InfoContext(ctx, "coupon rejected",
				logger.CouponCode(req.CouponCode),
				slog.String("reason", string(validated.Reason)))
			return nil, validated.Err()
		}
		discount = sessionDiscount(validated, plan)
		if checker, ok := s.provider.(billing.DiscountChecker); ok {
			if err := checker.CheckDiscount(discount); err != nil {
				log.WarnContext(ctx, "coupon not usable with provider",
					logger.CouponCode(req.CouponCode), logger.Error(err))
				return nil, eligibility.Mark(eligibility.KindValidation, errors.Join(ErrCouponNotUsable, err))
			}
		}
	}

	customerID, err := s.ensureCustomer(ctx, acc)
	if err != nil {
		log.ErrorContext(ctx, "customer lookup failed", logger.Error(err))
		return nil, err
	}

	sreq := billing.SessionRequest{
		AccountID:  acc.ID.String(),
		CustomerID: customerID,
		Email:      acc.Email,
		Tier:       string(req.Tier),
		PriceID:    plan.PriceID,
		TrialDays:  plan.TrialDays,
		SuccessURL: s.cfg.SuccessURL,
		CancelURL:  s.cfg.CancelURL,
	}
	result := &Result{
		Tier:            req.Tier,
		DiscountApplied: decimal.Zero,
		FinalPrice:      plan.Price,
	}
	if validated != nil {
		sreq.TrialDays += validated.TrialDaysGranted
		sreq.CouponCode = validated.Code
		sreq.Discount = discount
		result.CouponCode = validated.Code
		result.DiscountApplied = validated.DiscountApplied
		result.FinalPrice = validated.FinalPrice
	}
	result.TrialDays = sreq.TrialDays

	pctx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
	session, err := s.provider.CreateCheckoutSession(pctx, sreq)
	cancel()
	if err != nil {
		log.ErrorContext(ctx, "checkout session failed", logger.Error(err))
		return nil, eligibility.Mark(eligibility.KindUpstream, errors.Join(ErrCheckoutFailed, err))
	}
	result.SessionID = session.ID
	result.RedirectURL = session.URL
	log = log.With(logger.SessionID(session.ID))

	if validated != nil {
		if err := s.commitCoupon(ctx, log, acc, validated, session.ID); err != nil {
			return nil, err
		}
	}

	log.InfoContext(ctx, "checkout session created",
		slog.String("tier", string(req.Tier)),
		slog.Int("trial_days", result.TrialDays))
	return result, nil
}

func (s *service) grantWhitelist(ctx context.Context, log *slog.Logger, acc *eligibility.Account, grant *whitelist.Grant, requested eligibility.Tier) (*Result, error) {
	tier := grant.Tier(requested)
	// A whitelist grant never downgrades a live paid subscription.
	if acc.SubscriptionState.Paying() {
		tier = eligibility.MaxTier(tier, acc.Tier)
	}
	reason := grant.Reason
	if reason == "" {
		reason = "whitelist: " + grant.Role
	}
	if _, err := s.store.GrantWhitelist(ctx, acc.ID, tier, reason); err != nil {
		return nil, err
	}
	log.InfoContext(ctx, "whitelist access granted",
		slog.String("role", grant.Role),
		slog.String("access_level", string(grant.AccessLevel)),
		slog.String("tier", string(tier)))
	return &Result{
		WhitelistGranted: true,
		AccessLevel:      grant.AccessLevel,
		Tier:             tier,
		DiscountApplied:  decimal.Zero,
	}, nil
}

// commitCoupon consumes one coupon use for the session. If the race for the
// last use is lost the session exists at the processor but the caller gets
// the conflict; the session then expires unused.
func (s *service) commitCoupon(ctx context.Context, log *slog.Logger, acc *eligibility.Account, validated *coupon.Result, sessionID string) error {
	usage := eligibility.CouponUsage{
		CouponID:         validated.CouponID(),
		CouponCode:       validated.Code,
		AccountID:        acc.ID,
		Email:            acc.Email,
		DiscountApplied:  validated.DiscountApplied,
		TrialDaysGranted: validated.TrialDaysGranted,
		SessionID:        sessionID,
		Status:           eligibility.UsageApplied,
	}
	if _, err := s.store.CommitRedemption(ctx, usage, validated.Coupon.MaxUsesPerAccount); err != nil {
		log.WarnContext(ctx, "coupon commit failed after session creation",
			logger.CouponCode(validated.Code), logger.Error(err))
		return err
	}

	if s.ledger == nil {
		return nil
	}
	if _, err := s.ledger.RecordCouponUsage(ctx, usage, validated.FinalPrice, validated.Plan.Currency); err != nil {
		log.ErrorContext(ctx, "ledger append failed for committed redemption",
			logger.CouponCode(validated.Code), logger.Error(err))
	}
	return nil
}

// ensureCustomer returns the processor customer id for acc, creating it if
// needed. Concurrent calls for one email share a single lookup-or-create.
func (s *service) ensureCustomer(ctx context.Context, acc *eligibility.Account) (string, error) {
	if acc.ExternalCustomerID != "" {
		return acc.ExternalCustomerID, nil
	}

	v, err, _ := s.customers.Do(acc.Email, func() (any, error) {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ProviderTimeout)
		defer cancel()
		return s.lookupOrCreateCustomer(cctx, acc)
	})
	if err != nil {
		return "", eligibility.Mark(eligibility.KindUpstream, errors.Join(ErrCustomerFailed, err))
	}

	stored, err := s.store.SetCustomerID(ctx, acc.ID, v.(string))
	if err != nil {
		return "", err
	}
	return stored, nil
}

func (s *service) lookupOrCreateCustomer(ctx context.Context, acc *eligibility.Account) (string, error) {
	var id string
	err := backoff.Retry(ctx, s.cfg.LookupAttempts, s.backoff, func(ctx context.Context) error {
		found, err := s.provider.FindCustomerByEmail(ctx, acc.Email)
		if errors.Is(err, billing.ErrCustomerNotFound) {
			return backoff.Permanent(err)
		}
		id = found
		return err
	})
	switch {
	case err == nil:
		return id, nil
	case !errors.Is(err, billing.ErrCustomerNotFound):
		return "", err
	}

	return s.provider.CreateCustomer(ctx, billing.CustomerRequest{
		AccountID:      acc.ID.String(),
		Email:          acc.Email,
		Phone:          acc.Phone,
		IdempotencyKey: "customer-" + acc.ID.String(),
	})
}

func sessionDiscount(v *coupon.Result, plan coupon.Plan) *billing.Discount {
	if !v.DiscountApplied.IsPositive() {
		return nil
	}
	d := &billing.Discount{
		Currency:         plan.Currency,
		ExternalCouponID: v.Coupon.ExternalCouponID,
		Code:             v.Code,
	}
	switch v.Coupon.DiscountType {
	case eligibility.DiscountPercentage:
		d.Kind = billing.DiscountPercentage
		d.Value = decimal.Min(v.Coupon.DiscountValue, decimal.NewFromInt(100))
	default:
		d.Kind = billing.DiscountFixed
		d.Value = v.DiscountApplied
	}
	return d
}
