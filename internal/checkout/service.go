// Package checkout is the façade the storefront calls. It prices an untrusted
// cart, routes the attempt to exactly one payment provider and maps the result
// onto a single outcome and error taxonomy.
package checkout

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/bullionstore-backend/internal/cart"
	"github.com/angelmondragon/bullionstore-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/bullionstore-backend/pkg/errors"
	"github.com/angelmondragon/bullionstore-backend/pkg/logger"
	"github.com/angelmondragon/bullionstore-backend/pkg/metrics"
)

// Service executes checkout orchestration.
type Service interface {
	StartSession(ctx context.Context, req Request) (*Outcome, error)
	Charge(ctx context.Context, req Request) (*Outcome, error)
	Quote(ctx context.Context, req Request) (*QuoteResult, error)
}

// ServiceOptions wires the façade. A nil provider disables that checkout mode.
type ServiceOptions struct {
	Pricer   Pricer
	Session  PaymentProvider
	Token    PaymentProvider
	Recorder Recorder
	Metrics  *metrics.CheckoutMetrics
	Logger   *logger.Logger
	Now      func() time.Time
	NewID    func() string
}

type service struct {
	pricer   Pricer
	session  PaymentProvider
	token    PaymentProvider
	recorder Recorder
	metrics  *metrics.CheckoutMetrics
	logg     *logger.Logger
	now      func() time.Time
	newID    func() string
}

// NewService builds the checkout service.
func NewService(opts ServiceOptions) (Service, error) {
	if opts.Pricer == nil {
		return nil, fmt.Errorf("pricer required")
	}
	if opts.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if opts.Session != nil && opts.Session.Mode() != enums.CheckoutModeSession {
		return nil, fmt.Errorf("session provider must use session mode")
	}
	if opts.Token != nil && opts.Token.Mode() != enums.CheckoutModeToken {
		return nil, fmt.Errorf("token provider must use token mode")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &service{
		pricer:   opts.Pricer,
		session:  opts.Session,
		token:    opts.Token,
		recorder: opts.Recorder,
		metrics:  opts.Metrics,
		logg:     opts.Logger,
		now:      opts.Now,
		newID:    opts.NewID,
	}, nil
}

func (s *service) StartSession(ctx context.Context, req Request) (*Outcome, error) {
	return s.run(ctx, enums.CheckoutModeSession, s.session, req)
}

func (s *service) Charge(ctx context.Context, req Request) (*Outcome, error) {
	return s.run(ctx, enums.CheckoutModeToken, s.token, req)
}

func (s *service) Quote(ctx context.Context, req Request) (*QuoteResult, error) {
	if err := cart.VerifyHash(req.Items, req.CartSnapshotHash); err != nil {
		return nil, err
	}
	order, err := s.pricer.ComputeTotal(req.Items)
	if err != nil {
		return nil, err
	}
	result := &QuoteResult{
		Order:            order,
		CartSnapshotHash: cart.Hash(req.Items),
		Providers:        []ProviderQuote{},
	}
	for _, provider := range []PaymentProvider{s.session, s.token} {
		if provider == nil {
			continue
		}
		quote, err := provider.Quote(req.Items, order)
		if err != nil {
			return nil, err
		}
		result.Providers = append(result.Providers, quote)
	}
	return result, nil
}

func (s *service) run(ctx context.Context, mode enums.CheckoutMode, provider PaymentProvider, req Request) (*Outcome, error) {
	started := s.now()
	attempt := Attempt{
		Mode:             mode,
		IdempotencyKey:   strings.TrimSpace(req.IdempotencyKey),
		CartSnapshotHash: cart.Hash(req.Items),
		Customer:         normalizeCustomer(req.Customer),
		State:            enums.AttemptStateReceived,
	}
	attempt.ID = s.attemptID(attempt)
	providerLabel := string(mode)
	if provider != nil {
		attempt.Provider = provider.Provider()
		providerLabel = string(attempt.Provider)
	}
	ctx = s.logg.WithAttempt(ctx, attempt.ID, providerLabel)
	s.logg.Info(ctx, "checkout attempt received")

	if provider == nil {
		s.observe(providerLabel, metrics.OutcomeUnconfigured, started)
		return nil, errNotConfigured(string(mode))
	}

	// Received: nothing upstream is touched until the cart and token-path
	// inputs are known good.
	if err := s.validateInputs(mode, req); err != nil {
		return nil, s.fail(ctx, &attempt, providerLabel, metrics.OutcomeInvalid, started, err)
	}
	if err := cart.VerifyHash(req.Items, req.CartSnapshotHash); err != nil {
		return nil, s.fail(ctx, &attempt, providerLabel, metrics.OutcomeInvalid, started, err)
	}
	order, err := s.pricer.ComputeTotal(req.Items)
	if err != nil {
		return nil, s.fail(ctx, &attempt, providerLabel, metrics.OutcomeInvalid, started, err)
	}
	s.advance(ctx, &attempt, enums.AttemptStatePriced)

	items := cart.NewSnapshot(req.Items).Items
	s.advance(ctx, &attempt, enums.AttemptStateSubmitted)
	outcome, err := provider.Submit(ctx, Submission{
		Attempt:      attempt,
		Items:        items,
		Order:        order,
		PaymentToken: strings.TrimSpace(req.PaymentToken),
	})
	if err != nil {
		if pkgerrors.As(err) == nil {
			err = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "payment provider returned an untyped error")
		}
		if IsDeclined(err) {
			s.advance(ctx, &attempt, enums.AttemptStateDeclined)
			s.logg.Warn(ctx, "checkout attempt declined")
			s.observe(providerLabel, metrics.OutcomeDeclined, started)
			return nil, err
		}
		return nil, s.fail(ctx, &attempt, providerLabel, metrics.OutcomeFailed, started, err)
	}
	if outcome == nil {
		return nil, s.fail(ctx, &attempt, providerLabel, metrics.OutcomeFailed, started,
			pkgerrors.New(pkgerrors.CodeInternal, "payment provider returned no outcome"))
	}
	outcome.AttemptID = attempt.ID

	switch outcome.Kind {
	case OutcomePending:
		s.advance(ctx, &attempt, enums.AttemptStatePending)
		s.observe(providerLabel, metrics.OutcomePending, started)
	case OutcomeSettled:
		s.advance(ctx, &attempt, enums.AttemptStateSettled)
		s.observe(providerLabel, metrics.OutcomeSettled, started)
		outcome.Recorded = s.record(ctx, attempt, items, *outcome.Settled)
	default:
		return nil, s.fail(ctx, &attempt, providerLabel, metrics.OutcomeFailed, started,
			pkgerrors.New(pkgerrors.CodeInternal, fmt.Sprintf("unknown outcome kind %q", outcome.Kind)))
	}
	return outcome, nil
}

// record is best effort: a settled payment stays settled whatever happens here.
func (s *service) record(ctx context.Context, attempt Attempt, items []cart.LineItem, result SettledResult) bool {
	if s.recorder == nil {
		return false
	}
	err := s.recorder.Record(ctx, Settlement{
		Attempt:       attempt,
		Result:        result,
		Items:         items,
		PaymentMethod: enums.PaymentMethodCard,
	})
	if err == nil {
		return true
	}
	s.metrics.IncRecordFailure()
	warnCtx := s.logg.WithFields(ctx, map[string]any{
		"payment_id": result.PaymentID,
		"error":      err.Error(),
	})
	s.logg.Warn(warnCtx, "transaction record failed after settlement")
	return false
}

func (s *service) validateInputs(mode enums.CheckoutMode, req Request) error {
	if mode != enums.CheckoutModeToken {
		return nil
	}
	if strings.TrimSpace(req.PaymentToken) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "payment token is required")
	}
	if strings.TrimSpace(req.IdempotencyKey) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "idempotency key is required")
	}
	return nil
}

func (s *service) advance(ctx context.Context, attempt *Attempt, next enums.AttemptState) {
	if !attempt.State.CanTransitionTo(next) {
		s.logg.Error(ctx, "illegal checkout state transition", fmt.Errorf("%s -> %s", attempt.State, next))
		return
	}
	from := attempt.State
	attempt.State = next
	s.logg.Debug(s.logg.WithFields(ctx, map[string]any{
		"from": from.String(),
		"to":   next.String(),
	}), "checkout state transition")
}

func (s *service) fail(ctx context.Context, attempt *Attempt, provider, outcome string, started time.Time, err error) error {
	s.advance(ctx, attempt, enums.AttemptStateFailed)
	s.observe(provider, outcome, started)
	if outcome == metrics.OutcomeInvalid {
		s.logg.Info(s.logg.WithField(ctx, "reason", err.Error()), "checkout attempt rejected")
	} else {
		s.logg.Error(ctx, "checkout attempt failed", err)
	}
	return err
}

func (s *service) observe(provider, outcome string, started time.Time) {
	s.metrics.ObserveAttempt(provider, outcome, s.now().Sub(started))
}

// attemptNamespace seeds the name-based uuids of keyed attempts.
var attemptNamespace = uuid.MustParse("8f0d6a0e-3c1b-5d2a-9e47-b6c1a2f3d4e5")

// attemptID is random for session checkouts. A keyed token charge gets an id
// derived from the buyer and the key, so a retry of the same charge sends
// Square a byte-identical request and recovers the original payment.
func (s *service) attemptID(a Attempt) string {
	if a.Mode != enums.CheckoutModeToken || a.IdempotencyKey == "" {
		return s.newID()
	}
	buyer := a.Customer.UserID
	if buyer == "" {
		buyer = "guest"
	}
	return uuid.NewSHA1(attemptNamespace, []byte(buyer+"|"+a.IdempotencyKey)).String()
}

func normalizeCustomer(c Customer) Customer {
	return Customer{
		Email:     strings.ToLower(strings.TrimSpace(c.Email)),
		FirstName: strings.TrimSpace(c.FirstName),
		LastName:  strings.TrimSpace(c.LastName),
		UserID:    strings.TrimSpace(c.UserID),
	}
}
