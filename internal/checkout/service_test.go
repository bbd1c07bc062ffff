package checkout

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/bullionstore-backend/internal/cart"
	"github.com/angelmondragon/bullionstore-backend/internal/pricing"
	"github.com/angelmondragon/bullionstore-backend/pkg/config"
	"github.com/angelmondragon/bullionstore-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/bullionstore-backend/pkg/errors"
	"github.com/angelmondragon/bullionstore-backend/pkg/logger"
	"github.com/angelmondragon/bullionstore-backend/pkg/metrics"
)

type stubProvider struct {
	provider enums.PaymentProvider
	mode     enums.CheckoutMode
	outcome  *Outcome
	err      error
	calls    int
	last     Submission
}

func (p *stubProvider) Provider() enums.PaymentProvider { return p.provider }
func (p *stubProvider) Mode() enums.CheckoutMode        { return p.mode }

func (p *stubProvider) Quote(_ []cart.LineItem, order pricing.PricedOrder) (ProviderQuote, error) {
	return ProviderQuote{Provider: p.provider, Mode: p.mode, AmountMinorUnits: order.TotalMinorUnits, Currency: order.Currency}, nil
}

func (p *stubProvider) Submit(_ context.Context, sub Submission) (*Outcome, error) {
	p.calls++
	p.last = sub
	if p.err != nil {
		return nil, p.err
	}
	out := *p.outcome
	return &out, nil
}

type countingPricer struct {
	inner Pricer
	calls int
}

func (c *countingPricer) ComputeTotal(items []cart.LineItem) (pricing.PricedOrder, error) {
	c.calls++
	return c.inner.ComputeTotal(items)
}

type stubRecorder struct {
	err   error
	calls []Settlement
}

func (r *stubRecorder) Record(_ context.Context, s Settlement) error {
	r.calls = append(r.calls, s)
	return r.err
}

type fixture struct {
	svc      Service
	pricer   *countingPricer
	session  *stubProvider
	token    *stubProvider
	recorder *stubRecorder
	registry *prometheus.Registry
}

func newFixture(t *testing.T, withSession, withToken bool) *fixture {
	t.Helper()
	engine, err := pricing.NewEngine(config.PricingConfig{
		Currency:      "USD",
		ShippingFee:   "29.99",
		InsuranceRate: "0.01",
		TaxRate:       "0.08",
	}, 50)
	if err != nil {
		t.Fatalf("pricing engine: %v", err)
	}
	f := &fixture{
		pricer: &countingPricer{inner: engine},
		session: &stubProvider{
			provider: enums.PaymentProviderStripe,
			mode:     enums.CheckoutModeSession,
			outcome:  NewPendingOutcome("https://checkout.stripe.com/c/pay/cs_1", "cs_1"),
		},
		token: &stubProvider{
			provider: enums.PaymentProviderSquare,
			mode:     enums.CheckoutModeToken,
			outcome: NewSettledOutcome(SettledResult{
				PaymentID:        "sq_pay_1",
				Status:           "COMPLETED",
				AmountMinorUnits: 230755,
				Currency:         enums.CurrencyUSD,
			}),
		},
		recorder: &stubRecorder{},
		registry: prometheus.NewRegistry(),
	}
	opts := ServiceOptions{
		Pricer:   f.pricer,
		Recorder: f.recorder,
		Metrics:  metrics.NewCheckoutMetrics(f.registry),
		Logger:   logger.New(logger.Options{ServiceName: "checkout-test", Output: io.Discard}),
		NewID:    func() string { return "attempt-1" },
	}
	if withSession {
		opts.Session = f.session
	}
	if withToken {
		opts.Token = f.token
	}
	svc, err := NewService(opts)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	f.svc = svc
	return f
}

func goldBar() []cart.LineItem {
	return []cart.LineItem{{ID: "g1", Name: "1 oz Gold Bar", UnitPrice: decimal.RequireFromString("2089.50"), Quantity: 1}}
}

func tokenRequest(key string) Request {
	return Request{
		Items:          goldBar(),
		Customer:       Customer{Email: " Buyer@Example.com "},
		PaymentToken:   "cnon:card-nonce-ok",
		IdempotencyKey: key,
	}
}

func TestChargeSettlesAndRecords(t *testing.T) {
	t.Parallel()
	f := newFixture(t, true, true)

	out, err := f.svc.Charge(context.Background(), tokenRequest("key-1"))
	if err != nil {
		t.Fatalf("charge: %v", err)
	}
	if out.Kind != OutcomeSettled || out.Settled == nil || out.Pending != nil {
		t.Fatalf("expected settled outcome, got %+v", out)
	}
	if out.Settled.PaymentID != "sq_pay_1" || out.AttemptID == "attempt-1" || !out.Recorded {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if f.token.last.Order.TotalMinorUnits != 230755 {
		t.Fatalf("provider received %d cents", f.token.last.Order.TotalMinorUnits)
	}
	if f.token.last.Attempt.Customer.Email != "buyer@example.com" {
		t.Fatalf("customer email not normalized: %q", f.token.last.Attempt.Customer.Email)
	}
	if len(f.recorder.calls) != 1 {
		t.Fatalf("expected one record, got %d", len(f.recorder.calls))
	}
	rec := f.recorder.calls[0]
	if rec.PaymentMethod != enums.PaymentMethodCard || rec.Attempt.IdempotencyKey != "key-1" || rec.Attempt.State != enums.AttemptStateSettled {
		t.Fatalf("unexpected settlement %+v", rec)
	}
	if f.session.calls != 0 {
		t.Fatal("session provider must not be called on the token path")
	}
}

func TestChargeSucceedsWhenRecorderFails(t *testing.T) {
	t.Parallel()
	f := newFixture(t, false, true)
	f.recorder.err = errors.New("connection reset")

	out, err := f.svc.Charge(context.Background(), tokenRequest("key-2"))
	if err != nil {
		t.Fatalf("a recorder failure must not fail the charge: %v", err)
	}
	if out.Settled.PaymentID != "sq_pay_1" {
		t.Fatalf("expected payment id to survive, got %+v", out.Settled)
	}
	if out.Recorded {
		t.Fatal("expected Recorded=false")
	}

	mfs, err := f.registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := false
	for _, mf := range mfs {
		if mf.GetName() == "checkout_record_failures_total" && mf.GetMetric()[0].GetCounter().GetValue() == 1 {
			found = true
		}
	}
	if !found {
		t.Fatal("expected record failure metric")
	}
}

func TestInvalidCartTriggersNoUpstreamCalls(t *testing.T) {
	t.Parallel()
	f := newFixture(t, true, true)

	carts := map[string][]cart.LineItem{
		"empty":        nil,
		"zero price":   {{ID: "g1", Name: "g", UnitPrice: decimal.Zero, Quantity: 1}},
		"negative qty": {{ID: "g1", Name: "g", UnitPrice: decimal.NewFromInt(10), Quantity: -1}},
	}
	for name, items := range carts {
		req := tokenRequest("key-" + name)
		req.Items = items
		if _, err := f.svc.Charge(context.Background(), req); !IsInvalidCart(err) {
			t.Fatalf("%s: expected invalid cart on charge, got %v", name, err)
		}
		if _, err := f.svc.StartSession(context.Background(), Request{Items: items}); !IsInvalidCart(err) {
			t.Fatalf("%s: expected invalid cart on session, got %v", name, err)
		}
	}
	if f.token.calls != 0 || f.session.calls != 0 {
		t.Fatalf("expected zero upstream calls, got token=%d session=%d", f.token.calls, f.session.calls)
	}
}

func TestChargeRequiresTokenAndKey(t *testing.T) {
	t.Parallel()
	f := newFixture(t, false, true)

	req := tokenRequest("")
	if _, err := f.svc.Charge(context.Background(), req); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error for missing key, got %v", err)
	}
	req = tokenRequest("key-3")
	req.PaymentToken = "  "
	if _, err := f.svc.Charge(context.Background(), req); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error for missing token, got %v", err)
	}
	if f.token.calls != 0 {
		t.Fatal("provider must not be called")
	}
}

func TestUnconfiguredProviderSkipsPricing(t *testing.T) {
	t.Parallel()
	f := newFixture(t, false, false)

	if _, err := f.svc.StartSession(context.Background(), Request{Items: goldBar()}); !IsNotConfigured(err) {
		t.Fatalf("expected not configured, got %v", err)
	}
	if _, err := f.svc.Charge(context.Background(), tokenRequest("key-4")); !IsNotConfigured(err) {
		t.Fatalf("expected not configured, got %v", err)
	}
	if f.pricer.calls != 0 {
		t.Fatalf("pricing must not run for an unconfigured provider, ran %d times", f.pricer.calls)
	}
}

func TestChargeDeclinedIsSurfacedVerbatim(t *testing.T) {
	t.Parallel()
	f := newFixture(t, false, true)
	f.token.err = pkgerrors.New(pkgerrors.CodePaymentDeclined, "card declined: GENERIC_DECLINE")

	out, err := f.svc.Charge(context.Background(), tokenRequest("key-5"))
	if out != nil || !IsDeclined(err) {
		t.Fatalf("expected decline, got out=%+v err=%v", out, err)
	}
	if len(f.recorder.calls) != 0 {
		t.Fatal("declined charges must not be recorded")
	}
}

func TestUntypedProviderErrorBecomesInternal(t *testing.T) {
	t.Parallel()
	f := newFixture(t, true, false)
	f.session.err = errors.New("boom")

	_, err := f.svc.StartSession(context.Background(), Request{Items: goldBar()})
	if !pkgerrors.IsCode(err, pkgerrors.CodeInternal) {
		t.Fatalf("expected internal error, got %v", err)
	}
}

func TestStartSessionReturnsPendingOutcome(t *testing.T) {
	t.Parallel()
	f := newFixture(t, true, true)

	out, err := f.svc.StartSession(context.Background(), Request{Items: goldBar(), Customer: Customer{UserID: "user-1"}})
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	if out.Kind != OutcomePending || out.Pending.SessionID != "cs_1" || out.Settled != nil {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if f.session.last.Attempt.Provider != enums.PaymentProviderStripe || f.session.last.Attempt.Customer.UserID != "user-1" {
		t.Fatalf("unexpected attempt %+v", f.session.last.Attempt)
	}
	if len(f.recorder.calls) != 0 {
		t.Fatal("session checkouts are recorded out of band")
	}
}

func TestStaleCartHashIsRejected(t *testing.T) {
	t.Parallel()
	f := newFixture(t, true, false)

	req := Request{Items: goldBar(), CartSnapshotHash: cart.Hash([]cart.LineItem{{ID: "g1", Name: "g", UnitPrice: decimal.NewFromInt(1), Quantity: 1}})}
	if _, err := f.svc.StartSession(context.Background(), req); !IsInvalidCart(err) {
		t.Fatalf("expected stale cart rejection, got %v", err)
	}

	req.CartSnapshotHash = cart.Hash(req.Items)
	if _, err := f.svc.StartSession(context.Background(), req); err != nil {
		t.Fatalf("matching hash should pass: %v", err)
	}
}

func TestQuoteListsConfiguredProviders(t *testing.T) {
	t.Parallel()
	f := newFixture(t, true, false)

	quote, err := f.svc.Quote(context.Background(), Request{Items: goldBar()})
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if quote.Order.TotalMinorUnits != 230755 || quote.CartSnapshotHash != cart.Hash(goldBar()) {
		t.Fatalf("unexpected quote %+v", quote)
	}
	if len(quote.Providers) != 1 || quote.Providers[0].Provider != enums.PaymentProviderStripe {
		t.Fatalf("unexpected providers %+v", quote.Providers)
	}
	if f.session.calls != 0 {
		t.Fatal("quote must not submit")
	}
}

func TestNewServiceRejectsMismatchedModes(t *testing.T) {
	t.Parallel()
	_, err := NewService(ServiceOptions{
		Pricer: &countingPricer{},
		Logger: logger.New(logger.Options{Output: io.Discard}),
		Token:  &stubProvider{mode: enums.CheckoutModeSession},
	})
	if err == nil {
		t.Fatal("expected mode mismatch error")
	}
}

func TestKeyedChargeReusesAttemptIdentity(t *testing.T) {
	t.Parallel()
	f := newFixture(t, true, true)

	charge := func(req Request) Attempt {
		t.Helper()
		if _, err := f.svc.Charge(context.Background(), req); err != nil {
			t.Fatalf("charge: %v", err)
		}
		return f.token.last.Attempt
	}
	first := charge(tokenRequest("retry-key"))
	retry := charge(tokenRequest("retry-key"))
	if first.ID != retry.ID {
		t.Fatalf("retry changed the attempt id: %s vs %s", first.ID, retry.ID)
	}
	if _, err := uuid.Parse(first.ID); err != nil {
		t.Fatalf("attempt id %q is not a uuid: %v", first.ID, err)
	}

	if other := charge(tokenRequest("another-key")); other.ID == first.ID {
		t.Fatal("a new key must start a new attempt")
	}
	member := tokenRequest("retry-key")
	member.Customer.UserID = "user-7"
	if scoped := charge(member); scoped.ID == first.ID {
		t.Fatal("the same key from another buyer must not share an attempt")
	}

	if _, err := f.svc.StartSession(context.Background(), Request{Items: goldBar()}); err != nil {
		t.Fatalf("start session: %v", err)
	}
	if f.session.last.Attempt.ID != "attempt-1" {
		t.Fatalf("session attempts keep random ids, got %q", f.session.last.Attempt.ID)
	}
}
