package tokenpay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	sq "github.com/square/square-go-sdk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/bullionstore-backend/internal/cart"
	"github.com/angelmondragon/bullionstore-backend/internal/checkout"
	"github.com/angelmondragon/bullionstore-backend/internal/pricing"
	"github.com/angelmondragon/bullionstore-backend/pkg/config"
	"github.com/angelmondragon/bullionstore-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/bullionstore-backend/pkg/errors"
	"github.com/angelmondragon/bullionstore-backend/pkg/logger"
	"github.com/angelmondragon/bullionstore-backend/pkg/square"
)

// fakeSquare deduplicates on the idempotency key the way Square does: the
// same key with the same request returns the original payment, the same key
// with a different request is IDEMPOTENCY_KEY_REUSED.
type fakeSquare struct {
	mu         sync.Mutex
	byKey      map[string]*sq.Payment
	sent       map[string]square.PaymentCreateParams
	requests   []square.PaymentCreateParams
	charges    int
	status     string
	err        error
	block      bool
	lastParams square.PaymentCreateParams
	lastCtxErr error
}

func newFakeSquare() *fakeSquare {
	return &fakeSquare{
		byKey:  map[string]*sq.Payment{},
		sent:   map[string]square.PaymentCreateParams{},
		status: "COMPLETED",
	}
}

func (f *fakeSquare) CreatePayment(ctx context.Context, params square.PaymentCreateParams) (*sq.Payment, error) {
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastParams = params
	f.requests = append(f.requests, params)
	f.lastCtxErr = ctx.Err()
	if f.err != nil {
		return nil, f.err
	}
	if first, ok := f.sent[params.IdempotencyKey]; ok && first != params {
		return nil, pkgerrors.New(pkgerrors.CodeIdempotency, "square create payment failed: IDEMPOTENCY_KEY_REUSED")
	}
	if existing, ok := f.byKey[params.IdempotencyKey]; ok {
		return existing, nil
	}
	f.sent[params.IdempotencyKey] = params
	f.charges++
	id := fmt.Sprintf("sq_pay_%d", f.charges)
	status := f.status
	amount := params.AmountMinorUnits
	currency := sq.Currency(params.Currency)
	payment := &sq.Payment{
		ID:          &id,
		Status:      &status,
		AmountMoney: &sq.Money{Amount: &amount, Currency: &currency},
	}
	f.byKey[params.IdempotencyKey] = payment
	return payment, nil
}

func newAdapter(t *testing.T, client squareAPI, timeout time.Duration) *Adapter {
	t.Helper()
	adapter, err := New(Options{
		Client:  client,
		Timeout: timeout,
		Logger:  logger.New(logger.Options{ServiceName: "tokenpay-test", Output: io.Discard}),
	})
	require.NoError(t, err)
	return adapter
}

func submission(t *testing.T, key string) checkout.Submission {
	t.Helper()
	items := []cart.LineItem{{ID: "g1", Name: "1 oz Gold Bar", UnitPrice: decimal.RequireFromString("2089.50"), Quantity: 1}}
	engine, err := pricing.NewEngine(config.PricingConfig{Currency: "USD", ShippingFee: "29.99", InsuranceRate: "0.01", TaxRate: "0.08"}, 0)
	require.NoError(t, err)
	order, err := engine.ComputeTotal(items)
	require.NoError(t, err)
	return checkout.Submission{
		Attempt: checkout.Attempt{
			ID:             "attempt-" + key,
			Mode:           enums.CheckoutModeToken,
			Provider:       enums.PaymentProviderSquare,
			IdempotencyKey: key,
			Customer:       checkout.Customer{Email: "buyer@example.com"},
		},
		Items:        items,
		Order:        order,
		PaymentToken: "cnon:card-nonce-ok",
	}
}

func TestSubmitSettlesWithMinorUnits(t *testing.T) {
	fake := newFakeSquare()
	adapter := newAdapter(t, fake, time.Second)

	out, err := adapter.Submit(context.Background(), submission(t, "k1"))
	require.NoError(t, err)
	require.Equal(t, checkout.OutcomeSettled, out.Kind)
	assert.Equal(t, "sq_pay_1", out.Settled.PaymentID)
	assert.Equal(t, "COMPLETED", out.Settled.Status)
	assert.Equal(t, int64(230755), out.Settled.AmountMinorUnits)
	assert.Equal(t, enums.CurrencyUSD, out.Settled.Currency)

	assert.Equal(t, int64(230755), fake.lastParams.AmountMinorUnits)
	assert.Equal(t, "k1", fake.lastParams.IdempotencyKey)
	assert.Equal(t, "cnon:card-nonce-ok", fake.lastParams.SourceID)
	assert.Equal(t, "buyer@example.com", fake.lastParams.BuyerEmail)
	assert.Empty(t, fake.lastParams.CustomerID, "the charge carries the buyer email only")
	assert.Equal(t, "attempt-k1", fake.lastParams.ReferenceID)
	assert.Contains(t, fake.lastParams.Note, "g1:1:208950")
}

func TestSameIdempotencyKeySettlesOnce(t *testing.T) {
	fake := newFakeSquare()
	adapter := newAdapter(t, fake, time.Second)

	first, err := adapter.Submit(context.Background(), submission(t, "same-key"))
	require.NoError(t, err)
	second, err := adapter.Submit(context.Background(), submission(t, "same-key"))
	require.NoError(t, err)

	assert.Equal(t, 1, fake.charges)
	assert.Equal(t, first.Settled.PaymentID, second.Settled.PaymentID)
}

func TestDifferentIdempotencyKeysAreIndependent(t *testing.T) {
	fake := newFakeSquare()
	adapter := newAdapter(t, fake, time.Second)

	first, err := adapter.Submit(context.Background(), submission(t, "key-a"))
	require.NoError(t, err)
	second, err := adapter.Submit(context.Background(), submission(t, "key-b"))
	require.NoError(t, err)

	assert.Equal(t, 2, fake.charges)
	assert.NotEqual(t, first.Settled.PaymentID, second.Settled.PaymentID)
}

func TestTerminalStatuses(t *testing.T) {
	cases := map[string]func(error) bool{
		"COMPLETED": func(err error) bool { return err == nil },
		"APPROVED":  func(err error) bool { return err == nil },
		"FAILED":    checkout.IsDeclined,
		"CANCELED":  checkout.IsDeclined,
		"PENDING":   checkout.IsGateway,
		"":          checkout.IsGateway,
	}
	for status, check := range cases {
		fake := newFakeSquare()
		fake.status = status
		adapter := newAdapter(t, fake, time.Second)
		_, err := adapter.Submit(context.Background(), submission(t, "k-"+status))
		assert.True(t, check(err), "status %q gave %v", status, err)
	}
}

func TestDeclineVersusGateway(t *testing.T) {
	fake := newFakeSquare()
	fake.err = pkgerrors.New(pkgerrors.CodePaymentDeclined, "square create payment declined")
	adapter := newAdapter(t, fake, time.Second)
	_, err := adapter.Submit(context.Background(), submission(t, "decline"))
	assert.True(t, checkout.IsDeclined(err))

	fake.err = pkgerrors.New(pkgerrors.CodeDependency, "square create payment failed")
	_, err = adapter.Submit(context.Background(), submission(t, "outage"))
	assert.True(t, checkout.IsGateway(err))

	fake.err = errors.New("dial tcp: connection refused")
	_, err = adapter.Submit(context.Background(), submission(t, "transport"))
	assert.True(t, checkout.IsGateway(err))
}

func TestTimeoutIsGatewayError(t *testing.T) {
	fake := newFakeSquare()
	fake.block = true
	adapter := newAdapter(t, fake, 20*time.Millisecond)

	_, err := adapter.Submit(context.Background(), submission(t, "slow"))
	assert.True(t, checkout.IsGateway(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCallerCancellationDoesNotAbandonCharge(t *testing.T) {
	fake := newFakeSquare()
	adapter := newAdapter(t, fake, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, err := adapter.Submit(ctx, submission(t, "cancelled"))
	require.NoError(t, err)
	assert.Equal(t, "sq_pay_1", out.Settled.PaymentID)
	assert.NoError(t, fake.lastCtxErr)
}

func TestQuoteIsPricedTotal(t *testing.T) {
	adapter := newAdapter(t, newFakeSquare(), time.Second)
	sub := submission(t, "q")
	quote, err := adapter.Quote(sub.Items, sub.Order)
	require.NoError(t, err)
	assert.Equal(t, int64(230755), quote.AmountMinorUnits)
	assert.Equal(t, enums.PaymentProviderSquare, quote.Provider)
}

// A timed out charge is retried with the same key. The retry must reach
// Square as the identical request so the original payment comes back.
func TestRetriedChargeReplaysIdenticalRequest(t *testing.T) {
	fake := newFakeSquare()
	engine, err := pricing.NewEngine(config.PricingConfig{Currency: "USD", ShippingFee: "29.99", InsuranceRate: "0.01", TaxRate: "0.08"}, 50)
	require.NoError(t, err)
	svc, err := checkout.NewService(checkout.ServiceOptions{
		Pricer: engine,
		Token:  newAdapter(t, fake, time.Second),
		Logger: logger.New(logger.Options{ServiceName: "tokenpay-test", Output: io.Discard}),
	})
	require.NoError(t, err)

	req := checkout.Request{
		Items:          []cart.LineItem{{ID: "g1", Name: "1 oz Gold Bar", UnitPrice: decimal.RequireFromString("2089.50"), Quantity: 1}},
		Customer:       checkout.Customer{Email: "buyer@example.com"},
		PaymentToken:   "cnon:card-nonce-ok",
		IdempotencyKey: "retry-key",
	}
	first, err := svc.Charge(context.Background(), req)
	require.NoError(t, err)
	retry, err := svc.Charge(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, fake.requests, 2)
	require.Equal(t, fake.requests[0], fake.requests[1])
	assert.Equal(t, 1, fake.charges)
	assert.Equal(t, first.Settled.PaymentID, retry.Settled.PaymentID)
	assert.Equal(t, first.AttemptID, retry.AttemptID)
}
