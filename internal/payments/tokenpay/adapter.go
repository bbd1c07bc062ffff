// Package tokenpay charges a client-tokenized card through Square in a single
// synchronous call.
package tokenpay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/square/square-go-sdk"

	"github.com/angelmondragon/bullionstore-backend/internal/cart"
	"github.com/angelmondragon/bullionstore-backend/internal/checkout"
	"github.com/angelmondragon/bullionstore-backend/internal/pricing"
	"github.com/angelmondragon/bullionstore-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/bullionstore-backend/pkg/errors"
	"github.com/angelmondragon/bullionstore-backend/pkg/logger"
	"github.com/angelmondragon/bullionstore-backend/pkg/square"
)

const defaultTimeout = 30 * time.Second

type squareAPI interface {
	CreatePayment(ctx context.Context, params square.PaymentCreateParams) (*sq.Payment, error)
}

// Options wires the adapter.
type Options struct {
	Client  squareAPI
	Timeout time.Duration
	Logger  *logger.Logger
}

// Adapter implements checkout.PaymentProvider for Square card payments.
type Adapter struct {
	client  squareAPI
	timeout time.Duration
	logg    *logger.Logger
}

var _ checkout.PaymentProvider = (*Adapter)(nil)

// New validates options and builds the adapter.
func New(opts Options) (*Adapter, error) {
	if opts.Client == nil {
		return nil, errors.New("square client required")
	}
	if opts.Logger == nil {
		return nil, errors.New("logger required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Adapter{client: opts.Client, timeout: timeout, logg: opts.Logger}, nil
}

func (a *Adapter) Provider() enums.PaymentProvider { return enums.PaymentProviderSquare }

func (a *Adapter) Mode() enums.CheckoutMode { return enums.CheckoutModeToken }

// Quote is the priced total; Square charges one amount.
func (a *Adapter) Quote(_ []cart.LineItem, order pricing.PricedOrder) (checkout.ProviderQuote, error) {
	return checkout.ProviderQuote{
		Provider:         a.Provider(),
		Mode:             a.Mode(),
		AmountMinorUnits: order.TotalMinorUnits,
		Currency:         order.Currency,
	}, nil
}

// Submit sends exactly one CreatePayment. The call is detached from the
// request context so a client disconnect cannot abandon a charge in flight;
// only the adapter timeout bounds it.
func (a *Adapter) Submit(ctx context.Context, sub checkout.Submission) (*checkout.Outcome, error) {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
	defer cancel()

	payment, err := a.client.CreatePayment(callCtx, paymentParams(sub))
	if err != nil {
		return nil, classify(err)
	}
	return a.settle(ctx, sub, payment)
}

func (a *Adapter) settle(ctx context.Context, sub checkout.Submission, payment *sq.Payment) (*checkout.Outcome, error) {
	if payment == nil || payment.GetID() == nil || *payment.GetID() == "" {
		return nil, pkgerrors.New(pkgerrors.CodePaymentGateway, "square returned no payment id")
	}
	paymentID := *payment.GetID()
	status := ""
	if payment.GetStatus() != nil {
		status = strings.ToUpper(*payment.GetStatus())
	}
	ctx = a.logg.WithFields(ctx, map[string]any{"payment_id": paymentID, "status": status})

	switch status {
	case "COMPLETED", "APPROVED":
	case "FAILED", "CANCELED":
		return nil, pkgerrors.New(pkgerrors.CodePaymentDeclined, fmt.Sprintf("payment %s", strings.ToLower(status)))
	default:
		a.logg.Warn(ctx, "square payment returned a non-terminal status")
		return nil, pkgerrors.New(pkgerrors.CodePaymentGateway, fmt.Sprintf("payment status %q is not terminal", status))
	}

	amount := sub.Order.TotalMinorUnits
	currency := sub.Order.Currency
	if money := payment.GetAmountMoney(); money != nil && money.GetAmount() != nil {
		if *money.GetAmount() != amount {
			a.logg.Warn(a.logg.WithField(ctx, "charged_amount", *money.GetAmount()), "square charged amount differs from priced total")
		}
		amount = *money.GetAmount()
	}
	a.logg.Info(ctx, "square payment settled")
	return checkout.NewSettledOutcome(checkout.SettledResult{
		PaymentID:        paymentID,
		Status:           status,
		AmountMinorUnits: amount,
		Currency:         currency,
	}), nil
}

// classify maps client errors onto the decline/gateway split. Anything that is
// not an explicit decline leaves the outcome ambiguous.
func classify(err error) error {
	if square.IsDeclined(err) {
		return pkgerrors.Wrap(pkgerrors.CodePaymentDeclined, err, "card declined")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return pkgerrors.Wrap(pkgerrors.CodePaymentGateway, err, "square payment timed out, outcome unknown")
	}
	return pkgerrors.Wrap(pkgerrors.CodePaymentGateway, err, "square payment failed")
}

// paymentParams is a pure function of the submission. Square rejects a reused
// idempotency key whose request differs, so nothing looked up per call may
// reach it: a retry has to replay the first request exactly.
func paymentParams(sub checkout.Submission) square.PaymentCreateParams {
	return square.PaymentCreateParams{
		AmountMinorUnits: sub.Order.TotalMinorUnits,
		Currency:         string(sub.Order.Currency),
		SourceID:         sub.PaymentToken,
		IdempotencyKey:   sub.Attempt.IdempotencyKey,
		BuyerEmail:       sub.Attempt.Customer.Email,
		ReferenceID:      sub.Attempt.ID,
		Note:             note(sub),
	}
}

func note(sub checkout.Submission) string {
	return fmt.Sprintf("attempt %s cart %s", sub.Attempt.ID, cart.Summary(sub.Items, 0))
}
