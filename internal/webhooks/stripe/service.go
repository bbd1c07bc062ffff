// Package stripewebhook records hosted checkout sessions once Stripe reports
// them paid. Session checkouts settle out of band, so this is the only place
// they reach the transaction store.
package stripewebhook

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/bullionstore-backend/internal/cart"
	"github.com/angelmondragon/bullionstore-backend/internal/checkout"
	"github.com/angelmondragon/bullionstore-backend/internal/payments/sessionpay"
	"github.com/angelmondragon/bullionstore-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/bullionstore-backend/pkg/errors"
	"github.com/angelmondragon/bullionstore-backend/pkg/logger"
)

type ServiceParams struct {
	Recorder checkout.Recorder
	Logger   *logger.Logger
}

type Service struct {
	recorder checkout.Recorder
	logg     *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Recorder == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction recorder required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{recorder: params.Recorder, logg: params.Logger}, nil
}

func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted,
		stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode checkout session event")
		}
		return s.recordSession(ctx, &session)
	case stripe.EventTypeCheckoutSessionAsyncPaymentFailed:
		s.logg.Warn(s.logg.WithField(ctx, "session_id", event.GetObjectValue("id")), "checkout session payment failed")
		return nil
	default:
		return nil
	}
}

func (s *Service) recordSession(ctx context.Context, session *stripe.CheckoutSession) error {
	ctx = s.logg.WithField(ctx, "session_id", session.ID)
	// Delayed payment methods complete the session before money moves; the
	// async_payment_succeeded event carries the paid session later.
	if session.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		s.logg.Info(ctx, "checkout session not paid yet, skipping")
		return nil
	}

	settlement, err := settlementFromSession(session)
	if err != nil {
		return err
	}
	if err := s.recorder.Record(ctx, settlement); err != nil {
		// A retry cannot fix a second payment for a settled attempt; ack it and
		// leave the clash for reconciliation.
		if pkgerrors.IsCode(err, pkgerrors.CodeConflict) {
			s.logg.Error(ctx, "checkout session clashes with a recorded attempt", err)
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record checkout session")
	}
	return nil
}

func settlementFromSession(session *stripe.CheckoutSession) (checkout.Settlement, error) {
	meta := session.Metadata
	items, err := cart.ParseSummary(sessionpay.CartSummary(meta))
	if err != nil {
		return checkout.Settlement{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode cart summary")
	}
	// A short record would pass for the whole order, so a summary that lost
	// lines is refused rather than stored.
	want, err := strconv.Atoi(meta[sessionpay.MetaItemCount])
	if err != nil || want != len(items) {
		return checkout.Settlement{}, pkgerrors.New(pkgerrors.CodeValidation, "cart summary does not match item count").
			WithDetails(map[string]any{"item_count": meta[sessionpay.MetaItemCount], "parsed_lines": len(items)})
	}

	paymentID := session.ID
	if session.PaymentIntent != nil && session.PaymentIntent.ID != "" {
		paymentID = session.PaymentIntent.ID
	}
	attemptID := meta[sessionpay.MetaAttemptID]
	if attemptID == "" {
		attemptID = session.ClientReferenceID
	}
	email := session.CustomerEmail
	if session.CustomerDetails != nil && session.CustomerDetails.Email != "" {
		email = session.CustomerDetails.Email
	}
	currency := enums.Currency(strings.ToUpper(string(session.Currency)))
	if currency == "" {
		currency = enums.CurrencyUSD
	}

	return checkout.Settlement{
		Attempt: checkout.Attempt{
			ID:               attemptID,
			Mode:             enums.CheckoutModeSession,
			Provider:         enums.PaymentProviderStripe,
			CartSnapshotHash: meta[sessionpay.MetaCartHash],
			Customer: checkout.Customer{
				Email:  strings.ToLower(strings.TrimSpace(email)),
				UserID: meta[sessionpay.MetaUserID],
			},
			State: enums.AttemptStateSettled,
		},
		Result: checkout.SettledResult{
			PaymentID:        paymentID,
			Status:           string(session.PaymentStatus),
			AmountMinorUnits: session.AmountTotal,
			Currency:         currency,
		},
		Items:         items,
		PaymentMethod: enums.PaymentMethodCheckoutSession,
	}, nil
}
