package webhooks

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/angelmondragon/bullionstore-backend/api/responses"
	pkgerrors "github.com/angelmondragon/bullionstore-backend/pkg/errors"
	"github.com/angelmondragon/bullionstore-backend/pkg/logger"
)

// maxPayloadBytes follows Stripe's guidance for webhook bodies.
const maxPayloadBytes = 65536

type StripeWebhookService interface {
	HandleEvent(ctx context.Context, event *stripe.Event) error
}

type replayGuard interface {
	Claim(ctx context.Context, eventID string) (bool, error)
	Complete(ctx context.Context, eventID string) error
	Release(ctx context.Context, eventID string) error
}

type signingSecretSource interface {
	SigningSecret() string
}

// StripeWebhook verifies the Stripe-Signature header, drops replays and hands
// checkout session events to the service. A failed handler releases its claim
// so Stripe's retry is processed again.
func StripeWebhook(svc StripeWebhookService, secrets signingSecretSource, guard replayGuard, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil || secrets == nil || guard == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "stripe webhook is not wired"))
			return
		}

		event, err := verifiedEvent(w, r, secrets.SigningSecret())
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if logg != nil {
			ctx = logg.WithFields(ctx, map[string]any{
				"stripe_event_id":   event.ID,
				"stripe_event_type": string(event.Type),
			})
		}

		claimed, err := guard.Claim(ctx, event.ID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim stripe event"))
			return
		}
		if !claimed {
			if logg != nil {
				logg.Info(ctx, "stripe event already handled")
			}
			responses.WriteSuccess(w, nil)
			return
		}

		if err := svc.HandleEvent(ctx, event); err != nil {
			if relErr := guard.Release(ctx, event.ID); relErr != nil && logg != nil {
				logg.Error(ctx, "failed to release stripe event claim", relErr)
			}
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if err := guard.Complete(ctx, event.ID); err != nil && logg != nil {
			// The claim still expires on its own; Stripe may redeliver once.
			logg.Warn(logg.WithField(ctx, "error", err.Error()), "failed to mark stripe event done")
		}
		if logg != nil {
			logg.Info(ctx, "stripe event processed")
		}
		responses.WriteSuccess(w, nil)
	}
}

func verifiedEvent(w http.ResponseWriter, r *http.Request, secret string) (*stripe.Event, error) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayloadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "webhook payload too large")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body")
	}
	signature := r.Header.Get("Stripe-Signature")
	if signature == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "stripe signature missing")
	}
	event, err := webhook.ConstructEvent(payload, signature, secret)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "verify signature")
	}
	return &event, nil
}
