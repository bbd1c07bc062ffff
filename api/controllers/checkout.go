package controllers

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/bullionstore-backend/api/middleware"
	"github.com/angelmondragon/bullionstore-backend/api/responses"
	"github.com/angelmondragon/bullionstore-backend/api/validators"
	"github.com/angelmondragon/bullionstore-backend/internal/cart"
	checkoutsvc "github.com/angelmondragon/bullionstore-backend/internal/checkout"
	"github.com/angelmondragon/bullionstore-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/bullionstore-backend/pkg/errors"
	"github.com/angelmondragon/bullionstore-backend/pkg/logger"
)

// Item-level rules are enforced by the checkout service so a bad cart is
// reported as INVALID_CART rather than a generic validation failure.
type checkoutRequest struct {
	Items            []cart.LineItem `json:"items"`
	CustomerInfo     *customerInfo   `json:"customerInfo,omitempty"`
	CartSnapshotHash string          `json:"cartSnapshotHash,omitempty" validate:"omitempty,hexadecimal,len=64"`
}

type chargeRequest struct {
	checkoutRequest
	PaymentToken string `json:"paymentToken" validate:"required,max=512"`
}

type customerInfo struct {
	Email     string `json:"email,omitempty" validate:"omitempty,email,max=254"`
	FirstName string `json:"firstName,omitempty" validate:"omitempty,max=100"`
	LastName  string `json:"lastName,omitempty" validate:"omitempty,max=100"`
}

type sessionResponse struct {
	RedirectURL string `json:"redirectUrl"`
	SessionID   string `json:"sessionId"`
	AttemptID   string `json:"attemptId"`
}

type chargeResponse struct {
	Success          bool           `json:"success"`
	PaymentID        string         `json:"paymentId"`
	Status           string         `json:"status"`
	AmountMinorUnits int64          `json:"amountMinorUnits"`
	Currency         enums.Currency `json:"currency"`
	AttemptID        string         `json:"attemptId"`
}

// CheckoutSession starts a hosted checkout and returns where to send the buyer.
func CheckoutSession(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		var payload checkoutRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		outcome, err := svc.StartSession(r.Context(), payload.toRequest(r))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if outcome == nil || outcome.Kind != checkoutsvc.OutcomePending || outcome.Pending == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "session checkout returned no redirect"))
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, sessionResponse{
			RedirectURL: outcome.Pending.RedirectURL,
			SessionID:   outcome.Pending.SessionID,
			AttemptID:   outcome.AttemptID,
		})
	}
}

// CheckoutCharge charges a tokenized card. The Idempotency-Key header is
// required and forwarded to the processor.
func CheckoutCharge(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		var payload chargeRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		req := payload.toRequest(r)
		req.PaymentToken = strings.TrimSpace(payload.PaymentToken)
		req.IdempotencyKey = strings.TrimSpace(r.Header.Get(middleware.IdempotencyKeyHeader))

		outcome, err := svc.Charge(r.Context(), req)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if outcome == nil || outcome.Kind != checkoutsvc.OutcomeSettled || outcome.Settled == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "card checkout returned no settlement"))
			return
		}

		responses.WriteSuccess(w, chargeResponse{
			Success:          true,
			PaymentID:        outcome.Settled.PaymentID,
			Status:           outcome.Settled.Status,
			AmountMinorUnits: outcome.Settled.AmountMinorUnits,
			Currency:         outcome.Settled.Currency,
			AttemptID:        outcome.AttemptID,
		})
	}
}

// CheckoutQuote prices a cart for display. Nothing is sent to a provider.
func CheckoutQuote(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		var payload checkoutRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		quote, err := svc.Quote(r.Context(), payload.toRequest(r))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, quote)
	}
}

func (p checkoutRequest) toRequest(r *http.Request) checkoutsvc.Request {
	req := checkoutsvc.Request{
		Items:            p.Items,
		CartSnapshotHash: strings.ToLower(strings.TrimSpace(p.CartSnapshotHash)),
	}
	if p.CustomerInfo != nil {
		req.Customer = checkoutsvc.Customer{
			Email:     p.CustomerInfo.Email,
			FirstName: validators.SanitizeString(p.CustomerInfo.FirstName, 100),
			LastName:  validators.SanitizeString(p.CustomerInfo.LastName, 100),
		}
	}

	// A verified identity wins over whatever the body claims.
	if userID := middleware.UserIDFromContext(r.Context()); userID != "" {
		req.Customer.UserID = userID
		if email := middleware.EmailFromContext(r.Context()); email != "" {
			req.Customer.Email = email
		}
	}
	return req
}
