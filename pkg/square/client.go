// Package square wraps the Square Payments API used by the token checkout
// path.
package square

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sq "github.com/square/square-go-sdk"
	sqclient "github.com/square/square-go-sdk/client"
	sqoption "github.com/square/square-go-sdk/option"

	"github.com/angelmondragon/bullionstore-backend/pkg/circuitbreaker"
	"github.com/angelmondragon/bullionstore-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/bullionstore-backend/pkg/errors"
	"github.com/angelmondragon/bullionstore-backend/pkg/logger"
)

var (
	errAccessTokenRequired = errors.New("square access token is required")
	errLocationIDRequired  = errors.New("square location id is required")
	errLoggerRequired      = errors.New("square logger is required")
)

// environments maps a config name to the Connect API host.
var environments = map[string]string{
	"sandbox":    "https://connect.squareupsandbox.com",
	"production": "https://connect.squareup.com",
}

var errInvalidSquareEnv = errors.New(`square environment must be "sandbox" or "production"`)

type paymentsAPI interface {
	Create(ctx context.Context, request *sq.CreatePaymentRequest, opts ...sqoption.RequestOption) (*sq.CreatePaymentResponse, error)
}

// Client charges against one Square location. Payment calls go through a
// breaker that ignores card declines.
type Client struct {
	payments    paymentsAPI
	environment string
	locationID  string
	logger      *logger.Logger
	paymentCB   *circuitbreaker.Breaker[*sq.Payment]
}

func NewClient(ctx context.Context, cfg config.SquareConfig, breaker config.BreakerConfig, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	env := cfg.Environment()
	baseURL, ok := environments[env]
	if !ok {
		return nil, errInvalidSquareEnv
	}
	token := strings.TrimSpace(cfg.AccessToken)
	if token == "" {
		return nil, errAccessTokenRequired
	}
	locationID := strings.TrimSpace(cfg.LocationID)
	if locationID == "" {
		return nil, errLocationIDRequired
	}

	sdk := sqclient.NewClient(sqoption.WithBaseURL(baseURL), sqoption.WithToken(token))
	logg.Info(logg.WithFields(ctx, map[string]any{"square_env": env, "location_id": locationID}), "square client initialized")
	return &Client{
		payments:    sdk.Payments,
		environment: env,
		locationID:  locationID,
		logger:      logg,
		paymentCB: circuitbreaker.New[*sq.Payment](circuitbreaker.Options{
			Name:   "square.payments",
			Config: breaker,
			Benign: IsDeclined,
			Logger: logg,
		}),
	}, nil
}

func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return c.environment
}

func (c *Client) LocationID() string {
	if c == nil {
		return ""
	}
	return c.locationID
}

// CreatePayment charges a tokenized card. The caller's idempotency key is
// required: Square deduplicates on it, so a retried charge returns the
// original payment instead of taking the money twice.
func (c *Client) CreatePayment(ctx context.Context, params PaymentCreateParams) (*sq.Payment, error) {
	if strings.TrimSpace(params.IdempotencyKey) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "square payments need an idempotency key")
	}
	if params.LocationID == "" {
		params.LocationID = c.locationID
	}
	c.trace(ctx, "create_payment", map[string]any{
		"location_id":  params.LocationID,
		"reference_id": params.ReferenceID,
		"amount":       params.AmountMinorUnits,
		"source_token": params.SourceID,
	})

	req := params.request()
	payment, err := c.paymentCB.Execute(func() (*sq.Payment, error) {
		resp, err := c.payments.Create(ctx, req)
		if err != nil {
			return nil, err
		}
		return resp.GetPayment(), nil
	})
	if err != nil {
		return nil, c.fail(ctx, "create payment", err)
	}

	c.trace(ctx, "create_payment.ok", map[string]any{
		"payment_id": deref(payment.GetID()),
		"status":     deref(payment.GetStatus()),
	})
	return payment, nil
}

// sensitiveKeys marks log fields whose values never leave the process.
var sensitiveKeys = []string{"card", "nonce", "token", "cvv", "cvc", "secret", "email", "phone"}

func redact(key string, value any) any {
	lower := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(lower, s) {
			return "[REDACTED]"
		}
	}
	return value
}

func (c *Client) trace(ctx context.Context, op string, fields map[string]any) {
	if c == nil || c.logger == nil {
		return
	}
	safe := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		safe[k] = redact(k, v)
	}
	safe["operation"] = op
	c.logger.Info(c.logger.WithFields(ctx, safe), "square call")
}

// fail logs the raw SDK error and returns its typed mapping.
func (c *Client) fail(ctx context.Context, op string, err error) error {
	mapped := mapSquareError(err, op)
	if c != nil && c.logger != nil {
		c.logger.Warn(c.logger.WithFields(ctx, map[string]any{
			"operation":  op,
			"error":      err.Error(),
			"error_code": string(pkgerrors.As(mapped).Code()),
		}), fmt.Sprintf("square %s failed", op))
	}
	return mapped
}
