package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/bullionstore-backend/pkg/circuitbreaker"
	pkgerrors "github.com/angelmondragon/bullionstore-backend/pkg/errors"
)

func mapStripeError(err error, op string) error {
	if err == nil {
		return nil
	}
	if circuitbreaker.IsOpen(err) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("stripe %s unavailable", op))
	}
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return pkgerrors.Wrap(codeForStripeError(stripeErr), err, fmt.Sprintf("stripe %s failed", op))
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("stripe %s failed", op))
}

func codeForStripeError(e *stripe.Error) pkgerrors.Code {
	switch {
	case e.Type == stripe.ErrorTypeCard:
		return pkgerrors.CodePaymentDeclined
	case e.Type == stripe.ErrorTypeIdempotency:
		return pkgerrors.CodeIdempotency
	case e.HTTPStatusCode == http.StatusUnauthorized:
		return pkgerrors.CodeUnauthorized
	case e.HTTPStatusCode == http.StatusForbidden:
		return pkgerrors.CodeForbidden
	case e.HTTPStatusCode == http.StatusTooManyRequests:
		return pkgerrors.CodeRateLimit
	case e.HTTPStatusCode == http.StatusNotFound:
		return pkgerrors.CodeNotFound
	case e.HTTPStatusCode >= 400 && e.HTTPStatusCode < 500:
		return pkgerrors.CodeValidation
	default:
		return pkgerrors.CodeDependency
	}
}

// isClientSideError reports errors caused by the request rather than Stripe's
// health; those must not trip the breaker.
func isClientSideError(err error) bool {
	if errors.Is(err, context.Canceled) {
		return true
	}
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return false
	}
	if stripeErr.Type == stripe.ErrorTypeCard {
		return true
	}
	status := stripeErr.HTTPStatusCode
	return status >= 400 && status < 500 && status != http.StatusTooManyRequests
}

func (c *Client) log(ctx context.Context, phase, op string, fields map[string]any) {
	if c == nil || c.logger == nil {
		return
	}
	logFields := map[string]any{
		"operation": op,
		"phase":     phase,
	}
	for k, v := range fields {
		logFields[k] = redact(k, v)
	}
	c.logger.Debug(c.logger.WithFields(ctx, logFields), fmt.Sprintf("stripe %s %s", op, phase))
}

func (c *Client) logErr(ctx context.Context, op string, err error) {
	if c == nil || c.logger == nil {
		return
	}
	ctx = c.logger.WithField(ctx, "operation", op)
	c.logger.Error(ctx, fmt.Sprintf("stripe %s failed", op), err)
}

func redact(key string, value any) any {
	lower := strings.ToLower(key)
	for _, sensitive := range []string{"email", "secret", "token", "card"} {
		if strings.Contains(lower, sensitive) {
			return "[REDACTED]"
		}
	}
	return value
}
