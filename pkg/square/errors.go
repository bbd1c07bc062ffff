package square

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	sq "github.com/square/square-go-sdk"
	sqcore "github.com/square/square-go-sdk/core"

	"github.com/angelmondragon/bullionstore-backend/pkg/circuitbreaker"
	pkgerrors "github.com/angelmondragon/bullionstore-backend/pkg/errors"
)

var statusCodes = map[int]pkgerrors.Code{
	http.StatusBadRequest:          pkgerrors.CodeValidation,
	http.StatusUnauthorized:        pkgerrors.CodeUnauthorized,
	http.StatusForbidden:           pkgerrors.CodeForbidden,
	http.StatusNotFound:            pkgerrors.CodeNotFound,
	http.StatusConflict:            pkgerrors.CodeConflict,
	http.StatusUnprocessableEntity: pkgerrors.CodeStateConflict,
	http.StatusTooManyRequests:     pkgerrors.CodeRateLimit,
}

func domainCodeForStatus(status int) pkgerrors.Code {
	if code, ok := statusCodes[status]; ok {
		return code
	}
	if status >= 400 && status < 500 {
		return pkgerrors.CodeValidation
	}
	return pkgerrors.CodeDependency
}

// IsDeclined reports a card decline as opposed to a gateway fault. Declines do
// not count against the breaker.
func IsDeclined(err error) bool {
	if err == nil {
		return false
	}
	if pkgerrors.IsCode(err, pkgerrors.CodePaymentDeclined) {
		return true
	}
	var apiErr *sqcore.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.StatusCode == http.StatusPaymentRequired {
		return true
	}
	for _, e := range squareErrors(apiErr) {
		if e.Category == sq.ErrorCategoryPaymentMethodError {
			return true
		}
	}
	return false
}

func mapSquareError(err error, op string) error {
	switch {
	case err == nil:
		return nil
	case circuitbreaker.IsOpen(err):
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("square %s unavailable", op))
	case IsDeclined(err):
		return pkgerrors.Wrap(pkgerrors.CodePaymentDeclined, err, fmt.Sprintf("square %s declined", op))
	}

	code := pkgerrors.CodeDependency
	var apiErr *sqcore.APIError
	if errors.As(err, &apiErr) {
		code = domainCodeForStatus(apiErr.StatusCode)
		for _, e := range squareErrors(apiErr) {
			if override, ok := errorOverride(e); ok {
				code = override
				break
			}
		}
	}
	return pkgerrors.Wrap(code, err, fmt.Sprintf("square %s failed", op))
}

// errorOverride lets a specific Square error outrank the HTTP status.
func errorOverride(e *sq.Error) (pkgerrors.Code, bool) {
	switch {
	case e.Code == sq.ErrorCodeIdempotencyKeyReused:
		return pkgerrors.CodeIdempotency, true
	case e.Category == sq.ErrorCategoryAuthenticationError:
		return pkgerrors.CodeUnauthorized, true
	}
	return "", false
}

// squareErrors decodes the errors array Square puts in the response body. The
// SDK keeps that body as the wrapped error's text.
func squareErrors(apiErr *sqcore.APIError) []*sq.Error {
	inner := apiErr.Unwrap()
	if inner == nil {
		return nil
	}
	var body struct {
		Errors []*sq.Error `json:"errors"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(inner.Error())), &body); err != nil {
		return nil
	}
	out := body.Errors[:0]
	for _, e := range body.Errors {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}

func deref(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
