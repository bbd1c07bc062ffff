// Package errors carries the typed error taxonomy shared by the checkout API,
// the payment adapters and the webhook. A Code decides the HTTP status, whether
// the caller may retry and what text the storefront is allowed to see.
package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeForbidden     Code = "FORBIDDEN"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT"
	CodeStateConflict Code = "STATE_CONFLICT"
	CodeIdempotency   Code = "IDEMPOTENCY_KEY_REUSED"
	CodeRateLimit     Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeDependency    Code = "DEPENDENCY_ERROR"

	CodeInvalidCart          Code = "INVALID_CART"
	CodeUpstreamProvisioning Code = "UPSTREAM_PROVISIONING_FAILED"
	CodePaymentDeclined      Code = "PAYMENT_DECLINED"
	CodePaymentGateway       Code = "PAYMENT_GATEWAY_ERROR"
	CodePaymentNotConfigured Code = "PAYMENT_NOT_CONFIGURED"
)

// Metadata is the public face of a Code.
type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
	// EchoMessage lets the error's own message replace PublicMessage. Only
	// set for codes whose messages are written for the shopper.
	EchoMessage bool
}

type trait uint8

const (
	retryable trait = 1 << iota
	withDetails
	echo
)

func describe(status int, public string, traits trait) Metadata {
	return Metadata{
		HTTPStatus:     status,
		PublicMessage:  public,
		Retryable:      traits&retryable != 0,
		DetailsAllowed: traits&withDetails != 0,
		EchoMessage:    traits&echo != 0,
	}
}

var taxonomy = map[Code]Metadata{
	CodeValidation:    describe(http.StatusBadRequest, "validation failed", withDetails|echo),
	CodeUnauthorized:  describe(http.StatusUnauthorized, "authentication required", echo),
	CodeForbidden:     describe(http.StatusForbidden, "access denied", echo),
	CodeNotFound:      describe(http.StatusNotFound, "resource not found", echo),
	CodeConflict:      describe(http.StatusConflict, "conflict detected", echo),
	CodeStateConflict: describe(http.StatusUnprocessableEntity, "state transition disallowed", withDetails|echo),
	CodeIdempotency:   describe(http.StatusConflict, "idempotency key reused", withDetails|echo),
	CodeRateLimit:     describe(http.StatusTooManyRequests, "rate limit exceeded", echo),
	CodeInternal:      describe(http.StatusInternalServerError, "internal server error", retryable),
	CodeDependency:    describe(http.StatusServiceUnavailable, "dependency unavailable", retryable|withDetails),

	// Declines are shopper-correctable. Gateway and provisioning failures are
	// ambiguous, so they only get generic retry guidance.
	CodeInvalidCart:          describe(http.StatusBadRequest, "cart is invalid", withDetails|echo),
	CodeUpstreamProvisioning: describe(http.StatusBadGateway, "checkout could not be started, please try again", retryable),
	CodePaymentDeclined:      describe(http.StatusPaymentRequired, "payment declined, please check your card details", 0),
	CodePaymentGateway:       describe(http.StatusBadGateway, "payment could not be confirmed, please try again shortly", retryable),
	CodePaymentNotConfigured: describe(http.StatusServiceUnavailable, "payment not configured", 0),
}

// MetadataFor falls back to CodeInternal for codes outside the taxonomy.
func MetadataFor(code Code) Metadata {
	if meta, ok := taxonomy[code]; ok {
		return meta
	}
	return taxonomy[CodeInternal]
}

type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap attaches a code to cause. A nil cause yields a plain New.
func Wrap(code Code, cause error, message string) *Error {
	return &Error{code: code, message: message, cause: cause}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

func (e *Error) WithDetails(details any) *Error {
	if e != nil {
		e.details = details
	}
	return e
}

// PublicMessage is the text a client may see for this error.
func (e *Error) PublicMessage() string {
	meta := MetadataFor(e.Code())
	if meta.EchoMessage && e.Message() != "" {
		return e.message
	}
	return meta.PublicMessage
}

// PublicDetails returns the details only when the code allows exposing them.
func (e *Error) PublicDetails() any {
	if !MetadataFor(e.Code()).DetailsAllowed {
		return nil
	}
	return e.Details()
}

func (e *Error) Error() string {
	switch {
	case e == nil:
		return ""
	case e.cause != nil:
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	default:
		return fmt.Sprintf("%s: %s", e.code, e.message)
	}
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// As returns the outermost *Error in err's chain, or nil.
func As(err error) *Error {
	var typed *Error
	if err != nil && stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// IsCode reports whether the outermost *Error in err's chain has code.
func IsCode(err error, code Code) bool {
	return As(err).codeOr("") == code
}

// IsRetryable reports whether a client may retry the failed call as-is.
// Untyped errors count as internal, which is retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return MetadataFor(As(err).codeOr(CodeInternal)).Retryable
}

func (e *Error) codeOr(fallback Code) Code {
	if e == nil {
		return fallback
	}
	return e.code
}
