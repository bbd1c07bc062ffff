// Package responses owns the JSON envelopes every handler writes.
package responses

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	pkgerrors "github.com/angelmondragon/bullionstore-backend/pkg/errors"
	"github.com/angelmondragon/bullionstore-backend/pkg/logger"
)

type SuccessEnvelope struct {
	Data any `json:"data"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func WriteSuccess(w http.ResponseWriter, data any) {
	WriteSuccessStatus(w, http.StatusOK, data)
}

func WriteSuccessStatus(w http.ResponseWriter, status int, data any) {
	_ = writeJSON(w, status, SuccessEnvelope{Data: data})
}

// WriteError renders err through the error taxonomy. Anything untyped becomes
// INTERNAL_ERROR so driver and gateway text never reaches the storefront.
func WriteError(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, err error) {
	if err == nil {
		err = errors.New("handler returned a nil error")
	}
	typed := pkgerrors.As(err)
	if typed == nil {
		typed = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "unexpected error")
	}

	if logg != nil {
		fields := pkgerrors.Diagnose(err).Fields()
		if step := failedStep(typed); step != nil {
			fields["step"] = step
		}
		logg.Error(logg.WithFields(ctx, fields), "request.error", err)
	}

	body := ErrorEnvelope{Error: APIError{
		Code:    string(typed.Code()),
		Message: typed.PublicMessage(),
		Details: typed.PublicDetails(),
	}}
	if encErr := writeJSON(w, pkgerrors.MetadataFor(typed.Code()).HTTPStatus, body); encErr != nil && logg != nil {
		logg.Error(ctx, "failed to encode error response", encErr)
	}
}

// failedStep surfaces the provisioning step recorded by the Stripe adapter even
// when the details themselves are withheld from the client.
func failedStep(typed *pkgerrors.Error) any {
	details, ok := typed.Details().(map[string]any)
	if !ok {
		return nil
	}
	return details["step"]
}

func writeJSON(w http.ResponseWriter, status int, payload any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(payload)
}
