package checkout

import (
	pkgerrors "github.com/angelmondragon/bullionstore-backend/pkg/errors"
)

// IsInvalidCart reports a malformed, empty or stale cart.
func IsInvalidCart(err error) bool {
	return pkgerrors.IsCode(err, pkgerrors.CodeInvalidCart)
}

// IsUpstreamProvisioning reports a failed catalog or session setup.
func IsUpstreamProvisioning(err error) bool {
	return pkgerrors.IsCode(err, pkgerrors.CodeUpstreamProvisioning)
}

// IsDeclined reports a processor decline. The buyer can retry with another card.
func IsDeclined(err error) bool {
	return pkgerrors.IsCode(err, pkgerrors.CodePaymentDeclined)
}

// IsGateway reports an ambiguous payment outcome.
func IsGateway(err error) bool {
	return pkgerrors.IsCode(err, pkgerrors.CodePaymentGateway)
}

// IsNotConfigured reports a provider disabled by missing credentials.
func IsNotConfigured(err error) bool {
	return pkgerrors.IsCode(err, pkgerrors.CodePaymentNotConfigured)
}

func errNotConfigured(mode string) error {
	return pkgerrors.New(pkgerrors.CodePaymentNotConfigured, mode+" payments are not configured")
}
