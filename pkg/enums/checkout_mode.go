package enums

import "slices"

// CheckoutMode selects which adapter settles an attempt. The choice is made once
// per attempt and never mixed.
type CheckoutMode string

const (
	// CheckoutModeSession redirects the buyer to a hosted page; settlement is async.
	CheckoutModeSession CheckoutMode = "session"
	// CheckoutModeToken charges a client-captured card token synchronously.
	CheckoutModeToken CheckoutMode = "token"
)

var checkoutModes = []CheckoutMode{CheckoutModeSession, CheckoutModeToken}

func (m CheckoutMode) String() string { return string(m) }

func (m CheckoutMode) IsValid() bool { return slices.Contains(checkoutModes, m) }

func ParseCheckoutMode(value string) (CheckoutMode, error) {
	return parseMember("checkout mode", checkoutModes, value)
}
