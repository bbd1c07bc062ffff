package enums

import "slices"

// PaymentProvider identifies the processor that settled a transaction.
type PaymentProvider string

const (
	PaymentProviderStripe PaymentProvider = "stripe"
	PaymentProviderSquare PaymentProvider = "square"
)

var paymentProviders = []PaymentProvider{PaymentProviderStripe, PaymentProviderSquare}

func (p PaymentProvider) String() string { return string(p) }

func (p PaymentProvider) IsValid() bool { return slices.Contains(paymentProviders, p) }

func ParsePaymentProvider(value string) (PaymentProvider, error) {
	return parseMember("payment provider", paymentProviders, value)
}
