package enums

import "slices"

// PaymentMethod describes how the buyer paid: a tokenized card charged
// directly, or a hosted checkout session completed on the provider's page.
type PaymentMethod string

const (
	PaymentMethodCard            PaymentMethod = "card"
	PaymentMethodCheckoutSession PaymentMethod = "checkout_session"
)

var paymentMethods = []PaymentMethod{PaymentMethodCard, PaymentMethodCheckoutSession}

func (p PaymentMethod) String() string { return string(p) }

func (p PaymentMethod) IsValid() bool { return slices.Contains(paymentMethods, p) }

func ParsePaymentMethod(value string) (PaymentMethod, error) {
	return parseMember("payment method", paymentMethods, value)
}
