package checkout

import (
	"github.com/angelmondragon/bullionstore-backend/internal/cart"
	"github.com/angelmondragon/bullionstore-backend/internal/pricing"
	"github.com/angelmondragon/bullionstore-backend/pkg/enums"
)

// Customer is the buyer contact attached to an attempt. UserID is only set
// when the request carried a verified bearer token.
type Customer struct {
	Email     string
	FirstName string
	LastName  string
	UserID    string
}

// Request is one checkout click as received from the storefront.
type Request struct {
	Items            []cart.LineItem
	Customer         Customer
	CartSnapshotHash string

	// Token path only.
	PaymentToken   string
	IdempotencyKey string
}

// Attempt is created per request and discarded once a terminal outcome is
// returned. The server never retries one.
type Attempt struct {
	ID               string
	Mode             enums.CheckoutMode
	Provider         enums.PaymentProvider
	IdempotencyKey   string
	CartSnapshotHash string
	Customer         Customer
	State            enums.AttemptState
}

// Submission is what a provider receives once the cart has been priced.
// Amounts cross this boundary only as minor units.
type Submission struct {
	Attempt      Attempt
	Items        []cart.LineItem
	Order        pricing.PricedOrder
	PaymentToken string
}

// OutcomeKind tags which Outcome variant is populated.
type OutcomeKind string

const (
	OutcomePending OutcomeKind = "pending"
	OutcomeSettled OutcomeKind = "settled"
)

// PendingResult is returned by redirect-based providers.
type PendingResult struct {
	RedirectURL string
	SessionID   string
}

// SettledResult is returned by providers that settle synchronously.
type SettledResult struct {
	PaymentID        string
	Status           string
	AmountMinorUnits int64
	Currency         enums.Currency
}

// Outcome is the provider-agnostic result of a submitted attempt. Exactly one
// of Pending or Settled is set, matching Kind.
type Outcome struct {
	Kind      OutcomeKind
	AttemptID string
	Pending   *PendingResult
	Settled   *SettledResult

	// Recorded is false when a settled payment could not be written to the
	// transaction store. It never changes the response.
	Recorded bool
}

// NewPendingOutcome builds the redirect variant.
func NewPendingOutcome(redirectURL, sessionID string) *Outcome {
	return &Outcome{
		Kind:    OutcomePending,
		Pending: &PendingResult{RedirectURL: redirectURL, SessionID: sessionID},
	}
}

// NewSettledOutcome builds the synchronous variant.
func NewSettledOutcome(result SettledResult) *Outcome {
	return &Outcome{
		Kind:    OutcomeSettled,
		Settled: &result,
	}
}

// Settlement is everything the transaction recorder needs for one payment.
type Settlement struct {
	Attempt       Attempt
	Result        SettledResult
	Items         []cart.LineItem
	PaymentMethod enums.PaymentMethod
}

// ProviderQuote is the amount a provider would charge for a priced order.
type ProviderQuote struct {
	Provider         enums.PaymentProvider `json:"provider"`
	Mode             enums.CheckoutMode    `json:"mode"`
	AmountMinorUnits int64                 `json:"amountMinorUnits"`
	Currency         enums.Currency        `json:"currency"`
}

// QuoteResult prices a cart without submitting it anywhere.
type QuoteResult struct {
	Order            pricing.PricedOrder `json:"order"`
	CartSnapshotHash string              `json:"cartSnapshotHash"`
	Providers        []ProviderQuote     `json:"providers"`
}
