package checkout

import (
	"context"

	"github.com/angelmondragon/bullionstore-backend/internal/cart"
	"github.com/angelmondragon/bullionstore-backend/internal/pricing"
	"github.com/angelmondragon/bullionstore-backend/pkg/enums"
)

// PaymentProvider is implemented by each payment backend adapter.
type PaymentProvider interface {
	Provider() enums.PaymentProvider
	Mode() enums.CheckoutMode
	// Quote reports what Submit would charge for order without side effects.
	Quote(items []cart.LineItem, order pricing.PricedOrder) (ProviderQuote, error)
	// Submit performs the upstream call and returns a pending or settled outcome.
	Submit(ctx context.Context, sub Submission) (*Outcome, error)
}

// Recorder persists settled payments. Failures are advisory.
type Recorder interface {
	Record(ctx context.Context, settlement Settlement) error
}

// Pricer computes the authoritative total for a cart.
type Pricer interface {
	ComputeTotal(items []cart.LineItem) (pricing.PricedOrder, error)
}
