package stripe

import (
	"context"

	"github.com/stripe/stripe-go/v84"
)

// resourceAPI is the subset of Stripe resources checkout needs. It exists so
// tests can swap the network for a fake.
type resourceAPI interface {
	NewProduct(ctx context.Context, params *stripe.ProductCreateParams) (*stripe.Product, error)
	NewPrice(ctx context.Context, params *stripe.PriceCreateParams) (*stripe.Price, error)
	SearchCustomers(ctx context.Context, params *stripe.CustomerSearchParams) ([]*stripe.Customer, error)
	NewCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionCreateParams) (*stripe.CheckoutSession, error)
}

// sdkResources calls Stripe through a client that carries its own key. Nothing
// here reads or writes stripe.Key.
type sdkResources struct {
	api *stripe.Client
}

func newSDKResources(apiKey string, opts ...stripe.ClientOption) sdkResources {
	return sdkResources{api: stripe.NewClient(apiKey, opts...)}
}

func (r sdkResources) NewProduct(ctx context.Context, params *stripe.ProductCreateParams) (*stripe.Product, error) {
	return r.api.V1Products.Create(ctx, params)
}

func (r sdkResources) NewPrice(ctx context.Context, params *stripe.PriceCreateParams) (*stripe.Price, error) {
	return r.api.V1Prices.Create(ctx, params)
}

func (r sdkResources) SearchCustomers(ctx context.Context, params *stripe.CustomerSearchParams) ([]*stripe.Customer, error) {
	var out []*stripe.Customer
	for cust, err := range r.api.V1Customers.Search(ctx, params) {
		if err != nil {
			return nil, err
		}
		out = append(out, cust)
		if params != nil && params.Limit != nil && int64(len(out)) >= *params.Limit {
			break
		}
	}
	return out, nil
}

func (r sdkResources) NewCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionCreateParams) (*stripe.CheckoutSession, error) {
	return r.api.V1CheckoutSessions.Create(ctx, params)
}
