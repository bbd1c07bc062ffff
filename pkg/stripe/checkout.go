package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v84"
)

var errNotInitialized = errors.New("stripe client not initialized")

// ProductInput describes a catalog product provisioned for a checkout line.
type ProductInput struct {
	Name           string
	Description    string
	Images         []string
	Metadata       map[string]string
	IdempotencyKey string
}

// PriceInput describes a one-time price attached to a product.
type PriceInput struct {
	ProductID      string
	UnitAmount     int64
	Currency       string
	Metadata       map[string]string
	IdempotencyKey string
}

// SessionLine is either a reference to a provisioned price or an inline
// amount (used for order-level surcharges).
type SessionLine struct {
	PriceID      string
	Quantity     int64
	InlineName   string
	InlineAmount int64
}

// SessionInput carries everything needed for a hosted payment-mode session.
// CustomerID and CustomerEmail are mutually exclusive; CustomerID wins.
type SessionInput struct {
	Lines             []SessionLine
	Currency          string
	SuccessURL        string
	CancelURL         string
	CustomerID        string
	CustomerEmail     string
	ClientReferenceID string
	Metadata          map[string]string
	IdempotencyKey    string
}

// Session is the subset of a checkout session returned to callers.
type Session struct {
	ID  string
	URL string
}

// CreateProduct provisions a product and returns its id.
func (c *Client) CreateProduct(ctx context.Context, in ProductInput) (string, error) {
	if c == nil || c.resources == nil {
		return "", errNotInitialized
	}
	params := &stripe.ProductCreateParams{
		Name: stripe.String(in.Name),
	}
	if desc := strings.TrimSpace(in.Description); desc != "" {
		params.Description = stripe.String(desc)
	}
	if len(in.Images) > 0 {
		params.Images = stripe.StringSlice(in.Images)
	}
	for k, v := range in.Metadata {
		params.AddMetadata(k, v)
	}
	if in.IdempotencyKey != "" {
		params.SetIdempotencyKey(in.IdempotencyKey)
	}

	c.log(ctx, "request", "create_product", map[string]any{"name": in.Name})
	out, err := c.breaker.Execute(func() (any, error) {
		return c.resources.NewProduct(ctx, params)
	})
	if err != nil {
		c.logErr(ctx, "create_product", err)
		return "", mapStripeError(err, "create product")
	}
	prod := out.(*stripe.Product)
	c.log(ctx, "response", "create_product", map[string]any{"product_id": prod.ID})
	return prod.ID, nil
}

// CreatePrice provisions a one-time price and returns its id.
func (c *Client) CreatePrice(ctx context.Context, in PriceInput) (string, error) {
	if c == nil || c.resources == nil {
		return "", errNotInitialized
	}
	if in.UnitAmount <= 0 {
		return "", fmt.Errorf("price unit amount must be positive, got %d", in.UnitAmount)
	}
	params := &stripe.PriceCreateParams{
		Product:    stripe.String(in.ProductID),
		UnitAmount: stripe.Int64(in.UnitAmount),
		Currency:   stripe.String(currencyCode(in.Currency)),
	}
	for k, v := range in.Metadata {
		params.AddMetadata(k, v)
	}
	if in.IdempotencyKey != "" {
		params.SetIdempotencyKey(in.IdempotencyKey)
	}

	c.log(ctx, "request", "create_price", map[string]any{"product_id": in.ProductID, "unit_amount": in.UnitAmount})
	out, err := c.breaker.Execute(func() (any, error) {
		return c.resources.NewPrice(ctx, params)
	})
	if err != nil {
		c.logErr(ctx, "create_price", err)
		return "", mapStripeError(err, "create price")
	}
	pr := out.(*stripe.Price)
	c.log(ctx, "response", "create_price", map[string]any{"price_id": pr.ID})
	return pr.ID, nil
}

// FindCustomerIDByEmail returns the first customer whose email matches
// exactly, or "" when none exists.
func (c *Client) FindCustomerIDByEmail(ctx context.Context, email string) (string, error) {
	if c == nil || c.resources == nil {
		return "", errNotInitialized
	}
	trimmed := strings.TrimSpace(email)
	if trimmed == "" {
		return "", nil
	}
	params := &stripe.CustomerSearchParams{}
	params.Query = customerEmailQuery(trimmed)
	params.Limit = stripe.Int64(1)

	c.log(ctx, "request", "search_customer", map[string]any{"email": trimmed})
	out, err := c.breaker.Execute(func() (any, error) {
		return c.resources.SearchCustomers(ctx, params)
	})
	if err != nil {
		c.logErr(ctx, "search_customer", err)
		return "", mapStripeError(err, "search customer")
	}
	customers := out.([]*stripe.Customer)
	if len(customers) == 0 || customers[0] == nil {
		c.log(ctx, "response", "search_customer", map[string]any{"found": false})
		return "", nil
	}
	c.log(ctx, "response", "search_customer", map[string]any{"customer_id": customers[0].ID})
	return customers[0].ID, nil
}

// CreateCheckoutSession opens a hosted payment-mode session.
func (c *Client) CreateCheckoutSession(ctx context.Context, in SessionInput) (*Session, error) {
	if c == nil || c.resources == nil {
		return nil, errNotInitialized
	}
	if len(in.Lines) == 0 {
		return nil, errors.New("checkout session requires at least one line")
	}
	params := buildSessionParams(in)

	c.log(ctx, "request", "create_checkout_session", map[string]any{
		"lines":               len(in.Lines),
		"client_reference_id": in.ClientReferenceID,
		"has_customer":        params.Customer != nil,
	})
	out, err := c.breaker.Execute(func() (any, error) {
		return c.resources.NewCheckoutSession(ctx, params)
	})
	if err != nil {
		c.logErr(ctx, "create_checkout_session", err)
		return nil, mapStripeError(err, "create checkout session")
	}
	sess := out.(*stripe.CheckoutSession)
	c.log(ctx, "response", "create_checkout_session", map[string]any{"session_id": sess.ID})
	return &Session{ID: sess.ID, URL: sess.URL}, nil
}

func buildSessionParams(in SessionInput) *stripe.CheckoutSessionCreateParams {
	currency := currencyCode(in.Currency)
	params := &stripe.CheckoutSessionCreateParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(in.SuccessURL),
		CancelURL:  stripe.String(in.CancelURL),
	}
	for _, line := range in.Lines {
		item := &stripe.CheckoutSessionCreateLineItemParams{Quantity: stripe.Int64(line.Quantity)}
		if line.PriceID != "" {
			item.Price = stripe.String(line.PriceID)
		} else {
			item.PriceData = &stripe.CheckoutSessionCreateLineItemPriceDataParams{
				Currency:   stripe.String(currency),
				UnitAmount: stripe.Int64(line.InlineAmount),
				ProductData: &stripe.CheckoutSessionCreateLineItemPriceDataProductDataParams{
					Name: stripe.String(line.InlineName),
				},
			}
		}
		params.LineItems = append(params.LineItems, item)
	}
	switch {
	case strings.TrimSpace(in.CustomerID) != "":
		params.Customer = stripe.String(in.CustomerID)
	case strings.TrimSpace(in.CustomerEmail) != "":
		params.CustomerEmail = stripe.String(strings.TrimSpace(in.CustomerEmail))
	}
	if in.ClientReferenceID != "" {
		params.ClientReferenceID = stripe.String(in.ClientReferenceID)
	}
	if len(in.Metadata) > 0 {
		params.PaymentIntentData = &stripe.CheckoutSessionCreatePaymentIntentDataParams{}
		for k, v := range in.Metadata {
			params.AddMetadata(k, v)
			params.PaymentIntentData.AddMetadata(k, v)
		}
	}
	if in.IdempotencyKey != "" {
		params.SetIdempotencyKey(in.IdempotencyKey)
	}
	return params
}

func customerEmailQuery(email string) string {
	escaped := strings.ReplaceAll(email, `'`, `\'`)
	return fmt.Sprintf("email:'%s'", escaped)
}

func currencyCode(raw string) string {
	code := strings.ToLower(strings.TrimSpace(raw))
	if code == "" {
		return string(stripe.CurrencyUSD)
	}
	return code
}
