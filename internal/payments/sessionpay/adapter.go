// Package sessionpay opens hosted Stripe Checkout sessions. Every cart line is
// provisioned as a product and price for the attempt, unless catalog reuse is
// enabled, and surcharges are charged as one inline line.
package sessionpay

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/bullionstore-backend/internal/cart"
	"github.com/angelmondragon/bullionstore-backend/internal/checkout"
	"github.com/angelmondragon/bullionstore-backend/internal/pricing"
	"github.com/angelmondragon/bullionstore-backend/pkg/config"
	"github.com/angelmondragon/bullionstore-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/bullionstore-backend/pkg/errors"
	"github.com/angelmondragon/bullionstore-backend/pkg/logger"
	"github.com/angelmondragon/bullionstore-backend/pkg/redis"
	"github.com/angelmondragon/bullionstore-backend/pkg/stripe"
)

const (
	surchargeLineName  = "Shipping, insurance & tax"
	sessionIDParameter = "session_id={CHECKOUT_SESSION_ID}"
)

type stripeAPI interface {
	CreateProduct(ctx context.Context, in stripe.ProductInput) (string, error)
	CreatePrice(ctx context.Context, in stripe.PriceInput) (string, error)
	FindCustomerIDByEmail(ctx context.Context, email string) (string, error)
	CreateCheckoutSession(ctx context.Context, in stripe.SessionInput) (*stripe.Session, error)
}

type priceCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	CatalogPriceKey(itemID string, unitAmount int64) string
}

// Options wires the adapter. Cache is only consulted when ReuseCatalog is set.
type Options struct {
	Client   stripeAPI
	Cache    priceCache
	Stripe   config.StripeConfig
	Checkout config.CheckoutConfig
	Logger   *logger.Logger
}

// Adapter implements checkout.PaymentProvider for Stripe Checkout.
type Adapter struct {
	client      stripeAPI
	cache       priceCache
	reuse       bool
	cacheTTL    time.Duration
	timeout     time.Duration
	concurrency int
	successURL  string
	cancelURL   string
	logg        *logger.Logger
}

var _ checkout.PaymentProvider = (*Adapter)(nil)

// New validates options and builds the adapter.
func New(opts Options) (*Adapter, error) {
	if opts.Client == nil {
		return nil, errors.New("stripe client required")
	}
	if opts.Logger == nil {
		return nil, errors.New("logger required")
	}
	if opts.Stripe.ReuseCatalog && opts.Cache == nil {
		return nil, errors.New("catalog reuse requires a cache")
	}
	successURL, err := withSessionID(opts.Checkout.SuccessURL)
	if err != nil {
		return nil, err
	}
	if _, err := url.ParseRequestURI(opts.Checkout.CancelURL); err != nil {
		return nil, fmt.Errorf("invalid cancel url: %w", err)
	}
	concurrency := opts.Stripe.ProvisioningConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Adapter{
		client:      opts.Client,
		cache:       opts.Cache,
		reuse:       opts.Stripe.ReuseCatalog,
		cacheTTL:    opts.Stripe.CatalogCacheTTL,
		timeout:     opts.Stripe.Timeout,
		concurrency: concurrency,
		successURL:  successURL,
		cancelURL:   opts.Checkout.CancelURL,
		logg:        opts.Logger,
	}, nil
}

func (a *Adapter) Provider() enums.PaymentProvider { return enums.PaymentProviderStripe }

func (a *Adapter) Mode() enums.CheckoutMode { return enums.CheckoutModeSession }

// Quote sums the session lines the adapter would send.
func (a *Adapter) Quote(items []cart.LineItem, order pricing.PricedOrder) (checkout.ProviderQuote, error) {
	lines := make([]stripe.SessionLine, 0, len(items)+1)
	for _, item := range items {
		lines = append(lines, stripe.SessionLine{InlineAmount: item.UnitMinorUnits(), Quantity: int64(item.Quantity)})
	}
	lines = appendSurcharge(lines, order)
	return checkout.ProviderQuote{
		Provider:         a.Provider(),
		Mode:             a.Mode(),
		AmountMinorUnits: sumLines(lines, nil),
		Currency:         order.Currency,
	}, nil
}

// Submit provisions the catalog and opens the hosted session.
func (a *Adapter) Submit(ctx context.Context, sub checkout.Submission) (*checkout.Outcome, error) {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	meta, err := metadata(sub)
	if err != nil {
		return nil, err
	}
	priceIDs, err := a.provision(ctx, sub)
	if err != nil {
		return nil, err
	}

	lines := make([]stripe.SessionLine, 0, len(sub.Items)+1)
	for idx, item := range sub.Items {
		lines = append(lines, stripe.SessionLine{PriceID: priceIDs[idx], Quantity: int64(item.Quantity)})
	}
	lines = appendSurcharge(lines, sub.Order)

	// The hosted page must charge exactly the locally computed total.
	if got := sumLines(lines, sub.Items); got != sub.Order.TotalMinorUnits {
		return nil, pkgerrors.New(pkgerrors.CodeInternal,
			fmt.Sprintf("session lines total %d does not match priced total %d", got, sub.Order.TotalMinorUnits))
	}

	input := stripe.SessionInput{
		Lines:             lines,
		Currency:          string(sub.Order.Currency),
		SuccessURL:        a.successURL,
		CancelURL:         a.cancelURL,
		ClientReferenceID: sub.Attempt.ID,
		Metadata:          meta,
		IdempotencyKey:    sub.Attempt.ID + ":session",
	}
	if email := sub.Attempt.Customer.Email; email != "" {
		input.CustomerID, input.CustomerEmail = a.resolveCustomer(ctx, email)
	}

	session, err := a.client.CreateCheckoutSession(ctx, input)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeUpstreamProvisioning, err, "create checkout session").
			WithDetails(map[string]any{"step": "create_session"})
	}
	a.logg.Info(a.logg.WithField(ctx, "session_id", session.ID), "checkout session created")
	return checkout.NewPendingOutcome(session.URL, session.ID), nil
}

// provision returns one price id per cart line, in cart order. Any failure
// aborts the attempt; entries already created upstream are left in place.
func (a *Adapter) provision(ctx context.Context, sub checkout.Submission) ([]string, error) {
	priceIDs := make([]string, len(sub.Items))
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(a.concurrency)
	for idx := range sub.Items {
		item := sub.Items[idx]
		group.Go(func() error {
			priceID, err := a.priceFor(gctx, sub, idx, item)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeUpstreamProvisioning, err,
					fmt.Sprintf("provision line %d (%s)", idx+1, item.ID)).
					WithDetails(map[string]any{"step": "provision_catalog", "line": idx})
			}
			priceIDs[idx] = priceID
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		a.logg.Error(ctx, "catalog provisioning failed", err)
		return nil, err
	}
	return priceIDs, nil
}

func (a *Adapter) priceFor(ctx context.Context, sub checkout.Submission, idx int, item cart.LineItem) (string, error) {
	unitAmount := item.UnitMinorUnits()
	var cacheKey string
	if a.reuse {
		cacheKey = a.cache.CatalogPriceKey(item.ID, unitAmount)
		cached, err := a.cache.Get(ctx, cacheKey)
		switch {
		case err == nil && cached != "":
			return cached, nil
		case err != nil && !redis.IsNil(err):
			a.logg.Warn(a.logg.WithField(ctx, "error", err.Error()), "catalog cache read failed")
		}
	}

	keyPrefix := sub.Attempt.ID + ":" + strconv.Itoa(idx)
	productID, err := a.client.CreateProduct(ctx, stripe.ProductInput{
		Name:           item.Name,
		Description:    describe(item),
		Images:         images(item),
		Metadata:       map[string]string{"item_id": item.ID},
		IdempotencyKey: keyPrefix + ":product",
	})
	if err != nil {
		return "", err
	}
	priceID, err := a.client.CreatePrice(ctx, stripe.PriceInput{
		ProductID:      productID,
		UnitAmount:     unitAmount,
		Currency:       string(sub.Order.Currency),
		Metadata:       map[string]string{"item_id": item.ID},
		IdempotencyKey: keyPrefix + ":price",
	})
	if err != nil {
		return "", err
	}

	if a.reuse {
		if err := a.cache.Set(ctx, cacheKey, priceID, a.cacheTTL); err != nil {
			a.logg.Warn(a.logg.WithField(ctx, "error", err.Error()), "catalog cache write failed")
		}
	}
	return priceID, nil
}

// resolveCustomer returns either an existing customer id or the guest email,
// never both. A failed lookup falls back to the guest email.
func (a *Adapter) resolveCustomer(ctx context.Context, email string) (string, string) {
	customerID, err := a.client.FindCustomerIDByEmail(ctx, email)
	if err != nil {
		a.logg.Warn(a.logg.WithField(ctx, "error", err.Error()), "customer lookup failed, using guest email")
		return "", email
	}
	if customerID != "" {
		return customerID, ""
	}
	return "", email
}

func appendSurcharge(lines []stripe.SessionLine, order pricing.PricedOrder) []stripe.SessionLine {
	surcharge := order.SurchargeMinorUnits()
	if surcharge <= 0 {
		return lines
	}
	return append(lines, stripe.SessionLine{
		InlineName:   surchargeLineName,
		InlineAmount: surcharge,
		Quantity:     1,
	})
}

// sumLines totals session lines. Price references are valued from the cart
// line at the same index.
func sumLines(lines []stripe.SessionLine, items []cart.LineItem) int64 {
	var total int64
	for idx, line := range lines {
		unit := line.InlineAmount
		if line.PriceID != "" && idx < len(items) {
			unit = items[idx].UnitMinorUnits()
		}
		total += unit * line.Quantity
	}
	return total
}

func describe(item cart.LineItem) string {
	parts := make([]string, 0, 4)
	for _, v := range []string{item.Weight, item.Metal, item.Purity, item.Mint} {
		if v = strings.TrimSpace(v); v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, " · ")
}

func images(item cart.LineItem) []string {
	ref := strings.TrimSpace(item.ImageRef)
	if ref == "" {
		return nil
	}
	if u, err := url.ParseRequestURI(ref); err != nil || u.Scheme != "https" {
		return nil
	}
	return []string{ref}
}

func withSessionID(raw string) (string, error) {
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return "", fmt.Errorf("invalid success url: %w", err)
	}
	if strings.Contains(raw, "{CHECKOUT_SESSION_ID}") {
		return raw, nil
	}
	if u.RawQuery == "" {
		return raw + "?" + sessionIDParameter, nil
	}
	return raw + "&" + sessionIDParameter, nil
}
