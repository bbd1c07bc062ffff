package stripe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/bullionstore-backend/pkg/circuitbreaker"
	"github.com/angelmondragon/bullionstore-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/bullionstore-backend/pkg/errors"
)

type fakeResources struct {
	products  int
	prices    int
	sessions  []*stripe.CheckoutSessionCreateParams
	customers []*stripe.Customer
	err       error
}

func (f *fakeResources) NewProduct(_ context.Context, params *stripe.ProductCreateParams) (*stripe.Product, error) {
	f.products++
	if f.err != nil {
		return nil, f.err
	}
	return &stripe.Product{ID: "prod_" + *params.Name}, nil
}

func (f *fakeResources) NewPrice(_ context.Context, params *stripe.PriceCreateParams) (*stripe.Price, error) {
	f.prices++
	if f.err != nil {
		return nil, f.err
	}
	return &stripe.Price{ID: "price_" + *params.Product}, nil
}

func (f *fakeResources) SearchCustomers(_ context.Context, _ *stripe.CustomerSearchParams) ([]*stripe.Customer, error) {
	return f.customers, f.err
}

func (f *fakeResources) NewCheckoutSession(_ context.Context, params *stripe.CheckoutSessionCreateParams) (*stripe.CheckoutSession, error) {
	f.sessions = append(f.sessions, params)
	if f.err != nil {
		return nil, f.err
	}
	return &stripe.CheckoutSession{ID: "cs_test_1", URL: "https://checkout.stripe.com/c/pay/cs_test_1"}, nil
}

func newTestClient(res resourceAPI) *Client {
	return &Client{
		resources:   res,
		environment: testEnv,
		breaker: circuitbreaker.New[any](circuitbreaker.Options{
			Name:   "stripe-test",
			Config: config.BreakerConfig{ConsecutiveFailures: 2, OpenTimeout: time.Minute, HalfOpenRequests: 1},
			Benign: isClientSideError,
		}),
	}
}

func TestNewClientValidatesKeys(t *testing.T) {
	ctx := context.Background()
	breaker := config.BreakerConfig{ConsecutiveFailures: 5, OpenTimeout: time.Second}

	_, err := NewClient(ctx, config.StripeConfig{Env: "test", Secret: "whsec_x"}, breaker, nil)
	require.ErrorIs(t, err, errAPIKeyRequired)

	_, err = NewClient(ctx, config.StripeConfig{Env: "test", APIKey: "sk_test_123"}, breaker, nil)
	require.ErrorIs(t, err, errSecretRequired)

	_, err = NewClient(ctx, config.StripeConfig{Env: "live", APIKey: "sk_test_123", Secret: "whsec_x"}, breaker, nil)
	require.Error(t, err)

	_, err = NewClient(ctx, config.StripeConfig{Env: "staging", APIKey: "sk_test_123", Secret: "whsec_x"}, breaker, nil)
	require.ErrorIs(t, err, errInvalidStripeEnv)

	client, err := NewClient(ctx, config.StripeConfig{Env: " TEST ", APIKey: "sk_test_123", Secret: "whsec_x"}, breaker, nil)
	require.NoError(t, err)
	assert.Equal(t, "test", client.Environment())
	assert.Equal(t, "whsec_x", client.SigningSecret())
}

func TestNewClientLeavesGlobalKeyAlone(t *testing.T) {
	before := stripe.Key
	client, err := NewClient(context.Background(), config.StripeConfig{Env: "test", APIKey: "sk_test_own", Secret: "whsec_x"},
		config.BreakerConfig{ConsecutiveFailures: 5, OpenTimeout: time.Second}, nil)
	require.NoError(t, err)
	assert.Equal(t, before, stripe.Key)
	res, ok := client.resources.(sdkResources)
	require.True(t, ok)
	assert.NotNil(t, res.api)
}

// Two clients in one process authenticate with their own keys.
func TestSDKResourcesSendOwnKey(t *testing.T) {
	var (
		mu    sync.Mutex
		auths []string
		paths []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		auths = append(auths, r.Header.Get("Authorization"))
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"prod_1","object":"product"}`))
	}))
	defer srv.Close()

	backend := func() stripe.ClientOption {
		return stripe.WithBackends(stripe.NewBackendsWithConfig(&stripe.BackendConfig{
			URL:               stripe.String(srv.URL),
			MaxNetworkRetries: stripe.Int64(0),
		}))
	}
	first := newSDKResources("sk_test_first", backend())
	second := newSDKResources("sk_test_second", backend())

	prod, err := first.NewProduct(context.Background(), &stripe.ProductCreateParams{Name: stripe.String("Gold Bar")})
	require.NoError(t, err)
	assert.Equal(t, "prod_1", prod.ID)
	_, err = second.NewProduct(context.Background(), &stripe.ProductCreateParams{Name: stripe.String("Silver Eagle")})
	require.NoError(t, err)

	require.Len(t, auths, 2)
	assert.Equal(t, "Bearer sk_test_first", auths[0])
	assert.Equal(t, "Bearer sk_test_second", auths[1])
	assert.Equal(t, "/v1/products", paths[0])
	assert.Empty(t, stripe.Key)
}

func TestParseCredentialsAcceptsRestrictedKeys(t *testing.T) {
	creds, err := parseCredentials(config.StripeConfig{Env: "live", APIKey: " rk_live_abc ", Secret: "whsec_y"})
	require.NoError(t, err)
	assert.Equal(t, "rk_live_abc", creds.apiKey)

	_, err = parseCredentials(config.StripeConfig{Env: "live", APIKey: "pk_live_abc", Secret: "whsec_y"})
	assert.ErrorContains(t, err, "sk_live_ or rk_live_")

	var nilClient *Client
	assert.Empty(t, nilClient.SigningSecret())
}

func TestBuildSessionParamsCustomerExclusive(t *testing.T) {
	params := buildSessionParams(SessionInput{
		Lines:         []SessionLine{{PriceID: "price_1", Quantity: 2}},
		CustomerID:    "cus_1",
		CustomerEmail: "a@example.com",
	})
	require.NotNil(t, params.Customer)
	assert.Equal(t, "cus_1", *params.Customer)
	assert.Nil(t, params.CustomerEmail)

	params = buildSessionParams(SessionInput{
		Lines:         []SessionLine{{PriceID: "price_1", Quantity: 2}},
		CustomerEmail: " a@example.com ",
	})
	assert.Nil(t, params.Customer)
	require.NotNil(t, params.CustomerEmail)
	assert.Equal(t, "a@example.com", *params.CustomerEmail)
}

func TestBuildSessionParamsInlineSurcharge(t *testing.T) {
	params := buildSessionParams(SessionInput{
		Currency: "USD",
		Lines: []SessionLine{
			{PriceID: "price_1", Quantity: 1},
			{InlineName: "Shipping, insurance & tax", InlineAmount: 4512, Quantity: 1},
		},
		Metadata: map[string]string{"cart_hash": "abc"},
	})
	require.Len(t, params.LineItems, 2)
	assert.Equal(t, "price_1", *params.LineItems[0].Price)
	inline := params.LineItems[1].PriceData
	require.NotNil(t, inline)
	assert.Equal(t, int64(4512), *inline.UnitAmount)
	assert.Equal(t, "usd", *inline.Currency)
	assert.Equal(t, string(stripe.CheckoutSessionModePayment), *params.Mode)
	assert.Equal(t, "abc", params.Metadata["cart_hash"])
	assert.Equal(t, "abc", params.PaymentIntentData.Metadata["cart_hash"])
}

func TestCustomerEmailQueryEscapesQuotes(t *testing.T) {
	assert.Equal(t, `email:'o\'neil@example.com'`, customerEmailQuery("o'neil@example.com"))
}

func TestCreateCheckoutSessionMapsCardErrors(t *testing.T) {
	res := &fakeResources{err: &stripe.Error{Type: stripe.ErrorTypeCard, HTTPStatusCode: http.StatusPaymentRequired}}
	client := newTestClient(res)

	_, err := client.CreateCheckoutSession(context.Background(), SessionInput{Lines: []SessionLine{{PriceID: "p", Quantity: 1}}})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodePaymentDeclined))
}

func TestBreakerOpensOnServerErrors(t *testing.T) {
	res := &fakeResources{err: &stripe.Error{Type: stripe.ErrorTypeAPI, HTTPStatusCode: http.StatusInternalServerError}}
	client := newTestClient(res)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := client.CreateProduct(ctx, ProductInput{Name: "eagle"})
		require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
	}
	_, err := client.CreateProduct(ctx, ProductInput{Name: "eagle"})
	require.Error(t, err)
	assert.Equal(t, 2, res.products, "open breaker must not reach stripe")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
}

func TestValidationErrorsDoNotTripBreaker(t *testing.T) {
	res := &fakeResources{err: &stripe.Error{Type: stripe.ErrorTypeInvalidRequest, HTTPStatusCode: http.StatusBadRequest}}
	client := newTestClient(res)

	for i := 0; i < 4; i++ {
		_, err := client.CreatePrice(context.Background(), PriceInput{ProductID: "prod_1", UnitAmount: 100})
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	}
	assert.Equal(t, 4, res.prices)
}

func TestFindCustomerIDByEmail(t *testing.T) {
	client := newTestClient(&fakeResources{customers: []*stripe.Customer{{ID: "cus_9"}}})
	id, err := client.FindCustomerIDByEmail(context.Background(), "buyer@example.com")
	require.NoError(t, err)
	assert.Equal(t, "cus_9", id)

	client = newTestClient(&fakeResources{})
	id, err = client.FindCustomerIDByEmail(context.Background(), "buyer@example.com")
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestMapStripeErrorCodes(t *testing.T) {
	cases := []struct {
		err  *stripe.Error
		want pkgerrors.Code
	}{
		{&stripe.Error{HTTPStatusCode: http.StatusUnauthorized}, pkgerrors.CodeUnauthorized},
		{&stripe.Error{HTTPStatusCode: http.StatusTooManyRequests}, pkgerrors.CodeRateLimit},
		{&stripe.Error{Type: stripe.ErrorTypeIdempotency, HTTPStatusCode: http.StatusBadRequest}, pkgerrors.CodeIdempotency},
		{&stripe.Error{HTTPStatusCode: http.StatusBadGateway}, pkgerrors.CodeDependency},
	}
	for _, tc := range cases {
		got := mapStripeError(tc.err, "op")
		assert.True(t, pkgerrors.IsCode(got, tc.want), "status %d", tc.err.HTTPStatusCode)
	}
	assert.True(t, pkgerrors.IsCode(mapStripeError(errors.New("dial tcp"), "op"), pkgerrors.CodeDependency))
	assert.False(t, isClientSideError(&stripe.Error{HTTPStatusCode: http.StatusTooManyRequests}))
}
