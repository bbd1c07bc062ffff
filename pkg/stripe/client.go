// Package stripe wraps the Stripe resources hosted checkout needs: catalog
// products and prices, customer lookup and checkout sessions.
package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/angelmondragon/bullionstore-backend/pkg/circuitbreaker"
	"github.com/angelmondragon/bullionstore-backend/pkg/config"
	"github.com/angelmondragon/bullionstore-backend/pkg/logger"
)

const (
	testEnv = "test"
	liveEnv = "live"
)

var (
	errAPIKeyRequired   = errors.New("stripe api key is required")
	errSecretRequired   = errors.New("stripe webhook secret is required")
	errInvalidStripeEnv = fmt.Errorf("stripe environment must be %q or %q", testEnv, liveEnv)
)

// keyPrefixes lists the secret and restricted key prefixes Stripe issues per mode.
var keyPrefixes = map[string][]string{
	testEnv: {"sk_test_", "rk_test_"},
	liveEnv: {"sk_live_", "rk_live_"},
}

type credentials struct {
	env           string
	apiKey        string
	signingSecret string
}

func parseCredentials(cfg config.StripeConfig) (credentials, error) {
	env := cfg.Environment()
	prefixes, ok := keyPrefixes[env]
	if !ok {
		return credentials{}, errInvalidStripeEnv
	}
	creds := credentials{
		env:           env,
		apiKey:        strings.TrimSpace(cfg.APIKey),
		signingSecret: strings.TrimSpace(cfg.Secret),
	}
	switch {
	case creds.apiKey == "":
		return credentials{}, errAPIKeyRequired
	case creds.signingSecret == "":
		return credentials{}, errSecretRequired
	}
	for _, prefix := range prefixes {
		if strings.HasPrefix(creds.apiKey, prefix) {
			return creds, nil
		}
	}
	return credentials{}, fmt.Errorf("stripe %s mode needs a %s key", env, strings.Join(prefixes, " or "))
}

// Client is safe for concurrent use. All resource calls share one breaker.
type Client struct {
	resources     resourceAPI
	environment   string
	signingSecret string
	logger        *logger.Logger
	breaker       *circuitbreaker.Breaker[any]
}

// NewClient validates the credentials. The key stays on this client's own
// stripe.Client; the package-level stripe.Key is never set.
func NewClient(ctx context.Context, cfg config.StripeConfig, breaker config.BreakerConfig, logg *logger.Logger) (*Client, error) {
	creds, err := parseCredentials(cfg)
	if err != nil {
		return nil, err
	}

	if logg != nil {
		logg.Info(logg.WithField(ctx, "stripe_env", creds.env), "stripe client initialized")
	}
	return &Client{
		resources:     newSDKResources(creds.apiKey),
		environment:   creds.env,
		signingSecret: creds.signingSecret,
		logger:        logg,
		breaker: circuitbreaker.New[any](circuitbreaker.Options{
			Name:   "stripe",
			Config: breaker,
			Benign: isClientSideError,
			Logger: logg,
		}),
	}, nil
}

// Environment is "test" or "live".
func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return c.environment
}

// SigningSecret verifies webhook payloads.
func (c *Client) SigningSecret() string {
	if c == nil {
		return ""
	}
	return c.signingSecret
}
