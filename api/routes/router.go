package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/bullionstore-backend/api/controllers"
	webhookcontrollers "github.com/angelmondragon/bullionstore-backend/api/controllers/webhooks"
	"github.com/angelmondragon/bullionstore-backend/api/middleware"
	checkoutsvc "github.com/angelmondragon/bullionstore-backend/internal/checkout"
	stripewebhook "github.com/angelmondragon/bullionstore-backend/internal/webhooks/stripe"
	"github.com/angelmondragon/bullionstore-backend/pkg/config"
	"github.com/angelmondragon/bullionstore-backend/pkg/db"
	"github.com/angelmondragon/bullionstore-backend/pkg/logger"
)

// RedisStore is the slice of the redis client the HTTP layer depends on.
type RedisStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	IdempotencyKey(scope, id string) string
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	RateLimitKey(parts ...string) string
	Ping(ctx context.Context) error
}

type signingClient interface {
	SigningSecret() string
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisStore RedisStore,
	checkoutService checkoutsvc.Service,
	stripeClient signingClient,
	stripeWebhookService *stripewebhook.Service,
	stripeWebhookGuard *stripewebhook.ReplayGuard,
	metricsHandler http.Handler,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.Recoverer(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	checkoutPolicy := middleware.NewRateLimitPolicy(
		"checkout",
		cfg.Checkout.RateLimitWindow,
		cfg.Checkout.RateLimitPerIP,
		cfg.Checkout.RateLimitPerEmail,
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
			"db":    dbP,
			"redis": redisStore,
		}))
	})

	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler)
	}

	if stripeWebhookService != nil && stripeClient != nil && stripeWebhookGuard != nil {
		r.Route("/api/v1/webhooks", func(r chi.Router) {
			r.Post("/stripe", webhookcontrollers.StripeWebhook(stripeWebhookService, stripeClient, stripeWebhookGuard, logg))
		})
	}

	r.Route("/api/v1/checkout", func(r chi.Router) {
		r.Use(middleware.OptionalAuth(cfg.JWT, logg))

		r.Post("/quote", controllers.CheckoutQuote(checkoutService, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(checkoutPolicy, redisStore, logg))
			r.Use(middleware.Idempotency(redisStore, cfg.Checkout.IdempotencyKeyTTL, logg))
			r.Post("/session", controllers.CheckoutSession(checkoutService, logg))
			r.Post("/charge", controllers.CheckoutCharge(checkoutService, logg))
		})
	})

	return r
}
