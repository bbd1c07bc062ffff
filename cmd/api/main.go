package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"

	"github.com/angelmondragon/bullionstore-backend/api/routes"
	"github.com/angelmondragon/bullionstore-backend/internal/checkout"
	"github.com/angelmondragon/bullionstore-backend/internal/payments/sessionpay"
	"github.com/angelmondragon/bullionstore-backend/internal/payments/tokenpay"
	"github.com/angelmondragon/bullionstore-backend/internal/pricing"
	"github.com/angelmondragon/bullionstore-backend/internal/transactions"
	stripewebhook "github.com/angelmondragon/bullionstore-backend/internal/webhooks/stripe"
	"github.com/angelmondragon/bullionstore-backend/pkg/config"
	"github.com/angelmondragon/bullionstore-backend/pkg/db"
	"github.com/angelmondragon/bullionstore-backend/pkg/logger"
	"github.com/angelmondragon/bullionstore-backend/pkg/metrics"
	"github.com/angelmondragon/bullionstore-backend/pkg/migrate"
	"github.com/angelmondragon/bullionstore-backend/pkg/outbox"
	"github.com/angelmondragon/bullionstore-backend/pkg/redis"
	"github.com/angelmondragon/bullionstore-backend/pkg/square"
	"github.com/angelmondragon/bullionstore-backend/pkg/stripe"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.ForService("api", cfg.App)

	if err := run(cfg, logg); err != nil {
		logg.Error(context.Background(), "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logg *logger.Logger) (err error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, dbClient.Close()) }()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return err
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, redisClient.Close()) }()

	registry := metrics.NewProcessRegistry()
	checkoutMetrics := metrics.NewCheckoutMetrics(registry)

	engine, err := pricing.NewEngine(cfg.Pricing, cfg.Checkout.MaxLineItems)
	if err != nil {
		return err
	}

	recorder, err := transactions.NewRecorder(
		dbClient,
		transactions.NewRepository(dbClient.DB()),
		outbox.NewService(outbox.NewRepository(dbClient.DB()), logg),
		logg,
	)
	if err != nil {
		return err
	}

	stripeClient, sessionProvider, err := buildSessionProvider(ctx, cfg, logg, redisClient)
	if err != nil {
		return err
	}
	tokenProvider, err := buildTokenProvider(ctx, cfg, logg)
	if err != nil {
		return err
	}

	checkoutService, err := checkout.NewService(checkout.ServiceOptions{
		Pricer:   engine,
		Session:  sessionProvider,
		Token:    tokenProvider,
		Recorder: recorder,
		Metrics:  checkoutMetrics,
		Logger:   logg,
	})
	if err != nil {
		return err
	}

	var (
		signer         interface{ SigningSecret() string }
		webhookService *stripewebhook.Service
		webhookGuard   *stripewebhook.ReplayGuard
	)
	if stripeClient != nil {
		signer = stripeClient
		if webhookService, err = stripewebhook.NewService(stripewebhook.ServiceParams{Recorder: recorder, Logger: logg}); err != nil {
			return err
		}
		if webhookGuard, err = stripewebhook.NewReplayGuard(redisClient, cfg.Stripe.WebhookEventTTL, "stripe-webhook"); err != nil {
			return err
		}
	}

	addr := ":" + cfg.App.Port
	if port := os.Getenv("PORT"); port != "" {
		addr = ":" + port
	}

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			checkoutService,
			signer,
			webhookService,
			webhookGuard,
			metrics.Handler(registry),
		),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logCtx := logg.WithFields(ctx, map[string]any{
		"env":           cfg.App.Env,
		"addr":          addr,
		"session_ready": sessionProvider != nil,
		"token_ready":   tokenProvider != nil,
	})
	logg.Info(logCtx, "starting api server")

	serveErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	logg.Info(logCtx, "shutting down api server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// buildSessionProvider returns nil values when Stripe is not configured so
// the checkout service reports PAYMENT_NOT_CONFIGURED for that path.
func buildSessionProvider(ctx context.Context, cfg *config.Config, logg *logger.Logger, cache *redis.Client) (*stripe.Client, checkout.PaymentProvider, error) {
	if cfg.Stripe.APIKey == "" {
		logg.Warn(ctx, "stripe api key not set, session checkout disabled")
		return nil, nil, nil
	}
	client, err := stripe.NewClient(ctx, cfg.Stripe, cfg.Breaker, logg)
	if err != nil {
		return nil, nil, err
	}
	adapter, err := sessionpay.New(sessionpay.Options{
		Client:   client,
		Cache:    cache,
		Stripe:   cfg.Stripe,
		Checkout: cfg.Checkout,
		Logger:   logg,
	})
	if err != nil {
		return nil, nil, err
	}
	return client, adapter, nil
}

func buildTokenProvider(ctx context.Context, cfg *config.Config, logg *logger.Logger) (checkout.PaymentProvider, error) {
	if cfg.Square.AccessToken == "" {
		logg.Warn(ctx, "square access token not set, card checkout disabled")
		return nil, nil
	}
	client, err := square.NewClient(ctx, cfg.Square, cfg.Breaker, logg)
	if err != nil {
		return nil, err
	}
	adapter, err := tokenpay.New(tokenpay.Options{
		Client:  client,
		Timeout: cfg.Square.Timeout,
		Logger:  logg,
	})
	if err != nil {
		return nil, err
	}
	return adapter, nil
}
