package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/bullionstore-backend/internal/relay"
	"github.com/angelmondragon/bullionstore-backend/pkg/config"
	"github.com/angelmondragon/bullionstore-backend/pkg/db"
	"github.com/angelmondragon/bullionstore-backend/pkg/logger"
	"github.com/angelmondragon/bullionstore-backend/pkg/metrics"
	"github.com/angelmondragon/bullionstore-backend/pkg/migrate"
	"github.com/angelmondragon/bullionstore-backend/pkg/outbox"
	"github.com/angelmondragon/bullionstore-backend/pkg/outbox/routing"
	"github.com/angelmondragon/bullionstore-backend/pkg/pubsub"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "outbox-publisher"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.ForService("outbox-publisher", cfg.App)

	if err := run(cfg, logg); err != nil {
		logg.Error(context.Background(), "outbox publisher stopped unexpectedly", err)
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

	bus, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, bus.Close()) }()

	table, err := routing.NewTable(cfg.PubSub)
	if err != nil {
		return fmt.Errorf("build routing table: %w", err)
	}

	registry := metrics.NewProcessRegistry()
	r, err := relay.New(relay.Params{
		Logger:       logg,
		DB:           dbClient,
		Store:        outbox.NewRepository(dbClient.DB()),
		DeadLetters:  outbox.NewDLQRepository(dbClient.DB()),
		Router:       table,
		Sink:         bus,
		Metrics:      metrics.NewRelayMetrics(registry),
		BatchSize:    cfg.Outbox.BatchSize,
		MaxAttempts:  cfg.Outbox.MaxAttempts,
		PollInterval: time.Duration(cfg.Outbox.PollIntervalMS) * time.Millisecond,
	})
	if err != nil {
		return fmt.Errorf("create relay: %w", err)
	}

	ctx = logg.WithFields(ctx, map[string]any{
		"env":          cfg.App.Env,
		"topic":        cfg.PubSub.PaymentsTopic,
		"max_attempts": cfg.Outbox.MaxAttempts,
	})
	logg.Info(ctx, "starting outbox publisher")

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error { return metrics.Serve(gctx, cfg.App.WorkerMetricsAddr, registry, logg) })
	group.Go(func() error { return r.Run(gctx) })
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logg.Info(ctx, "outbox publisher shutting down gracefully")
	return nil
}
