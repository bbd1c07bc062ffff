package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/bullionstore-backend/internal/cron"
	"github.com/angelmondragon/bullionstore-backend/pkg/config"
	"github.com/angelmondragon/bullionstore-backend/pkg/db"
	"github.com/angelmondragon/bullionstore-backend/pkg/logger"
	"github.com/angelmondragon/bullionstore-backend/pkg/metrics"
	"github.com/angelmondragon/bullionstore-backend/pkg/migrate"
	"github.com/angelmondragon/bullionstore-backend/pkg/outbox"
	"github.com/angelmondragon/bullionstore-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.ForService("cron-worker", cfg.App)

	if err := run(cfg, logg); err != nil {
		logg.Error(context.Background(), "cron worker stopped unexpectedly", err)
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

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey("cron-worker", envOrLocal(cfg.App.Env)), 0)
	if err != nil {
		return fmt.Errorf("create maintenance lock: %w", err)
	}

	outboxRetention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:            logg,
		DB:                dbClient,
		Outbox:            outbox.NewRepository(dbClient.DB()),
		RetentionDays:     cfg.Maintenance.OutboxRetentionDays,
		ExhaustedAttempts: cfg.Outbox.MaxAttempts,
	})
	if err != nil {
		return fmt.Errorf("create outbox retention job: %w", err)
	}
	dlqRetention, err := cron.NewDLQRetentionJob(cron.DLQRetentionJobParams{
		Logger:        logg,
		DB:            dbClient,
		DeadLetters:   outbox.NewDLQRepository(dbClient.DB()),
		RetentionDays: cfg.Maintenance.DLQRetentionDays,
	})
	if err != nil {
		return fmt.Errorf("create dlq retention job: %w", err)
	}

	registry := metrics.NewProcessRegistry()
	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Jobs:     []cron.Job{outboxRetention, dlqRetention},
		Lock:     lock,
		Metrics:  metrics.NewMaintenanceJobMetrics(registry),
		Interval: cfg.Maintenance.Interval,
	})
	if err != nil {
		return fmt.Errorf("create maintenance scheduler: %w", err)
	}

	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"interval": cfg.Maintenance.Interval.String(),
	})
	logg.Info(ctx, "starting cron worker")

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error { return metrics.Serve(gctx, cfg.App.WorkerMetricsAddr, registry, logg) })
	group.Go(func() error { return service.Run(gctx) })
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logg.Info(ctx, "cron worker shutting down gracefully")
	return nil
}

func envOrLocal(env string) string {
	if env == "" {
		return "local"
	}
	return env
}
