package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/bullionstore-backend/pkg/logger"
)

const (
	day = 24 * time.Hour

	defaultOutboxRetentionDays = 30
	defaultDLQRetentionDays    = 90
	defaultExhaustedAttempts   = 10
)

// Job is one unit of maintenance work. Names must be unique per Service and
// are used as the metrics label.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// pruneJob deletes rows older than a rolling window inside one transaction.
type pruneJob struct {
	name   string
	logg   *logger.Logger
	db     txRunner
	window time.Duration
	prune  func(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error)
	fields map[string]any
	now    func() time.Time
}

func (j *pruneJob) Name() string { return j.name }

func (j *pruneJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.window)
	var deleted int64
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		n, err := j.prune(ctx, tx, cutoff)
		deleted = n
		return err
	})
	if err != nil {
		return fmt.Errorf("%s: %w", j.name, err)
	}
	logCtx := j.logg.WithFields(ctx, j.fields)
	logCtx = j.logg.WithFields(logCtx, map[string]any{"cutoff": cutoff, "rows_deleted": deleted})
	j.logg.Info(logCtx, "retention sweep complete")
	return nil
}

func retentionWindow(days, fallback int) (int, time.Duration) {
	if days <= 0 {
		days = fallback
	}
	return days, time.Duration(days) * day
}

type OutboxPruner interface {
	DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, minAttemptCount int) (int64, error)
}

// OutboxRetentionJobParams size the outbox sweep. ExhaustedAttempts should
// equal the relay's max attempts so dead-lettered rows age out with the rest.
type OutboxRetentionJobParams struct {
	Logger            *logger.Logger
	DB                txRunner
	Outbox            OutboxPruner
	RetentionDays     int
	ExhaustedAttempts int
}

// NewOutboxRetentionJob removes published outbox rows and rows the relay gave
// up on once they fall outside the retention window.
func NewOutboxRetentionJob(p OutboxRetentionJobParams) (Job, error) {
	if err := requireDeps(p.Logger, p.DB, p.Outbox == nil); err != nil {
		return nil, err
	}
	days, window := retentionWindow(p.RetentionDays, defaultOutboxRetentionDays)
	attempts := p.ExhaustedAttempts
	if attempts <= 0 {
		attempts = defaultExhaustedAttempts
	}
	return &pruneJob{
		name:   "outbox-retention",
		logg:   p.Logger,
		db:     p.DB,
		window: window,
		prune: func(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error) {
			return p.Outbox.DeletePublishedBefore(ctx, tx, cutoff, attempts)
		},
		fields: map[string]any{"retention_days": days, "exhausted_attempts": attempts},
		now:    time.Now,
	}, nil
}

type DLQPruner interface {
	DeleteFailedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error)
}

type DLQRetentionJobParams struct {
	Logger        *logger.Logger
	DB            txRunner
	DeadLetters   DLQPruner
	RetentionDays int
}

// NewDLQRetentionJob purges dead letters older than the retention window. Keep
// the window longer than the outbox one so operators can still replay.
func NewDLQRetentionJob(p DLQRetentionJobParams) (Job, error) {
	if err := requireDeps(p.Logger, p.DB, p.DeadLetters == nil); err != nil {
		return nil, err
	}
	days, window := retentionWindow(p.RetentionDays, defaultDLQRetentionDays)
	return &pruneJob{
		name:   "dlq-retention",
		logg:   p.Logger,
		db:     p.DB,
		window: window,
		prune:  p.DeadLetters.DeleteFailedBefore,
		fields: map[string]any{"retention_days": days},
		now:    time.Now,
	}, nil
}

func requireDeps(logg *logger.Logger, db txRunner, storeMissing bool) error {
	switch {
	case logg == nil:
		return errors.New("logger required")
	case db == nil:
		return errors.New("transaction runner required")
	case storeMissing:
		return errors.New("repository required")
	}
	return nil
}
