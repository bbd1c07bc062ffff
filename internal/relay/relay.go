// Package relay drains the transactional outbox onto the message bus. Each
// batch runs in one database transaction so row locks, publish bookkeeping and
// dead letters commit together.
package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/bullionstore-backend/pkg/db/models"
	"github.com/angelmondragon/bullionstore-backend/pkg/enums"
	"github.com/angelmondragon/bullionstore-backend/pkg/logger"
	"github.com/angelmondragon/bullionstore-backend/pkg/metrics"
	"github.com/angelmondragon/bullionstore-backend/pkg/outbox/routing"
)

const (
	defaultBatchSize    = 50
	defaultPollInterval = 500 * time.Millisecond
	defaultMaxAttempts  = 10
	defaultSendTimeout  = 15 * time.Second
	maxIdleBackoff      = 10 * time.Second
	pollJitter          = 250 * time.Millisecond
)

// Sink delivers one message to a topic and returns the bus message id.
type Sink interface {
	Send(ctx context.Context, topic string, data []byte, attributes map[string]string) (string, error)
}

type Router interface {
	Route(models.OutboxEvent) (*routing.Route, error)
}

type Store interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type DeadLetters interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type Params struct {
	Logger       *logger.Logger
	DB           txRunner
	Store        Store
	DeadLetters  DeadLetters
	Router       Router
	Sink         Sink
	Metrics      *metrics.RelayMetrics
	BatchSize    int
	MaxAttempts  int
	PollInterval time.Duration
	SendTimeout  time.Duration
}

type Relay struct {
	logg        *logger.Logger
	db          txRunner
	store       Store
	dead        DeadLetters
	router      Router
	sink        Sink
	metrics     *metrics.RelayMetrics
	batchSize   int
	maxAttempts int
	poll        time.Duration
	sendTimeout time.Duration
	now         func() time.Time
}

func New(p Params) (*Relay, error) {
	switch {
	case p.Logger == nil:
		return nil, errors.New("logger is required")
	case p.DB == nil:
		return nil, errors.New("database client is required")
	case p.Store == nil:
		return nil, errors.New("outbox store is required")
	case p.DeadLetters == nil:
		return nil, errors.New("dead letter store is required")
	case p.Router == nil:
		return nil, errors.New("router is required")
	case p.Sink == nil:
		return nil, errors.New("sink is required")
	}
	r := &Relay{
		logg:        p.Logger,
		db:          p.DB,
		store:       p.Store,
		dead:        p.DeadLetters,
		router:      p.Router,
		sink:        p.Sink,
		metrics:     p.Metrics,
		batchSize:   positiveOr(p.BatchSize, defaultBatchSize),
		maxAttempts: positiveOr(p.MaxAttempts, defaultMaxAttempts),
		poll:        p.PollInterval,
		sendTimeout: p.SendTimeout,
		now:         func() time.Time { return time.Now().UTC() },
	}
	if r.poll <= 0 {
		r.poll = defaultPollInterval
	}
	if r.sendTimeout <= 0 {
		r.sendTimeout = defaultSendTimeout
	}
	return r, nil
}

func positiveOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

// Run drains batches until ctx is canceled. A full batch is followed
// immediately by the next one; an empty batch waits one poll interval; a
// failed batch backs off exponentially.
func (r *Relay) Run(ctx context.Context) error {
	wait := newBackoff(r.poll, maxIdleBackoff, pollJitter)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		handled, err := r.Drain(ctx)
		var delay time.Duration
		switch {
		case err != nil:
			r.logg.Error(ctx, "outbox batch failed", err)
			delay = wait.fail()
		case handled >= r.batchSize:
			wait.reset()
			continue
		default:
			wait.reset()
			delay = wait.wait()
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

type disposition int

const (
	delivered disposition = iota
	retryLater
	deadLetter
)

type verdict struct {
	disposition disposition
	reason      enums.OutboxDLQErrorReason
	err         error
	topic       string
	messageID   string
}

// Drain processes one batch and returns how many rows it handled.
func (r *Relay) Drain(ctx context.Context) (int, error) {
	handled := 0
	err := r.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := r.store.FetchUnpublishedForPublish(tx, r.batchSize, r.maxAttempts)
		if err != nil {
			return fmt.Errorf("fetch outbox batch: %w", err)
		}
		for _, row := range rows {
			v := r.deliver(ctx, row)
			if err := r.settle(ctx, tx, row, v); err != nil {
				return err
			}
			handled++
		}
		return nil
	})
	return handled, err
}

func (r *Relay) deliver(ctx context.Context, row models.OutboxEvent) verdict {
	route, err := r.router.Route(row)
	if err != nil {
		return verdict{disposition: deadLetter, reason: enums.OutboxDLQReasonNonRetryable, err: err}
	}

	sendCtx, cancel := context.WithTimeout(ctx, r.sendTimeout)
	defer cancel()
	attrs := make(map[string]string, len(route.Attributes)+1)
	for k, v := range route.Attributes {
		attrs[k] = v
	}
	attrs["created_at"] = row.CreatedAt.UTC().Format(time.RFC3339Nano)

	id, err := r.sink.Send(sendCtx, route.Topic, row.Payload, attrs)
	switch {
	case err == nil:
		return verdict{disposition: delivered, topic: route.Topic, messageID: id}
	case row.AttemptCount+1 >= r.maxAttempts:
		return verdict{
			disposition: deadLetter,
			reason:      enums.OutboxDLQReasonMaxAttempts,
			err:         fmt.Errorf("gave up after %d attempts: %w", row.AttemptCount+1, err),
			topic:       route.Topic,
		}
	default:
		return verdict{disposition: retryLater, err: err, topic: route.Topic}
	}
}

func (r *Relay) settle(ctx context.Context, tx *gorm.DB, row models.OutboxEvent, v verdict) error {
	fields := map[string]any{
		"outbox_id":     row.ID.String(),
		"event_type":    string(row.EventType),
		"aggregate_id":  row.AggregateID,
		"attempt_count": row.AttemptCount,
	}
	if v.topic != "" {
		fields["topic"] = v.topic
	}
	logCtx := r.logg.WithFields(ctx, fields)

	switch v.disposition {
	case delivered:
		if err := r.store.MarkPublishedTx(tx, row.ID); err != nil {
			return fmt.Errorf("mark published %s: %w", row.ID, err)
		}
		r.metrics.IncPublished(string(row.EventType))
		r.logg.Info(r.logg.WithField(logCtx, "message_id", v.messageID), "outbox event published")

	case retryLater:
		if err := r.store.MarkFailedTx(tx, row.ID, v.err); err != nil {
			return fmt.Errorf("mark failed %s: %w", row.ID, err)
		}
		r.metrics.IncRetried(string(row.EventType))
		r.logg.Warn(r.logg.WithField(logCtx, "error", v.err.Error()), "outbox publish failed, will retry")

	case deadLetter:
		entry := models.DeadLetterOf(row, v.reason, v.err, r.now())
		if err := r.dead.InsertTx(tx, entry); err != nil {
			return fmt.Errorf("dead letter %s: %w", row.ID, err)
		}
		if err := r.store.MarkTerminalTx(tx, row.ID, v.err, r.maxAttempts); err != nil {
			return fmt.Errorf("mark terminal %s: %w", row.ID, err)
		}
		r.metrics.IncDeadLettered(string(row.EventType), string(v.reason))
		logCtx = r.logg.WithFields(logCtx, map[string]any{"reason": string(v.reason), "error": v.err.Error()})
		r.logg.Warn(logCtx, "outbox event dead-lettered")
	}
	return nil
}
