// Package transactions writes the durable record of every settled payment,
// together with the outbox event downstream reporting consumes.
package transactions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/bullionstore-backend/internal/checkout"
	"github.com/angelmondragon/bullionstore-backend/pkg/db/models"
	"github.com/angelmondragon/bullionstore-backend/pkg/enums"
	"github.com/angelmondragon/bullionstore-backend/pkg/logger"
	"github.com/angelmondragon/bullionstore-backend/pkg/outbox"
	"github.com/angelmondragon/bullionstore-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Recorder implements checkout.Recorder.
type Recorder struct {
	tx     txRunner
	repo   *Repository
	outbox outboxEmitter
	logg   *logger.Logger
	now    func() time.Time
}

var _ checkout.Recorder = (*Recorder)(nil)

// NewRecorder wires the recorder.
func NewRecorder(tx txRunner, repo *Repository, emitter outboxEmitter, logg *logger.Logger) (*Recorder, error) {
	if tx == nil {
		return nil, errors.New("tx runner required")
	}
	if repo == nil {
		return nil, errors.New("transaction repository required")
	}
	if emitter == nil {
		return nil, errors.New("outbox emitter required")
	}
	if logg == nil {
		return nil, errors.New("logger required")
	}
	return &Recorder{tx: tx, repo: repo, outbox: emitter, logg: logg, now: time.Now}, nil
}

// Record inserts the transaction and its outbox event in one database
// transaction. Replaying a settlement that is already recorded is a no-op.
func (r *Recorder) Record(ctx context.Context, s checkout.Settlement) error {
	rec, err := buildRecord(s)
	if err != nil {
		return err
	}
	recordedAt := r.now().UTC()
	rec.CreatedAt = recordedAt

	inserted := false
	err = r.tx.WithTx(ctx, func(tx *gorm.DB) error {
		created, err := r.repo.WithTx(tx).InsertIfAbsent(ctx, rec)
		if err != nil {
			return err
		}
		inserted = created
		if !created {
			return nil
		}
		return r.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentRecorded,
			AggregateType: enums.AggregateTransaction,
			AggregateID:   rec.ID,
			Actor:         actor(s.Attempt.Customer),
			Data: payloads.PaymentRecordedEvent{
				TransactionID:    rec.ID,
				AttemptID:        rec.AttemptID,
				Provider:         rec.Provider,
				PaymentMethod:    rec.PaymentMethod,
				Status:           rec.Status,
				AmountMinorUnits: rec.AmountMinorUnits,
				Currency:         rec.Currency,
				ItemCount:        len(s.Items),
				CartSnapshotHash: rec.CartSnapshotHash,
				RecordedAt:       recordedAt,
			},
			OccurredAt: recordedAt,
		})
	})
	if err != nil {
		return fmt.Errorf("record transaction %s: %w", rec.ID, err)
	}

	ctx = r.logg.WithField(ctx, "transaction_id", rec.ID)
	if inserted {
		r.logg.Info(ctx, "transaction recorded")
	} else {
		r.logg.Info(ctx, "transaction already recorded")
	}
	return nil
}

func buildRecord(s checkout.Settlement) (*models.Transaction, error) {
	if strings.TrimSpace(s.Result.PaymentID) == "" {
		return nil, errors.New("payment id required")
	}
	if !s.PaymentMethod.IsValid() {
		return nil, fmt.Errorf("invalid payment method %q", s.PaymentMethod)
	}
	if !s.Attempt.Provider.IsValid() {
		return nil, fmt.Errorf("invalid payment provider %q", s.Attempt.Provider)
	}
	items, err := json.Marshal(s.Items)
	if err != nil {
		return nil, fmt.Errorf("encode items: %w", err)
	}
	currency := s.Result.Currency
	if currency == "" {
		currency = enums.CurrencyUSD
	}
	return &models.Transaction{
		ID:               s.Result.PaymentID,
		UserID:           optional(s.Attempt.Customer.UserID),
		AmountMinorUnits: s.Result.AmountMinorUnits,
		Currency:         currency,
		Status:           s.Result.Status,
		PaymentMethod:    s.PaymentMethod,
		Provider:         s.Attempt.Provider,
		CustomerEmail:    optional(s.Attempt.Customer.Email),
		Items:            json.RawMessage(items),
		IdempotencyKey:   optional(s.Attempt.IdempotencyKey),
		CartSnapshotHash: s.Attempt.CartSnapshotHash,
		AttemptID:        s.Attempt.ID,
	}, nil
}

func actor(c checkout.Customer) *outbox.ActorRef {
	if c.UserID == "" && c.Email == "" {
		return nil
	}
	return &outbox.ActorRef{UserID: c.UserID, Email: c.Email}
}

func optional(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}
