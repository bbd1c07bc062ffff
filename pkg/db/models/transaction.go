package models

import (
	"encoding/json"
	"time"

	"github.com/angelmondragon/bullionstore-backend/pkg/enums"
)

// Transaction is the durable record of a settled payment. ID is the provider's
// payment (or checkout session) id so a replayed settlement cannot insert twice.
type Transaction struct {
	ID               string                `gorm:"column:id;primaryKey"`
	UserID           *string               `gorm:"column:user_id"`
	AmountMinorUnits int64                 `gorm:"column:amount_minor_units;not null"`
	Currency         enums.Currency        `gorm:"column:currency;not null;default:'USD'"`
	Status           string                `gorm:"column:status;not null"`
	PaymentMethod    enums.PaymentMethod   `gorm:"column:payment_method;type:payment_method_enum;not null"`
	Provider         enums.PaymentProvider `gorm:"column:provider;type:payment_provider_enum;not null"`
	CustomerEmail    *string               `gorm:"column:customer_email"`
	Items            json.RawMessage       `gorm:"column:items;type:jsonb;not null"`
	IdempotencyKey   *string               `gorm:"column:idempotency_key"`
	CartSnapshotHash string                `gorm:"column:cart_snapshot_hash;not null"`
	AttemptID        string                `gorm:"column:attempt_id;not null;uniqueIndex:uq_transactions_attempt_id"`
	CreatedAt        time.Time             `gorm:"column:created_at;autoCreateTime"`
}
