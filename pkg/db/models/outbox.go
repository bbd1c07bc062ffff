package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/bullionstore-backend/pkg/enums"
)

// OutboxEvent is a pending or delivered bus message, written in the same
// transaction as the aggregate it describes. PublishedAt stays nil until the
// relay hands the row to Pub/Sub.
type OutboxEvent struct {
	ID            uuid.UUID                 `gorm:"column:id;type:uuid;primaryKey"`
	EventType     enums.OutboxEventType     `gorm:"column:event_type;type:event_type_enum;not null"`
	AggregateType enums.OutboxAggregateType `gorm:"column:aggregate_type;type:aggregate_type_enum;not null"`
	// AggregateID is text: transaction ids come from the payment provider.
	AggregateID  string          `gorm:"column:aggregate_id;not null"`
	Payload      json.RawMessage `gorm:"column:payload;type:jsonb;not null"`
	AttemptCount int             `gorm:"column:attempt_count;not null;default:0"`
	LastError    *string         `gorm:"column:last_error"`
	CreatedAt    time.Time       `gorm:"column:created_at;autoCreateTime"`
	PublishedAt  *time.Time      `gorm:"column:published_at"`
}

func (OutboxEvent) TableName() string { return "outbox_events" }

// OutboxDLQ is the audit copy of an outbox row the relay gave up on.
type OutboxDLQ struct {
	ID            uuid.UUID                  `gorm:"column:id;type:uuid;primaryKey"`
	EventID       uuid.UUID                  `gorm:"column:event_id;type:uuid;not null"`
	EventType     enums.OutboxEventType      `gorm:"column:event_type;type:event_type_enum;not null"`
	AggregateType enums.OutboxAggregateType  `gorm:"column:aggregate_type;type:aggregate_type_enum;not null"`
	AggregateID   string                     `gorm:"column:aggregate_id;not null"`
	Payload       json.RawMessage            `gorm:"column:payload_json;type:jsonb;not null"`
	ErrorReason   enums.OutboxDLQErrorReason `gorm:"column:error_reason;type:outbox_dlq_error_reason_enum;not null"`
	ErrorMessage  *string                    `gorm:"column:error_message"`
	AttemptCount  int                        `gorm:"column:attempt_count;not null;default:0"`
	FailedAt      time.Time                  `gorm:"column:failed_at;autoCreateTime"`
	CreatedAt     time.Time                  `gorm:"column:created_at;autoCreateTime"`
}

func (OutboxDLQ) TableName() string { return "outbox_dlqs" }

// DeadLetterOf copies event into a DLQ entry. The entry keeps the row id as
// EventID so it can be matched back to what subscribers would have seen.
func DeadLetterOf(event OutboxEvent, reason enums.OutboxDLQErrorReason, cause error, failedAt time.Time) OutboxDLQ {
	entry := OutboxDLQ{
		EventID:       event.ID,
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       event.Payload,
		ErrorReason:   reason,
		AttemptCount:  event.AttemptCount,
		FailedAt:      failedAt,
	}
	if cause != nil {
		msg := cause.Error()
		entry.ErrorMessage = &msg
	}
	return entry
}
