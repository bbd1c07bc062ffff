package payloads

import (
	"time"

	"github.com/angelmondragon/bullionstore-backend/pkg/enums"
)

// PaymentRecordedEvent is emitted once per durable transaction record so
// downstream reporting can follow settlements without reading the table.
type PaymentRecordedEvent struct {
	TransactionID    string                `json:"transaction_id"`
	AttemptID        string                `json:"attempt_id"`
	Provider         enums.PaymentProvider `json:"provider"`
	PaymentMethod    enums.PaymentMethod   `json:"payment_method"`
	Status           string                `json:"status"`
	AmountMinorUnits int64                 `json:"amount_minor_units"`
	Currency         enums.Currency        `json:"currency"`
	ItemCount        int                   `json:"item_count"`
	CartSnapshotHash string                `json:"cart_snapshot_hash"`
	RecordedAt       time.Time             `json:"recorded_at"`
}
