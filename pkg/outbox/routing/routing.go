// Package routing decides where a stored outbox row is delivered and rejects
// rows that can never be delivered.
package routing

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/bullionstore-backend/pkg/config"
	"github.com/angelmondragon/bullionstore-backend/pkg/db/models"
	"github.com/angelmondragon/bullionstore-backend/pkg/enums"
	"github.com/angelmondragon/bullionstore-backend/pkg/outbox"
	"github.com/angelmondragon/bullionstore-backend/pkg/outbox/payloads"
)

// ErrUndeliverable marks rows that retrying cannot fix (unknown type, broken
// envelope, invalid payload). The relay dead-letters them immediately.
var ErrUndeliverable = errors.New("undeliverable outbox event")

// IsUndeliverable reports whether err carries ErrUndeliverable.
func IsUndeliverable(err error) bool {
	return errors.Is(err, ErrUndeliverable)
}

func undeliverable(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUndeliverable, fmt.Sprintf(format, args...))
}

// Route is a decoded row ready to hand to a message sink.
type Route struct {
	Topic      string
	EventID    string
	OccurredAt time.Time
	Payload    any
	Attributes map[string]string
}

type binding struct {
	aggregate enums.OutboxAggregateType
	topic     string
	decode    func(json.RawMessage) (any, map[string]string, error)
}

// Table holds one binding per supported event type.
type Table struct {
	bindings map[enums.OutboxEventType]binding
}

// NewTable binds every event type to its configured topic.
func NewTable(cfg config.PubSubConfig) (*Table, error) {
	paymentsTopic := strings.TrimSpace(cfg.PaymentsTopic)
	if paymentsTopic == "" {
		return nil, errors.New("payments topic is required")
	}
	return &Table{bindings: map[enums.OutboxEventType]binding{
		enums.EventPaymentRecorded: {
			aggregate: enums.AggregateTransaction,
			topic:     paymentsTopic,
			decode:    decodePaymentRecorded,
		},
	}}, nil
}

// Route validates the row and returns its destination.
func (t *Table) Route(event models.OutboxEvent) (*Route, error) {
	b, ok := t.bindings[event.EventType]
	if !ok {
		return nil, undeliverable("no route for event type %q", event.EventType)
	}
	if event.AggregateType != b.aggregate {
		return nil, undeliverable("event %s expects aggregate %s, row has %s", event.EventType, b.aggregate, event.AggregateType)
	}
	if strings.TrimSpace(event.AggregateID) == "" {
		return nil, undeliverable("event %s has no aggregate id", event.ID)
	}

	envelope, err := outbox.DecodeEnvelope(event.Payload)
	if err != nil {
		return nil, undeliverable("decode envelope: %v", err)
	}
	data := bytes.TrimSpace(envelope.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, undeliverable("event %s has an empty payload", event.ID)
	}

	payload, extra, err := b.decode(envelope.Data)
	if err != nil {
		return nil, undeliverable("%s payload: %v", event.EventType, err)
	}

	attrs := map[string]string{
		"event_id":       envelope.EventID,
		"event_type":     string(event.EventType),
		"aggregate_type": string(event.AggregateType),
		"aggregate_id":   event.AggregateID,
		"schema_version": fmt.Sprint(envelope.Version),
	}
	for k, v := range extra {
		attrs[k] = v
	}
	return &Route{
		Topic:      b.topic,
		EventID:    envelope.EventID,
		OccurredAt: envelope.OccurredAt,
		Payload:    payload,
		Attributes: attrs,
	}, nil
}

// decodePaymentRecorded also lifts provider and currency into attributes so
// subscribers can filter without parsing the body.
func decodePaymentRecorded(raw json.RawMessage) (any, map[string]string, error) {
	var evt payloads.PaymentRecordedEvent
	if err := json.Unmarshal(raw, &evt); err != nil {
		return nil, nil, err
	}
	if strings.TrimSpace(evt.TransactionID) == "" {
		return nil, nil, errors.New("transaction_id is required")
	}
	if evt.AmountMinorUnits <= 0 {
		return nil, nil, fmt.Errorf("amount_minor_units must be positive, got %d", evt.AmountMinorUnits)
	}
	return &evt, map[string]string{
		"provider": string(evt.Provider),
		"currency": string(evt.Currency),
	}, nil
}
