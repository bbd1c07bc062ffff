package enums

import "slices"

// OutboxAggregateType names the entity an outbox row describes. Mirrors the
// aggregate_type column of outbox_events.
type OutboxAggregateType string

const AggregateTransaction OutboxAggregateType = "transaction"

var aggregateTypes = []OutboxAggregateType{AggregateTransaction}

func (a OutboxAggregateType) IsValid() bool { return slices.Contains(aggregateTypes, a) }

func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	return parseMember("aggregate type", aggregateTypes, value)
}

// OutboxEventType is the routing key the relay maps to a Pub/Sub topic.
type OutboxEventType string

// EventPaymentRecorded fires once per committed transaction row.
const EventPaymentRecorded OutboxEventType = "payment_recorded"

var outboxEventTypes = []OutboxEventType{EventPaymentRecorded}

func (e OutboxEventType) IsValid() bool { return slices.Contains(outboxEventTypes, e) }

func ParseOutboxEventType(value string) (OutboxEventType, error) {
	return parseMember("event type", outboxEventTypes, value)
}
