package outbox

import (
	"encoding/json"
	"fmt"
	"time"
)

// EnvelopeVersion is stamped on every row this build writes. Consumers reject
// envelopes from a newer producer instead of guessing at their shape.
const EnvelopeVersion = 1

// ActorRef identifies the buyer behind an event. Guest checkouts carry none.
type ActorRef struct {
	UserID string `json:"userId,omitempty"`
	Email  string `json:"email,omitempty"`
}

// PayloadEnvelope is the JSON stored in outbox_events.payload. EventID equals
// the outbox row id, so a redelivered row keeps its identity on the bus.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}

func DecodeEnvelope(raw []byte) (PayloadEnvelope, error) {
	var env PayloadEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return env, err
	}
	if env.Version < 1 || env.Version > EnvelopeVersion {
		return env, fmt.Errorf("unsupported envelope version %d", env.Version)
	}
	return env, nil
}
