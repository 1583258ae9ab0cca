package outbox

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// EnvelopeVersion is the current PayloadEnvelope schema.
const EnvelopeVersion = 1

// ActorRef identifies what produced the event.
type ActorRef struct {
	Source    string `json:"source"`
	RequestID string `json:"requestId,omitempty"`
}

// PayloadEnvelope wraps every outbox_events payload. Data holds the
// event-specific body from pkg/outbox/payloads.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}

// DecodeEnvelope parses a stored payload and rejects envelopes a subscriber
// could not use: unknown version, no event id, or no data.
func DecodeEnvelope(raw []byte) (PayloadEnvelope, error) {
	var env PayloadEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return env, fmt.Errorf("decode envelope: %w", err)
	}
	switch {
	case env.Version <= 0 || env.Version > EnvelopeVersion:
		return env, fmt.Errorf("unsupported envelope version %d", env.Version)
	case env.EventID == "":
		return env, errors.New("envelope missing eventId")
	case len(env.Data) == 0 || bytes.Equal(bytes.TrimSpace(env.Data), []byte("null")):
		return env, errors.New("envelope missing data")
	}
	return env, nil
}
