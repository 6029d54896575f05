package outbox

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrMalformedEnvelope is returned for payloads that cannot be an envelope
// written by Emit. Such rows and messages are never worth retrying.
var ErrMalformedEnvelope = errors.New("malformed outbox envelope")

// ActorRef names who caused the event. UserID is nil when the system
// settled a proposal on its own.
type ActorRef struct {
	UserID  uuid.UUID  `json:"user_id"`
	GroupID *uuid.UUID `json:"group_id,omitempty"`
}

// PayloadEnvelope is what outbox_events.payload holds and what subscribers
// receive as the message body.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"event_id"`
	OccurredAt time.Time       `json:"occurred_at"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}

// HasData reports whether the envelope carries a non-null payload.
func (e PayloadEnvelope) HasData() bool {
	trimmed := bytes.TrimSpace(e.Data)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

func DecodeEnvelope(raw []byte) (PayloadEnvelope, error) {
	var env PayloadEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return PayloadEnvelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	switch {
	case env.Version < 1:
		return PayloadEnvelope{}, fmt.Errorf("%w: version %d", ErrMalformedEnvelope, env.Version)
	case env.EventID == "":
		return PayloadEnvelope{}, fmt.Errorf("%w: event id missing", ErrMalformedEnvelope)
	}
	return env, nil
}
