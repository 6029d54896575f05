// Package registry routes outbox rows to topics and turns envelope data back
// into typed payloads on both sides of Pub/Sub.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/angelmondragon/pricecircle-backend/pkg/enums"
	"github.com/angelmondragon/pricecircle-backend/pkg/outbox/payloads"
)

// ErrNoDecoder is returned for an event type and version nobody registered.
var ErrNoDecoder = errors.New("no decoder registered")

// DecodeFunc turns envelope data into a typed payload.
type DecodeFunc func(data json.RawMessage) (any, error)

// JSON decodes into a fresh *T.
func JSON[T any]() DecodeFunc {
	return func(data json.RawMessage) (any, error) {
		out := new(T)
		if err := json.Unmarshal(data, out); err != nil {
			return nil, err
		}
		return out, nil
	}
}

type decoderKey struct {
	eventType enums.OutboxEventType
	version   int
}

type DecoderRegistry struct {
	mu    sync.RWMutex
	funcs map[decoderKey]DecodeFunc
}

func NewDecoderRegistry() *DecoderRegistry {
	return &DecoderRegistry{funcs: make(map[decoderKey]DecodeFunc)}
}

// NewProposalDecoders knows every proposal outcome payload version.
func NewProposalDecoders() *DecoderRegistry {
	reg := NewDecoderRegistry()
	reg.Register(enums.EventProposalApproved, 1, JSON[payloads.ProposalApprovedEvent]())
	reg.Register(enums.EventProposalRejected, 1, JSON[payloads.ProposalRejectedEvent]())
	return reg
}

func (r *DecoderRegistry) Register(eventType enums.OutboxEventType, version int, fn DecodeFunc) {
	r.mu.Lock()
	r.funcs[decoderKey{eventType, version}] = fn
	r.mu.Unlock()
}

func (r *DecoderRegistry) Decode(eventType enums.OutboxEventType, version int, data json.RawMessage) (any, error) {
	r.mu.RLock()
	fn, ok := r.funcs[decoderKey{eventType, version}]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s v%d", ErrNoDecoder, eventType, version)
	}
	return fn(data)
}
