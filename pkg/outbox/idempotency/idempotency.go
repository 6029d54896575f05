// Package idempotency keeps at-least-once subscribers from applying the same
// outbox event twice. Markers live in Redis under
// pc:idempotency:evt:processed:<consumer>:<event_id>.
package idempotency

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/angelmondragon/pricecircle-backend/pkg/instance"
	"github.com/angelmondragon/pricecircle-backend/pkg/redis"
)

// ErrDuplicate reports that another delivery of the event already claimed it.
var ErrDuplicate = errors.New("event already processed")

// Guard claims event ids for one named consumer.
type Guard struct {
	store    redis.IdempotencyStore
	consumer string
	owner    string
	ttl      time.Duration
	now      func() time.Time
}

// NewGuard builds a guard whose markers expire after ttl. A zero ttl keeps
// markers until they are released.
func NewGuard(store redis.IdempotencyStore, consumer string, ttl time.Duration) (*Guard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	consumer = strings.TrimSpace(consumer)
	if consumer == "" {
		return nil, errors.New("consumer name is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	return &Guard{
		store:    store,
		consumer: consumer,
		owner:    instance.GetID(),
		ttl:      ttl,
		now:      time.Now,
	}, nil
}

// Claim is a held marker. Release it when processing fails so a redelivery
// can try again; keep it on success.
type Claim struct {
	guard *Guard
	key   string
}

// Claim marks eventID as processed. It returns ErrDuplicate when the marker
// already exists.
func (g *Guard) Claim(ctx context.Context, eventID uuid.UUID) (*Claim, error) {
	if eventID == uuid.Nil {
		return nil, errors.New("event id is required")
	}
	key := g.key(eventID)
	marker := g.owner + "@" + g.now().UTC().Format(time.RFC3339)
	set, err := g.store.SetNX(ctx, key, marker, g.ttl)
	if err != nil {
		return nil, err
	}
	if !set {
		return nil, ErrDuplicate
	}
	return &Claim{guard: g, key: key}, nil
}

func (c *Claim) Release(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.guard.store.Del(ctx, c.key)
}

// Holder returns the "<instance>@<time>" marker of whoever claimed eventID,
// or "" when nobody has.
func (g *Guard) Holder(ctx context.Context, eventID uuid.UUID) (string, error) {
	marker, err := g.store.Get(ctx, g.key(eventID))
	if errors.Is(err, goredis.Nil) {
		return "", nil
	}
	return marker, err
}

func (g *Guard) key(eventID uuid.UUID) string {
	return g.store.IdempotencyKey("evt:processed:"+g.consumer, eventID.String())
}
