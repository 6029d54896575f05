package discussion

import (
	"context"
	"strings"

	"github.com/angelmondragon/pricecircle-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/pricecircle-backend/pkg/errors"
	"github.com/angelmondragon/pricecircle-backend/pkg/nats"
	"github.com/angelmondragon/pricecircle-backend/pkg/redis"
)

// Stream delivers raw payloads for one channel until closed.
type Stream interface {
	Payloads() <-chan []byte
	Close() error
}

// Broker moves encoded messages between processes. Delivery is at most once
// per subscription.
type Broker interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (Stream, error)
}

type redisPubSub interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (redis.PayloadStream, error)
}

type redisBroker struct {
	client redisPubSub
}

// NewRedisBroker fans messages out over redis pub/sub.
func NewRedisBroker(client redisPubSub) Broker {
	return &redisBroker{client: client}
}

func (b *redisBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	return b.client.Publish(ctx, channel, payload)
}

func (b *redisBroker) Subscribe(ctx context.Context, channel string) (Stream, error) {
	return b.client.Subscribe(ctx, channel)
}

type natsPubSub interface {
	Publish(ctx context.Context, subject string, data []byte) error
	Subscribe(ctx context.Context, subject string) (nats.PayloadStream, error)
}

type natsBroker struct {
	client natsPubSub
}

// NewNATSBroker fans messages out over NATS subjects. Channel separators map to
// subject tokens.
func NewNATSBroker(client natsPubSub) Broker {
	return &natsBroker{client: client}
}

func (b *natsBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	return b.client.Publish(ctx, subjectFor(channel), payload)
}

func (b *natsBroker) Subscribe(ctx context.Context, channel string) (Stream, error) {
	return b.client.Subscribe(ctx, subjectFor(channel))
}

func subjectFor(channel string) string {
	return strings.ReplaceAll(channel, ":", ".")
}

// BrokerDeps carries the clients a broker may be built from.
type BrokerDeps struct {
	Redis *redis.Client
	NATS  *nats.Client
}

// NewBroker selects the broker named by cfg.
func NewBroker(cfg config.DiscussionConfig, deps BrokerDeps) (Broker, error) {
	switch cfg.BrokerKind() {
	case config.BrokerRedis:
		if deps.Redis == nil {
			return nil, pkgerrors.New(pkgerrors.CodeDependency, "redis broker selected but redis is not configured")
		}
		return NewRedisBroker(deps.Redis), nil
	case config.BrokerNATS:
		if deps.NATS == nil {
			return nil, pkgerrors.New(pkgerrors.CodeDependency, "nats broker selected but nats is not configured")
		}
		return NewNATSBroker(deps.NATS), nil
	default:
		return NewMemoryBroker(cfg.SubscriberBuffer), nil
	}
}
