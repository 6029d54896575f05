package redis

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

const streamBuffer = 64

// PayloadStream delivers raw payloads published on one channel.
type PayloadStream interface {
	Payloads() <-chan []byte
	Close() error
}

func (c *Client) Publish(ctx context.Context, channel string, payload []byte) error {
	if c.store == nil {
		return errNotInitialized
	}
	return c.store.Publish(ctx, c.ChannelKey(channel), payload).Err()
}

// Subscribe returns once the server has confirmed the subscription, so
// anything published after it returns is delivered.
func (c *Client) Subscribe(ctx context.Context, channel string) (PayloadStream, error) {
	if c.raw == nil {
		return nil, errNotInitialized
	}
	ps := c.raw.Subscribe(ctx, c.ChannelKey(channel))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}
	return newChannelStream(ps), nil
}

// channelStream adapts a go-redis subscription to a byte-slice channel.
// Payloads closes after Close or when redis drops the subscription.
type channelStream struct {
	ps   *redis.PubSub
	out  chan []byte
	stop chan struct{}

	closeOnce sync.Once
	closeErr  error
}

func newChannelStream(ps *redis.PubSub) *channelStream {
	s := &channelStream{ps: ps, out: make(chan []byte, streamBuffer), stop: make(chan struct{})}
	go s.forward(ps.Channel(redis.WithChannelSize(streamBuffer)))
	return s
}

func (s *channelStream) forward(in <-chan *redis.Message) {
	defer close(s.out)
	for {
		var msg *redis.Message
		var ok bool
		select {
		case <-s.stop:
			return
		case msg, ok = <-in:
			if !ok {
				return
			}
		}
		select {
		case s.out <- []byte(msg.Payload):
		case <-s.stop:
			return
		}
	}
}

func (s *channelStream) Payloads() <-chan []byte { return s.out }

func (s *channelStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)
		s.closeErr = s.ps.Close()
	})
	return s.closeErr
}
