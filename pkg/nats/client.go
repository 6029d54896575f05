package nats

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/angelmondragon/pricecircle-backend/pkg/config"
	"github.com/angelmondragon/pricecircle-backend/pkg/logger"
)

var errNotConnected = errors.New("nats client not connected")

// Client wraps a NATS connection for subject based fan-out.
type Client struct {
	conn *nats.Conn
}

// PayloadStream delivers raw payloads published on one subject.
type PayloadStream interface {
	Payloads() <-chan []byte
	Close() error
}

// NewClient connects using the reconnect policy from cfg.
func NewClient(ctx context.Context, cfg config.NATSConfig, logg *logger.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("%s is required", config.EnvNATSURL)
	}
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if logg != nil && err != nil {
				logg.Warn(logg.WithField(ctx, "error", err.Error()), "nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			if logg != nil {
				logg.Info(logg.WithField(ctx, "url", nc.ConnectedUrl()), "nats reconnected")
			}
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting nats: %w", err)
	}
	if logg != nil {
		logg.Info(logg.WithField(ctx, "url", conn.ConnectedUrl()), "nats connection established")
	}
	return &Client{conn: conn}, nil
}

// Publish sends data on subject.
func (c *Client) Publish(_ context.Context, subject string, data []byte) error {
	if c == nil || c.conn == nil {
		return errNotConnected
	}
	return c.conn.Publish(subject, data)
}

// Subscribe registers interest in subject. The subscription is flushed to the
// server before returning.
func (c *Client) Subscribe(_ context.Context, subject string) (PayloadStream, error) {
	if c == nil || c.conn == nil {
		return nil, errNotConnected
	}
	stream := &subjectStream{out: make(chan []byte, 64), done: make(chan struct{})}
	sub, err := c.conn.Subscribe(subject, stream.deliver)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	if err := c.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("flush subscribe %s: %w", subject, err)
	}
	stream.sub = sub
	return stream, nil
}

// Ping reports whether the connection is currently usable.
func (c *Client) Ping(context.Context) error {
	if c == nil || c.conn == nil {
		return errNotConnected
	}
	if !c.conn.IsConnected() {
		return fmt.Errorf("nats status %s", c.conn.Status())
	}
	return nil
}

// Close drains pending deliveries and closes the connection.
func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.Drain()
}

type subjectStream struct {
	sub  *nats.Subscription
	out  chan []byte
	done chan struct{}
	mu   sync.Mutex
	once sync.Once
	err  error
}

// deliver runs on the nats dispatch goroutine; a full buffer drops the message.
func (s *subjectStream) deliver(msg *nats.Msg) {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		return
	default:
	}
	select {
	case s.out <- msg.Data:
	default:
	}
}

func (s *subjectStream) Payloads() <-chan []byte {
	return s.out
}

func (s *subjectStream) Close() error {
	s.once.Do(func() {
		if s.sub != nil {
			s.err = s.sub.Unsubscribe()
		}
		s.mu.Lock()
		close(s.done)
		close(s.out)
		s.mu.Unlock()
	})
	return s.err
}
