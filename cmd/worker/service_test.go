package main

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/pricecircle-backend/pkg/config"
	"github.com/angelmondragon/pricecircle-backend/pkg/logger"
)

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

type fakeRunner struct {
	err     error
	blocked bool
}

func (f fakeRunner) Run(ctx context.Context) error {
	if f.blocked {
		<-ctx.Done()
		return ctx.Err()
	}
	return f.err
}

func newWorker(t *testing.T, redisErr error, consumer runner) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Config:               &config.Config{},
		Logger:               logger.New(logger.Options{ServiceName: "worker-test", Output: io.Discard}),
		DB:                   fakePinger{},
		Redis:                fakePinger{err: redisErr},
		PubSub:               fakePinger{},
		NotificationConsumer: consumer,
	})
	require.NoError(t, err)
	return svc
}

func TestNewServiceRequiresConsumer(t *testing.T) {
	_, err := NewService(ServiceParams{
		Config: &config.Config{},
		Logger: logger.Nop(),
		DB:     fakePinger{},
		Redis:  fakePinger{},
		PubSub: fakePinger{},
	})
	assert.Error(t, err)
}

func TestRunFailsWhenDependencyIsDown(t *testing.T) {
	svc := newWorker(t, errors.New("connection refused"), fakeRunner{blocked: true})
	err := svc.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis ping failed")
}

func TestRunStopsOnCancel(t *testing.T) {
	svc := newWorker(t, nil, fakeRunner{blocked: true})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, svc.Run(ctx), context.DeadlineExceeded)
}

func TestRunSurfacesConsumerFailure(t *testing.T) {
	boom := errors.New("subscription deleted")
	svc := newWorker(t, nil, fakeRunner{err: boom})
	assert.ErrorIs(t, svc.Run(context.Background()), boom)

	svc = newWorker(t, nil, fakeRunner{})
	assert.EqualError(t, svc.Run(context.Background()), "notification consumer exited")
}
