package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/pricecircle-backend/pkg/config"
	"github.com/angelmondragon/pricecircle-backend/pkg/db/models"
	"github.com/angelmondragon/pricecircle-backend/pkg/enums"
	"github.com/angelmondragon/pricecircle-backend/pkg/logger"
	"github.com/angelmondragon/pricecircle-backend/pkg/outbox"
	"github.com/angelmondragon/pricecircle-backend/pkg/outbox/registry"
)

const testTopic = "proposal-topic"

func outboxRow(t *testing.T, eventType enums.OutboxEventType, attempts int) models.OutboxEvent {
	t.Helper()
	payload, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Data:       json.RawMessage(`{}`),
	})
	require.NoError(t, err)
	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     eventType,
		AggregateType: enums.AggregateProposal,
		AggregateID:   uuid.New(),
		Payload:       payload,
		AttemptCount:  attempts,
	}
}

// routeAll resolves every row to testTopic with its own envelope.
type routeAll struct{ err error }

func (r routeAll) Resolve(event models.OutboxEvent) (*registry.ResolvedEvent, error) {
	if r.err != nil {
		return nil, r.err
	}
	return &registry.ResolvedEvent{
		Descriptor: registry.EventDescriptor{Topic: testTopic, AggregateType: event.AggregateType},
		Envelope:   outbox.PayloadEnvelope{Version: 1, EventID: event.ID.String(), OccurredAt: time.Now()},
	}, nil
}

type memRepo struct {
	events    []models.OutboxEvent
	published []uuid.UUID
	retried   []uuid.UUID
	terminal  map[uuid.UUID]int
}

func (m *memRepo) FetchUnpublishedForPublish(_ *gorm.DB, limit, _ int) ([]models.OutboxEvent, error) {
	return m.events[:min(limit, len(m.events))], nil
}

func (m *memRepo) MarkPublishedTx(_ *gorm.DB, id uuid.UUID) error {
	m.published = append(m.published, id)
	return nil
}

func (m *memRepo) MarkFailedTx(_ *gorm.DB, id uuid.UUID, _ error) error {
	m.retried = append(m.retried, id)
	return nil
}

func (m *memRepo) MarkTerminalTx(_ *gorm.DB, id uuid.UUID, _ error, ceiling int) error {
	if m.terminal == nil {
		m.terminal = map[uuid.UUID]int{}
	}
	m.terminal[id] = ceiling
	return nil
}

type memDLQ struct{ entries []models.OutboxDLQ }

func (m *memDLQ) InsertTx(_ *gorm.DB, entry models.OutboxDLQ) error {
	m.entries = append(m.entries, entry)
	return nil
}

type noTxDB struct{}

func (noTxDB) Ping(context.Context) error { return nil }

func (noTxDB) WithTx(_ context.Context, fn func(*gorm.DB) error) error { return fn(nil) }

type lookupClient struct {
	proposalCalls int
	named         []string
}

func (c *lookupClient) Ping(context.Context) error { return nil }

func (c *lookupClient) ProposalPublisher() *gcppubsub.Publisher {
	c.proposalCalls++
	return nil
}

func (c *lookupClient) Publisher(name string) *gcppubsub.Publisher {
	c.named = append(c.named, name)
	return nil
}

// scriptedPublisher records messages and answers each Get with the next
// scripted error. Gets are counted so tests can tell dispatch from settle.
type scriptedPublisher struct {
	errs     []error
	messages []*gcppubsub.Message
	gets     int
}

func (p *scriptedPublisher) Publish(_ context.Context, msg *gcppubsub.Message) publishResult {
	var err error
	if i := len(p.messages); i < len(p.errs) {
		err = p.errs[i]
	}
	p.messages = append(p.messages, msg)
	return scriptedResult{p: p, err: err}
}

type scriptedResult struct {
	p   *scriptedPublisher
	err error
}

func (r scriptedResult) Get(context.Context) (string, error) {
	r.p.gets++
	if r.err != nil {
		return "", r.err
	}
	return "server-id", nil
}

type fixture struct {
	svc  *Service
	repo *memRepo
	dlq  *memDLQ
	pub  *scriptedPublisher
}

func newFixture(t *testing.T, maxAttempts int, resolver registryResolver, rows ...models.OutboxEvent) *fixture {
	t.Helper()
	f := &fixture{repo: &memRepo{events: rows}, dlq: &memDLQ{}, pub: &scriptedPublisher{}}
	svc, err := NewService(ServiceParams{
		Config: &config.Config{Outbox: config.OutboxConfig{
			BatchSize:      10,
			PollIntervalMS: 100,
			MaxAttempts:    maxAttempts,
		}},
		Logger:           logger.New(logger.Options{ServiceName: "outbox-publisher-test", Output: io.Discard}),
		DB:               noTxDB{},
		PubSub:           &lookupClient{},
		Repository:       f.repo,
		Registry:         resolver,
		PublisherFactory: func(string) publisher { return f.pub },
		DLQRepository:    f.dlq,
	})
	require.NoError(t, err)
	f.svc = svc
	return f
}

func TestProcessBatchContinuesAfterFailure(t *testing.T) {
	first := outboxRow(t, enums.EventProposalApproved, 0)
	second := outboxRow(t, enums.EventProposalApproved, 0)
	f := newFixture(t, 5, routeAll{}, first, second)
	f.pub.errs = []error{errors.New("transient")}

	processed, err := f.svc.processBatch(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)
	assert.Equal(t, []uuid.UUID{first.ID}, f.repo.retried)
	assert.Equal(t, []uuid.UUID{second.ID}, f.repo.published)
	assert.Empty(t, f.dlq.entries)
}

func TestProcessBatchEmpty(t *testing.T) {
	f := newFixture(t, 5, routeAll{})
	processed, err := f.svc.processBatch(context.Background())
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestProcessBatchPublishesBeforeAwaitingResults(t *testing.T) {
	approved := outboxRow(t, enums.EventProposalApproved, 0)
	rejected := outboxRow(t, enums.EventProposalRejected, 0)
	f := newFixture(t, 5, routeAll{}, approved, rejected)

	var getsAtSecondPublish int
	inner := f.pub
	f.svc.publisherFactory = func(string) publisher {
		return publishHook{inner: inner, before: func() {
			if len(inner.messages) == 1 {
				getsAtSecondPublish = inner.gets
			}
		}}
	}

	_, err := f.svc.processBatch(context.Background())
	require.NoError(t, err)
	assert.Zero(t, getsAtSecondPublish, "results awaited before the batch was dispatched")
	assert.Equal(t, 2, inner.gets)
	require.Len(t, inner.messages, 2)
	assert.Equal(t, approved.AggregateID.String(), inner.messages[0].OrderingKey)
	assert.Equal(t, rejected.AggregateID.String(), inner.messages[1].OrderingKey)
	assert.Len(t, f.repo.published, 2)
}

type publishHook struct {
	inner  *scriptedPublisher
	before func()
}

func (h publishHook) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	h.before()
	return h.inner.Publish(ctx, msg)
}

func TestProcessBatchDeadLetters(t *testing.T) {
	cases := []struct {
		name     string
		attempts int
		resolver registryResolver
		noPub    bool
		pubErr   error
		reason   enums.OutboxDLQErrorReason
	}{
		{name: "undecodable payload", resolver: routeAll{err: registry.NewNonRetryableError(errors.New("invalid payload"))}, reason: enums.OutboxDLQReasonNonRetryable},
		{name: "resolver failure", resolver: routeAll{err: errors.New("boom")}, reason: enums.OutboxDLQReasonNonRetryable},
		{name: "missing publisher", resolver: routeAll{}, noPub: true, reason: enums.OutboxDLQReasonNonRetryable},
		{name: "attempts exhausted", attempts: 1, resolver: routeAll{}, pubErr: errors.New("transient"), reason: enums.OutboxDLQReasonMaxAttempts},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			row := outboxRow(t, enums.EventProposalApproved, tc.attempts)
			f := newFixture(t, 2, tc.resolver, row)
			f.pub.errs = []error{tc.pubErr}
			if tc.noPub {
				f.svc.publisherFactory = func(string) publisher { return nil }
			}

			_, err := f.svc.processBatch(context.Background())
			require.NoError(t, err)

			require.Len(t, f.dlq.entries, 1)
			entry := f.dlq.entries[0]
			assert.Equal(t, row.ID, entry.EventID)
			assert.Equal(t, tc.reason, entry.ErrorReason)
			assert.JSONEq(t, string(row.Payload), string(entry.Payload))
			require.NotNil(t, entry.ErrorMessage)
			assert.Equal(t, 2, f.repo.terminal[row.ID])
			assert.Empty(t, f.repo.published)
			assert.Empty(t, f.repo.retried)
		})
	}
}

func TestDefaultFactoryLooksUpTopics(t *testing.T) {
	client := &lookupClient{}
	svc, err := NewService(ServiceParams{
		Config:        &config.Config{PubSub: config.PubSubConfig{ProposalTopic: testTopic}},
		Logger:        logger.Nop(),
		DB:            noTxDB{},
		PubSub:        client,
		Repository:    &memRepo{},
		Registry:      routeAll{},
		DLQRepository: &memDLQ{},
	})
	require.NoError(t, err)
	defer svc.Close()

	assert.Nil(t, svc.publisherFactory(testTopic))
	assert.Nil(t, svc.publisherFactory(testTopic))
	assert.Nil(t, svc.publisherFactory("other-topic"))
	assert.Equal(t, 2, client.proposalCalls, "nil lookups are not cached")
	assert.Equal(t, []string{"other-topic"}, client.named)
}

func TestMessageAttributes(t *testing.T) {
	event := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventProposalApproved,
		AggregateType: enums.AggregateProposal,
		AggregateID:   uuid.New(),
		CreatedAt:     time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	attrs := messageAttributes(event, outbox.PayloadEnvelope{EventID: "evt-1", Version: 1})
	assert.Equal(t, map[string]string{
		"event_id":       "evt-1",
		"version":        "1",
		"event_type":     "proposal_approved",
		"aggregate_type": "proposal",
		"aggregate_id":   event.AggregateID.String(),
		"created_at":     "2026-01-02T03:04:05Z",
	}, attrs)
}

func TestClassify(t *testing.T) {
	f := newFixture(t, 3, routeAll{})
	transient := errors.New("unavailable")
	cases := []struct {
		name     string
		attempts int
		err      error
		want     outcome
	}{
		{"success", 0, nil, outcomePublished},
		{"first failure", 0, transient, outcomeRetry},
		{"last allowed failure", 2, transient, outcomeDeadLettered},
		{"non retryable", 0, registry.NewNonRetryableError(transient), outcomeDeadLettered},
		{"wrapped non retryable", 0, fmt.Errorf("resolve: %w", registry.NewNonRetryableError(transient)), outcomeDeadLettered},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, f.svc.classify(models.OutboxEvent{AttemptCount: tc.attempts}, tc.err))
		})
	}
}
