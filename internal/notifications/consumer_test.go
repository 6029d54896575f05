package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/pricecircle-backend/internal/groups"
	"github.com/angelmondragon/pricecircle-backend/pkg/db/dbtest"
	"github.com/angelmondragon/pricecircle-backend/pkg/db/models"
	"github.com/angelmondragon/pricecircle-backend/pkg/enums"
	"github.com/angelmondragon/pricecircle-backend/pkg/logger"
	"github.com/angelmondragon/pricecircle-backend/pkg/outbox"
	"github.com/angelmondragon/pricecircle-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/pricecircle-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/pricecircle-backend/pkg/outbox/registry"
)

type memoryIdempotencyStore struct {
	keys map[string]struct{}
}

func (m *memoryIdempotencyStore) Get(context.Context, string) (string, error) { return "", nil }

func (m *memoryIdempotencyStore) SetNX(_ context.Context, key string, _ any, _ time.Duration) (bool, error) {
	if _, ok := m.keys[key]; ok {
		return false, nil
	}
	m.keys[key] = struct{}{}
	return true, nil
}

func (m *memoryIdempotencyStore) IdempotencyKey(scope, id string) string {
	return "pc:idempotency:" + scope + ":" + id
}

func (m *memoryIdempotencyStore) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(m.keys, k)
	}
	return nil
}

type failingRepo struct{ calls int }

func (f *failingRepo) CreateBatch(context.Context, []models.Notification) (int64, error) {
	f.calls++
	return 0, errors.New("db down")
}

type consumerFixture struct {
	consumer *Consumer
	repo     *Repository
	store    *memoryIdempotencyStore
	members  []uuid.UUID
	group    *models.Group
}

func newConsumerFixture(t *testing.T) *consumerFixture {
	t.Helper()
	conn := dbtest.Open(t)
	directory, err := groups.NewDirectory(groups.NewRepository(conn))
	require.NoError(t, err)
	store := &memoryIdempotencyStore{keys: map[string]struct{}{}}
	manager, err := idempotency.NewGuard(store, ConsumerName, time.Hour)
	require.NoError(t, err)

	members := dbtest.Members(3)
	group := dbtest.MustCreateGroup(t, conn, enums.VotingThresholdHalf, members...)
	repo := NewRepository(conn)

	return &consumerFixture{
		consumer: &Consumer{
			repo:        repo,
			members:     directory,
			idempotency: manager,
			decoders:    registry.NewProposalDecoders(),
			logg:        logger.Nop(),
		},
		repo:    repo,
		store:   store,
		members: members,
		group:   group,
	}
}

func eventMessage(t *testing.T, eventType enums.OutboxEventType, eventID uuid.UUID, payload any) *pubsub.Message {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	envelope, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    eventID.String(),
		OccurredAt: time.Now().UTC(),
		Data:       data,
	})
	require.NoError(t, err)
	return &pubsub.Message{
		ID:         uuid.NewString(),
		Data:       envelope,
		Attributes: map[string]string{"event_type": string(eventType), "event_id": eventID.String()},
	}
}

func TestConsumerNotifiesEveryMemberOnce(t *testing.T) {
	f := newConsumerFixture(t)
	ctx := context.Background()
	eventID := uuid.New()
	msg := eventMessage(t, enums.EventProposalApproved, eventID, payloads.ProposalApprovedEvent{
		ProposalID:   uuid.New(),
		GroupID:      f.group.ID,
		Name:         "Espresso machine",
		Price:        decimal.RequireFromString("349.99"),
		Threshold:    enums.VotingThresholdHalf,
		ApproveCount: 2,
		MemberCount:  3,
	})

	result := f.consumer.process(ctx, msg)
	assert.True(t, result.ack)
	assert.Equal(t, int64(3), result.created)

	redelivered := f.consumer.process(ctx, msg)
	assert.True(t, redelivered.ack)
	assert.Zero(t, redelivered.created)

	for _, member := range f.members {
		page, _, err := f.repo.List(ctx, Query{UserID: member})
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, enums.NotificationTypeProposalApproved, page[0].Type)
		assert.Equal(t, "Espresso machine was approved by 2 of 3 members.", page[0].Message)
	}
}

func TestConsumerSkipsRejector(t *testing.T) {
	f := newConsumerFixture(t)
	ctx := context.Background()
	msg := eventMessage(t, enums.EventProposalRejected, uuid.New(), payloads.ProposalRejectedEvent{
		ProposalID: uuid.New(),
		GroupID:    f.group.ID,
		Name:       "Espresso machine",
		RejectedBy: f.members[0],
	})

	result := f.consumer.process(ctx, msg)
	assert.True(t, result.ack)
	assert.Equal(t, int64(2), result.created)

	page, _, err := f.repo.List(ctx, Query{UserID: f.members[0]})
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestConsumerAcksUnknownAndMalformed(t *testing.T) {
	f := newConsumerFixture(t)
	ctx := context.Background()

	other := &pubsub.Message{Attributes: map[string]string{"event_type": "order_created"}, Data: []byte("{}")}
	assert.Equal(t, processResult{ack: true}, f.consumer.process(ctx, other))

	garbage := &pubsub.Message{Attributes: map[string]string{"event_type": string(enums.EventProposalApproved)}, Data: []byte("nope")}
	assert.Equal(t, processResult{ack: true}, f.consumer.process(ctx, garbage))

	noID := eventMessage(t, enums.EventProposalApproved, uuid.Nil, payloads.ProposalApprovedEvent{GroupID: f.group.ID})
	assert.Equal(t, processResult{ack: true}, f.consumer.process(ctx, noID))
	assert.Empty(t, f.store.keys)
}

func TestConsumerReleasesMarkerOnFailure(t *testing.T) {
	f := newConsumerFixture(t)
	repo := &failingRepo{}
	f.consumer.repo = repo
	ctx := context.Background()
	msg := eventMessage(t, enums.EventProposalApproved, uuid.New(), payloads.ProposalApprovedEvent{GroupID: f.group.ID, Name: "x"})

	result := f.consumer.process(ctx, msg)
	assert.True(t, result.nack)
	assert.Empty(t, f.store.keys)

	// A redelivery retries instead of being treated as processed.
	result = f.consumer.process(ctx, msg)
	assert.True(t, result.nack)
	assert.Equal(t, 2, repo.calls)
}

func TestNewConsumerRequiresDependencies(t *testing.T) {
	_, err := NewConsumer(ConsumerParams{})
	assert.Error(t, err)
}
