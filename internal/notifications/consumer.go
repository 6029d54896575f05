package notifications

import (
	"context"
	"errors"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/pricecircle-backend/pkg/db/models"
	"github.com/angelmondragon/pricecircle-backend/pkg/enums"
	"github.com/angelmondragon/pricecircle-backend/pkg/logger"
	"github.com/angelmondragon/pricecircle-backend/pkg/outbox"
	"github.com/angelmondragon/pricecircle-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/pricecircle-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/pricecircle-backend/pkg/outbox/registry"
)

// ConsumerName scopes this consumer's idempotency markers.
const ConsumerName = "proposal-notifications"

type repository interface {
	CreateBatch(ctx context.Context, notifications []models.Notification) (int64, error)
}

type memberLister interface {
	ListMemberIDs(ctx context.Context, groupID uuid.UUID) ([]uuid.UUID, error)
}

// Consumer turns proposal outcome events into one notification per group member.
type Consumer struct {
	repo         repository
	members      memberLister
	subscription *pubsub.Subscriber
	idempotency  *idempotency.Guard
	decoders     *registry.DecoderRegistry
	logg         *logger.Logger
}

// ConsumerParams groups consumer dependencies.
type ConsumerParams struct {
	Repo         repository
	Members      memberLister
	Subscription *pubsub.Subscriber
	Idempotency  *idempotency.Guard
	Logger       *logger.Logger
}

// NewConsumer builds a proposal notification consumer.
func NewConsumer(params ConsumerParams) (*Consumer, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("notifications repository required")
	}
	if params.Members == nil {
		return nil, fmt.Errorf("member lister required")
	}
	if params.Subscription == nil {
		return nil, fmt.Errorf("proposal subscription required")
	}
	if params.Idempotency == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		repo:         params.Repo,
		members:      params.Members,
		subscription: params.Subscription,
		idempotency:  params.Idempotency,
		decoders:     registry.NewProposalDecoders(),
		logg:         params.Logger,
	}, nil
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		result := c.process(ctx, msg)
		if result.nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	ack     bool
	nack    bool
	created int64
}

func (c *Consumer) process(ctx context.Context, msg *pubsub.Message) processResult {
	eventType := enums.OutboxEventType(msg.Attributes["event_type"])
	fields := map[string]any{
		"message_id": msg.ID,
		"event_type": eventType,
	}
	logCtx := c.logg.WithFields(ctx, fields)

	notificationType, ok := enums.NotificationTypeForEvent(eventType)
	if !ok {
		c.logg.Info(logCtx, "skipping non-proposal event")
		return processResult{ack: true}
	}

	envelope, err := outbox.DecodeEnvelope(msg.Data)
	if err != nil {
		c.logg.Error(logCtx, "failed to decode envelope", err)
		return processResult{ack: true}
	}

	eventID, err := uuid.Parse(envelope.EventID)
	if err == nil && eventID == uuid.Nil {
		err = fmt.Errorf("nil event id")
	}
	if err != nil {
		c.logg.Error(logCtx, "invalid event id", err)
		return processResult{ack: true}
	}
	logCtx = c.logg.WithField(logCtx, "event_id", eventID.String())

	decoded, err := c.decoders.Decode(eventType, envelope.Version, envelope.Data)
	if err != nil {
		c.logg.Error(logCtx, "failed to parse payload", err)
		return processResult{ack: true}
	}

	claim, err := c.idempotency.Claim(ctx, eventID)
	if errors.Is(err, idempotency.ErrDuplicate) {
		if holder, holderErr := c.idempotency.Holder(ctx, eventID); holderErr == nil && holder != "" {
			logCtx = c.logg.WithField(logCtx, "claimed_by", holder)
		}
		c.logg.Info(logCtx, "event already processed")
		return processResult{ack: true}
	}
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return processResult{nack: true}
	}

	created, err := c.handle(ctx, eventID, notificationType, decoded)
	if err != nil {
		c.logg.Error(logCtx, "notification handling failed", err)
		if releaseErr := claim.Release(ctx); releaseErr != nil {
			c.logg.Warn(c.logg.WithField(logCtx, "error", releaseErr.Error()), "releasing idempotency marker failed")
		}
		return processResult{nack: true}
	}

	c.logg.Info(c.logg.WithField(logCtx, "notifications_created", created), "group notified of proposal outcome")
	return processResult{ack: true, created: created}
}

func (c *Consumer) handle(ctx context.Context, eventID uuid.UUID, notificationType enums.NotificationType, decoded any) (int64, error) {
	var (
		groupID    uuid.UUID
		proposalID uuid.UUID
		title      string
		message    string
		skip       uuid.UUID
	)
	switch payload := decoded.(type) {
	case *payloads.ProposalApprovedEvent:
		groupID, proposalID = payload.GroupID, payload.ProposalID
		title = "Proposal approved"
		message = fmt.Sprintf("%s was approved by %d of %d members.", payload.Name, payload.ApproveCount, payload.MemberCount)
	case *payloads.ProposalRejectedEvent:
		groupID, proposalID = payload.GroupID, payload.ProposalID
		title = "Proposal rejected"
		message = fmt.Sprintf("%s was withdrawn from voting.", payload.Name)
		skip = payload.RejectedBy
	default:
		return 0, fmt.Errorf("unexpected payload %T", decoded)
	}
	if groupID == uuid.Nil {
		return 0, fmt.Errorf("group id missing")
	}

	members, err := c.members.ListMemberIDs(ctx, groupID)
	if err != nil {
		return 0, fmt.Errorf("list group members: %w", err)
	}

	rows := make([]models.Notification, 0, len(members))
	for _, userID := range members {
		if userID == skip {
			continue
		}
		rows = append(rows, models.Notification{
			UserID:     userID,
			GroupID:    groupID,
			ProposalID: uuidPtr(proposalID),
			EventID:    uuidPtr(eventID),
			Type:       notificationType,
			Title:      title,
			Message:    message,
		})
	}
	return c.repo.CreateBatch(ctx, rows)
}

func uuidPtr(id uuid.UUID) *uuid.UUID {
	return &id
}
