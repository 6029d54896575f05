package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"gorm.io/gorm"

	"github.com/angelmondragon/pricecircle-backend/pkg/db/models"
	"github.com/angelmondragon/pricecircle-backend/pkg/enums"
	"github.com/angelmondragon/pricecircle-backend/pkg/outbox"
	"github.com/angelmondragon/pricecircle-backend/pkg/outbox/registry"
)

type outcome string

const (
	outcomePublished    outcome = "published"
	outcomeRetry        outcome = "retry"
	outcomeDeadLettered outcome = "dead_lettered"
)

// inflight is one claimed row whose publish has been handed to the client.
type inflight struct {
	event  models.OutboxEvent
	topic  string
	env    outbox.PayloadEnvelope
	result publishResult
	err    error
}

// processBatch claims a batch, hands every row to its publisher, then waits
// for the acknowledgements and records each outcome in the same transaction.
// The row locks are held until every result is settled.
func (s *Service) processBatch(ctx context.Context) (bool, error) {
	processed := false
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := s.repo.FetchUnpublishedForPublish(tx, s.batchSize, s.maxAttempts)
		if err != nil {
			return fmt.Errorf("fetch outbox batch: %w", err)
		}
		if len(events) == 0 {
			return nil
		}
		processed = true
		s.metrics.IncBatch()

		publishCtx, cancel := context.WithTimeout(ctx, s.publishTimeout)
		defer cancel()

		pending := make([]inflight, 0, len(events))
		for _, event := range events {
			pending = append(pending, s.dispatch(publishCtx, event))
		}
		for _, p := range pending {
			if err := s.settle(ctx, publishCtx, tx, p); err != nil {
				return err
			}
		}
		return nil
	})
	return processed, err
}

func (s *Service) dispatch(ctx context.Context, event models.OutboxEvent) inflight {
	p := inflight{event: event}
	resolved, err := s.registry.Resolve(event)
	if err != nil {
		p.err = nonRetryable(err)
		return p
	}
	p.topic = resolved.Descriptor.Topic
	p.env = resolved.Envelope

	pub := s.publisherFactory(p.topic)
	if pub == nil {
		p.err = nonRetryable(fmt.Errorf("publisher not configured for topic %s", p.topic))
		return p
	}
	p.result = pub.Publish(ctx, &gcppubsub.Message{
		Data:        event.Payload,
		Attributes:  messageAttributes(event, resolved.Envelope),
		OrderingKey: event.AggregateID.String(),
	})
	if p.result == nil {
		p.err = nonRetryable(fmt.Errorf("publisher returned nil for topic %s", p.topic))
	}
	return p
}

func (s *Service) settle(ctx, publishCtx context.Context, tx *gorm.DB, p inflight) error {
	err := p.err
	if err == nil {
		_, err = p.result.Get(publishCtx)
	}
	fields := s.eventFields(p.event, p.env, p.topic)

	switch s.classify(p.event, err) {
	case outcomePublished:
		if err := s.repo.MarkPublishedTx(tx, p.event.ID); err != nil {
			return fmt.Errorf("mark published %s: %w", p.event.ID, err)
		}
		s.metrics.IncResult(string(p.event.EventType), string(outcomePublished))
		s.logg.Info(s.logg.WithFields(ctx, fields), "outbox event published")
	case outcomeRetry:
		fields["error"] = err.Error()
		s.logg.Warn(s.logg.WithFields(ctx, fields), "outbox publish failed")
		if err := s.repo.MarkFailedTx(tx, p.event.ID, err); err != nil {
			return fmt.Errorf("mark failed %s: %w", p.event.ID, err)
		}
		s.metrics.IncResult(string(p.event.EventType), string(outcomeRetry))
	default:
		reason := enums.OutboxDLQReasonMaxAttempts
		if isNonRetryable(err) {
			reason = enums.OutboxDLQReasonNonRetryable
		} else {
			err = fmt.Errorf("max attempts reached: %w", err)
		}
		if err := s.deadLetter(ctx, tx, p.event, reason, err, fields); err != nil {
			return err
		}
		s.metrics.IncResult(string(p.event.EventType), string(outcomeDeadLettered))
	}
	return nil
}

// classify decides what happens to a row after its publish attempt.
// A failure that would reach maxAttempts is dead-lettered instead of retried.
func (s *Service) classify(event models.OutboxEvent, err error) outcome {
	switch {
	case err == nil:
		return outcomePublished
	case isNonRetryable(err):
		return outcomeDeadLettered
	case event.AttemptCount+1 >= s.maxAttempts:
		return outcomeDeadLettered
	default:
		return outcomeRetry
	}
}

func (s *Service) deadLetter(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, reason enums.OutboxDLQErrorReason, err error, fields map[string]any) error {
	fields["error_reason"] = reason
	fields["error"] = err.Error()
	s.logg.Warn(s.logg.WithFields(ctx, fields), "outbox event will not be retried")

	msg := err.Error()
	entry := models.OutboxDLQ{
		EventID:       event.ID,
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       event.Payload,
		ErrorReason:   reason,
		ErrorMessage:  &msg,
		AttemptCount:  event.AttemptCount,
		FailedAt:      time.Now().UTC(),
	}
	if err := s.dlq.InsertTx(tx, entry); err != nil {
		return fmt.Errorf("insert dlq %s: %w", event.ID, err)
	}
	if err := s.repo.MarkTerminalTx(tx, event.ID, err, s.maxAttempts); err != nil {
		return fmt.Errorf("mark terminal %s: %w", event.ID, err)
	}
	return nil
}

func nonRetryable(err error) error {
	if isNonRetryable(err) {
		return err
	}
	return registry.NewNonRetryableError(err)
}

func isNonRetryable(err error) bool {
	var target registry.NonRetryableError
	return errors.As(err, &target)
}

func messageAttributes(event models.OutboxEvent, env outbox.PayloadEnvelope) map[string]string {
	return map[string]string{
		"event_id":       env.EventID,
		"version":        fmt.Sprint(env.Version),
		"event_type":     string(event.EventType),
		"aggregate_type": string(event.AggregateType),
		"aggregate_id":   event.AggregateID.String(),
		"created_at":     event.CreatedAt.Format(time.RFC3339Nano),
	}
}

func (s *Service) eventFields(event models.OutboxEvent, env outbox.PayloadEnvelope, topic string) map[string]any {
	fields := map[string]any{
		"outbox_id":     event.ID.String(),
		"event_type":    event.EventType,
		"proposal_id":   event.AggregateID.String(),
		"attempt_count": event.AttemptCount,
	}
	if env.EventID != "" {
		fields["event_id"] = env.EventID
	}
	if topic != "" {
		fields["topic"] = topic
	}
	return fields
}
