package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/pricecircle-backend/pkg/db/models"
	"github.com/angelmondragon/pricecircle-backend/pkg/enums"
)

type dlqAdmin interface {
	List(ctx context.Context, reason enums.OutboxDLQErrorReason, limit int) ([]models.OutboxDLQ, error)
	Redrive(ctx context.Context, ids []uuid.UUID) (int, error)
}

// dlqCommand is the one-shot maintenance mode selected by the -dlq flag.
type dlqCommand struct {
	action string
	reason enums.OutboxDLQErrorReason
	limit  int
	ids    string
}

type dlqLine struct {
	ID           uuid.UUID                  `json:"id"`
	EventID      uuid.UUID                  `json:"event_id"`
	EventType    enums.OutboxEventType      `json:"event_type"`
	ProposalID   uuid.UUID                  `json:"proposal_id"`
	Reason       enums.OutboxDLQErrorReason `json:"reason"`
	Error        string                     `json:"error,omitempty"`
	AttemptCount int                        `json:"attempt_count"`
	FailedAt     string                     `json:"failed_at"`
}

// run prints dead-lettered events as JSON lines ("list") or puts them back in
// the outbox ("redrive"). Redrive takes a comma separated id list, or "all"
// for every entry matching the reason filter.
func (c dlqCommand) run(ctx context.Context, repo dlqAdmin, out io.Writer) error {
	switch c.action {
	case "list":
		entries, err := repo.List(ctx, c.reason, c.limit)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(out)
		for _, e := range entries {
			line := dlqLine{
				ID:           e.ID,
				EventID:      e.EventID,
				EventType:    e.EventType,
				ProposalID:   e.AggregateID,
				Reason:       e.ErrorReason,
				AttemptCount: e.AttemptCount,
				FailedAt:     e.FailedAt.UTC().Format("2006-01-02T15:04:05Z"),
			}
			if e.ErrorMessage != nil {
				line.Error = *e.ErrorMessage
			}
			if err := enc.Encode(line); err != nil {
				return err
			}
		}
		return nil
	case "redrive":
		ids, err := c.resolveIDs(ctx, repo)
		if err != nil {
			return err
		}
		requeued, err := repo.Redrive(ctx, ids)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(out, "requeued %d of %d dead-lettered events\n", requeued, len(ids))
		return err
	}
	return fmt.Errorf("unknown dlq action %q (want list or redrive)", c.action)
}

func (c dlqCommand) resolveIDs(ctx context.Context, repo dlqAdmin) ([]uuid.UUID, error) {
	raw := strings.TrimSpace(c.ids)
	if raw == "" {
		return nil, errors.New("redrive needs -ids (comma separated) or -ids=all")
	}
	if raw == "all" {
		entries, err := repo.List(ctx, c.reason, c.limit)
		if err != nil {
			return nil, err
		}
		ids := make([]uuid.UUID, 0, len(entries))
		for _, e := range entries {
			ids = append(ids, e.ID)
		}
		return ids, nil
	}
	var ids []uuid.UUID
	for _, part := range strings.Split(raw, ",") {
		id, err := uuid.Parse(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("invalid dlq id %q: %w", part, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
