package syncview

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/pricecircle-backend/internal/discussion"
	"github.com/angelmondragon/pricecircle-backend/internal/proposals"
	"github.com/angelmondragon/pricecircle-backend/pkg/pagination"
)

// Subscription is a live message stream owned by a view.
type Subscription interface {
	Done() <-chan struct{}
	Close() error
}

// Source supplies snapshots, history and live messages for one proposal.
type Source interface {
	Snapshot(ctx context.Context, proposalID uuid.UUID) (*proposals.ProposalDetail, error)
	ListMessages(ctx context.Context, proposalID uuid.UUID, params pagination.Params) (*discussion.MessagePage, error)
	Subscribe(ctx context.Context, proposalID uuid.UUID, onMessage func(discussion.MessageDTO)) (Subscription, error)
}

type proposalReader interface {
	Get(ctx context.Context, proposalID uuid.UUID) (*proposals.ProposalDetail, error)
}

type discussionReader interface {
	ListMessages(ctx context.Context, proposalID uuid.UUID, params pagination.Params) (*discussion.MessagePage, error)
	Subscribe(ctx context.Context, proposalID uuid.UUID, onMessage func(discussion.MessageDTO)) (*discussion.Subscription, error)
}

// LocalSource reads straight from in-process services.
type LocalSource struct {
	proposals  proposalReader
	discussion discussionReader
}

// NewLocalSource wraps the proposal and discussion services.
func NewLocalSource(proposals proposalReader, discussion discussionReader) *LocalSource {
	return &LocalSource{proposals: proposals, discussion: discussion}
}

func (s *LocalSource) Snapshot(ctx context.Context, proposalID uuid.UUID) (*proposals.ProposalDetail, error) {
	return s.proposals.Get(ctx, proposalID)
}

func (s *LocalSource) ListMessages(ctx context.Context, proposalID uuid.UUID, params pagination.Params) (*discussion.MessagePage, error) {
	return s.discussion.ListMessages(ctx, proposalID, params)
}

func (s *LocalSource) Subscribe(ctx context.Context, proposalID uuid.UUID, onMessage func(discussion.MessageDTO)) (Subscription, error) {
	sub, err := s.discussion.Subscribe(ctx, proposalID, onMessage)
	if err != nil {
		return nil, err
	}
	return sub, nil
}
