package proposals

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/pricecircle-backend/internal/groups"
	"github.com/angelmondragon/pricecircle-backend/internal/votes"
	"github.com/angelmondragon/pricecircle-backend/pkg/db"
	"github.com/angelmondragon/pricecircle-backend/pkg/db/models"
	"github.com/angelmondragon/pricecircle-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/pricecircle-backend/pkg/errors"
	"github.com/angelmondragon/pricecircle-backend/pkg/logger"
	"github.com/angelmondragon/pricecircle-backend/pkg/metrics"
	"github.com/angelmondragon/pricecircle-backend/pkg/outbox"
	"github.com/angelmondragon/pricecircle-backend/pkg/outbox/payloads"
)

const maxNameLength = 200

// numeric(12,2) upper bound.
var maxPrice = decimal.RequireFromString("9999999999.99")

// Service defines proposal store operations.
type Service interface {
	Propose(ctx context.Context, input ProposeInput) (*ProposalDTO, error)
	ListByGroup(ctx context.Context, groupID uuid.UUID) ([]ProposalSummary, error)
	Get(ctx context.Context, proposalID uuid.UUID) (*ProposalDetail, error)
	TransitionStatus(ctx context.Context, proposalID uuid.UUID, status enums.ProposalStatus) (*TransitionResult, error)
	Reject(ctx context.Context, proposalID, actorID uuid.UUID) (*TransitionResult, error)
	Delete(ctx context.Context, proposalID, actorID uuid.UUID) error
}

type proposalRepository interface {
	Create(ctx context.Context, proposal *models.Proposal) error
	FindByID(ctx context.Context, proposalID uuid.UUID) (*models.Proposal, error)
	ListByGroupWithTallies(ctx context.Context, groupID uuid.UUID) ([]proposalTallyRow, error)
	TransitionStatus(ctx context.Context, proposalID uuid.UUID, to enums.ProposalStatus, onTransition func(tx *gorm.DB, proposal *models.Proposal) error) (*models.Proposal, bool, error)
	Delete(ctx context.Context, proposalID uuid.UUID) (bool, error)
}

// VoteLister returns the live votes of a proposal.
type VoteLister interface {
	ListVotes(ctx context.Context, proposalID uuid.UUID) ([]votes.VoteDTO, error)
}

// EventEmitter writes outbox events inside a caller-owned transaction.
type EventEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type service struct {
	repo      proposalRepository
	votes     VoteLister
	directory groups.Directory
	events    EventEmitter
	metrics   *metrics.ConsensusMetrics
	logg      *logger.Logger
}

// ServiceParams groups proposal service dependencies.
type ServiceParams struct {
	Repo      proposalRepository
	Votes     VoteLister
	Directory groups.Directory
	Events    EventEmitter
	Metrics   *metrics.ConsensusMetrics
	Logger    *logger.Logger
}

// NewService builds a proposal service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "proposal repository required")
	}
	if params.Votes == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "vote lister required")
	}
	if params.Directory == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "group directory required")
	}
	if params.Events == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "event emitter required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "logger required")
	}
	return &service{
		repo:      params.Repo,
		votes:     params.Votes,
		directory: params.Directory,
		events:    params.Events,
		metrics:   params.Metrics,
		logg:      params.Logger,
	}, nil
}

func (s *service) Propose(ctx context.Context, input ProposeInput) (*ProposalDTO, error) {
	if input.GroupID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "group id required")
	}
	if input.ProposerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "proposer id required")
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "name is required")
	}
	if len([]rune(name)) > maxNameLength {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "name is too long")
	}
	if input.Price.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "price must not be negative")
	}
	price := input.Price.Round(2)
	if price.GreaterThan(maxPrice) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "price is too large")
	}

	if _, err := s.directory.GetVotingConfig(ctx, input.GroupID); err != nil {
		return nil, err
	}

	proposal := &models.Proposal{
		GroupID:    input.GroupID,
		ProposerID: input.ProposerID,
		Name:       name,
		Price:      price,
		ImageURL:   trimOptional(input.ImageURL),
		Discount:   trimOptional(input.Discount),
		Status:     enums.ProposalStatusVoting,
	}
	if err := s.repo.Create(ctx, proposal); err != nil {
		return nil, pkgerrors.FromStorage(err, "create proposal", "group")
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"group_id":    input.GroupID.String(),
		"proposal_id": proposal.ID.String(),
	}), "proposal created")
	return ToDTO(proposal), nil
}

func (s *service) ListByGroup(ctx context.Context, groupID uuid.UUID) ([]ProposalSummary, error) {
	if groupID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "group id required")
	}
	cfg, err := s.directory.GetVotingConfig(ctx, groupID)
	if err != nil {
		return nil, err
	}

	rows, err := s.repo.ListByGroupWithTallies(ctx, groupID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list proposals")
	}

	out := make([]ProposalSummary, 0, len(rows))
	for i := range rows {
		out = append(out, ProposalSummary{
			ProposalDTO:  *ToDTO(&rows[i].Proposal),
			ApproveCount: rows[i].ApproveCount,
			MemberCount:  cfg.MemberCount,
		})
	}
	return out, nil
}

func (s *service) Get(ctx context.Context, proposalID uuid.UUID) (*ProposalDetail, error) {
	proposal, err := s.load(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	cfg, err := s.directory.GetVotingConfig(ctx, proposal.GroupID)
	if err != nil {
		return nil, err
	}
	list, err := s.votes.ListVotes(ctx, proposalID)
	if err != nil {
		return nil, err
	}

	detail := &ProposalDetail{
		ProposalDTO: *ToDTO(proposal),
		Threshold:   cfg.Threshold,
		Votes:       list,
		MemberCount: cfg.MemberCount,
	}
	for _, v := range list {
		if v.IsApprove {
			detail.ApproveCount++
		} else {
			detail.RejectCount++
		}
	}
	return detail, nil
}

// TransitionStatus is the plain compare-and-set without side effects.
func (s *service) TransitionStatus(ctx context.Context, proposalID uuid.UUID, status enums.ProposalStatus) (*TransitionResult, error) {
	if !status.IsTerminal() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "target status must be approved or rejected")
	}
	return s.transition(ctx, proposalID, status, nil)
}

// Reject withdraws a proposal. Only the proposer or a group owner/admin may do it.
func (s *service) Reject(ctx context.Context, proposalID, actorID uuid.UUID) (*TransitionResult, error) {
	proposal, err := s.load(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, proposal, actorID); err != nil {
		return nil, err
	}

	result, err := s.transition(ctx, proposalID, enums.ProposalStatusRejected, func(tx *gorm.DB, p *models.Proposal) error {
		return s.events.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventProposalRejected,
			AggregateType: enums.AggregateProposal,
			AggregateID:   p.ID,
			Actor:         &outbox.ActorRef{UserID: actorID, GroupID: &p.GroupID},
			Data: payloads.ProposalRejectedEvent{
				ProposalID: p.ID,
				GroupID:    p.GroupID,
				ProposerID: p.ProposerID,
				Name:       p.Name,
				Price:      p.Price,
				RejectedBy: actorID,
				RejectedAt: p.UpdatedAt,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	if result.Transitioned {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"proposal_id": proposalID.String(),
			"actor_id":    actorID.String(),
		}), "proposal rejected")
	}
	return result, nil
}

// Delete removes a proposal with its votes and messages.
func (s *service) Delete(ctx context.Context, proposalID, actorID uuid.UUID) error {
	proposal, err := s.load(ctx, proposalID)
	if err != nil {
		return err
	}
	if err := s.authorize(ctx, proposal, actorID); err != nil {
		return err
	}
	found, err := s.repo.Delete(ctx, proposalID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete proposal")
	}
	if !found {
		return pkgerrors.New(pkgerrors.CodeNotFound, "proposal not found")
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"proposal_id": proposalID.String(),
		"actor_id":    actorID.String(),
	}), "proposal deleted")
	return nil
}

func (s *service) transition(ctx context.Context, proposalID uuid.UUID, status enums.ProposalStatus, onTransition func(tx *gorm.DB, p *models.Proposal) error) (*TransitionResult, error) {
	updated, transitioned, err := s.repo.TransitionStatus(ctx, proposalID, status, onTransition)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "proposal not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "transition proposal status")
	}
	if transitioned {
		s.metrics.IncTransition(string(status))
	}
	return &TransitionResult{Proposal: *ToDTO(updated), Transitioned: transitioned}, nil
}

func (s *service) load(ctx context.Context, proposalID uuid.UUID) (*models.Proposal, error) {
	if proposalID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "proposal id required")
	}
	proposal, err := s.repo.FindByID(ctx, proposalID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "proposal not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load proposal")
	}
	return proposal, nil
}

func (s *service) authorize(ctx context.Context, proposal *models.Proposal, actorID uuid.UUID) error {
	if actorID == proposal.ProposerID {
		return nil
	}
	member, err := s.directory.Membership(ctx, proposal.GroupID, actorID)
	if err != nil {
		return err
	}
	if !member.CanModerate() {
		return pkgerrors.New(pkgerrors.CodeForbidden, "only the proposer or a group admin may do this")
	}
	return nil
}

func trimOptional(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
