package votes

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/pricecircle-backend/internal/consensus"
	"github.com/angelmondragon/pricecircle-backend/internal/groups"
	"github.com/angelmondragon/pricecircle-backend/pkg/db"
	"github.com/angelmondragon/pricecircle-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/pricecircle-backend/pkg/errors"
	"github.com/angelmondragon/pricecircle-backend/pkg/logger"
	"github.com/angelmondragon/pricecircle-backend/pkg/metrics"
)

const maxUpsertAttempts = 3

// Service exposes the vote ledger.
type Service interface {
	CastVote(ctx context.Context, proposalID, memberID uuid.UUID, isApprove bool) (*VoteResult, error)
	GetVote(ctx context.Context, proposalID, memberID uuid.UUID) (*VoteDTO, error)
	ListVotes(ctx context.Context, proposalID uuid.UUID) ([]VoteDTO, error)
	CountApprovals(ctx context.Context, proposalID uuid.UUID) (int64, error)
}

type voteRepository interface {
	Upsert(ctx context.Context, proposalID, memberID uuid.UUID, isApprove bool, now time.Time) (*models.Vote, error)
	Get(ctx context.Context, proposalID, memberID uuid.UUID) (*models.Vote, error)
	List(ctx context.Context, proposalID uuid.UUID) ([]models.Vote, error)
	CountApprovals(ctx context.Context, proposalID uuid.UUID) (int64, error)
	CountRejections(ctx context.Context, proposalID uuid.UUID) (int64, error)
}

// ProposalLookup resolves the proposal a vote targets.
type ProposalLookup interface {
	FindByID(ctx context.Context, proposalID uuid.UUID) (*models.Proposal, error)
}

// ConfigSource resolves the voting configuration of the proposal's group.
type ConfigSource interface {
	GetVotingConfig(ctx context.Context, groupID uuid.UUID) (groups.VotingConfig, error)
}

// Evaluator re-runs the threshold check after a vote lands.
type Evaluator interface {
	Evaluate(ctx context.Context, proposalID uuid.UUID) (consensus.Outcome, error)
}

type service struct {
	repo      voteRepository
	proposals ProposalLookup
	configs   ConfigSource
	evaluator Evaluator
	metrics   *metrics.ConsensusMetrics
	logg      *logger.Logger
	now       func() time.Time
}

// ServiceParams groups vote ledger dependencies.
type ServiceParams struct {
	Repo      voteRepository
	Proposals ProposalLookup
	Configs   ConfigSource
	Evaluator Evaluator
	Metrics   *metrics.ConsensusMetrics
	Logger    *logger.Logger
}

// NewService builds a vote ledger service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "vote repository required")
	}
	if params.Proposals == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "proposal lookup required")
	}
	if params.Configs == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "voting config source required")
	}
	if params.Evaluator == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "consensus evaluator required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "logger required")
	}
	return &service{
		repo:      params.Repo,
		proposals: params.Proposals,
		configs:   params.Configs,
		evaluator: params.Evaluator,
		metrics:   params.Metrics,
		logg:      params.Logger,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// CastVote upserts the member's vote and evaluates the proposal before
// returning, so the returned tally already includes this vote.
func (s *service) CastVote(ctx context.Context, proposalID, memberID uuid.UUID, isApprove bool) (*VoteResult, error) {
	if proposalID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "proposal id required")
	}
	if memberID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "member id required")
	}
	proposal, err := s.ensureProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	// a group whose config cannot be evaluated must not collect votes
	if _, err := s.configs.GetVotingConfig(ctx, proposal.GroupID); err != nil {
		return nil, err
	}

	vote, err := s.upsert(ctx, proposalID, memberID, isApprove)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "proposal not found")
		}
		// the proposal may have been deleted after ensureProposal
		return nil, pkgerrors.FromStorage(err, "record vote", "proposal")
	}
	s.metrics.IncVote(isApprove)

	outcome, err := s.evaluator.Evaluate(ctx, proposalID)
	if err != nil {
		return nil, err
	}

	rejections, err := s.repo.CountRejections(ctx, proposalID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count rejections")
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"proposal_id":   proposalID.String(),
		"is_approve":    isApprove,
		"approve_count": outcome.ApproveCount,
		"status":        outcome.Status,
	}), "vote recorded")

	return &VoteResult{
		Vote:         *ToDTO(vote),
		Tally:        tallyFromOutcome(outcome, rejections),
		Status:       outcome.Status,
		Transitioned: outcome.Transitioned,
	}, nil
}

// upsert retries serialization failures and deadlocks a bounded number of times.
func (s *service) upsert(ctx context.Context, proposalID, memberID uuid.UUID, isApprove bool) (*models.Vote, error) {
	var (
		vote *models.Vote
		err  error
	)
	for attempt := 1; attempt <= maxUpsertAttempts; attempt++ {
		vote, err = s.repo.Upsert(ctx, proposalID, memberID, isApprove, s.now())
		if err == nil || !pkgerrors.Transient(err) {
			return vote, err
		}
		s.logg.Warn(s.logg.WithField(ctx, "attempt", attempt), "vote upsert hit a transient conflict")
	}
	return nil, err
}

// GetVote returns nil without error when the member has not voted.
func (s *service) GetVote(ctx context.Context, proposalID, memberID uuid.UUID) (*VoteDTO, error) {
	vote, err := s.repo.Get(ctx, proposalID, memberID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load vote")
	}
	return ToDTO(vote), nil
}

func (s *service) ListVotes(ctx context.Context, proposalID uuid.UUID) ([]VoteDTO, error) {
	rows, err := s.repo.List(ctx, proposalID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list votes")
	}
	return ToDTOs(rows), nil
}

func (s *service) CountApprovals(ctx context.Context, proposalID uuid.UUID) (int64, error) {
	count, err := s.repo.CountApprovals(ctx, proposalID)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count approvals")
	}
	return count, nil
}

func (s *service) ensureProposal(ctx context.Context, proposalID uuid.UUID) (*models.Proposal, error) {
	proposal, err := s.proposals.FindByID(ctx, proposalID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "proposal not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load proposal")
	}
	return proposal, nil
}
