package consensus

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/pricecircle-backend/internal/groups"
	"github.com/angelmondragon/pricecircle-backend/pkg/db"
	"github.com/angelmondragon/pricecircle-backend/pkg/db/models"
	"github.com/angelmondragon/pricecircle-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/pricecircle-backend/pkg/errors"
	"github.com/angelmondragon/pricecircle-backend/pkg/logger"
	"github.com/angelmondragon/pricecircle-backend/pkg/metrics"
	"github.com/angelmondragon/pricecircle-backend/pkg/outbox"
	"github.com/angelmondragon/pricecircle-backend/pkg/outbox/payloads"
)

// ProposalStore is the slice of the proposal repository the evaluator needs.
// TransitionStatus must be a compare-and-set on status 'voting'; onTransition
// runs inside the same transaction only when this call performed the change.
type ProposalStore interface {
	FindByID(ctx context.Context, proposalID uuid.UUID) (*models.Proposal, error)
	TransitionStatus(ctx context.Context, proposalID uuid.UUID, to enums.ProposalStatus, onTransition func(tx *gorm.DB, proposal *models.Proposal) error) (*models.Proposal, bool, error)
}

// VoteCounter counts approvals for a proposal.
type VoteCounter interface {
	CountApprovals(ctx context.Context, proposalID uuid.UUID) (int64, error)
}

// ConfigSource provides the group threshold and current member count.
type ConfigSource interface {
	GetVotingConfig(ctx context.Context, groupID uuid.UUID) (groups.VotingConfig, error)
}

// EventEmitter writes outbox events inside a caller-owned transaction.
type EventEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Outcome summarizes one evaluation.
type Outcome struct {
	ProposalID   uuid.UUID             `json:"proposal_id"`
	Status       enums.ProposalStatus  `json:"status"`
	Threshold    enums.VotingThreshold `json:"threshold"`
	ApproveCount int64                 `json:"approve_count"`
	MemberCount  int64                 `json:"member_count"`
	Met          bool                  `json:"threshold_met"`
	Transitioned bool                  `json:"transitioned"`
}

// Evaluator recomputes approval after a vote and drives VOTING -> APPROVED.
type Evaluator struct {
	proposals ProposalStore
	votes     VoteCounter
	configs   ConfigSource
	events    EventEmitter
	metrics   *metrics.ConsensusMetrics
	logg      *logger.Logger
	now       func() time.Time
}

// EvaluatorParams groups evaluator dependencies.
type EvaluatorParams struct {
	Proposals ProposalStore
	Votes     VoteCounter
	Configs   ConfigSource
	Events    EventEmitter
	Metrics   *metrics.ConsensusMetrics
	Logger    *logger.Logger
}

// NewEvaluator validates dependencies and builds an Evaluator.
func NewEvaluator(params EvaluatorParams) (*Evaluator, error) {
	if params.Proposals == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "proposal store required")
	}
	if params.Votes == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "vote counter required")
	}
	if params.Configs == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "group directory required")
	}
	if params.Events == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "event emitter required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "logger required")
	}
	return &Evaluator{
		proposals: params.Proposals,
		votes:     params.Votes,
		configs:   params.Configs,
		events:    params.Events,
		metrics:   params.Metrics,
		logg:      params.Logger,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// Evaluate reads the proposal, the fresh group config and the approval count,
// then attempts the approval transition when the threshold is met. Losing the
// compare-and-set to a concurrent evaluation is not an error.
func (e *Evaluator) Evaluate(ctx context.Context, proposalID uuid.UUID) (Outcome, error) {
	started := time.Now()
	ctx = e.logg.WithProposalID(ctx, proposalID.String())

	proposal, err := e.proposals.FindByID(ctx, proposalID)
	if err != nil {
		if db.IsNotFound(err) {
			return Outcome{}, pkgerrors.New(pkgerrors.CodeNotFound, "proposal not found")
		}
		return Outcome{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load proposal")
	}

	cfg, err := e.configs.GetVotingConfig(ctx, proposal.GroupID)
	if err != nil {
		return Outcome{}, err
	}

	approvals, err := e.votes.CountApprovals(ctx, proposalID)
	if err != nil {
		return Outcome{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count approvals")
	}

	outcome := Outcome{
		ProposalID:   proposalID,
		Status:       proposal.Status,
		Threshold:    cfg.Threshold,
		ApproveCount: approvals,
		MemberCount:  cfg.MemberCount,
		Met:          ThresholdMet(cfg.Threshold, approvals, cfg.MemberCount),
	}

	if proposal.Status.IsTerminal() {
		e.metrics.ObserveEvaluation("terminal", time.Since(started))
		return outcome, nil
	}
	if !outcome.Met {
		e.metrics.ObserveEvaluation("pending", time.Since(started))
		return outcome, nil
	}

	updated, transitioned, err := e.proposals.TransitionStatus(ctx, proposalID, enums.ProposalStatusApproved, func(tx *gorm.DB, p *models.Proposal) error {
		return e.events.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventProposalApproved,
			AggregateType: enums.AggregateProposal,
			AggregateID:   p.ID,
			Actor:         &outbox.ActorRef{GroupID: &p.GroupID},
			Data: payloads.ProposalApprovedEvent{
				ProposalID:   p.ID,
				GroupID:      p.GroupID,
				ProposerID:   p.ProposerID,
				Name:         p.Name,
				Price:        p.Price,
				Threshold:    cfg.Threshold,
				ApproveCount: approvals,
				MemberCount:  cfg.MemberCount,
				ApprovedAt:   e.now(),
			},
		})
	})
	if err != nil {
		if db.IsNotFound(err) {
			return Outcome{}, pkgerrors.New(pkgerrors.CodeNotFound, "proposal not found")
		}
		e.logg.Error(ctx, "approval transition failed", err)
		return Outcome{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "transition proposal status")
	}

	outcome.Status = updated.Status
	outcome.Transitioned = transitioned
	if transitioned {
		e.metrics.IncTransition(string(enums.ProposalStatusApproved))
		e.metrics.ObserveEvaluation("approved", time.Since(started))
		e.logg.Info(e.logg.WithFields(ctx, map[string]any{
			"approve_count": approvals,
			"member_count":  cfg.MemberCount,
			"threshold":     cfg.Threshold,
		}), "proposal approved")
	} else {
		e.metrics.ObserveEvaluation("lost_race", time.Since(started))
	}
	return outcome, nil
}
