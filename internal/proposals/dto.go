package proposals

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/pricecircle-backend/internal/votes"
	"github.com/angelmondragon/pricecircle-backend/pkg/db/models"
	"github.com/angelmondragon/pricecircle-backend/pkg/enums"
)

// ProposeInput carries the fields for a new proposal.
type ProposeInput struct {
	GroupID    uuid.UUID
	ProposerID uuid.UUID
	Name       string
	Price      decimal.Decimal
	ImageURL   *string
	Discount   *string
}

// ProposalDTO is the transport shape of a proposal.
type ProposalDTO struct {
	ID         uuid.UUID            `json:"id"`
	GroupID    uuid.UUID            `json:"group_id"`
	ProposerID uuid.UUID            `json:"proposer_id"`
	Name       string               `json:"name"`
	Price      decimal.Decimal      `json:"price"`
	ImageURL   *string              `json:"image_url,omitempty"`
	Discount   *string              `json:"discount,omitempty"`
	Status     enums.ProposalStatus `json:"status"`
	CreatedAt  time.Time            `json:"created_at"`
	UpdatedAt  time.Time            `json:"updated_at"`
}

// ProposalSummary is a list entry enriched with its tally.
type ProposalSummary struct {
	ProposalDTO
	ApproveCount int64 `json:"approve_count"`
	MemberCount  int64 `json:"member_count"`
}

// ProposalDetail is the single-proposal view with every live vote.
type ProposalDetail struct {
	ProposalDTO
	Threshold    enums.VotingThreshold `json:"voting_threshold"`
	Votes        []votes.VoteDTO       `json:"votes"`
	ApproveCount int64                 `json:"approve_count"`
	RejectCount  int64                 `json:"reject_count"`
	MemberCount  int64                 `json:"member_count"`
}

// TransitionResult reports the row after a status change attempt.
type TransitionResult struct {
	Proposal     ProposalDTO `json:"proposal"`
	Transitioned bool        `json:"transitioned"`
}

// ToDTO converts a model to the external DTO.
func ToDTO(p *models.Proposal) *ProposalDTO {
	if p == nil {
		return nil
	}
	return &ProposalDTO{
		ID:         p.ID,
		GroupID:    p.GroupID,
		ProposerID: p.ProposerID,
		Name:       p.Name,
		Price:      p.Price,
		ImageURL:   p.ImageURL,
		Discount:   p.Discount,
		Status:     p.Status,
		CreatedAt:  p.CreatedAt,
		UpdatedAt:  p.UpdatedAt,
	}
}
