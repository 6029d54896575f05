package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/pricecircle-backend/pkg/enums"
)

// ProposalApprovedEvent is emitted once, by the evaluation that won the status transition.
type ProposalApprovedEvent struct {
	ProposalID   uuid.UUID             `json:"proposal_id"`
	GroupID      uuid.UUID             `json:"group_id"`
	ProposerID   uuid.UUID             `json:"proposer_id"`
	Name         string                `json:"name"`
	Price        decimal.Decimal       `json:"price"`
	Threshold    enums.VotingThreshold `json:"threshold"`
	ApproveCount int64                 `json:"approve_count"`
	MemberCount  int64                 `json:"member_count"`
	ApprovedAt   time.Time             `json:"approved_at"`
}

// ProposalRejectedEvent is emitted when the proposer or a group admin withdraws a proposal.
type ProposalRejectedEvent struct {
	ProposalID uuid.UUID       `json:"proposal_id"`
	GroupID    uuid.UUID       `json:"group_id"`
	ProposerID uuid.UUID       `json:"proposer_id"`
	Name       string          `json:"name"`
	Price      decimal.Decimal `json:"price"`
	RejectedBy uuid.UUID       `json:"rejected_by"`
	RejectedAt time.Time       `json:"rejected_at"`
}
