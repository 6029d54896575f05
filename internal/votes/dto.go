package votes

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/pricecircle-backend/internal/consensus"
	"github.com/angelmondragon/pricecircle-backend/pkg/db/models"
	"github.com/angelmondragon/pricecircle-backend/pkg/enums"
)

// VoteDTO is the transport shape of a vote.
type VoteDTO struct {
	ProposalID uuid.UUID `json:"proposal_id"`
	MemberID   uuid.UUID `json:"member_id"`
	IsApprove  bool      `json:"is_approve"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Tally is the vote count a caller sees right after voting.
type Tally struct {
	ApproveCount      int64                 `json:"approve_count"`
	RejectCount       int64                 `json:"reject_count"`
	MemberCount       int64                 `json:"member_count"`
	Threshold         enums.VotingThreshold `json:"voting_threshold"`
	RequiredApprovals int64                 `json:"required_approvals"`
}

// VoteResult is returned by CastVote once the evaluation has run.
type VoteResult struct {
	Vote         VoteDTO              `json:"vote"`
	Tally        Tally                `json:"tally"`
	Status       enums.ProposalStatus `json:"status"`
	Transitioned bool                 `json:"transitioned"`
}

// ToDTO converts a model to the external DTO.
func ToDTO(v *models.Vote) *VoteDTO {
	if v == nil {
		return nil
	}
	return &VoteDTO{
		ProposalID: v.ProposalID,
		MemberID:   v.MemberID,
		IsApprove:  v.IsApprove,
		CreatedAt:  v.CreatedAt,
		UpdatedAt:  v.UpdatedAt,
	}
}

// ToDTOs converts a slice of models.
func ToDTOs(rows []models.Vote) []VoteDTO {
	out := make([]VoteDTO, 0, len(rows))
	for i := range rows {
		out = append(out, *ToDTO(&rows[i]))
	}
	return out
}

func tallyFromOutcome(outcome consensus.Outcome, rejections int64) Tally {
	return Tally{
		ApproveCount:      outcome.ApproveCount,
		RejectCount:       rejections,
		MemberCount:       outcome.MemberCount,
		Threshold:         outcome.Threshold,
		RequiredApprovals: consensus.RequiredApprovals(outcome.Threshold, outcome.MemberCount),
	}
}
