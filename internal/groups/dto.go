package groups

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/pricecircle-backend/pkg/enums"
)

// VotingConfig is the group configuration a proposal is evaluated against.
// MemberCount is read fresh on every call.
type VotingConfig struct {
	GroupID     uuid.UUID             `json:"group_id"`
	Threshold   enums.VotingThreshold `json:"voting_threshold"`
	MemberCount int64                 `json:"member_count"`
}

// Membership is the caller's standing inside a group.
type Membership struct {
	GroupID uuid.UUID        `json:"group_id"`
	UserID  uuid.UUID        `json:"user_id"`
	Role    enums.MemberRole `json:"role"`
}

// CanModerate reports whether the member may act on content authored by others.
func (m *Membership) CanModerate() bool {
	return m != nil && m.Role.CanModerate()
}
