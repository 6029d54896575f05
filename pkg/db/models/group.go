package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/pricecircle-backend/pkg/enums"
)

// Group is owned by group management; this service only reads it.
type Group struct {
	ID              uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Name            string                `gorm:"column:name;type:text;not null"`
	VotingThreshold enums.VotingThreshold `gorm:"column:voting_threshold;type:voting_threshold;not null;default:half"`
	CreatedBy       uuid.UUID             `gorm:"column:created_by;type:uuid;not null"`
	CreatedAt       time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}

func (g *Group) BeforeCreate(_ *gorm.DB) error {
	ensureID(&g.ID)
	return nil
}

// GroupMember links a user with a group and captures their role.
type GroupMember struct {
	GroupID  uuid.UUID        `gorm:"column:group_id;type:uuid;primaryKey"`
	UserID   uuid.UUID        `gorm:"column:user_id;type:uuid;primaryKey"`
	Role     enums.MemberRole `gorm:"column:role;type:member_role;not null;default:member"`
	JoinedAt time.Time        `gorm:"column:joined_at;autoCreateTime"`
}
