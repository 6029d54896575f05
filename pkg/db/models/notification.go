package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/pricecircle-backend/pkg/enums"
)

// Notification is an in-app alert addressed to one group member.
type Notification struct {
	ID         uuid.UUID              `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID     uuid.UUID              `gorm:"column:user_id;type:uuid;not null"`
	GroupID    uuid.UUID              `gorm:"column:group_id;type:uuid;not null"`
	ProposalID *uuid.UUID             `gorm:"column:proposal_id;type:uuid"`
	EventID    *uuid.UUID             `gorm:"column:event_id;type:uuid"`
	Type       enums.NotificationType `gorm:"column:type;type:notification_type;not null"`
	Title      string                 `gorm:"column:title;type:text;not null"`
	Message    string                 `gorm:"column:message;type:text;not null"`
	ReadAt     *time.Time             `gorm:"column:read_at;type:timestamptz"`
	CreatedAt  time.Time              `gorm:"column:created_at;autoCreateTime"`
}

func (n *Notification) BeforeCreate(_ *gorm.DB) error {
	ensureID(&n.ID)
	return nil
}
