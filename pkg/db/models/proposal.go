package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/pricecircle-backend/pkg/enums"
)

// Proposal is a group-scoped purchase suggestion put to a vote.
type Proposal struct {
	ID         uuid.UUID            `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	GroupID    uuid.UUID            `gorm:"column:group_id;type:uuid;not null"`
	ProposerID uuid.UUID            `gorm:"column:proposer_id;type:uuid;not null"`
	Name       string               `gorm:"column:name;type:text;not null"`
	Price      decimal.Decimal      `gorm:"column:price;type:numeric(12,2);not null"`
	ImageURL   *string              `gorm:"column:image_url;type:text"`
	Discount   *string              `gorm:"column:discount;type:text"`
	Status     enums.ProposalStatus `gorm:"column:status;type:proposal_status;not null;default:voting"`
	CreatedAt  time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *Proposal) BeforeCreate(_ *gorm.DB) error {
	ensureID(&p.ID)
	return nil
}

// Vote is the single live vote a member holds on a proposal.
type Vote struct {
	ProposalID uuid.UUID `gorm:"column:proposal_id;type:uuid;primaryKey"`
	MemberID   uuid.UUID `gorm:"column:member_id;type:uuid;primaryKey"`
	IsApprove  bool      `gorm:"column:is_approve;not null"`
	CreatedAt  time.Time `gorm:"column:created_at"`
	UpdatedAt  time.Time `gorm:"column:updated_at"`
}

func (Vote) TableName() string { return "proposal_votes" }

// Message is an append-only discussion entry attached to a proposal.
type Message struct {
	ID         uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ProposalID uuid.UUID `gorm:"column:proposal_id;type:uuid;not null"`
	AuthorID   uuid.UUID `gorm:"column:author_id;type:uuid;not null"`
	Content    string    `gorm:"column:content;type:text;not null"`
	CreatedAt  time.Time `gorm:"column:created_at"`
}

func (Message) TableName() string { return "proposal_messages" }

func (m *Message) BeforeCreate(_ *gorm.DB) error {
	ensureID(&m.ID)
	return nil
}
