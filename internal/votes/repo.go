package votes

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/pricecircle-backend/pkg/db/models"
)

// Repository persists the one-vote-per-member ledger.
type Repository struct {
	db *gorm.DB
}

// NewRepository binds the repo to the provided GORM connection.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to tx.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

// Upsert writes the member's vote, overwriting is_approve and updated_at when
// the member already voted. created_at keeps the first vote time. A write
// stamped earlier than the stored vote loses, so the latest cast wins even
// when commits land out of order.
func (r *Repository) Upsert(ctx context.Context, proposalID, memberID uuid.UUID, isApprove bool, now time.Time) (*models.Vote, error) {
	vote := &models.Vote{
		ProposalID: proposalID,
		MemberID:   memberID,
		IsApprove:  isApprove,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "proposal_id"}, {Name: "member_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"is_approve", "updated_at"}),
			Where: clause.Where{Exprs: []clause.Expression{
				clause.Expr{SQL: "excluded.updated_at >= proposal_votes.updated_at"},
			}},
		}).
		Create(vote).Error
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, proposalID, memberID)
}

// Get returns the member's vote or gorm.ErrRecordNotFound.
func (r *Repository) Get(ctx context.Context, proposalID, memberID uuid.UUID) (*models.Vote, error) {
	var vote models.Vote
	err := r.db.WithContext(ctx).
		Where("proposal_id = ? AND member_id = ?", proposalID, memberID).
		First(&vote).Error
	if err != nil {
		return nil, err
	}
	return &vote, nil
}

// List returns every live vote on a proposal, oldest first.
func (r *Repository) List(ctx context.Context, proposalID uuid.UUID) ([]models.Vote, error) {
	var rows []models.Vote
	err := r.db.WithContext(ctx).
		Where("proposal_id = ?", proposalID).
		Order("created_at ASC, member_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// CountApprovals counts approve votes on a proposal.
func (r *Repository) CountApprovals(ctx context.Context, proposalID uuid.UUID) (int64, error) {
	return r.count(ctx, proposalID, true)
}

// CountRejections counts reject votes on a proposal.
func (r *Repository) CountRejections(ctx context.Context, proposalID uuid.UUID) (int64, error) {
	return r.count(ctx, proposalID, false)
}

func (r *Repository) count(ctx context.Context, proposalID uuid.UUID, approve bool) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Vote{}).
		Where("proposal_id = ? AND is_approve = ?", proposalID, approve).
		Count(&count).Error
	return count, err
}
