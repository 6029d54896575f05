package proposals

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/pricecircle-backend/pkg/db/models"
	"github.com/angelmondragon/pricecircle-backend/pkg/enums"
)

// Repository exposes proposal persistence operations.
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

type proposalTallyRow struct {
	models.Proposal
	ApproveCount int64 `gorm:"column:approve_count"`
}

// Create inserts a new proposal.
func (r *Repository) Create(ctx context.Context, proposal *models.Proposal) error {
	return r.db.WithContext(ctx).Create(proposal).Error
}

// FindByID loads a proposal or returns gorm.ErrRecordNotFound.
func (r *Repository) FindByID(ctx context.Context, proposalID uuid.UUID) (*models.Proposal, error) {
	var proposal models.Proposal
	if err := r.db.WithContext(ctx).Where("id = ?", proposalID).First(&proposal).Error; err != nil {
		return nil, err
	}
	return &proposal, nil
}

// GroupID returns the owning group of a proposal.
func (r *Repository) GroupID(ctx context.Context, proposalID uuid.UUID) (uuid.UUID, error) {
	proposal, err := r.FindByID(ctx, proposalID)
	if err != nil {
		return uuid.Nil, err
	}
	return proposal.GroupID, nil
}

// ListByGroupWithTallies returns the group's proposals newest first, each with
// its approve count computed in the same statement.
func (r *Repository) ListByGroupWithTallies(ctx context.Context, groupID uuid.UUID) ([]proposalTallyRow, error) {
	approvals := r.db.Model(&models.Vote{}).
		Select("COUNT(*)").
		Where("proposal_votes.proposal_id = proposals.id AND proposal_votes.is_approve = ?", true)

	var rows []proposalTallyRow
	err := r.db.WithContext(ctx).
		Model(&models.Proposal{}).
		Select("proposals.*, (?) AS approve_count", approvals).
		Where("proposals.group_id = ?", groupID).
		Order("proposals.created_at DESC, proposals.id DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// TransitionStatus moves a proposal out of 'voting' with a single conditional
// update. When the row was already terminal the current row is returned with
// transitioned=false. onTransition runs in the same transaction, and only for
// the caller whose update matched.
func (r *Repository) TransitionStatus(ctx context.Context, proposalID uuid.UUID, to enums.ProposalStatus, onTransition func(tx *gorm.DB, proposal *models.Proposal) error) (*models.Proposal, bool, error) {
	var (
		current      models.Proposal
		transitioned bool
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Proposal{}).
			Where("id = ? AND status = ?", proposalID, enums.ProposalStatusVoting).
			Updates(map[string]any{
				"status":     to,
				"updated_at": time.Now().UTC(),
			})
		if result.Error != nil {
			return result.Error
		}
		if err := tx.Where("id = ?", proposalID).First(&current).Error; err != nil {
			return err
		}
		if result.RowsAffected != 1 {
			return nil
		}
		transitioned = true
		if onTransition != nil {
			return onTransition(tx, &current)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return &current, transitioned, nil
}

// Delete removes a proposal; votes and messages cascade. Reports whether a row existed.
func (r *Repository) Delete(ctx context.Context, proposalID uuid.UUID) (bool, error) {
	result := r.db.WithContext(ctx).Where("id = ?", proposalID).Delete(&models.Proposal{})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
