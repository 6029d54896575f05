package discussion

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/pricecircle-backend/pkg/db/models"
	"github.com/angelmondragon/pricecircle-backend/pkg/pagination"
)

// Repository persists the append-only message log.
type Repository struct {
	db *gorm.DB
}

// NewRepository binds the repo to the provided GORM connection.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

type listMessagesParams struct {
	ProposalID uuid.UUID
	Limit      int
	After      *pagination.Cursor
}

// Append stores msg with a created_at that is never earlier than the latest
// message of the same proposal. The proposal row is locked for the duration so
// concurrent appends to one proposal serialize. Returns gorm.ErrRecordNotFound
// when the proposal does not exist.
func (r *Repository) Append(ctx context.Context, msg *models.Message, now time.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var proposal models.Proposal
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id").
			Where("id = ?", msg.ProposalID).
			First(&proposal).Error; err != nil {
			return err
		}

		var latest models.Message
		res := tx.Where("proposal_id = ?", msg.ProposalID).
			Order("created_at DESC, id DESC").
			Limit(1).
			Find(&latest)
		if res.Error != nil {
			return res.Error
		}

		createdAt := now.UTC().Truncate(time.Microsecond)
		if res.RowsAffected == 1 && latest.CreatedAt.After(createdAt) {
			createdAt = latest.CreatedAt.UTC()
		}
		msg.CreatedAt = createdAt
		return tx.Create(msg).Error
	})
}

// List returns messages ascending by (created_at, id) starting after the cursor.
// The second return value is set when more rows exist.
func (r *Repository) List(ctx context.Context, params listMessagesParams) ([]models.Message, *pagination.Cursor, error) {
	var rows []models.Message
	err := r.db.WithContext(ctx).
		Where("proposal_id = ?", params.ProposalID).
		Scopes(pagination.Scope(params.After, pagination.OldestFirst, params.Limit)).
		Find(&rows).Error
	if err != nil {
		return nil, nil, err
	}
	page, next := pagination.Split(rows, params.Limit, messageCursor)
	return page, next, nil
}

func messageCursor(m models.Message) pagination.Cursor {
	return pagination.Cursor{CreatedAt: m.CreatedAt, ID: m.ID}
}

// FindByID loads a message or returns gorm.ErrRecordNotFound.
func (r *Repository) FindByID(ctx context.Context, messageID uuid.UUID) (*models.Message, error) {
	var msg models.Message
	if err := r.db.WithContext(ctx).Where("id = ?", messageID).First(&msg).Error; err != nil {
		return nil, err
	}
	return &msg, nil
}

// Delete removes a message. Reports whether a row existed.
func (r *Repository) Delete(ctx context.Context, messageID uuid.UUID) (bool, error) {
	result := r.db.WithContext(ctx).Where("id = ?", messageID).Delete(&models.Message{})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
