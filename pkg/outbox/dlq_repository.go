package outbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/pricecircle-backend/pkg/db/models"
	"github.com/angelmondragon/pricecircle-backend/pkg/enums"
)

const defaultDLQListLimit = 50

// DLQRepository stores proposal events the publisher gave up on and puts
// them back in the outbox on request.
type DLQRepository struct {
	db *gorm.DB
}

func NewDLQRepository(db *gorm.DB) *DLQRepository {
	return &DLQRepository{db: db}
}

func (r *DLQRepository) InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if entry.ErrorMessage != nil && len(*entry.ErrorMessage) > maxLastErrorLen {
		msg := (*entry.ErrorMessage)[:maxLastErrorLen]
		entry.ErrorMessage = &msg
	}
	return tx.Create(&entry).Error
}

// List returns the newest entries first, optionally filtered by reason.
func (r *DLQRepository) List(ctx context.Context, reason enums.OutboxDLQErrorReason, limit int) ([]models.OutboxDLQ, error) {
	if limit <= 0 {
		limit = defaultDLQListLimit
	}
	query := r.db.WithContext(ctx).Order("failed_at DESC").Limit(limit)
	if reason != "" {
		if !reason.IsValid() {
			return nil, fmt.Errorf("unknown dlq reason %q", reason)
		}
		query = query.Where("error_reason = ?", reason)
	}
	var rows []models.OutboxDLQ
	err := query.Find(&rows).Error
	return rows, err
}

// Redrive resets the source outbox rows of the given entries so the
// publisher picks them up again, and removes the entries. It returns how many
// events were requeued; entries whose event was already published are only
// removed.
func (r *DLQRepository) Redrive(ctx context.Context, ids []uuid.UUID) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	requeued := 0
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var entries []models.OutboxDLQ
		if err := tx.Where("id IN ?", ids).Find(&entries).Error; err != nil {
			return err
		}
		for _, entry := range entries {
			res := tx.Model(&models.OutboxEvent{}).
				Where("id = ? AND published_at IS NULL", entry.EventID).
				Updates(map[string]any{"attempt_count": 0, "last_error": nil})
			if res.Error != nil {
				return fmt.Errorf("requeue event %s: %w", entry.EventID, res.Error)
			}
			requeued += int(res.RowsAffected)
			if err := tx.Delete(&models.OutboxDLQ{}, "id = ?", entry.ID).Error; err != nil {
				return fmt.Errorf("remove dlq entry %s: %w", entry.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return requeued, nil
}
