package notifications

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/pricecircle-backend/pkg/db/models"
	"github.com/angelmondragon/pricecircle-backend/pkg/enums"
)

// NotificationDTO is the transport shape of a notification.
type NotificationDTO struct {
	ID         uuid.UUID              `json:"id"`
	GroupID    uuid.UUID              `json:"group_id"`
	ProposalID *uuid.UUID             `json:"proposal_id,omitempty"`
	Type       enums.NotificationType `json:"type"`
	Title      string                 `json:"title"`
	Message    string                 `json:"message"`
	ReadAt     *time.Time             `json:"read_at,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}

func ToDTOs(rows []models.Notification) []NotificationDTO {
	out := make([]NotificationDTO, 0, len(rows))
	for _, n := range rows {
		out = append(out, NotificationDTO{
			ID:         n.ID,
			GroupID:    n.GroupID,
			ProposalID: n.ProposalID,
			Type:       n.Type,
			Title:      n.Title,
			Message:    n.Message,
			ReadAt:     n.ReadAt,
			CreatedAt:  n.CreatedAt,
		})
	}
	return out
}
