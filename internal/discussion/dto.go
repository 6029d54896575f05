package discussion

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/pricecircle-backend/pkg/db/models"
)

// MessageDTO is the transport shape of a message, used on the wire between
// processes as well as in API responses.
type MessageDTO struct {
	ID         uuid.UUID `json:"id"`
	ProposalID uuid.UUID `json:"proposal_id"`
	AuthorID   uuid.UUID `json:"author_id"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}

// MessagePage is one page of history plus the cursor for the next page.
type MessagePage struct {
	Items  []MessageDTO `json:"items"`
	Cursor string       `json:"cursor"`
}

// ToDTO converts a model to the external DTO.
func ToDTO(m *models.Message) *MessageDTO {
	if m == nil {
		return nil
	}
	return &MessageDTO{
		ID:         m.ID,
		ProposalID: m.ProposalID,
		AuthorID:   m.AuthorID,
		Content:    m.Content,
		CreatedAt:  m.CreatedAt,
	}
}

// ToDTOs converts a slice of models.
func ToDTOs(rows []models.Message) []MessageDTO {
	out := make([]MessageDTO, 0, len(rows))
	for i := range rows {
		out = append(out, *ToDTO(&rows[i]))
	}
	return out
}
