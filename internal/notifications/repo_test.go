package notifications

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/pricecircle-backend/pkg/db/dbtest"
	"github.com/angelmondragon/pricecircle-backend/pkg/db/models"
	"github.com/angelmondragon/pricecircle-backend/pkg/enums"
)

func notificationRow(userID, groupID, eventID uuid.UUID, createdAt time.Time) models.Notification {
	return models.Notification{
		UserID:    userID,
		GroupID:   groupID,
		EventID:   &eventID,
		Type:      enums.NotificationTypeProposalApproved,
		Title:     "Proposal approved",
		Message:   "approved",
		CreatedAt: createdAt,
	}
}

func TestRepositoryCreateBatchSkipsDuplicates(t *testing.T) {
	repo := NewRepository(dbtest.Open(t))
	ctx := context.Background()
	userA, userB, groupID, eventID := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	now := time.Now().UTC()

	created, err := repo.CreateBatch(ctx, []models.Notification{
		notificationRow(userA, groupID, eventID, now),
		notificationRow(userB, groupID, eventID, now),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), created)

	created, err = repo.CreateBatch(ctx, []models.Notification{
		notificationRow(userA, groupID, eventID, now),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), created)

	created, err = repo.CreateBatch(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, created)
}

func TestRepositoryListPagesNewestFirst(t *testing.T) {
	repo := NewRepository(dbtest.Open(t))
	ctx := context.Background()
	userID, groupID := uuid.New(), uuid.New()
	base := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)

	var rows []models.Notification
	for i := 0; i < 5; i++ {
		rows = append(rows, notificationRow(userID, groupID, uuid.New(), base.Add(time.Duration(i)*time.Minute)))
	}
	rows = append(rows, notificationRow(uuid.New(), groupID, uuid.New(), base))
	_, err := repo.CreateBatch(ctx, rows)
	require.NoError(t, err)

	var seen []models.Notification
	q := Query{UserID: userID, Limit: 2}
	for i := 0; i < 5; i++ {
		page, next, err := repo.List(ctx, q)
		require.NoError(t, err)
		seen = append(seen, page...)
		if next == nil {
			break
		}
		q.After = next
	}
	require.Len(t, seen, 5)
	for i := 1; i < len(seen); i++ {
		assert.True(t, seen[i].CreatedAt.Before(seen[i-1].CreatedAt))
	}
}

func TestRepositoryMarkRead(t *testing.T) {
	repo := NewRepository(dbtest.Open(t))
	ctx := context.Background()
	userID := uuid.New()
	_, err := repo.CreateBatch(ctx, []models.Notification{
		notificationRow(userID, uuid.New(), uuid.New(), time.Now().UTC()),
		notificationRow(userID, uuid.New(), uuid.New(), time.Now().UTC()),
	})
	require.NoError(t, err)

	page, _, err := repo.List(ctx, Query{UserID: userID})
	require.NoError(t, err)
	require.Len(t, page, 2)

	found, err := repo.MarkRead(ctx, userID, page[0].ID, time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, found)

	// a second read is still found and keeps the first timestamp
	found, err = repo.MarkRead(ctx, userID, page[0].ID, time.Now().Add(time.Hour).UTC())
	require.NoError(t, err)
	assert.True(t, found)

	found, err = repo.MarkRead(ctx, uuid.New(), page[0].ID, time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, found)

	unread, _, err := repo.List(ctx, Query{UserID: userID, UnreadOnly: true})
	require.NoError(t, err)
	assert.Len(t, unread, 1)

	n, err := repo.CountUnread(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	count, err := repo.MarkAllRead(ctx, userID, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	n, err = repo.CountUnread(ctx, userID)
	require.NoError(t, err)
	assert.Zero(t, n)
}
