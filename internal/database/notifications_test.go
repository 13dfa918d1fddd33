package database

import (
	"context"
	"testing"
	"time"

	"roadbook/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotificationQueue(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	n := &models.Notification{
		TenantID:  "tenant-a",
		Template:  models.TemplateParticipantInvitation,
		Recipient: "a@example.com",
		BookingID: "b1",
		Token:     "tok",
	}
	require.NoError(t, db.EnqueueNotification(ctx, n))
	assert.NotZero(t, n.ID)
	assert.Equal(t, models.NotificationPending, n.Status)

	pending, err := db.GetPendingNotifications(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "tok", pending[0].Token)

	t.Run("retry in the future is not pending", func(t *testing.T) {
		next := time.Now().Add(time.Hour)
		require.NoError(t, db.UpdateNotificationStatus(ctx, n.ID, models.NotificationRetrying, "smtp down", &next))

		pending, err := db.GetPendingNotifications(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, pending)
	})

	t.Run("due retry is pending again", func(t *testing.T) {
		past := time.Now().Add(-time.Minute)
		require.NoError(t, db.UpdateNotificationStatus(ctx, n.ID, models.NotificationRetrying, "smtp down", &past))

		pending, err := db.GetPendingNotifications(ctx, 10)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, 2, pending[0].RetryCount)
		require.NotNil(t, pending[0].LastError)
		assert.Equal(t, "smtp down", *pending[0].LastError)
	})

	t.Run("sent is final", func(t *testing.T) {
		require.NoError(t, db.UpdateNotificationStatus(ctx, n.ID, models.NotificationSent, "", nil))

		pending, err := db.GetPendingNotifications(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, pending)
	})
}
