package database

import (
	"context"
	"fmt"
	"time"

	"roadbook/internal/models"
)

func insertNotification(ctx context.Context, ex execer, n *models.Notification) error {
	query := `INSERT INTO notifications (tenant_id, template, recipient, booking_id, participant_id, token,
                status, retry_count, last_error, created_at, next_retry_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	now := time.Now().UTC()
	if n.Status == "" {
		n.Status = models.NotificationPending
	}
	n.NextRetryAt = utcPtr(n.NextRetryAt)
	result, err := ex.ExecContext(ctx, query,
		n.TenantID,
		n.Template,
		n.Recipient,
		n.BookingID,
		n.ParticipantID,
		n.Token,
		n.Status,
		n.RetryCount,
		n.LastError,
		now,
		n.NextRetryAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	n.ID = id
	n.CreatedAt = now
	return nil
}

func (db *DB) EnqueueNotification(ctx context.Context, n *models.Notification) error {
	return insertNotification(ctx, db, n)
}

func (db *DB) GetPendingNotifications(ctx context.Context, limit int) ([]*models.Notification, error) {
	query := `SELECT id, tenant_id, template, recipient, booking_id, participant_id, token, status,
                retry_count, last_error, created_at, processed_at, next_retry_at
              FROM notifications
              WHERE status IN (?, ?) AND (next_retry_at IS NULL OR next_retry_at <= ?)
              ORDER BY created_at ASC, id ASC LIMIT ?`
	rows, err := db.QueryContext(ctx, query,
		models.NotificationPending, models.NotificationRetrying, time.Now().UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending notifications: %w", err)
	}
	defer rows.Close()

	var notifications []*models.Notification
	for rows.Next() {
		var n models.Notification
		err := rows.Scan(
			&n.ID, &n.TenantID, &n.Template, &n.Recipient, &n.BookingID, &n.ParticipantID, &n.Token, &n.Status,
			&n.RetryCount, &n.LastError, &n.CreatedAt, &n.ProcessedAt, &n.NextRetryAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		notifications = append(notifications, &n)
	}
	return notifications, rows.Err()
}

func (db *DB) UpdateNotificationStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error {
	var query string
	var args []interface{}
	now := time.Now().UTC()

	var lastErr *string
	if errMsg != "" {
		lastErr = &errMsg
	}
	// время хранится строкой, сравнение корректно только в UTC
	nextRetryAt = utcPtr(nextRetryAt)

	switch status {
	case models.NotificationRetrying:
		query = `UPDATE notifications SET status = ?, last_error = ?, next_retry_at = ?, retry_count = retry_count + 1 WHERE id = ?`
		args = []interface{}{status, lastErr, nextRetryAt, id}
	case models.NotificationSent, models.NotificationFailed:
		query = `UPDATE notifications SET status = ?, last_error = ?, next_retry_at = NULL, processed_at = ? WHERE id = ?`
		args = []interface{}{status, lastErr, now, id}
	default:
		query = `UPDATE notifications SET status = ?, last_error = ?, next_retry_at = ? WHERE id = ?`
		args = []interface{}{status, lastErr, nextRetryAt, id}
	}

	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update notification status: %w", err)
	}
	return nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
