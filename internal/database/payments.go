package database

import (
	"context"
	"fmt"
	"time"

	"roadbook/internal/domain"
	"roadbook/internal/models"
)

func insertProcessedEvent(ctx context.Context, ex execer, ev models.ProcessedEvent) error {
	if ev.ProcessedAt.IsZero() {
		ev.ProcessedAt = time.Now().UTC()
	}
	query := `INSERT INTO processed_events (event_id, type, booking_id, outcome, processed_at) VALUES (?, ?, ?, ?, ?)`
	_, err := ex.ExecContext(ctx, query, ev.EventID, ev.Type, ev.BookingID, ev.Outcome, ev.ProcessedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("event %s: %w", ev.EventID, domain.ErrDuplicateEvent)
		}
		return fmt.Errorf("failed to record processed event: %w", err)
	}
	return nil
}

// RecordProcessedEvent marks an event as handled without changing any booking.
func (db *DB) RecordProcessedEvent(ctx context.Context, ev models.ProcessedEvent) error {
	return insertProcessedEvent(ctx, db, ev)
}

func (db *DB) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM processed_events WHERE event_id = ?`, eventID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check processed event: %w", err)
	}
	return count > 0, nil
}

// ApplyPaymentTransition commits everything one payment event changes:
// the ledger entry, the organizer account, a joining participant, the booking
// row (guarded by its version) and queued notifications.
func (db *DB) ApplyPaymentTransition(ctx context.Context, t *models.PaymentTransition) error {
	b := t.Booking
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := insertProcessedEvent(ctx, tx, t.Event); err != nil {
		return err
	}

	now := time.Now().UTC()

	if t.Organizer != nil {
		t.Organizer.TenantID = b.TenantID
		if err := activateOrCreateUser(ctx, tx, t.Organizer); err != nil {
			return err
		}
		if b.OrganizerUserID == "" {
			b.OrganizerUserID = t.Organizer.ID
		}
		query := `UPDATE participants SET user_id = ? WHERE booking_id = ? AND role = ? AND user_id = ''`
		if _, err := tx.ExecContext(ctx, query, b.OrganizerUserID, b.ID, models.RoleOrganizer); err != nil {
			return fmt.Errorf("failed to link organizer participant: %w", err)
		}
	}

	if t.Joiner != nil {
		t.Joiner.BookingID = b.ID
		t.Joiner.TenantID = b.TenantID
		if err := checkSessionJoined(ctx, tx, b.ID, t.Joiner.StripeSessionID); err != nil {
			return err
		}
		if err := checkSeat(ctx, tx, b.TenantID, b.ID, t.Joiner.Email); err != nil {
			return err
		}
		if err := insertParticipant(ctx, tx, t.Joiner); err != nil {
			return err
		}
	}

	query := `UPDATE bookings SET
                status = ?, payment_status = ?, deposit_amount = ?, required_deposit = ?,
                remaining_amount = ?, stripe_payment_intent_id = ?, organizer_user_id = ?,
                current_participants = (SELECT COUNT(*) FROM participants WHERE booking_id = ?),
                version = version + 1, updated_at = ?
              WHERE id = ? AND version = ?`
	result, err := tx.ExecContext(ctx, query,
		b.Status,
		b.PaymentStatus,
		b.DepositAmount,
		b.RequiredDeposit,
		b.RemainingAmount,
		b.StripePaymentIntentID,
		b.OrganizerUserID,
		b.ID,
		now,
		b.ID,
		b.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to apply payment transition: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrConcurrentModification
	}

	for _, n := range t.Notifications {
		if n.ParticipantID == "" && t.Joiner != nil && n.Template == models.TemplateJoinConfirmation {
			n.ParticipantID = t.Joiner.ID
		}
		if err := insertNotification(ctx, tx, n); err != nil {
			return err
		}
	}

	var current int
	if err := tx.QueryRowContext(ctx, `SELECT current_participants FROM bookings WHERE id = ?`, b.ID).Scan(&current); err != nil {
		return fmt.Errorf("failed to read participant count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit payment transition: %w", err)
	}

	b.CurrentParticipants = current
	b.Version++
	b.UpdatedAt = now
	return nil
}

// GetBookingBySession finds the booking a provider session was created for.
func (db *DB) GetBookingBySession(ctx context.Context, sessionID string) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE stripe_session_id = ?`
	b, err := scanBooking(db.QueryRowContext(ctx, query, sessionID))
	if err != nil {
		return nil, notFound(err, "booking")
	}
	return b, nil
}
