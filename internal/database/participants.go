package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"roadbook/internal/domain"
	"roadbook/internal/models"
)

const participantColumns = `id, tenant_id, booking_id, user_id, first_name, last_name, email, phone,
	role, rider_type, invitation_token, invitation_sent_at, account_created, joined_at,
	added_by, added_by_user_id, stripe_session_id, created_at`

func scanParticipant(row scanner) (*models.Participant, error) {
	var (
		p       models.Participant
		session sql.NullString
	)
	err := row.Scan(
		&p.ID, &p.TenantID, &p.BookingID, &p.UserID, &p.FirstName, &p.LastName, &p.Email, &p.Phone,
		&p.Role, &p.RiderType, &p.InvitationToken, &p.InvitationSentAt, &p.AccountCreated, &p.JoinedAt,
		&p.AddedBy, &p.AddedByUserID, &session, &p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.StripeSessionID = session.String
	return &p, nil
}

func insertParticipant(ctx context.Context, ex execer, p *models.Participant) error {
	query := `INSERT INTO participants (` + participantColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := ex.ExecContext(ctx, query,
		p.ID,
		p.TenantID,
		p.BookingID,
		p.UserID,
		p.FirstName,
		p.LastName,
		models.NormalizeEmail(p.Email),
		p.Phone,
		p.Role,
		p.RiderType,
		p.InvitationToken,
		p.InvitationSentAt,
		p.AccountCreated,
		p.JoinedAt,
		p.AddedBy,
		p.AddedByUserID,
		nullString(p.StripeSessionID),
		p.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			if p.StripeSessionID != "" && strings.Contains(err.Error(), "stripe_session_id") {
				return fmt.Errorf("joiner of session %s: %w", p.StripeSessionID, domain.ErrDuplicateEvent)
			}
			return fmt.Errorf("participant %s: %w", p.Email, domain.ErrDuplicateEmail)
		}
		return fmt.Errorf("failed to insert participant: %w", err)
	}
	return nil
}

// checkSeat verifies inside tx that one more participant with email fits the booking.
func checkSeat(ctx context.Context, tx *sql.Tx, tenantID, bookingID, email string) error {
	var total, current, sameEmail int
	query := `SELECT b.total_participants,
                     (SELECT COUNT(*) FROM participants WHERE booking_id = b.id),
                     (SELECT COUNT(*) FROM participants WHERE booking_id = b.id AND email = ?)
              FROM bookings b WHERE b.tenant_id = ? AND b.id = ?`
	err := tx.QueryRowContext(ctx, query, models.NormalizeEmail(email), tenantID, bookingID).Scan(&total, &current, &sameEmail)
	if err != nil {
		return notFound(err, "booking")
	}
	if current >= total {
		return fmt.Errorf("booking %s has %d/%d participants: %w", bookingID, current, total, domain.ErrBookingFull)
	}
	if sameEmail > 0 {
		return fmt.Errorf("participant %s: %w", email, domain.ErrDuplicateEmail)
	}
	return nil
}

// checkSessionJoined reports ErrDuplicateEvent when a provider session already produced a participant.
func checkSessionJoined(ctx context.Context, tx *sql.Tx, bookingID, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	var n int
	query := `SELECT COUNT(*) FROM participants WHERE booking_id = ? AND stripe_session_id = ?`
	if err := tx.QueryRowContext(ctx, query, bookingID, sessionID).Scan(&n); err != nil {
		return fmt.Errorf("failed to check session participant: %w", err)
	}
	if n > 0 {
		return fmt.Errorf("session %s already joined booking %s: %w", sessionID, bookingID, domain.ErrDuplicateEvent)
	}
	return nil
}

// AddParticipant appends a member and recounts the booking in one transaction.
// The optional notification is queued in the same transaction.
func (db *DB) AddParticipant(ctx context.Context, p *models.Participant, n *models.Notification) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := checkSeat(ctx, tx, p.TenantID, p.BookingID, p.Email); err != nil {
		return err
	}
	if err := insertParticipant(ctx, tx, p); err != nil {
		return err
	}
	now := time.Now().UTC()
	if err := recountParticipants(ctx, tx, p.BookingID, now); err != nil {
		return err
	}
	if n != nil {
		n.ParticipantID = p.ID
		if err := insertNotification(ctx, tx, n); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// RemoveParticipant deletes a member. The organizer can never be removed.
func (db *DB) RemoveParticipant(ctx context.Context, tenantID, bookingID, participantID string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var role string
	query := `SELECT role FROM participants WHERE tenant_id = ? AND booking_id = ? AND id = ?`
	if err := tx.QueryRowContext(ctx, query, tenantID, bookingID, participantID).Scan(&role); err != nil {
		return notFound(err, "participant")
	}
	if role == models.RoleOrganizer {
		return fmt.Errorf("participant %s: %w", participantID, domain.ErrCannotRemoveOrganizer)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM participants WHERE id = ?`, participantID); err != nil {
		return fmt.Errorf("failed to delete participant: %w", err)
	}
	if err := recountParticipants(ctx, tx, bookingID, time.Now().UTC()); err != nil {
		return err
	}

	return tx.Commit()
}

func (db *DB) GetParticipant(ctx context.Context, tenantID, bookingID, participantID string) (*models.Participant, error) {
	query := `SELECT ` + participantColumns + ` FROM participants WHERE tenant_id = ? AND booking_id = ? AND id = ?`
	p, err := scanParticipant(db.QueryRowContext(ctx, query, tenantID, bookingID, participantID))
	if err != nil {
		return nil, notFound(err, "participant")
	}
	return p, nil
}

func (db *DB) GetParticipantByInvitationToken(ctx context.Context, token string) (*models.Participant, error) {
	query := `SELECT ` + participantColumns + ` FROM participants WHERE invitation_token = ?`
	p, err := scanParticipant(db.QueryRowContext(ctx, query, token))
	if err != nil {
		return nil, notFound(err, "participant")
	}
	return p, nil
}

func (db *DB) GetOrganizerParticipant(ctx context.Context, tenantID, bookingID string) (*models.Participant, error) {
	query := `SELECT ` + participantColumns + ` FROM participants
              WHERE tenant_id = ? AND booking_id = ? AND role = ? LIMIT 1`
	p, err := scanParticipant(db.QueryRowContext(ctx, query, tenantID, bookingID, models.RoleOrganizer))
	if err != nil {
		return nil, notFound(err, "organizer participant")
	}
	return p, nil
}

func (db *DB) ListParticipants(ctx context.Context, tenantID, bookingID string) ([]*models.Participant, error) {
	query := `SELECT ` + participantColumns + ` FROM participants
              WHERE tenant_id = ? AND booking_id = ? ORDER BY created_at ASC, rowid ASC`
	rows, err := db.QueryContext(ctx, query, tenantID, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	defer rows.Close()

	var participants []*models.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		participants = append(participants, p)
	}
	return participants, rows.Err()
}

// MarkInvitationSent stamps invitation_sent_at once the email went out.
func (db *DB) MarkInvitationSent(ctx context.Context, participantID string, at time.Time) error {
	query := `UPDATE participants SET invitation_sent_at = ? WHERE id = ?`
	if _, err := db.ExecContext(ctx, query, at.UTC(), participantID); err != nil {
		return fmt.Errorf("failed to mark invitation sent: %w", err)
	}
	return nil
}

// RedeemParticipant links a participant to a user account exactly once.
// When createUser is false the existing user is activated and its password replaced.
func (db *DB) RedeemParticipant(ctx context.Context, p *models.Participant, user *models.User, createUser bool) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now().UTC()
	user.IsActive = true
	if createUser {
		if err := insertUser(ctx, tx, user); err != nil {
			return err
		}
	} else if err := updateUser(ctx, tx, user); err != nil {
		return err
	}

	query := `UPDATE participants SET user_id = ?, account_created = 1, joined_at = COALESCE(joined_at, ?)
              WHERE id = ? AND account_created = 0`
	result, err := tx.ExecContext(ctx, query, user.ID, now, p.ID)
	if err != nil {
		return fmt.Errorf("failed to redeem participant: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("participant %s: %w", p.ID, domain.ErrInvalidOrExpiredInvitation)
	}

	if p.Role == models.RoleOrganizer {
		query := `UPDATE bookings SET organizer_user_id = ?, version = version + 1, updated_at = ?
                  WHERE id = ? AND organizer_user_id IN ('', ?)`
		if _, err := tx.ExecContext(ctx, query, user.ID, now, p.BookingID, user.ID); err != nil {
			return fmt.Errorf("failed to link organizer: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit redemption: %w", err)
	}

	p.UserID = user.ID
	p.AccountCreated = true
	if p.JoinedAt == nil {
		p.JoinedAt = &now
	}
	return nil
}
