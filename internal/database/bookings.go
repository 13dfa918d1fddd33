package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"roadbook/internal/domain"
	"roadbook/internal/models"
)

const bookingColumns = `id, tenant_id, access_token, trip_template_id, trip_slug, trip_title,
	organizer_user_id, start_date, end_date, total_participants, current_participants,
	total_amount, deposit_amount, required_deposit, remaining_amount, unit_price,
	checkout_quantity, currency, payment_status, status, booking_type, payment_mode,
	stripe_session_id, stripe_payment_intent_id, join_code, leader_details, trip_snapshot,
	force_reveal, created_at, updated_at, version`

func scanBooking(row scanner) (*models.Booking, error) {
	var (
		b        models.Booking
		joinCode sql.NullString
		leader   string
		snapshot sql.NullString
	)
	err := row.Scan(
		&b.ID, &b.TenantID, &b.AccessToken, &b.TripTemplateID, &b.TripSlug, &b.TripTitle,
		&b.OrganizerUserID, &b.StartDate, &b.EndDate, &b.TotalParticipants, &b.CurrentParticipants,
		&b.TotalAmount, &b.DepositAmount, &b.RequiredDeposit, &b.RemainingAmount, &b.UnitPrice,
		&b.CheckoutQuantity, &b.Currency, &b.PaymentStatus, &b.Status, &b.BookingType, &b.PaymentMode,
		&b.StripeSessionID, &b.StripePaymentIntentID, &joinCode, &leader, &snapshot,
		&b.ForceReveal, &b.CreatedAt, &b.UpdatedAt, &b.Version,
	)
	if err != nil {
		return nil, err
	}
	b.JoinCode = joinCode.String
	if leader != "" {
		if err := json.Unmarshal([]byte(leader), &b.LeaderDetails); err != nil {
			return nil, fmt.Errorf("failed to decode leader details of booking %s: %w", b.ID, err)
		}
	}
	if snapshot.Valid && snapshot.String != "" && snapshot.String != "null" {
		var it models.Itinerary
		if err := json.Unmarshal([]byte(snapshot.String), &it); err != nil {
			return nil, fmt.Errorf("failed to decode trip snapshot of booking %s: %w", b.ID, err)
		}
		b.TripSnapshot = &it
	}
	return &b, nil
}

// CreateBooking stores a new booking together with its organizer participant.
func (db *DB) CreateBooking(ctx context.Context, booking *models.Booking, organizer *models.Participant) error {
	leader, err := marshalJSON(booking.LeaderDetails)
	if err != nil {
		return fmt.Errorf("failed to encode leader details: %w", err)
	}
	var snapshot sql.NullString
	if booking.TripSnapshot != nil {
		if snapshot, err = marshalJSON(booking.TripSnapshot); err != nil {
			return fmt.Errorf("failed to encode trip snapshot: %w", err)
		}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now().UTC()
	current := 0
	if organizer != nil {
		current = 1
	}
	booking.JoinCode = strings.ToUpper(booking.JoinCode)
	if booking.RemainingAmount == 0 && booking.DepositAmount == 0 {
		booking.RemainingAmount = booking.TotalAmount
	}

	query := `INSERT INTO bookings (` + bookingColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = tx.ExecContext(ctx, query,
		booking.ID,
		booking.TenantID,
		booking.AccessToken,
		booking.TripTemplateID,
		booking.TripSlug,
		booking.TripTitle,
		booking.OrganizerUserID,
		booking.StartDate,
		booking.EndDate,
		booking.TotalParticipants,
		current,
		booking.TotalAmount,
		booking.DepositAmount,
		booking.RequiredDeposit,
		booking.RemainingAmount,
		booking.UnitPrice,
		booking.CheckoutQuantity,
		booking.Currency,
		booking.PaymentStatus,
		booking.Status,
		booking.BookingType,
		booking.PaymentMode,
		booking.StripeSessionID,
		booking.StripePaymentIntentID,
		nullString(booking.JoinCode),
		leader,
		snapshot,
		booking.ForceReveal,
		now,
		now,
		1,
	)
	if err != nil {
		if isUniqueViolation(err) && strings.Contains(err.Error(), "join_code") {
			return fmt.Errorf("join code %s: %w", booking.JoinCode, domain.ErrJoinCodeTaken)
		}
		return fmt.Errorf("failed to create booking: %w", err)
	}

	if organizer != nil {
		organizer.BookingID = booking.ID
		organizer.TenantID = booking.TenantID
		organizer.CreatedAt = now
		if err := insertParticipant(ctx, tx, organizer); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit booking: %w", err)
	}

	booking.CurrentParticipants = current
	booking.CreatedAt = now
	booking.UpdatedAt = now
	booking.Version = 1
	return nil
}

func (db *DB) GetBooking(ctx context.Context, tenantID, id string) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE tenant_id = ? AND id = ?`
	b, err := scanBooking(db.QueryRowContext(ctx, query, tenantID, id))
	if err != nil {
		return nil, notFound(err, "booking")
	}
	return b, nil
}

// GetBookingByAccessToken looks a booking up by its link token across tenants.
func (db *DB) GetBookingByAccessToken(ctx context.Context, token string) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE access_token = ?`
	b, err := scanBooking(db.QueryRowContext(ctx, query, token))
	if err != nil {
		return nil, notFound(err, "booking")
	}
	return b, nil
}

// GetBookingByJoinCode is case-insensitive.
func (db *DB) GetBookingByJoinCode(ctx context.Context, tenantID, code string) (*models.Booking, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, fmt.Errorf("booking: %w", domain.ErrNotFound)
	}
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE tenant_id = ? AND join_code = ?`
	b, err := scanBooking(db.QueryRowContext(ctx, query, tenantID, code))
	if err != nil {
		return nil, notFound(err, "booking")
	}
	return b, nil
}

func (db *DB) JoinCodeExists(ctx context.Context, tenantID, code string) (bool, error) {
	var count int
	query := `SELECT COUNT(*) FROM bookings WHERE tenant_id = ? AND join_code = ?`
	if err := db.QueryRowContext(ctx, query, tenantID, strings.ToUpper(code)).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check join code: %w", err)
	}
	return count > 0, nil
}

// SetCheckoutSession records the provider session created after the booking was written.
func (db *DB) SetCheckoutSession(ctx context.Context, tenantID, bookingID, sessionID string) error {
	query := `UPDATE bookings SET stripe_session_id = ?, version = version + 1, updated_at = ?
              WHERE tenant_id = ? AND id = ?`
	result, err := db.ExecContext(ctx, query, sessionID, time.Now().UTC(), tenantID, bookingID)
	if err != nil {
		return fmt.Errorf("failed to set checkout session: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("booking %s: %w", bookingID, domain.ErrNotFound)
	}
	return nil
}

func (db *DB) ListBookings(ctx context.Context, tenantID string) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE tenant_id = ? ORDER BY created_at DESC`
	rows, err := db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}
	defer rows.Close()

	var bookings []*models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

// SetForceReveal toggles the reveal override.
func (db *DB) SetForceReveal(ctx context.Context, tenantID, bookingID string, force bool) error {
	query := `UPDATE bookings SET force_reveal = ?, version = version + 1, updated_at = ? WHERE tenant_id = ? AND id = ?`
	result, err := db.ExecContext(ctx, query, force, time.Now().UTC(), tenantID, bookingID)
	if err != nil {
		return fmt.Errorf("failed to set force reveal: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("booking %s: %w", bookingID, domain.ErrNotFound)
	}
	return nil
}

// recountParticipants derives current_participants from the participant rows
// and bumps the version. It must run inside the transaction that changed them.
func recountParticipants(ctx context.Context, tx *sql.Tx, bookingID string, now time.Time) error {
	query := `UPDATE bookings
              SET current_participants = (SELECT COUNT(*) FROM participants WHERE booking_id = ?),
                  version = version + 1, updated_at = ?
              WHERE id = ?`
	if _, err := tx.ExecContext(ctx, query, bookingID, now, bookingID); err != nil {
		if strings.Contains(err.Error(), "CHECK constraint failed") {
			return fmt.Errorf("booking %s: %w", bookingID, domain.ErrBookingFull)
		}
		return fmt.Errorf("failed to recount participants: %w", err)
	}
	return nil
}
