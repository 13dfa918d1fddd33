package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"roadbook/internal/domain"

	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// DB is the document store backed by SQLite.
type DB struct {
	*sql.DB
	logger *zerolog.Logger
}

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	inMemory := path == ":memory:" || strings.Contains(path, "mode=memory")
	if !inMemory {
		// Создаем директорию для БД, если её нет
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Одна in-memory база существует только в рамках одного соединения
	if inMemory {
		sqlDB.SetMaxOpenConns(1)
	}

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db := &DB{DB: sqlDB, logger: logger}
	if err := db.createTables(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	if err := db.ensureBookingForceRevealColumn(); err != nil {
		sqlDB.Close()
		return nil, err
	}

	logger.Info().Str("path", path).Msg("Database initialized")
	return db, nil
}

// dsn enables immediate write transactions so count-and-append sequences
// serialize on the write lock instead of failing on upgrade.
func dsn(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_busy_timeout=5000&_txlock=immediate&_foreign_keys=on"
}

func (db *DB) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
            id TEXT PRIMARY KEY,
            tenant_id TEXT NOT NULL,
            email TEXT NOT NULL,
            first_name TEXT NOT NULL DEFAULT '',
            last_name TEXT NOT NULL DEFAULT '',
            phone TEXT NOT NULL DEFAULT '',
            password_hash TEXT NOT NULL DEFAULT '',
            role TEXT NOT NULL DEFAULT 'customer',
            is_active BOOLEAN NOT NULL DEFAULT 0,
            email_verified BOOLEAN NOT NULL DEFAULT 0,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL,
            UNIQUE (tenant_id, email)
        )`,
		`CREATE TABLE IF NOT EXISTS bookings (
            id TEXT PRIMARY KEY,
            tenant_id TEXT NOT NULL,
            access_token TEXT NOT NULL UNIQUE,
            trip_template_id TEXT NOT NULL DEFAULT '',
            trip_slug TEXT NOT NULL DEFAULT '',
            trip_title TEXT NOT NULL DEFAULT '',
            organizer_user_id TEXT NOT NULL DEFAULT '',
            start_date DATETIME,
            end_date DATETIME,
            total_participants INTEGER NOT NULL,
            current_participants INTEGER NOT NULL DEFAULT 0,
            total_amount INTEGER NOT NULL DEFAULT 0,
            deposit_amount INTEGER NOT NULL DEFAULT 0,
            required_deposit INTEGER NOT NULL DEFAULT 0,
            remaining_amount INTEGER NOT NULL DEFAULT 0,
            unit_price INTEGER NOT NULL DEFAULT 0,
            checkout_quantity INTEGER NOT NULL DEFAULT 0,
            currency TEXT NOT NULL DEFAULT '',
            payment_status TEXT NOT NULL DEFAULT 'pending',
            status TEXT NOT NULL DEFAULT 'pending',
            booking_type TEXT NOT NULL DEFAULT '',
            payment_mode TEXT NOT NULL DEFAULT '',
            stripe_session_id TEXT NOT NULL DEFAULT '',
            stripe_payment_intent_id TEXT NOT NULL DEFAULT '',
            join_code TEXT,
            leader_details TEXT NOT NULL DEFAULT '{}',
            trip_snapshot TEXT,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL,
            version INTEGER NOT NULL DEFAULT 1,
            CHECK (current_participants <= total_participants),
            CHECK (deposit_amount + remaining_amount = total_amount)
        )`,
		`CREATE TABLE IF NOT EXISTS participants (
            id TEXT PRIMARY KEY,
            tenant_id TEXT NOT NULL,
            booking_id TEXT NOT NULL REFERENCES bookings(id),
            user_id TEXT NOT NULL DEFAULT '',
            first_name TEXT NOT NULL DEFAULT '',
            last_name TEXT NOT NULL DEFAULT '',
            email TEXT NOT NULL,
            phone TEXT NOT NULL DEFAULT '',
            role TEXT NOT NULL,
            rider_type TEXT NOT NULL DEFAULT 'pilot',
            invitation_token TEXT NOT NULL UNIQUE,
            invitation_sent_at DATETIME,
            account_created BOOLEAN NOT NULL DEFAULT 0,
            joined_at DATETIME,
            added_by TEXT NOT NULL DEFAULT 'self',
            added_by_user_id TEXT NOT NULL DEFAULT '',
            stripe_session_id TEXT,
            created_at DATETIME NOT NULL,
            UNIQUE (booking_id, email)
        )`,
		`CREATE TABLE IF NOT EXISTS published_trips (
            tenant_id TEXT NOT NULL,
            slug TEXT NOT NULL,
            title TEXT NOT NULL DEFAULT '',
            original_trip_id TEXT NOT NULL DEFAULT '',
            price_per_person INTEGER NOT NULL DEFAULT 0,
            currency TEXT NOT NULL DEFAULT '',
            deposit_type TEXT NOT NULL DEFAULT '',
            deposit_value INTEGER NOT NULL DEFAULT 0,
            start_date DATETIME,
            end_date DATETIME,
            is_active BOOLEAN NOT NULL DEFAULT 1,
            itinerary TEXT,
            updated_at DATETIME NOT NULL,
            PRIMARY KEY (tenant_id, slug)
        )`,
		`CREATE TABLE IF NOT EXISTS trips (
            tenant_id TEXT NOT NULL,
            owner_user_id TEXT NOT NULL,
            trip_id TEXT NOT NULL,
            itinerary TEXT,
            updated_at DATETIME NOT NULL,
            PRIMARY KEY (tenant_id, owner_user_id, trip_id)
        )`,
		`CREATE TABLE IF NOT EXISTS hotels (
            tenant_id TEXT NOT NULL,
            hotel_id TEXT NOT NULL,
            owner_user_id TEXT NOT NULL DEFAULT '',
            data TEXT NOT NULL,
            PRIMARY KEY (tenant_id, hotel_id)
        )`,
		`CREATE TABLE IF NOT EXISTS pois (
            tenant_id TEXT NOT NULL,
            poi_id TEXT NOT NULL,
            data TEXT NOT NULL,
            PRIMARY KEY (tenant_id, poi_id)
        )`,
		`CREATE TABLE IF NOT EXISTS processed_events (
            event_id TEXT PRIMARY KEY,
            type TEXT NOT NULL,
            booking_id TEXT NOT NULL DEFAULT '',
            outcome TEXT NOT NULL DEFAULT '',
            processed_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS notifications (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            tenant_id TEXT NOT NULL,
            template TEXT NOT NULL,
            recipient TEXT NOT NULL,
            booking_id TEXT NOT NULL,
            participant_id TEXT NOT NULL DEFAULT '',
            token TEXT NOT NULL DEFAULT '',
            status TEXT NOT NULL DEFAULT 'pending',
            retry_count INTEGER NOT NULL DEFAULT 0,
            last_error TEXT,
            created_at DATETIME NOT NULL,
            processed_at DATETIME,
            next_retry_at DATETIME
        )`,

		`CREATE INDEX IF NOT EXISTS idx_bookings_tenant ON bookings(tenant_id, created_at)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_bookings_join_code ON bookings(tenant_id, join_code) WHERE join_code IS NOT NULL`,
		`CREATE INDEX IF NOT EXISTS idx_participants_booking ON participants(booking_id, created_at)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_participants_session ON participants(booking_id, stripe_session_id) WHERE stripe_session_id IS NOT NULL`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_status ON notifications(status, next_retry_at)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

// ensureBookingForceRevealColumn добавляет колонку в базы, созданные до её появления.
func (db *DB) ensureBookingForceRevealColumn() error {
	_, err := db.Exec(`ALTER TABLE bookings ADD COLUMN force_reveal BOOLEAN NOT NULL DEFAULT 0`)
	if err != nil && !strings.Contains(err.Error(), "duplicate column") {
		return fmt.Errorf("failed to add force_reveal column: %w", err)
	}
	return nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, domain.ErrNotFound)
	}
	return fmt.Errorf("failed to get %s: %w", what, err)
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func marshalJSON(v interface{}) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}

var _ domain.Repository = (*DB)(nil)
