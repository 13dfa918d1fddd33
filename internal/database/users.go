package database

import (
	"context"
	"fmt"
	"time"

	"roadbook/internal/domain"
	"roadbook/internal/models"
)

const userColumns = `id, tenant_id, email, first_name, last_name, phone, password_hash,
	role, is_active, email_verified, created_at, updated_at`

func insertUser(ctx context.Context, ex execer, user *models.User) error {
	query := `INSERT INTO users (` + userColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	now := time.Now().UTC()
	if user.Role == "" {
		user.Role = models.UserRoleCustomer
	}
	user.Email = models.NormalizeEmail(user.Email)
	_, err := ex.ExecContext(ctx, query,
		user.ID,
		user.TenantID,
		user.Email,
		user.FirstName,
		user.LastName,
		user.Phone,
		user.PasswordHash,
		user.Role,
		user.IsActive,
		user.EmailVerified,
		now,
		now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("user %s: %w", user.Email, domain.ErrDuplicateEmail)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	user.CreatedAt = now
	user.UpdatedAt = now
	return nil
}

func updateUser(ctx context.Context, ex execer, user *models.User) error {
	query := `UPDATE users SET first_name = ?, last_name = ?, phone = ?, password_hash = ?,
                is_active = ?, email_verified = ?, updated_at = ?
              WHERE tenant_id = ? AND id = ?`
	now := time.Now().UTC()
	result, err := ex.ExecContext(ctx, query,
		user.FirstName, user.LastName, user.Phone, user.PasswordHash,
		user.IsActive, user.EmailVerified, now, user.TenantID, user.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("user %s: %w", user.ID, domain.ErrNotFound)
	}
	user.UpdatedAt = now
	return nil
}

func (db *DB) GetUserByEmail(ctx context.Context, tenantID, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE tenant_id = ? AND email = ?`
	return queryUser(ctx, db, query, tenantID, models.NormalizeEmail(email))
}

func queryUser(ctx context.Context, ex execer, query string, args ...interface{}) (*models.User, error) {
	var user models.User
	err := ex.QueryRowContext(ctx, query, args...).Scan(
		&user.ID, &user.TenantID, &user.Email, &user.FirstName, &user.LastName, &user.Phone,
		&user.PasswordHash, &user.Role, &user.IsActive, &user.EmailVerified, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err, "user")
	}
	return &user, nil
}

// activateOrCreateUser finds the tenant's user by email and activates it,
// or creates an active one. user.ID is set to the stored id.
func activateOrCreateUser(ctx context.Context, ex execer, user *models.User) error {
	existing, err := queryUser(ctx, ex, `SELECT `+userColumns+` FROM users WHERE tenant_id = ? AND email = ?`,
		user.TenantID, models.NormalizeEmail(user.Email))
	switch {
	case err == nil:
		query := `UPDATE users SET is_active = 1, updated_at = ? WHERE id = ?`
		if _, err := ex.ExecContext(ctx, query, time.Now().UTC(), existing.ID); err != nil {
			return fmt.Errorf("failed to activate user: %w", err)
		}
		existing.IsActive = true
		*user = *existing
		return nil
	case isNotFound(err):
		user.IsActive = true
		return insertUser(ctx, ex, user)
	default:
		return err
	}
}
