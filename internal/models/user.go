package models

import "time"

type User struct {
	ID            string    `json:"id"`
	TenantID      string    `json:"tenant_id"`
	Email         string    `json:"email"`
	FirstName     string    `json:"first_name"`
	LastName      string    `json:"last_name"`
	Phone         string    `json:"phone"`
	PasswordHash  string    `json:"-"`
	Role          string    `json:"role"`      // customer, admin
	IsActive      bool      `json:"is_active"` // false until payment or registration
	EmailVerified bool      `json:"email_verified"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (u *User) FullName() string {
	return joinName(u.FirstName, u.LastName)
}

// HasPassword reports whether the account finished registration.
func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}

// Actor identifies who performs a membership operation.
type Actor struct {
	UserID   string
	TenantID string
	Role     string
}

func (a Actor) IsAdmin() bool {
	return a.Role == UserRoleAdmin
}

// CanManage reports whether the actor may add or remove participants of a booking.
func (a Actor) CanManage(b *Booking) bool {
	if a.TenantID != b.TenantID {
		return false
	}
	if a.IsAdmin() {
		return true
	}
	return a.UserID != "" && a.UserID == b.OrganizerUserID
}
