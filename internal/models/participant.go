package models

import (
	"strings"
	"time"
)

// ContactInfo is what a person supplies when booking, joining or being invited.
type ContactInfo struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	RiderType string `json:"rider_type"`
}

// Normalize trims fields, lower-cases the email and defaults the rider type.
func (c ContactInfo) Normalize() ContactInfo {
	c.FirstName = strings.TrimSpace(c.FirstName)
	c.LastName = strings.TrimSpace(c.LastName)
	c.Email = NormalizeEmail(c.Email)
	c.Phone = strings.TrimSpace(c.Phone)
	c.RiderType = strings.ToLower(strings.TrimSpace(c.RiderType))
	if c.RiderType == "" {
		c.RiderType = RiderPilot
	}
	return c
}

// Participant is one member of a booking's group.
type Participant struct {
	ID               string     `json:"id"`
	TenantID         string     `json:"tenant_id"`
	BookingID        string     `json:"booking_id"`
	UserID           string     `json:"user_id,omitempty"`
	FirstName        string     `json:"first_name"`
	LastName         string     `json:"last_name"`
	Email            string     `json:"email"`
	Phone            string     `json:"phone"`
	Role             string     `json:"role"`       // organizer, member
	RiderType        string     `json:"rider_type"` // pilot, passenger
	InvitationToken  string     `json:"-"`
	InvitationSentAt *time.Time `json:"invitation_sent_at,omitempty"`
	AccountCreated   bool       `json:"account_created"`
	JoinedAt         *time.Time `json:"joined_at,omitempty"`
	AddedBy          string     `json:"added_by"`
	AddedByUserID    string     `json:"added_by_user_id,omitempty"`
	StripeSessionID  string     `json:"-"`
	CreatedAt        time.Time  `json:"created_at"`
}

// FullName returns "First Last" without stray spaces.
func (p *Participant) FullName() string {
	return joinName(p.FirstName, p.LastName)
}

func (p *Participant) IsOrganizer() bool {
	return p.Role == RoleOrganizer
}

func (p *Participant) IsPilot() bool {
	return p.RiderType == RiderPilot
}

// HasAccount reports whether the participant completed registration.
func (p *Participant) HasAccount() bool {
	return p.AccountCreated && p.UserID != ""
}

// GroupStats summarises a booking's participants.
type GroupStats struct {
	Pilots          int `json:"total_pilots"`
	Passengers      int `json:"total_passengers"`
	TotalPeople     int `json:"total_people"`
	AccountsCreated int `json:"accounts_created"`
}

// ComputeGroupStats counts riders and registered accounts.
func ComputeGroupStats(participants []*Participant) GroupStats {
	var stats GroupStats
	for _, p := range participants {
		if p.IsPilot() {
			stats.Pilots++
		} else {
			stats.Passengers++
		}
		if p.AccountCreated {
			stats.AccountsCreated++
		}
	}
	stats.TotalPeople = stats.Pilots + stats.Passengers
	return stats
}

// NormalizeEmail trims and lower-cases an address for comparisons and storage.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func joinName(first, last string) string {
	return strings.TrimSpace(strings.TrimSpace(first) + " " + strings.TrimSpace(last))
}
