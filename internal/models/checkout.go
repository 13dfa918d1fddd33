package models

import "time"

// CheckoutRequest is one of three request shapes selected by BookingType:
// individual, group_leader or join_group.
type CheckoutRequest struct {
	BookingType string      `json:"booking_type"`
	Contact     ContactInfo `json:"contact"`
	PartySize   int         `json:"party_size"`
	PaymentMode string      `json:"payment_mode,omitempty"`
	JoinCode    string      `json:"join_code,omitempty"`
	StartDate   *time.Time  `json:"start_date,omitempty"`
	EndDate     *time.Time  `json:"end_date,omitempty"`
}

type CheckoutResult struct {
	BookingID   string `json:"booking_id"`
	SessionID   string `json:"session_id"`
	CheckoutURL string `json:"checkout_url"`
	JoinCode    string `json:"join_code,omitempty"`
}

// Registration is what a participant submits to claim an account.
type Registration struct {
	Password  string `json:"password"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

// Redemption is the result of a successful invitation or access redemption.
type Redemption struct {
	User        *User
	Participant *Participant
	Booking     *Booking
	CreatedUser bool
}

// Email is one templated message for the mail collaborator.
type Email struct {
	To          string
	Template    string
	Booking     *Booking
	Participant *Participant
	Token       string
	BaseURL     string
}

// Content sources reported by the access resolver.
const (
	SourceSnapshot      = "snapshot"
	SourceInternalTrip  = "internal_trip"
	SourcePublishedTrip = "published_trip"
	SourceSlugRecovery  = "slug_recovery"
	SourceDegraded      = "degraded"
)

// BookingSummary is the part of a booking visible to any link holder.
type BookingSummary struct {
	ID                  string     `json:"id"`
	TripTitle           string     `json:"trip_title"`
	StartDate           *time.Time `json:"start_date,omitempty"`
	EndDate             *time.Time `json:"end_date,omitempty"`
	Status              string     `json:"status"`
	PaymentStatus       string     `json:"payment_status"`
	TotalParticipants   int        `json:"total_participants"`
	CurrentParticipants int        `json:"current_participants"`
	JoinCode            string     `json:"join_code,omitempty"`
}

// Summary builds the public metadata of the booking.
func (b *Booking) Summary() BookingSummary {
	return BookingSummary{
		ID:                  b.ID,
		TripTitle:           b.TripTitle,
		StartDate:           b.StartDate,
		EndDate:             b.EndDate,
		Status:              b.Status,
		PaymentStatus:       b.PaymentStatus,
		TotalParticipants:   b.TotalParticipants,
		CurrentParticipants: b.CurrentParticipants,
		JoinCode:            b.JoinCode,
	}
}

// RoadbookView is everything a link holder gets back.
type RoadbookView struct {
	Booking     BookingSummary `json:"booking"`
	Participant *Participant   `json:"participant,omitempty"`
	Itinerary   *Itinerary     `json:"itinerary"`
	Source      string         `json:"source"`
	IsRevealed  bool           `json:"is_revealed"`
	RevealDate  *time.Time     `json:"reveal_date,omitempty"`

	booking *Booking
}

// NewRoadbookView binds a view to its booking.
func NewRoadbookView(b *Booking, p *Participant) *RoadbookView {
	return &RoadbookView{Booking: b.Summary(), Participant: p, booking: b}
}

// FullBooking returns the booking the view was built from.
func (v *RoadbookView) FullBooking() *Booking {
	return v.booking
}
