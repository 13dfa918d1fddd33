package models

import "time"

// LeaderDetails is a snapshot of the paying organizer taken before any user account exists.
type LeaderDetails struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
}

// FullName returns "First Last" without stray spaces.
func (l LeaderDetails) FullName() string {
	return joinName(l.FirstName, l.LastName)
}

// Booking is one reservation of a trip template for a group.
// Amounts are in minor currency units.
type Booking struct {
	ID                    string        `json:"id"`
	TenantID              string        `json:"tenant_id"`
	AccessToken           string        `json:"-"`
	TripTemplateID        string        `json:"trip_template_id"`
	TripSlug              string        `json:"trip_slug"`
	TripTitle             string        `json:"trip_title"`
	OrganizerUserID       string        `json:"organizer_user_id,omitempty"`
	StartDate             *time.Time    `json:"start_date,omitempty"`
	EndDate               *time.Time    `json:"end_date,omitempty"`
	TotalParticipants     int           `json:"total_participants"`
	CurrentParticipants   int           `json:"current_participants"`
	TotalAmount           int64         `json:"total_amount"`
	DepositAmount         int64         `json:"deposit_amount"`
	RequiredDeposit       int64         `json:"required_deposit"`
	RemainingAmount       int64         `json:"remaining_amount"`
	UnitPrice             int64         `json:"unit_price"`
	CheckoutQuantity      int           `json:"checkout_quantity"`
	Currency              string        `json:"currency"`
	PaymentStatus         string        `json:"payment_status"`
	Status                string        `json:"status"` // pending, pending_deposit, confirmed, payment_failed
	BookingType           string        `json:"booking_type"`
	PaymentMode           string        `json:"payment_mode,omitempty"`
	StripeSessionID       string        `json:"-"`
	StripePaymentIntentID string        `json:"-"`
	JoinCode              string        `json:"join_code,omitempty"`
	LeaderDetails         LeaderDetails `json:"leader_details"`
	TripSnapshot          *Itinerary    `json:"-"`
	ForceReveal           bool          `json:"force_reveal"`
	CreatedAt             time.Time     `json:"created_at"`
	UpdatedAt             time.Time     `json:"updated_at"`
	Version               int64         `json:"version"`
}

// HasAvailableSlots reports whether another participant fits.
func (b *Booking) HasAvailableSlots() bool {
	return b.CurrentParticipants < b.TotalParticipants
}

// IsFullyPaid reports whether nothing remains to be collected.
func (b *Booking) IsFullyPaid() bool {
	return b.PaymentStatus == PaymentFullyPaid
}

// CollectPayment records an amount received against the booking and keeps
// deposit_amount + remaining_amount == total_amount. Overpayment is clamped.
func (b *Booking) CollectPayment(amount int64) {
	if amount < 0 {
		amount = 0
	}
	b.DepositAmount += amount
	if b.DepositAmount > b.TotalAmount {
		b.DepositAmount = b.TotalAmount
	}
	b.RemainingAmount = b.TotalAmount - b.DepositAmount
	if b.RequiredDeposit > 0 && b.DepositAmount >= b.RequiredDeposit {
		b.RequiredDeposit = 0
	}
}

// PaymentProgress returns the paid share of the total as a percentage.
func (b *Booking) PaymentProgress() int {
	if b.TotalAmount == 0 {
		return 0
	}
	return int(b.DepositAmount * 100 / b.TotalAmount)
}
