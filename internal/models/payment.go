package models

import "time"

// Session metadata keys.
const (
	MetaBookingID        = "booking_id"
	MetaTenantID         = "tenant_id"
	MetaAction           = "action"
	MetaBookingType      = "booking_type"
	MetaParticipantFirst = "participant_first_name"
	MetaParticipantLast  = "participant_last_name"
	MetaParticipantEmail = "participant_email"
	MetaParticipantPhone = "participant_phone"
	MetaParticipantRider = "participant_rider_type"
)

// SessionRequest is what the orchestrator asks the payment provider for.
type SessionRequest struct {
	UnitAmount    int64
	Quantity      int64
	Currency      string
	Description   string
	CustomerEmail string
	Metadata      map[string]string
	SuccessURL    string
	CancelURL     string
}

// AmountTotal is the amount the payer is charged.
func (r SessionRequest) AmountTotal() int64 {
	return r.UnitAmount * r.Quantity
}

// CheckoutSession is the provider's answer to a SessionRequest.
type CheckoutSession struct {
	ID  string `json:"session_id"`
	URL string `json:"checkout_url"`
}

// PaymentEvent is a verified provider callback reduced to the fields the processor needs.
type PaymentEvent struct {
	ID              string
	Type            string
	SessionID       string
	PaymentIntentID string
	AmountTotal     int64
	Metadata        map[string]string
	ReceivedAt      time.Time
}

// Meta returns a metadata value or "".
func (e *PaymentEvent) Meta(key string) string {
	if e.Metadata == nil {
		return ""
	}
	return e.Metadata[key]
}

// JoinerContact extracts the joining participant's details from session metadata.
func (e *PaymentEvent) JoinerContact() ContactInfo {
	return ContactInfo{
		FirstName: e.Meta(MetaParticipantFirst),
		LastName:  e.Meta(MetaParticipantLast),
		Email:     e.Meta(MetaParticipantEmail),
		Phone:     e.Meta(MetaParticipantPhone),
		RiderType: e.Meta(MetaParticipantRider),
	}.Normalize()
}

// ProcessedEvent is a row of the webhook idempotency ledger.
type ProcessedEvent struct {
	EventID     string
	Type        string
	BookingID   string
	Outcome     string
	ProcessedAt time.Time
}

// PaymentTransition is everything a single payment event changes, applied atomically.
type PaymentTransition struct {
	Event         ProcessedEvent
	Booking       *Booking
	Organizer     *User
	Joiner        *Participant
	Notifications []*Notification
}
