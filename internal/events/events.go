package events

import (
	"encoding/json"
	"sync"
	"time"

	"roadbook/internal/models"
)

const (
	EventBookingCreated   = "booking_created"
	EventBookingConfirmed = "booking_confirmed"
	EventPaymentFailed    = "payment_failed"
	EventMemberJoined     = "member_joined"
	EventMemberAdded      = "member_added"
	EventMemberRemoved    = "member_removed"
	EventAccountRedeemed  = "account_redeemed"
)

// BookingEventPayload describes the minimal booking snapshot for event consumers.
type BookingEventPayload struct {
	BookingID           string `json:"booking_id"`
	TenantID            string `json:"tenant_id"`
	TripTitle           string `json:"trip_title"`
	BookingType         string `json:"booking_type"`
	Status              string `json:"status"`
	PaymentStatus       string `json:"payment_status"`
	TotalAmount         int64  `json:"total_amount"`
	DepositAmount       int64  `json:"deposit_amount"`
	Currency            string `json:"currency"`
	CurrentParticipants int    `json:"current_participants"`
	TotalParticipants   int    `json:"total_participants"`
	ContactName         string `json:"contact_name,omitempty"`
	ContactEmail        string `json:"contact_email,omitempty"`
	ChangedBy           string `json:"changed_by,omitempty"`
	Outcome             string `json:"outcome,omitempty"`
}

// Event represents a lightweight domain event.
type Event struct {
	ID        int64
	Type      string
	Payload   []byte
	CreatedAt time.Time
	Processed bool
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		_ = handler(event)
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
	return nil
}

// NewJSONEvent builds an Event with JSON payload for manual publishing.
func NewJSONEvent(eventType string, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}

	return Event{Type: eventType, Payload: raw, CreatedAt: time.Now()}, nil
}

// NewBookingPayload builds the event payload for a booking.
func NewBookingPayload(b *models.Booking, changedBy string) BookingEventPayload {
	return BookingEventPayload{
		BookingID:           b.ID,
		TenantID:            b.TenantID,
		TripTitle:           b.TripTitle,
		BookingType:         b.BookingType,
		Status:              b.Status,
		PaymentStatus:       b.PaymentStatus,
		TotalAmount:         b.TotalAmount,
		DepositAmount:       b.DepositAmount,
		Currency:            b.Currency,
		CurrentParticipants: b.CurrentParticipants,
		TotalParticipants:   b.TotalParticipants,
		ContactName:         b.LeaderDetails.FullName(),
		ContactEmail:        b.LeaderDetails.Email,
		ChangedBy:           changedBy,
	}
}
