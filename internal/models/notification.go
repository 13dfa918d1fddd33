package models

import "time"

// Notification is a queued outbound email delivered by the notification worker.
type Notification struct {
	ID            int64      `json:"id"`
	TenantID      string     `json:"tenant_id"`
	Template      string     `json:"template"`
	Recipient     string     `json:"recipient"`
	BookingID     string     `json:"booking_id"`
	ParticipantID string     `json:"participant_id,omitempty"`
	Token         string     `json:"-"`
	Status        string     `json:"status"`
	RetryCount    int        `json:"retry_count"`
	LastError     *string    `json:"last_error"`
	CreatedAt     time.Time  `json:"created_at"`
	ProcessedAt   *time.Time `json:"processed_at"`
	NextRetryAt   *time.Time `json:"next_retry_at"`
}
