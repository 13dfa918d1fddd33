package domain

import (
	"context"
	"time"

	"roadbook/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type BookingRepository interface {
	CreateBooking(ctx context.Context, booking *models.Booking, organizer *models.Participant) error
	GetBooking(ctx context.Context, tenantID, id string) (*models.Booking, error)
	GetBookingByAccessToken(ctx context.Context, token string) (*models.Booking, error)
	GetBookingByJoinCode(ctx context.Context, tenantID, code string) (*models.Booking, error)
	JoinCodeExists(ctx context.Context, tenantID, code string) (bool, error)
	SetCheckoutSession(ctx context.Context, tenantID, bookingID, sessionID string) error
	GetBookingBySession(ctx context.Context, sessionID string) (*models.Booking, error)
	ListBookings(ctx context.Context, tenantID string) ([]*models.Booking, error)
	ApplyPaymentTransition(ctx context.Context, t *models.PaymentTransition) error
	RecordProcessedEvent(ctx context.Context, ev models.ProcessedEvent) error
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
}

type ParticipantRepository interface {
	AddParticipant(ctx context.Context, p *models.Participant, n *models.Notification) error
	RemoveParticipant(ctx context.Context, tenantID, bookingID, participantID string) error
	GetParticipant(ctx context.Context, tenantID, bookingID, participantID string) (*models.Participant, error)
	GetParticipantByInvitationToken(ctx context.Context, token string) (*models.Participant, error)
	GetOrganizerParticipant(ctx context.Context, tenantID, bookingID string) (*models.Participant, error)
	ListParticipants(ctx context.Context, tenantID, bookingID string) ([]*models.Participant, error)
	RedeemParticipant(ctx context.Context, p *models.Participant, user *models.User, createUser bool) error
}

type UserRepository interface {
	GetUserByEmail(ctx context.Context, tenantID, email string) (*models.User, error)
}

// CatalogRepository reads trip content owned by the admin side.
type CatalogRepository interface {
	GetPublishedTrip(ctx context.Context, tenantID, slug string) (*models.PublishedTrip, error)
	GetInternalTrip(ctx context.Context, tenantID, ownerUserID, tripID string) (*models.InternalTrip, error)
	GetHotel(ctx context.Context, tenantID, ownerUserID, hotelID string) (*models.Hotel, error)
	GetPOI(ctx context.Context, tenantID, poiID string) (*models.POI, error)
}

type NotificationRepository interface {
	EnqueueNotification(ctx context.Context, n *models.Notification) error
	GetPendingNotifications(ctx context.Context, limit int) ([]*models.Notification, error)
	UpdateNotificationStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error
}

// Repository is the full document store.
type Repository interface {
	BookingRepository
	ParticipantRepository
	UserRepository
	CatalogRepository
	NotificationRepository
}

// CacheRepository holds short-lived derived data: resolved itineraries and rate-limit counters.
type CacheRepository interface {
	GetItinerary(ctx context.Context, key string) (*models.Itinerary, error)
	SetItinerary(ctx context.Context, key string, it *models.Itinerary, ttl time.Duration) error
	DeleteItinerary(ctx context.Context, key string) error
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// PaymentGateway is the external payment provider.
type PaymentGateway interface {
	CreateCheckoutSession(ctx context.Context, req models.SessionRequest) (*models.CheckoutSession, error)
	ParseWebhook(payload []byte, signature string) (*models.PaymentEvent, error)
}

// Mailer delivers templated emails. It reports success instead of failing the caller.
type Mailer interface {
	Send(ctx context.Context, msg models.Email) bool
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type CheckoutService interface {
	StartCheckout(ctx context.Context, tenantID, slug string, req models.CheckoutRequest) (*models.CheckoutResult, error)
	RetryCheckout(ctx context.Context, tenantID, bookingID string) (*models.CheckoutResult, error)
	StartBalanceCheckout(ctx context.Context, tenantID, bookingID string) (*models.CheckoutResult, error)
	SessionStatus(ctx context.Context, sessionID string) (*models.BookingSummary, error)
}

type PaymentEventProcessor interface {
	HandleEvent(ctx context.Context, ev *models.PaymentEvent) error
}

type MembershipService interface {
	AddParticipant(ctx context.Context, actor models.Actor, bookingID string, info models.ContactInfo) (*models.Participant, error)
	RemoveParticipant(ctx context.Context, actor models.Actor, bookingID, participantID string) error
	ListParticipants(ctx context.Context, actor models.Actor, bookingID string) ([]*models.Participant, models.GroupStats, error)
	ResendInvitation(ctx context.Context, actor models.Actor, bookingID, participantID string) error
	RedeemInvitation(ctx context.Context, token string, reg models.Registration) (*models.Redemption, error)
	RedeemAccess(ctx context.Context, token string, reg models.Registration) (*models.Redemption, error)
}

type AccessResolver interface {
	Resolve(ctx context.Context, token string) (*models.RoadbookView, error)
}
