package models

// Booking statuses.
const (
	StatusPending        = "pending"
	StatusPendingDeposit = "pending_deposit"
	StatusConfirmed      = "confirmed"
	StatusPaymentFailed  = "payment_failed"
)

// Payment statuses.
const (
	PaymentPending     = "pending"
	PaymentDepositPaid = "deposit_paid"
	PaymentFullyPaid   = "fully_paid"
	PaymentFailed      = "payment_failed"
)

// Checkout request shapes and the booking_type values carried in session metadata.
const (
	BookingTypeIndividual  = "individual"
	BookingTypeGroupLeader = "group_leader"
	BookingTypeJoinGroup   = "join_group"
	BookingTypeRemaining   = "remaining"
)

// Leader payment modes.
const (
	PaymentModeSelf = "self"
	PaymentModeAll  = "all"
)

// Session metadata actions.
const (
	ActionCreateBooking = "create_booking"
	ActionJoinGroup     = "join_group"
)

// Participant roles, rider types and provenance.
const (
	RoleOrganizer = "organizer"
	RoleMember    = "member"

	RiderPilot     = "pilot"
	RiderPassenger = "passenger"

	AddedBySelf      = "self"
	AddedByOrganizer = "organizer"
	AddedByAdmin     = "admin"
)

// User roles.
const (
	UserRoleCustomer = "customer"
	UserRoleAdmin    = "admin"
)

// Payment provider event types.
const (
	EventCheckoutCompleted      = "checkout.session.completed"
	EventCheckoutFailed         = "checkout.session.async_payment_failed"
	EventPaymentIntentSucceeded = "payment_intent.succeeded"
	EventPaymentIntentFailed    = "payment_intent.failed"
	// EventPaymentIntentPaymentFailed is the name the provider actually emits.
	EventPaymentIntentPaymentFailed = "payment_intent.payment_failed"
)

// Notification templates.
const (
	TemplateBookingConfirmation   = "booking_confirmation"
	TemplateParticipantInvitation = "participant_invitation"
	TemplateJoinConfirmation      = "join_confirmation"
)

// Notification statuses.
const (
	NotificationPending  = "pending"
	NotificationSent     = "sent"
	NotificationRetrying = "retrying"
	NotificationFailed   = "failed"
)

const (
	// DefaultRevealDaysBefore is how many days before departure the roadbook unblurs.
	DefaultRevealDaysBefore = 4

	// DefaultJoinCodePrefix prefixes generated group join codes.
	DefaultJoinCodePrefix = "TRIP"

	// JoinCodeSuffixLength is the number of random characters after the prefix.
	JoinCodeSuffixLength = 4

	// PlaceholderTitle is shown when no itinerary content resolves.
	PlaceholderTitle = "in preparation"

	// ItinerarySchemaVersion is the current shape of stored itineraries.
	ItinerarySchemaVersion = 1

	// MinPasswordLength is enforced on account redemption.
	MinPasswordLength = 8

	// DefaultItineraryCacheTTL время жизни кэша маршрутов в секундах
	DefaultItineraryCacheTTL = 10 * 60
)
