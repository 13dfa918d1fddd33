package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"roadbook/internal/domain"
	"roadbook/internal/events"
	"roadbook/internal/metrics"
	"roadbook/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Outcomes recorded in the processed events ledger.
const (
	OutcomeApplied        = "applied"
	OutcomeAlreadyApplied = "already_applied"
	OutcomeDuplicate      = "duplicate"
	OutcomeDiscarded      = "discarded"
	OutcomeRejected       = "rejected"
	OutcomeLogged         = "logged"
	OutcomeIgnored        = "ignored"
)

const defaultTransitionAttempts = 3

// PaymentProcessor applies verified payment provider events to bookings.
// Events arrive at least once and in any order; the processed events ledger
// and the booking version make every event apply at most once.
type PaymentProcessor struct {
	repo        domain.Repository
	eventBus    domain.EventPublisher
	maxAttempts int
	logger      *zerolog.Logger
	now         func() time.Time
}

func NewPaymentProcessor(repo domain.Repository, eventBus domain.EventPublisher, logger *zerolog.Logger) *PaymentProcessor {
	return &PaymentProcessor{
		repo:        repo,
		eventBus:    eventBus,
		maxAttempts: defaultTransitionAttempts,
		logger:      logger,
		now:         time.Now,
	}
}

// HandleEvent returns an error only for transient failures the provider should retry.
// Business-irrelevant events (unknown booking, missing metadata) are recorded and swallowed.
func (p *PaymentProcessor) HandleEvent(ctx context.Context, ev *models.PaymentEvent) error {
	if ev == nil || ev.ID == "" {
		return fmt.Errorf("%w: event without id", domain.ErrInvalidRequest)
	}

	processed, err := p.repo.IsEventProcessed(ctx, ev.ID)
	if err != nil {
		return err
	}
	if processed {
		p.logger.Debug().Str("event_id", ev.ID).Msg("Payment event already processed")
		metrics.IncPaymentEvent(ev.Type, OutcomeDuplicate)
		return nil
	}

	var outcome string
	switch ev.Type {
	case models.EventCheckoutCompleted:
		outcome, err = p.withRetry(ctx, ev, p.applyCompleted)
	case models.EventCheckoutFailed:
		outcome, err = p.withRetry(ctx, ev, p.applyFailed)
	case models.EventPaymentIntentSucceeded, models.EventPaymentIntentFailed, models.EventPaymentIntentPaymentFailed:
		outcome, err = p.recordAdvisory(ctx, ev)
	default:
		p.logger.Debug().Str("event_id", ev.ID).Str("type", ev.Type).Msg("Ignoring payment event type")
		outcome = OutcomeIgnored
	}

	if errors.Is(err, domain.ErrDuplicateEvent) {
		outcome, err = OutcomeDuplicate, nil
	}
	if err != nil {
		p.logger.Error().Err(err).Str("event_id", ev.ID).Str("type", ev.Type).Msg("Failed to process payment event")
		metrics.IncPaymentEvent(ev.Type, "error")
		return err
	}

	metrics.IncPaymentEvent(ev.Type, outcome)
	return nil
}

type transitionFunc func(ctx context.Context, ev *models.PaymentEvent) (string, error)

// withRetry re-reads the booking and retries when another writer bumped its version.
func (p *PaymentProcessor) withRetry(ctx context.Context, ev *models.PaymentEvent, fn transitionFunc) (string, error) {
	var (
		outcome string
		err     error
	)
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		outcome, err = fn(ctx, ev)
		if !errors.Is(err, domain.ErrConcurrentModification) {
			return outcome, err
		}
		p.logger.Warn().Str("event_id", ev.ID).Int("attempt", attempt).Msg("Booking changed concurrently, retrying event")
	}
	return outcome, err
}

// loadBooking returns nil without error when the event cannot be tied to a booking.
func (p *PaymentProcessor) loadBooking(ctx context.Context, ev *models.PaymentEvent) (*models.Booking, error) {
	bookingID := ev.Meta(models.MetaBookingID)
	tenantID := ev.Meta(models.MetaTenantID)
	if bookingID == "" || tenantID == "" {
		p.logger.Warn().Str("event_id", ev.ID).Str("session_id", ev.SessionID).Msg("Payment event without booking metadata, discarding")
		return nil, nil
	}

	b, err := p.repo.GetBooking(ctx, tenantID, bookingID)
	if errors.Is(err, domain.ErrNotFound) {
		p.logger.Warn().Str("event_id", ev.ID).Str("booking_id", bookingID).Msg("Payment event for unknown booking, discarding")
		return nil, nil
	}
	return b, err
}

func (p *PaymentProcessor) applyCompleted(ctx context.Context, ev *models.PaymentEvent) (string, error) {
	b, err := p.loadBooking(ctx, ev)
	if err != nil {
		return "", err
	}
	if b == nil {
		return p.record(ctx, ev, "", OutcomeDiscarded)
	}

	switch ev.Meta(models.MetaAction) {
	case models.ActionCreateBooking:
		return p.applyBookingPayment(ctx, ev, b)
	case models.ActionJoinGroup:
		return p.applyJoin(ctx, ev, b)
	default:
		p.logger.Warn().Str("event_id", ev.ID).Str("action", ev.Meta(models.MetaAction)).Msg("Unknown checkout action, discarding")
		return p.record(ctx, ev, b.ID, OutcomeDiscarded)
	}
}

func (p *PaymentProcessor) applyBookingPayment(ctx context.Context, ev *models.PaymentEvent, b *models.Booking) (string, error) {
	bookingType := ev.Meta(models.MetaBookingType)
	if bookingType == "" {
		bookingType = b.BookingType
	}

	// the same session reported twice under different event ids
	if ev.SessionID != "" && ev.SessionID == b.StripeSessionID && bookingType != models.BookingTypeRemaining &&
		(b.PaymentStatus == models.PaymentDepositPaid || b.IsFullyPaid()) {
		return p.record(ctx, ev, b.ID, OutcomeAlreadyApplied)
	}

	if ev.PaymentIntentID != "" {
		b.StripePaymentIntentID = ev.PaymentIntentID
	}

	t := &models.PaymentTransition{
		Event:   p.ledgerEntry(ev, b.ID, OutcomeApplied),
		Booking: b,
	}

	firstConfirmation := b.Status != models.StatusConfirmed
	if bookingType == models.BookingTypeRemaining {
		b.CollectPayment(b.RemainingAmount)
		b.PaymentStatus = models.PaymentFullyPaid
	} else {
		amount := ev.AmountTotal
		if amount <= 0 {
			amount = b.RequiredDeposit
		}
		b.CollectPayment(amount)
		if b.RemainingAmount == 0 {
			b.PaymentStatus = models.PaymentFullyPaid
		} else {
			b.PaymentStatus = models.PaymentDepositPaid
		}
	}
	b.Status = models.StatusConfirmed

	if b.LeaderDetails.Email != "" {
		t.Organizer = &models.User{
			ID:        uuid.NewString(),
			TenantID:  b.TenantID,
			Email:     b.LeaderDetails.Email,
			FirstName: b.LeaderDetails.FirstName,
			LastName:  b.LeaderDetails.LastName,
			Phone:     b.LeaderDetails.Phone,
			Role:      models.UserRoleCustomer,
		}
		if firstConfirmation {
			t.Notifications = append(t.Notifications, &models.Notification{
				TenantID:  b.TenantID,
				Template:  models.TemplateBookingConfirmation,
				Recipient: b.LeaderDetails.Email,
				BookingID: b.ID,
				Token:     b.AccessToken,
				Status:    models.NotificationPending,
			})
		}
	}

	if err := p.repo.ApplyPaymentTransition(ctx, t); err != nil {
		return "", err
	}

	p.logger.Info().
		Str("event_id", ev.ID).
		Str("booking_id", b.ID).
		Str("booking_type", bookingType).
		Str("payment_status", b.PaymentStatus).
		Int64("deposit_amount", b.DepositAmount).
		Int64("remaining_amount", b.RemainingAmount).
		Msg("Booking payment applied")
	p.publish(events.EventBookingConfirmed, b, "", OutcomeApplied)
	return OutcomeApplied, nil
}

func (p *PaymentProcessor) applyJoin(ctx context.Context, ev *models.PaymentEvent, b *models.Booking) (string, error) {
	contact := ev.JoinerContact()
	if contact.Email == "" {
		p.logger.Warn().Str("event_id", ev.ID).Str("booking_id", b.ID).Msg("Join event without participant email, discarding")
		return p.record(ctx, ev, b.ID, OutcomeDiscarded)
	}

	joiner := &models.Participant{
		ID:              uuid.NewString(),
		TenantID:        b.TenantID,
		BookingID:       b.ID,
		FirstName:       contact.FirstName,
		LastName:        contact.LastName,
		Email:           contact.Email,
		Phone:           contact.Phone,
		Role:            models.RoleMember,
		RiderType:       contact.RiderType,
		InvitationToken: uuid.NewString(),
		AddedBy:         models.AddedBySelf,
		StripeSessionID: ev.SessionID,
	}

	amount := ev.AmountTotal
	if amount <= 0 {
		amount = b.UnitPrice
	}
	b.CollectPayment(amount)
	if b.RemainingAmount == 0 {
		b.PaymentStatus = models.PaymentFullyPaid
	}

	t := &models.PaymentTransition{
		Event:   p.ledgerEntry(ev, b.ID, OutcomeApplied),
		Booking: b,
		Joiner:  joiner,
		Notifications: []*models.Notification{{
			TenantID:  b.TenantID,
			Template:  models.TemplateJoinConfirmation,
			Recipient: joiner.Email,
			BookingID: b.ID,
			Token:     joiner.InvitationToken,
			Status:    models.NotificationPending,
		}},
	}

	err := p.repo.ApplyPaymentTransition(ctx, t)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrDuplicateEvent):
		// та же сессия уже добавила участника под другим event id
		p.logger.Info().Str("event_id", ev.ID).Str("session_id", ev.SessionID).Msg("Join session already applied")
		return p.record(ctx, ev, b.ID, OutcomeDuplicate)
	case errors.Is(err, domain.ErrBookingFull), errors.Is(err, domain.ErrDuplicateEmail):
		// деньги получены, места нет: фиксируем и отдаем администратору
		p.logger.Error().Err(err).
			Str("event_id", ev.ID).
			Str("booking_id", b.ID).
			Str("email", joiner.Email).
			Msg("Paid joiner rejected, manual refund required")
		stored, loadErr := p.repo.GetBooking(ctx, b.TenantID, b.ID)
		if loadErr != nil {
			return "", loadErr
		}
		p.publish(events.EventMemberJoined, stored, joiner.FullName(), OutcomeRejected)
		return p.record(ctx, ev, b.ID, OutcomeRejected)
	default:
		return "", err
	}

	p.logger.Info().
		Str("event_id", ev.ID).
		Str("booking_id", b.ID).
		Str("participant_id", joiner.ID).
		Int("current_participants", b.CurrentParticipants).
		Msg("Joiner added to group")
	p.publish(events.EventMemberJoined, b, joiner.FullName(), OutcomeApplied)
	return OutcomeApplied, nil
}

// applyFailed marks the booking failed. Monetary fields never change here.
// A failed joiner or balance payment leaves the group booking as it is.
func (p *PaymentProcessor) applyFailed(ctx context.Context, ev *models.PaymentEvent) (string, error) {
	b, err := p.loadBooking(ctx, ev)
	if err != nil {
		return "", err
	}
	if b == nil {
		return p.record(ctx, ev, "", OutcomeDiscarded)
	}

	if ev.Meta(models.MetaAction) == models.ActionJoinGroup || ev.Meta(models.MetaBookingType) == models.BookingTypeRemaining {
		p.logger.Warn().Str("event_id", ev.ID).Str("booking_id", b.ID).Msg("Follow-up payment failed")
		return p.record(ctx, ev, b.ID, OutcomeLogged)
	}
	if b.Status == models.StatusConfirmed {
		p.logger.Warn().Str("event_id", ev.ID).Str("booking_id", b.ID).Msg("Failure reported for confirmed booking, ignoring")
		return p.record(ctx, ev, b.ID, OutcomeIgnored)
	}

	b.Status = models.StatusPaymentFailed
	t := &models.PaymentTransition{
		Event:   p.ledgerEntry(ev, b.ID, OutcomeApplied),
		Booking: b,
	}
	if err := p.repo.ApplyPaymentTransition(ctx, t); err != nil {
		return "", err
	}

	p.logger.Warn().Str("event_id", ev.ID).Str("booking_id", b.ID).Msg("Booking payment failed")
	p.publish(events.EventPaymentFailed, b, "", OutcomeApplied)
	return OutcomeApplied, nil
}

// recordAdvisory logs payment intent events; they never drive transitions.
func (p *PaymentProcessor) recordAdvisory(ctx context.Context, ev *models.PaymentEvent) (string, error) {
	p.logger.Info().
		Str("event_id", ev.ID).
		Str("type", ev.Type).
		Str("payment_intent_id", ev.PaymentIntentID).
		Int64("amount", ev.AmountTotal).
		Msg("Payment intent event")
	return p.record(ctx, ev, ev.Meta(models.MetaBookingID), OutcomeLogged)
}

func (p *PaymentProcessor) record(ctx context.Context, ev *models.PaymentEvent, bookingID, outcome string) (string, error) {
	if err := p.repo.RecordProcessedEvent(ctx, p.ledgerEntry(ev, bookingID, outcome)); err != nil {
		return "", err
	}
	return outcome, nil
}

func (p *PaymentProcessor) ledgerEntry(ev *models.PaymentEvent, bookingID, outcome string) models.ProcessedEvent {
	return models.ProcessedEvent{
		EventID:     ev.ID,
		Type:        ev.Type,
		BookingID:   bookingID,
		Outcome:     outcome,
		ProcessedAt: p.now().UTC(),
	}
}

func (p *PaymentProcessor) publish(eventType string, b *models.Booking, contact, outcome string) {
	if p.eventBus == nil {
		return
	}
	payload := events.NewBookingPayload(b, "payment")
	payload.Outcome = outcome
	if contact != "" {
		payload.ContactName = contact
	}
	if err := p.eventBus.PublishJSON(eventType, payload); err != nil {
		p.logger.Warn().Err(err).Str("event", eventType).Msg("Failed to publish event")
	}
}
