package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/mail"
	"strings"

	"roadbook/internal/config"
	"roadbook/internal/domain"
	"roadbook/internal/events"
	"roadbook/internal/metrics"
	"roadbook/internal/models"
	"roadbook/internal/pricing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	joinCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	joinCodeAttempts = 5
)

type CheckoutService struct {
	repo     domain.Repository
	gateway  domain.PaymentGateway
	eventBus domain.EventPublisher
	booking  config.BookingConfig
	stripe   config.StripeConfig
	logger   *zerolog.Logger

	newJoinCode func(prefix string) (string, error)
}

func NewCheckoutService(repo domain.Repository, gateway domain.PaymentGateway, eventBus domain.EventPublisher, bookingCfg config.BookingConfig, stripeCfg config.StripeConfig, logger *zerolog.Logger) *CheckoutService {
	if bookingCfg.JoinCodePrefix == "" {
		bookingCfg.JoinCodePrefix = models.DefaultJoinCodePrefix
	}
	if bookingCfg.DefaultPaymentMode == "" {
		bookingCfg.DefaultPaymentMode = models.PaymentModeAll
	}
	if bookingCfg.DefaultDeposit.Type == "" {
		bookingCfg.DefaultDeposit = models.DefaultDepositPolicy()
	}
	return &CheckoutService{
		repo:        repo,
		gateway:     gateway,
		eventBus:    eventBus,
		booking:     bookingCfg,
		stripe:      stripeCfg,
		logger:      logger,
		newJoinCode: generateJoinCode,
	}
}

// StartCheckout starts a payment for one of the three request shapes.
//
// For individual and group_leader requests the booking is stored before the
// provider is called. If the provider fails, the returned result still carries
// BookingID so the caller can RetryCheckout, and the error wraps ErrPaymentProvider.
// join_group writes nothing until the payment event arrives.
func (s *CheckoutService) StartCheckout(ctx context.Context, tenantID, slug string, req models.CheckoutRequest) (*models.CheckoutResult, error) {
	req.Contact = req.Contact.Normalize()
	if err := validateContact(req.Contact); err != nil {
		return nil, err
	}

	trip, err := s.repo.GetPublishedTrip(ctx, tenantID, slug)
	if err != nil {
		return nil, err
	}
	if !trip.IsActive {
		return nil, fmt.Errorf("trip %s is not bookable: %w", slug, domain.ErrNotFound)
	}

	switch req.BookingType {
	case models.BookingTypeIndividual, models.BookingTypeGroupLeader:
		return s.startNewBooking(ctx, trip, req)
	case models.BookingTypeJoinGroup:
		return s.startJoin(ctx, trip, req)
	default:
		return nil, fmt.Errorf("%w: unknown booking type %q", domain.ErrInvalidRequest, req.BookingType)
	}
}

func (s *CheckoutService) startNewBooking(ctx context.Context, trip *models.PublishedTrip, req models.CheckoutRequest) (*models.CheckoutResult, error) {
	partySize := req.PartySize
	if partySize == 0 && req.BookingType == models.BookingTypeIndividual {
		partySize = 1
	}

	paymentMode := ""
	if req.BookingType == models.BookingTypeGroupLeader {
		paymentMode = req.PaymentMode
		if paymentMode == "" {
			paymentMode = s.booking.DefaultPaymentMode
		}
		if paymentMode != models.PaymentModeSelf && paymentMode != models.PaymentModeAll {
			return nil, fmt.Errorf("%w: unknown payment mode %q", domain.ErrInvalidRequest, paymentMode)
		}
	}

	policy := trip.DepositPolicy
	if policy.Type == "" {
		policy = s.booking.DefaultDeposit
	}
	quote, err := pricing.Compute(trip.PricePerPerson, partySize, policy)
	if err != nil {
		return nil, err
	}
	quantity := pricing.QuantityToPay(req.BookingType, paymentMode, partySize)

	startDate, endDate := req.StartDate, req.EndDate
	if startDate == nil {
		startDate = trip.StartDate
	}
	if endDate == nil {
		endDate = trip.EndDate
	}

	templateID := trip.OriginalTripID
	if templateID == "" {
		templateID = trip.Slug
	}

	var snapshot *models.Itinerary
	if trip.Itinerary != nil {
		snapshot = trip.Itinerary.Clone()
		if snapshot.Name == "" {
			snapshot.Name = trip.Title
		}
		snapshot.SchemaVersion = models.ItinerarySchemaVersion
	}

	booking := &models.Booking{
		ID:                uuid.NewString(),
		TenantID:          trip.TenantID,
		AccessToken:       uuid.NewString(),
		TripTemplateID:    templateID,
		TripSlug:          trip.Slug,
		TripTitle:         trip.Title,
		StartDate:         startDate,
		EndDate:           endDate,
		TotalParticipants: partySize,
		TotalAmount:       quote.Total,
		DepositAmount:     0,
		RequiredDeposit:   quote.Deposit,
		RemainingAmount:   quote.Total,
		UnitPrice:         trip.PricePerPerson,
		CheckoutQuantity:  quantity,
		Currency:          s.currency(trip),
		PaymentStatus:     models.PaymentPending,
		Status:            models.StatusPending,
		BookingType:       req.BookingType,
		PaymentMode:       paymentMode,
		LeaderDetails: models.LeaderDetails{
			FirstName: req.Contact.FirstName,
			LastName:  req.Contact.LastName,
			Email:     req.Contact.Email,
			Phone:     req.Contact.Phone,
		},
		TripSnapshot: snapshot,
	}

	if err := s.createBooking(ctx, booking, organizerFrom(req.Contact)); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("booking_id", booking.ID).
		Str("tenant_id", booking.TenantID).
		Str("trip", trip.Slug).
		Str("booking_type", booking.BookingType).
		Int("party_size", partySize).
		Int64("total", quote.Total).
		Msg("Booking created, requesting payment session")
	s.publish(events.EventBookingCreated, booking)

	return s.requestSession(ctx, booking, s.sessionForBooking(booking))
}

// createBooking stores the booking, regenerating the join code on collision.
func (s *CheckoutService) createBooking(ctx context.Context, booking *models.Booking, organizer *models.Participant) error {
	if booking.BookingType != models.BookingTypeGroupLeader {
		return s.repo.CreateBooking(ctx, booking, organizer)
	}

	var lastErr error
	for attempt := 0; attempt < joinCodeAttempts; attempt++ {
		code, err := s.newJoinCode(s.booking.JoinCodePrefix)
		if err != nil {
			return fmt.Errorf("failed to generate join code: %w", err)
		}
		booking.JoinCode = code

		taken, err := s.repo.JoinCodeExists(ctx, booking.TenantID, code)
		if err != nil {
			return err
		}
		if taken {
			lastErr = fmt.Errorf("join code %s: %w", code, domain.ErrJoinCodeTaken)
			s.logger.Warn().Str("join_code", code).Msg("Join code already in use, regenerating")
			continue
		}

		// уникальный индекс ловит гонку между проверкой и вставкой
		err = s.repo.CreateBooking(ctx, booking, organizer)
		if err == nil {
			return nil
		}
		if !errors.Is(err, domain.ErrJoinCodeTaken) {
			return err
		}
		lastErr = err
		s.logger.Warn().Str("join_code", code).Msg("Join code collision, retrying")
	}
	return fmt.Errorf("failed to allocate join code after %d attempts: %w", joinCodeAttempts, lastErr)
}

func (s *CheckoutService) startJoin(ctx context.Context, trip *models.PublishedTrip, req models.CheckoutRequest) (*models.CheckoutResult, error) {
	code := strings.ToUpper(strings.TrimSpace(req.JoinCode))
	if code == "" {
		return nil, domain.ErrInvalidJoinCode
	}

	booking, err := s.repo.GetBookingByJoinCode(ctx, trip.TenantID, code)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("join code %s: %w", code, domain.ErrInvalidJoinCode)
		}
		return nil, err
	}
	if booking.TripSlug != trip.Slug || booking.Status == models.StatusPaymentFailed {
		return nil, fmt.Errorf("join code %s: %w", code, domain.ErrInvalidJoinCode)
	}
	if !booking.HasAvailableSlots() {
		return nil, fmt.Errorf("booking %s: %w", booking.ID, domain.ErrBookingFull)
	}

	participants, err := s.repo.ListParticipants(ctx, booking.TenantID, booking.ID)
	if err != nil {
		return nil, err
	}
	for _, p := range participants {
		if p.Email == req.Contact.Email {
			return nil, fmt.Errorf("participant %s: %w", req.Contact.Email, domain.ErrDuplicateEmail)
		}
	}

	unitPrice := booking.UnitPrice
	if unitPrice == 0 {
		unitPrice = trip.PricePerPerson
	}

	sess := models.SessionRequest{
		UnitAmount:    unitPrice,
		Quantity:      int64(pricing.QuantityToPay(models.BookingTypeJoinGroup, "", 1)),
		Currency:      booking.Currency,
		Description:   fmt.Sprintf("%s: join group %s", booking.TripTitle, code),
		CustomerEmail: req.Contact.Email,
		Metadata: map[string]string{
			models.MetaBookingID:        booking.ID,
			models.MetaTenantID:         booking.TenantID,
			models.MetaAction:           models.ActionJoinGroup,
			models.MetaBookingType:      models.BookingTypeJoinGroup,
			models.MetaParticipantFirst: req.Contact.FirstName,
			models.MetaParticipantLast:  req.Contact.LastName,
			models.MetaParticipantEmail: req.Contact.Email,
			models.MetaParticipantPhone: req.Contact.Phone,
			models.MetaParticipantRider: req.Contact.RiderType,
		},
		SuccessURL: s.redirectURL(s.stripe.SuccessURL, booking),
		CancelURL:  s.redirectURL(s.stripe.CancelURL, booking),
	}

	session, err := s.gateway.CreateCheckoutSession(ctx, sess)
	if err != nil {
		s.logger.Error().Err(err).Str("booking_id", booking.ID).Msg("Payment provider failed for join")
		return nil, fmt.Errorf("%w: %v", domain.ErrPaymentProvider, err)
	}
	metrics.IncCheckout(models.BookingTypeJoinGroup)

	return &models.CheckoutResult{
		BookingID:   booking.ID,
		SessionID:   session.ID,
		CheckoutURL: session.URL,
	}, nil
}

// SessionStatus reports the booking a checkout session was opened for, for the
// provider's success redirect. Join sessions are not stored on the booking.
func (s *CheckoutService) SessionStatus(ctx context.Context, sessionID string) (*models.BookingSummary, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session id is required", domain.ErrInvalidRequest)
	}
	b, err := s.repo.GetBookingBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	summary := b.Summary()
	return &summary, nil
}

// RetryCheckout requests a new payment session for a booking still awaiting payment.
func (s *CheckoutService) RetryCheckout(ctx context.Context, tenantID, bookingID string) (*models.CheckoutResult, error) {
	booking, err := s.repo.GetBooking(ctx, tenantID, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.PaymentStatus != models.PaymentPending && booking.PaymentStatus != models.PaymentFailed {
		return nil, fmt.Errorf("%w: booking %s is already paid", domain.ErrInvalidRequest, booking.ID)
	}
	return s.requestSession(ctx, booking, s.sessionForBooking(booking))
}

// StartBalanceCheckout charges what is left after the deposit.
func (s *CheckoutService) StartBalanceCheckout(ctx context.Context, tenantID, bookingID string) (*models.CheckoutResult, error) {
	booking, err := s.repo.GetBooking(ctx, tenantID, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.RemainingAmount <= 0 || booking.IsFullyPaid() {
		return nil, fmt.Errorf("%w: booking %s has nothing left to pay", domain.ErrInvalidRequest, booking.ID)
	}
	if booking.PaymentStatus != models.PaymentDepositPaid {
		return nil, fmt.Errorf("%w: booking %s has no deposit yet", domain.ErrInvalidRequest, booking.ID)
	}

	sess := models.SessionRequest{
		UnitAmount:    booking.RemainingAmount,
		Quantity:      1,
		Currency:      booking.Currency,
		Description:   fmt.Sprintf("%s: remaining balance", booking.TripTitle),
		CustomerEmail: booking.LeaderDetails.Email,
		Metadata: map[string]string{
			models.MetaBookingID:   booking.ID,
			models.MetaTenantID:    booking.TenantID,
			models.MetaAction:      models.ActionCreateBooking,
			models.MetaBookingType: models.BookingTypeRemaining,
		},
		SuccessURL: s.redirectURL(s.stripe.SuccessURL, booking),
		CancelURL:  s.redirectURL(s.stripe.CancelURL, booking),
	}
	return s.requestSession(ctx, booking, sess)
}

func (s *CheckoutService) sessionForBooking(b *models.Booking) models.SessionRequest {
	quantity := b.CheckoutQuantity
	if quantity < 1 {
		quantity = 1
	}
	desc := b.TripTitle
	if quantity > 1 {
		desc = fmt.Sprintf("%s (%d riders)", b.TripTitle, quantity)
	}
	return models.SessionRequest{
		UnitAmount:    b.UnitPrice,
		Quantity:      int64(quantity),
		Currency:      b.Currency,
		Description:   desc,
		CustomerEmail: b.LeaderDetails.Email,
		Metadata: map[string]string{
			models.MetaBookingID:   b.ID,
			models.MetaTenantID:    b.TenantID,
			models.MetaAction:      models.ActionCreateBooking,
			models.MetaBookingType: b.BookingType,
		},
		SuccessURL: s.redirectURL(s.stripe.SuccessURL, b),
		CancelURL:  s.redirectURL(s.stripe.CancelURL, b),
	}
}

// requestSession calls the provider and stores the session id on the booking.
// On provider failure the booking keeps no session id and stays retryable.
func (s *CheckoutService) requestSession(ctx context.Context, b *models.Booking, sess models.SessionRequest) (*models.CheckoutResult, error) {
	result := &models.CheckoutResult{BookingID: b.ID, JoinCode: b.JoinCode}

	session, err := s.gateway.CreateCheckoutSession(ctx, sess)
	if err != nil {
		s.logger.Error().Err(err).Str("booking_id", b.ID).Msg("Payment provider failed, booking left pending")
		return result, fmt.Errorf("%w: %v", domain.ErrPaymentProvider, err)
	}

	if err := s.repo.SetCheckoutSession(ctx, b.TenantID, b.ID, session.ID); err != nil {
		return result, fmt.Errorf("failed to store checkout session: %w", err)
	}
	metrics.IncCheckout(sess.Metadata[models.MetaBookingType])

	result.SessionID = session.ID
	result.CheckoutURL = session.URL
	return result, nil
}

func (s *CheckoutService) currency(trip *models.PublishedTrip) string {
	if trip.Currency != "" {
		return strings.ToLower(trip.Currency)
	}
	if s.stripe.Currency != "" {
		return s.stripe.Currency
	}
	return "eur"
}

// redirectURL fills {slug} and {booking_id}; {CHECKOUT_SESSION_ID} is left for the provider.
func (s *CheckoutService) redirectURL(tmpl string, b *models.Booking) string {
	if tmpl == "" {
		return strings.TrimRight(s.booking.BaseURL, "/") + "/"
	}
	return strings.NewReplacer("{slug}", b.TripSlug, "{booking_id}", b.ID).Replace(tmpl)
}

func (s *CheckoutService) publish(eventType string, b *models.Booking) {
	if s.eventBus == nil {
		return
	}
	if err := s.eventBus.PublishJSON(eventType, events.NewBookingPayload(b, "checkout")); err != nil {
		s.logger.Warn().Err(err).Str("event", eventType).Msg("Failed to publish event")
	}
}

func organizerFrom(c models.ContactInfo) *models.Participant {
	return &models.Participant{
		ID:              uuid.NewString(),
		FirstName:       c.FirstName,
		LastName:        c.LastName,
		Email:           c.Email,
		Phone:           c.Phone,
		Role:            models.RoleOrganizer,
		RiderType:       c.RiderType,
		InvitationToken: uuid.NewString(),
		AddedBy:         models.AddedBySelf,
	}
}

// validateContact expects a normalized ContactInfo.
func validateContact(c models.ContactInfo) error {
	if c.FirstName == "" || c.LastName == "" {
		return fmt.Errorf("%w: first and last name are required", domain.ErrInvalidRequest)
	}
	if c.Email == "" {
		return fmt.Errorf("%w: email is required", domain.ErrInvalidRequest)
	}
	if _, err := mail.ParseAddress(c.Email); err != nil {
		return fmt.Errorf("%w: invalid email %q", domain.ErrInvalidRequest, c.Email)
	}
	if c.RiderType != models.RiderPilot && c.RiderType != models.RiderPassenger {
		return fmt.Errorf("%w: unknown rider type %q", domain.ErrInvalidRequest, c.RiderType)
	}
	return nil
}

// generateJoinCode returns PREFIX-XXXX from an uppercase alphanumeric alphabet.
func generateJoinCode(prefix string) (string, error) {
	var sb strings.Builder
	sb.WriteString(strings.ToUpper(prefix))
	sb.WriteByte('-')
	limit := big.NewInt(int64(len(joinCodeAlphabet)))
	for i := 0; i < models.JoinCodeSuffixLength; i++ {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		sb.WriteByte(joinCodeAlphabet[n.Int64()])
	}
	return sb.String(), nil
}
