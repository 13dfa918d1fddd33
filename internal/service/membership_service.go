package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"roadbook/internal/domain"
	"roadbook/internal/events"
	"roadbook/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

type MembershipService struct {
	repo     domain.Repository
	eventBus domain.EventPublisher
	logger   *zerolog.Logger
	hashCost int
}

func NewMembershipService(repo domain.Repository, eventBus domain.EventPublisher, logger *zerolog.Logger) *MembershipService {
	return &MembershipService{
		repo:     repo,
		eventBus: eventBus,
		logger:   logger,
		hashCost: bcrypt.DefaultCost,
	}
}

// manageableBooking loads a booking in the actor's tenant and checks the actor may manage it.
func (s *MembershipService) manageableBooking(ctx context.Context, actor models.Actor, bookingID string) (*models.Booking, error) {
	b, err := s.repo.GetBooking(ctx, actor.TenantID, bookingID)
	if err != nil {
		return nil, err
	}
	if !actor.CanManage(b) {
		return nil, fmt.Errorf("user %s on booking %s: %w", actor.UserID, b.ID, domain.ErrForbidden)
	}
	return b, nil
}

// AddParticipant invites a member. Capacity and email uniqueness are checked
// in the same transaction that inserts the row and queues the invitation.
func (s *MembershipService) AddParticipant(ctx context.Context, actor models.Actor, bookingID string, info models.ContactInfo) (*models.Participant, error) {
	info = info.Normalize()
	if err := validateContact(info); err != nil {
		return nil, err
	}

	b, err := s.manageableBooking(ctx, actor, bookingID)
	if err != nil {
		return nil, err
	}

	addedBy := models.AddedByOrganizer
	if actor.IsAdmin() && actor.UserID != b.OrganizerUserID {
		addedBy = models.AddedByAdmin
	}

	p := &models.Participant{
		ID:              uuid.NewString(),
		TenantID:        b.TenantID,
		BookingID:       b.ID,
		FirstName:       info.FirstName,
		LastName:        info.LastName,
		Email:           info.Email,
		Phone:           info.Phone,
		Role:            models.RoleMember,
		RiderType:       info.RiderType,
		InvitationToken: uuid.NewString(),
		AddedBy:         addedBy,
		AddedByUserID:   actor.UserID,
	}
	invitation := &models.Notification{
		TenantID:  b.TenantID,
		Template:  models.TemplateParticipantInvitation,
		Recipient: p.Email,
		BookingID: b.ID,
		Token:     p.InvitationToken,
		Status:    models.NotificationPending,
	}

	if err := s.repo.AddParticipant(ctx, p, invitation); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("booking_id", b.ID).
		Str("participant_id", p.ID).
		Str("added_by", addedBy).
		Msg("Participant added")
	s.publish(events.EventMemberAdded, b, p.FullName(), addedBy)
	return p, nil
}

func (s *MembershipService) RemoveParticipant(ctx context.Context, actor models.Actor, bookingID, participantID string) error {
	b, err := s.manageableBooking(ctx, actor, bookingID)
	if err != nil {
		return err
	}

	if err := s.repo.RemoveParticipant(ctx, b.TenantID, b.ID, participantID); err != nil {
		return err
	}

	s.logger.Info().
		Str("booking_id", b.ID).
		Str("participant_id", participantID).
		Str("actor", actor.UserID).
		Msg("Participant removed")
	s.publish(events.EventMemberRemoved, b, participantID, actor.UserID)
	return nil
}

// ResendInvitation queues the invitation email again with the participant's current token.
func (s *MembershipService) ResendInvitation(ctx context.Context, actor models.Actor, bookingID, participantID string) error {
	b, err := s.manageableBooking(ctx, actor, bookingID)
	if err != nil {
		return err
	}

	p, err := s.repo.GetParticipant(ctx, b.TenantID, b.ID, participantID)
	if err != nil {
		return err
	}
	if p.IsOrganizer() {
		return fmt.Errorf("%w: organizer uses the booking access link", domain.ErrInvalidRequest)
	}
	if p.AccountCreated {
		return fmt.Errorf("%w: participant %s already has an account", domain.ErrInvalidRequest, p.ID)
	}

	template := models.TemplateParticipantInvitation
	if p.AddedBy == models.AddedBySelf {
		template = models.TemplateJoinConfirmation
	}
	n := &models.Notification{
		TenantID:      b.TenantID,
		Template:      template,
		Recipient:     p.Email,
		BookingID:     b.ID,
		ParticipantID: p.ID,
		Token:         p.InvitationToken,
		Status:        models.NotificationPending,
	}
	if err := s.repo.EnqueueNotification(ctx, n); err != nil {
		return err
	}

	s.logger.Info().
		Str("booking_id", b.ID).
		Str("participant_id", p.ID).
		Str("actor", actor.UserID).
		Msg("Invitation resent")
	return nil
}

func (s *MembershipService) ListParticipants(ctx context.Context, actor models.Actor, bookingID string) ([]*models.Participant, models.GroupStats, error) {
	b, err := s.manageableBooking(ctx, actor, bookingID)
	if err != nil {
		return nil, models.GroupStats{}, err
	}

	participants, err := s.repo.ListParticipants(ctx, b.TenantID, b.ID)
	if err != nil {
		return nil, models.GroupStats{}, err
	}
	return participants, models.ComputeGroupStats(participants), nil
}

// RedeemInvitation creates or links the account of the participant holding token.
func (s *MembershipService) RedeemInvitation(ctx context.Context, token string, reg models.Registration) (*models.Redemption, error) {
	if err := validateRegistration(reg); err != nil {
		return nil, err
	}

	p, err := s.repo.GetParticipantByInvitationToken(ctx, strings.TrimSpace(token))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrInvalidOrExpiredInvitation
		}
		return nil, err
	}
	if p.AccountCreated {
		return nil, domain.ErrInvalidOrExpiredInvitation
	}

	b, err := s.repo.GetBooking(ctx, p.TenantID, p.BookingID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrInvalidOrExpiredInvitation
		}
		return nil, err
	}
	return s.redeem(ctx, b, p, reg)
}

// RedeemAccess is the organizer's first registration through the booking access link.
func (s *MembershipService) RedeemAccess(ctx context.Context, token string, reg models.Registration) (*models.Redemption, error) {
	if err := validateRegistration(reg); err != nil {
		return nil, err
	}

	b, err := s.repo.GetBookingByAccessToken(ctx, strings.TrimSpace(token))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrInvalidOrExpiredInvitation
		}
		return nil, err
	}

	p, err := s.repo.GetOrganizerParticipant(ctx, b.TenantID, b.ID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrInvalidOrExpiredInvitation
		}
		return nil, err
	}
	if p.AccountCreated {
		return nil, domain.ErrInvalidOrExpiredInvitation
	}
	return s.redeem(ctx, b, p, reg)
}

// redeem links p to the tenant's user with the same email, or creates one.
// An existing account that already has a password must present it.
func (s *MembershipService) redeem(ctx context.Context, b *models.Booking, p *models.Participant, reg models.Registration) (*models.Redemption, error) {
	user, err := s.repo.GetUserByEmail(ctx, p.TenantID, p.Email)
	createUser := false
	switch {
	case err == nil:
		if user.HasPassword() {
			if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(reg.Password)) != nil {
				return nil, fmt.Errorf("existing account %s: %w", user.Email, domain.ErrForbidden)
			}
		} else {
			hash, err := s.hash(reg.Password)
			if err != nil {
				return nil, err
			}
			user.PasswordHash = hash
		}
	case errors.Is(err, domain.ErrNotFound):
		hash, err := s.hash(reg.Password)
		if err != nil {
			return nil, err
		}
		user = &models.User{
			ID:           uuid.NewString(),
			TenantID:     p.TenantID,
			Email:        p.Email,
			FirstName:    p.FirstName,
			LastName:     p.LastName,
			Phone:        p.Phone,
			PasswordHash: hash,
			Role:         models.UserRoleCustomer,
		}
		createUser = true
	default:
		return nil, err
	}

	applyRegistration(user, reg)
	if err := s.repo.RedeemParticipant(ctx, p, user, createUser); err != nil {
		return nil, err
	}
	if p.IsOrganizer() && b.OrganizerUserID == "" {
		b.OrganizerUserID = user.ID
	}

	s.logger.Info().
		Str("booking_id", b.ID).
		Str("participant_id", p.ID).
		Str("user_id", user.ID).
		Bool("created_user", createUser).
		Msg("Account redeemed")
	s.publish(events.EventAccountRedeemed, b, p.FullName(), user.ID)

	return &models.Redemption{
		User:        user,
		Participant: p,
		Booking:     b,
		CreatedUser: createUser,
	}, nil
}

func (s *MembershipService) hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

func (s *MembershipService) publish(eventType string, b *models.Booking, contact, changedBy string) {
	if s.eventBus == nil {
		return
	}
	payload := events.NewBookingPayload(b, changedBy)
	payload.ContactName = contact
	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Warn().Err(err).Str("event", eventType).Msg("Failed to publish event")
	}
}

func validateRegistration(reg models.Registration) error {
	if len(reg.Password) < models.MinPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", domain.ErrInvalidRequest, models.MinPasswordLength)
	}
	return nil
}

// applyRegistration overrides profile fields the participant chose to supply.
func applyRegistration(u *models.User, reg models.Registration) {
	if v := strings.TrimSpace(reg.FirstName); v != "" {
		u.FirstName = v
	}
	if v := strings.TrimSpace(reg.LastName); v != "" {
		u.LastName = v
	}
	if v := strings.TrimSpace(reg.Phone); v != "" {
		u.Phone = v
	}
}
