package api

import (
	"context"
	"fmt"
	"io"

	"roadbook/internal/domain"
	"roadbook/internal/models"

	"github.com/stretchr/testify/mock"
)

type MockCheckout struct {
	mock.Mock
}

func (m *MockCheckout) StartCheckout(ctx context.Context, tenantID, slug string, req models.CheckoutRequest) (*models.CheckoutResult, error) {
	args := m.Called(ctx, tenantID, slug, req)
	res, _ := args.Get(0).(*models.CheckoutResult)
	return res, args.Error(1)
}

func (m *MockCheckout) RetryCheckout(ctx context.Context, tenantID, bookingID string) (*models.CheckoutResult, error) {
	args := m.Called(ctx, tenantID, bookingID)
	res, _ := args.Get(0).(*models.CheckoutResult)
	return res, args.Error(1)
}

func (m *MockCheckout) StartBalanceCheckout(ctx context.Context, tenantID, bookingID string) (*models.CheckoutResult, error) {
	args := m.Called(ctx, tenantID, bookingID)
	res, _ := args.Get(0).(*models.CheckoutResult)
	return res, args.Error(1)
}

func (m *MockCheckout) SessionStatus(ctx context.Context, sessionID string) (*models.BookingSummary, error) {
	args := m.Called(ctx, sessionID)
	res, _ := args.Get(0).(*models.BookingSummary)
	return res, args.Error(1)
}

type MockProcessor struct {
	mock.Mock
}

func (m *MockProcessor) HandleEvent(ctx context.Context, ev *models.PaymentEvent) error {
	return m.Called(ctx, ev).Error(0)
}

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) CreateCheckoutSession(ctx context.Context, req models.SessionRequest) (*models.CheckoutSession, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*models.CheckoutSession)
	return res, args.Error(1)
}

func (m *MockGateway) ParseWebhook(payload []byte, signature string) (*models.PaymentEvent, error) {
	args := m.Called(payload, signature)
	res, _ := args.Get(0).(*models.PaymentEvent)
	return res, args.Error(1)
}

type MockMembership struct {
	mock.Mock
}

func (m *MockMembership) AddParticipant(ctx context.Context, actor models.Actor, bookingID string, info models.ContactInfo) (*models.Participant, error) {
	args := m.Called(ctx, actor, bookingID, info)
	res, _ := args.Get(0).(*models.Participant)
	return res, args.Error(1)
}

func (m *MockMembership) RemoveParticipant(ctx context.Context, actor models.Actor, bookingID, participantID string) error {
	return m.Called(ctx, actor, bookingID, participantID).Error(0)
}

func (m *MockMembership) ResendInvitation(ctx context.Context, actor models.Actor, bookingID, participantID string) error {
	return m.Called(ctx, actor, bookingID, participantID).Error(0)
}

func (m *MockMembership) ListParticipants(ctx context.Context, actor models.Actor, bookingID string) ([]*models.Participant, models.GroupStats, error) {
	args := m.Called(ctx, actor, bookingID)
	res, _ := args.Get(0).([]*models.Participant)
	return res, args.Get(1).(models.GroupStats), args.Error(2)
}

func (m *MockMembership) RedeemInvitation(ctx context.Context, token string, reg models.Registration) (*models.Redemption, error) {
	args := m.Called(ctx, token, reg)
	res, _ := args.Get(0).(*models.Redemption)
	return res, args.Error(1)
}

func (m *MockMembership) RedeemAccess(ctx context.Context, token string, reg models.Registration) (*models.Redemption, error) {
	args := m.Called(ctx, token, reg)
	res, _ := args.Get(0).(*models.Redemption)
	return res, args.Error(1)
}

type MockResolver struct {
	mock.Mock
}

func (m *MockResolver) Resolve(ctx context.Context, token string) (*models.RoadbookView, error) {
	args := m.Called(ctx, token)
	res, _ := args.Get(0).(*models.RoadbookView)
	return res, args.Error(1)
}

type MockAdmin struct {
	mock.Mock
}

func (m *MockAdmin) SetForceReveal(ctx context.Context, tenantID, bookingID string, force bool) error {
	return m.Called(ctx, tenantID, bookingID, force).Error(0)
}

func (m *MockAdmin) ListBookings(ctx context.Context, tenantID string) ([]*models.Booking, error) {
	args := m.Called(ctx, tenantID)
	res, _ := args.Get(0).([]*models.Booking)
	return res, args.Error(1)
}

// fakeRoster writes a fixed payload for known bookings.
type fakeRoster struct {
	bookings map[string]*models.Booking
}

func (f *fakeRoster) WriteRoster(_ context.Context, tenantID, bookingID string, w io.Writer) (*models.Booking, error) {
	b, ok := f.bookings[bookingID]
	if !ok || b.TenantID != tenantID {
		return nil, fmt.Errorf("booking %s: %w", bookingID, domain.ErrNotFound)
	}
	_, err := io.WriteString(w, "xlsx-bytes")
	return b, err
}
