package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"roadbook/internal/config"
	"roadbook/internal/database"
	"roadbook/internal/domain"
	"roadbook/internal/events"
	"roadbook/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testTenant = "tenant-a"

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) CreateCheckoutSession(ctx context.Context, req models.SessionRequest) (*models.CheckoutSession, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.CheckoutSession), args.Error(1)
}

func (m *mockGateway) ParseWebhook(payload []byte, signature string) (*models.PaymentEvent, error) {
	args := m.Called(payload, signature)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PaymentEvent), args.Error(1)
}

// expectSession makes the gateway answer the next call and stores the request in *got.
func (m *mockGateway) expectSession(id string, got *models.SessionRequest) {
	m.On("CreateCheckoutSession", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			if got != nil {
				*got = args.Get(1).(models.SessionRequest)
			}
		}).
		Return(&models.CheckoutSession{ID: id, URL: "https://checkout.test/" + id}, nil).
		Once()
}

// recordingBus collects published events by type.
type recordingBus struct {
	mu     sync.Mutex
	events map[string][]events.BookingEventPayload
}

func newRecordingBus() *recordingBus {
	return &recordingBus{events: make(map[string][]events.BookingEventPayload)}
}

func (b *recordingBus) PublishJSON(eventType string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	var p events.BookingEventPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[eventType] = append(b.events[eventType], p)
	return nil
}

func (b *recordingBus) count(eventType string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events[eventType])
}

func testLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

func setupRepo(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.NewDB(":memory:", testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func testItinerary(name string) *models.Itinerary {
	return &models.Itinerary{
		SchemaVersion: models.ItinerarySchemaVersion,
		Name:          name,
		Title:         name,
		MapImage:      "map.png",
		Days: []models.Day{
			{Day: 1, Title: "Chamonix", Description: "Col des Montets", DistanceKM: 160, HotelID: "h1", POIIDs: []string{"p1", "p2"}},
			{Day: 2, Title: "Val d'Isère", Description: "Col de l'Iseran", DistanceKM: 210, HotelID: "h1"},
		},
	}
}

// seedTrip stores an active published trip: 500.00 per person, 100.00 deposit per person.
func seedTrip(t *testing.T, db *database.DB, slug string) *models.PublishedTrip {
	t.Helper()
	start := time.Date(2025, 7, 10, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 5)
	trip := &models.PublishedTrip{
		Slug:           slug,
		TenantID:       testTenant,
		Title:          "Alpes " + slug,
		PricePerPerson: 50000,
		Currency:       "EUR",
		DepositPolicy:  models.DepositPolicy{Type: models.DepositFixedPerPerson, Value: 10000},
		StartDate:      &start,
		EndDate:        &end,
		IsActive:       true,
		Itinerary:      testItinerary("Alpes " + slug),
	}
	require.NoError(t, db.UpsertPublishedTrip(context.Background(), trip))
	return trip
}

// seedUser stores an account that exists before any booking touches it.
func seedUser(t *testing.T, db *database.DB, u *models.User) {
	t.Helper()
	now := time.Now().UTC()
	_, err := db.ExecContext(context.Background(),
		`INSERT INTO users (id, tenant_id, email, first_name, last_name, phone, password_hash,
			role, is_active, email_verified, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.TenantID, models.NormalizeEmail(u.Email), u.FirstName, u.LastName, u.Phone, u.PasswordHash,
		models.UserRoleCustomer, u.IsActive, u.EmailVerified, now, now,
	)
	require.NoError(t, err)
}

func newTestCheckout(t *testing.T, db *database.DB, gw *mockGateway, bus domain.EventPublisher) *CheckoutService {
	t.Helper()
	bookingCfg := config.BookingConfig{BaseURL: "https://roadbook.test"}
	stripeCfg := config.StripeConfig{
		Currency:   "eur",
		SuccessURL: "https://roadbook.test/trips/{slug}/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:  "https://roadbook.test/trips/{slug}",
	}
	return NewCheckoutService(db, gw, bus, bookingCfg, stripeCfg, testLogger())
}

func contact(email string) models.ContactInfo {
	return models.ContactInfo{
		FirstName: "Marco",
		LastName:  "Rossi",
		Email:     email,
		Phone:     "+39 333 000000",
		RiderType: models.RiderPilot,
	}
}

// createPaidGroup runs a group_leader checkout and confirms it through the payment processor.
func createPaidGroup(t *testing.T, db *database.DB, slug string, partySize int) *models.Booking {
	t.Helper()
	ctx := context.Background()
	gw := new(mockGateway)
	gw.expectSession("cs_group_"+slug, nil)
	svc := newTestCheckout(t, db, gw, nil)

	res, err := svc.StartCheckout(ctx, testTenant, slug, models.CheckoutRequest{
		BookingType: models.BookingTypeGroupLeader,
		Contact:     contact("leader@example.com"),
		PartySize:   partySize,
		PaymentMode: models.PaymentModeSelf,
	})
	require.NoError(t, err)

	proc := NewPaymentProcessor(db, nil, testLogger())
	require.NoError(t, proc.HandleEvent(ctx, completedEvent("evt_group_"+slug, res.SessionID, res.BookingID, models.BookingTypeGroupLeader, 50000)))

	b, err := db.GetBooking(ctx, testTenant, res.BookingID)
	require.NoError(t, err)
	return b
}

func completedEvent(id, sessionID, bookingID, bookingType string, amount int64) *models.PaymentEvent {
	return &models.PaymentEvent{
		ID:              id,
		Type:            models.EventCheckoutCompleted,
		SessionID:       sessionID,
		PaymentIntentID: "pi_" + id,
		AmountTotal:     amount,
		Metadata: map[string]string{
			models.MetaBookingID:   bookingID,
			models.MetaTenantID:    testTenant,
			models.MetaAction:      models.ActionCreateBooking,
			models.MetaBookingType: bookingType,
		},
	}
}

func joinEvent(id, sessionID, bookingID, email string) *models.PaymentEvent {
	return &models.PaymentEvent{
		ID:          id,
		Type:        models.EventCheckoutCompleted,
		SessionID:   sessionID,
		AmountTotal: 50000,
		Metadata: map[string]string{
			models.MetaBookingID:        bookingID,
			models.MetaTenantID:         testTenant,
			models.MetaAction:           models.ActionJoinGroup,
			models.MetaBookingType:      models.BookingTypeJoinGroup,
			models.MetaParticipantFirst: "Giulia",
			models.MetaParticipantLast:  fmt.Sprintf("Joiner %s", id),
			models.MetaParticipantEmail: email,
			models.MetaParticipantRider: models.RiderPassenger,
		},
	}
}
