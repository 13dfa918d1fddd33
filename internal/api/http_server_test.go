package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"roadbook/internal/config"
	"roadbook/internal/domain"
	"roadbook/internal/models"
	"roadbook/internal/repository"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	testTenant = "tenant-a"
	adminKey   = "admin-key"
	rosterKey  = "roster-only"
	otherKey   = "other-tenant"
)

type testDeps struct {
	checkout   *MockCheckout
	processor  *MockProcessor
	gateway    *MockGateway
	membership *MockMembership
	resolver   *MockResolver
	admin      *MockAdmin
	roster     *fakeRoster
	cache      *repository.MemoryCacheRepository
}

func testAPIConfig() config.APIConfig {
	return config.APIConfig{
		Enabled: true,
		HTTP:    config.APIHTTPConfig{Enabled: true, Port: 0},
		Auth: config.APIAuthConfig{
			Enabled:      true,
			HeaderAPIKey: "x-api-key",
			JWTSecret:    "test-secret",
			JWTTTL:       time.Hour,
			JWTIssuer:    "roadbook",
			APIKeys: []config.APIClientKey{
				{Key: adminKey, Name: "ops", TenantID: testTenant},
				{Key: rosterKey, Name: "guide", TenantID: testTenant, Permissions: []string{permRosterRead}},
				{Key: otherKey, Name: "elsewhere", TenantID: "tenant-b"},
			},
		},
	}
}

func newTestServer(t *testing.T) (*HTTPServer, *testDeps) {
	t.Helper()
	deps := &testDeps{
		checkout:   new(MockCheckout),
		processor:  new(MockProcessor),
		gateway:    new(MockGateway),
		membership: new(MockMembership),
		resolver:   new(MockResolver),
		admin:      new(MockAdmin),
		roster:     &fakeRoster{bookings: map[string]*models.Booking{}},
		cache:      repository.NewMemoryCacheRepository(),
	}
	logger := zerolog.Nop()
	srv := NewHTTPServer(testAPIConfig(), config.BookingConfig{AccessRateLimit: 3, AccessRateWindow: time.Minute}, Services{
		Checkout:   deps.checkout,
		Payments:   deps.processor,
		Gateway:    deps.gateway,
		Membership: deps.membership,
		Resolver:   deps.resolver,
		Roster:     deps.roster,
		Admin:      deps.admin,
		Cache:      deps.cache,
	}, &logger)
	return srv, deps
}

func do(srv *HTTPServer, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := do(srv, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	srv.services.Health = func(_ context.Context) error { return errors.New("disk full") }
	rec = do(srv, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCheckout(t *testing.T) {
	srv, deps := newTestServer(t)

	deps.checkout.On("StartCheckout", mock.Anything, testTenant, "alps", mock.MatchedBy(func(req models.CheckoutRequest) bool {
		return req.BookingType == models.BookingTypeGroupLeader && req.PartySize == 4
	})).Return(&models.CheckoutResult{
		BookingID:   "b-1",
		SessionID:   "cs_1",
		CheckoutURL: "https://checkout.test/cs_1",
		JoinCode:    "TRIP-AB12",
	}, nil).Once()

	body := `{"booking_type":"group_leader","party_size":4,"contact":{"first_name":"Marco","email":"m@example.com"}}`
	rec := do(srv, http.MethodPost, "/api/v1/tenants/tenant-a/trips/alps/checkout", body, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	out := decode(t, rec)
	assert.Equal(t, "b-1", out["booking_id"])
	assert.Equal(t, "TRIP-AB12", out["join_code"])
	deps.checkout.AssertExpectations(t)
}

func TestCheckout_Errors(t *testing.T) {
	tests := []struct {
		name       string
		result     *models.CheckoutResult
		err        error
		wantStatus int
		wantID     string
	}{
		{"invalid request", nil, fmt.Errorf("%w: party size", domain.ErrInvalidRequest), http.StatusBadRequest, ""},
		{"invalid join code", nil, domain.ErrInvalidJoinCode, http.StatusBadRequest, ""},
		{"unknown trip", nil, domain.ErrNotFound, http.StatusNotFound, ""},
		{"group full", nil, domain.ErrBookingFull, http.StatusConflict, ""},
		{"provider down keeps booking id", &models.CheckoutResult{BookingID: "b-9"}, fmt.Errorf("%w: timeout", domain.ErrPaymentProvider), http.StatusBadGateway, "b-9"},
		{"unexpected", nil, errors.New("boom"), http.StatusInternalServerError, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, deps := newTestServer(t)
			deps.checkout.On("StartCheckout", mock.Anything, testTenant, "alps", mock.Anything).Return(tt.result, tt.err)

			rec := do(srv, http.MethodPost, "/api/v1/tenants/tenant-a/trips/alps/checkout", `{"booking_type":"individual"}`, nil)
			assert.Equal(t, tt.wantStatus, rec.Code)
			out := decode(t, rec)
			if tt.wantID != "" {
				assert.Equal(t, tt.wantID, out["booking_id"])
			}
			if tt.wantStatus == http.StatusInternalServerError {
				assert.Equal(t, "internal error", out["error"])
			}
		})
	}

	t.Run("malformed body", func(t *testing.T) {
		srv, _ := newTestServer(t)
		rec := do(srv, http.MethodPost, "/api/v1/tenants/tenant-a/trips/alps/checkout", `{"booking_type":`, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestRetryAndBalanceCheckout(t *testing.T) {
	srv, deps := newTestServer(t)
	deps.checkout.On("RetryCheckout", mock.Anything, testTenant, "b-1").Return(&models.CheckoutResult{BookingID: "b-1", SessionID: "cs_2"}, nil)
	deps.checkout.On("StartBalanceCheckout", mock.Anything, testTenant, "b-1").Return(&models.CheckoutResult{BookingID: "b-1", SessionID: "cs_3"}, nil)

	rec := do(srv, http.MethodPost, "/api/v1/tenants/tenant-a/bookings/b-1/retry-checkout", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cs_2", decode(t, rec)["session_id"])

	tests := []struct {
		name       string
		headers    map[string]string
		wantStatus int
	}{
		{"anonymous", nil, http.StatusUnauthorized},
		{"unknown key", map[string]string{"x-api-key": "nope"}, http.StatusUnauthorized},
		{"missing permission", map[string]string{"x-api-key": rosterKey}, http.StatusForbidden},
		{"other tenant", map[string]string{"x-api-key": otherKey}, http.StatusForbidden},
		{"admin", map[string]string{"x-api-key": adminKey}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(srv, http.MethodPost, "/api/v1/tenants/tenant-a/bookings/b-1/balance-checkout", "", tt.headers)
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
	deps.checkout.AssertNumberOfCalls(t, "StartBalanceCheckout", 1)
}

func TestForceReveal(t *testing.T) {
	srv, deps := newTestServer(t)
	deps.admin.On("SetForceReveal", mock.Anything, testTenant, "b-1", true).Return(nil).Once()
	deps.admin.On("SetForceReveal", mock.Anything, testTenant, "missing", true).Return(domain.ErrNotFound).Once()

	rec := do(srv, http.MethodPost, "/api/v1/tenants/tenant-a/bookings/b-1/reveal", `{"force":true}`, map[string]string{"x-api-key": adminKey})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["force_reveal"])

	rec = do(srv, http.MethodPost, "/api/v1/tenants/tenant-a/bookings/missing/reveal", `{"force":true}`, map[string]string{"x-api-key": adminKey})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(srv, http.MethodPost, "/api/v1/tenants/tenant-a/bookings/b-1/reveal", `{"force":true}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	deps.admin.AssertExpectations(t)
}

func TestSessionStatus(t *testing.T) {
	srv, deps := newTestServer(t)
	deps.checkout.On("SessionStatus", mock.Anything, "cs_1").
		Return(&models.BookingSummary{ID: "b-1", Status: models.StatusConfirmed, PaymentStatus: models.PaymentDepositPaid, JoinCode: "TRIP-AB12"}, nil)
	deps.checkout.On("SessionStatus", mock.Anything, "cs_unknown").Return(nil, fmt.Errorf("booking: %w", domain.ErrNotFound))

	rec := do(srv, http.MethodGet, "/api/v1/checkout/sessions/cs_1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, "b-1", out["id"])
	assert.Equal(t, models.PaymentDepositPaid, out["payment_status"])
	assert.Equal(t, "TRIP-AB12", out["join_code"])

	rec = do(srv, http.MethodGet, "/api/v1/checkout/sessions/cs_unknown", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	deps.checkout.AssertExpectations(t)
}

func TestListBookings(t *testing.T) {
	srv, deps := newTestServer(t)
	deps.admin.On("ListBookings", mock.Anything, testTenant).Return([]*models.Booking{
		{ID: "b-1", BookingType: models.BookingTypeGroupLeader, TotalAmount: 200000, DepositAmount: 50000, RemainingAmount: 150000},
		{ID: "b-2", BookingType: models.BookingTypeIndividual, TotalAmount: 50000, DepositAmount: 50000},
	}, nil).Once()

	rec := do(srv, http.MethodGet, "/api/v1/tenants/tenant-a/bookings", "", map[string]string{"x-api-key": adminKey})
	require.Equal(t, http.StatusOK, rec.Code)
	var out struct {
		Bookings []bookingListItem `json:"bookings"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.Bookings, 2)
	assert.Equal(t, "b-1", out.Bookings[0].ID)
	assert.Equal(t, 25, out.Bookings[0].PaidPercent)
	assert.Equal(t, int64(150000), out.Bookings[0].RemainingAmount)
	assert.Equal(t, 100, out.Bookings[1].PaidPercent)

	rec = do(srv, http.MethodGet, "/api/v1/tenants/tenant-a/bookings", "", map[string]string{"x-api-key": otherKey})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = do(srv, http.MethodGet, "/api/v1/tenants/tenant-a/bookings", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	deps.admin.AssertExpectations(t)
}

func TestStripeWebhook(t *testing.T) {
	ev := &models.PaymentEvent{ID: "evt_1", Type: models.EventCheckoutCompleted}

	tests := []struct {
		name       string
		parseErr   error
		handleErr  error
		wantStatus int
	}{
		{"processed", nil, nil, http.StatusOK},
		{"bad signature", domain.ErrSignatureVerificationFailed, nil, http.StatusBadRequest},
		{"missing metadata", nil, fmt.Errorf("%w: no booking id", domain.ErrInvalidRequest), http.StatusBadRequest},
		{"storage failure asks for redelivery", nil, errors.New("db locked"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, deps := newTestServer(t)
			if tt.parseErr != nil {
				deps.gateway.On("ParseWebhook", []byte(`{"id":"evt_1"}`), "t=1,v1=sig").Return(nil, tt.parseErr)
			} else {
				deps.gateway.On("ParseWebhook", []byte(`{"id":"evt_1"}`), "t=1,v1=sig").Return(ev, nil)
				deps.processor.On("HandleEvent", mock.Anything, ev).Return(tt.handleErr)
			}

			rec := do(srv, http.MethodPost, "/webhooks/stripe", `{"id":"evt_1"}`, map[string]string{"Stripe-Signature": "t=1,v1=sig"})
			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, true, decode(t, rec)["received"])
			}
			deps.gateway.AssertExpectations(t)
			deps.processor.AssertExpectations(t)
		})
	}
}

func TestParticipants(t *testing.T) {
	srv, deps := newTestServer(t)
	user := &models.User{ID: "org-1", TenantID: testTenant, Role: models.UserRoleCustomer}
	token, err := srv.auth.IssueToken(user)
	require.NoError(t, err)
	bearer := map[string]string{"Authorization": "Bearer " + token}
	organizer := models.Actor{UserID: "org-1", TenantID: testTenant, Role: models.UserRoleCustomer}

	deps.membership.On("ListParticipants", mock.Anything, organizer, "b-1").Return([]*models.Participant{
		{ID: "p-1", FirstName: "Marco", Role: models.RoleOrganizer},
	}, models.GroupStats{Pilots: 1, TotalPeople: 1}, nil)
	deps.membership.On("AddParticipant", mock.Anything, organizer, "b-1", models.ContactInfo{FirstName: "Luca", Email: "luca@example.com"}).
		Return(&models.Participant{ID: "p-2", FirstName: "Luca"}, nil)
	deps.membership.On("AddParticipant", mock.Anything, organizer, "b-full", mock.Anything).Return(nil, domain.ErrBookingFull)
	deps.membership.On("RemoveParticipant", mock.Anything, organizer, "b-1", "p-1").Return(domain.ErrCannotRemoveOrganizer)
	deps.membership.On("RemoveParticipant", mock.Anything, organizer, "b-1", "p-2").Return(nil)
	deps.membership.On("ResendInvitation", mock.Anything, organizer, "b-1", "p-2").Return(nil)
	deps.membership.On("ResendInvitation", mock.Anything, organizer, "b-1", "p-1").
		Return(fmt.Errorf("%w: organizer uses the booking access link", domain.ErrInvalidRequest))

	rec := do(srv, http.MethodGet, "/api/v1/bookings/b-1/participants", "", bearer)
	require.Equal(t, http.StatusOK, rec.Code)
	var list participantsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list.Participants, 1)
	assert.Equal(t, 1, list.Stats.Pilots)

	rec = do(srv, http.MethodPost, "/api/v1/bookings/b-1/participants", `{"first_name":"Luca","email":"luca@example.com"}`, bearer)
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = do(srv, http.MethodPost, "/api/v1/bookings/b-full/participants", `{"first_name":"Ada"}`, bearer)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(srv, http.MethodDelete, "/api/v1/bookings/b-1/participants/p-1", "", bearer)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(srv, http.MethodDelete, "/api/v1/bookings/b-1/participants/p-2", "", bearer)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(srv, http.MethodPost, "/api/v1/bookings/b-1/participants/p-2/resend", "", bearer)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = do(srv, http.MethodPost, "/api/v1/bookings/b-1/participants/p-1/resend", "", bearer)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(srv, http.MethodGet, "/api/v1/bookings/b-1/participants", "", map[string]string{"Authorization": "Bearer junk"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	deps.membership.AssertExpectations(t)
}

func TestParticipants_AdminKeyActsForTenant(t *testing.T) {
	srv, deps := newTestServer(t)
	admin := models.Actor{UserID: "apikey:ops", TenantID: testTenant, Role: models.UserRoleAdmin}
	deps.membership.On("ListParticipants", mock.Anything, admin, "b-1").Return(nil, models.GroupStats{}, domain.ErrForbidden)

	rec := do(srv, http.MethodGet, "/api/v1/bookings/b-1/participants", "", map[string]string{"x-api-key": adminKey})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	deps.membership.AssertExpectations(t)
}

func TestRoster(t *testing.T) {
	srv, deps := newTestServer(t)
	deps.roster.bookings["b-1"] = &models.Booking{ID: "b-1", TenantID: testTenant, TripSlug: "alps"}

	rec := do(srv, http.MethodGet, "/api/v1/bookings/b-1/roster.xlsx", "", map[string]string{"x-api-key": rosterKey})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "xlsx-bytes", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "roster_alps_b-1.xlsx")

	rec = do(srv, http.MethodGet, "/api/v1/bookings/b-1/roster.xlsx", "", map[string]string{"x-api-key": otherKey})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(srv, http.MethodGet, "/api/v1/bookings/b-1/roster.xlsx", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRedeem(t *testing.T) {
	srv, deps := newTestServer(t)
	redemption := &models.Redemption{
		User:        &models.User{ID: "u-1", TenantID: testTenant, Role: models.UserRoleCustomer},
		Booking:     &models.Booking{ID: "b-1"},
		Participant: &models.Participant{ID: "p-2"},
		CreatedUser: true,
	}
	reg := models.Registration{Password: "s3cret-pass"}
	deps.membership.On("RedeemInvitation", mock.Anything, "inv-1", reg).Return(redemption, nil)
	deps.membership.On("RedeemInvitation", mock.Anything, "inv-gone", reg).Return(nil, domain.ErrInvalidOrExpiredInvitation)
	deps.membership.On("RedeemAccess", mock.Anything, "acc-1", reg).Return(redemption, nil)

	rec := do(srv, http.MethodPost, "/api/v1/invitations/inv-1/redeem", `{"password":"s3cret-pass"}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var out redemptionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "u-1", out.UserID)
	assert.Equal(t, "b-1", out.BookingID)

	actor, err := srv.auth.ParseToken(out.SessionToken)
	require.NoError(t, err)
	assert.Equal(t, "u-1", actor.UserID)
	assert.Equal(t, testTenant, actor.TenantID)

	rec = do(srv, http.MethodPost, "/api/v1/invitations/inv-gone/redeem", `{"password":"s3cret-pass"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(srv, http.MethodPost, "/api/v1/access/acc-1/redeem", `{"password":"s3cret-pass"}`, nil)
	assert.Equal(t, http.StatusCreated, rec.Code)
	deps.membership.AssertExpectations(t)
}

func TestRoadbook(t *testing.T) {
	srv, deps := newTestServer(t)
	b := &models.Booking{ID: "b-1", TripTitle: "Alpes"}
	view := models.NewRoadbookView(b, nil)
	view.Source = models.SourceSnapshot
	view.Itinerary = &models.Itinerary{Name: "Alpes"}
	deps.resolver.On("Resolve", mock.Anything, "acc-1").Return(view, nil)
	deps.resolver.On("Resolve", mock.Anything, "nope").Return(nil, domain.ErrLinkNotFound)

	rec := do(srv, http.MethodGet, "/acc-1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, models.SourceSnapshot, out["source"])
	assert.Equal(t, "b-1", out["booking"].(map[string]any)["id"])

	rec = do(srv, http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// limit is 3 per window per address
	rec = do(srv, http.MethodGet, "/acc-1", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = do(srv, http.MethodGet, "/acc-1", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrInvalidPricingPolicy, http.StatusBadRequest},
		{domain.ErrLinkNotFound, http.StatusNotFound},
		{domain.ErrDuplicateEmail, http.StatusConflict},
		{domain.ErrConcurrentModification, http.StatusConflict},
		{fmt.Errorf("wrap: %w", domain.ErrForbidden), http.StatusForbidden},
		{domain.ErrPaymentProvider, http.StatusBadGateway},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

func TestWriteDomainError(t *testing.T) {
	srv, _ := newTestServer(t)

	tests := []struct {
		name   string
		err    error
		status int
		body   string
	}{
		{"user facing keeps message", fmt.Errorf("booking b-1: %w", domain.ErrBookingFull), http.StatusConflict, "booking b-1: booking is full"},
		{"concurrent update is hidden", fmt.Errorf("booking b-1 version 3: %w", domain.ErrConcurrentModification), http.StatusConflict, "conflict"},
		{"unknown failure", errors.New("disk I/O error"), http.StatusInternalServerError, "internal error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			srv.writeDomainError(rec, tt.err)
			assert.Equal(t, tt.status, rec.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.body, body["error"])
		})
	}
}
