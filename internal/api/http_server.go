package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"roadbook/internal/config"
	"roadbook/internal/domain"
	"roadbook/internal/metrics"
	"roadbook/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// RosterWriter renders a booking's participant roster.
type RosterWriter interface {
	WriteRoster(ctx context.Context, tenantID, bookingID string, w io.Writer) (*models.Booking, error)
}

// BookingAdmin holds admin-only booking switches.
type BookingAdmin interface {
	SetForceReveal(ctx context.Context, tenantID, bookingID string, force bool) error
	ListBookings(ctx context.Context, tenantID string) ([]*models.Booking, error)
}

// Services are the collaborators the HTTP layer dispatches to.
type Services struct {
	Checkout   domain.CheckoutService
	Payments   domain.PaymentEventProcessor
	Gateway    domain.PaymentGateway
	Membership domain.MembershipService
	Resolver   domain.AccessResolver
	Roster     RosterWriter
	Admin      BookingAdmin
	// Cache backs access-link rate limiting; nil disables it.
	Cache domain.CacheRepository
	// Health reports storage readiness; nil means always healthy.
	Health func(ctx context.Context) error
}

// HTTPServer exposes checkout, webhooks, membership and the roadbook view.
type HTTPServer struct {
	cfg      config.APIConfig
	services Services
	auth     *HTTPAuth
	limiter  *rateLimiter
	access   *accessLimiter
	server   *http.Server
	logger   *zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, booking config.BookingConfig, services Services, logger *zerolog.Logger) *HTTPServer {
	srv := &HTTPServer{
		cfg:      cfg,
		services: services,
		auth:     NewHTTPAuth(cfg.Auth),
		limiter:  newRateLimiter(cfg.RateLimit),
		access: &accessLimiter{
			cache:  services.Cache,
			limit:  booking.AccessRateLimit,
			window: booking.AccessRateWindow,
			logger: logger,
		},
		logger: logger,
	}

	mux := http.NewServeMux()
	srv.route(mux, "GET /health", srv.handleHealth)

	srv.route(mux, "POST /api/v1/tenants/{tenant}/trips/{slug}/checkout", srv.handleCheckout)
	srv.route(mux, "GET /api/v1/checkout/sessions/{session}", srv.handleSessionStatus)
	srv.route(mux, "GET /api/v1/tenants/{tenant}/bookings", srv.handleListBookings)
	srv.route(mux, "POST /api/v1/tenants/{tenant}/bookings/{id}/retry-checkout", srv.handleRetryCheckout)
	srv.route(mux, "POST /api/v1/tenants/{tenant}/bookings/{id}/balance-checkout", srv.handleBalanceCheckout)
	srv.route(mux, "POST /api/v1/tenants/{tenant}/bookings/{id}/reveal", srv.handleForceReveal)
	srv.route(mux, "POST /webhooks/stripe", srv.handleStripeWebhook)

	srv.route(mux, "GET /api/v1/bookings/{id}/participants", srv.handleListParticipants)
	srv.route(mux, "POST /api/v1/bookings/{id}/participants", srv.handleAddParticipant)
	srv.route(mux, "DELETE /api/v1/bookings/{id}/participants/{pid}", srv.handleRemoveParticipant)
	srv.route(mux, "POST /api/v1/bookings/{id}/participants/{pid}/resend", srv.handleResendInvitation)
	srv.route(mux, "GET /api/v1/bookings/{id}/roster.xlsx", srv.handleRoster)

	srv.route(mux, "POST /api/v1/invitations/{token}/redeem", srv.handleRedeemInvitation)
	srv.route(mux, "POST /api/v1/access/{token}/redeem", srv.handleRedeemAccess)
	srv.route(mux, "GET /{token}", srv.handleRoadbook)

	handler := srv.loggingMiddleware(srv.limiter.middleware(cfg.Auth.HeaderAPIKey, mux))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	return srv
}

// route registers h under pattern and counts requests per pattern.
func (s *HTTPServer) route(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		metrics.IncHTTP(pattern)
		h(w, r)
	})
}

// Handler returns the full middleware chain.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		s.logger.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote", clientIP(r)).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
