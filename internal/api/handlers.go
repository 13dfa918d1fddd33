package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"roadbook/internal/domain"
	"roadbook/internal/export"
	"roadbook/internal/models"
)

const maxWebhookBody = 64 << 10

type forceRevealRequest struct {
	Force bool `json:"force"`
}

type participantsResponse struct {
	Participants []*models.Participant `json:"participants"`
	Stats        models.GroupStats     `json:"stats"`
}

type bookingListItem struct {
	models.BookingSummary
	BookingType     string `json:"booking_type"`
	TotalAmount     int64  `json:"total_amount"`
	DepositAmount   int64  `json:"deposit_amount"`
	RemainingAmount int64  `json:"remaining_amount"`
	PaidPercent     int    `json:"paid_percent"`
}

type redemptionResponse struct {
	SessionToken string `json:"session_token"`
	UserID       string `json:"user_id"`
	BookingID    string `json:"booking_id"`
	CreatedUser  bool   `json:"created_user"`
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.services.Health != nil {
		if err := s.services.Health(r.Context()); err != nil {
			s.logger.Warn().Err(err).Msg("Health check failed")
			writeError(w, http.StatusServiceUnavailable, "storage unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req models.CheckoutRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := s.services.Checkout.StartCheckout(r.Context(), r.PathValue("tenant"), r.PathValue("slug"), req)
	if err != nil {
		s.writeCheckoutError(w, result, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// handleSessionStatus backs the success page the provider redirects to.
func (s *HTTPServer) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	summary, err := s.services.Checkout.SessionStatus(r.Context(), r.PathValue("session"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *HTTPServer) handleListBookings(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant")
	if _, ok := s.requireTenantAdmin(w, r, tenantID, permBookingsWrite); !ok {
		return
	}

	bookings, err := s.services.Admin.ListBookings(r.Context(), tenantID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	items := make([]bookingListItem, 0, len(bookings))
	for _, b := range bookings {
		items = append(items, bookingListItem{
			BookingSummary:  b.Summary(),
			BookingType:     b.BookingType,
			TotalAmount:     b.TotalAmount,
			DepositAmount:   b.DepositAmount,
			RemainingAmount: b.RemainingAmount,
			PaidPercent:     b.PaymentProgress(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": items})
}

func (s *HTTPServer) handleRetryCheckout(w http.ResponseWriter, r *http.Request) {
	result, err := s.services.Checkout.RetryCheckout(r.Context(), r.PathValue("tenant"), r.PathValue("id"))
	if err != nil {
		s.writeCheckoutError(w, result, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleBalanceCheckout(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant")
	if _, ok := s.requireTenantAdmin(w, r, tenantID, permBookingsWrite); !ok {
		return
	}

	result, err := s.services.Checkout.StartBalanceCheckout(r.Context(), tenantID, r.PathValue("id"))
	if err != nil {
		s.writeCheckoutError(w, result, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleForceReveal(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant")
	actor, ok := s.requireTenantAdmin(w, r, tenantID, permBookingsWrite)
	if !ok {
		return
	}

	var req forceRevealRequest
	if !decodeBody(w, r, &req) {
		return
	}

	bookingID := r.PathValue("id")
	if err := s.services.Admin.SetForceReveal(r.Context(), tenantID, bookingID, req.Force); err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.logger.Info().
		Str("tenant_id", tenantID).
		Str("booking_id", bookingID).
		Str("actor", actor.UserID).
		Bool("force", req.Force).
		Msg("Force reveal updated")
	writeJSON(w, http.StatusOK, map[string]any{"booking_id": bookingID, "force_reveal": req.Force})
}

// handleStripeWebhook answers 5xx on processing failures so the provider redelivers.
func (s *HTTPServer) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "cannot read body")
		return
	}

	ev, err := s.services.Gateway.ParseWebhook(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		s.logger.Warn().Err(err).Msg("Rejected webhook delivery")
		writeError(w, http.StatusBadRequest, "invalid webhook")
		return
	}

	if err := s.services.Payments.HandleEvent(r.Context(), ev); err != nil {
		if errors.Is(err, domain.ErrInvalidRequest) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error().Err(err).Str("event_id", ev.ID).Str("type", ev.Type).Msg("Webhook processing failed")
		writeError(w, http.StatusInternalServerError, "processing failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func (s *HTTPServer) handleListParticipants(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.requireActor(w, r, permBookingsWrite)
	if !ok {
		return
	}

	participants, stats, err := s.services.Membership.ListParticipants(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if participants == nil {
		participants = []*models.Participant{}
	}
	writeJSON(w, http.StatusOK, participantsResponse{Participants: participants, Stats: stats})
}

func (s *HTTPServer) handleAddParticipant(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.requireActor(w, r, permBookingsWrite)
	if !ok {
		return
	}

	var info models.ContactInfo
	if !decodeBody(w, r, &info) {
		return
	}

	p, err := s.services.Membership.AddParticipant(r.Context(), actor, r.PathValue("id"), info)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *HTTPServer) handleRemoveParticipant(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.requireActor(w, r, permBookingsWrite)
	if !ok {
		return
	}

	if err := s.services.Membership.RemoveParticipant(r.Context(), actor, r.PathValue("id"), r.PathValue("pid")); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleResendInvitation(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.requireActor(w, r, permBookingsWrite)
	if !ok {
		return
	}

	if err := s.services.Membership.ResendInvitation(r.Context(), actor, r.PathValue("id"), r.PathValue("pid")); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *HTTPServer) handleRoster(w http.ResponseWriter, r *http.Request) {
	actor, err := s.auth.Admin(r, permRosterRead)
	if err != nil {
		writeAuthError(w, err)
		return
	}

	// книга пишется в буфер, чтобы ошибка не оборвала ответ посередине
	var buf bytes.Buffer
	b, err := s.services.Roster.WriteRoster(r.Context(), actor.TenantID, r.PathValue("id"), &buf)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.FileName(b)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (s *HTTPServer) handleRedeemInvitation(w http.ResponseWriter, r *http.Request) {
	var reg models.Registration
	if !decodeBody(w, r, &reg) {
		return
	}

	red, err := s.services.Membership.RedeemInvitation(r.Context(), r.PathValue("token"), reg)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeRedemption(w, red)
}

func (s *HTTPServer) handleRedeemAccess(w http.ResponseWriter, r *http.Request) {
	if !s.access.allow(r.Context(), r) {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var reg models.Registration
	if !decodeBody(w, r, &reg) {
		return
	}

	red, err := s.services.Membership.RedeemAccess(r.Context(), r.PathValue("token"), reg)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeRedemption(w, red)
}

func (s *HTTPServer) writeRedemption(w http.ResponseWriter, red *models.Redemption) {
	token, err := s.auth.IssueToken(red.User)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	status := http.StatusOK
	if red.CreatedUser {
		status = http.StatusCreated
	}
	writeJSON(w, status, redemptionResponse{
		SessionToken: token,
		UserID:       red.User.ID,
		BookingID:    red.Booking.ID,
		CreatedUser:  red.CreatedUser,
	})
}

func (s *HTTPServer) handleRoadbook(w http.ResponseWriter, r *http.Request) {
	if !s.access.allow(r.Context(), r) {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	view, err := s.services.Resolver.Resolve(r.Context(), r.PathValue("token"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *HTTPServer) requireActor(w http.ResponseWriter, r *http.Request, permission string) (models.Actor, bool) {
	actor, err := s.auth.Actor(r, permission)
	if err != nil {
		writeAuthError(w, err)
		return models.Actor{}, false
	}
	return actor, true
}

// requireTenantAdmin accepts only an admin key bound to tenantID.
func (s *HTTPServer) requireTenantAdmin(w http.ResponseWriter, r *http.Request, tenantID, permission string) (models.Actor, bool) {
	actor, err := s.auth.Admin(r, permission)
	if err != nil {
		writeAuthError(w, err)
		return models.Actor{}, false
	}
	if actor.TenantID != tenantID {
		writeError(w, http.StatusForbidden, errPermissionDenied.Error())
		return models.Actor{}, false
	}
	return actor, true
}

func writeAuthError(w http.ResponseWriter, err error) {
	if errors.Is(err, errPermissionDenied) {
		writeError(w, http.StatusForbidden, err.Error())
		return
	}
	writeError(w, http.StatusUnauthorized, errUnauthenticated.Error())
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// writeCheckoutError keeps the booking id of a half-finished checkout so the client can retry.
func (s *HTTPServer) writeCheckoutError(w http.ResponseWriter, result *models.CheckoutResult, err error) {
	if errors.Is(err, domain.ErrPaymentProvider) {
		s.logger.Error().Err(err).Msg("Checkout session creation failed")
		body := map[string]string{"error": "payment provider unavailable"}
		if result != nil && result.BookingID != "" {
			body["booking_id"] = result.BookingID
		}
		writeJSON(w, http.StatusBadGateway, body)
		return
	}
	s.writeDomainError(w, err)
}

func (s *HTTPServer) writeDomainError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error().Err(err).Msg("Request failed")
		writeError(w, status, "internal error")
		return
	}
	if !domain.IsUserFacing(err) {
		// статус сохраняем, подробности только в лог
		s.logger.Warn().Err(err).Int("status", status).Msg("Request failed")
		writeError(w, status, strings.ToLower(http.StatusText(status)))
		return
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidRequest),
		errors.Is(err, domain.ErrInvalidPricingPolicy),
		errors.Is(err, domain.ErrInvalidJoinCode),
		errors.Is(err, domain.ErrInvalidOrExpiredInvitation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrLinkNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrBookingFull),
		errors.Is(err, domain.ErrDuplicateEmail),
		errors.Is(err, domain.ErrCannotRemoveOrganizer),
		errors.Is(err, domain.ErrConcurrentModification):
		return http.StatusConflict
	case errors.Is(err, domain.ErrPaymentProvider):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
