package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"roadbook/internal/domain"
	"roadbook/internal/metrics"
	"roadbook/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// NotificationStore is the part of the database the worker needs.
type NotificationStore interface {
	GetPendingNotifications(ctx context.Context, limit int) ([]*models.Notification, error)
	UpdateNotificationStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error
	GetBooking(ctx context.Context, tenantID, id string) (*models.Booking, error)
	GetParticipant(ctx context.Context, tenantID, bookingID, participantID string) (*models.Participant, error)
	MarkInvitationSent(ctx context.Context, participantID string, at time.Time) error
}

// NotificationWorker drains the notifications outbox through the mailer.
// Booking state is never touched: a failed email only reschedules itself.
type NotificationWorker struct {
	store         NotificationStore
	mailer        domain.Mailer
	redis         *redis.Client
	retryPolicy   RetryPolicy
	baseURL       string
	deadLetterKey string
	pollInterval  time.Duration
	batchSize     int
	logger        *zerolog.Logger
	now           func() time.Time
}

// NewNotificationWorker builds a worker with sane defaults. redisClient may be nil.
func NewNotificationWorker(store NotificationStore, mailer domain.Mailer, redisClient *redis.Client, retry RetryPolicy, baseURL string, logger *zerolog.Logger) *NotificationWorker {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	return &NotificationWorker{
		store:         store,
		mailer:        mailer,
		redis:         redisClient,
		retryPolicy:   retry.withDefaults(),
		baseURL:       baseURL,
		deadLetterKey: "notifications:deadletter",
		pollInterval:  5 * time.Second,
		batchSize:     20,
		logger:        logger,
		now:           time.Now,
	}
}

// WithPolling overrides the poll interval and batch size; zero values keep the defaults.
func (w *NotificationWorker) WithPolling(interval time.Duration, batchSize int) *NotificationWorker {
	if interval > 0 {
		w.pollInterval = interval
	}
	if batchSize > 0 {
		w.batchSize = batchSize
	}
	return w
}

// Start runs the poll loop until ctx is done.
func (w *NotificationWorker) Start(ctx context.Context) {
	w.logger.Info().Dur("poll_interval", w.pollInterval).Msg("Notification worker started")
	defer w.logger.Info().Msg("Notification worker stopped")

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		w.ProcessPending(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ProcessPending delivers one batch of due notifications and returns how many were sent.
func (w *NotificationWorker) ProcessPending(ctx context.Context) int {
	pending, err := w.store.GetPendingNotifications(ctx, w.batchSize)
	if err != nil {
		w.logger.Error().Err(err).Msg("Failed to fetch pending notifications")
		return 0
	}

	sent := 0
	for _, n := range pending {
		if ctx.Err() != nil {
			break
		}
		if w.process(ctx, n) {
			sent++
		}
	}
	return sent
}

func (w *NotificationWorker) process(ctx context.Context, n *models.Notification) bool {
	msg, err := w.buildEmail(ctx, n)
	if err != nil {
		w.fail(ctx, n, err)
		return false
	}

	if !w.mailer.Send(ctx, msg) {
		w.retryOrFail(ctx, n, errors.New("mailer reported failure"))
		return false
	}

	if err := w.store.UpdateNotificationStatus(ctx, n.ID, models.NotificationSent, "", nil); err != nil {
		w.logger.Error().Err(err).Int64("notification_id", n.ID).Msg("Failed to mark notification sent")
	}
	if n.Template == models.TemplateParticipantInvitation && n.ParticipantID != "" {
		if err := w.store.MarkInvitationSent(ctx, n.ParticipantID, w.now()); err != nil {
			w.logger.Warn().Err(err).Str("participant_id", n.ParticipantID).Msg("Failed to stamp invitation")
		}
	}
	metrics.IncNotification(n.Template, models.NotificationSent)
	return true
}

func (w *NotificationWorker) buildEmail(ctx context.Context, n *models.Notification) (models.Email, error) {
	b, err := w.store.GetBooking(ctx, n.TenantID, n.BookingID)
	if err != nil {
		return models.Email{}, fmt.Errorf("load booking %s: %w", n.BookingID, err)
	}

	msg := models.Email{
		To:       n.Recipient,
		Template: n.Template,
		Booking:  b,
		Token:    n.Token,
		BaseURL:  w.baseURL,
	}
	if n.ParticipantID != "" {
		p, err := w.store.GetParticipant(ctx, n.TenantID, n.BookingID, n.ParticipantID)
		if err != nil {
			return models.Email{}, fmt.Errorf("load participant %s: %w", n.ParticipantID, err)
		}
		msg.Participant = p
	}
	return msg, nil
}

func (w *NotificationWorker) retryOrFail(ctx context.Context, n *models.Notification, cause error) {
	attempt := n.RetryCount + 1
	if w.retryPolicy.Exhausted(attempt) {
		w.fail(ctx, n, cause)
		return
	}

	nextTime := w.now().Add(w.retryPolicy.NextDelay(attempt))
	if err := w.store.UpdateNotificationStatus(ctx, n.ID, models.NotificationRetrying, cause.Error(), &nextTime); err != nil {
		w.logger.Error().Err(err).Int64("notification_id", n.ID).Msg("Failed to reschedule notification")
	}
	metrics.IncNotification(n.Template, models.NotificationRetrying)
	w.logger.Warn().
		Err(cause).
		Int64("notification_id", n.ID).
		Int("attempt", attempt).
		Time("next_retry_at", nextTime).
		Msg("Notification delivery failed, will retry")
}

func (w *NotificationWorker) fail(ctx context.Context, n *models.Notification, cause error) {
	if err := w.store.UpdateNotificationStatus(ctx, n.ID, models.NotificationFailed, cause.Error(), nil); err != nil {
		w.logger.Error().Err(err).Int64("notification_id", n.ID).Msg("Failed to mark notification failed")
	}
	metrics.IncNotification(n.Template, models.NotificationFailed)
	w.logger.Error().
		Err(cause).
		Int64("notification_id", n.ID).
		Str("template", n.Template).
		Str("booking_id", n.BookingID).
		Msg("Notification dropped")
	w.pushDeadLetter(ctx, n)
}

func (w *NotificationWorker) pushDeadLetter(ctx context.Context, n *models.Notification) {
	if w.redis == nil {
		return
	}
	data, err := json.Marshal(n)
	if err != nil {
		w.logger.Error().Err(err).Int64("notification_id", n.ID).Msg("Failed to encode dead letter")
		return
	}
	if err := w.redis.LPush(ctx, w.deadLetterKey, data).Err(); err != nil {
		w.logger.Warn().Err(err).Int64("notification_id", n.ID).Msg("Dead letter push failed")
	}
}
