package worker

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"roadbook/internal/database"
	"roadbook/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func TestProcessNotificationSuccess(t *testing.T) {
	db := newTestDB(t)
	mailer := &fakeMailer{ok: true}
	worker := NewNotificationWorker(db, mailer, nil, RetryPolicy{}, "https://roadbook.test", nil)

	b, member := seedBooking(t, db)
	n := enqueue(t, db, b, member.ID, models.TemplateParticipantInvitation, member.InvitationToken)

	ctx := context.Background()
	if sent := worker.ProcessPending(ctx); sent != 1 {
		t.Fatalf("expected 1 sent, got %d", sent)
	}

	status, retryCount, nextRetry := loadNotificationStatus(t, db, n.ID)
	if status != models.NotificationSent {
		t.Fatalf("expected status=sent, got %s", status)
	}
	if retryCount != 0 {
		t.Fatalf("expected retry_count=0, got %d", retryCount)
	}
	if nextRetry.Valid {
		t.Fatalf("expected next_retry_at NULL on success")
	}

	if len(mailer.sent) != 1 {
		t.Fatalf("expected 1 email, got %d", len(mailer.sent))
	}
	msg := mailer.sent[0]
	if msg.To != member.Email || msg.Token != member.InvitationToken || msg.BaseURL != "https://roadbook.test" {
		t.Fatalf("unexpected email: %+v", msg)
	}
	if msg.Participant == nil || msg.Participant.ID != member.ID {
		t.Fatalf("expected participant attached, got %+v", msg.Participant)
	}

	p, err := db.GetParticipant(ctx, b.TenantID, b.ID, member.ID)
	if err != nil {
		t.Fatalf("get participant: %v", err)
	}
	if p.InvitationSentAt == nil {
		t.Fatalf("expected invitation_sent_at to be stamped")
	}

	if sent := worker.ProcessPending(ctx); sent != 0 {
		t.Fatalf("expected nothing left to send, got %d", sent)
	}
}

func TestProcessNotificationRetry(t *testing.T) {
	db := newTestDB(t)
	mailer := &fakeMailer{ok: false}
	worker := NewNotificationWorker(db, mailer, nil, RetryPolicy{MaxRetries: 3, InitialDelay: time.Second}, "", nil)

	b, _ := seedBooking(t, db)
	n := enqueue(t, db, b, "", models.TemplateBookingConfirmation, b.AccessToken)

	worker.ProcessPending(context.Background())

	status, retryCount, nextRetry := loadNotificationStatus(t, db, n.ID)
	if status != models.NotificationRetrying {
		t.Fatalf("expected status=retrying, got %s", status)
	}
	if retryCount != 1 {
		t.Fatalf("expected retry_count=1, got %d", retryCount)
	}
	if !nextRetry.Valid || nextRetry.Time.Before(time.Now()) {
		t.Fatalf("expected next_retry_at in future, got %v", nextRetry)
	}

	// not due yet
	worker.ProcessPending(context.Background())
	if len(mailer.sent) != 1 {
		t.Fatalf("expected a single attempt before the retry is due, got %d", len(mailer.sent))
	}
}

func TestProcessNotificationFail(t *testing.T) {
	db := newTestDB(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	mailer := &fakeMailer{ok: false}
	worker := NewNotificationWorker(db, mailer, rdb, RetryPolicy{MaxRetries: 1}, "", nil)

	b, _ := seedBooking(t, db)
	n := enqueue(t, db, b, "", models.TemplateBookingConfirmation, b.AccessToken)

	worker.ProcessPending(context.Background())

	status, _, _ := loadNotificationStatus(t, db, n.ID)
	if status != models.NotificationFailed {
		t.Fatalf("expected status=failed, got %s", status)
	}

	dead, err := mr.List("notifications:deadletter")
	if err != nil {
		t.Fatalf("dead letter list: %v", err)
	}
	if len(dead) != 1 {
		t.Fatalf("expected 1 dead letter, got %d", len(dead))
	}
}

func TestProcessNotificationUnknownBooking(t *testing.T) {
	db := newTestDB(t)
	mailer := &fakeMailer{ok: true}
	worker := NewNotificationWorker(db, mailer, nil, RetryPolicy{}, "", nil)

	n := &models.Notification{
		TenantID:  "tenant-a",
		Template:  models.TemplateBookingConfirmation,
		Recipient: "ghost@example.com",
		BookingID: "missing",
	}
	if err := db.EnqueueNotification(context.Background(), n); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	worker.ProcessPending(context.Background())

	status, _, _ := loadNotificationStatus(t, db, n.ID)
	if status != models.NotificationFailed {
		t.Fatalf("expected status=failed, got %s", status)
	}
	if len(mailer.sent) != 0 {
		t.Fatalf("expected no email, got %d", len(mailer.sent))
	}
}

func TestNotificationWorker_StartStops(t *testing.T) {
	db := newTestDB(t)
	mailer := &fakeMailer{ok: true}
	worker := NewNotificationWorker(db, mailer, nil, RetryPolicy{}, "", nil).WithPolling(10*time.Millisecond, 5)

	b, _ := seedBooking(t, db)
	enqueue(t, db, b, "", models.TemplateBookingConfirmation, b.AccessToken)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		worker.Start(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for mailer.count() == 0 {
		select {
		case <-deadline:
			t.Fatalf("worker did not deliver in time")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("worker did not stop")
	}
}

func TestRetryPolicyNextDelay(t *testing.T) {
	policy := RetryPolicy{InitialDelay: time.Second, BackoffFactor: 2, MaxDelay: 5 * time.Second}
	d1 := policy.NextDelay(1)
	d2 := policy.NextDelay(2)
	d3 := policy.NextDelay(5)

	if d1 != time.Second {
		t.Fatalf("attempt1 expected 1s, got %s", d1)
	}
	if d2 != 2*time.Second {
		t.Fatalf("attempt2 expected 2s, got %s", d2)
	}
	if d3 != 5*time.Second {
		t.Fatalf("attempt5 expected capped 5s, got %s", d3)
	}
}

func TestRetryPolicyDefaults(t *testing.T) {
	policy := RetryPolicy{}.withDefaults()
	if policy.MaxRetries != 5 || policy.InitialDelay != 2*time.Second || policy.MaxDelay != time.Minute {
		t.Fatalf("unexpected defaults %+v", policy)
	}
	if policy.Exhausted(4) {
		t.Fatal("attempt 4 of 5 should not be exhausted")
	}
	if !policy.Exhausted(5) {
		t.Fatal("attempt 5 of 5 should be exhausted")
	}
}

// Helpers

type fakeMailer struct {
	mu   sync.Mutex
	ok   bool
	sent []models.Email
}

func (f *fakeMailer) Send(_ context.Context, msg models.Email) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return f.ok
}

func (f *fakeMailer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "worker.db")
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	db, err := database.NewDB(path, &logger)
	if err != nil {
		t.Fatalf("new db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func seedBooking(t *testing.T, db *database.DB) (*models.Booking, *models.Participant) {
	t.Helper()
	b := &models.Booking{
		ID:                uuid.NewString(),
		TenantID:          "tenant-a",
		AccessToken:       uuid.NewString(),
		TripTemplateID:    "alps",
		TripSlug:          "alps",
		TripTitle:         "Alps",
		TotalParticipants: 3,
		TotalAmount:       150000,
		UnitPrice:         50000,
		CheckoutQuantity:  1,
		Currency:          "eur",
		PaymentStatus:     models.PaymentPending,
		Status:            models.StatusPending,
		BookingType:       models.BookingTypeGroupLeader,
		PaymentMode:       models.PaymentModeSelf,
		JoinCode:          "TRIP-" + uuid.NewString()[:4],
		LeaderDetails:     models.LeaderDetails{FirstName: "Lea", LastName: "Der", Email: "leader@example.com"},
	}
	organizer := &models.Participant{
		ID:              uuid.NewString(),
		FirstName:       "Lea",
		LastName:        "Der",
		Email:           "leader@example.com",
		Role:            models.RoleOrganizer,
		RiderType:       models.RiderPilot,
		InvitationToken: uuid.NewString(),
		AddedBy:         models.AddedBySelf,
	}
	ctx := context.Background()
	if err := db.CreateBooking(ctx, b, organizer); err != nil {
		t.Fatalf("create booking: %v", err)
	}

	member := &models.Participant{
		ID:              uuid.NewString(),
		TenantID:        b.TenantID,
		BookingID:       b.ID,
		FirstName:       "Luca",
		LastName:        "Bianchi",
		Email:           "luca@example.com",
		Role:            models.RoleMember,
		RiderType:       models.RiderPassenger,
		InvitationToken: uuid.NewString(),
		AddedBy:         models.AddedByOrganizer,
	}
	if err := db.AddParticipant(ctx, member, nil); err != nil {
		t.Fatalf("add participant: %v", err)
	}
	return b, member
}

func enqueue(t *testing.T, db *database.DB, b *models.Booking, participantID, template, token string) *models.Notification {
	t.Helper()
	n := &models.Notification{
		TenantID:      b.TenantID,
		Template:      template,
		Recipient:     "luca@example.com",
		BookingID:     b.ID,
		ParticipantID: participantID,
		Token:         token,
	}
	if err := db.EnqueueNotification(context.Background(), n); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return n
}

func loadNotificationStatus(t *testing.T, db *database.DB, id int64) (status string, retryCount int, nextRetry sql.NullTime) {
	t.Helper()
	row := db.QueryRowContext(context.Background(), `SELECT status, retry_count, next_retry_at FROM notifications WHERE id = ?`, id)
	if err := row.Scan(&status, &retryCount, &nextRetry); err != nil {
		t.Fatalf("scan notification: %v", err)
	}
	return status, retryCount, nextRetry
}
