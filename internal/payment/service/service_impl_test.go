package service_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	bookingdomain "github.com/smallbiznis/warmline/internal/booking/domain"
	bookingrepo "github.com/smallbiznis/warmline/internal/booking/repository"
	bookingservice "github.com/smallbiznis/warmline/internal/booking/service"
	calleventrepo "github.com/smallbiznis/warmline/internal/callevent/repository"
	calleventservice "github.com/smallbiznis/warmline/internal/callevent/service"
	queuerepo "github.com/smallbiznis/warmline/internal/callqueue/repository"
	queueservice "github.com/smallbiznis/warmline/internal/callqueue/service"
	"github.com/smallbiznis/warmline/internal/clock"
	"github.com/smallbiznis/warmline/internal/config"
	dispatchdomain "github.com/smallbiznis/warmline/internal/dispatch/domain"
	"github.com/smallbiznis/warmline/internal/payment/domain"
	paymentrepo "github.com/smallbiznis/warmline/internal/payment/repository"
	paymentservice "github.com/smallbiznis/warmline/internal/payment/service"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// fakeDispatch records drain requests instead of placing calls.
type fakeDispatch struct {
	drains int
}

func (f *fakeDispatch) InitiateCall(ctx context.Context, bookingID snowflake.ID) (*dispatchdomain.InitiateResult, error) {
	return &dispatchdomain.InitiateResult{}, nil
}

func (f *fakeDispatch) DrainQueue(ctx context.Context, limit int) (*dispatchdomain.DrainReport, error) {
	f.drains++
	return &dispatchdomain.DrainReport{}, nil
}

type harness struct {
	db       *gorm.DB
	clk      *clock.FakeClock
	dispatch *fakeDispatch
	bookings bookingdomain.Service
	payments *paymentservice.Service
}

func setupHarness(t *testing.T) *harness {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_payment_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	schema := []string{
		`CREATE TABLE bookings (
			id BIGINT PRIMARY KEY,
			customer_name TEXT NOT NULL,
			customer_phone TEXT NOT NULL,
			customer_email TEXT NOT NULL,
			plan_type TEXT NOT NULL,
			status TEXT NOT NULL,
			payment_status TEXT NOT NULL,
			amount_expected BIGINT NOT NULL,
			currency TEXT NOT NULL,
			provider_call_id TEXT,
			error_message TEXT,
			payment_expires_at DATETIME,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE call_queue_entries (
			id BIGINT PRIMARY KEY,
			booking_id BIGINT NOT NULL,
			plan_type TEXT NOT NULL,
			priority INT NOT NULL DEFAULT 0,
			retry_count INT NOT NULL DEFAULT 0,
			max_retries INT NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			scheduled_for DATETIME NOT NULL,
			last_error TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE UNIQUE INDEX idx_call_queue_entries_booking_id ON call_queue_entries(booking_id)`,
		`CREATE TABLE call_events (
			id BIGINT PRIMARY KEY,
			booking_id BIGINT NOT NULL,
			event_type TEXT NOT NULL,
			detail TEXT,
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE payment_events (
			id BIGINT PRIMARY KEY,
			provider TEXT NOT NULL,
			provider_event_id TEXT NOT NULL,
			provider_tx_ref TEXT NOT NULL,
			event_type TEXT NOT NULL,
			booking_id BIGINT NOT NULL,
			amount BIGINT NOT NULL,
			currency TEXT NOT NULL,
			payload TEXT NOT NULL,
			received_at DATETIME NOT NULL,
			processed_at DATETIME
		)`,
		`CREATE UNIQUE INDEX idx_payment_events_provider_event ON payment_events(provider, provider_event_id)`,
	}
	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}

	node, err := snowflake.NewNode(7)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	clk := clock.NewFakeClock(time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC))
	log := zap.NewNop()
	cfg := &config.Config{
		PaymentWindow:          30 * time.Minute,
		PaymentAmountTolerance: 0.02,
	}

	bookings := bookingservice.New(bookingservice.Params{
		DB: db, Log: log, GenID: node, Clock: clk, Cfg: *cfg, Repo: bookingrepo.Provide(),
	})
	queue := queueservice.New(queueservice.Params{
		DB: db, Log: log, GenID: node, Clock: clk, Policy: &config.PolicyHolder{}, Repo: queuerepo.Provide(),
	})
	events := calleventservice.NewRecorder(calleventservice.Params{
		DB: db, Log: log, GenID: node, Clock: clk, Repo: calleventrepo.Provide(),
	})
	dispatch := &fakeDispatch{}
	payments := paymentservice.NewService(paymentservice.Params{
		DB:       db,
		Log:      log,
		GenID:    node,
		Clock:    clk,
		Cfg:      cfg,
		Bookings: bookings,
		Queue:    queue,
		Dispatch: dispatch,
		Events:   events,
		Repo:     paymentrepo.Provide(),
	})

	return &harness{
		db:       db,
		clk:      clk,
		dispatch: dispatch,
		bookings: bookings,
		payments: payments,
	}
}

// createPaidBooking opens a standard booking waiting on a 2500 cent payment.
func (h *harness) createPaidBooking(t *testing.T) bookingdomain.Booking {
	t.Helper()
	resp, err := h.bookings.Create(context.Background(), bookingdomain.CreateBookingRequest{
		Name:     "Paying Caller",
		Phone:    "+14155550300",
		Email:    "payer@example.com",
		PlanType: "standard",
	})
	if err != nil {
		t.Fatalf("create booking: %v", err)
	}
	return resp.Booking
}

func (h *harness) reload(t *testing.T, id snowflake.ID) bookingdomain.Booking {
	t.Helper()
	booking, err := h.bookings.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("get booking: %v", err)
	}
	return booking
}

func (h *harness) queuedEntries(t *testing.T) int {
	t.Helper()
	var n int
	if err := h.db.Raw(`SELECT COUNT(*) FROM call_queue_entries`).Scan(&n).Error; err != nil {
		t.Fatalf("count entries: %v", err)
	}
	return n
}

func (h *harness) successEvent(bookingID snowflake.ID, eventID, txRef string, amount int64) *domain.PaymentEvent {
	return &domain.PaymentEvent{
		Provider:        "stripe",
		ProviderEventID: eventID,
		ProviderTxRef:   txRef,
		Type:            domain.EventTypePaymentSucceeded,
		BookingID:       bookingID,
		Amount:          amount,
		Currency:        "usd",
		OccurredAt:      h.clk.Now(),
	}
}

func TestExactPaymentQueuesBooking(t *testing.T) {
	ctx := context.Background()
	h := setupHarness(t)
	booking := h.createPaidBooking(t)

	event := h.successEvent(booking.ID, "evt_1", "pi_1", 2500)
	if err := h.payments.ProcessEvent(ctx, event, []byte(`{"id":"evt_1"}`)); err != nil {
		t.Fatalf("process: %v", err)
	}

	got := h.reload(t, booking.ID)
	if got.Status != bookingdomain.StatusQueued {
		t.Fatalf("status = %s, want %s", got.Status, bookingdomain.StatusQueued)
	}
	if got.PaymentStatus != bookingdomain.PaymentStatusCompleted {
		t.Fatalf("payment status = %s, want %s", got.PaymentStatus, bookingdomain.PaymentStatusCompleted)
	}
	if h.queuedEntries(t) != 1 {
		t.Fatal("expected one queue entry")
	}
	if h.dispatch.drains != 1 {
		t.Fatalf("drains = %d, want 1", h.dispatch.drains)
	}
}

func TestReplayedDeliveryIsRejected(t *testing.T) {
	ctx := context.Background()
	h := setupHarness(t)
	booking := h.createPaidBooking(t)
	payload := []byte(`{"id":"evt_1"}`)

	if err := h.payments.ProcessEvent(ctx, h.successEvent(booking.ID, "evt_1", "pi_1", 2500), payload); err != nil {
		t.Fatalf("process: %v", err)
	}
	err := h.payments.ProcessEvent(ctx, h.successEvent(booking.ID, "evt_1", "pi_1", 2500), payload)
	if !errors.Is(err, domain.ErrEventAlreadyProcessed) {
		t.Fatalf("err = %v, want ErrEventAlreadyProcessed", err)
	}
	if h.queuedEntries(t) != 1 {
		t.Fatal("replay must not enqueue again")
	}
	if h.dispatch.drains != 1 {
		t.Fatalf("drains = %d, want 1", h.dispatch.drains)
	}
}

func TestSameTxRefUnderNewEventID(t *testing.T) {
	ctx := context.Background()
	h := setupHarness(t)
	booking := h.createPaidBooking(t)

	if err := h.payments.ProcessEvent(ctx, h.successEvent(booking.ID, "evt_1", "pi_1", 2500), []byte(`{}`)); err != nil {
		t.Fatalf("process: %v", err)
	}
	// The provider redelivers the same payment under a fresh event id.
	if err := h.payments.ProcessEvent(ctx, h.successEvent(booking.ID, "evt_2", "pi_1", 2500), []byte(`{}`)); err != nil {
		t.Fatalf("process redelivery: %v", err)
	}
	if h.queuedEntries(t) != 1 {
		t.Fatal("same payment must not enqueue twice")
	}
	if h.dispatch.drains != 1 {
		t.Fatalf("drains = %d, want 1", h.dispatch.drains)
	}
}

func TestUnderpaymentIsRejected(t *testing.T) {
	ctx := context.Background()
	h := setupHarness(t)
	booking := h.createPaidBooking(t)

	// 2% of 2500 is 50; anything under 2450 is short.
	if err := h.payments.ProcessEvent(ctx, h.successEvent(booking.ID, "evt_1", "pi_1", 2000), []byte(`{}`)); err != nil {
		t.Fatalf("process: %v", err)
	}

	got := h.reload(t, booking.ID)
	if got.Status != bookingdomain.StatusPendingPayment {
		t.Fatalf("status = %s, want %s", got.Status, bookingdomain.StatusPendingPayment)
	}
	if got.PaymentStatus != bookingdomain.PaymentStatusFailed {
		t.Fatalf("payment status = %s, want %s", got.PaymentStatus, bookingdomain.PaymentStatusFailed)
	}
	if h.queuedEntries(t) != 0 {
		t.Fatal("short payment must not enqueue")
	}
}

func TestPaymentWithinToleranceIsAccepted(t *testing.T) {
	ctx := context.Background()
	h := setupHarness(t)
	booking := h.createPaidBooking(t)

	if err := h.payments.ProcessEvent(ctx, h.successEvent(booking.ID, "evt_1", "pi_1", 2460), []byte(`{}`)); err != nil {
		t.Fatalf("process: %v", err)
	}
	if got := h.reload(t, booking.ID); got.Status != bookingdomain.StatusQueued {
		t.Fatalf("status = %s, want %s", got.Status, bookingdomain.StatusQueued)
	}
}

func TestOverpaymentIsAccepted(t *testing.T) {
	ctx := context.Background()
	h := setupHarness(t)
	booking := h.createPaidBooking(t)

	if err := h.payments.ProcessEvent(ctx, h.successEvent(booking.ID, "evt_1", "pi_1", 9000), []byte(`{}`)); err != nil {
		t.Fatalf("process: %v", err)
	}
	if got := h.reload(t, booking.ID); got.Status != bookingdomain.StatusQueued {
		t.Fatalf("status = %s, want %s", got.Status, bookingdomain.StatusQueued)
	}
}

func TestLatePaymentIsRejected(t *testing.T) {
	ctx := context.Background()
	h := setupHarness(t)
	booking := h.createPaidBooking(t)

	event := h.successEvent(booking.ID, "evt_1", "pi_1", 2500)
	event.OccurredAt = booking.PaymentExpiresAt.Add(time.Minute)
	if err := h.payments.ProcessEvent(ctx, event, []byte(`{}`)); err != nil {
		t.Fatalf("process: %v", err)
	}

	got := h.reload(t, booking.ID)
	if got.Status != bookingdomain.StatusPendingPayment {
		t.Fatalf("status = %s, want %s", got.Status, bookingdomain.StatusPendingPayment)
	}
	if h.queuedEntries(t) != 0 {
		t.Fatal("late payment must not enqueue")
	}
}

func TestCurrencyMismatchIsRejected(t *testing.T) {
	ctx := context.Background()
	h := setupHarness(t)
	booking := h.createPaidBooking(t)

	event := h.successEvent(booking.ID, "evt_1", "pi_1", 2500)
	event.Currency = "eur"
	if err := h.payments.ProcessEvent(ctx, event, []byte(`{}`)); err != nil {
		t.Fatalf("process: %v", err)
	}
	if got := h.reload(t, booking.ID); got.Status != bookingdomain.StatusPendingPayment {
		t.Fatalf("status = %s, want %s", got.Status, bookingdomain.StatusPendingPayment)
	}
}

func TestPaymentForClosedBookingIsNoop(t *testing.T) {
	ctx := context.Background()
	h := setupHarness(t)
	booking := h.createPaidBooking(t)
	if _, err := h.bookings.Fail(ctx, booking.ID, []bookingdomain.Status{bookingdomain.StatusPendingPayment}, "cancelled"); err != nil {
		t.Fatalf("fail: %v", err)
	}

	if err := h.payments.ProcessEvent(ctx, h.successEvent(booking.ID, "evt_1", "pi_1", 2500), []byte(`{}`)); err != nil {
		t.Fatalf("process: %v", err)
	}
	if got := h.reload(t, booking.ID); got.Status != bookingdomain.StatusFailed {
		t.Fatalf("status = %s, want %s", got.Status, bookingdomain.StatusFailed)
	}
	if h.queuedEntries(t) != 0 {
		t.Fatal("closed booking must not enqueue")
	}
}

func TestFailureEventMarksPaymentFailed(t *testing.T) {
	ctx := context.Background()
	h := setupHarness(t)
	booking := h.createPaidBooking(t)

	event := h.successEvent(booking.ID, "evt_1", "pi_1", 2500)
	event.Type = domain.EventTypePaymentFailed
	if err := h.payments.ProcessEvent(ctx, event, []byte(`{}`)); err != nil {
		t.Fatalf("process: %v", err)
	}

	got := h.reload(t, booking.ID)
	if got.Status != bookingdomain.StatusPendingPayment {
		t.Fatalf("status = %s, want %s", got.Status, bookingdomain.StatusPendingPayment)
	}
	if got.PaymentStatus != bookingdomain.PaymentStatusFailed {
		t.Fatalf("payment status = %s, want %s", got.PaymentStatus, bookingdomain.PaymentStatusFailed)
	}
}

func TestProcessEventValidation(t *testing.T) {
	ctx := context.Background()
	h := setupHarness(t)

	event := h.successEvent(0, "evt_1", "pi_1", 2500)
	if err := h.payments.ProcessEvent(ctx, event, []byte(`{}`)); !errors.Is(err, domain.ErrInvalidBookingRef) {
		t.Fatalf("err = %v, want ErrInvalidBookingRef", err)
	}

	event = h.successEvent(42, "evt_2", "pi_2", 2500)
	event.Provider = "  "
	if err := h.payments.ProcessEvent(ctx, event, []byte(`{}`)); !errors.Is(err, domain.ErrInvalidProvider) {
		t.Fatalf("err = %v, want ErrInvalidProvider", err)
	}
}
