package service_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/warmline/internal/booking/domain"
	"github.com/smallbiznis/warmline/internal/booking/repository"
	"github.com/smallbiznis/warmline/internal/booking/service"
	"github.com/smallbiznis/warmline/internal/clock"
	"github.com/smallbiznis/warmline/internal/config"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_booking_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	schema := `CREATE TABLE bookings (
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
	)`
	if err := db.Exec(schema).Error; err != nil {
		t.Fatalf("create schema: %v", err)
	}
	return db
}

func newBookingService(t *testing.T, db *gorm.DB, clk clock.Clock) domain.Service {
	t.Helper()

	node, err := snowflake.NewNode(2)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	return service.New(service.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
		Cfg:   config.Config{PaymentWindow: 30 * time.Minute},
		Repo:  repository.Provide(),
	})
}

func TestCreatePaidPlanWaitsForPayment(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc := newBookingService(t, db, clk)

	resp, err := svc.Create(ctx, domain.CreateBookingRequest{
		Name:     "Dana",
		Phone:    "(415) 555-0134",
		Email:    "dana@example.com",
		PlanType: "standard",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if resp.Booking.Status != domain.StatusPendingPayment {
		t.Fatalf("status = %s, want %s", resp.Booking.Status, domain.StatusPendingPayment)
	}
	if !resp.PaymentRequired {
		t.Fatal("expected payment required")
	}
	if resp.AmountCents != 2500 {
		t.Fatalf("amount = %d, want 2500", resp.AmountCents)
	}
	if resp.Booking.CustomerPhone != "+14155550134" {
		t.Fatalf("phone = %s, want +14155550134", resp.Booking.CustomerPhone)
	}
	wantDeadline := clk.Now().Add(30 * time.Minute)
	if resp.PaymentDeadline == nil || !resp.PaymentDeadline.Equal(wantDeadline) {
		t.Fatalf("deadline = %v, want %v", resp.PaymentDeadline, wantDeadline)
	}
}

func TestCreateFreeTrialSkipsPayment(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newBookingService(t, db, clock.NewFakeClock(time.Now()))

	resp, err := svc.Create(ctx, domain.CreateBookingRequest{
		Name:     "Sam",
		Phone:    "+14155550100",
		Email:    "sam@example.com",
		PlanType: "free_trial",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if resp.Booking.Status != domain.StatusPending {
		t.Fatalf("status = %s, want %s", resp.Booking.Status, domain.StatusPending)
	}
	if resp.PaymentRequired {
		t.Fatal("trial should not require payment")
	}
	if resp.Booking.PaymentExpiresAt != nil {
		t.Fatal("trial should have no payment deadline")
	}
}

func TestCreateRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newBookingService(t, db, clock.NewFakeClock(time.Now()))

	cases := []struct {
		name string
		req  domain.CreateBookingRequest
		want error
	}{
		{"empty name", domain.CreateBookingRequest{Phone: "+14155550100", Email: "a@b.com", PlanType: "standard"}, domain.ErrInvalidName},
		{"short phone", domain.CreateBookingRequest{Name: "A", Phone: "555", Email: "a@b.com", PlanType: "standard"}, domain.ErrInvalidPhone},
		{"bad email", domain.CreateBookingRequest{Name: "A", Phone: "+14155550100", Email: "nope", PlanType: "standard"}, domain.ErrInvalidEmail},
	}
	for _, tc := range cases {
		if _, err := svc.Create(ctx, tc.req); !errors.Is(err, tc.want) {
			t.Fatalf("%s: err = %v, want %v", tc.name, err, tc.want)
		}
	}

	if _, err := svc.Create(ctx, domain.CreateBookingRequest{
		Name: "A", Phone: "+14155550100", Email: "a@b.com", PlanType: "gold",
	}); err == nil {
		t.Fatal("expected unknown plan error")
	}
}

func TestTransitionIsGuarded(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newBookingService(t, db, clock.NewFakeClock(time.Now()))

	resp, err := svc.Create(ctx, domain.CreateBookingRequest{
		Name: "Sam", Phone: "+14155550100", Email: "sam@example.com", PlanType: "free_trial",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	id := resp.Booking.ID

	won, err := svc.Transition(ctx, id, []domain.Status{domain.StatusPending}, domain.StatusQueued)
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if !won {
		t.Fatal("expected transition to win")
	}

	// Same transition again loses because the booking already moved.
	won, err = svc.Transition(ctx, id, []domain.Status{domain.StatusPending}, domain.StatusQueued)
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if won {
		t.Fatal("expected repeat transition to lose")
	}

	got, err := svc.GetByID(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.StatusQueued {
		t.Fatalf("status = %s, want %s", got.Status, domain.StatusQueued)
	}
}

func TestExpirePendingPayments(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc := newBookingService(t, db, clk)

	overdue, err := svc.Create(ctx, domain.CreateBookingRequest{
		Name: "Late", Phone: "+14155550101", Email: "late@example.com", PlanType: "standard",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	clk.Advance(10 * time.Minute)
	fresh, err := svc.Create(ctx, domain.CreateBookingRequest{
		Name: "Fresh", Phone: "+14155550102", Email: "fresh@example.com", PlanType: "standard",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Past the first deadline, not the second.
	clk.Advance(25 * time.Minute)
	expired, err := svc.ExpirePendingPayments(ctx, 10)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if len(expired) != 1 || expired[0] != overdue.Booking.ID {
		t.Fatalf("expired = %v, want [%s]", expired, overdue.Booking.ID)
	}

	got, err := svc.GetByID(ctx, overdue.Booking.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.StatusExpired {
		t.Fatalf("status = %s, want %s", got.Status, domain.StatusExpired)
	}
	if got.PaymentStatus != domain.PaymentStatusExpired {
		t.Fatalf("payment status = %s, want %s", got.PaymentStatus, domain.PaymentStatusExpired)
	}

	untouched, err := svc.GetByID(ctx, fresh.Booking.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if untouched.Status != domain.StatusPendingPayment {
		t.Fatalf("status = %s, want %s", untouched.Status, domain.StatusPendingPayment)
	}
}

func TestStatusHidesInternals(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newBookingService(t, db, clock.NewFakeClock(time.Now()))

	resp, err := svc.Create(ctx, domain.CreateBookingRequest{
		Name: "Sam", Phone: "+14155550100", Email: "sam@example.com", PlanType: "free_trial",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Fail(ctx, resp.Booking.ID, []domain.Status{domain.StatusPending}, "provider timeout: connection refused"); err != nil {
		t.Fatalf("fail: %v", err)
	}

	status, err := svc.Status(ctx, resp.Booking.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Status != domain.StatusFailed {
		t.Fatalf("status = %s, want %s", status.Status, domain.StatusFailed)
	}
	if status.Message == "" || status.Message == "provider timeout: connection refused" {
		t.Fatalf("message should be customer copy, got %q", status.Message)
	}
}
