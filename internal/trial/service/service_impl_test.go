package service_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/smallbiznis/warmline/internal/clock"
	"github.com/smallbiznis/warmline/internal/trial/domain"
	"github.com/smallbiznis/warmline/internal/trial/repository"
	"github.com/smallbiznis/warmline/internal/trial/service"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_trial_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	schema := `CREATE TABLE trial_redemptions (
		customer_phone TEXT PRIMARY KEY,
		booking_id BIGINT NOT NULL,
		redeemed_at DATETIME NOT NULL
	)`
	if err := db.Exec(schema).Error; err != nil {
		t.Fatalf("create schema: %v", err)
	}
	return db
}

func newTrialService(t *testing.T, db *gorm.DB) domain.Service {
	t.Helper()
	return service.New(service.Params{
		DB:    db,
		Log:   zap.NewNop(),
		Clock: clock.NewFakeClock(time.Now()),
		Repo:  repository.Provide(),
	})
}

func TestTrialLifetimeIsOnePerPhone(t *testing.T) {
	ctx := context.Background()
	svc := newTrialService(t, setupTestDB(t))

	eligible, err := svc.Eligible(ctx, "+14155550100")
	if err != nil {
		t.Fatalf("eligible: %v", err)
	}
	if !eligible {
		t.Fatal("fresh phone should be eligible")
	}

	if err := svc.Consume(ctx, "+14155550100", 1); err != nil {
		t.Fatalf("consume: %v", err)
	}

	eligible, err = svc.Eligible(ctx, "+14155550100")
	if err != nil {
		t.Fatalf("eligible: %v", err)
	}
	if eligible {
		t.Fatal("redeemed phone should not be eligible")
	}

	// A different booking cannot burn the same phone again.
	if err := svc.Consume(ctx, "+14155550100", 2); !errors.Is(err, domain.ErrAlreadyRedeemed) {
		t.Fatalf("err = %v, want ErrAlreadyRedeemed", err)
	}
}

func TestRestoreReturnsTheTrial(t *testing.T) {
	ctx := context.Background()
	svc := newTrialService(t, setupTestDB(t))

	if err := svc.Consume(ctx, "+14155550100", 1); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if err := svc.Restore(ctx, 1); err != nil {
		t.Fatalf("restore: %v", err)
	}

	eligible, err := svc.Eligible(ctx, "+14155550100")
	if err != nil {
		t.Fatalf("eligible: %v", err)
	}
	if !eligible {
		t.Fatal("restored phone should be eligible again")
	}

	// Restoring a booking that never consumed is a no-op.
	if err := svc.Restore(ctx, 99); err != nil {
		t.Fatalf("restore: %v", err)
	}
}

func TestTrialRejectsEmptyPhone(t *testing.T) {
	ctx := context.Background()
	svc := newTrialService(t, setupTestDB(t))

	if _, err := svc.Eligible(ctx, "  "); !errors.Is(err, domain.ErrInvalidPhone) {
		t.Fatalf("err = %v, want ErrInvalidPhone", err)
	}
	if err := svc.Consume(ctx, "", 1); !errors.Is(err, domain.ErrInvalidPhone) {
		t.Fatalf("err = %v, want ErrInvalidPhone", err)
	}
}
