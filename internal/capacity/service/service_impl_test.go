package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/warmline/internal/capacity/domain"
	"github.com/smallbiznis/warmline/internal/capacity/repository"
	"github.com/smallbiznis/warmline/internal/capacity/service"
	"github.com/smallbiznis/warmline/internal/clock"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_capacity_%d?mode=memory&cache=shared", time.Now().UnixNano())
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
		`CREATE TABLE capacity_accounts (
			id BIGINT PRIMARY KEY,
			label TEXT NOT NULL,
			phone_number_id TEXT NOT NULL,
			api_key_ref TEXT NOT NULL,
			current_active_calls INT NOT NULL DEFAULT 0,
			max_concurrent_calls INT NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE active_calls (
			id BIGINT PRIMARY KEY,
			booking_id BIGINT NOT NULL,
			account_id BIGINT NOT NULL,
			provider_call_id TEXT NOT NULL,
			assistant_id TEXT NOT NULL,
			started_at DATETIME NOT NULL
		)`,
		`CREATE UNIQUE INDEX idx_active_calls_booking_id ON active_calls(booking_id)`,
	}
	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return db
}

func newCapacityService(t *testing.T, db *gorm.DB) domain.Service {
	t.Helper()

	node, err := snowflake.NewNode(3)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	return service.New(service.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		Repo:  repository.Provide(),
	})
}

func seedAccount(t *testing.T, db *gorm.DB, id snowflake.ID, label string, maxCalls int) {
	t.Helper()
	now := time.Now().UTC()
	err := db.Exec(
		`INSERT INTO capacity_accounts (id, label, phone_number_id, api_key_ref, current_active_calls, max_concurrent_calls, is_active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 0, ?, TRUE, ?, ?)`,
		id, label, "pn_"+label, "key_"+label, maxCalls, now, now,
	).Error
	if err != nil {
		t.Fatalf("seed account: %v", err)
	}
}

func currentCalls(t *testing.T, db *gorm.DB, id snowflake.ID) int {
	t.Helper()
	var n int
	if err := db.Raw(`SELECT current_active_calls FROM capacity_accounts WHERE id = ?`, id).Scan(&n).Error; err != nil {
		t.Fatalf("read counter: %v", err)
	}
	return n
}

func TestTryAdmitStopsAtCeiling(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newCapacityService(t, db)
	seedAccount(t, db, 100, "main", 2)

	for i := 0; i < 2; i++ {
		_, ok, err := svc.TryAdmit(ctx)
		if err != nil {
			t.Fatalf("admit %d: %v", i, err)
		}
		if !ok {
			t.Fatalf("admit %d: expected slot", i)
		}
	}

	_, ok, err := svc.TryAdmit(ctx)
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if ok {
		t.Fatal("expected saturation")
	}
	if got := currentCalls(t, db, 100); got != 2 {
		t.Fatalf("counter = %d, want 2", got)
	}
}

func TestTryAdmitPrefersLeastLoaded(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newCapacityService(t, db)
	seedAccount(t, db, 100, "a", 3)
	seedAccount(t, db, 200, "b", 3)

	if err := db.Exec(`UPDATE capacity_accounts SET current_active_calls = 2 WHERE id = 100`).Error; err != nil {
		t.Fatalf("preload: %v", err)
	}

	account, ok, err := svc.TryAdmit(ctx)
	if err != nil || !ok {
		t.Fatalf("admit: ok=%v err=%v", ok, err)
	}
	if account.ID != 200 {
		t.Fatalf("admitted account %d, want 200", account.ID)
	}
}

func TestConcurrentAdmitsNeverOversubscribe(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newCapacityService(t, db)
	seedAccount(t, db, 100, "main", 3)

	var wg sync.WaitGroup
	admitted := make(chan struct{}, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := svc.TryAdmit(ctx)
			if err == nil && ok {
				admitted <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(admitted)

	won := 0
	for range admitted {
		won++
	}
	if won != 3 {
		t.Fatalf("admitted %d callers, want 3", won)
	}
	if got := currentCalls(t, db, 100); got != 3 {
		t.Fatalf("counter = %d, want 3", got)
	}
}

func TestReleaseNeverGoesNegative(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newCapacityService(t, db)
	seedAccount(t, db, 100, "main", 2)

	if _, ok, err := svc.TryAdmit(ctx); err != nil || !ok {
		t.Fatalf("admit: ok=%v err=%v", ok, err)
	}

	if err := svc.Release(ctx, 100); err != nil {
		t.Fatalf("release: %v", err)
	}
	// Compensation and lifecycle both firing must not underflow.
	if err := svc.Release(ctx, 100); err != nil {
		t.Fatalf("double release: %v", err)
	}
	if got := currentCalls(t, db, 100); got != 0 {
		t.Fatalf("counter = %d, want 0", got)
	}
}

func TestRecordActiveCallRejectsDuplicateBooking(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newCapacityService(t, db)

	call := &domain.ActiveCall{BookingID: 7, AccountID: 100, ProviderCallID: "call_1", AssistantID: "asst_1"}
	if err := svc.RecordActiveCall(ctx, call); err != nil {
		t.Fatalf("record: %v", err)
	}

	dup := &domain.ActiveCall{BookingID: 7, AccountID: 100, ProviderCallID: "call_2", AssistantID: "asst_1"}
	if err := svc.RecordActiveCall(ctx, dup); !errors.Is(err, domain.ErrDuplicateCall) {
		t.Fatalf("err = %v, want ErrDuplicateCall", err)
	}
}

func TestRemoveActiveCallWinsOnce(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newCapacityService(t, db)

	call := &domain.ActiveCall{BookingID: 7, AccountID: 100, ProviderCallID: "call_1", AssistantID: "asst_1"}
	if err := svc.RecordActiveCall(ctx, call); err != nil {
		t.Fatalf("record: %v", err)
	}

	removed, deleted, err := svc.RemoveActiveCall(ctx, 7)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if !deleted || removed == nil || removed.ProviderCallID != "call_1" {
		t.Fatalf("first remove: deleted=%v call=%+v", deleted, removed)
	}

	_, deleted, err = svc.RemoveActiveCall(ctx, 7)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if deleted {
		t.Fatal("second remove should not win")
	}
}

func TestSnapshotSumsActiveAccounts(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newCapacityService(t, db)
	seedAccount(t, db, 100, "a", 2)
	seedAccount(t, db, 200, "b", 3)
	if err := db.Exec(`UPDATE capacity_accounts SET is_active = FALSE, current_active_calls = 1 WHERE id = 200`).Error; err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	snapshot, err := svc.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snapshot.MaxCalls != 2 || snapshot.CurrentCalls != 0 {
		t.Fatalf("snapshot = %d/%d, want 0/2", snapshot.CurrentCalls, snapshot.MaxCalls)
	}
	if !snapshot.HasCapacity() {
		t.Fatal("expected capacity")
	}
}
