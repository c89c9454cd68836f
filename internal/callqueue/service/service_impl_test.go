package service_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/warmline/internal/callqueue/domain"
	"github.com/smallbiznis/warmline/internal/callqueue/repository"
	"github.com/smallbiznis/warmline/internal/callqueue/service"
	"github.com/smallbiznis/warmline/internal/clock"
	"github.com/smallbiznis/warmline/internal/config"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_queue_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	stripForUpdate(db)

	schema := []string{
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
	}
	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return db
}

// stripForUpdate removes postgres row locking clauses sqlite cannot parse.
func stripForUpdate(db *gorm.DB) {
	rewrite := func(d *gorm.DB) {
		sql := d.Statement.SQL.String()
		if strings.Contains(sql, "FOR UPDATE") {
			sql = strings.ReplaceAll(sql, "FOR UPDATE SKIP LOCKED", "")
			sql = strings.ReplaceAll(sql, "FOR UPDATE", "")
			d.Statement.SQL.Reset()
			d.Statement.SQL.WriteString(sql)
		}
	}
	db.Callback().Query().Before("gorm:query").Register("sqlite_skip_locked", rewrite)
	db.Callback().Row().Before("gorm:row").Register("sqlite_skip_locked_row", rewrite)
}

func newQueueService(t *testing.T, db *gorm.DB, clk clock.Clock) domain.Service {
	t.Helper()

	node, err := snowflake.NewNode(4)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	return service.New(service.Params{
		DB:     db,
		Log:    zap.NewNop(),
		GenID:  node,
		Clock:  clk,
		Policy: &config.PolicyHolder{},
		Repo:   repository.Provide(),
	})
}

func TestEnqueueIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newQueueService(t, db, clock.NewFakeClock(time.Now()))

	first, err := svc.Enqueue(ctx, 42, "standard", 3)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if first.Existing {
		t.Fatal("first enqueue should create")
	}

	second, err := svc.Enqueue(ctx, 42, "standard", 3)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if !second.Existing {
		t.Fatal("second enqueue should land on existing entry")
	}
	if second.Entry.ID != first.Entry.ID {
		t.Fatalf("entry id = %d, want %d", second.Entry.ID, first.Entry.ID)
	}

	count, err := svc.QueuedCount(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("queued = %d, want 1", count)
	}
}

func TestClaimOrdersByPriorityThenAge(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc := newQueueService(t, db, clk)

	// Older low-priority trial, then two paid entries.
	if _, err := svc.Enqueue(ctx, 1, "free_trial", 9); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	clk.Advance(time.Second)
	if _, err := svc.Enqueue(ctx, 2, "standard", 3); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	clk.Advance(time.Second)
	if _, err := svc.Enqueue(ctx, 3, "premium", 1); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	var claimed []*domain.Entry
	err := db.Transaction(func(tx *gorm.DB) error {
		var err error
		claimed, err = svc.Claim(ctx, tx, 10)
		return err
	})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}

	var got []snowflake.ID
	for _, entry := range claimed {
		got = append(got, entry.BookingID)
	}
	want := []snowflake.ID{3, 2, 1}
	if len(got) != len(want) {
		t.Fatalf("claimed %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("claimed %v, want %v", got, want)
		}
	}
	for _, entry := range claimed {
		if entry.Status != domain.StatusProcessing {
			t.Fatalf("entry %d status = %s, want processing", entry.BookingID, entry.Status)
		}
	}
}

func TestClaimSkipsFutureEntries(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc := newQueueService(t, db, clk)

	result, err := svc.Enqueue(ctx, 1, "standard", 3)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	// Push the entry into the future the way a retry backoff would.
	if _, err := svc.Retry(ctx, result.Entry, errors.New("provider down")); err != nil {
		t.Fatalf("retry: %v", err)
	}

	var claimed []*domain.Entry
	err = db.Transaction(func(tx *gorm.DB) error {
		var err error
		claimed, err = svc.Claim(ctx, tx, 10)
		return err
	})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(claimed) != 0 {
		t.Fatalf("claimed %d entries, want 0 before backoff elapses", len(claimed))
	}

	clk.Advance(2 * time.Minute)
	err = db.Transaction(func(tx *gorm.DB) error {
		var err error
		claimed, err = svc.Claim(ctx, tx, 10)
		return err
	})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("claimed %d entries, want 1 after backoff", len(claimed))
	}
}

func TestRetryBacksOffThenExhausts(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc := newQueueService(t, db, clk)

	result, err := svc.Enqueue(ctx, 1, "standard", 3)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	entry := result.Entry
	if entry.MaxRetries != 3 {
		t.Fatalf("max retries = %d, want 3 from default policy", entry.MaxRetries)
	}

	attemptErr := errors.New("no answer from provider")

	exhausted, err := svc.Retry(ctx, entry, attemptErr)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if exhausted {
		t.Fatal("first retry should reschedule")
	}

	var stored domain.Entry
	if err := db.Raw(`SELECT * FROM call_queue_entries WHERE booking_id = 1`).Scan(&stored).Error; err != nil {
		t.Fatalf("read entry: %v", err)
	}
	if stored.RetryCount != 1 {
		t.Fatalf("retry count = %d, want 1", stored.RetryCount)
	}
	if !stored.ScheduledFor.After(clk.Now()) {
		t.Fatalf("scheduled_for = %v, want after %v", stored.ScheduledFor, clk.Now())
	}
	if stored.LastError == nil || *stored.LastError == "" {
		t.Fatal("last error should be recorded")
	}

	// Second attempt backs off further.
	firstSchedule := stored.ScheduledFor
	if _, err := svc.Retry(ctx, &stored, attemptErr); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if err := db.Raw(`SELECT * FROM call_queue_entries WHERE booking_id = 1`).Scan(&stored).Error; err != nil {
		t.Fatalf("read entry: %v", err)
	}
	if !stored.ScheduledFor.After(firstSchedule) {
		t.Fatalf("backoff should grow: %v then %v", firstSchedule, stored.ScheduledFor)
	}

	// Third failure exhausts the retries.
	exhausted, err = svc.Retry(ctx, &stored, attemptErr)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if !exhausted {
		t.Fatal("third retry should exhaust")
	}
	if err := db.Raw(`SELECT * FROM call_queue_entries WHERE booking_id = 1`).Scan(&stored).Error; err != nil {
		t.Fatalf("read entry: %v", err)
	}
	if stored.Status != domain.StatusFailed {
		t.Fatalf("status = %s, want failed", stored.Status)
	}
}

func TestReleaseDoesNotChargeRetry(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	clk := clock.NewFakeClock(time.Now())
	svc := newQueueService(t, db, clk)

	if _, err := svc.Enqueue(ctx, 1, "standard", 3); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	var claimed []*domain.Entry
	err := db.Transaction(func(tx *gorm.DB) error {
		var err error
		claimed, err = svc.Claim(ctx, tx, 1)
		return err
	})
	if err != nil || len(claimed) != 1 {
		t.Fatalf("claim: %v (%d entries)", err, len(claimed))
	}

	if err := svc.Release(ctx, claimed[0]); err != nil {
		t.Fatalf("release: %v", err)
	}

	var stored domain.Entry
	if err := db.Raw(`SELECT * FROM call_queue_entries WHERE booking_id = 1`).Scan(&stored).Error; err != nil {
		t.Fatalf("read entry: %v", err)
	}
	if stored.Status != domain.StatusQueued {
		t.Fatalf("status = %s, want queued", stored.Status)
	}
	if stored.RetryCount != 0 {
		t.Fatalf("retry count = %d, want 0", stored.RetryCount)
	}
}

func TestReclaimStuckRequeuesAbandonedClaims(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc := newQueueService(t, db, clk)

	if _, err := svc.Enqueue(ctx, 1, "standard", 3); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	clk.Advance(time.Second)
	if _, err := svc.Enqueue(ctx, 2, "standard", 3); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	var claimed []*domain.Entry
	err := db.Transaction(func(tx *gorm.DB) error {
		var err error
		claimed, err = svc.Claim(ctx, tx, 1)
		return err
	})
	if err != nil || len(claimed) != 1 {
		t.Fatalf("claim: %v (%d entries)", err, len(claimed))
	}

	// Claim still fresh: nothing to reclaim.
	clk.Advance(time.Minute)
	reclaimed, err := svc.ReclaimStuck(ctx, 5*time.Minute)
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if reclaimed != 0 {
		t.Fatalf("reclaimed = %d, want 0 before threshold", reclaimed)
	}

	// The drainer never settled the claim. Past the threshold it comes back.
	clk.Advance(10 * time.Minute)
	reclaimed, err = svc.ReclaimStuck(ctx, 5*time.Minute)
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if reclaimed != 1 {
		t.Fatalf("reclaimed = %d, want 1", reclaimed)
	}

	var stored domain.Entry
	if err := db.Raw(`SELECT * FROM call_queue_entries WHERE booking_id = 1`).Scan(&stored).Error; err != nil {
		t.Fatalf("read entry: %v", err)
	}
	if stored.Status != domain.StatusQueued {
		t.Fatalf("status = %s, want queued", stored.Status)
	}
	if stored.RetryCount != 0 {
		t.Fatalf("retry count = %d, want 0", stored.RetryCount)
	}

	count, err := svc.QueuedCount(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("queued = %d, want 2", count)
	}
}

func TestPositionCountsQueueAhead(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc := newQueueService(t, db, clk)

	if _, err := svc.Enqueue(ctx, 1, "premium", 1); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	clk.Advance(time.Second)
	if _, err := svc.Enqueue(ctx, 2, "free_trial", 9); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	clk.Advance(time.Second)
	if _, err := svc.Enqueue(ctx, 3, "standard", 3); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	pos, err := svc.Position(ctx, 2)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if pos != 3 {
		t.Fatalf("trial position = %d, want 3", pos)
	}

	pos, err = svc.Position(ctx, 1)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if pos != 1 {
		t.Fatalf("premium position = %d, want 1", pos)
	}

	if _, err := svc.Position(ctx, 99); !errors.Is(err, domain.ErrEntryNotFound) {
		t.Fatalf("err = %v, want ErrEntryNotFound", err)
	}
}
