package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/warmline/internal/callqueue/domain"
	"github.com/smallbiznis/warmline/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, conn *gorm.DB, entry *domain.Entry) (*domain.Entry, bool, error) {
	err := conn.WithContext(ctx).Exec(
		`INSERT INTO call_queue_entries
		   (id, booking_id, plan_type, priority, retry_count, max_retries, status, scheduled_for, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.BookingID,
		entry.PlanType,
		entry.Priority,
		entry.RetryCount,
		entry.MaxRetries,
		entry.Status,
		entry.ScheduledFor,
		entry.CreatedAt,
		entry.UpdatedAt,
	).Error
	if err == nil {
		return entry, true, nil
	}
	if !db.IsDuplicateKeyErr(err) {
		return nil, false, err
	}

	existing, ferr := r.FindByBookingID(ctx, conn, entry.BookingID)
	if ferr != nil {
		return nil, false, ferr
	}
	return existing, false, nil
}

func (r *repo) FindByBookingID(ctx context.Context, conn *gorm.DB, bookingID snowflake.ID) (*domain.Entry, error) {
	var entry domain.Entry
	err := conn.WithContext(ctx).Raw(
		`SELECT * FROM call_queue_entries WHERE booking_id = ?`,
		bookingID,
	).Scan(&entry).Error
	if err != nil {
		return nil, err
	}
	if entry.ID == 0 {
		return nil, domain.ErrEntryNotFound
	}
	return &entry, nil
}

func (r *repo) ClaimDue(ctx context.Context, tx *gorm.DB, now time.Time, limit int) ([]*domain.Entry, error) {
	var entries []*domain.Entry
	err := tx.WithContext(ctx).Raw(
		`SELECT * FROM call_queue_entries
		 WHERE status = ? AND scheduled_for <= ?
		 ORDER BY priority ASC, created_at ASC
		 LIMIT ?
		 FOR UPDATE SKIP LOCKED`,
		domain.StatusQueued,
		now,
		limit,
	).Scan(&entries).Error
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}

	ids := make([]snowflake.ID, 0, len(entries))
	for _, entry := range entries {
		ids = append(ids, entry.ID)
	}
	err = tx.WithContext(ctx).Exec(
		`UPDATE call_queue_entries SET status = ?, updated_at = ? WHERE id IN ?`,
		domain.StatusProcessing,
		now,
		ids,
	).Error
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		entry.Status = domain.StatusProcessing
		entry.UpdatedAt = now
	}
	return entries, nil
}

func (r *repo) Reschedule(ctx context.Context, conn *gorm.DB, id snowflake.ID, scheduledFor time.Time, lastError string, now time.Time) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE call_queue_entries
		 SET status = ?, retry_count = retry_count + 1, scheduled_for = ?, last_error = ?, updated_at = ?
		 WHERE id = ?`,
		domain.StatusQueued,
		scheduledFor,
		lastError,
		now,
		id,
	).Error
}

func (r *repo) ResetToQueued(ctx context.Context, conn *gorm.DB, id snowflake.ID, now time.Time) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE call_queue_entries SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		domain.StatusQueued,
		now,
		id,
		domain.StatusProcessing,
	).Error
}

func (r *repo) ReclaimStuck(ctx context.Context, conn *gorm.DB, cutoff time.Time, now time.Time) (int64, error) {
	res := conn.WithContext(ctx).Exec(
		`UPDATE call_queue_entries
		 SET status = ?, updated_at = ?
		 WHERE status = ? AND updated_at <= ?`,
		domain.StatusQueued,
		now,
		domain.StatusProcessing,
		cutoff,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) Complete(ctx context.Context, conn *gorm.DB, id snowflake.ID, now time.Time) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE call_queue_entries SET status = ?, updated_at = ? WHERE id = ?`,
		domain.StatusCompleted,
		now,
		id,
	).Error
}

func (r *repo) Fail(ctx context.Context, conn *gorm.DB, id snowflake.ID, lastError string, now time.Time) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE call_queue_entries SET status = ?, last_error = ?, updated_at = ? WHERE id = ?`,
		domain.StatusFailed,
		lastError,
		now,
		id,
	).Error
}

func (r *repo) Position(ctx context.Context, conn *gorm.DB, entry *domain.Entry) (int, error) {
	var ahead int64
	err := conn.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM call_queue_entries
		 WHERE status = ?
		   AND (priority < ? OR (priority = ? AND created_at < ?))`,
		domain.StatusQueued,
		entry.Priority,
		entry.Priority,
		entry.CreatedAt,
	).Scan(&ahead).Error
	if err != nil {
		return 0, err
	}
	return int(ahead) + 1, nil
}

func (r *repo) CountByStatus(ctx context.Context, conn *gorm.DB, status domain.Status) (int64, error) {
	var count int64
	err := conn.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM call_queue_entries WHERE status = ?`,
		status,
	).Scan(&count).Error
	return count, err
}
