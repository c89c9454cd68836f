package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// Insert adds the entry. On a booking_id collision the existing row is
	// returned instead and inserted is false.
	Insert(ctx context.Context, db *gorm.DB, entry *Entry) (existing *Entry, inserted bool, err error)

	FindByBookingID(ctx context.Context, db *gorm.DB, bookingID snowflake.ID) (*Entry, error)

	// ClaimDue locks up to limit due queued entries with FOR UPDATE SKIP LOCKED
	// and marks them processing, ordered by priority then age. Must run inside
	// a transaction.
	ClaimDue(ctx context.Context, tx *gorm.DB, now time.Time, limit int) ([]*Entry, error)

	// Reschedule puts a processing entry back to queued with a bumped retry
	// count and a new due time.
	Reschedule(ctx context.Context, db *gorm.DB, id snowflake.ID, scheduledFor time.Time, lastError string, now time.Time) error

	// ResetToQueued returns a processing entry to queued without touching the
	// retry count, for entries claimed but not attempted.
	ResetToQueued(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error

	// ReclaimStuck returns processing entries whose claim went stale back to
	// queued. Covers drainers that died between claiming and settling.
	ReclaimStuck(ctx context.Context, db *gorm.DB, cutoff time.Time, now time.Time) (int64, error)

	Complete(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error

	Fail(ctx context.Context, db *gorm.DB, id snowflake.ID, lastError string, now time.Time) error

	// Position counts queued entries ahead of the given entry in drain order.
	Position(ctx context.Context, db *gorm.DB, entry *Entry) (int, error)

	CountByStatus(ctx context.Context, db *gorm.DB, status Status) (int64, error)
}
