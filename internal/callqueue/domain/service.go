package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrEntryNotFound = errors.New("queue_entry_not_found")
	ErrInvalidEntry  = errors.New("invalid_queue_entry")
)

// EnqueueResult reports where a booking landed in the queue.
type EnqueueResult struct {
	Entry    *Entry `json:"entry"`
	Position int    `json:"position"`
	// Existing is true when the booking was already queued and no new entry
	// was created.
	Existing bool `json:"existing"`
}

type Service interface {
	// Enqueue is idempotent on booking_id.
	Enqueue(ctx context.Context, bookingID snowflake.ID, planType string, priority int) (*EnqueueResult, error)

	Position(ctx context.Context, bookingID snowflake.ID) (int, error)

	// Claim locks due entries inside tx for the caller to attempt.
	Claim(ctx context.Context, tx *gorm.DB, limit int) ([]*Entry, error)

	// Retry reschedules a failed attempt with exponential backoff, or marks
	// the entry failed once retries are exhausted. Returns true when the
	// entry is terminal.
	Retry(ctx context.Context, entry *Entry, attemptErr error) (exhausted bool, err error)

	// Release puts a claimed entry back without consuming a retry.
	Release(ctx context.Context, entry *Entry) error

	// ReclaimStuck requeues entries whose claim is older than olderThan.
	// A drainer that crashed after claiming leaves its entries processing
	// forever otherwise.
	ReclaimStuck(ctx context.Context, olderThan time.Duration) (int, error)

	Complete(ctx context.Context, entry *Entry) error

	QueuedCount(ctx context.Context) (int64, error)
}
