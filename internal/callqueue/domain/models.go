package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Entry is one booking waiting for a call slot. booking_id carries a unique
// index: enqueueing the same booking twice lands on the existing row.
type Entry struct {
	ID           snowflake.ID `gorm:"primaryKey" json:"id"`
	BookingID    snowflake.ID `gorm:"uniqueIndex" json:"booking_id"`
	PlanType     string       `json:"plan_type"`
	Priority     int          `json:"priority"`
	RetryCount   int          `json:"retry_count"`
	MaxRetries   int          `json:"max_retries"`
	Status       Status       `gorm:"index" json:"status"`
	ScheduledFor time.Time    `gorm:"index" json:"scheduled_for"`
	LastError    *string      `json:"last_error,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

func (Entry) TableName() string {
	return "call_queue_entries"
}
