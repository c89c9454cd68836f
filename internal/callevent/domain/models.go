package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/warmline/pkg/db/pagination"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	TypeBookingCreated   = "booking_created"
	TypeInvoiceCreated   = "invoice_created"
	TypePaymentReceived  = "payment_received"
	TypePaymentRejected  = "payment_rejected"
	TypeQueued           = "queued"
	TypeDispatchStarted  = "dispatch_started"
	TypeDispatchFailed   = "dispatch_failed"
	TypeCallStarted      = "call_started"
	TypeCallEnded        = "call_ended"
	TypeSweepReclaimed   = "sweep_reclaimed"
	TypeQueueExhausted   = "queue_exhausted"
	TypeBookingExpired   = "booking_expired"
	TypeBookingCancelled = "booking_cancelled"
)

// Event is an append-only audit record. Rows are never updated or deleted.
type Event struct {
	ID        snowflake.ID      `gorm:"primaryKey" json:"id"`
	BookingID snowflake.ID      `gorm:"not null;index" json:"booking_id"`
	EventType string            `gorm:"not null" json:"event_type"`
	Detail    datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"detail,omitempty"`
	CreatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (Event) TableName() string { return "call_events" }

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, event *Event) error
	ListByBookingID(ctx context.Context, db *gorm.DB, bookingID snowflake.ID, page pagination.Pagination) ([]*Event, error)
}
