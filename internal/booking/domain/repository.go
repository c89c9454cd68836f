package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, booking *Booking) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Booking, error)

	// TransitionStatus moves the booking from one of the expected statuses to
	// next. Returns false when the booking was not in an expected status,
	// which callers treat as a lost race, not an error.
	TransitionStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from []Status, to Status, now time.Time) (bool, error)

	SetPaymentStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status PaymentStatus, now time.Time) error
	SetProviderCallID(ctx context.Context, db *gorm.DB, id snowflake.ID, providerCallID string, now time.Time) error
	MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, from []Status, message string, now time.Time) (bool, error)

	// ExpirePendingPayments terminally expires bookings whose payment window
	// lapsed. Returns the booking ids that were expired.
	ExpirePendingPayments(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]snowflake.ID, error)
}
