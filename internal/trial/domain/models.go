package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Redemption records the single lifetime free trial per phone number. The
// primary key on customer_phone makes consumption a conditional insert.
type Redemption struct {
	CustomerPhone string       `gorm:"primaryKey" json:"customer_phone"`
	BookingID     snowflake.ID `gorm:"not null" json:"booking_id"`
	RedeemedAt    time.Time    `gorm:"not null" json:"redeemed_at"`
}

func (Redemption) TableName() string { return "trial_redemptions" }

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, redemption *Redemption) error
	FindByPhone(ctx context.Context, db *gorm.DB, phone string) (*Redemption, error)
	DeleteByBookingID(ctx context.Context, db *gorm.DB, bookingID snowflake.ID) (bool, error)
}

type Service interface {
	Eligible(ctx context.Context, phone string) (bool, error)

	// Consume burns the trial for phone. ErrAlreadyRedeemed when a prior
	// booking already used it.
	Consume(ctx context.Context, phone string, bookingID snowflake.ID) error

	// Restore undoes a consumption whose dispatch never produced a call, so
	// a transient failure does not cost the customer their only trial.
	Restore(ctx context.Context, bookingID snowflake.ID) error
}

var (
	ErrAlreadyRedeemed = errors.New("trial_already_redeemed")
	ErrInvalidPhone    = errors.New("invalid_phone")
)
