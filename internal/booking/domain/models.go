package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusPending        Status = "pending"
	StatusPendingPayment Status = "pending_payment"
	StatusQueued         Status = "queued"
	StatusInitiating     Status = "initiating"
	StatusCalling        Status = "calling"
	StatusCompleted      Status = "completed"
	StatusFailed         Status = "failed"
	StatusCancelled      Status = "cancelled"
	StatusExpired        Status = "expired"
)

// Terminal reports whether no further transitions are allowed from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusExpired:
		return true
	default:
		return false
	}
}

type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusCompleted  PaymentStatus = "completed"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusExpired    PaymentStatus = "expired"
)

type Booking struct {
	ID               snowflake.ID  `gorm:"primaryKey" json:"id"`
	CustomerName     string        `gorm:"not null" json:"customer_name"`
	CustomerPhone    string        `gorm:"not null;index" json:"customer_phone"`
	CustomerEmail    string        `gorm:"not null" json:"customer_email"`
	PlanType         string        `gorm:"not null" json:"plan_type"`
	Status           Status        `gorm:"not null;index" json:"status"`
	PaymentStatus    PaymentStatus `gorm:"not null" json:"payment_status"`
	AmountExpected   int64         `gorm:"not null" json:"amount_expected"`
	Currency         string        `gorm:"not null" json:"currency"`
	ProviderCallID   *string       `json:"provider_call_id,omitempty"`
	ErrorMessage     *string       `json:"error_message,omitempty"`
	PaymentExpiresAt *time.Time    `json:"payment_expires_at,omitempty"`
	CreatedAt        time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt        time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Booking) TableName() string { return "bookings" }
