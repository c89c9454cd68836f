package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	paymentdomain "github.com/smallbiznis/warmline/internal/payment/domain"
)

type CreateBookingRequest struct {
	Name     string
	Phone    string
	Email    string
	PlanType string
}

type CreateBookingResponse struct {
	Booking Booking `json:"booking"`

	// PaymentRequired signals the funnel to show payment instructions.
	PaymentRequired bool       `json:"payment_required"`
	AmountCents     int64      `json:"amount_cents,omitempty"`
	Currency        string     `json:"currency,omitempty"`
	PaymentDeadline *time.Time `json:"payment_deadline,omitempty"`

	// Invoice carries the provider checkout opened for paid plans. Nil when
	// invoice creation is unavailable; the amount and deadline above still
	// stand and any enabled provider's webhook can settle the booking.
	Invoice *paymentdomain.Invoice `json:"invoice,omitempty"`
}

// StatusResponse is the customer-facing poll payload. Provider errors never
// surface here.
type StatusResponse struct {
	BookingID     string `json:"booking_id"`
	Status        Status `json:"status"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	Message       string `json:"message"`
}

type Service interface {
	Create(context.Context, CreateBookingRequest) (CreateBookingResponse, error)
	GetByID(ctx context.Context, id snowflake.ID) (Booking, error)
	Status(ctx context.Context, id snowflake.ID) (StatusResponse, error)

	Transition(ctx context.Context, id snowflake.ID, from []Status, to Status) (bool, error)
	SetPaymentStatus(ctx context.Context, id snowflake.ID, status PaymentStatus) error
	SetProviderCallID(ctx context.Context, id snowflake.ID, providerCallID string) error
	Fail(ctx context.Context, id snowflake.ID, from []Status, message string) (bool, error)

	ExpirePendingPayments(ctx context.Context, limit int) ([]snowflake.ID, error)
}

var (
	ErrInvalidName  = errors.New("invalid_name")
	ErrInvalidPhone = errors.New("invalid_phone")
	ErrInvalidEmail = errors.New("invalid_email")
	ErrInvalidID    = errors.New("invalid_id")
	ErrNotFound     = errors.New("booking_not_found")
)
