package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrPaymentPending   = errors.New("payment_pending")
	ErrBookingNotReady  = errors.New("booking_not_ready")
	ErrCallInProgress   = errors.New("call_in_progress")
	ErrBookingTerminal  = errors.New("booking_terminal")
	ErrDispatchConflict = errors.New("dispatch_conflict")
)

// InitiateResult distinguishes an immediate dispatch from a queued booking.
type InitiateResult struct {
	Dispatched     bool   `json:"dispatched"`
	ProviderCallID string `json:"provider_call_id,omitempty"`
	QueuePosition  int    `json:"queue_position,omitempty"`
}

// DrainReport summarizes one pass over the call queue.
type DrainReport struct {
	Claimed    int `json:"claimed"`
	Dispatched int `json:"dispatched"`
	Requeued   int `json:"requeued"`
	Exhausted  int `json:"exhausted"`
	Errors     int `json:"errors"`
}

type Service interface {
	// InitiateCall dispatches the booking now when a slot is free, otherwise
	// queues it and reports its position.
	InitiateCall(ctx context.Context, bookingID snowflake.ID) (*InitiateResult, error)

	// DrainQueue claims due queue entries and dispatches them while capacity
	// lasts. limit <= 0 uses the policy batch size.
	DrainQueue(ctx context.Context, limit int) (*DrainReport, error)
}
