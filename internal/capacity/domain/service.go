package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	// TryAdmit atomically reserves one slot on the least-loaded active
	// account. ok is false when every account is saturated; that is not an
	// error.
	TryAdmit(ctx context.Context) (Account, bool, error)

	// Release returns a previously reserved slot. Releasing an account with
	// no active calls is logged and ignored so compensation paths can call
	// it unconditionally.
	Release(ctx context.Context, accountID snowflake.ID) error

	Snapshot(ctx context.Context) (Snapshot, error)

	RecordActiveCall(ctx context.Context, call *ActiveCall) error
	FindActiveCall(ctx context.Context, bookingID snowflake.ID) (*ActiveCall, error)
	FindActiveCallByProviderID(ctx context.Context, providerCallID string) (*ActiveCall, error)

	// RemoveActiveCall deletes the booking's active call. The delete winning
	// (true) is the exactly-once gate for call teardown.
	RemoveActiveCall(ctx context.Context, bookingID snowflake.ID) (*ActiveCall, bool, error)

	ListStaleCalls(ctx context.Context, olderThan time.Time, limit int) ([]ActiveCall, error)
}

var (
	ErrAccountNotFound   = errors.New("capacity_account_not_found")
	ErrDuplicateCall     = errors.New("active_call_exists")
	ErrInvalidAccount    = errors.New("invalid_capacity_account")
	ErrInvalidActiveCall = errors.New("invalid_active_call")
)
