package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	InsertAccount(ctx context.Context, db *gorm.DB, account *Account) error
	ListAccounts(ctx context.Context, db *gorm.DB) ([]Account, error)
	FindAccountByLabel(ctx context.Context, db *gorm.DB, label string) (*Account, error)

	// ReserveSlot performs the compare-and-increment on one account. Returns
	// false when the account was already at its ceiling.
	ReserveSlot(ctx context.Context, db *gorm.DB, accountID snowflake.ID, now time.Time) (bool, error)

	// ReleaseSlot decrements, guarded against going below zero.
	ReleaseSlot(ctx context.Context, db *gorm.DB, accountID snowflake.ID, now time.Time) (bool, error)

	// CandidateAccounts lists active accounts with free slots, least loaded
	// first.
	CandidateAccounts(ctx context.Context, db *gorm.DB) ([]Account, error)

	InsertActiveCall(ctx context.Context, db *gorm.DB, call *ActiveCall) error
	FindActiveCallByBookingID(ctx context.Context, db *gorm.DB, bookingID snowflake.ID) (*ActiveCall, error)
	FindActiveCallByProviderID(ctx context.Context, db *gorm.DB, providerCallID string) (*ActiveCall, error)
	DeleteActiveCallByBookingID(ctx context.Context, db *gorm.DB, bookingID snowflake.ID) (bool, error)
	ListActiveCallsOlderThan(ctx context.Context, db *gorm.DB, olderThan time.Time, limit int) ([]ActiveCall, error)
}
