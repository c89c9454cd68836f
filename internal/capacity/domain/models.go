package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Account is one provider calling identity with its own concurrency ceiling.
// CurrentActiveCalls is only ever moved by the guarded SQL in the repository,
// never read-modify-write in Go.
type Account struct {
	ID                 snowflake.ID `gorm:"primaryKey" json:"id"`
	Label              string       `gorm:"not null" json:"label"`
	PhoneNumberID      string       `gorm:"not null" json:"phone_number_id"`
	APIKeyRef          string       `gorm:"not null" json:"api_key_ref"`
	CurrentActiveCalls int          `gorm:"not null;default:0" json:"current_active_calls"`
	MaxConcurrentCalls int          `gorm:"not null" json:"max_concurrent_calls"`
	IsActive           bool         `gorm:"not null;default:true" json:"is_active"`
	CreatedAt          time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt          time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Account) TableName() string { return "capacity_accounts" }

// ActiveCall exists exactly while a reservation is consumed by a live call.
// The unique booking_id index doubles as the dispatch idempotency guard.
type ActiveCall struct {
	ID             snowflake.ID `gorm:"primaryKey" json:"id"`
	BookingID      snowflake.ID `gorm:"not null;uniqueIndex" json:"booking_id"`
	AccountID      snowflake.ID `gorm:"not null;index" json:"account_id"`
	ProviderCallID string       `gorm:"not null" json:"provider_call_id"`
	AssistantID    string       `gorm:"not null" json:"assistant_id"`
	StartedAt      time.Time    `gorm:"not null" json:"started_at"`
}

func (ActiveCall) TableName() string { return "active_calls" }

// Snapshot is the registry view used by check-concurrency and the admin API.
type Snapshot struct {
	Accounts     []Account `json:"accounts"`
	CurrentCalls int       `json:"current_calls"`
	MaxCalls     int       `json:"max_calls"`
}

func (s Snapshot) HasCapacity() bool {
	return s.CurrentCalls < s.MaxCalls
}
