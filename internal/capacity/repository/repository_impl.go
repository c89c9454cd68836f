package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/warmline/internal/capacity/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertAccount(ctx context.Context, db *gorm.DB, account *domain.Account) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO capacity_accounts (id, label, phone_number_id, api_key_ref, current_active_calls, max_concurrent_calls, is_active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		account.ID,
		account.Label,
		account.PhoneNumberID,
		account.APIKeyRef,
		account.CurrentActiveCalls,
		account.MaxConcurrentCalls,
		account.IsActive,
		account.CreatedAt,
		account.UpdatedAt,
	).Error
}

func (r *repo) ListAccounts(ctx context.Context, db *gorm.DB) ([]domain.Account, error) {
	var accounts []domain.Account
	err := db.WithContext(ctx).Raw(
		`SELECT id, label, phone_number_id, api_key_ref, current_active_calls, max_concurrent_calls, is_active, created_at, updated_at
		 FROM capacity_accounts ORDER BY label ASC, id ASC`,
	).Scan(&accounts).Error
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

func (r *repo) FindAccountByLabel(ctx context.Context, db *gorm.DB, label string) (*domain.Account, error) {
	var account domain.Account
	err := db.WithContext(ctx).Raw(
		`SELECT id, label, phone_number_id, api_key_ref, current_active_calls, max_concurrent_calls, is_active, created_at, updated_at
		 FROM capacity_accounts WHERE label = ?`,
		label,
	).Scan(&account).Error
	if err != nil {
		return nil, err
	}
	if account.ID == 0 {
		return nil, nil
	}
	return &account, nil
}

// ReserveSlot is the single admission point. The WHERE clause makes the
// increment and the ceiling check one atomic statement, so concurrent
// reservations can never push current_active_calls past the ceiling.
func (r *repo) ReserveSlot(ctx context.Context, db *gorm.DB, accountID snowflake.ID, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE capacity_accounts
		 SET current_active_calls = current_active_calls + 1, updated_at = ?
		 WHERE id = ? AND is_active AND current_active_calls < max_concurrent_calls`,
		now,
		accountID,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) ReleaseSlot(ctx context.Context, db *gorm.DB, accountID snowflake.ID, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE capacity_accounts
		 SET current_active_calls = current_active_calls - 1, updated_at = ?
		 WHERE id = ? AND current_active_calls > 0`,
		now,
		accountID,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) CandidateAccounts(ctx context.Context, db *gorm.DB) ([]domain.Account, error) {
	var accounts []domain.Account
	err := db.WithContext(ctx).Raw(
		`SELECT id, label, phone_number_id, api_key_ref, current_active_calls, max_concurrent_calls, is_active, created_at, updated_at
		 FROM capacity_accounts
		 WHERE is_active AND current_active_calls < max_concurrent_calls
		 ORDER BY current_active_calls ASC, id ASC`,
	).Scan(&accounts).Error
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

func (r *repo) InsertActiveCall(ctx context.Context, db *gorm.DB, call *domain.ActiveCall) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO active_calls (id, booking_id, account_id, provider_call_id, assistant_id, started_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		call.ID,
		call.BookingID,
		call.AccountID,
		call.ProviderCallID,
		call.AssistantID,
		call.StartedAt,
	).Error
}

func (r *repo) FindActiveCallByBookingID(ctx context.Context, db *gorm.DB, bookingID snowflake.ID) (*domain.ActiveCall, error) {
	var call domain.ActiveCall
	err := db.WithContext(ctx).Raw(
		`SELECT id, booking_id, account_id, provider_call_id, assistant_id, started_at
		 FROM active_calls WHERE booking_id = ?`,
		bookingID,
	).Scan(&call).Error
	if err != nil {
		return nil, err
	}
	if call.ID == 0 {
		return nil, nil
	}
	return &call, nil
}

func (r *repo) FindActiveCallByProviderID(ctx context.Context, db *gorm.DB, providerCallID string) (*domain.ActiveCall, error) {
	var call domain.ActiveCall
	err := db.WithContext(ctx).Raw(
		`SELECT id, booking_id, account_id, provider_call_id, assistant_id, started_at
		 FROM active_calls WHERE provider_call_id = ?`,
		providerCallID,
	).Scan(&call).Error
	if err != nil {
		return nil, err
	}
	if call.ID == 0 {
		return nil, nil
	}
	return &call, nil
}

func (r *repo) DeleteActiveCallByBookingID(ctx context.Context, db *gorm.DB, bookingID snowflake.ID) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`DELETE FROM active_calls WHERE booking_id = ?`,
		bookingID,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) ListActiveCallsOlderThan(ctx context.Context, db *gorm.DB, olderThan time.Time, limit int) ([]domain.ActiveCall, error) {
	var calls []domain.ActiveCall
	err := db.WithContext(ctx).Raw(
		`SELECT id, booking_id, account_id, provider_call_id, assistant_id, started_at
		 FROM active_calls WHERE started_at <= ?
		 ORDER BY started_at ASC
		 LIMIT ?`,
		olderThan,
		limit,
	).Scan(&calls).Error
	if err != nil {
		return nil, err
	}
	return calls, nil
}
