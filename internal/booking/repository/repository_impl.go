package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/warmline/internal/booking/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, booking *domain.Booking) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO bookings (id, customer_name, customer_phone, customer_email, plan_type, status, payment_status, amount_expected, currency, provider_call_id, error_message, payment_expires_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		booking.ID,
		booking.CustomerName,
		booking.CustomerPhone,
		booking.CustomerEmail,
		booking.PlanType,
		booking.Status,
		booking.PaymentStatus,
		booking.AmountExpected,
		booking.Currency,
		booking.ProviderCallID,
		booking.ErrorMessage,
		booking.PaymentExpiresAt,
		booking.CreatedAt,
		booking.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Booking, error) {
	var booking domain.Booking
	err := db.WithContext(ctx).Raw(
		`SELECT id, customer_name, customer_phone, customer_email, plan_type, status, payment_status, amount_expected, currency, provider_call_id, error_message, payment_expires_at, created_at, updated_at
		 FROM bookings WHERE id = ?`,
		id,
	).Scan(&booking).Error
	if err != nil {
		return nil, err
	}
	if booking.ID == 0 {
		return nil, nil
	}
	return &booking, nil
}

func (r *repo) TransitionStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from []domain.Status, to domain.Status, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE bookings SET status = ?, updated_at = ? WHERE id = ? AND status IN ?`,
		to,
		now,
		id,
		statusStrings(from),
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) SetPaymentStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status domain.PaymentStatus, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE bookings SET payment_status = ?, updated_at = ? WHERE id = ?`,
		status,
		now,
		id,
	).Error
}

func (r *repo) SetProviderCallID(ctx context.Context, db *gorm.DB, id snowflake.ID, providerCallID string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE bookings SET provider_call_id = ?, updated_at = ? WHERE id = ?`,
		providerCallID,
		now,
		id,
	).Error
}

func (r *repo) MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, from []domain.Status, message string, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE bookings SET status = ?, error_message = ?, updated_at = ? WHERE id = ? AND status IN ?`,
		domain.StatusFailed,
		message,
		now,
		id,
		statusStrings(from),
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) ExpirePendingPayments(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]snowflake.ID, error) {
	var rows []struct {
		ID snowflake.ID
	}
	err := db.WithContext(ctx).Raw(
		`SELECT id FROM bookings
		 WHERE status = ? AND payment_expires_at IS NOT NULL AND payment_expires_at <= ?
		 ORDER BY payment_expires_at ASC
		 LIMIT ?`,
		domain.StatusPendingPayment,
		now,
		limit,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	expired := make([]snowflake.ID, 0, len(rows))
	for _, row := range rows {
		result := db.WithContext(ctx).Exec(
			`UPDATE bookings SET status = ?, payment_status = ?, updated_at = ? WHERE id = ? AND status = ?`,
			domain.StatusExpired,
			domain.PaymentStatusExpired,
			now,
			row.ID,
			domain.StatusPendingPayment,
		)
		if result.Error != nil {
			return expired, result.Error
		}
		if result.RowsAffected > 0 {
			expired = append(expired, row.ID)
		}
	}
	return expired, nil
}

func statusStrings(statuses []domain.Status) []string {
	values := make([]string, 0, len(statuses))
	for _, status := range statuses {
		values = append(values, string(status))
	}
	return values
}
