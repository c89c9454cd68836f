package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/warmline/internal/trial/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, redemption *domain.Redemption) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO trial_redemptions (customer_phone, booking_id, redeemed_at)
		 VALUES (?, ?, ?)`,
		redemption.CustomerPhone,
		redemption.BookingID,
		redemption.RedeemedAt,
	).Error
}

func (r *repo) FindByPhone(ctx context.Context, db *gorm.DB, phone string) (*domain.Redemption, error) {
	var redemption domain.Redemption
	err := db.WithContext(ctx).Raw(
		`SELECT customer_phone, booking_id, redeemed_at
		 FROM trial_redemptions WHERE customer_phone = ?`,
		phone,
	).Scan(&redemption).Error
	if err != nil {
		return nil, err
	}
	if redemption.CustomerPhone == "" {
		return nil, nil
	}
	return &redemption, nil
}

func (r *repo) DeleteByBookingID(ctx context.Context, db *gorm.DB, bookingID snowflake.ID) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`DELETE FROM trial_redemptions WHERE booking_id = ?`,
		bookingID,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
