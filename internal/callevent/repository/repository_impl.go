package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/warmline/internal/callevent/domain"
	"github.com/smallbiznis/warmline/pkg/db/option"
	"github.com/smallbiznis/warmline/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, event *domain.Event) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO call_events (id, booking_id, event_type, detail, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		event.ID,
		event.BookingID,
		event.EventType,
		event.Detail,
		event.CreatedAt,
	).Error
}

func (r *repo) ListByBookingID(ctx context.Context, db *gorm.DB, bookingID snowflake.ID, page pagination.Pagination) ([]*domain.Event, error) {
	var events []*domain.Event
	stmt := db.WithContext(ctx).
		Model(&domain.Event{}).
		Where("booking_id = ?", bookingID)
	stmt = option.ApplyPagination(page).Apply(stmt)
	err := stmt.
		Order("created_at desc, id desc").
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}
