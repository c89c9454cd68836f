package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/warmline/internal/callevent/domain"
	"github.com/smallbiznis/warmline/internal/clock"
	"github.com/smallbiznis/warmline/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

type Recorder struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
}

func NewRecorder(p Params) *Recorder {
	return &Recorder{
		db:    p.DB,
		log:   p.Log.Named("callevent"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

// Record appends a timeline event for a booking. Failures are logged but never
// propagated: the timeline is advisory and must not fail the operation that
// produced the event.
func (r *Recorder) Record(ctx context.Context, bookingID snowflake.ID, eventType string, detail map[string]any) {
	event := &domain.Event{
		ID:        r.genID.Generate(),
		BookingID: bookingID,
		EventType: eventType,
		CreatedAt: r.clock.Now(),
	}
	if len(detail) > 0 {
		event.Detail = datatypes.JSONMap(detail)
	}

	if err := r.repo.Insert(ctx, r.db, event); err != nil {
		r.log.Warn("record call event",
			zap.String("booking_id", bookingID.String()),
			zap.String("event_type", eventType),
			zap.Error(err),
		)
	}
}

// RecordTx is Record against a caller-held transaction, for events that must
// commit or roll back together with the state change they describe.
func (r *Recorder) RecordTx(ctx context.Context, tx *gorm.DB, bookingID snowflake.ID, eventType string, detail map[string]any, now time.Time) error {
	event := &domain.Event{
		ID:        r.genID.Generate(),
		BookingID: bookingID,
		EventType: eventType,
		CreatedAt: now,
	}
	if len(detail) > 0 {
		event.Detail = datatypes.JSONMap(detail)
	}
	return r.repo.Insert(ctx, tx, event)
}

func (r *Recorder) ListByBookingID(ctx context.Context, bookingID snowflake.ID, page pagination.Pagination) ([]*domain.Event, error) {
	return r.repo.ListByBookingID(ctx, r.db, bookingID, page)
}
