package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	bookingdomain "github.com/smallbiznis/warmline/internal/booking/domain"
	calleventdomain "github.com/smallbiznis/warmline/internal/callevent/domain"
	calleventsvc "github.com/smallbiznis/warmline/internal/callevent/service"
	capacitydomain "github.com/smallbiznis/warmline/internal/capacity/domain"
	"github.com/smallbiznis/warmline/internal/clock"
	"github.com/smallbiznis/warmline/internal/config"
	dispatchdomain "github.com/smallbiznis/warmline/internal/dispatch/domain"
	"github.com/smallbiznis/warmline/internal/lifecycle/domain"
	"github.com/smallbiznis/warmline/internal/observability/metrics"
	voicedomain "github.com/smallbiznis/warmline/internal/providers/voice/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	Cfg      *config.Config
	Bookings bookingdomain.Service
	Capacity capacitydomain.Service
	Dispatch dispatchdomain.Service
	Events   *calleventsvc.Recorder
	Metrics  *metrics.Metrics
}

type service struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	cfg      *config.Config
	bookings bookingdomain.Service
	capacity capacitydomain.Service
	dispatch dispatchdomain.Service
	events   *calleventsvc.Recorder
	metrics  *metrics.Metrics
}

func New(p Params) domain.Service {
	return &service{
		db:       p.DB,
		log:      p.Log.Named("lifecycle"),
		clock:    p.Clock,
		cfg:      p.Cfg,
		bookings: p.Bookings,
		capacity: p.Capacity,
		dispatch: p.Dispatch,
		events:   p.Events,
		metrics:  p.Metrics,
	}
}

func (s *service) MarkCallStarted(ctx context.Context, providerCallID string) error {
	call, err := s.capacity.FindActiveCallByProviderID(ctx, providerCallID)
	if err != nil {
		return err
	}
	if call == nil {
		return domain.ErrUnknownCall
	}
	s.events.Record(ctx, call.BookingID, calleventdomain.TypeCallStarted, map[string]any{
		"provider_call_id": providerCallID,
	})
	return nil
}

func (s *service) EndCallByProviderID(ctx context.Context, providerCallID string, reason voicedomain.EndReason, durationSec int) error {
	call, err := s.capacity.FindActiveCallByProviderID(ctx, providerCallID)
	if err != nil {
		return err
	}
	if call == nil {
		return domain.ErrUnknownCall
	}
	_, err = s.EndCall(ctx, call.BookingID, reason, durationSec)
	return err
}

func (s *service) EndCall(ctx context.Context, bookingID snowflake.ID, reason voicedomain.EndReason, durationSec int) (bool, error) {
	call, deleted, err := s.capacity.RemoveActiveCall(ctx, bookingID)
	if err != nil {
		return false, err
	}
	if !deleted {
		// Webhook and sweep raced; the other side already tore down.
		s.log.Debug("end call: already torn down",
			zap.String("booking_id", bookingID.String()),
		)
		return false, nil
	}

	if err := s.capacity.Release(ctx, call.AccountID); err != nil {
		s.log.Error("release slot on call end",
			zap.String("booking_id", bookingID.String()),
			zap.Error(err),
		)
	}

	if err := s.finalizeBooking(ctx, bookingID, reason); err != nil {
		return true, err
	}

	s.events.Record(ctx, bookingID, calleventdomain.TypeCallEnded, map[string]any{
		"reason":           string(reason),
		"duration_seconds": durationSec,
		"provider_call_id": call.ProviderCallID,
	})
	s.metrics.RecordCallEnded(ctx, string(reason))
	s.log.Info("call ended",
		zap.String("booking_id", bookingID.String()),
		zap.String("reason", string(reason)),
		zap.Int("duration_seconds", durationSec),
	)

	// The freed slot should go to the next waiter immediately rather than on
	// the next drain tick.
	if _, err := s.dispatch.DrainQueue(ctx, 1); err != nil {
		s.log.Error("drain after call end", zap.Error(err))
	}
	return true, nil
}

func (s *service) finalizeBooking(ctx context.Context, bookingID snowflake.ID, reason voicedomain.EndReason) error {
	from := []bookingdomain.Status{
		bookingdomain.StatusInitiating,
		bookingdomain.StatusCalling,
	}

	switch reason {
	case voicedomain.EndReasonCompleted:
		_, err := s.bookings.Transition(ctx, bookingID, from, bookingdomain.StatusCompleted)
		return err
	case voicedomain.EndReasonCancelled:
		_, err := s.bookings.Transition(ctx, bookingID, from, bookingdomain.StatusCancelled)
		return err
	default:
		_, err := s.bookings.Fail(ctx, bookingID, from, "call ended: "+string(reason))
		return err
	}
}

func (s *service) SweepStaleCalls(ctx context.Context, limit int) (*domain.SweepReport, error) {
	cutoff := s.clock.Now().Add(-s.cfg.StaleCallThreshold)
	stale, err := s.capacity.ListStaleCalls(ctx, cutoff, limit)
	if err != nil {
		return nil, err
	}

	report := &domain.SweepReport{Scanned: len(stale)}
	for _, call := range stale {
		torn, err := s.EndCall(ctx, call.BookingID, voicedomain.EndReasonTimedOut, 0)
		if err != nil {
			report.Errors++
			s.log.Error("sweep stale call",
				zap.String("booking_id", call.BookingID.String()),
				zap.Error(err),
			)
			continue
		}
		if !torn {
			// A webhook beat the sweep to teardown; nothing reclaimed.
			continue
		}
		s.events.Record(ctx, call.BookingID, calleventdomain.TypeSweepReclaimed, map[string]any{
			"provider_call_id": call.ProviderCallID,
			"started_at":       call.StartedAt,
		})
		s.metrics.RecordSweepReclaim(ctx, "stale")
		report.Reclaimed++
	}
	return report, nil
}
