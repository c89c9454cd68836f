package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	bookingdomain "github.com/smallbiznis/warmline/internal/booking/domain"
	calleventdomain "github.com/smallbiznis/warmline/internal/callevent/domain"
	calleventsvc "github.com/smallbiznis/warmline/internal/callevent/service"
	queuedomain "github.com/smallbiznis/warmline/internal/callqueue/domain"
	"github.com/smallbiznis/warmline/internal/clock"
	"github.com/smallbiznis/warmline/internal/config"
	dispatchdomain "github.com/smallbiznis/warmline/internal/dispatch/domain"
	obsmetrics "github.com/smallbiznis/warmline/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/warmline/internal/payment/domain"
	"github.com/smallbiznis/warmline/internal/plan"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Cfg      *config.Config
	Bookings bookingdomain.Service
	Queue    queuedomain.Service
	Dispatch dispatchdomain.Service
	Events   *calleventsvc.Recorder
	Repo     paymentdomain.Repository
	Metrics  *obsmetrics.Metrics
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	cfg      *config.Config
	bookings bookingdomain.Service
	queue    queuedomain.Service
	dispatch dispatchdomain.Service
	events   *calleventsvc.Recorder
	repo     paymentdomain.Repository
	metrics  *obsmetrics.Metrics
}

func NewService(p Params) *Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("payment.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		cfg:      p.Cfg,
		bookings: p.Bookings,
		queue:    p.Queue,
		dispatch: p.Dispatch,
		events:   p.Events,
		repo:     p.Repo,
		metrics:  p.Metrics,
	}
}

func (s *Service) ProcessEvent(ctx context.Context, event *paymentdomain.PaymentEvent, payload []byte) error {
	if err := validateEvent(event); err != nil {
		return err
	}

	now := s.clock.Now()
	received := paymentdomain.EventRecord{
		ID:              s.genID.Generate(),
		Provider:        event.Provider,
		ProviderEventID: event.ProviderEventID,
		ProviderTxRef:   event.ProviderTxRef,
		EventType:       event.Type,
		BookingID:       event.BookingID,
		Amount:          event.Amount,
		Currency:        event.Currency,
		Payload:         recordPayload(payload),
		ReceivedAt:      now,
	}

	inserted, err := s.repo.InsertEvent(ctx, s.db, &received)
	if err != nil {
		return err
	}
	stored := &received
	if !inserted {
		stored, err = s.repo.FindEvent(ctx, s.db, event.Provider, event.ProviderEventID)
		if err != nil {
			return err
		}
		if stored == nil {
			return paymentdomain.ErrInvalidEvent
		}
		if stored.ProcessedAt != nil {
			return paymentdomain.ErrEventAlreadyProcessed
		}
	}

	if err := s.applyEvent(ctx, stored, event); err != nil {
		return err
	}

	if err := s.repo.MarkProcessed(ctx, s.db, stored.ID, now); err != nil {
		return err
	}
	if inserted {
		s.metrics.RecordPaymentEvent(ctx, event.Provider, event.Type)
	}
	return nil
}

func (s *Service) applyEvent(ctx context.Context, stored *paymentdomain.EventRecord, event *paymentdomain.PaymentEvent) error {
	switch event.Type {
	case paymentdomain.EventTypePaymentSucceeded:
		return s.applySuccess(ctx, stored, event)
	case paymentdomain.EventTypePaymentFailed:
		return s.applyFailure(ctx, event)
	default:
		return paymentdomain.ErrInvalidEvent
	}
}

func (s *Service) applySuccess(ctx context.Context, stored *paymentdomain.EventRecord, event *paymentdomain.PaymentEvent) error {
	applied, err := s.repo.SucceededTxRefApplied(ctx, s.db, event.Provider, event.ProviderTxRef, stored.ID)
	if err != nil {
		return err
	}
	if applied {
		// Same payment, different delivery id. Record it, change nothing.
		s.log.Info("payment tx ref already applied",
			zap.String("provider", event.Provider),
			zap.String("tx_ref", event.ProviderTxRef),
		)
		return nil
	}

	booking, err := s.bookings.GetByID(ctx, event.BookingID)
	if err != nil {
		return err
	}

	if reason := s.rejectReason(&booking, event); reason != "" {
		s.events.Record(ctx, booking.ID, calleventdomain.TypePaymentRejected, map[string]any{
			"provider": event.Provider,
			"amount":   event.Amount,
			"expected": booking.AmountExpected,
			"reason":   reason,
		})
		if reason == "underpayment" {
			if err := s.bookings.SetPaymentStatus(ctx, booking.ID, bookingdomain.PaymentStatusFailed); err != nil {
				return err
			}
		}
		s.log.Warn("payment rejected",
			zap.String("booking_id", booking.ID.String()),
			zap.String("provider", event.Provider),
			zap.String("reason", reason),
			zap.Int64("amount", event.Amount),
			zap.Int64("expected", booking.AmountExpected),
		)
		return nil
	}

	if err := s.bookings.SetPaymentStatus(ctx, booking.ID, bookingdomain.PaymentStatusCompleted); err != nil {
		return err
	}
	won, err := s.bookings.Transition(ctx, booking.ID, []bookingdomain.Status{
		bookingdomain.StatusPendingPayment,
	}, bookingdomain.StatusQueued)
	if err != nil {
		return err
	}
	if !won {
		// Booking already moved on; the payment status update stands.
		return nil
	}

	s.events.Record(ctx, booking.ID, calleventdomain.TypePaymentReceived, map[string]any{
		"provider": event.Provider,
		"amount":   event.Amount,
		"currency": event.Currency,
		"tx_ref":   event.ProviderTxRef,
	})

	pl, err := plan.Lookup(booking.PlanType)
	if err != nil {
		return err
	}
	result, err := s.queue.Enqueue(ctx, booking.ID, booking.PlanType, pl.Priority)
	if err != nil {
		return err
	}
	s.events.Record(ctx, booking.ID, calleventdomain.TypeQueued, map[string]any{
		"position": result.Position,
		"priority": pl.Priority,
	})
	s.log.Info("payment accepted",
		zap.String("booking_id", booking.ID.String()),
		zap.String("provider", event.Provider),
		zap.Int64("amount", event.Amount),
		zap.Int("queue_position", result.Position),
	)

	// Try to place the call right away; the drain job picks it up later if
	// nothing is free now.
	if _, err := s.dispatch.DrainQueue(ctx, 1); err != nil {
		s.log.Error("drain after payment", zap.Error(err))
	}
	return nil
}

// rejectReason returns why a successful provider payment cannot settle the
// booking, or "" to accept. Overpayment is accepted as-is; underpayment past
// the tolerance is not.
func (s *Service) rejectReason(booking *bookingdomain.Booking, event *paymentdomain.PaymentEvent) string {
	if booking.Status == bookingdomain.StatusExpired {
		return "booking_expired"
	}
	if booking.Status.Terminal() {
		return "booking_closed"
	}
	if booking.Status != bookingdomain.StatusPendingPayment {
		return ""
	}
	if booking.PaymentExpiresAt != nil && event.OccurredAt.After(*booking.PaymentExpiresAt) {
		return "payment_window_expired"
	}
	if booking.Currency != "" && event.Currency != "" && !strings.EqualFold(booking.Currency, event.Currency) {
		return "currency_mismatch"
	}
	minAccepted := float64(booking.AmountExpected) * (1 - s.cfg.PaymentAmountTolerance)
	if float64(event.Amount) < minAccepted {
		return "underpayment"
	}
	return ""
}

func (s *Service) applyFailure(ctx context.Context, event *paymentdomain.PaymentEvent) error {
	booking, err := s.bookings.GetByID(ctx, event.BookingID)
	if err != nil {
		if errors.Is(err, bookingdomain.ErrNotFound) {
			return nil
		}
		return err
	}
	if booking.Status != bookingdomain.StatusPendingPayment {
		return nil
	}
	if err := s.bookings.SetPaymentStatus(ctx, booking.ID, bookingdomain.PaymentStatusFailed); err != nil {
		return err
	}
	s.events.Record(ctx, booking.ID, calleventdomain.TypePaymentRejected, map[string]any{
		"provider": event.Provider,
		"reason":   "provider_reported_failure",
	})
	return nil
}

func validateEvent(event *paymentdomain.PaymentEvent) error {
	if event == nil {
		return paymentdomain.ErrInvalidEvent
	}
	event.Provider = strings.ToLower(strings.TrimSpace(event.Provider))
	if event.Provider == "" {
		return paymentdomain.ErrInvalidProvider
	}
	event.ProviderEventID = strings.TrimSpace(event.ProviderEventID)
	if event.ProviderEventID == "" {
		return paymentdomain.ErrInvalidEvent
	}
	event.Type = strings.TrimSpace(event.Type)
	if event.Type == "" {
		return paymentdomain.ErrInvalidEvent
	}
	if event.BookingID == 0 {
		return paymentdomain.ErrInvalidBookingRef
	}
	event.Currency = strings.ToUpper(strings.TrimSpace(event.Currency))
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	return nil
}

func recordPayload(payload []byte) datatypes.JSON {
	if json.Valid(payload) {
		return datatypes.JSON(payload)
	}
	// Form-encoded callbacks are stored wrapped so the column stays jsonb.
	wrapped, _ := json.Marshal(map[string]string{"raw": string(payload)})
	return datatypes.JSON(wrapped)
}
