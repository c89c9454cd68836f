package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	bookingdomain "github.com/smallbiznis/warmline/internal/booking/domain"
	calleventdomain "github.com/smallbiznis/warmline/internal/callevent/domain"
	calleventsvc "github.com/smallbiznis/warmline/internal/callevent/service"
	queuedomain "github.com/smallbiznis/warmline/internal/callqueue/domain"
	capacitydomain "github.com/smallbiznis/warmline/internal/capacity/domain"
	"github.com/smallbiznis/warmline/internal/clock"
	"github.com/smallbiznis/warmline/internal/config"
	"github.com/smallbiznis/warmline/internal/dispatch/domain"
	"github.com/smallbiznis/warmline/internal/observability/metrics"
	"github.com/smallbiznis/warmline/internal/plan"
	voicedomain "github.com/smallbiznis/warmline/internal/providers/voice/domain"
	trialdomain "github.com/smallbiznis/warmline/internal/trial/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
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
	Capacity capacitydomain.Service
	Queue    queuedomain.Service
	Trials   trialdomain.Service
	Provider voicedomain.CallProvider
	Events   *calleventsvc.Recorder
	Metrics  *metrics.Metrics
}

type service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	cfg      *config.Config
	bookings bookingdomain.Service
	capacity capacitydomain.Service
	queue    queuedomain.Service
	trials   trialdomain.Service
	provider voicedomain.CallProvider
	events   *calleventsvc.Recorder
	metrics  *metrics.Metrics
}

func New(p Params) domain.Service {
	return &service{
		db:       p.DB,
		log:      p.Log.Named("dispatch"),
		genID:    p.GenID,
		clock:    p.Clock,
		cfg:      p.Cfg,
		bookings: p.Bookings,
		capacity: p.Capacity,
		queue:    p.Queue,
		trials:   p.Trials,
		provider: p.Provider,
		events:   p.Events,
		metrics:  p.Metrics,
	}
}

func (s *service) InitiateCall(ctx context.Context, bookingID snowflake.ID) (*domain.InitiateResult, error) {
	booking, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	switch booking.Status {
	case bookingdomain.StatusPending, bookingdomain.StatusQueued:
		// dispatchable
	case bookingdomain.StatusPendingPayment:
		return nil, domain.ErrPaymentPending
	case bookingdomain.StatusInitiating, bookingdomain.StatusCalling:
		return nil, domain.ErrCallInProgress
	default:
		return nil, domain.ErrBookingTerminal
	}

	pl, err := plan.Lookup(booking.PlanType)
	if err != nil {
		return nil, err
	}

	account, ok, err := s.capacity.TryAdmit(ctx)
	if err != nil {
		return nil, err
	}
	if ok {
		callID, err := s.dispatch(ctx, &booking, pl, account)
		if err != nil {
			return s.recoverDirect(ctx, &booking, pl, err)
		}
		return &domain.InitiateResult{Dispatched: true, ProviderCallID: callID}, nil
	}
	s.metrics.RecordAdmission(ctx, booking.PlanType, "queued")

	result, err := s.queue.Enqueue(ctx, booking.ID, booking.PlanType, pl.Priority)
	if err != nil {
		return nil, err
	}
	if !result.Existing {
		if _, err := s.bookings.Transition(ctx, booking.ID, []bookingdomain.Status{bookingdomain.StatusPending}, bookingdomain.StatusQueued); err != nil {
			return nil, err
		}
		s.events.Record(ctx, booking.ID, calleventdomain.TypeQueued, map[string]any{
			"position": result.Position,
			"priority": pl.Priority,
		})
	}
	return &domain.InitiateResult{QueuePosition: result.Position}, nil
}

// recoverDirect settles a booking whose immediate dispatch failed. Provider
// rejections are permanent and fail the booking; anything transient is put on
// the queue so the drainer retries it with backoff instead of stranding the
// booking in queued with no entry.
func (s *service) recoverDirect(ctx context.Context, booking *bookingdomain.Booking, pl plan.Plan, dispatchErr error) (*domain.InitiateResult, error) {
	if errors.Is(dispatchErr, domain.ErrDispatchConflict) {
		return nil, dispatchErr
	}

	if errors.Is(dispatchErr, voicedomain.ErrCallRejected) {
		if _, failErr := s.bookings.Fail(ctx, booking.ID, []bookingdomain.Status{
			bookingdomain.StatusPending,
			bookingdomain.StatusQueued,
		}, "call rejected by provider: "+dispatchErr.Error()); failErr != nil {
			return nil, errors.Join(dispatchErr, failErr)
		}
		return nil, dispatchErr
	}

	// dispatch already failed the booking on some paths (trial already used,
	// call tracking lost). Those stay terminal.
	current, err := s.bookings.GetByID(ctx, booking.ID)
	if err != nil {
		return nil, errors.Join(dispatchErr, err)
	}
	if current.Status.Terminal() {
		return nil, dispatchErr
	}

	result, err := s.queue.Enqueue(ctx, booking.ID, booking.PlanType, pl.Priority)
	if err != nil {
		return nil, errors.Join(dispatchErr, err)
	}
	if _, err := s.bookings.Transition(ctx, booking.ID, []bookingdomain.Status{
		bookingdomain.StatusPending,
	}, bookingdomain.StatusQueued); err != nil {
		return nil, errors.Join(dispatchErr, err)
	}
	s.events.Record(ctx, booking.ID, calleventdomain.TypeQueued, map[string]any{
		"position":    result.Position,
		"priority":    pl.Priority,
		"after_error": dispatchErr.Error(),
	})
	s.log.Warn("direct dispatch failed, booking queued for retry",
		zap.String("booking_id", booking.ID.String()),
		zap.Error(dispatchErr),
	)
	return &domain.InitiateResult{QueuePosition: result.Position}, nil
}

func (s *service) DrainQueue(ctx context.Context, limit int) (*domain.DrainReport, error) {
	var claimed []*queuedomain.Entry
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		claimed, err = s.queue.Claim(ctx, tx, limit)
		return err
	})
	if err != nil {
		return nil, err
	}

	report := &domain.DrainReport{Claimed: len(claimed)}
	for i, entry := range claimed {
		account, ok, err := s.capacity.TryAdmit(ctx)
		if err != nil {
			s.releaseClaimed(ctx, claimed[i:], report)
			return report, err
		}
		if !ok {
			// No slots left. Put the rest back untouched and stop the pass.
			s.releaseClaimed(ctx, claimed[i:], report)
			return report, nil
		}

		if err := s.attempt(ctx, entry, account, report); err != nil {
			report.Errors++
			s.log.Error("queue drain attempt",
				zap.String("booking_id", entry.BookingID.String()),
				zap.Error(err),
			)
		}
	}
	return report, nil
}

// releaseClaimed returns still-unattempted entries to queued without charging
// a retry.
func (s *service) releaseClaimed(ctx context.Context, entries []*queuedomain.Entry, report *domain.DrainReport) {
	for _, entry := range entries {
		if err := s.queue.Release(ctx, entry); err != nil {
			report.Errors++
			s.log.Error("release claimed queue entry",
				zap.String("booking_id", entry.BookingID.String()),
				zap.Error(err),
			)
		}
	}
}

// attempt dispatches one claimed entry. The admission slot is already held
// and must be settled on every path: consumed by a live call, or released.
func (s *service) attempt(ctx context.Context, entry *queuedomain.Entry, account capacitydomain.Account, report *domain.DrainReport) error {
	booking, err := s.bookings.GetByID(ctx, entry.BookingID)
	if err != nil {
		s.releaseSlot(ctx, account)
		if errors.Is(err, bookingdomain.ErrNotFound) {
			return s.queue.Complete(ctx, entry)
		}
		return errors.Join(err, s.queue.Release(ctx, entry))
	}

	if booking.Status.Terminal() {
		// Cancelled or expired while waiting. Drop the entry.
		s.releaseSlot(ctx, account)
		return s.queue.Complete(ctx, entry)
	}

	pl, err := plan.Lookup(booking.PlanType)
	if err != nil {
		s.releaseSlot(ctx, account)
		return errors.Join(err, s.queue.Complete(ctx, entry))
	}

	if _, err := s.dispatch(ctx, &booking, pl, account); err != nil {
		exhausted, retryErr := s.queue.Retry(ctx, entry, err)
		if retryErr != nil {
			return errors.Join(err, retryErr)
		}
		if exhausted {
			report.Exhausted++
			s.events.Record(ctx, booking.ID, calleventdomain.TypeQueueExhausted, map[string]any{
				"retries":    entry.RetryCount + 1,
				"last_error": err.Error(),
			})
			if _, failErr := s.bookings.Fail(ctx, booking.ID, []bookingdomain.Status{
				bookingdomain.StatusQueued,
				bookingdomain.StatusInitiating,
			}, "call could not be placed after retries"); failErr != nil {
				return errors.Join(err, failErr)
			}
		} else {
			report.Requeued++
		}
		return nil
	}

	report.Dispatched++
	return s.queue.Complete(ctx, entry)
}

func (s *service) releaseSlot(ctx context.Context, account capacitydomain.Account) {
	if err := s.capacity.Release(ctx, account.ID); err != nil {
		s.log.Error("release capacity slot",
			zap.String("account", account.Label),
			zap.Error(err),
		)
	}
}

// dispatch places the call for a booking whose admission slot is already
// reserved on account. Every failure path releases the slot; trial
// consumption is rolled back unless the call actually went out.
func (s *service) dispatch(ctx context.Context, booking *bookingdomain.Booking, pl plan.Plan, account capacitydomain.Account) (string, error) {
	if existing, err := s.capacity.FindActiveCall(ctx, booking.ID); err == nil && existing != nil {
		// Another dispatcher already placed this call.
		s.releaseSlot(ctx, account)
		return existing.ProviderCallID, nil
	}

	trialConsumed := false
	if pl.Trial {
		if err := s.trials.Consume(ctx, booking.CustomerPhone, booking.ID); err != nil {
			s.releaseSlot(ctx, account)
			if errors.Is(err, trialdomain.ErrAlreadyRedeemed) {
				if _, failErr := s.bookings.Fail(ctx, booking.ID, []bookingdomain.Status{
					bookingdomain.StatusPending,
					bookingdomain.StatusQueued,
				}, "free trial already used"); failErr != nil {
					return "", failErr
				}
			}
			return "", err
		}
		trialConsumed = true
	}

	undo := func() {
		s.releaseSlot(ctx, account)
		if trialConsumed {
			if err := s.trials.Restore(ctx, booking.ID); err != nil {
				s.log.Error("restore trial redemption",
					zap.String("booking_id", booking.ID.String()),
					zap.Error(err),
				)
			}
		}
	}

	won, err := s.bookings.Transition(ctx, booking.ID, []bookingdomain.Status{
		bookingdomain.StatusPending,
		bookingdomain.StatusQueued,
	}, bookingdomain.StatusInitiating)
	if err != nil {
		undo()
		return "", err
	}
	if !won {
		// Lost the race to a concurrent dispatch.
		undo()
		return "", domain.ErrDispatchConflict
	}

	s.events.Record(ctx, booking.ID, calleventdomain.TypeDispatchStarted, map[string]any{
		"account": account.Label,
	})

	assistantID := s.cfg.VoiceAssistantID
	if pl.Trial && s.cfg.VoiceTrialAssistantID != "" {
		assistantID = s.cfg.VoiceTrialAssistantID
	}

	placed, err := s.provider.PlaceCall(ctx, voicedomain.PlaceCallRequest{
		BookingID:     booking.ID.String(),
		CustomerName:  booking.CustomerName,
		CustomerPhone: booking.CustomerPhone,
		PhoneNumberID: account.PhoneNumberID,
		AssistantID:   assistantID,
		MaxDuration:   pl.CallDuration,
	})
	if err != nil {
		undo()
		s.events.Record(ctx, booking.ID, calleventdomain.TypeDispatchFailed, map[string]any{
			"error": err.Error(),
		})
		s.metrics.RecordDispatch(ctx, booking.PlanType, "provider_error")
		if _, backErr := s.bookings.Transition(ctx, booking.ID, []bookingdomain.Status{
			bookingdomain.StatusInitiating,
		}, bookingdomain.StatusQueued); backErr != nil {
			return "", errors.Join(err, backErr)
		}
		return "", err
	}

	call := &capacitydomain.ActiveCall{
		BookingID:      booking.ID,
		AccountID:      account.ID,
		ProviderCallID: placed.ProviderCallID,
		AssistantID:    assistantID,
	}
	if err := s.capacity.RecordActiveCall(ctx, call); err != nil {
		// The call is out but we could not persist it. Give the slot back and
		// fail the booking loudly; the sweep reconciles anything the provider
		// reports later.
		undo()
		s.log.Error("record active call after provider accepted",
			zap.String("booking_id", booking.ID.String()),
			zap.String("provider_call_id", placed.ProviderCallID),
			zap.Error(err),
		)
		if _, failErr := s.bookings.Fail(ctx, booking.ID, []bookingdomain.Status{
			bookingdomain.StatusInitiating,
		}, "call tracking failed"); failErr != nil {
			return "", errors.Join(err, failErr)
		}
		return "", fmt.Errorf("record active call: %w", err)
	}

	if err := s.bookings.SetProviderCallID(ctx, booking.ID, placed.ProviderCallID); err != nil {
		s.log.Error("persist provider call id",
			zap.String("booking_id", booking.ID.String()),
			zap.Error(err),
		)
	}
	if _, err := s.bookings.Transition(ctx, booking.ID, []bookingdomain.Status{
		bookingdomain.StatusInitiating,
	}, bookingdomain.StatusCalling); err != nil {
		s.log.Error("transition booking to calling",
			zap.String("booking_id", booking.ID.String()),
			zap.Error(err),
		)
	}

	s.metrics.RecordAdmission(ctx, booking.PlanType, "admitted")
	s.metrics.RecordDispatch(ctx, booking.PlanType, "dispatched")
	s.log.Info("call dispatched",
		zap.String("booking_id", booking.ID.String()),
		zap.String("provider_call_id", placed.ProviderCallID),
		zap.String("account", account.Label),
		zap.String("plan_type", booking.PlanType),
	)
	return placed.ProviderCallID, nil
}
