package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/warmline/internal/callqueue/domain"
	"github.com/smallbiznis/warmline/internal/clock"
	"github.com/smallbiznis/warmline/internal/config"
	"github.com/smallbiznis/warmline/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Policy  *config.PolicyHolder
	Repo    domain.Repository
	Metrics *metrics.Metrics
}

type service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	policy  *config.PolicyHolder
	repo    domain.Repository
	metrics *metrics.Metrics
}

func New(p Params) domain.Service {
	return &service{
		db:      p.DB,
		log:     p.Log.Named("callqueue"),
		genID:   p.GenID,
		clock:   p.Clock,
		policy:  p.Policy,
		repo:    p.Repo,
		metrics: p.Metrics,
	}
}

func (s *service) Enqueue(ctx context.Context, bookingID snowflake.ID, planType string, priority int) (*domain.EnqueueResult, error) {
	now := s.clock.Now()
	entry := &domain.Entry{
		ID:           s.genID.Generate(),
		BookingID:    bookingID,
		PlanType:     planType,
		Priority:     priority,
		MaxRetries:   s.policy.Get().MaxRetries,
		Status:       domain.StatusQueued,
		ScheduledFor: now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	existing, inserted, err := s.repo.Insert(ctx, s.db, entry)
	if err != nil {
		return nil, err
	}
	if inserted {
		s.metrics.RecordQueueEntry(ctx, planType, "enqueued")
	}

	pos, err := s.repo.Position(ctx, s.db, existing)
	if err != nil {
		return nil, err
	}
	return &domain.EnqueueResult{
		Entry:    existing,
		Position: pos,
		Existing: !inserted,
	}, nil
}

func (s *service) Position(ctx context.Context, bookingID snowflake.ID) (int, error) {
	entry, err := s.repo.FindByBookingID(ctx, s.db, bookingID)
	if err != nil {
		return 0, err
	}
	if entry.Status != domain.StatusQueued && entry.Status != domain.StatusProcessing {
		return 0, domain.ErrEntryNotFound
	}
	return s.repo.Position(ctx, s.db, entry)
}

func (s *service) Claim(ctx context.Context, tx *gorm.DB, limit int) ([]*domain.Entry, error) {
	if limit <= 0 {
		limit = s.policy.Get().DrainBatchSize
	}
	return s.repo.ClaimDue(ctx, tx, s.clock.Now(), limit)
}

func (s *service) Retry(ctx context.Context, entry *domain.Entry, attemptErr error) (bool, error) {
	now := s.clock.Now()
	msg := ""
	if attemptErr != nil {
		msg = attemptErr.Error()
	}

	if entry.RetryCount+1 >= entry.MaxRetries {
		if err := s.repo.Fail(ctx, s.db, entry.ID, msg, now); err != nil {
			return false, err
		}
		s.metrics.RecordQueueEntry(ctx, entry.PlanType, "exhausted")
		s.log.Warn("queue entry exhausted",
			zap.String("booking_id", entry.BookingID.String()),
			zap.Int("retry_count", entry.RetryCount+1),
			zap.String("last_error", msg),
		)
		return true, nil
	}

	delay := s.backoff(entry.RetryCount)
	if err := s.repo.Reschedule(ctx, s.db, entry.ID, now.Add(delay), msg, now); err != nil {
		return false, err
	}
	s.metrics.RecordQueueEntry(ctx, entry.PlanType, "rescheduled")
	s.log.Info("queue entry rescheduled",
		zap.String("booking_id", entry.BookingID.String()),
		zap.Int("retry_count", entry.RetryCount+1),
		zap.Duration("delay", delay),
	)
	return false, nil
}

func (s *service) Release(ctx context.Context, entry *domain.Entry) error {
	return s.repo.ResetToQueued(ctx, s.db, entry.ID, s.clock.Now())
}

func (s *service) ReclaimStuck(ctx context.Context, olderThan time.Duration) (int, error) {
	now := s.clock.Now()
	reclaimed, err := s.repo.ReclaimStuck(ctx, s.db, now.Add(-olderThan), now)
	if err != nil {
		return 0, err
	}
	if reclaimed > 0 {
		s.log.Warn("requeued abandoned queue claims", zap.Int64("count", reclaimed))
	}
	return int(reclaimed), nil
}

func (s *service) Complete(ctx context.Context, entry *domain.Entry) error {
	if err := s.repo.Complete(ctx, s.db, entry.ID, s.clock.Now()); err != nil {
		return err
	}
	s.metrics.RecordQueueEntry(ctx, entry.PlanType, "completed")
	return nil
}

func (s *service) QueuedCount(ctx context.Context) (int64, error) {
	return s.repo.CountByStatus(ctx, s.db, domain.StatusQueued)
}

// backoff doubles per attempt from the policy base, capped at the policy max.
func (s *service) backoff(retryCount int) time.Duration {
	policy := s.policy.Get()
	delay := policy.BaseBackoff
	for i := 0; i < retryCount; i++ {
		delay *= 2
		if delay >= policy.MaxBackoff {
			return policy.MaxBackoff
		}
	}
	if delay > policy.MaxBackoff {
		return policy.MaxBackoff
	}
	return delay
}
