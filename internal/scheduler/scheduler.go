package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	bookingdomain "github.com/smallbiznis/warmline/internal/booking/domain"
	queuedomain "github.com/smallbiznis/warmline/internal/callqueue/domain"
	"github.com/smallbiznis/warmline/internal/clock"
	dispatchdomain "github.com/smallbiznis/warmline/internal/dispatch/domain"
	lifecycledomain "github.com/smallbiznis/warmline/internal/lifecycle/domain"
	obsmetrics "github.com/smallbiznis/warmline/internal/observability/metrics"
	"github.com/smallbiznis/warmline/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	BookingSvc   bookingdomain.Service
	DispatchSvc  dispatchdomain.Service
	LifecycleSvc lifecycledomain.Service
	QueueSvc     queuedomain.Service
	Locker       *ratelimit.Locker `optional:"true"`
	GenID        *snowflake.Node
	Clock        clock.Clock
	Config       Config `optional:"true"`
}

type Scheduler struct {
	db           *gorm.DB
	log          *zap.Logger
	cfg          Config
	genID        *snowflake.Node
	clock        clock.Clock
	bookingSvc   bookingdomain.Service
	dispatchSvc  dispatchdomain.Service
	lifecycleSvc lifecycledomain.Service
	queueSvc     queuedomain.Service
	locker       *ratelimit.Locker

	lastSweep    time.Time
	lastExpiry   time.Time
	lastRecovery time.Time
}

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.BookingSvc == nil || p.DispatchSvc == nil || p.LifecycleSvc == nil || p.QueueSvc == nil || p.GenID == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	cfg := p.Config.withDefaults()
	return &Scheduler{
		db:           p.DB,
		log:          p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:          cfg,
		genID:        p.GenID,
		clock:        p.Clock,
		bookingSvc:   p.BookingSvc,
		dispatchSvc:  p.DispatchSvc,
		lifecycleSvc: p.LifecycleSvc,
		queueSvc:     p.QueueSvc,
		locker:       p.Locker,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	release, acquired, err := s.acquireJobLock(ctx, name, timeout)
	if err != nil {
		log.Warn("job lock unavailable", zap.Error(err))
	}
	if !acquired {
		if owner {
			s.logJobFinish(ctx, run)
		}
		return nil
	}
	defer release()

	err = fn(ctx)
	schedMetrics.ObserveJobDuration(name, time.Since(start))
	if owner {
		if err != nil && run != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

// acquireJobLock keeps replicas from running the same job concurrently. With
// no locker configured the job runs unguarded.
func (s *Scheduler) acquireJobLock(ctx context.Context, name string, ttl time.Duration) (func(), bool, error) {
	if s.locker == nil {
		return func() {}, true, nil
	}
	key := "scheduler:" + name
	token, ok, err := s.locker.TryLock(ctx, key, ttl)
	if err != nil {
		// Redis being down should not stop maintenance on a single replica.
		return func() {}, true, err
	}
	if !ok {
		return func() {}, false, nil
	}
	return func() {
		if err := s.locker.Release(context.Background(), key, token); err != nil {
			s.log.Warn("release job lock", zap.String("job", name), zap.Error(err))
		}
	}, true, nil
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error
	now := s.clock.Now()

	jobs := []struct {
		Name    string
		Enabled bool
		Run     func(context.Context) error
	}{
		{"queue_recovery", s.isJobEnabled("queue_recovery") && s.due(s.lastRecovery, s.cfg.RecoveryInterval, now), func(ctx context.Context) error {
			s.lastRecovery = now
			return s.runJob(ctx, "queue_recovery", 0, 30*time.Second, s.QueueRecoveryJob)
		}},
		{"queue_drain", s.isJobEnabled("queue_drain"), func(ctx context.Context) error {
			return s.runJob(ctx, "queue_drain", s.cfg.DrainBatchSize, 30*time.Second, s.QueueDrainJob)
		}},
		{"stale_call_sweep", s.isJobEnabled("stale_call_sweep") && s.due(s.lastSweep, s.cfg.SweepInterval, now), func(ctx context.Context) error {
			s.lastSweep = now
			return s.runJob(ctx, "stale_call_sweep", s.cfg.SweepBatchSize, 30*time.Second, s.StaleCallSweepJob)
		}},
		{"payment_expiry", s.isJobEnabled("payment_expiry") && s.due(s.lastExpiry, s.cfg.PaymentExpiryInterval, now), func(ctx context.Context) error {
			s.lastExpiry = now
			return s.runJob(ctx, "payment_expiry", s.cfg.ExpiryBatchSize, 30*time.Second, s.PaymentExpiryJob)
		}},
	}

	for _, job := range jobs {
		if job.Enabled {
			err = errors.Join(err, job.Run(parent))
		}
	}

	return err
}

func (s *Scheduler) due(last time.Time, interval time.Duration, now time.Time) bool {
	return last.IsZero() || now.Sub(last) >= interval
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		runLag := time.Since(nextRun)
		if runLag > 0 {
			schedMetrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// Empty EnabledJobs enables everything.
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// QueueRecoveryJob requeues entries a dead drainer left in processing so
// their bookings are retried instead of silently dropped. Runs before the
// drain so reclaimed entries are picked up in the same tick.
func (s *Scheduler) QueueRecoveryJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, "queue_recovery", 0)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	reclaimed, err := s.queueSvc.ReclaimStuck(ctx, s.cfg.RecoveryThreshold)
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.queue_recovery.failed", "queue_recovery", err)
		return err
	}
	run.AddProcessed(reclaimed)
	obsmetrics.Scheduler().AddBatchProcessed("queue_recovery", reclaimed)
	if reclaimed > 0 {
		s.logger(ctx).Warn("abandoned queue claims requeued",
			zap.Int("reclaimed", reclaimed),
		)
	}
	return nil
}

func (s *Scheduler) QueueDrainJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, "queue_drain", s.cfg.DrainBatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	report, err := s.dispatchSvc.DrainQueue(ctx, s.cfg.DrainBatchSize)
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.queue_drain.failed", "queue_drain", err)
		return err
	}
	run.AddProcessed(report.Dispatched)
	if report.Errors > 0 {
		run.errorCount += report.Errors
	}
	obsmetrics.Scheduler().AddBatchProcessed("queue_drain", report.Dispatched)
	if report.Claimed > 0 {
		s.logger(ctx).Info("queue drained",
			zap.Int("claimed", report.Claimed),
			zap.Int("dispatched", report.Dispatched),
			zap.Int("requeued", report.Requeued),
			zap.Int("exhausted", report.Exhausted),
		)
	}
	return nil
}

func (s *Scheduler) StaleCallSweepJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, "stale_call_sweep", s.cfg.SweepBatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	report, err := s.lifecycleSvc.SweepStaleCalls(ctx, s.cfg.SweepBatchSize)
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.stale_call_sweep.failed", "stale_call_sweep", err)
		return err
	}
	run.AddProcessed(report.Reclaimed)
	if report.Errors > 0 {
		run.errorCount += report.Errors
	}
	obsmetrics.Scheduler().AddBatchProcessed("stale_call_sweep", report.Reclaimed)
	if report.Reclaimed > 0 {
		s.logger(ctx).Warn("stale calls reclaimed",
			zap.Int("scanned", report.Scanned),
			zap.Int("reclaimed", report.Reclaimed),
		)
	}
	return nil
}

func (s *Scheduler) PaymentExpiryJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, "payment_expiry", s.cfg.ExpiryBatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	var jobErr error
	for {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}
		expired, err := s.bookingSvc.ExpirePendingPayments(ctx, s.cfg.ExpiryBatchSize)
		if err != nil {
			s.logSchedulerError(ctx, run, "scheduler.payment_expiry.failed", "payment_expiry", err)
			return errors.Join(jobErr, err)
		}
		run.AddProcessed(len(expired))
		obsmetrics.Scheduler().AddBatchProcessed("payment_expiry", len(expired))
		if len(expired) < s.cfg.ExpiryBatchSize {
			break
		}
	}
	return jobErr
}
