package scheduler_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	bookingdomain "github.com/smallbiznis/warmline/internal/booking/domain"
	queuedomain "github.com/smallbiznis/warmline/internal/callqueue/domain"
	"github.com/smallbiznis/warmline/internal/clock"
	dispatchdomain "github.com/smallbiznis/warmline/internal/dispatch/domain"
	lifecycledomain "github.com/smallbiznis/warmline/internal/lifecycle/domain"
	voicedomain "github.com/smallbiznis/warmline/internal/providers/voice/domain"
	"github.com/smallbiznis/warmline/internal/scheduler"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type stubBookings struct {
	bookingdomain.Service

	expireBatches [][]snowflake.ID
	expireCalls   int
}

func (s *stubBookings) ExpirePendingPayments(ctx context.Context, limit int) ([]snowflake.ID, error) {
	s.expireCalls++
	if len(s.expireBatches) == 0 {
		return nil, nil
	}
	batch := s.expireBatches[0]
	s.expireBatches = s.expireBatches[1:]
	return batch, nil
}

type stubDispatch struct {
	drains    int
	lastLimit int
	drainErr  error
}

func (s *stubDispatch) InitiateCall(ctx context.Context, bookingID snowflake.ID) (*dispatchdomain.InitiateResult, error) {
	return &dispatchdomain.InitiateResult{}, nil
}

func (s *stubDispatch) DrainQueue(ctx context.Context, limit int) (*dispatchdomain.DrainReport, error) {
	s.drains++
	s.lastLimit = limit
	if s.drainErr != nil {
		return nil, s.drainErr
	}
	return &dispatchdomain.DrainReport{}, nil
}

type stubLifecycle struct {
	sweeps int
}

func (s *stubLifecycle) MarkCallStarted(ctx context.Context, providerCallID string) error {
	return nil
}

func (s *stubLifecycle) EndCall(ctx context.Context, bookingID snowflake.ID, reason voicedomain.EndReason, durationSec int) (bool, error) {
	return false, nil
}

func (s *stubLifecycle) EndCallByProviderID(ctx context.Context, providerCallID string, reason voicedomain.EndReason, durationSec int) error {
	return nil
}

func (s *stubLifecycle) SweepStaleCalls(ctx context.Context, limit int) (*lifecycledomain.SweepReport, error) {
	s.sweeps++
	return &lifecycledomain.SweepReport{}, nil
}

type stubQueue struct {
	queuedomain.Service

	reclaims   int
	lastCutoff time.Duration
	reclaimed  int
	reclaimErr error
}

func (s *stubQueue) ReclaimStuck(ctx context.Context, olderThan time.Duration) (int, error) {
	s.reclaims++
	s.lastCutoff = olderThan
	if s.reclaimErr != nil {
		return 0, s.reclaimErr
	}
	return s.reclaimed, nil
}

type fixture struct {
	clk       *clock.FakeClock
	bookings  *stubBookings
	dispatch  *stubDispatch
	lifecycle *stubLifecycle
	queue     *stubQueue
	sched     *scheduler.Scheduler
}

func setup(t *testing.T, cfg scheduler.Config) *fixture {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_sched_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	node, err := snowflake.NewNode(8)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	clk := clock.NewFakeClock(time.Date(2026, 3, 4, 8, 0, 0, 0, time.UTC))
	bookings := &stubBookings{}
	dispatch := &stubDispatch{}
	lifecycle := &stubLifecycle{}
	queue := &stubQueue{}

	sched, err := scheduler.New(scheduler.Params{
		DB:           db,
		Log:          zap.NewNop(),
		BookingSvc:   bookings,
		DispatchSvc:  dispatch,
		LifecycleSvc: lifecycle,
		QueueSvc:     queue,
		GenID:        node,
		Clock:        clk,
		Config:       cfg,
	})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}

	return &fixture{
		clk:       clk,
		bookings:  bookings,
		dispatch:  dispatch,
		lifecycle: lifecycle,
		queue:     queue,
		sched:     sched,
	}
}

func TestRunOnceRunsAllJobsInitially(t *testing.T) {
	f := setup(t, scheduler.Config{DrainBatchSize: 10})

	if err := f.sched.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if f.dispatch.drains != 1 {
		t.Fatalf("drains = %d, want 1", f.dispatch.drains)
	}
	if f.dispatch.lastLimit != 10 {
		t.Fatalf("drain limit = %d, want 10", f.dispatch.lastLimit)
	}
	if f.lifecycle.sweeps != 1 {
		t.Fatalf("sweeps = %d, want 1", f.lifecycle.sweeps)
	}
	if f.bookings.expireCalls != 1 {
		t.Fatalf("expire calls = %d, want 1", f.bookings.expireCalls)
	}
	if f.queue.reclaims != 1 {
		t.Fatalf("reclaims = %d, want 1", f.queue.reclaims)
	}
}

func TestSweepAndExpiryRunOnTheirOwnCadence(t *testing.T) {
	f := setup(t, scheduler.Config{
		SweepInterval:         5 * time.Minute,
		PaymentExpiryInterval: 10 * time.Minute,
	})
	ctx := context.Background()

	if err := f.sched.RunOnce(ctx); err != nil {
		t.Fatalf("run once: %v", err)
	}

	// Thirty seconds later only the drain fires again.
	f.clk.Advance(30 * time.Second)
	if err := f.sched.RunOnce(ctx); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if f.dispatch.drains != 2 {
		t.Fatalf("drains = %d, want 2", f.dispatch.drains)
	}
	if f.lifecycle.sweeps != 1 {
		t.Fatalf("sweeps = %d, want 1", f.lifecycle.sweeps)
	}
	if f.bookings.expireCalls != 1 {
		t.Fatalf("expire calls = %d, want 1", f.bookings.expireCalls)
	}

	// Past the sweep interval but short of the expiry interval.
	f.clk.Advance(5 * time.Minute)
	if err := f.sched.RunOnce(ctx); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if f.lifecycle.sweeps != 2 {
		t.Fatalf("sweeps = %d, want 2", f.lifecycle.sweeps)
	}
	if f.bookings.expireCalls != 1 {
		t.Fatalf("expire calls = %d, want 1", f.bookings.expireCalls)
	}

	f.clk.Advance(5 * time.Minute)
	if err := f.sched.RunOnce(ctx); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if f.bookings.expireCalls != 2 {
		t.Fatalf("expire calls = %d, want 2", f.bookings.expireCalls)
	}
}

func TestEnabledJobsFilter(t *testing.T) {
	f := setup(t, scheduler.Config{EnabledJobs: []string{"queue_drain"}})

	if err := f.sched.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if f.dispatch.drains != 1 {
		t.Fatalf("drains = %d, want 1", f.dispatch.drains)
	}
	if f.lifecycle.sweeps != 0 || f.bookings.expireCalls != 0 || f.queue.reclaims != 0 {
		t.Fatalf("disabled jobs ran: sweeps=%d expire=%d reclaims=%d", f.lifecycle.sweeps, f.bookings.expireCalls, f.queue.reclaims)
	}
}

func TestQueueRecoveryRunsOnItsOwnCadence(t *testing.T) {
	f := setup(t, scheduler.Config{
		RecoveryInterval:  2 * time.Minute,
		RecoveryThreshold: 5 * time.Minute,
	})
	ctx := context.Background()

	if err := f.sched.RunOnce(ctx); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if f.queue.reclaims != 1 {
		t.Fatalf("reclaims = %d, want 1", f.queue.reclaims)
	}
	if f.queue.lastCutoff != 5*time.Minute {
		t.Fatalf("cutoff = %v, want 5m", f.queue.lastCutoff)
	}

	f.clk.Advance(time.Minute)
	if err := f.sched.RunOnce(ctx); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if f.queue.reclaims != 1 {
		t.Fatalf("reclaims = %d, want 1 before interval lapses", f.queue.reclaims)
	}

	f.clk.Advance(time.Minute)
	if err := f.sched.RunOnce(ctx); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if f.queue.reclaims != 2 {
		t.Fatalf("reclaims = %d, want 2", f.queue.reclaims)
	}
}

func TestQueueRecoverySurfacesErrors(t *testing.T) {
	f := setup(t, scheduler.Config{EnabledJobs: []string{"queue_recovery"}})
	f.queue.reclaimErr = errors.New("db down")

	err := f.sched.RunOnce(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, f.queue.reclaimErr) {
		t.Fatalf("err = %v, want wrapped reclaim error", err)
	}
}

func TestPaymentExpiryDrainsFullBacklog(t *testing.T) {
	f := setup(t, scheduler.Config{ExpiryBatchSize: 2})
	f.bookings.expireBatches = [][]snowflake.ID{
		{1, 2},
		{3, 4},
		{5},
	}

	if err := f.sched.PaymentExpiryJob(context.Background()); err != nil {
		t.Fatalf("expiry job: %v", err)
	}
	// Two full batches force another pass; the short batch stops the loop.
	if f.bookings.expireCalls != 3 {
		t.Fatalf("expire calls = %d, want 3", f.bookings.expireCalls)
	}
}

func TestRunOnceSurfacesJobErrors(t *testing.T) {
	f := setup(t, scheduler.Config{EnabledJobs: []string{"queue_drain"}})
	f.dispatch.drainErr = errors.New("db down")

	err := f.sched.RunOnce(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, f.dispatch.drainErr) {
		t.Fatalf("err = %v, want wrapped drain error", err)
	}
}
