package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/warmline/internal/capacity/domain"
	"github.com/smallbiznis/warmline/internal/clock"
	"github.com/smallbiznis/warmline/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
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

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("capacity.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) TryAdmit(ctx context.Context) (domain.Account, bool, error) {
	candidates, err := s.repo.CandidateAccounts(ctx, s.db)
	if err != nil {
		return domain.Account{}, false, err
	}

	now := s.clock.Now()
	for _, account := range candidates {
		// The candidate list is a stale read; the guarded UPDATE decides.
		// Losing here just means another dispatcher took the slot, so move
		// to the next account.
		reserved, err := s.repo.ReserveSlot(ctx, s.db, account.ID, now)
		if err != nil {
			return domain.Account{}, false, err
		}
		if reserved {
			return account, true, nil
		}
	}

	return domain.Account{}, false, nil
}

func (s *Service) Release(ctx context.Context, accountID snowflake.ID) error {
	if accountID == 0 {
		return domain.ErrInvalidAccount
	}
	released, err := s.repo.ReleaseSlot(ctx, s.db, accountID, s.clock.Now())
	if err != nil {
		return err
	}
	if !released {
		// Double release means a compensation path and the lifecycle path
		// both fired. The guard already kept the counter at zero.
		s.log.Warn("release on account with no active calls",
			zap.String("account_id", accountID.String()),
		)
	}
	return nil
}

func (s *Service) Snapshot(ctx context.Context) (domain.Snapshot, error) {
	accounts, err := s.repo.ListAccounts(ctx, s.db)
	if err != nil {
		return domain.Snapshot{}, err
	}

	snapshot := domain.Snapshot{Accounts: accounts}
	for _, account := range accounts {
		if !account.IsActive {
			continue
		}
		snapshot.CurrentCalls += account.CurrentActiveCalls
		snapshot.MaxCalls += account.MaxConcurrentCalls
	}
	return snapshot, nil
}

func (s *Service) RecordActiveCall(ctx context.Context, call *domain.ActiveCall) error {
	if call == nil || call.BookingID == 0 || call.AccountID == 0 {
		return domain.ErrInvalidActiveCall
	}
	if call.ID == 0 {
		call.ID = s.genID.Generate()
	}
	if call.StartedAt.IsZero() {
		call.StartedAt = s.clock.Now()
	}
	if err := s.repo.InsertActiveCall(ctx, s.db, call); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.ErrDuplicateCall
		}
		return err
	}
	return nil
}

func (s *Service) FindActiveCall(ctx context.Context, bookingID snowflake.ID) (*domain.ActiveCall, error) {
	return s.repo.FindActiveCallByBookingID(ctx, s.db, bookingID)
}

func (s *Service) FindActiveCallByProviderID(ctx context.Context, providerCallID string) (*domain.ActiveCall, error) {
	return s.repo.FindActiveCallByProviderID(ctx, s.db, providerCallID)
}

func (s *Service) RemoveActiveCall(ctx context.Context, bookingID snowflake.ID) (*domain.ActiveCall, bool, error) {
	call, err := s.repo.FindActiveCallByBookingID(ctx, s.db, bookingID)
	if err != nil {
		return nil, false, err
	}
	if call == nil {
		return nil, false, nil
	}
	deleted, err := s.repo.DeleteActiveCallByBookingID(ctx, s.db, bookingID)
	if err != nil {
		return nil, false, err
	}
	return call, deleted, nil
}

func (s *Service) ListStaleCalls(ctx context.Context, olderThan time.Time, limit int) ([]domain.ActiveCall, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.repo.ListActiveCallsOlderThan(ctx, s.db, olderThan, limit)
}
