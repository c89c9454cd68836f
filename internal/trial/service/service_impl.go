package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/warmline/internal/clock"
	"github.com/smallbiznis/warmline/internal/trial/domain"
	"github.com/smallbiznis/warmline/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
	repo  domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("trial.service"),
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Eligible(ctx context.Context, phone string) (bool, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return false, domain.ErrInvalidPhone
	}
	existing, err := s.repo.FindByPhone(ctx, s.db, phone)
	if err != nil {
		return false, err
	}
	return existing == nil, nil
}

func (s *Service) Consume(ctx context.Context, phone string, bookingID snowflake.ID) error {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return domain.ErrInvalidPhone
	}

	err := s.repo.Insert(ctx, s.db, &domain.Redemption{
		CustomerPhone: phone,
		BookingID:     bookingID,
		RedeemedAt:    s.clock.Now(),
	})
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.ErrAlreadyRedeemed
		}
		return err
	}
	return nil
}

func (s *Service) Restore(ctx context.Context, bookingID snowflake.ID) error {
	restored, err := s.repo.DeleteByBookingID(ctx, s.db, bookingID)
	if err != nil {
		return err
	}
	if restored {
		s.log.Info("trial redemption restored", zap.String("booking_id", bookingID.String()))
	}
	return nil
}
