package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/warmline/internal/booking/domain"
	"github.com/smallbiznis/warmline/internal/clock"
	"github.com/smallbiznis/warmline/internal/config"
	"github.com/smallbiznis/warmline/internal/plan"
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
	Cfg   config.Config
	Repo  domain.Repository
}

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	genID         *snowflake.Node
	clock         clock.Clock
	paymentWindow time.Duration
	repo          domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("booking.service"),
		genID:         p.GenID,
		clock:         p.Clock,
		paymentWindow: p.Cfg.PaymentWindow,
		repo:          p.Repo,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateBookingRequest) (domain.CreateBookingResponse, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.CreateBookingResponse{}, domain.ErrInvalidName
	}

	phone, err := NormalizePhone(req.Phone)
	if err != nil {
		return domain.CreateBookingResponse{}, err
	}

	email := strings.TrimSpace(req.Email)
	if email == "" || !strings.Contains(email, "@") {
		return domain.CreateBookingResponse{}, domain.ErrInvalidEmail
	}

	p, err := plan.Lookup(req.PlanType)
	if err != nil {
		return domain.CreateBookingResponse{}, err
	}

	now := s.clock.Now()
	booking := domain.Booking{
		ID:             s.genID.Generate(),
		CustomerName:   name,
		CustomerPhone:  phone,
		CustomerEmail:  email,
		PlanType:       string(p.Type),
		Status:         domain.StatusPending,
		PaymentStatus:  domain.PaymentStatusPending,
		AmountExpected: p.AmountCents,
		Currency:       p.Currency,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if p.RequiresPayment() {
		deadline := now.Add(s.paymentWindow)
		booking.Status = domain.StatusPendingPayment
		booking.PaymentExpiresAt = &deadline
	}

	if err := s.repo.Insert(ctx, s.db, &booking); err != nil {
		return domain.CreateBookingResponse{}, err
	}

	resp := domain.CreateBookingResponse{
		Booking:         booking,
		PaymentRequired: p.RequiresPayment(),
	}
	if p.RequiresPayment() {
		resp.AmountCents = p.AmountCents
		resp.Currency = p.Currency
		resp.PaymentDeadline = booking.PaymentExpiresAt
	}
	return resp, nil
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (domain.Booking, error) {
	if id == 0 {
		return domain.Booking{}, domain.ErrInvalidID
	}
	item, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.Booking{}, err
	}
	if item == nil {
		return domain.Booking{}, domain.ErrNotFound
	}
	return *item, nil
}

func (s *Service) Status(ctx context.Context, id snowflake.ID) (domain.StatusResponse, error) {
	booking, err := s.GetByID(ctx, id)
	if err != nil {
		return domain.StatusResponse{}, err
	}
	return domain.StatusResponse{
		BookingID:     booking.ID.String(),
		Status:        booking.Status,
		PaymentStatus: booking.PaymentStatus,
		Message:       statusMessage(booking.Status),
	}, nil
}

func (s *Service) Transition(ctx context.Context, id snowflake.ID, from []domain.Status, to domain.Status) (bool, error) {
	return s.repo.TransitionStatus(ctx, s.db, id, from, to, s.clock.Now())
}

func (s *Service) SetPaymentStatus(ctx context.Context, id snowflake.ID, status domain.PaymentStatus) error {
	return s.repo.SetPaymentStatus(ctx, s.db, id, status, s.clock.Now())
}

func (s *Service) SetProviderCallID(ctx context.Context, id snowflake.ID, providerCallID string) error {
	return s.repo.SetProviderCallID(ctx, s.db, id, providerCallID, s.clock.Now())
}

func (s *Service) Fail(ctx context.Context, id snowflake.ID, from []domain.Status, message string) (bool, error) {
	return s.repo.MarkFailed(ctx, s.db, id, from, message, s.clock.Now())
}

func (s *Service) ExpirePendingPayments(ctx context.Context, limit int) ([]snowflake.ID, error) {
	if limit <= 0 {
		limit = 50
	}
	expired, err := s.repo.ExpirePendingPayments(ctx, s.db, s.clock.Now(), limit)
	if err != nil {
		return expired, err
	}
	for _, id := range expired {
		s.log.Info("booking payment window expired", zap.String("booking_id", id.String()))
	}
	return expired, nil
}

// statusMessage maps internal statuses onto copy safe to show customers.
func statusMessage(status domain.Status) string {
	switch status {
	case domain.StatusPending:
		return "Your booking is being prepared."
	case domain.StatusPendingPayment:
		return "Waiting for your payment."
	case domain.StatusQueued:
		return "You're in the queue. We'll call you shortly."
	case domain.StatusInitiating:
		return "Connecting your call now."
	case domain.StatusCalling:
		return "Your call is in progress."
	case domain.StatusCompleted:
		return "Your call is complete. Thanks for booking!"
	case domain.StatusFailed:
		return "Something went wrong with your call. Please contact support."
	case domain.StatusCancelled:
		return "This booking was cancelled."
	case domain.StatusExpired:
		return "This booking expired before payment was received."
	default:
		return ""
	}
}
