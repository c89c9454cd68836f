package invoice

import (
	"context"
	"strings"

	"github.com/smallbiznis/warmline/internal/config"
	"github.com/smallbiznis/warmline/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/warmline/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Adapters *adapters.Registry
	Cfg      *config.Config
}

// Service issues invoices with the provider configured as the default. A
// booking can still be settled by any enabled provider's webhook.
type Service struct {
	log      *zap.Logger
	adapters *adapters.Registry
	provider string
	configs  map[string]paymentdomain.AdapterConfig
}

func NewService(p Params) paymentdomain.InvoiceIssuer {
	return &Service{
		log:      p.Log.Named("payment.invoice"),
		adapters: p.Adapters,
		provider: strings.ToLower(strings.TrimSpace(p.Cfg.PaymentProvider)),
		configs:  adapters.ProviderConfigs(p.Cfg),
	}
}

func (s *Service) CreateInvoice(ctx context.Context, req paymentdomain.CreateInvoiceRequest) (*paymentdomain.Invoice, error) {
	if req.BookingID == 0 {
		return nil, paymentdomain.ErrInvalidBookingRef
	}
	if s.adapters == nil || !s.adapters.ProviderExists(s.provider) {
		return nil, paymentdomain.ErrProviderNotFound
	}
	adapterCfg, ok := s.configs[s.provider]
	if !ok {
		return nil, paymentdomain.ErrProviderNotFound
	}

	adapter, err := s.adapters.NewAdapter(s.provider, adapterCfg)
	if err != nil {
		return nil, err
	}

	invoice, err := adapter.CreateInvoice(ctx, req)
	if err != nil {
		s.log.Warn("invoice creation failed",
			zap.String("provider", s.provider),
			zap.String("booking_id", req.BookingID.String()),
			zap.Error(err),
		)
		return nil, err
	}
	s.log.Info("invoice created",
		zap.String("provider", invoice.Provider),
		zap.String("booking_id", req.BookingID.String()),
		zap.String("provider_invoice_id", invoice.ProviderInvoiceID),
	)
	return invoice, nil
}
