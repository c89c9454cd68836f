package payment

import (
	"github.com/smallbiznis/warmline/internal/payment/adapters"
	"github.com/smallbiznis/warmline/internal/payment/adapters/blockonomics"
	"github.com/smallbiznis/warmline/internal/payment/adapters/nowpayments"
	"github.com/smallbiznis/warmline/internal/payment/adapters/stripe"
	"github.com/smallbiznis/warmline/internal/payment/invoice"
	"github.com/smallbiznis/warmline/internal/payment/repository"
	paymentservice "github.com/smallbiznis/warmline/internal/payment/service"
	"github.com/smallbiznis/warmline/internal/payment/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(func() *adapters.Registry {
		return adapters.NewRegistry(
			stripe.NewFactory(),
			nowpayments.NewFactory(),
			blockonomics.NewFactory(),
		)
	}),
	fx.Provide(paymentservice.NewService),
	fx.Provide(webhook.NewService),
	fx.Provide(invoice.NewService),
)
