package payment

import (
	"github.com/smallbiznis/rentwise/internal/config"
	"github.com/smallbiznis/rentwise/internal/payment/domain"
	"github.com/smallbiznis/rentwise/internal/payment/gateway"
	"github.com/smallbiznis/rentwise/internal/payment/gateway/stripe"
	"github.com/smallbiznis/rentwise/internal/payment/link"
	"github.com/smallbiznis/rentwise/internal/payment/receipt"
	"github.com/smallbiznis/rentwise/internal/payment/repository"
	paymentservice "github.com/smallbiznis/rentwise/internal/payment/service"
	"github.com/smallbiznis/rentwise/internal/payment/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(func(cfg config.Config) *gateway.Registry {
		return gateway.NewRegistry(
			stripe.NewFactory(cfg.Processor.CallTimeout),
		)
	}),
	fx.Provide(paymentservice.New),
	fx.Provide(link.New),
	fx.Provide(webhook.New),
	fx.Provide(receipt.New),
	fx.Provide(
		fx.Annotate(
			func(m *receipt.Mailer) domain.Listener { return m },
			fx.ResultTags(`group:"payment_listeners"`),
		),
	),
	fx.Provide(receipt.NewMailer),
)
