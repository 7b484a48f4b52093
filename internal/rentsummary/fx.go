package rentsummary

import (
	paymentdomain "github.com/smallbiznis/rentwise/internal/payment/domain"
	"github.com/smallbiznis/rentwise/internal/rentsummary/domain"
	"github.com/smallbiznis/rentwise/internal/rentsummary/service"
	"go.uber.org/fx"
)

var Module = fx.Module("rentsummary.service",
	fx.Provide(
		service.New,
		func(s *service.Service) domain.Service { return s },
		fx.Annotate(
			func(s *service.Service) paymentdomain.Listener { return service.NewListener(s) },
			fx.ResultTags(`group:"payment_listeners"`),
		),
	),
)
