package events

import (
	"context"

	"github.com/smallbiznis/rentwise/internal/config"
	paymentdomain "github.com/smallbiznis/rentwise/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("events",
	fx.Provide(NewPublisher),
	fx.Provide(
		fx.Annotate(
			func(p Publisher) paymentdomain.Listener { return NewListener(p) },
			fx.ResultTags(`group:"payment_listeners"`),
		),
	),
)

// NewPublisher connects to the configured broker. A missing or unreachable
// broker degrades to NoopPublisher so payments keep flowing.
func NewPublisher(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) Publisher {
	log = log.Named("events")
	if cfg.Messaging.AMQPURL == "" {
		log.Info("amqp disabled; payment events are not published")
		return NoopPublisher{log: log}
	}

	publisher, err := NewAMQPPublisher(cfg.Messaging.AMQPURL, cfg.Messaging.Exchange, log)
	if err != nil {
		log.Warn("amqp unavailable; payment events are not published", zap.Error(err))
		return NoopPublisher{log: log}
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return publisher.Close()
		},
	})
	return publisher
}
