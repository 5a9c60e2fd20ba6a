package billing

import (
	"context"

	"github.com/smallbiznis/shipyard/internal/billing/domain"
	"github.com/smallbiznis/shipyard/internal/billing/outbox"
	"github.com/smallbiznis/shipyard/internal/billing/service"
	stripeadapter "github.com/smallbiznis/shipyard/internal/billing/stripe"
	"github.com/smallbiznis/shipyard/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("billing",
	fx.Provide(
		provideAdapter,
		outbox.Provide,
		service.NewService,
		outbox.NewWorker,
	),
	fx.Invoke(runWorker),
)

func provideAdapter(cfg config.Config) domain.Adapter {
	return stripeadapter.NewAdapter(cfg.StripeWebhookSecret)
}

func runWorker(lc fx.Lifecycle, worker *outbox.Worker) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go worker.RunForever(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
