package runner

import (
	"context"

	health "dca_bot/internal/modules/health/service"
	lifecycle "dca_bot/internal/modules/lifecycle/service"
	okxws "dca_bot/internal/modules/okx_websocket/service"
	"dca_bot/internal/modules/runner/service"

	"go.uber.org/fx"
)

func Module() fx.Option {
	return fx.Module("runner",
		fx.Provide(
			func(o *lifecycle.Orchestrator) service.Evaluator { return o },
			func(s *health.State) service.TickSink { return s },
			service.NewDispatcher,
		),
		fx.Invoke(func(lc fx.Lifecycle, d *service.Dispatcher, ticks chan okxws.OutTick) {
			ctx, cancel := context.WithCancel(context.Background())
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					go d.Run(ctx, ticks)
					go d.RunReconcile(ctx)
					return nil
				},
				OnStop: func(context.Context) error {
					cancel()
					return nil
				},
			})
		}),
	)
}
