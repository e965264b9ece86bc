package lock

import (
	"context"

	"dca_bot/internal/modules/lock/service"

	"go.uber.org/fx"
)

func Module() fx.Option {
	return fx.Module("lock",
		fx.Provide(
			service.NewCoordinator,
			service.NewWatchdog,
		),
		fx.Invoke(func(lc fx.Lifecycle, w *service.Watchdog) {
			ctx, cancel := context.WithCancel(context.Background())
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					go w.Run(ctx)
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
