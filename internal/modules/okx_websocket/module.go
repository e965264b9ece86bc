package okx_websocket

import (
	"context"

	candles "dca_bot/internal/modules/candles/service"
	health "dca_bot/internal/modules/health/service"
	"dca_bot/internal/modules/okx_websocket/service"
	telegram "dca_bot/internal/modules/telegram_bot/service"

	"go.uber.org/fx"
)

// Module поднимает стример свечей OKX.
func Module() fx.Option {
	return fx.Module("okx_websocket",
		fx.Provide(
			service.NewClient,
			func(s *candles.Store) service.CandleSink { return s },
			func(n *telegram.Notifier) service.ServiceNotifier { return n },
			func(s *health.State) service.ConnState { return s },
			func() chan service.OutTick {
				// общий буфер для закрытых свечей
				return make(chan service.OutTick, 1024)
			},
		),
		fx.Invoke(func(lc fx.Lifecycle, s *service.Client, out chan service.OutTick) {
			ctx, cancel := context.WithCancel(context.Background())
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					go s.Start(ctx, out)
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
