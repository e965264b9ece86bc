package bootstrap

import (
	"context"

	bootstrap "dca_bot/internal/modules/bootstrap/service"
	candles "dca_bot/internal/modules/candles/service"
	health "dca_bot/internal/modules/health/service"
	okx "dca_bot/internal/modules/okx_client/service"
	telegram "dca_bot/internal/modules/telegram_bot/service"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

func Module() fx.Option {
	return fx.Module("bootstrap",
		fx.Provide(
			func(r *okx.Registry) bootstrap.CandleFetcher { return r },
			func(s *candles.Store) bootstrap.CandleSeeder { return s },
			func(n *telegram.Notifier) bootstrap.ServiceNotifier { return n },
			bootstrap.NewWarmuper,
		),
		fx.Invoke(func(lc fx.Lifecycle, wu *bootstrap.Warmuper, state *health.State, log *zap.Logger) {
			ctx, cancel := context.WithCancel(context.Background())
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					go func() {
						// ready и при частичном прогреве: недостающие бары догонит стрим
						defer state.SetReady(true)
						bars, err := wu.Warmup(ctx)
						state.SetWarmup(bars, err)
						if err != nil {
							log.Warn("[BOOT] warmup error", zap.Int("bars", bars), zap.Error(err))
						}
					}()
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
