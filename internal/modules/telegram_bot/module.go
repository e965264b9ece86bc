package telegram

import (
	"context"

	"dca_bot/internal/modules/telegram_bot/service"

	"go.uber.org/fx"
)

// Module — уведомления и команды чата. Без токена сообщения уходят в лог.
func Module() fx.Option {
	return fx.Module("telegram",
		fx.Provide(service.NewNotifier),
		fx.Invoke(func(lc fx.Lifecycle, n *service.Notifier) {
			lc.Append(fx.Hook{
				// свой контекст: ctx хука живёт только до конца старта
				OnStart: func(context.Context) error {
					n.Start(context.Background())
					return nil
				},
				OnStop: func(context.Context) error {
					n.Stop()
					return nil
				},
			})
		}),
	)
}
