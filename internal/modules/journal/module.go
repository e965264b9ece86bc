package journal

import (
	"context"

	"dca_bot/internal/modules/journal/service"
	"dca_bot/pkg/db"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

func Module() fx.Option {
	return fx.Module("journal",
		fx.Provide(
			func(p *db.Pool) db.TxManager {
				// nil-указатель в интерфейсе не nil
				if p == nil {
					return nil
				}
				return p
			},
			service.NewJournal,
		),
		fx.Invoke(func(lc fx.Lifecycle, j *service.Journal, log *zap.Logger) {
			lc.Append(fx.Hook{
				OnStart: func(ctx context.Context) error {
					// без таблицы журнал бесполезен, но торговать можно
					if err := j.EnsureSchema(ctx); err != nil {
						log.Warn("[JOURNAL] schema init failed", zap.Error(err))
					}
					return nil
				},
			})
		}),
	)
}
