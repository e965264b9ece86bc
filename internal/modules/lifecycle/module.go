package lifecycle

import (
	candles "dca_bot/internal/modules/candles/service"
	indicator "dca_bot/internal/modules/indicator/service"
	journal "dca_bot/internal/modules/journal/service"
	"dca_bot/internal/modules/lifecycle/service"
	okx "dca_bot/internal/modules/okx_client/service"
	telegram "dca_bot/internal/modules/telegram_bot/service"

	"go.uber.org/fx"
)

func Module() fx.Option {
	return fx.Module("lifecycle",
		fx.Provide(
			func(r *okx.Registry) service.Broker { return r },
			func(s *candles.Store) service.CandleSource { return s },
			func(e *indicator.Engine) service.Indicators { return e },
			func(n *telegram.Notifier) service.Notifier { return n },
			func(j *journal.Journal) service.Journal { return j },
			service.NewOrchestrator,
		),
		// команды /positions и /reset
		fx.Invoke(func(n *telegram.Notifier, o *service.Orchestrator) {
			n.SetController(o)
		}),
	)
}
