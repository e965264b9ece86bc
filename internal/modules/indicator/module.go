package indicator

import (
	"dca_bot/internal/modules/indicator/service"

	"go.uber.org/fx"
)

func Module() fx.Option {
	return fx.Module("indicator",
		fx.Provide(
			service.NewEngine,
		),
	)
}
