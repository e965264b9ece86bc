package ladder

import (
	"dca_bot/internal/modules/ladder/service"

	"go.uber.org/fx"
)

func Module() fx.Option {
	return fx.Module("ladder",
		fx.Provide(
			service.NewCalculator,
		),
	)
}
