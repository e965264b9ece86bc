package candles

import (
	"dca_bot/internal/modules/candles/service"

	"go.uber.org/fx"
)

func Module() fx.Option {
	return fx.Module("candles",
		fx.Provide(
			service.NewStore,
		),
	)
}
