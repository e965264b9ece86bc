package metrics

import (
	"dca_bot/internal/modules/metrics/service"

	"go.uber.org/fx"
)

func Module() fx.Option {
	return fx.Module("metrics",
		fx.Provide(
			service.New,
		),
	)
}
