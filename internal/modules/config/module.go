package config

import "go.uber.org/fx"

// Module регистрирует конфиг и его срезы как fx-провайдеры.
func Module() fx.Option {
	return fx.Module("config",
		fx.Provide(
			NewConfig,
			func(c *Config) PositionConfig { return c.Position },
			func(c *Config) LadderConfig { return c.Ladder },
			func(c *Config) LockConfig { return c.Lock },
			func(c *Config) IndicatorConfig { return c.Indicator },
			func(c *Config) LifecycleConfig { return c.Lifecycle },
			func(c *Config) CandlesConfig { return c.Candles },
			func(c *Config) RunnerConfig { return c.Runner },
		),
	)
}
