package main

import (
	"context"
	"log"
	"time"

	"dca_bot/internal/modules/bootstrap"
	"dca_bot/internal/modules/candles"
	"dca_bot/internal/modules/config"
	"dca_bot/internal/modules/health"
	"dca_bot/internal/modules/indicator"
	"dca_bot/internal/modules/journal"
	"dca_bot/internal/modules/ladder"
	"dca_bot/internal/modules/lifecycle"
	"dca_bot/internal/modules/lock"
	"dca_bot/internal/modules/metrics"
	okx "dca_bot/internal/modules/okx_client"
	okxws "dca_bot/internal/modules/okx_websocket"
	"dca_bot/internal/modules/position"
	"dca_bot/internal/modules/postgres"
	"dca_bot/internal/modules/redis"
	"dca_bot/internal/modules/runner"
	telegram "dca_bot/internal/modules/telegram_bot"
	"dca_bot/pkg/logger"
	"dca_bot/pkg/tracing"

	"github.com/opentracing/opentracing-go"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	l, err := logger.New(logger.Config{
		Service: cfg.Service.Name,
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
	})
	if err != nil {
		return nil, err
	}
	l.Info("[BOOT] effective config\n" + cfg.Dump())
	return l, nil
}

func newTracer(lc fx.Lifecycle, cfg *config.Config, l *zap.Logger) (opentracing.Tracer, error) {
	tracer, closer, err := tracing.InitTracer(tracing.Config{
		Enabled: cfg.Tracing.Enabled,
		Service: cfg.Service.Name,
		Host:    cfg.Tracing.Host,
		Port:    cfg.Tracing.Port,
	})
	if err != nil {
		return nil, err
	}
	if cfg.Tracing.Enabled {
		l.Info("[BOOT] tracing enabled", zap.String("host", cfg.Tracing.Host), zap.Int("port", cfg.Tracing.Port))
	}
	lc.Append(fx.StopHook(closer.Close))
	return tracer, nil
}

func main() {
	app := fx.New(
		fx.WithLogger(func(l *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger.Named(l, "fx")}
		}),
		fx.Provide(newLogger, newTracer),
		// глобальный трейсер ставится при создании
		fx.Invoke(func(opentracing.Tracer) {}),

		config.Module(),
		metrics.Module(),
		redis.Module(),
		postgres.Module(),
		journal.Module(),
		health.Module(),
		telegram.Module(),
		okx.Module(),
		candles.Module(),
		okxws.Module(),
		bootstrap.Module(),
		position.Module(),
		ladder.Module(),
		lock.Module(),
		indicator.Module(),
		lifecycle.Module(),
		runner.Module(),
	)

	startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		log.Fatal(err)
	}

	<-app.Done()

	stopCtx, cancelStop := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelStop()
	if err := app.Stop(stopCtx); err != nil {
		log.Println("stop:", err)
	}
}
