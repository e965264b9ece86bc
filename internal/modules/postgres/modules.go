package postgres

import (
	"context"
	"time"

	"dca_bot/internal/modules/config"
	"dca_bot/pkg/db"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

const connectTimeout = 10 * time.Second

func newPool(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) (*db.Pool, error) {
	if cfg.DB == "" {
		log.Info("[DB] db_dsn is empty, journal disabled")
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	p, err := db.Open(ctx, db.PoolConfig{
		DSN:         cfg.DB,
		MaxConns:    4,
		IdleTimeout: 5 * time.Minute,
	})
	if err != nil {
		return nil, err
	}
	log.Info("[DB] connected")
	lc.Append(fx.StopHook(p.Close))
	return p, nil
}

// Module — пул к Postgres для журнала. Без db_dsn отдаёт nil.
func Module() fx.Option {
	return fx.Module("postgres", fx.Provide(newPool))
}
