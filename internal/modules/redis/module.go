package redis

import (
	"context"
	"fmt"

	"dca_bot/internal/modules/config"
	"dca_bot/pkg/kv"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module поднимает общий стор: Redis или in-process (redis.driver=memory).
func Module() fx.Option {
	return fx.Module("redis",
		fx.Provide(
			func(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) (kv.Store, error) {
				if cfg.Redis.Driver == "memory" {
					log.Warn("[REDIS] in-process store, state is not shared between processes")
					return kv.NewMemoryStore(), nil
				}

				client := kv.NewRedisClient(kv.RedisOptions{
					Addr:         cfg.Redis.Addr,
					Password:     cfg.Redis.Password,
					DB:           cfg.Redis.DB,
					PoolSize:     cfg.Redis.PoolSize,
					DialTimeout:  cfg.Redis.DialTimeout,
					ReadTimeout:  cfg.Redis.ReadTimeout,
					WriteTimeout: cfg.Redis.WriteTimeout,
				})
				store := kv.NewRedisStore(client)

				lc.Append(fx.Hook{
					OnStart: func(ctx context.Context) error {
						if err := store.Ping(ctx); err != nil {
							return fmt.Errorf("redis ping %s: %w", cfg.Redis.Addr, err)
						}
						log.Info("[REDIS] connected", zap.String("addr", cfg.Redis.Addr))
						return nil
					},
					OnStop: func(context.Context) error {
						return store.Close()
					},
				})
				return store, nil
			},
		),
	)
}
