package runlock

import (
	"context"

	"github.com/permitwise/billingcore/internal/config"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("runlock",
	fx.Provide(NewFromConfig),
)

// NewFromConfig returns a redis-backed locker when REDIS_ADDR is set, and a
// process-local locker otherwise.
func NewFromConfig(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) Locker {
	if cfg.RedisAddr == "" {
		log.Info("runlock using process-local locker")
		return NewLocalLocker()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})

	log.Info("runlock using redis locker", zap.String("addr", cfg.RedisAddr))
	return NewRedisLocker(client)
}
