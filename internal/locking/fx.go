package locking

import (
	"github.com/comandahub/paycore/internal/config"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

func NewClient(cfg config.Config) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
}

var Module = fx.Module("locking",
	fx.Provide(NewClient),
	fx.Provide(NewLocker),
)
