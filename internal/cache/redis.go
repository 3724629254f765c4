// Package cache provides Redis connection setup and caching helpers.
package cache

import (
	"context"
	"errors"
	"strings"
	"time"

	"nosmobile/internal/observability"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type metricsHook struct{}

func (h metricsHook) DialHook(next redis.DialHook) redis.DialHook {
	return next
}

func (h metricsHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		err := next(ctx, cmd)
		if err != nil && !errors.Is(err, redis.Nil) {
			observability.RedisErrors.WithLabelValues(cmd.Name()).Inc()
		}
		return err
	}
}

func (h metricsHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		err := next(ctx, cmds)
		if err != nil && !errors.Is(err, redis.Nil) {
			observability.RedisErrors.WithLabelValues("pipeline").Inc()
		}
		return err
	}
}

// InitRedis connects to addr (host:port or redis:// URL). It returns nil when
// Redis is unreachable; every caller treats a nil client as "no cache".
func InitRedis(addr string) *redis.Client {
	ctx := context.Background()

	var opts *redis.Options
	if strings.Contains(addr, "://") {
		parsed, err := redis.ParseURL(addr)
		if err != nil {
			observability.Warn(ctx, "invalid REDIS_URL, continuing without redis", zap.String("addr", addr), zap.Error(err))
			return nil
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: addr}
	}

	client := redis.NewClient(opts)
	client.AddHook(metricsHook{})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		observability.Warn(ctx, "redis unavailable, continuing without redis", zap.Error(err))
		_ = client.Close()
		return nil
	}

	observability.Info(ctx, "Redis connected successfully")
	return client
}
