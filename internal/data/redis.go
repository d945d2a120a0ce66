package data

import (
	"context"
	"time"

	"OAuthGuard/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
)

// NewRedisClient creates a new Redis client with connection pool configuration.
// It returns the client, a cleanup function, and an error.
// A missing configuration yields a nil client (graceful degradation).
func NewRedisClient(c *conf.Data, logger log.Logger) (*redis.Client, func(), error) {
	helper := log.NewHelper(logger)

	if c == nil || c.Redis == nil || c.Redis.Addr == "" {
		helper.Warn("Redis configuration is empty, skipping Redis initialization")
		return nil, func() {}, nil
	}

	network := c.Redis.Network
	if network == "" {
		network = "tcp"
	}

	rdb := redis.NewClient(&redis.Options{
		Network:         network,
		Addr:            c.Redis.Addr,
		Password:        c.Redis.Password,
		DB:              int(c.Redis.Db),
		PoolSize:        100,
		MinIdleConns:    10,
		DialTimeout:     3 * time.Second,
		ReadTimeout:     conf.AsDuration(c.Redis.ReadTimeout, 200*time.Millisecond),
		WriteTimeout:    conf.AsDuration(c.Redis.WriteTimeout, 200*time.Millisecond),
		ConnMaxIdleTime: 5 * time.Minute,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		// 降级运行：限流状态只在本进程内生效，通知只写日志
		helper.Errorw("msg", "failed to connect to Redis, continuing without it", "addr", c.Redis.Addr, "error", err)
		_ = rdb.Close()
		return nil, func() {}, nil
	}

	helper.Infow("msg", "connected to Redis", "addr", c.Redis.Addr, "db", c.Redis.Db)

	cleanup := func() {
		helper.Info("closing Redis client")
		if err := rdb.Close(); err != nil {
			helper.Errorw("msg", "failed to close Redis client", "error", err)
		}
	}

	return rdb, cleanup, nil
}
