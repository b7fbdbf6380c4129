package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hackgods/dental-clinic-scheduling/internal/config"
)

// NewRedisClient connects to the Redis instance that holds doctor locks.
// Read and write timeouts stay below the lock TTL so a slow Redis cannot
// leave a writer believing it still holds an expired lock.
func NewRedisClient(ctx context.Context, cfg config.Config) (*redis.Client, error) {
	ioTimeout := 2 * time.Second
	if cfg.LockTTL > 0 && cfg.LockTTL/2 < ioTimeout {
		ioTimeout = cfg.LockTTL / 2
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Username:     cfg.RedisUsername,
		Password:     cfg.RedisPassword,
		DB:           0,
		ReadTimeout:  ioTimeout,
		WriteTimeout: ioTimeout,
		PoolSize:     10,
		MinIdleConns: 1,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return rdb, nil
}
