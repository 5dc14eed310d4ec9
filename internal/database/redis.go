package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/config"
)

// blockingWorkers is the number of background workers parked on BLPOP. Each
// pins a pooled connection for the length of its poll.
const blockingWorkers = 2

// NewRedisClient connects to the cache and queue store and pings it.
// PostgreSQL stays authoritative; Redis loss only costs cache hits and audit latency.
func NewRedisClient(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*redis.Client, error) {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}

	// BLPOP polls for up to a second; the read timeout must outlast it.
	opt.ReadTimeout = max(opt.ReadTimeout, 3*time.Second)
	if need := int(cfg.MaxDBConns) + blockingWorkers; opt.PoolSize != 0 && opt.PoolSize < need {
		opt.PoolSize = need
	}
	opt.ClientName = "exstem-attempt"

	rdb := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	log.Info().
		Str("addr", opt.Addr).
		Int("db", opt.DB).
		Int("pool_size", opt.PoolSize).
		Msg("Redis connected")

	return rdb, nil
}
