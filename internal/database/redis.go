package database

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
)

// blockingClients is the number of connections held by BLPOP workers.
const blockingClients = 2

// redisOptions derives the client settings. Each worker parks one connection
// in BLPOP, and each monitor or session stream holds a PubSub connection,
// so the pool is sized above the default for those.
func redisOptions(cfg *config.Config) (*redis.Options, error) {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	if opt.ClientName == "" {
		opt.ClientName = applicationName
	}
	if opt.PoolSize == 0 {
		opt.PoolSize = 20
	}
	opt.PoolSize += blockingClients
	opt.MinIdleConns = blockingClients
	return opt, nil
}

// NewRedisClient creates the client and waits for Redis to answer. Redis backs
// the answer fast lane, the persistence queues, analytics caching and the
// live event channels.
func NewRedisClient(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*redis.Client, error) {
	opt, err := redisOptions(cfg)
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(opt)

	ping := func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	if err := waitReady(ctx, "redis", log, ping); err != nil {
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
