package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// Redis is a Cache shared between server instances.
type Redis struct {
	rdb    *goredis.Client
	ttl    time.Duration
	prefix string
	logger *slog.Logger
}

func NewRedis(ctx context.Context, cfg RedisConfig, ttl time.Duration, logger *slog.Logger) (*Redis, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisWithClient(rdb, cfg.Prefix, ttl, logger), nil
}

func NewRedisWithClient(rdb *goredis.Client, prefix string, ttl time.Duration, logger *slog.Logger) *Redis {
	return &Redis{rdb: rdb, ttl: ttl, prefix: prefix, logger: logger}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool) {
	val, err := r.rdb.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false
	}
	if err != nil {
		r.logger.Warn("cache get failed", "key", key, "error", err)
		return nil, false
	}
	return val, true
}

func (r *Redis) Set(ctx context.Context, key string, value []byte) {
	if err := r.rdb.Set(ctx, r.prefix+key, value, r.ttl).Err(); err != nil {
		r.logger.Warn("cache set failed", "key", key, "error", err)
	}
}

func (r *Redis) Delete(ctx context.Context, key string) {
	if err := r.rdb.Del(ctx, r.prefix+key).Err(); err != nil {
		r.logger.Warn("cache delete failed", "key", key, "error", err)
	}
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}
