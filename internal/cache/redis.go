package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/alex65536/bracketd/internal/util/slogx"
	"github.com/redis/go-redis/v9"
)

// Redis shares entries between processes. Transport failures are logged and
// treated as misses.
type Redis struct {
	rdb    redis.UniversalClient
	prefix string
	log    *slog.Logger
}

var _ Store = (*Redis)(nil)

func NewRedis(log *slog.Logger, rdb redis.UniversalClient, prefix string) *Redis {
	return &Redis{rdb: rdb, prefix: prefix, log: log}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool) {
	data, err := r.rdb.Get(ctx, r.prefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.log.Warn("redis get failed", slog.String("key", key), slogx.Err(err))
		}
		return nil, false
	}
	return data, true
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	if err := r.rdb.Set(ctx, r.prefix+key, value, ttl).Err(); err != nil {
		r.log.Warn("redis set failed", slog.String("key", key), slogx.Err(err))
	}
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}
