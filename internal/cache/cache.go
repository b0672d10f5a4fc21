package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is a best-effort key/value store with per-entry expiry. Losing an
// entry never affects correctness, so implementations may drop or miss freely.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
}

type Options struct {
	Disable  bool          `toml:"disable"`
	TTL      time.Duration `toml:"ttl"`
	Backend  string        `toml:"backend"`
	RedisURL string        `toml:"redis-url"`

	// Key prefix for shared backends.
	Prefix          string        `toml:"prefix"`
	JanitorInterval time.Duration `toml:"janitor-interval"`
}

func (o *Options) FillDefaults() {
	if o.TTL == 0 {
		o.TTL = 30 * time.Second
	}
	if o.Backend == "" {
		o.Backend = "memory"
	}
	if o.Prefix == "" {
		o.Prefix = "bracketd:"
	}
	if o.JanitorInterval == 0 {
		o.JanitorInterval = 5 * time.Minute
	}
}

func (o *Options) Validate() error {
	if o.TTL < 0 {
		return fmt.Errorf("negative ttl")
	}
	switch o.Backend {
	case "", "memory":
	case "redis":
		if o.RedisURL == "" {
			return fmt.Errorf("redis backend needs redis-url")
		}
	default:
		return fmt.Errorf("unknown cache backend %q", o.Backend)
	}
	return nil
}

// New builds the store described by o. It returns nil if caching is disabled.
func New(ctx context.Context, log *slog.Logger, o Options) (Store, error) {
	if err := o.Validate(); err != nil {
		return nil, fmt.Errorf("bad cache options: %w", err)
	}
	o.FillDefaults()
	if o.Disable {
		log.Info("cache disabled")
		return nil, nil
	}
	switch o.Backend {
	case "redis":
		ro, err := redis.ParseURL(o.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		rdb := redis.NewClient(ro)
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		log.Info("using redis cache", slog.String("addr", ro.Addr))
		return NewRedis(log, rdb, o.Prefix), nil
	default:
		log.Info("using in-memory cache")
		return NewMemory(nil), nil
	}
}

// Key derives a cache key from the query name and its arguments.
func Key(method string, args ...any) string {
	var b strings.Builder
	_, _ = b.WriteString(method)
	for _, a := range args {
		_ = b.WriteByte(':')
		data, err := json.Marshal(a)
		if err != nil {
			_, _ = fmt.Fprintf(&b, "%v", a)
			continue
		}
		_, _ = b.Write(data)
	}
	return b.String()
}
