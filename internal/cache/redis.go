package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"signalwatch/internal/config"
	"signalwatch/internal/logging"
	"signalwatch/internal/model"
)

// Redis stores analyses as JSON strings with a server-side TTL. Every
// error is logged and treated as a miss.
type Redis struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedis connects using cfg.URL when set, otherwise cfg.Addr. A failed
// initial ping is logged; the client keeps retrying on later calls.
func NewRedis(cfg config.CacheConfig, logger *slog.Logger) (*Redis, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	var opts *redis.Options
	if strings.TrimSpace(cfg.URL) != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts = parsed
	} else {
		addr := strings.TrimSpace(cfg.Addr)
		if addr == "" {
			addr = "127.0.0.1:6379"
		}
		opts = &redis.Options{Addr: addr, Password: cfg.Password, DB: cfg.DB}
	}
	r := NewRedisClient(redis.NewClient(opts), logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Ping(ctx); err != nil {
		logger.Warn("redis unavailable, analyses will not be cached until it recovers", "addr", opts.Addr, "error", err)
	} else {
		logger.Info("redis cache connected", "addr", opts.Addr)
	}
	return r, nil
}

func NewRedisClient(client *redis.Client, logger *slog.Logger) *Redis {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Redis{client: client, logger: logger}
}

func (r *Redis) Get(ctx context.Context, key string) (model.Analysis, bool) {
	raw, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logging.FromContext(ctx, r.logger).Warn("cache get failed", "error", err)
		}
		return model.Analysis{}, false
	}
	var analysis model.Analysis
	if err := json.Unmarshal([]byte(raw), &analysis); err != nil || !analysis.Valid() {
		logging.FromContext(ctx, r.logger).Warn("discarding malformed cache entry", "key", key)
		return model.Analysis{}, false
	}
	return analysis, true
}

func (r *Redis) Put(ctx context.Context, key string, analysis model.Analysis, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	data, err := json.Marshal(analysis)
	if err != nil {
		return
	}
	if err := r.client.Set(ctx, key, data, ttl).Err(); err != nil {
		logging.FromContext(ctx, r.logger).Warn("cache put failed", "error", err)
	}
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Backend() string {
	return "redis"
}

func (r *Redis) Close() error {
	return r.client.Close()
}
