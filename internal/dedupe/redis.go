// ABOUTME: Redis-backed Checker that shares the dedupe window across bridge replicas
// ABOUTME: Uses SET NX with the TTL as key expiry and fails open when Redis errors

package dedupe

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "whatsapp-bridge:seen:"
	redisTimeout   = 2 * time.Second
)

// Redis is a Checker backed by a Redis server.
type Redis struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedis connects to the server at url (redis://...) and verifies it with PING.
func NewRedis(ctx context.Context, url string, ttl time.Duration, logger *slog.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return newRedisWithClient(rdb, ttl, logger), nil
}

func newRedisWithClient(rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *Redis {
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{
		rdb:    rdb,
		ttl:    ttl,
		logger: logger.With("component", "dedupe"),
	}
}

// CheckAndMark implements Checker. A Redis failure counts as unseen so the
// message is still answered.
func (r *Redis) CheckAndMark(ctx context.Context, key string) bool {
	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()

	created, err := r.rdb.SetNX(ctx, redisKeyPrefix+key, time.Now().Unix(), r.ttl).Result()
	if err != nil {
		r.logger.Warn("redis dedupe check failed, processing anyway", "key", key, "error", err)
		return false
	}
	return !created
}

// Close releases the Redis connection pool.
func (r *Redis) Close() error {
	return r.rdb.Close()
}
