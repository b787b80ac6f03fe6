package lock

import (
	"context"
	"time"

	"log/slog"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// releaseScript deletes the lease only when still owned by the caller.
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`

// RedisLocker grants leases via SET NX PX so pipelines stay exclusive
// even when several control-plane replicas run against the same fleet.
type RedisLocker struct {
	client *redis.Client
	logger *slog.Logger
	prefix string
}

// NewRedisLocker connects and verifies the redis backend.
func NewRedisLocker(addr, password string, db int, logger *slog.Logger) (*RedisLocker, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return &RedisLocker{client: client, logger: logger, prefix: "codeb:pipeline:"}, nil
}

// Acquire claims the key with a ttl-bounded lease or fails with ErrBusy.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	token := uuid.NewString()
	redisKey := l.prefix + key
	ok, err := l.client.SetNX(ctx, redisKey, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrBusy
	}
	release := func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := l.client.Eval(releaseCtx, releaseScript, []string{redisKey}, token).Err(); err != nil {
			l.logger.Warn("lease release failed", "key", key, "error", err)
		}
	}
	return release, nil
}

// Close shuts down the redis connection.
func (l *RedisLocker) Close() error {
	return l.client.Close()
}
