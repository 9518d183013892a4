package lease

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/gophscribe/internal/logging"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisClient is the subset of *redis.Client used by Redis.
type RedisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	redis.Scripter
}

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a distributed lease shared by every instance pointing at the
// same server.
type Redis struct {
	client RedisClient
	prefix string
	ttl    time.Duration
	logger logging.Logger
}

func NewRedis(client RedisClient, prefix string, ttl time.Duration, logger logging.Logger) *Redis {
	if prefix == "" {
		prefix = "gophscribe:lease:"
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl, logger: logger.With("module", "redis_lease")}
}

func (r *Redis) TryAcquire(ctx context.Context, key string) (func(), bool, error) {
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, r.prefix+key, token, r.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lease %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if err := releaseScript.Run(ctx, r.client, []string{r.prefix + key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
				r.logger.Warn(ctx, "lease release failed, waiting for expiry", "key", key, "ttl", r.ttl, "error", err)
			}
		})
	}, true, nil
}

// NewRedisClient connects and pings the server.
func NewRedisClient(ctx context.Context, addr, username, password string, db int) (*redis.Client, error) {
	if addr == "" {
		return nil, errors.New("redis address required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Username: username,
		Password: password,
		DB:       db,
	})
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}
