package lock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// unlockScript deletes the key only while it still holds our token, so an
// expired lock re-acquired by another instance is never released by us.
const unlockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`

// RedisLocker shares lock ownership across bot instances via SET NX EX.
type RedisLocker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	log    *slog.Logger
}

func NewRedisLocker(client *redis.Client, prefix string, ttl time.Duration, log *slog.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisLocker{client: client, prefix: prefix, ttl: ttl, log: log}
}

// NewRedisClient connects and pings the server.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (l *RedisLocker) TryLock(ctx context.Context, key string) (Release, bool, error) {
	fullKey := l.prefix + key
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, fullKey, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis setnx: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := l.client.Eval(releaseCtx, unlockScript, []string{fullKey}, token).Err(); err != nil && l.log != nil {
				l.log.Error("release redis lock", "key", fullKey, "err", err)
			}
		})
	}, true, nil
}
