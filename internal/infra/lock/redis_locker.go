package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	keyPrefix          = "course_rewards:lock:"
	defaultTTL         = 30 * time.Second
	defaultRetryPeriod = 50 * time.Millisecond
)

var ErrLockNotAcquired = errors.New("lock not acquired")

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker serializes callers per key across replicas with SET NX PX.
// The TTL bounds how long a crashed holder can block a key.
type RedisLocker struct {
	client      redis.UniversalClient
	ttl         time.Duration
	retryPeriod time.Duration
	logger      *logrus.Entry
}

// NewRedisLocker connects to redisURL and checks the connection.
func NewRedisLocker(redisURL string, ttl time.Duration, logger *logrus.Entry) (*RedisLocker, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return NewRedisLockerWithClient(client, ttl, logger), nil
}

func NewRedisLockerWithClient(client redis.UniversalClient, ttl time.Duration, logger *logrus.Entry) *RedisLocker {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisLocker{
		client:      client,
		ttl:         ttl,
		retryPeriod: defaultRetryPeriod,
		logger:      logger.WithField("component", "redis_locker"),
	}
}

// Lock retries until the key is acquired or ctx is done.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := keyPrefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(l.retryPeriod)
	defer ticker.Stop()
	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %w", ErrLockNotAcquired, key, ctx.Err())
		case <-ticker.C:
		}
	}

	return func() {
		// Release must happen even if the caller's context is already cancelled.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, l.client, []string{redisKey}, token).Err(); err != nil {
			l.logger.WithError(err).WithField("key", key).Warn("Failed to release lock, it will expire")
		}
	}, nil
}

func (l *RedisLocker) Close() error {
	return l.client.Close()
}
