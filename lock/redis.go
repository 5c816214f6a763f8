package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// Redis is a Locker backed by bsm/redislock.
type Redis struct {
	client   *redislock.Client
	prefix   string
	backoff  time.Duration
	attempts int
}

// NewRedis wraps a connected redis client. Obtain retries every backoff up
// to attempts times before giving up.
func NewRedis(rdb *redis.Client, prefix string, backoff time.Duration, attempts int) *Redis {
	if prefix == "" {
		prefix = "lock:"
	}
	if attempts < 1 {
		attempts = 1
	}
	return &Redis{
		client:   redislock.New(rdb),
		prefix:   prefix,
		backoff:  backoff,
		attempts: attempts,
	}
}

func (r *Redis) Obtain(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	lk, err := r.client.Obtain(ctx, r.prefix+key, ttl, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(r.backoff), r.attempts),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("%w: %s", ErrNotObtained, key)
	}
	if err != nil {
		return nil, fmt.Errorf("obtain redis lock %s: %w", key, err)
	}
	return redisLock{lk}, nil
}

type redisLock struct {
	lk *redislock.Lock
}

func (l redisLock) Release(ctx context.Context) error {
	err := l.lk.Release(ctx)
	if errors.Is(err, redislock.ErrLockNotHeld) {
		// expired under us; the database transaction still decided the outcome
		return nil
	}
	return err
}
