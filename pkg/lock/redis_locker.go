package lock

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"

	pkgerrors "github.com/angelmondragon/resale-ledger/pkg/errors"
)

const (
	defaultTTL           = 30 * time.Second
	defaultRetryInterval = 100 * time.Millisecond
	defaultMaxRetries    = 50
)

// RedisOptions tunes the distributed lock.
type RedisOptions struct {
	TTL           time.Duration
	RetryInterval time.Duration
	MaxRetries    int
	// KeyFunc namespaces lock keys, e.g. redis.Client.LockKey.
	KeyFunc func(string) string
}

// RedisLocker is a Locker shared by every replica talking to the same Redis.
type RedisLocker struct {
	client *redislock.Client
	opts   RedisOptions
}

func NewRedisLocker(scripter redis.Scripter, opts RedisOptions) (*RedisLocker, error) {
	if scripter == nil {
		return nil, errors.New("redis scripter required")
	}
	if opts.TTL <= 0 {
		opts.TTL = defaultTTL
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = defaultRetryInterval
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.KeyFunc == nil {
		opts.KeyFunc = func(key string) string { return key }
	}
	return &RedisLocker{client: redislock.New(scripter), opts: opts}, nil
}

func (r *RedisLocker) Acquire(ctx context.Context, key string) (Lease, error) {
	lk, err := r.client.Obtain(ctx, r.opts.KeyFunc(key), r.opts.TTL, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(r.opts.RetryInterval), r.opts.MaxRetries),
	})
	if err != nil {
		return nil, mapObtainError(key, err)
	}
	return &redisLease{lock: lk}, nil
}

func mapObtainError(key string, err error) error {
	if errors.Is(err, redislock.ErrNotObtained) {
		return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "inventory is busy, retry shortly").
			WithReason(pkgerrors.ReasonLockUnavailable).
			WithDetails(map[string]any{"lock": key})
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return waitInterrupted(key, err)
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "obtain distributed lock")
}

type redisLease struct {
	lock *redislock.Lock
}

func (l *redisLease) Release(ctx context.Context) error {
	err := l.lock.Release(ctx)
	if errors.Is(err, redislock.ErrLockNotHeld) {
		// the TTL already expired; nothing left to release
		return nil
	}
	return err
}
