// Package lock serializes work on a single billing entity across replicas.
package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

const keyPrefix = "atelier:lock:"

var ErrNotAcquired = errors.New("lock_not_acquired")

// Locker is a SETNX lock with token-checked release. A nil *Locker is a valid
// no-op locker that always grants the lock.
type Locker struct {
	client  *redis.Client
	script  *redis.Script
	backoff time.Duration
}

func NewLocker(client *redis.Client) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{
		client:  client,
		script:  redis.NewScript(lockReleaseScript),
		backoff: 25 * time.Millisecond,
	}
}

// TryLock makes a single attempt and returns the owner token when granted.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if l == nil || l.client == nil {
		return "", true, nil
	}
	if key == "" {
		return "", false, errors.New("lock key is empty")
	}
	if ttl <= 0 {
		return "", false, errors.New("lock ttl must be positive")
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, keyPrefix+key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

// Acquire polls until the lock is granted, ttl elapses, or ctx ends.
// The returned release func is always non-nil.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	noop := func() {}
	if l == nil || l.client == nil {
		return noop, nil
	}

	deadline := time.Now().Add(ttl)
	for {
		token, ok, err := l.TryLock(ctx, key, ttl)
		if err != nil {
			return noop, err
		}
		if ok {
			return func() {
				// release must outlive a cancelled request context
				_ = l.Release(context.WithoutCancel(ctx), key, token)
			}, nil
		}
		if time.Now().After(deadline) {
			return noop, ErrNotAcquired
		}

		timer := time.NewTimer(l.backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return noop, ctx.Err()
		case <-timer.C:
		}
	}
}

func (l *Locker) Release(ctx context.Context, key, token string) error {
	if l == nil || l.client == nil {
		return nil
	}
	if key == "" || token == "" {
		return nil
	}
	return l.script.Run(ctx, l.client, []string{keyPrefix + key}, token).Err()
}
