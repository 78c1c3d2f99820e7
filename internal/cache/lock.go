package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned when the lock is already held by another worker.
var ErrLockHeld = errors.New("lock already held")

// Locker is a coarse distributed mutex. It single-flights jobs that must
// not run on multiple workers at once, such as the reconciliation sweep.
type Locker interface {
	// Acquire obtains the named lock for at most ttl and returns an unlock
	// function. Returns ErrLockHeld when another holder owns it.
	Acquire(ctx context.Context, name string, ttl time.Duration) (func(), error)
}

// unlockLua deletes the lock key only when the stored token matches the
// caller's, so one holder cannot release another holder's lock.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// NewLocker derives a Locker from the configured cache store. Without a
// redis backend it degrades to a process-local no-op, which is safe for
// single-worker deployments.
func NewLocker(store Store) Locker {
	if rs, ok := store.(*redisStore); ok {
		return &redisLocker{
			client:   rs.client,
			unlockSc: goredis.NewScript(unlockLua),
		}
	}
	return noopLocker{}
}

type noopLocker struct{}

func (noopLocker) Acquire(context.Context, string, time.Duration) (func(), error) {
	return func() {}, nil
}

type redisLocker struct {
	client   *goredis.Client
	unlockSc *goredis.Script
}

func (l *redisLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (func(), error) {
	token := uuid.New().String()
	key := "lock:" + name

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}

	released := false
	unlock := func() {
		if released {
			return
		}
		released = true

		// Background context so unlock works even when the caller's
		// context is already cancelled.
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = l.unlockSc.Run(unlockCtx, l.client, []string{key}, token).Err()
	}

	return unlock, nil
}
