package tokens

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultLockTTL is the safety ceiling on lock ownership. If a holder
// crashes without releasing, the lock self-expires after this long.
const DefaultLockTTL = 60 * time.Second

// Locker provides mutual exclusion for the token refresh operation.
// TryAcquire never blocks; callers that fail to acquire are expected to poll
// the token store and wait for the holder's result instead of refreshing
// themselves.
type Locker interface {
	// TryAcquire attempts to take the lock. It returns false without error
	// when another holder currently has it.
	TryAcquire(ctx context.Context) (bool, error)

	// Release gives the lock back. Releasing a lock that was lost to TTL
	// expiry (and possibly re-acquired by someone else) must be a no-op.
	Release(ctx context.Context) error
}

// releaseIfHolderScript deletes the lock key only when it still carries this
// holder's value, so an expired-and-reacquired lock is never released out
// from under the new holder.
const releaseIfHolderScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`

// RedisLocker implements Locker with an atomic SET NX EX on redis. Because
// redis is shared across horizontally-scaled instances, this is the
// production choice: it bounds the refresh to one attempt per deployment,
// not merely one per process.
type RedisLocker struct {
	client *redis.Client
	key    string
	ttl    time.Duration

	mu     sync.Mutex
	holder string
}

// RedisLockerOption configures a RedisLocker.
type RedisLockerOption func(*RedisLocker)

// WithLockKey overrides the redis key for the lock.
func WithLockKey(key string) RedisLockerOption {
	return func(l *RedisLocker) {
		if key != "" {
			l.key = key
		}
	}
}

// WithLockTTL overrides the lock's self-expiry.
func WithLockTTL(ttl time.Duration) RedisLockerOption {
	return func(l *RedisLocker) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// NewRedisLocker creates a redis-backed refresh lock.
func NewRedisLocker(client *redis.Client, opts ...RedisLockerOption) *RedisLocker {
	l := &RedisLocker{
		client: client,
		key:    "focuskit:token:refresh-lock",
		ttl:    DefaultLockTTL,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// TryAcquire implements Locker. Each acquisition gets a fresh holder id so
// Release only ever removes this acquisition's lock.
func (l *RedisLocker) TryAcquire(ctx context.Context) (bool, error) {
	holder := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, holder, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquiring refresh lock: %w", err)
	}
	if !ok {
		return false, nil
	}

	l.mu.Lock()
	l.holder = holder
	l.mu.Unlock()
	return true, nil
}

// Release implements Locker.
func (l *RedisLocker) Release(ctx context.Context) error {
	l.mu.Lock()
	holder := l.holder
	l.holder = ""
	l.mu.Unlock()

	if holder == "" {
		return nil
	}
	if err := l.client.Eval(ctx, releaseIfHolderScript, []string{l.key}, holder).Err(); err != nil {
		return fmt.Errorf("releasing refresh lock: %w", err)
	}
	return nil
}

// LocalLocker implements Locker with an in-process mutex. It only
// coordinates goroutines within one process: horizontally-scaled instances
// using LocalLocker can still race to refresh, and since the authorization
// server rotates refresh tokens on use, each racer can invalidate the
// other's new refresh token. Use RedisLocker for multi-instance deployments.
type LocalLocker struct {
	mu sync.Mutex
}

// NewLocalLocker creates an in-process refresh lock.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{}
}

// TryAcquire implements Locker.
func (l *LocalLocker) TryAcquire(_ context.Context) (bool, error) {
	return l.mu.TryLock(), nil
}

// Release implements Locker.
func (l *LocalLocker) Release(_ context.Context) error {
	l.mu.Unlock()
	return nil
}
