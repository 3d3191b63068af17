package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	backend "github.com/redis/go-redis/v9"
)

// ErrThreadBusy is returned when another execution holds the thread.
var ErrThreadBusy = errors.New("thread has an execution in flight")

// UnlockFunc releases a lock.
type UnlockFunc func(ctx context.Context) error

// Locker serializes executions of the same thread. TryLock never waits: a
// second request for a busy thread is rejected.
type Locker interface {
	TryLock(ctx context.Context, threadID string, ttl time.Duration) (UnlockFunc, error)
}

// LocalLocker is a process-local Locker. The ttl is ignored.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]string
}

// NewLocalLocker creates an empty LocalLocker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]string)}
}

// TryLock claims threadID or fails with ErrThreadBusy.
func (l *LocalLocker) TryLock(_ context.Context, threadID string, _ time.Duration) (UnlockFunc, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, busy := l.held[threadID]; busy {
		return nil, ErrThreadBusy
	}
	token := uuid.NewString()
	l.held[threadID] = token
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.held[threadID] == token {
			delete(l.held, threadID)
		}
		return nil
	}, nil
}

const unlockScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

// RedisLocker is a Locker shared by every replica using the same Redis.
// Locks expire after their ttl so a crashed replica cannot wedge a thread.
type RedisLocker struct {
	client *backend.Client
	prefix string
}

// NewRedisLocker creates a locker. Keys are prefix + "lock:" + threadID.
func NewRedisLocker(client *backend.Client, prefix string) *RedisLocker {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &RedisLocker{client: client, prefix: prefix}
}

// TryLock claims threadID with SET NX PX.
func (l *RedisLocker) TryLock(ctx context.Context, threadID string, ttl time.Duration) (UnlockFunc, error) {
	lockKey := l.prefix + "lock:" + threadID
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, lockKey, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis error acquiring lock: %w", err)
	}
	if !ok {
		return nil, ErrThreadBusy
	}
	return func(ctx context.Context) error {
		return l.client.Eval(ctx, unlockScript, []string{lockKey}, token).Err()
	}, nil
}
