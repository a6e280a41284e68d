package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockTimeout is returned when a lead lock could not be acquired before
// the context ended.
var ErrLockTimeout = errors.New("conversation: lock acquisition timed out")

// Locker provides per-lead mutual exclusion. The returned unlock func must be
// called exactly once.
type Locker interface {
	Lock(ctx context.Context, leadID string) (unlock func(), err error)
}

// KeyedMutex is an in-process Locker. Entries are reference counted and
// removed when the last holder or waiter leaves.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	ch   chan struct{}
	refs int
}

// NewKeyedMutex creates an empty KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedLock)}
}

// Lock blocks until leadID is free or ctx is done.
func (m *KeyedMutex) Lock(ctx context.Context, leadID string) (func(), error) {
	m.mu.Lock()
	l, ok := m.locks[leadID]
	if !ok {
		l = &keyedLock{ch: make(chan struct{}, 1)}
		l.ch <- struct{}{}
		m.locks[leadID] = l
	}
	l.refs++
	m.mu.Unlock()

	select {
	case <-l.ch:
		var once sync.Once
		return func() {
			once.Do(func() {
				l.ch <- struct{}{}
				m.release(leadID, l)
			})
		}, nil
	case <-ctx.Done():
		m.release(leadID, l)
		return nil, fmt.Errorf("%w: %v", ErrLockTimeout, ctx.Err())
	}
}

func (m *KeyedMutex) release(leadID string, l *keyedLock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(m.locks, leadID)
	}
}

// held reports how many lead ids currently have holders or waiters.
func (m *KeyedMutex) held() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

// releaseScript deletes the lock only if the caller still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a lease lock shared by every worker process. It wraps a
// local KeyedMutex so goroutines in one process do not poll Redis against
// each other.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	retry  time.Duration
	local  *KeyedMutex
}

// NewRedisLocker creates a RedisLocker whose leases expire after ttl.
func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	if client == nil {
		panic("conversation: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = 90 * time.Second
	}
	return &RedisLocker{client: client, ttl: ttl, retry: 50 * time.Millisecond, local: NewKeyedMutex()}
}

func lockKey(leadID string) string {
	return "reengage:lock:" + leadID
}

// Lock acquires the local mutex, then the Redis lease.
func (l *RedisLocker) Lock(ctx context.Context, leadID string) (func(), error) {
	unlockLocal, err := l.local.Lock(ctx, leadID)
	if err != nil {
		return nil, err
	}

	token := uuid.NewString()
	key := lockKey(leadID)
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			unlockLocal()
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %v", ErrLockTimeout, ctx.Err())
			}
			return nil, fmt.Errorf("conversation: acquire redis lock: %w", err)
		}
		if ok {
			break
		}
		select {
		case <-time.After(l.retry):
		case <-ctx.Done():
			unlockLocal()
			return nil, fmt.Errorf("%w: %v", ErrLockTimeout, ctx.Err())
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			_ = releaseScript.Run(releaseCtx, l.client, []string{key}, token).Err()
			unlockLocal()
		})
	}, nil
}
