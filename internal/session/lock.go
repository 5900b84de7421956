package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker serializes session-mutating transitions per session.
type Locker interface {
	Lock(ctx context.Context, sid string) (unlock func(), err error)
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a lease lock in redis shared by every gateway instance.
type RedisLocker struct {
	client *redis.Client
	lease  time.Duration
	retry  time.Duration
}

// NewRedisLocker constructs a RedisLocker. The lease must outlive the longest
// transition, backend calls included.
func NewRedisLocker(client *redis.Client, lease time.Duration) *RedisLocker {
	if lease <= 0 {
		lease = 30 * time.Second
	}
	return &RedisLocker{client: client, lease: lease, retry: 25 * time.Millisecond}
}

func lockKey(sid string) string {
	return "atelier:session:" + sid + ":lock"
}

// Lock blocks until the lock is held or ctx ends, in which case ErrBusy is returned.
func (l *RedisLocker) Lock(ctx context.Context, sid string) (func(), error) {
	key := lockKey(sid)
	token := uuid.NewString()
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.lease).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %v", ErrBusy, ctx.Err())
			}
			return nil, fmt.Errorf("session: acquire lock: %w", err)
		}
		if ok {
			return func() {
				releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
				defer cancel()
				_ = releaseScript.Run(releaseCtx, l.client, []string{key}, token).Err()
			}, nil
		}
		timer := time.NewTimer(l.retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("%w: %v", ErrBusy, ctx.Err())
		case <-timer.C:
		}
	}
}

var _ Locker = (*RedisLocker)(nil)
