package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only if it still holds our token, so a lock that
// expired and was taken by another process is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Lock is a held distributed lock.
type Lock struct {
	client *redis.Client
	key    string
	token  string
}

// TryLock acquires key with SET NX PX. It returns ErrLockHeld when another holder
// has it. The lock expires after ttl even if never released.
func (c *Client) TryLock(ctx context.Context, key string, ttl time.Duration) (*Lock, error) {
	if key == "" {
		return nil, errors.New("lock key is required")
	}
	if ttl <= 0 {
		return nil, errors.New("lock ttl must be positive")
	}

	token := uuid.NewString()
	ok, err := c.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return &Lock{client: c.client, key: key, token: token}, nil
}

// Key returns the locked key.
func (l *Lock) Key() string { return l.key }

// Release frees the lock if still held by this holder.
func (l *Lock) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Int()
	if err != nil {
		return fmt.Errorf("redis unlock %s: %w", l.key, err)
	}
	if n == 0 {
		return ErrLockLost
	}
	return nil
}

// Acquire is TryLock returning only the release function.
func (c *Client) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	l, err := c.TryLock(ctx, key, ttl)
	if err != nil {
		return nil, err
	}
	return l.Release, nil
}
