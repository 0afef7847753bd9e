package redis

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/scangate/pkg/logger"
)

// newTestClient connects to REDIS_TEST_ADDR; the lock tests need a live server.
func newTestClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	rc := redis.NewClient(&redis.Options{Addr: addr})
	if err := rc.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis not reachable: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })
	return NewFromClient(rc, logger.NewNop())
}

func TestTryLock_Validation(t *testing.T) {
	c := NewFromClient(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), logger.NewNop())

	_, err := c.TryLock(context.Background(), "", time.Second)
	assert.Error(t, err)
	_, err = c.TryLock(context.Background(), "k", 0)
	assert.Error(t, err)
}

func TestTryLock_SecondHolderIsRejected(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	key := "scangate:test:lock:" + t.Name()

	first, err := c.TryLock(ctx, key, 5*time.Second)
	require.NoError(t, err)

	_, err = c.TryLock(ctx, key, 5*time.Second)
	assert.True(t, errors.Is(err, ErrLockHeld))

	require.NoError(t, first.Release(ctx))

	again, err := c.TryLock(ctx, key, 5*time.Second)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestLock_ReleaseAfterExpiry(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	key := "scangate:test:lock:" + t.Name()

	l, err := c.TryLock(ctx, key, 50*time.Millisecond)
	require.NoError(t, err)
	time.Sleep(120 * time.Millisecond)

	other, err := c.TryLock(ctx, key, 5*time.Second)
	require.NoError(t, err)

	assert.True(t, errors.Is(l.Release(ctx), ErrLockLost))
	require.NoError(t, other.Release(ctx))
}
