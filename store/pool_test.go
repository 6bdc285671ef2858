package store

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var redisPwd = "redispassword"

func init() {
	if p := os.Getenv("REDIS_PASSWORD"); p != "" {
		redisPwd = p
	}
}

func testCreds() Credentials {
	return Credentials{Host: "localhost", Port: "6379", Password: redisPwd}
}

func TestAcquireRelease(t *testing.T) {
	ctx := context.Background()
	pool, err := New(ctx, testCreds(), WithMin(2), WithMax(3))
	require.NoError(t, err)
	defer pool.Close()

	conn, err := pool.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, conn.Ping(ctx).Err())
	conn.Release()
}

func TestAcquireBlocksUntilReleaseOrContextDone(t *testing.T) {
	ctx := context.Background()
	pool, err := New(ctx, testCreds(), WithMin(1), WithMax(1))
	require.NoError(t, err)
	defer pool.Close()

	conn, err := pool.Acquire(ctx)
	require.NoError(t, err)

	cctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = pool.Acquire(cctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	conn.Release()
	conn2, err := pool.Acquire(ctx)
	require.NoError(t, err)
	conn2.Release()
}

func TestReleaseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	pool, err := New(ctx, testCreds(), WithMin(1), WithMax(1))
	require.NoError(t, err)
	defer pool.Close()

	conn, err := pool.Acquire(ctx)
	require.NoError(t, err)
	conn.Release()
	conn.Release() // must not panic or double-credit the semaphore

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := pool.Acquire(ctx)
			if err != nil {
				errs[i] = err
				return
			}
			defer c.Release()
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		assert.NoError(t, err)
	}
}

func TestPublishSubscribe(t *testing.T) {
	ctx := context.Background()
	pool, err := New(ctx, testCreds())
	require.NoError(t, err)
	defer pool.Close()

	sub := pool.Subscriber(ctx, "store-test-channel")
	defer sub.Close()
	_, err = sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, pool.Publish(ctx, "store-test-channel", "hello"))
	select {
	case msg := <-sub.Channel():
		assert.Equal(t, "hello", msg.Payload)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published message")
	}
}
