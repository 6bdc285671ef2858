// Package qubetesting provides helpers for exercising the queue against a
// real local Redis instance; the atomic scripts are the core of this
// module, so tests never mock the store.
package qubetesting

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// redisPwd is the default test Redis password, overridden by the
// REDIS_PASSWORD environment variable.
var redisPwd = "redispassword"

func init() {
	if p := os.Getenv("REDIS_PASSWORD"); p != "" {
		redisPwd = p
	}
}

// NewRedisClient returns a client connected to the local test Redis
// instance, failing the test immediately if it cannot connect.
func NewRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379", Password: redisPwd})
	require.NoError(t, rdb.Ping(context.Background()).Err())
	return rdb
}

// CleanupRedis flushes the test database. If checkClean is true it first
// asserts, with a short retry window, that no key whose name contains
// testName is still present. Only key names are scanned: consumer records
// are fields of the single activeGroupConsumers hash and are not matched.
func CleanupRedis(t *testing.T, rdb *redis.Client, checkClean bool, testName string) {
	t.Helper()
	ctx := context.Background()
	if checkClean {
		assert.Eventually(t, func() bool {
			keys, err := rdb.Keys(ctx, "*"+testName+"*").Result()
			return err == nil && len(keys) == 0
		}, time.Second, 10*time.Millisecond, "keys referencing %q still present", testName)
	}
	assert.NoError(t, rdb.FlushDB(ctx).Err())
}

// Address returns the address NewRedisClient dials, for tests that build
// their own store.Credentials.
func Address() (host, port string) {
	return "localhost", "6379"
}

// Password returns the password NewRedisClient authenticates with.
func Password() string { return redisPwd }
