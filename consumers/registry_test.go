package consumers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qubedev/qube/qubetesting"
	"github.com/qubedev/qube/store"
)

func newTestPool(t *testing.T) *store.Pool {
	t.Helper()
	ctx := context.Background()
	host, port := qubetesting.Address()
	pool, err := store.New(ctx, store.Credentials{Host: host, Port: port, Password: qubetesting.Password()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })
	return pool
}

func TestAddGetDelete(t *testing.T) {
	ctx := context.Background()
	pool := newTestPool(t)
	reg := New(pool)
	rdb := qubetesting.NewRedisClient(t)
	t.Cleanup(func() { qubetesting.CleanupRedis(t, rdb, false, "TestAddGetDelete") })

	_, ok, err := reg.Get(ctx, "Q", "G", "w1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, reg.Add(ctx, "Q", "G", "w1", Info{Owner: "node-a", WorkerID: "w1", ShouldStop: false}))
	info, ok, err := reg.Get(ctx, "Q", "G", "w1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "node-a", info.Owner)
	assert.False(t, info.ShouldStop)

	info.ShouldStop = true
	require.NoError(t, reg.Set(ctx, "Q", "G", "w1", info))
	info, ok, err = reg.Get(ctx, "Q", "G", "w1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, info.ShouldStop)

	require.NoError(t, reg.Delete(ctx, "Q", "G", "w1"))
	_, ok, err = reg.Get(ctx, "Q", "G", "w1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCountForGroupFiltersByPrefix(t *testing.T) {
	ctx := context.Background()
	pool := newTestPool(t)
	reg := New(pool)
	rdb := qubetesting.NewRedisClient(t)
	t.Cleanup(func() { qubetesting.CleanupRedis(t, rdb, false, "TestCountForGroupFiltersByPrefix") })

	require.NoError(t, reg.Add(ctx, "Q", "G1", "w1", Info{Owner: "node-a", WorkerID: "w1"}))
	require.NoError(t, reg.Add(ctx, "Q", "G1", "w2", Info{Owner: "node-a", WorkerID: "w2"}))
	require.NoError(t, reg.Add(ctx, "Q", "G2", "w3", Info{Owner: "node-a", WorkerID: "w3"}))

	count, err := reg.CountForGroup(ctx, "Q", "G1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = reg.CountForGroup(ctx, "Q", "G2")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = reg.CountForGroup(ctx, "Q", "G3")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}
