package scripts

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qubedev/qube/qubetesting"
	"github.com/qubedev/qube/store"
)

func newTestRegistry(t *testing.T) (*Registry, *store.Pool) {
	t.Helper()
	ctx := context.Background()
	host, port := qubetesting.Address()
	pool, err := store.New(ctx, store.Credentials{Host: host, Port: port, Password: qubetesting.Password()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })
	reg := New(pool, nil)
	require.NoError(t, reg.Init(ctx))
	return reg, pool
}

func TestEnqueueDequeueRoundTrip(t *testing.T) {
	ctx := context.Background()
	reg, pool := newTestRegistry(t)
	rdb := qubetesting.NewRedisClient(t)
	t.Cleanup(func() { qubetesting.CleanupRedis(t, rdb, false, "TestEnqueueDequeueRoundTrip") })

	groupsKey := GroupsKey("TestEnqueueDequeueRoundTrip")
	groupKey := GroupKey("TestEnqueueDequeueRoundTrip", "g1")

	id, err := reg.Enqueue(ctx, groupsKey, groupKey, "g1", []byte("hello"))
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	isMember, err := rdb.SIsMember(ctx, groupsKey, groupKey).Result()
	require.NoError(t, err)
	assert.True(t, isMember)

	res, err := reg.Dequeue(ctx, groupKey)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, id, res.JobID)
	assert.Equal(t, []byte("hello"), res.Payload)
	assert.Equal(t, "g1", res.GroupName)

	status, ok, err := reg.GetStatus(ctx, JobKey(id))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "active", status)

	_ = pool
}

func TestDequeueEmptyGroupReturnsNil(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)
	rdb := qubetesting.NewRedisClient(t)
	t.Cleanup(func() { qubetesting.CleanupRedis(t, rdb, false, "TestDequeueEmptyGroupReturnsNil") })

	res, err := reg.Dequeue(ctx, GroupKey("TestDequeueEmptyGroupReturnsNil", "nogroup"))
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestFIFOWithinGroup(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)
	rdb := qubetesting.NewRedisClient(t)
	t.Cleanup(func() { qubetesting.CleanupRedis(t, rdb, false, "TestFIFOWithinGroup") })

	groupsKey := GroupsKey("TestFIFOWithinGroup")
	groupKey := GroupKey("TestFIFOWithinGroup", "g1")

	var ids []string
	for i := 0; i < 5; i++ {
		id, err := reg.Enqueue(ctx, groupsKey, groupKey, "g1", []byte{byte(i)})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	for _, want := range ids {
		res, err := reg.Dequeue(ctx, groupKey)
		require.NoError(t, err)
		require.NotNil(t, res)
		assert.Equal(t, want, res.JobID)
	}

	res, err := reg.Dequeue(ctx, groupKey)
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestUpdateStatusRejectsBackwardTransition(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)
	rdb := qubetesting.NewRedisClient(t)
	t.Cleanup(func() { qubetesting.CleanupRedis(t, rdb, false, "TestUpdateStatusRejectsBackwardTransition") })

	groupsKey := GroupsKey("TestUpdateStatusRejectsBackwardTransition")
	groupKey := GroupKey("TestUpdateStatusRejectsBackwardTransition", "g1")
	id, err := reg.Enqueue(ctx, groupsKey, groupKey, "g1", []byte("x"))
	require.NoError(t, err)

	res, err := reg.Dequeue(ctx, groupKey)
	require.NoError(t, err)
	require.NotNil(t, res)

	require.NoError(t, reg.UpdateStatus(ctx, JobKey(id), "completed"))
	status, ok, err := reg.GetStatus(ctx, JobKey(id))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "completed", status)

	// completed -> pending is not a valid transition; it is a no-op.
	require.NoError(t, reg.UpdateStatus(ctx, JobKey(id), "pending"))
	status, ok, err = reg.GetStatus(ctx, JobKey(id))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "completed", status)
}

func TestUpdateStatusIdempotent(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)
	rdb := qubetesting.NewRedisClient(t)
	t.Cleanup(func() { qubetesting.CleanupRedis(t, rdb, false, "TestUpdateStatusIdempotent") })

	groupsKey := GroupsKey("TestUpdateStatusIdempotent")
	groupKey := GroupKey("TestUpdateStatusIdempotent", "g1")
	id, err := reg.Enqueue(ctx, groupsKey, groupKey, "g1", []byte("x"))
	require.NoError(t, err)
	_, err = reg.Dequeue(ctx, groupKey)
	require.NoError(t, err)

	require.NoError(t, reg.UpdateStatus(ctx, JobKey(id), "completed"))
	require.NoError(t, reg.UpdateStatus(ctx, JobKey(id), "completed"))

	status, ok, err := reg.GetStatus(ctx, JobKey(id))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "completed", status)
}

func TestGetStatusUnknownJob(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)
	rdb := qubetesting.NewRedisClient(t)
	t.Cleanup(func() { qubetesting.CleanupRedis(t, rdb, false, "TestGetStatusUnknownJob") })

	_, ok, err := reg.GetStatus(ctx, JobKey("doesnotexist"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestScriptReloadAfterFlush(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)
	rdb := qubetesting.NewRedisClient(t)
	t.Cleanup(func() { qubetesting.CleanupRedis(t, rdb, false, "TestScriptReloadAfterFlush") })

	require.NoError(t, rdb.ScriptFlush(ctx).Err())

	groupsKey := GroupsKey("TestScriptReloadAfterFlush")
	groupKey := GroupKey("TestScriptReloadAfterFlush", "g1")
	id, err := reg.Enqueue(ctx, groupsKey, groupKey, "g1", []byte("x"))
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}
