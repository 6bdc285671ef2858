// Package consumers implements the cross-node ConsumerRegistry: a shared
// hash in the store recording every live group-worker across all nodes,
// used for capacity counting and cooperative shutdown.
package consumers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/qubedev/qube/store"
)

// activeConsumersKey is the single hash holding every node's consumer
// records, field-keyed by qube:{queue}:{group}:{workerId}.
const activeConsumersKey = "activeGroupConsumers"

// Logger is the minimal logging interface the registry needs, declared
// locally so callers can pass a qube.Logger without an import cycle.
type Logger interface {
	Debug(msg string, kvs ...any)
	Info(msg string, kvs ...any)
	Error(err error, kvs ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Error(error, ...any)  {}

// Info is the value stored for a live group-worker.
type Info struct {
	Owner      string `json:"owner"`
	WorkerID   string `json:"workerId"`
	ShouldStop bool   `json:"shouldStop"`
}

// Registry wraps the activeGroupConsumers hash with the four atomic
// single-key operations the scheduler needs.
type Registry struct {
	pool   *store.Pool
	logger Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used to report malformed consumer records.
func WithLogger(logger Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// New returns a Registry backed by pool.
func New(pool *store.Pool, opts ...Option) *Registry {
	r := &Registry{pool: pool, logger: noopLogger{}}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// FieldKey returns the activeGroupConsumers field name for a worker.
func FieldKey(queue, group, workerID string) string {
	return fmt.Sprintf("qube:%s:%s:%s", queue, group, workerID)
}

// Add upserts the consumer record for (queue, group, workerID).
func (r *Registry) Add(ctx context.Context, queue, group, workerID string, info Info) error {
	data, err := json.Marshal(info)
	if err != nil {
		r.logger.Error(fmt.Errorf("consumers: failed to marshal %+v: %w", info, err), "worker", workerID)
		return fmt.Errorf("consumers: failed to marshal %+v: %w", info, err)
	}
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("consumers: failed to acquire connection: %w", err)
	}
	defer conn.Release()
	if err := conn.HSet(ctx, activeConsumersKey, FieldKey(queue, group, workerID), data).Err(); err != nil {
		return fmt.Errorf("consumers: failed to add %s: %w", workerID, err)
	}
	return nil
}

// Get reads the consumer record for (queue, group, workerID). ok is false
// if the record is absent.
func (r *Registry) Get(ctx context.Context, queue, group, workerID string) (info Info, ok bool, err error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return Info{}, false, fmt.Errorf("consumers: failed to acquire connection: %w", err)
	}
	defer conn.Release()
	val, err := conn.HGet(ctx, activeConsumersKey, FieldKey(queue, group, workerID)).Result()
	if err != nil {
		if err == redis.Nil {
			return Info{}, false, nil
		}
		return Info{}, false, fmt.Errorf("consumers: failed to get %s: %w", workerID, err)
	}
	if err := json.Unmarshal([]byte(val), &info); err != nil {
		r.logger.Error(fmt.Errorf("consumers: failed to unmarshal %s: %w", workerID, err), "record", val)
		return Info{}, false, fmt.Errorf("consumers: failed to unmarshal %s: %w", workerID, err)
	}
	return info, true, nil
}

// Set overwrites the consumer record for (queue, group, workerID). It is
// used by the owning node's inactivity timer to flip shouldStop.
func (r *Registry) Set(ctx context.Context, queue, group, workerID string, info Info) error {
	return r.Add(ctx, queue, group, workerID, info)
}

// Delete removes the consumer record for (queue, group, workerID).
func (r *Registry) Delete(ctx context.Context, queue, group, workerID string) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("consumers: failed to acquire connection: %w", err)
	}
	defer conn.Release()
	if err := conn.HDel(ctx, activeConsumersKey, FieldKey(queue, group, workerID)).Err(); err != nil {
		return fmt.Errorf("consumers: failed to delete %s: %w", workerID, err)
	}
	return nil
}

// CountForGroup returns the number of live consumer records across all
// nodes for (queue, group); this is the authoritative admission counter.
func (r *Registry) CountForGroup(ctx context.Context, queue, group string) (int, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("consumers: failed to acquire connection: %w", err)
	}
	defer conn.Release()
	keys, err := conn.HKeys(ctx, activeConsumersKey).Result()
	if err != nil {
		return 0, fmt.Errorf("consumers: failed to list fields: %w", err)
	}
	prefix := fmt.Sprintf("qube:%s:%s:", queue, group)
	var count int
	for _, k := range keys {
		if strings.HasPrefix(k, prefix) {
			count++
		}
	}
	return count, nil
}
