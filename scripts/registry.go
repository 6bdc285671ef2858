package scripts

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/qubedev/qube/store"
)

type (
	// Logger is the minimal logging interface the registry needs, declared
	// locally so callers can pass a qube.Logger without an import cycle.
	Logger interface {
		Debug(msg string, kvs ...any)
		Info(msg string, kvs ...any)
		Error(err error, kvs ...any)
	}

	// Registry loads the four atomic scripts into the store and caches
	// their digests, keeping the Lua source alongside each digest so a
	// NOSCRIPT reply can be serviced by re-uploading and retrying once.
	Registry struct {
		pool   *store.Pool
		logger Logger

		lock   sync.Mutex
		cached map[string]*cachedScript
	}

	cachedScript struct {
		source string
		sha    string
	}

	noopLogger struct{}
)

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Error(error, ...any)  {}

const (
	nameEnqueue      = "enqueue"
	nameDequeue      = "dequeue"
	nameUpdateStatus = "update_status"
	nameGetStatus    = "get_status"
)

// New returns a Registry backed by pool. Call Init before using it.
func New(pool *store.Pool, logger Logger) *Registry {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Registry{
		pool:   pool,
		logger: logger,
		cached: map[string]*cachedScript{
			nameEnqueue:      {source: enqueueSource},
			nameDequeue:      {source: dequeueSource},
			nameUpdateStatus: {source: updateStatusSource},
			nameGetStatus:    {source: getStatusSource},
		},
	}
}

// Init uploads all four scripts and caches their digests.
func (r *Registry) Init(ctx context.Context) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("scripts: failed to acquire connection: %w", err)
	}
	defer conn.Release()
	r.lock.Lock()
	defer r.lock.Unlock()
	for name, sc := range r.cached {
		sha, err := conn.ScriptLoad(ctx, sc.source).Result()
		if err != nil {
			return fmt.Errorf("scripts: failed to load %s: %w", name, err)
		}
		sc.sha = sha
	}
	return nil
}

// Enqueue runs the enqueue script and returns the new job id.
func (r *Registry) Enqueue(ctx context.Context, groupsKey, groupKey, groupName string, payload []byte) (string, error) {
	res, err := r.eval(ctx, nameEnqueue, []string{groupsKey, groupKey}, groupName, payload)
	if err != nil {
		return "", err
	}
	id, ok := res.(string)
	if !ok {
		return "", fmt.Errorf("scripts: enqueue returned unexpected type %T", res)
	}
	return id, nil
}

// DequeueResult is the outcome of a successful dequeue.
type DequeueResult struct {
	JobID     string
	Payload   []byte
	GroupName string
}

// Dequeue runs the dequeue script. It returns (nil, nil) when the group is
// empty (or its head job was not in the pending state).
func (r *Registry) Dequeue(ctx context.Context, groupKey string) (*DequeueResult, error) {
	res, err := r.eval(ctx, nameDequeue, []string{groupKey})
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, nil
	}
	fields, ok := res.([]any)
	if !ok || len(fields) != 3 {
		return nil, fmt.Errorf("scripts: dequeue returned unexpected shape %#v", res)
	}
	id, _ := fields[0].(string)
	data, _ := fields[1].(string)
	group, _ := fields[2].(string)
	return &DequeueResult{JobID: id, Payload: []byte(data), GroupName: group}, nil
}

// UpdateStatus runs the update_status script. It is a no-op if the
// transition is not permitted or the job does not exist.
func (r *Registry) UpdateStatus(ctx context.Context, jobKey, status string) error {
	_, err := r.eval(ctx, nameUpdateStatus, []string{jobKey}, status)
	return err
}

// GetStatus runs the get_status script. ok is false if the job is unknown.
func (r *Registry) GetStatus(ctx context.Context, jobKey string) (status string, ok bool, err error) {
	res, err := r.eval(ctx, nameGetStatus, []string{jobKey})
	if err != nil {
		return "", false, err
	}
	if res == nil {
		return "", false, nil
	}
	s, valid := res.(string)
	if !valid {
		return "", false, fmt.Errorf("scripts: get_status returned unexpected type %T", res)
	}
	return s, true, nil
}

// eval runs the named script through EVALSHA, reloading it once and
// retrying if the store reports NOSCRIPT. No other error triggers a
// reload.
func (r *Registry) eval(ctx context.Context, name string, keys []string, args ...any) (any, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("scripts: failed to acquire connection: %w", err)
	}
	defer conn.Release()

	sha := r.shaFor(name)
	res, err := conn.EvalSha(ctx, sha, keys, args...).Result()
	if err == nil {
		return res, nil
	}
	if err == redis.Nil {
		return nil, nil
	}
	if !isNoScript(err) {
		return nil, fmt.Errorf("scripts: %s failed: %w", name, err)
	}

	r.logger.Info("reloading missing script", "script", name)
	if err := r.reload(ctx, conn, name); err != nil {
		return nil, fmt.Errorf("scripts: failed to reload %s: %w", name, err)
	}
	res, err = conn.EvalSha(ctx, r.shaFor(name), keys, args...).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("scripts: %s failed after reload: %w", name, err)
	}
	return res, nil
}

func (r *Registry) shaFor(name string) string {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.cached[name].sha
}

func (r *Registry) reload(ctx context.Context, conn *store.Conn, name string) error {
	r.lock.Lock()
	source := r.cached[name].source
	r.lock.Unlock()
	sha, err := conn.ScriptLoad(ctx, source).Result()
	if err != nil {
		return err
	}
	r.lock.Lock()
	r.cached[name].sha = sha
	r.lock.Unlock()
	return nil
}

// JobKey returns the hash key for the given job id.
func JobKey(jobID string) string {
	return "qube:queue:job:" + jobID
}

// GroupsKey returns the set key listing a queue's known groups.
func GroupsKey(queue string) string {
	return "qube:" + queue + ":groups"
}

// GroupKey returns the list key for a queue's group.
func GroupKey(queue, group string) string {
	return "qube:" + queue + ":group:" + group
}

// GroupNameFromKey strips the "qube:{queue}:group:" prefix off a group key
// discovered via GroupsKey, returning the plain group name.
func GroupNameFromKey(queue, groupKey string) string {
	prefix := "qube:" + queue + ":group:"
	return strings.TrimPrefix(groupKey, prefix)
}

func isNoScript(err error) bool {
	return strings.HasPrefix(err.Error(), "NOSCRIPT")
}
