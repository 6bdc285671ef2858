// Package qube implements a group-ordered job queue backed by Redis.
// Producers enqueue jobs into named queues; within each queue, jobs are
// further partitioned into groups, and within a group jobs are processed
// in FIFO order by at most one consumer at a time. Across groups of the
// same queue, processing proceeds in parallel. Multiple client processes
// may share the store and cooperate: a job produced on one node can be
// consumed on another.
package qube

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"github.com/qubedev/qube/consumers"
	"github.com/qubedev/qube/scripts"
	"github.com/qubedev/qube/store"
)

// NewJobChannel is the pub/sub channel notifying nodes of newly enqueued
// jobs.
const NewJobChannel = "QUEUE:NEWJOB"

type (
	// Queue is a group-ordered job queue. A Queue must be initialized with
	// Init before Add or Process are called, and should be shut down with
	// Close.
	Queue struct {
		instanceID string
		pool       *store.Pool
		scripts    *scripts.Registry
		consumers  *consumers.Registry
		notifier   *notifier
		logger     Logger

		inactivityTimeout time.Duration
		pollInterval      time.Duration

		lock                  sync.Mutex
		processMap            map[string]*registration
		pendingGroupConsumers []pendingAdmission
		localTimers           map[string]*time.Timer

		closing bool
		closed  bool
	}

	// registration is processMap's value: the callback and desired
	// consumer count registered for a queue via Process.
	registration struct {
		callback   Callback
		nConsumers int
	}

	// pendingAdmission is a deferred startGroupConsumer call, queued
	// because the group's quota was saturated when it was requested.
	pendingAdmission struct {
		queue    string
		group    string
		groupKey string
	}
)

// New dials the store and returns a Queue. Call Init before Add or Process.
func New(ctx context.Context, creds store.Credentials, opts ...Option) (*Queue, error) {
	o := parseOptions(opts...)
	pool, err := store.New(ctx, creds, store.WithMin(o.poolMin), store.WithMax(o.poolMax), store.WithLogger(o.logger))
	if err != nil {
		return nil, fmt.Errorf("qube: failed to connect to store: %w", err)
	}
	instanceID := ulid.Make().String()
	q := &Queue{
		instanceID:        instanceID,
		pool:              pool,
		scripts:           scripts.New(pool, o.logger),
		consumers:         consumers.New(pool, consumers.WithLogger(o.logger)),
		logger:            o.logger.WithPrefix("instance", instanceID),
		inactivityTimeout: o.inactivityTimeout,
		pollInterval:      o.pollInterval,
		processMap:        make(map[string]*registration),
		localTimers:       make(map[string]*time.Timer),
	}
	q.notifier = newNotifier(q)
	return q, nil
}

// Init loads the atomic scripts and subscribes to job notifications. It
// must complete before Add or Process are called.
func (q *Queue) Init(ctx context.Context) error {
	if err := q.scripts.Init(ctx); err != nil {
		return fmt.Errorf("qube: failed to initialize scripts: %w", err)
	}
	if err := q.notifier.start(ctx); err != nil {
		return fmt.Errorf("qube: failed to start notifier: %w", err)
	}
	return nil
}

// Add enqueues data into groupName within queueName and returns the new
// job's id. Failure to publish the resulting notification does not roll
// back the enqueue: delivery is at-least-once, and the job will still be
// picked up by the next consumer poll.
func (q *Queue) Add(ctx context.Context, queueName, groupName string, data []byte) (string, error) {
	if !q.notifier.ready() {
		return "", ErrNotReady
	}
	q.lock.Lock()
	closing := q.closing
	q.lock.Unlock()
	if closing {
		return "", ErrClosed
	}
	groupsKey := scripts.GroupsKey(queueName)
	groupKey := scripts.GroupKey(queueName, groupName)
	jobID, err := q.scripts.Enqueue(ctx, groupsKey, groupKey, groupName, data)
	if err != nil {
		return "", fmt.Errorf("qube: failed to enqueue job: %w", err)
	}
	payload, merr := marshalNotification(queueName, groupName)
	if merr != nil {
		q.logger.Error(fmt.Errorf("qube: failed to marshal notification: %w", merr))
		return jobID, nil
	}
	if err := q.pool.Publish(ctx, NewJobChannel, payload); err != nil {
		q.logger.Error(fmt.Errorf("qube: failed to publish notification: %w", err), "queue", queueName, "group", groupName)
	}
	return jobID, nil
}

// Process registers callback as the handler for queueName and spawns up to
// nConsumers group-workers for every group currently known to the queue.
// Groups that first appear after Process is called are picked up purely
// through job notifications, not by re-scanning the group index.
func (q *Queue) Process(ctx context.Context, queueName string, nConsumers int, callback Callback) error {
	if !q.notifier.ready() {
		return ErrNotReady
	}
	q.lock.Lock()
	if q.closing {
		q.lock.Unlock()
		return ErrClosed
	}
	if _, exists := q.processMap[queueName]; exists {
		q.lock.Unlock()
		return ErrAlreadyRegistered
	}
	q.processMap[queueName] = &registration{callback: callback, nConsumers: nConsumers}
	q.lock.Unlock()

	groupsKey := scripts.GroupsKey(queueName)
	conn, err := q.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("qube: failed to acquire connection: %w", err)
	}
	groupKeys, err := conn.SMembers(ctx, groupsKey).Result()
	conn.Release()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("qube: failed to read known groups for %s: %w", queueName, err)
	}
	for _, groupKey := range groupKeys {
		groupName := scripts.GroupNameFromKey(queueName, groupKey)
		for i := 0; i < nConsumers; i++ {
			q.startGroupConsumer(ctx, queueName, groupName, groupKey, false, nConsumers)
		}
	}
	return nil
}

// UpdateJobStatus writes a new status for jobID if the transition is a
// forward one (pending -> active -> {completed, failed}); otherwise it is
// a no-op, matching update_status's external contract.
func (q *Queue) UpdateJobStatus(ctx context.Context, jobID, status string) error {
	if err := q.scripts.UpdateStatus(ctx, scripts.JobKey(jobID), status); err != nil {
		return fmt.Errorf("qube: failed to update status for job %s: %w", jobID, err)
	}
	return nil
}

// GetStatus returns the current status of jobID, or ErrJobNotFound if the
// job is unknown.
func (q *Queue) GetStatus(ctx context.Context, jobID string) (string, error) {
	status, ok, err := q.scripts.GetStatus(ctx, scripts.JobKey(jobID))
	if err != nil {
		return "", fmt.Errorf("qube: failed to get status for job %s: %w", jobID, err)
	}
	if !ok {
		return "", ErrJobNotFound
	}
	return status, nil
}

// Close shuts down the notifier, cancels every local inactivity timer, and
// closes the store pool and its dedicated connections. Close does not wait
// for in-flight group workers to drain; they observe their next store
// operation fail and exit.
func (q *Queue) Close(ctx context.Context) error {
	q.lock.Lock()
	if q.closed {
		q.lock.Unlock()
		return nil
	}
	q.closing = true
	for _, t := range q.localTimers {
		t.Stop()
	}
	q.localTimers = make(map[string]*time.Timer)
	q.closed = true
	q.lock.Unlock()

	q.notifier.stop()
	return q.pool.Close()
}
