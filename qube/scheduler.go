package qube

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/qubedev/qube/consumers"
	"github.com/qubedev/qube/scripts"
)

// handleNotification is called by the notifier when NewJobChannel delivers
// {queue, group}. If this process has registered a callback for queue, it
// attempts to admit a worker for group, queuing the request if the quota is
// saturated. Correctness does not depend on notifications arriving in any
// particular order relative to enqueues; the poll-on-empty loop in
// GroupWorker is the backstop.
func (q *Queue) handleNotification(queueName, groupName string) {
	q.lock.Lock()
	reg, ok := q.processMap[queueName]
	q.lock.Unlock()
	if !ok {
		return
	}
	ctx := context.Background()
	groupKey := scripts.GroupKey(queueName, groupName)
	q.startGroupConsumer(ctx, queueName, groupName, groupKey, false, reg.nConsumers)
}

// startGroupConsumer admits a worker for (queueName, groupName) if the
// global count of live consumers for that group is below nConsumers. If
// the quota is saturated and fromPending is false, the request is
// appended to pendingGroupConsumers to be retried when capacity frees up.
func (q *Queue) startGroupConsumer(ctx context.Context, queueName, groupName, groupKey string, fromPending bool, nConsumers int) {
	if groupKey == "" {
		groupKey = scripts.GroupKey(queueName, groupName)
	}
	count, err := q.consumers.CountForGroup(ctx, queueName, groupName)
	if err != nil {
		q.logger.Error(fmt.Errorf("qube: failed to count consumers for %s/%s: %w", queueName, groupName, err))
		return
	}
	if count >= nConsumers {
		if !fromPending {
			q.lock.Lock()
			q.pendingGroupConsumers = append(q.pendingGroupConsumers, pendingAdmission{
				queue: queueName, group: groupName, groupKey: groupKey,
			})
			q.lock.Unlock()
		}
		return
	}

	workerID := ulid.Make().String()
	info := consumers.Info{Owner: q.instanceID, WorkerID: workerID, ShouldStop: false}
	if err := q.consumers.Add(ctx, queueName, groupName, workerID, info); err != nil {
		q.logger.Error(fmt.Errorf("qube: failed to register consumer %s: %w", workerID, err))
		return
	}

	consumerKey := consumers.FieldKey(queueName, groupName, workerID)
	q.armInactivityTimer(consumerKey, queueName, groupName, workerID)

	w := &groupWorker{
		queue:       q,
		queueName:   queueName,
		groupName:   groupName,
		groupKey:    groupKey,
		workerID:    workerID,
		consumerKey: consumerKey,
		nConsumers:  nConsumers,
	}
	Go(q.logger, w.run)
}

// armInactivityTimer schedules a deadline that flips the consumer record's
// shouldStop to true if it fires without being reset by a successful
// dequeue. Only the owning node (this process) ever resets or cancels a
// given consumerKey's timer.
func (q *Queue) armInactivityTimer(consumerKey, queueName, groupName, workerID string) {
	q.lock.Lock()
	if existing, ok := q.localTimers[consumerKey]; ok {
		existing.Stop()
	}
	q.localTimers[consumerKey] = time.AfterFunc(q.inactivityTimeout, func() {
		q.expireInactiveConsumer(queueName, groupName, workerID, consumerKey)
	})
	q.lock.Unlock()
}

// resetInactivityTimer is called by a worker after every successful
// dequeue. It only has an effect if the worker's record still exists and
// is not already stopping.
func (q *Queue) resetInactivityTimer(consumerKey, queueName, groupName, workerID string) {
	ctx := context.Background()
	info, ok, err := q.consumers.Get(ctx, queueName, groupName, workerID)
	if err != nil {
		q.logger.Error(fmt.Errorf("qube: failed to read consumer %s: %w", workerID, err))
		return
	}
	if !ok || info.ShouldStop {
		return
	}
	q.armInactivityTimer(consumerKey, queueName, groupName, workerID)
}

// expireInactiveConsumer fires when a worker's inactivity deadline elapses
// without being reset. It flips shouldStop on the consumer record; the
// worker observes this on its next empty dequeue and transitions to
// stopping.
func (q *Queue) expireInactiveConsumer(queueName, groupName, workerID, consumerKey string) {
	ctx := context.Background()
	info, ok, err := q.consumers.Get(ctx, queueName, groupName, workerID)
	if err != nil {
		q.logger.Error(fmt.Errorf("qube: failed to read consumer %s: %w", workerID, err))
		return
	}
	if !ok || info.ShouldStop {
		return
	}
	info.ShouldStop = true
	if err := q.consumers.Set(ctx, queueName, groupName, workerID, info); err != nil {
		q.logger.Error(fmt.Errorf("qube: failed to mark consumer %s inactive: %w", workerID, err))
	}
}

// clearLocalTimer cancels and forgets consumerKey's inactivity timer. It is
// called by a worker as it transitions to stopping.
func (q *Queue) clearLocalTimer(consumerKey string) {
	q.lock.Lock()
	if t, ok := q.localTimers[consumerKey]; ok {
		t.Stop()
		delete(q.localTimers, consumerKey)
	}
	q.lock.Unlock()
}

// drainPending admits pending group consumers in FIFO order, stopping at
// the first entry that still doesn't fit so that admission order across
// groups is preserved rather than reordered around a blocked head. It is
// called by a worker as it exits, giving capacity released by this node's
// own workers priority over capacity discovered only via notifications.
func (q *Queue) drainPending() {
	ctx := context.Background()
	for {
		q.lock.Lock()
		if len(q.pendingGroupConsumers) == 0 {
			q.lock.Unlock()
			return
		}
		next := q.pendingGroupConsumers[0]
		q.lock.Unlock()

		reg, ok := q.registrationFor(next.queue)
		if !ok {
			q.popPending()
			continue
		}
		count, err := q.consumers.CountForGroup(ctx, next.queue, next.group)
		if err != nil {
			q.logger.Error(fmt.Errorf("qube: failed to count consumers for %s/%s: %w", next.queue, next.group, err))
			return
		}
		if count >= reg.nConsumers {
			return
		}
		q.popPending()
		q.startGroupConsumer(ctx, next.queue, next.group, next.groupKey, true, reg.nConsumers)
	}
}

func (q *Queue) popPending() {
	q.lock.Lock()
	if len(q.pendingGroupConsumers) > 0 {
		q.pendingGroupConsumers = q.pendingGroupConsumers[1:]
	}
	q.lock.Unlock()
}

func (q *Queue) registrationFor(queueName string) (*registration, bool) {
	q.lock.Lock()
	defer q.lock.Unlock()
	reg, ok := q.processMap[queueName]
	return reg, ok
}
