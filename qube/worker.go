package qube

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/qubedev/qube/scripts"
)

// groupWorker is a cooperative loop that repeatedly dequeues from one
// group. On an empty result it sleeps for pollInterval; once its consumer
// record's shouldStop flips true it deletes that record, clears its local
// inactivity timer, drains any pending admissions this node deferred, and
// terminates. It never touches another node's consumer records.
type groupWorker struct {
	queue       *Queue
	queueName   string
	groupName   string
	groupKey    string
	workerID    string
	consumerKey string
	nConsumers  int
}

func (w *groupWorker) run() {
	ctx := context.Background()
	q := w.queue
	for {
		result, err := q.scripts.Dequeue(ctx, w.groupKey)
		if err != nil {
			q.logger.Error(fmt.Errorf("qube: dequeue failed for %s/%s: %w", w.queueName, w.groupName, err))
			time.Sleep(q.pollInterval)
			continue
		}
		if result == nil {
			if w.shouldStop(ctx) {
				w.stop(ctx)
				return
			}
			time.Sleep(q.pollInterval)
			continue
		}
		q.resetInactivityTimer(w.consumerKey, w.queueName, w.groupName, w.workerID)
		w.processJob(ctx, result)
	}
}

// shouldStop reports whether this worker's consumer record has been
// flagged to stop, either by its own owning-node inactivity timer or by
// another node's cooperative-stop write. A missing record (e.g. deleted
// out of band) is also treated as a stop signal.
func (w *groupWorker) shouldStop(ctx context.Context) bool {
	q := w.queue
	info, ok, err := q.consumers.Get(ctx, w.queueName, w.groupName, w.workerID)
	if err != nil {
		q.logger.Error(fmt.Errorf("qube: failed to read consumer %s: %w", w.workerID, err))
		return false
	}
	if !ok {
		return true
	}
	return info.ShouldStop
}

func (w *groupWorker) stop(ctx context.Context) {
	q := w.queue
	if err := q.consumers.Delete(ctx, w.queueName, w.groupName, w.workerID); err != nil {
		q.logger.Error(fmt.Errorf("qube: failed to delete consumer %s: %w", w.workerID, err))
	}
	q.clearLocalTimer(w.consumerKey)
	q.drainPending()
}

// processJob invokes the registered callback, which finalizes the job by
// calling done(err) itself, and finalizes it as failed if the callback
// panics instead. If both happen, whichever reaches finish first wins and
// the other is dropped.
func (w *groupWorker) processJob(ctx context.Context, result *scripts.DequeueResult) {
	q := w.queue
	job := &Job{ID: result.JobID, Data: result.Payload, GroupName: result.GroupName, queue: q}

	reg, ok := q.registrationFor(w.queueName)
	if !ok {
		q.logger.Error(fmt.Errorf("qube: no callback registered for %s, failing job %s", w.queueName, job.ID))
		if err := q.UpdateJobStatus(ctx, job.ID, "failed"); err != nil {
			q.logger.Error(err)
		}
		return
	}

	var once sync.Once
	finish := func(err error) {
		once.Do(func() {
			status := "completed"
			if err != nil {
				status = "failed"
			}
			if uerr := q.UpdateJobStatus(ctx, job.ID, status); uerr != nil {
				q.logger.Error(fmt.Errorf("qube: failed to finalize job %s: %w", job.ID, uerr))
			}
		})
	}

	func() {
		defer func() {
			if r := recover(); r != nil {
				q.logger.Error(fmt.Errorf("qube: callback panicked: %v", r), "job", job.ID)
				finish(fmt.Errorf("callback panicked: %v", r))
			}
		}()
		reg.callback(job, finish)
	}()
}
