package qube

import (
	"context"
	"fmt"

	"github.com/qubedev/qube/scripts"
)

// Job is the object a Callback is invoked with. Data and GroupName are the
// byte-for-byte payload and group the job was enqueued with.
type Job struct {
	ID        string
	Data      []byte
	GroupName string

	queue *Queue
}

// Progress records the job's completion percentage (0-100). It is a plain
// hash field write, not one of the four atomic scripts: a single Redis hash
// field write is already atomic, so no script is needed.
func (j *Job) Progress(ctx context.Context, value int) error {
	conn, err := j.queue.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("qube: failed to acquire connection: %w", err)
	}
	defer conn.Release()
	if err := conn.HSet(ctx, scripts.JobKey(j.ID), "progress", value).Err(); err != nil {
		return fmt.Errorf("qube: failed to update progress for job %s: %w", j.ID, err)
	}
	return nil
}

// Callback is the user-supplied job processing function. It must signal
// completion by calling done; a callback that panics instead is treated
// as a failure (see processJob).
type Callback func(job *Job, done func(error))
