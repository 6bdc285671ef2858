package qube

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
)

// notification is the payload published on NewJobChannel.
type notification struct {
	QueueName string `json:"queueName"`
	GroupName string `json:"groupName"`
}

func marshalNotification(queueName, groupName string) ([]byte, error) {
	return json.Marshal(notification{QueueName: queueName, GroupName: groupName})
}

// notifier owns the single subscriber connection every node keeps open on
// NewJobChannel. subscribed flips true once the subscription is confirmed
// by the store; Add and Process refuse to run before that.
type notifier struct {
	queue      *Queue
	sub        *redis.PubSub
	subscribed atomic.Bool
	done       chan struct{}
}

func newNotifier(q *Queue) *notifier {
	return &notifier{queue: q, done: make(chan struct{})}
}

func (n *notifier) start(ctx context.Context) error {
	n.sub = n.queue.pool.Subscriber(ctx, NewJobChannel)
	if _, err := n.sub.Receive(ctx); err != nil {
		return fmt.Errorf("qube: failed to subscribe to %s: %w", NewJobChannel, err)
	}
	n.subscribed.Store(true)
	Go(n.queue.logger, n.run)
	return nil
}

func (n *notifier) run() {
	ch := n.sub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var note notification
			if err := json.Unmarshal([]byte(msg.Payload), &note); err != nil {
				n.queue.logger.Error(fmt.Errorf("qube: malformed notification: %w", err), "payload", msg.Payload)
				continue
			}
			n.queue.handleNotification(note.QueueName, note.GroupName)
		case <-n.done:
			return
		}
	}
}

func (n *notifier) ready() bool { return n.subscribed.Load() }

func (n *notifier) stop() {
	close(n.done)
	if n.sub != nil {
		_ = n.sub.Close()
	}
}
