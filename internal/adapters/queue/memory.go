// Package queue provides the memory, Postgres and Redis task queue backends.
package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/core"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/domain/model"
)

// MemoryQueue is an in-process FIFO with an in-flight set. Messages do not survive a restart.
type MemoryQueue struct {
	topic model.QueueTopic

	mu       sync.Mutex
	ready    []model.QueueMessage
	inflight map[string]model.QueueMessage
	// signal is closed and replaced whenever a message becomes ready.
	signal chan struct{}
}

// NewMemoryQueue creates an empty queue for topic.
func NewMemoryQueue(topic model.QueueTopic) *MemoryQueue {
	return &MemoryQueue{
		topic:    topic,
		inflight: make(map[string]model.QueueMessage),
		signal:   make(chan struct{}),
	}
}

// Topic returns the topic this queue carries.
func (q *MemoryQueue) Topic() model.QueueTopic { return q.topic }

func (q *MemoryQueue) wakeLocked() {
	close(q.signal)
	q.signal = make(chan struct{})
}

// Enqueue appends msg. A job already queued or in flight is not duplicated.
func (q *MemoryQueue) Enqueue(_ context.Context, msg model.QueueMessage) error {
	if msg.JobID == "" {
		return fmt.Errorf("enqueue on %s: job id is required", q.topic)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.inflight[msg.JobID]; ok {
		return nil
	}
	for _, m := range q.ready {
		if m.JobID == msg.JobID {
			return nil
		}
	}
	q.ready = append(q.ready, msg)
	q.wakeLocked()
	return nil
}

// Dequeue blocks until a message is ready or ctx is done.
func (q *MemoryQueue) Dequeue(ctx context.Context) (*model.QueueMessage, error) {
	for {
		q.mu.Lock()
		if len(q.ready) > 0 {
			msg := q.ready[0]
			q.ready = q.ready[1:]
			msg.Deliveries++
			q.inflight[msg.JobID] = msg
			q.mu.Unlock()
			return &msg, nil
		}
		signal := q.signal
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-signal:
		}
	}
}

// Ack drops an in-flight message.
func (q *MemoryQueue) Ack(_ context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inflight, jobID)
	return nil
}

// Nack releases an in-flight message, putting it back at the head when requeue is set.
func (q *MemoryQueue) Nack(_ context.Context, jobID string, requeue bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	msg, ok := q.inflight[jobID]
	if !ok {
		return nil
	}
	delete(q.inflight, jobID)
	if requeue {
		q.ready = append([]model.QueueMessage{msg}, q.ready...)
		q.wakeLocked()
	}
	return nil
}

// Len reports ready and in-flight counts.
func (q *MemoryQueue) Len() (ready, inflight int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready), len(q.inflight)
}

var _ core.TaskQueue = (*MemoryQueue)(nil)
