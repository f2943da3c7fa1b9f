// Package core declares the ports between the triton services and their storage,
// queue, agent and query collaborators.
package core

import (
	"fmt"

	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/domain/model"
)

// QueueSet routes job kinds to the queue for their topic.
type QueueSet map[model.QueueTopic]TaskQueue

// NewQueueSet indexes queues by their topic.
func NewQueueSet(queues ...TaskQueue) QueueSet {
	set := make(QueueSet, len(queues))
	for _, q := range queues {
		set[q.Topic()] = q
	}
	return set
}

// For returns the queue that carries kind.
func (s QueueSet) For(kind model.JobKind) (TaskQueue, error) {
	topic := model.TopicFor(kind)
	q, ok := s[topic]
	if !ok {
		return nil, fmt.Errorf("no queue configured for topic %s", topic)
	}
	return q, nil
}
