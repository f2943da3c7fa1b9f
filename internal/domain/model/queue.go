package model

import "time"

// QueueTopic separates pipeline work from analytics work.
type QueueTopic string

const (
	// TopicPipeline carries generation jobs.
	TopicPipeline QueueTopic = "pipeline"
	// TopicAnalytics carries fan-out jobs.
	TopicAnalytics QueueTopic = "analytics"
)

// TopicFor routes a job kind to its queue topic.
func TopicFor(kind JobKind) QueueTopic {
	if kind == JobKindGenerateAnalytics {
		return TopicAnalytics
	}
	return TopicPipeline
}

// QueueMessage is what travels on the task queue. The job record stays authoritative.
type QueueMessage struct {
	JobID      string    `json:"job_id"`
	Kind       JobKind   `json:"kind"`
	SubjectID  string    `json:"subject_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	Deliveries int       `json:"deliveries"`
}
