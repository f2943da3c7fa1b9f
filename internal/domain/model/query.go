package model

import (
	"encoding/json"
	"time"
)

// TaskStatus is the state of one fan-out query task.
type TaskStatus string

const (
	// TaskPending has not been picked up by a worker.
	TaskPending TaskStatus = "pending"
	// TaskRunning is executing.
	TaskRunning TaskStatus = "running"
	// TaskSucceeded produced a result.
	TaskSucceeded TaskStatus = "succeeded"
	// TaskFailed produced an error or timed out.
	TaskFailed TaskStatus = "failed"
)

// QueryFilter is one equality or range predicate on an analytics dimension.
type QueryFilter struct {
	Field string `json:"field"`
	Op    string `json:"op"`
	Value any    `json:"value"`
}

// QuerySpec is the engine-neutral description of one widget query.
type QuerySpec struct {
	Metric      string        `json:"metric"`
	Aggregation string        `json:"aggregation"`
	GroupBy     []string      `json:"group_by,omitempty"`
	Filters     []QueryFilter `json:"filters,omitempty"`
	Limit       int           `json:"limit,omitempty"`
	// Extract is an optional JMESPath expression applied to the result rows.
	Extract string `json:"extract,omitempty"`
	// Placeholder is used in the snapshot when the task fails.
	Placeholder json.RawMessage `json:"placeholder,omitempty"`
}

// QueryTask is one unit of a fan-out batch.
type QueryTask struct {
	TaskID   string        `json:"task_id"`
	Spec     QuerySpec     `json:"spec"`
	Status   TaskStatus    `json:"status"`
	Result   any           `json:"result,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}
