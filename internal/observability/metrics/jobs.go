// Package metrics emits the orchestrator's standard metric families through a statsd sink.
package metrics

import (
	"strconv"
	"time"

	obserrors "github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/observability/errors"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
)

// JobMetric captures details about a job lifecycle event for metric emission.
type JobMetric struct {
	JobKind    string
	Transition string
	Result     string
	Duration   time.Duration
	Err        error
}

// EmitJobLifecycle emits standardised job lifecycle metrics.
func EmitJobLifecycle(sink statsd.Sink, in JobMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"job_kind":   in.JobKind,
		"transition": in.Transition,
		"result":     in.Result,
	}

	if in.Err != nil && in.Result == ResultError {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("job.transition", 1, tags)

	if in.Duration > 0 {
		sink.Timing("job.duration", in.Duration, CloneTags(tags))
	}
}

// AttemptMetric describes one agent attempt.
type AttemptMetric struct {
	Step     string
	Attempt  int
	Outcome  string
	Duration time.Duration
}

// EmitAgentAttempt counts one agent attempt tagged by step and outcome.
func EmitAgentAttempt(sink statsd.Sink, in AttemptMetric) {
	if sink == nil {
		return
	}
	tags := map[string]string{
		"step":    in.Step,
		"attempt": strconv.Itoa(in.Attempt),
		"outcome": in.Outcome,
	}
	sink.Count("agent.attempt", 1, tags)
	if in.Duration > 0 {
		sink.Timing("agent.duration", in.Duration, map[string]string{"step": in.Step, "outcome": in.Outcome})
	}
}

// FanoutMetric summarises one fan-out batch.
type FanoutMetric struct {
	Total        int
	Succeeded    int
	Completeness float64
	Result       string
	Duration     time.Duration
}

// EmitFanout reports batch size, completeness and duration.
func EmitFanout(sink statsd.Sink, in FanoutMetric) {
	if sink == nil {
		return
	}
	tags := map[string]string{"result": in.Result}
	sink.Count("fanout.batch", 1, tags)
	sink.Count("fanout.tasks", int64(in.Total), CloneTags(tags))
	sink.Count("fanout.tasks_failed", int64(in.Total-in.Succeeded), CloneTags(tags))
	sink.Gauge("fanout.completeness", in.Completeness, CloneTags(tags))
	if in.Duration > 0 {
		sink.Timing("fanout.duration", in.Duration, CloneTags(tags))
	}
}

// CloneTags creates a shallow copy of a tag map.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
