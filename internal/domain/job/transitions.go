package job

import (
	"fmt"

	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/domain/model"
)

// allowed lists the statuses each status may move to. Terminal statuses have no entry.
var allowed = map[model.JobStatus][]model.JobStatus{
	model.JobStatusPending:    {model.JobStatusProcessing, model.JobStatusCancelled, model.JobStatusFailed},
	model.JobStatusProcessing: {model.JobStatusCompleted, model.JobStatusFailed, model.JobStatusCancelled},
}

// CanTransition reports whether from → to is a legal, forward-only move.
func CanTransition(from, to model.JobStatus) bool {
	for _, next := range allowed[from] {
		if next == to {
			return true
		}
	}
	return false
}

// SourcesFor returns every status from which to is reachable in one step.
func SourcesFor(to model.JobStatus) []model.JobStatus {
	var out []model.JobStatus
	for _, from := range []model.JobStatus{model.JobStatusPending, model.JobStatusProcessing} {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}

// Transition builds a guarded transition for id into status to.
// Pending → failed is only used when a job cannot be enqueued.
func Transition(id string, to model.JobStatus, jobErr *model.JobError) (model.JobTransition, error) {
	sources := SourcesFor(to)
	if len(sources) == 0 {
		return model.JobTransition{}, fmt.Errorf("no transition into %s", to)
	}
	if to == model.JobStatusFailed && jobErr == nil {
		return model.JobTransition{}, fmt.Errorf("failed transition for %s requires an error", id)
	}
	if to != model.JobStatusFailed {
		jobErr = nil
	}
	return model.JobTransition{ID: id, From: sources, To: to, Error: jobErr}, nil
}
