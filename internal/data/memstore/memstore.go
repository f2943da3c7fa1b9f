// Package memstore holds in-process implementations of the job, artifact and cache
// repositories. It backs STORAGE_BACKEND=memory and the service tests.
package memstore

import (
	"encoding/json"
	"time"

	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/data"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/domain/model"
)

func resolveClock(tp data.TimeProvider) data.TimeProvider {
	if tp == nil {
		return &data.RealTimeProvider{}
	}
	return tp
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	out := make(json.RawMessage, len(raw))
	copy(out, raw)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneJob(j *model.Job) *model.Job {
	cp := *j
	cp.Payload = cloneRaw(j.Payload)
	cp.StartedAt = cloneTime(j.StartedAt)
	cp.CompletedAt = cloneTime(j.CompletedAt)
	if j.Error != nil {
		e := *j.Error
		e.TaskIDs = append([]string(nil), j.Error.TaskIDs...)
		e.Violations = append([]model.Violation(nil), j.Error.Violations...)
		cp.Error = &e
	}
	if j.Run != nil {
		cp.Run = cloneRun(j.Run)
	}
	return &cp
}

func cloneRun(r *model.PipelineRun) *model.PipelineRun {
	cp := *r
	cp.Steps = append([]string(nil), r.Steps...)
	cp.Attempts = make(map[string]int, len(r.Attempts))
	for k, v := range r.Attempts {
		cp.Attempts[k] = v
	}
	return &cp
}

func cloneArtifact(a *model.Artifact) *model.Artifact {
	cp := *a
	cp.Payload = cloneRaw(a.Payload)
	cp.Sections = make(map[string]bool, len(a.Sections))
	for k, v := range a.Sections {
		cp.Sections[k] = v
	}
	cp.ApprovedAt = cloneTime(a.ApprovedAt)
	if a.SourceJobID != nil {
		id := *a.SourceJobID
		cp.SourceJobID = &id
	}
	return &cp
}
