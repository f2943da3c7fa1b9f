// Package httpx provides the JSON API over jobs, artifacts and analytics snapshots.
package httpx

import (
	"log/slog"
	"net/http"

	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/domain/model"
	apperrors "github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/errors"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/service"
)

// JobHandlers provides HTTP handlers for job-related operations.
type JobHandlers struct {
	Svc    *service.JobService
	Logger *slog.Logger
}

// SubmitJob creates a job, or returns the in-flight job for an identical resubmission.
func (h *JobHandlers) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var req model.SubmitJobRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	job, err := h.Svc.Submit(r.Context(), &req)
	if err != nil {
		WriteAppError(w, r, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, job)
}

// GetJob returns one job with its status, progress and error.
func (h *JobHandlers) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.Svc.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteAppError(w, r, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

// CancelJob cancels a pending or processing job and returns its new state.
func (h *JobHandlers) CancelJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.Svc.Cancel(r.Context(), id); err != nil {
		WriteAppError(w, r, h.Logger, err)
		return
	}
	job, err := h.Svc.Status(r.Context(), id)
	if err != nil {
		WriteAppError(w, r, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

// ListSubjectJobs lists a subject's jobs, newest first. Optional kind and status filters.
func (h *JobHandlers) ListSubjectJobs(w http.ResponseWriter, r *http.Request) {
	opts := model.JobListOptions{SubjectID: r.PathValue("subject")}
	opts.Limit, opts.Offset = ParseLimitOffset(r, defaultListLimit, maxListLimit)

	q := r.URL.Query()
	if v := q.Get("kind"); v != "" {
		kind := model.JobKind(v)
		if !kind.Valid() {
			WriteAppError(w, r, h.Logger, apperrors.ValidationField("kind", "unknown job kind "+v))
			return
		}
		opts.Kind = &kind
	}
	if v := q.Get("status"); v != "" {
		status := model.JobStatus(v)
		if !status.Valid() {
			WriteAppError(w, r, h.Logger, apperrors.ValidationField("status", "unknown job status "+v))
			return
		}
		opts.Status = &status
	}

	jobs, err := h.Svc.ListBySubject(r.Context(), opts)
	if err != nil {
		WriteAppError(w, r, h.Logger, err)
		return
	}
	if jobs == nil {
		jobs = []*model.Job{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"jobs": jobs, "limit": opts.Limit, "offset": opts.Offset})
}
