// Package model defines the core data types shared by the triton orchestrator.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// JobKind identifies the unit of work a job performs.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type JobKind string

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobKindDeriveArtifact turns client material into a value proposition.
	JobKindDeriveArtifact JobKind = "derive-artifact"
	// JobKindRefineArtifact produces the next version of an artifact from reviewer feedback.
	JobKindRefineArtifact JobKind = "refine-artifact"
	// JobKindGenerateTemplates derives dashboard templates from an approved value proposition.
	JobKindGenerateTemplates JobKind = "generate-templates"
	// JobKindGenerateAnalytics runs the fan-out query batch and writes a snapshot.
	JobKindGenerateAnalytics JobKind = "generate-analytics"

	// JobStatusPending indicates a job is waiting for a worker.
	JobStatusPending JobStatus = "pending"
	// JobStatusProcessing indicates a worker is executing the job.
	JobStatusProcessing JobStatus = "processing"
	// JobStatusCompleted indicates a job finished successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates a job ended with a recorded error.
	JobStatusFailed JobStatus = "failed"
	// JobStatusCancelled indicates a job was stopped on request.
	JobStatusCancelled JobStatus = "cancelled"
)

// ErrNoJobsAvailable is returned when a non-blocking dequeue finds nothing ready.
var ErrNoJobsAvailable = errors.New("no jobs available")

// AllJobKinds lists every supported kind in a stable order.
func AllJobKinds() []JobKind {
	return []JobKind{
		JobKindDeriveArtifact,
		JobKindRefineArtifact,
		JobKindGenerateTemplates,
		JobKindGenerateAnalytics,
	}
}

// UnmarshalText implements encoding.TextUnmarshaler for JobKind to allow env and flag parsing.
func (k *JobKind) UnmarshalText(text []byte) error {
	v := JobKind(strings.ToLower(strings.TrimSpace(string(text))))
	if v.Valid() {
		*k = v
		return nil
	}
	return fmt.Errorf("invalid JobKind: %q", v)
}

// Valid returns true if the JobKind is known.
func (k JobKind) Valid() bool {
	switch k {
	case JobKindDeriveArtifact, JobKindRefineArtifact, JobKindGenerateTemplates, JobKindGenerateAnalytics:
		return true
	}
	return false
}

// Valid returns true if the JobStatus is known.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed from s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// InFlight reports whether s blocks another submission for the same (kind, subject).
func (s JobStatus) InFlight() bool {
	return s == JobStatusPending || s == JobStatusProcessing
}

// JobProgress reports which stage a job is in and how far along it is.
type JobProgress struct {
	Stage   string `json:"stage"`
	Percent int    `json:"percent"`
}

// JobError is the terminal error recorded on a failed job.
type JobError struct {
	Kind       string      `json:"kind"`
	Message    string      `json:"message"`
	Step       string      `json:"step,omitempty"`
	TaskIDs    []string    `json:"task_ids,omitempty"`
	Violations []Violation `json:"violations,omitempty"`
}

// Job is the externally visible unit of work.
type Job struct {
	ID             string          `json:"id"                     db:"id"`
	Kind           JobKind         `json:"kind"                   db:"kind"`
	SubjectID      string          `json:"subject_id"             db:"subject_id"`
	Status         JobStatus       `json:"status"                 db:"status"`
	Progress       JobProgress     `json:"progress"               db:"progress"`
	Error          *JobError       `json:"error,omitempty"        db:"error"`
	Payload        json.RawMessage `json:"payload,omitempty"      db:"payload"`
	IdempotencyKey string          `json:"idempotency_key"        db:"idempotency_key"`
	Run            *PipelineRun    `json:"run,omitempty"          db:"run"`
	CreatedAt      time.Time       `json:"created_at"             db:"created_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty"   db:"started_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
	UpdatedAt      time.Time       `json:"updated_at"             db:"updated_at"`
}

// SubmitJobRequest is the input to JobService.Submit.
type SubmitJobRequest struct {
	Kind      JobKind         `json:"kind"       validate:"required"`
	SubjectID string          `json:"subject_id" validate:"required,max=255"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Validate checks the request shape.
func (r *SubmitJobRequest) Validate() error {
	validate := validator.New()
	if err := validate.Struct(r); err != nil {
		return err
	}
	if !r.Kind.Valid() {
		return fmt.Errorf("invalid job kind %q", r.Kind)
	}
	if len(r.Payload) > 0 && !json.Valid(r.Payload) {
		return errors.New("payload must be valid JSON")
	}
	return nil
}

// CreateJobParams is what the repository persists for a new job.
type CreateJobParams struct {
	Kind           JobKind
	SubjectID      string
	Payload        json.RawMessage
	IdempotencyKey string
}

// JobListOptions groups parameters for listing a subject's jobs.
type JobListOptions struct {
	SubjectID string
	Kind      *JobKind
	Status    *JobStatus
	Limit     int
	Offset    int
}

// JobTransition describes a guarded status change applied by the repository.
// The update only happens when the current status is one of From.
type JobTransition struct {
	ID   string
	From []JobStatus
	To   JobStatus
	// Error is stored when To is failed.
	Error *JobError
}

// ReapParams groups parameters for deleting old terminal jobs.
type ReapParams struct {
	Status    JobStatus
	OlderThan time.Time
	BatchSize int
}
