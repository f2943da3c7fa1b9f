package memstore

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/core"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/data"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/domain/model"
	apperrors "github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/errors"
)

const defaultListLimit = 50

type activeKey struct {
	kind    model.JobKind
	subject string
}

// JobRepo is an in-memory JobRepository. A second in-flight job for the same
// (kind, subject) is rejected with Conflict, like the partial unique index in Postgres.
type JobRepo struct {
	mu     sync.Mutex
	clock  data.TimeProvider
	jobs   map[string]*model.Job
	active map[activeKey]string
}

// NewJobRepo creates an empty JobRepo.
func NewJobRepo(tp data.TimeProvider) *JobRepo {
	return &JobRepo{
		clock:  resolveClock(tp),
		jobs:   make(map[string]*model.Job),
		active: make(map[activeKey]string),
	}
}

// Create inserts a pending job.
func (r *JobRepo) Create(_ context.Context, params model.CreateJobParams) (*model.Job, error) {
	if !params.Kind.Valid() {
		return nil, apperrors.ValidationField("kind", fmt.Sprintf("invalid job kind %q", params.Kind))
	}
	if strings.TrimSpace(params.SubjectID) == "" {
		return nil, apperrors.ValidationField("subject_id", "subject_id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := activeKey{kind: params.Kind, subject: params.SubjectID}
	if _, ok := r.active[key]; ok {
		return nil, apperrors.Conflictf("a %s job for %s is already in flight", params.Kind, params.SubjectID)
	}

	payload := cloneRaw(params.Payload)
	if len(payload) == 0 {
		payload = []byte(`{}`)
	}
	now := r.clock.Now().UTC()
	job := &model.Job{
		ID:             uuid.NewString(),
		Kind:           params.Kind,
		SubjectID:      params.SubjectID,
		Status:         model.JobStatusPending,
		Payload:        payload,
		IdempotencyKey: params.IdempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	r.jobs[job.ID] = job
	r.active[key] = job.ID
	return cloneJob(job), nil
}

// GetByID retrieves a job by its ID.
func (r *JobRepo) GetByID(_ context.Context, id string) (*model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, apperrors.NotFoundf("job %s not found", id)
	}
	return cloneJob(job), nil
}

// FindActive returns the pending or processing job for (kind, subject).
func (r *JobRepo) FindActive(_ context.Context, kind model.JobKind, subjectID string) (*model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.active[activeKey{kind: kind, subject: subjectID}]
	if !ok {
		return nil, apperrors.NotFoundf("no active %s job for %s", kind, subjectID)
	}
	return cloneJob(r.jobs[id]), nil
}

// ListBySubject lists a subject's jobs, newest first.
func (r *JobRepo) ListBySubject(_ context.Context, opts model.JobListOptions) ([]*model.Job, error) {
	r.mu.Lock()
	var matched []*model.Job
	for _, job := range r.jobs {
		if job.SubjectID != opts.SubjectID {
			continue
		}
		if opts.Kind != nil && job.Kind != *opts.Kind {
			continue
		}
		if opts.Status != nil && job.Status != *opts.Status {
			continue
		}
		matched = append(matched, cloneJob(job))
	}
	r.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	offset := max(opts.Offset, 0)
	if offset >= len(matched) {
		return nil, nil
	}
	end := min(offset+limit, len(matched))
	return matched[offset:end], nil
}

// Transition applies a guarded status change.
func (r *JobRepo) Transition(_ context.Context, tr model.JobTransition) (bool, error) {
	if !tr.To.Valid() || len(tr.From) == 0 {
		return false, fmt.Errorf("invalid transition to %q", tr.To)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[tr.ID]
	if !ok || !slices.Contains(tr.From, job.Status) {
		return false, nil
	}
	now := r.clock.Now().UTC()
	job.Status = tr.To
	job.Error = nil
	if tr.Error != nil {
		e := *tr.Error
		job.Error = &e
	}
	if tr.To == model.JobStatusProcessing && job.StartedAt == nil {
		job.StartedAt = &now
	}
	if tr.To.Terminal() {
		job.CompletedAt = &now
		delete(r.active, activeKey{kind: job.Kind, subject: job.SubjectID})
	}
	job.UpdatedAt = now
	return true, nil
}

// UpdateProgress records the stage and percent of a processing job.
func (r *JobRepo) UpdateProgress(_ context.Context, id string, progress model.JobProgress) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok || job.Status != model.JobStatusProcessing {
		return nil
	}
	job.Progress = model.JobProgress{Stage: progress.Stage, Percent: min(max(progress.Percent, 0), 100)}
	job.UpdatedAt = r.clock.Now().UTC()
	return nil
}

// SaveRun stores the pipeline run record on the job.
func (r *JobRepo) SaveRun(_ context.Context, id string, run *model.PipelineRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return apperrors.NotFoundf("job %s not found", id)
	}
	job.Run = nil
	if run != nil {
		job.Run = cloneRun(run)
	}
	job.UpdatedAt = r.clock.Now().UTC()
	return nil
}

// FailStaleProcessing marks processing jobs not updated within maxAge as failed.
func (r *JobRepo) FailStaleProcessing(_ context.Context, maxAge time.Duration, batchSize int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Now().UTC()
	cutoff := now.Add(-maxAge)
	var n int64
	for _, job := range r.jobs {
		if batchSize > 0 && n >= int64(batchSize) {
			break
		}
		if job.Status != model.JobStatusProcessing || !job.UpdatedAt.Before(cutoff) {
			continue
		}
		job.Status = model.JobStatusFailed
		job.Error = &model.JobError{Kind: string(apperrors.ErrCodeInternal), Message: "worker lease lost"}
		job.CompletedAt = &now
		job.UpdatedAt = now
		delete(r.active, activeKey{kind: job.Kind, subject: job.SubjectID})
		n++
	}
	return n, nil
}

// DeleteOldJobs deletes terminal jobs of one status completed before params.OlderThan.
func (r *JobRepo) DeleteOldJobs(_ context.Context, params model.ReapParams) (int64, error) {
	if !params.Status.Terminal() {
		return 0, fmt.Errorf("refusing to reap non-terminal status %s", params.Status)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, job := range r.jobs {
		if params.BatchSize > 0 && n >= int64(params.BatchSize) {
			break
		}
		if job.Status != params.Status || job.CompletedAt == nil || !job.CompletedAt.Before(params.OlderThan) {
			continue
		}
		delete(r.jobs, id)
		n++
	}
	return n, nil
}

var (
	_ core.JobRepository    = (*JobRepo)(nil)
	_ core.ReaperRepository = (*JobRepo)(nil)
)
