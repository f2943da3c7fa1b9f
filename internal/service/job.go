package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/core"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/data"
	domainjob "github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/domain/job"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/domain/model"
	apperrors "github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/errors"
	obserrors "github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/observability/errors"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/observability/notify"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/service/failurenotifier"
)

// submitRetries bounds how often Submit re-reads the active job after losing an insert race.
const submitRetries = 3

// CancelRegistry tracks the cancel functions of runs executing in this process.
type CancelRegistry struct {
	mu      sync.Mutex
	cancels map[string]context.CancelCauseFunc
}

// ErrJobCancelled is the cancellation cause set on a run's context by Cancel.
var ErrJobCancelled = errors.New("job cancelled")

// NewCancelRegistry returns an empty registry.
func NewCancelRegistry() *CancelRegistry {
	return &CancelRegistry{cancels: make(map[string]context.CancelCauseFunc)}
}

// Register derives a context for jobID that Cancel can stop. The release func must be
// called when the run ends.
func (r *CancelRegistry) Register(ctx context.Context, jobID string) (context.Context, func()) {
	runCtx, cancel := context.WithCancelCause(ctx)
	r.mu.Lock()
	r.cancels[jobID] = cancel
	r.mu.Unlock()
	return runCtx, func() {
		r.mu.Lock()
		delete(r.cancels, jobID)
		r.mu.Unlock()
		cancel(nil)
	}
}

// Cancel stops the run for jobID and reports whether one was registered.
func (r *CancelRegistry) Cancel(jobID string) bool {
	r.mu.Lock()
	cancel, ok := r.cancels[jobID]
	r.mu.Unlock()
	if ok {
		cancel(ErrJobCancelled)
	}
	return ok
}

// JobServiceOptions groups dependencies for JobService.
type JobServiceOptions struct {
	Repo            core.JobRepository       // Required: job repository
	Queues          core.QueueSet            // Required: queues by topic
	Cancels         *CancelRegistry          // Optional: in-process run cancellation
	TimeProvider    data.TimeProvider        // Optional: clock (default real time)
	Logger          *slog.Logger             // Optional: structured logger
	FailureNotifier *failurenotifier.Service // Optional: failure notification fan-out
}

// JobService owns the job lifecycle: idempotent submission, status reads, cancellation,
// and the guarded transitions workers apply while running a job.
type JobService struct {
	repo            core.JobRepository
	queues          core.QueueSet
	cancels         *CancelRegistry
	clock           data.TimeProvider
	logger          *slog.Logger
	failureNotifier *failurenotifier.Service
}

// NewJobService constructs a new JobService.
func NewJobService(opts JobServiceOptions) (*JobService, error) {
	if opts.Repo == nil {
		return nil, errors.New("JobRepository is required")
	}
	if len(opts.Queues) == 0 {
		return nil, errors.New("at least one TaskQueue is required")
	}
	cancels := opts.Cancels
	if cancels == nil {
		cancels = NewCancelRegistry()
	}
	clock := opts.TimeProvider
	if clock == nil {
		clock = &data.RealTimeProvider{}
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "job_service")
	}

	return &JobService{
		repo:            opts.Repo,
		queues:          opts.Queues,
		cancels:         cancels,
		clock:           clock,
		logger:          logger,
		failureNotifier: opts.FailureNotifier,
	}, nil
}

// MustNewJobService constructs a new JobService and panics on error.
// Use this when you're certain the options are valid (e.g., in main.go).
func MustNewJobService(opts JobServiceOptions) *JobService {
	svc, err := NewJobService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create JobService: %v", err))
	}
	return svc
}

// Cancels exposes the registry workers register runs with.
func (s *JobService) Cancels() *CancelRegistry { return s.cancels }

// Submit creates and enqueues a job. Resubmitting identical parameters while a job for the
// same (kind, subject) is in flight returns that job; different parameters are rejected with
// JobAlreadyInFlight.
func (s *JobService) Submit(ctx context.Context, req *model.SubmitJobRequest) (*model.Job, error) {
	if req == nil {
		return nil, apperrors.Validationf("job request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid job request")
	}
	payload := req.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	key := domainjob.IdempotencyKey(req.Kind, req.SubjectID, payload)

	for range submitRetries {
		existing, err := s.repo.FindActive(ctx, req.Kind, req.SubjectID)
		switch {
		case err == nil:
			if existing.IdempotencyKey == key {
				s.logDebug(ctx, "idempotent resubmission", existing)
				return existing, nil
			}
			return nil, apperrors.JobAlreadyInFlight(existing.ID)
		case !apperrors.IsNotFound(err):
			return nil, fmt.Errorf("find active job: %w", err)
		}

		job, err := s.repo.Create(ctx, model.CreateJobParams{
			Kind:           req.Kind,
			SubjectID:      req.SubjectID,
			Payload:        payload,
			IdempotencyKey: key,
		})
		if apperrors.IsConflict(err) {
			// Another submitter won the insert; re-read what is now active.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create job: %w", err)
		}

		if err := s.enqueue(ctx, job); err != nil {
			return nil, err
		}
		if s.logger != nil {
			s.logger.InfoContext(ctx, "job submitted",
				"job_id", job.ID,
				"kind", job.Kind,
				"subject_id", job.SubjectID,
			)
		}
		return job, nil
	}
	return nil, apperrors.Conflictf("could not submit %s for %s: active job changed concurrently", req.Kind, req.SubjectID)
}

func (s *JobService) enqueue(ctx context.Context, job *model.Job) error {
	q, err := s.queues.For(job.Kind)
	if err == nil {
		err = q.Enqueue(ctx, model.QueueMessage{
			JobID:      job.ID,
			Kind:       job.Kind,
			SubjectID:  job.SubjectID,
			EnqueuedAt: s.clock.Now().UTC(),
		})
	}
	if err == nil {
		return nil
	}

	jobErr := &model.JobError{Kind: string(apperrors.ErrCodeInternal), Message: "enqueue failed: " + err.Error()}
	tr, trErr := domainjob.Transition(job.ID, model.JobStatusFailed, jobErr)
	if trErr == nil {
		tr.From = []model.JobStatus{model.JobStatusPending}
		if _, failErr := s.repo.Transition(ctx, tr); failErr != nil && s.logger != nil {
			s.logger.ErrorContext(ctx, "mark unenqueued job failed", "job_id", job.ID, "error", failErr)
		}
	}
	return fmt.Errorf("enqueue job %s: %w", job.ID, err)
}

// Status returns the job record.
func (s *JobService) Status(ctx context.Context, id string) (*model.Job, error) {
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ListBySubject returns a subject's jobs, newest first.
func (s *JobService) ListBySubject(ctx context.Context, opts model.JobListOptions) ([]*model.Job, error) {
	if opts.SubjectID == "" {
		return nil, apperrors.ValidationField("subject_id", "subject_id is required")
	}
	jobs, err := s.repo.ListBySubject(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// Cancel moves a pending or processing job to cancelled and stops its in-process run.
// Committed artifacts and snapshots are left in place.
func (s *JobService) Cancel(ctx context.Context, id string) error {
	job, err := s.Status(ctx, id)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return apperrors.AlreadyTerminal(id, job.Status)
	}

	tr, err := domainjob.Transition(id, model.JobStatusCancelled, nil)
	if err != nil {
		return err
	}
	ok, err := s.repo.Transition(ctx, tr)
	if err != nil {
		return fmt.Errorf("cancel job: %w", err)
	}
	if !ok {
		// Lost a race with the worker; report the state it reached.
		current, getErr := s.Status(ctx, id)
		if getErr != nil {
			return getErr
		}
		return apperrors.AlreadyTerminal(id, current.Status)
	}

	signalled := s.cancels.Cancel(id)
	if s.logger != nil {
		s.logger.InfoContext(ctx, "job cancelled",
			"job_id", id,
			"kind", job.Kind,
			"previous_status", job.Status,
			"run_signalled", signalled,
		)
	}
	return nil
}

// IsCancelled reports whether the stored status of id is cancelled.
func (s *JobService) IsCancelled(ctx context.Context, id string) (bool, error) {
	job, err := s.Status(ctx, id)
	if err != nil {
		return false, err
	}
	return job.Status == model.JobStatusCancelled, nil
}

// Watch registers a run for id and polls the stored status every interval. The run context
// is cancelled when the job is cancelled, whether by this process or by another one sharing
// the repository. A non-positive interval disables polling. The release func stops polling
// and must be called when the run ends.
func (s *JobService) Watch(ctx context.Context, id string, interval time.Duration) (context.Context, func()) {
	runCtx, release := s.cancels.Register(ctx, id)
	if interval <= 0 {
		return runCtx, release
	}

	pollCtx, stop := context.WithCancel(runCtx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-pollCtx.Done():
				return
			case <-ticker.C:
				cancelled, err := s.IsCancelled(pollCtx, id)
				switch {
				case err != nil:
					if pollCtx.Err() == nil && s.logger != nil {
						s.logger.WarnContext(pollCtx, "cancel poll failed", "job_id", id, "error", err)
					}
				case cancelled:
					if s.cancels.Cancel(id) && s.logger != nil {
						s.logger.InfoContext(pollCtx, "stored cancel observed", "job_id", id)
					}
					return
				}
			}
		}
	}()

	return runCtx, func() {
		stop()
		<-done
		release()
	}
}

// Begin moves a pending job to processing. It returns false when the job is no longer
// pending, for example because it was cancelled before a worker picked it up.
func (s *JobService) Begin(ctx context.Context, id string) (bool, error) {
	return s.transition(ctx, id, model.JobStatusProcessing, nil)
}

// Complete moves a processing job to completed.
func (s *JobService) Complete(ctx context.Context, id string) (bool, error) {
	return s.transition(ctx, id, model.JobStatusCompleted, nil)
}

// Fail records cause on the job and moves it to failed. It returns false when the job had
// already left processing (a concurrent cancel wins).
func (s *JobService) Fail(ctx context.Context, id string, cause error) (bool, error) {
	jobErr := apperrors.ToJobError(cause)
	if jobErr == nil {
		return false, errors.New("fail requires an error")
	}
	ok, err := s.transition(ctx, id, model.JobStatusFailed, jobErr)
	if err != nil || !ok {
		return ok, err
	}
	s.notifyFailure(ctx, id, cause, jobErr)
	return true, nil
}

// ReportProgress stores the stage and percent of a processing job.
func (s *JobService) ReportProgress(ctx context.Context, id, stage string, percent int) error {
	if err := s.repo.UpdateProgress(ctx, id, model.JobProgress{Stage: stage, Percent: percent}); err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return nil
}

// RecordRun stores the pipeline run record on the job.
func (s *JobService) RecordRun(ctx context.Context, id string, run *model.PipelineRun) error {
	if run == nil {
		return nil
	}
	if err := s.repo.SaveRun(ctx, id, run); err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	return nil
}

func (s *JobService) transition(
	ctx context.Context,
	id string,
	to model.JobStatus,
	jobErr *model.JobError,
) (bool, error) {
	tr, err := domainjob.Transition(id, to, jobErr)
	if err != nil {
		return false, err
	}
	if to == model.JobStatusFailed {
		// Workers only fail jobs they are running.
		tr.From = []model.JobStatus{model.JobStatusProcessing}
	}
	ok, err := s.repo.Transition(ctx, tr)
	if err != nil {
		return false, fmt.Errorf("transition job %s to %s: %w", id, to, err)
	}
	if s.logger != nil {
		s.logger.DebugContext(ctx, "job transition", "job_id", id, "to", to, "applied", ok)
	}
	return ok, nil
}

func (s *JobService) notifyFailure(ctx context.Context, id string, cause error, jobErr *model.JobError) {
	if !s.failureNotifier.Enabled() {
		return
	}
	payload := notify.JobFailurePayload{
		JobID:      id,
		Step:       jobErr.Step,
		Error:      jobErr.Message,
		ErrorClass: jobErr.Kind,
		OccurredAt: s.clock.Now().UTC(),
	}
	if job, err := s.repo.GetByID(ctx, id); err == nil {
		payload.JobKind = string(job.Kind)
		payload.SubjectID = job.SubjectID
	}
	if len(jobErr.TaskIDs) > 0 || len(jobErr.Violations) > 0 {
		payload.Metadata = map[string]string{
			"failed_tasks": fmt.Sprint(len(jobErr.TaskIDs)),
			"violations":   fmt.Sprint(len(jobErr.Violations)),
			"cause_type":   obserrors.Classify(cause),
		}
	}
	s.failureNotifier.NotifyJobFailure(ctx, payload)
}

func (s *JobService) logDebug(ctx context.Context, msg string, job *model.Job) {
	if s.logger == nil {
		return
	}
	s.logger.DebugContext(ctx, msg, "job_id", job.ID, "kind", job.Kind, "subject_id", job.SubjectID, "status", job.Status)
}
