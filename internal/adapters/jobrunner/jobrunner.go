// Package jobrunner pulls job references off a task queue and executes them.
package jobrunner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/core"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/domain/model"
	apperrors "github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/errors"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/observability/metrics"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/observability/statsd"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/service"
)

// dequeueBackoff is the pause after a failed dequeue before trying again.
const dequeueBackoff = time.Second

// RunnerOptions configures the job runner adapter.
type RunnerOptions struct {
	Jobs    *service.JobService // Required: lifecycle transitions
	Queue   core.TaskQueue      // Required: topic to consume
	Handler service.JobHandler  // Required: executes one job

	// Job processing settings
	Concurrency int           // number of worker goroutines; defaults to 1
	Lease       time.Duration // reservation lease renewed by heartbeats; defaults to 2m
	CancelPoll  time.Duration // how often a running job's stored status is checked; defaults to 1s

	Logger  *slog.Logger
	Metrics statsd.Sink
}

// Runner pulls jobs for one topic and executes them with a fixed number of workers.
type Runner struct {
	jobs    *service.JobService
	queue   core.TaskQueue
	handler service.JobHandler
	workers int
	lease   time.Duration
	poll    time.Duration
	logger  *slog.Logger
	metrics statsd.Sink
}

// NewRunner constructs a job runner for a single queue topic.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	switch {
	case opts.Jobs == nil:
		return nil, errors.New("JobService is required")
	case opts.Queue == nil:
		return nil, errors.New("TaskQueue is required")
	case opts.Handler == nil:
		return nil, errors.New("job handler is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	workers := opts.Concurrency
	if workers <= 0 {
		workers = 1
	}
	lease := opts.Lease
	if lease <= 0 {
		lease = 2 * time.Minute
	}
	poll := opts.CancelPoll
	if poll <= 0 {
		poll = time.Second
	}

	return &Runner{
		jobs:    opts.Jobs,
		queue:   opts.Queue,
		handler: opts.Handler,
		workers: workers,
		lease:   lease,
		poll:    poll,
		logger:  logger.With("component", "job_runner", "topic", opts.Queue.Topic()),
		metrics: opts.Metrics,
	}, nil
}

// Run starts worker goroutines and processes jobs until the context is cancelled.
// Jobs interrupted by shutdown are released back to the queue.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting job runner", "workers", r.workers, "lease", r.lease)

	var wg sync.WaitGroup
	for range r.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.workerLoop(ctx)
		}()
	}
	wg.Wait()

	r.logger.InfoContext(ctx, "job runner stopped")
	if errors.Is(ctx.Err(), context.Canceled) {
		return nil
	}
	return ctx.Err()
}

func (r *Runner) workerLoop(ctx context.Context) {
	for ctx.Err() == nil {
		msg, err := r.queue.Dequeue(ctx)
		switch {
		case err == nil:
			r.processMessage(ctx, msg)
		case ctx.Err() != nil:
			return
		case errors.Is(err, model.ErrNoJobsAvailable):
		default:
			r.logger.ErrorContext(ctx, "dequeue failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(dequeueBackoff):
			}
		}
	}
}

// processMessage runs one delivery. Bookkeeping after the handler uses a context detached
// from shutdown so the outcome is recorded even while the process is stopping.
func (r *Runner) processMessage(ctx context.Context, msg *model.QueueMessage) {
	start := time.Now()
	bg := context.WithoutCancel(ctx)
	emit := func(transition, result string, err error) {
		metrics.EmitJobLifecycle(r.metrics, metrics.JobMetric{
			JobKind:    string(msg.Kind),
			Transition: transition,
			Result:     result,
			Duration:   time.Since(start),
			Err:        err,
		})
	}

	job, run, err := r.claim(ctx, msg)
	if err != nil {
		r.logger.ErrorContext(ctx, "claim job", "job_id", msg.JobID, "error", err)
		r.release(bg, msg.JobID, true)
		emit("claimed", metrics.ResultError, err)
		return
	}
	if !run {
		r.ack(bg, msg.JobID)
		emit("skipped", metrics.ResultNoop, nil)
		return
	}

	stopHeartbeat := r.startHeartbeat(ctx, job.ID)
	runCtx, releaseRun := r.jobs.Watch(ctx, job.ID, r.poll)
	handleErr := r.handler(runCtx, job)
	releaseRun()
	stopHeartbeat()

	switch {
	case handleErr == nil:
		completed, err := r.jobs.Complete(bg, job.ID)
		if err != nil {
			r.logger.ErrorContext(ctx, "complete job error", "job_id", job.ID, "error", err)
			r.release(bg, job.ID, true)
			emit("completed", metrics.ResultError, err)
			return
		}
		r.ack(bg, job.ID)
		if !completed {
			// Cancelled after the last commit; the job stays cancelled.
			emit("cancelled", metrics.ResultNoop, nil)
			return
		}
		emit("completed", metrics.ResultSuccess, nil)

	case ctx.Err() != nil && interrupted(handleErr):
		// Shutdown, not a job cancel: leave the job processing for the next delivery.
		r.logger.WarnContext(bg, "job interrupted by shutdown", "job_id", job.ID)
		r.release(bg, job.ID, true)
		emit("interrupted", metrics.ResultNoop, handleErr)

	default:
		failed, err := r.jobs.Fail(bg, job.ID, handleErr)
		if err != nil {
			r.logger.ErrorContext(ctx, "fail job error", "job_id", job.ID, "error", err, "original_error", handleErr)
			r.release(bg, job.ID, true)
			emit("failed", metrics.ResultError, err)
			return
		}
		r.ack(bg, job.ID)
		if !failed {
			emit("cancelled", metrics.ResultNoop, handleErr)
			return
		}
		r.logger.WarnContext(bg, "job failed",
			"job_id", job.ID,
			"kind", job.Kind,
			"subject_id", job.SubjectID,
			"error", handleErr,
		)
		emit("failed", metrics.ResultError, handleErr)
	}
}

// claim loads the job for msg and decides whether this delivery should run it.
// A pending job is moved to processing. A processing job only runs again on redelivery,
// after the previous holder lost its reservation.
func (r *Runner) claim(ctx context.Context, msg *model.QueueMessage) (*model.Job, bool, error) {
	job, err := r.jobs.Status(ctx, msg.JobID)
	if apperrors.IsNotFound(err) {
		r.logger.WarnContext(ctx, "queued job no longer exists", "job_id", msg.JobID)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	switch job.Status {
	case model.JobStatusPending:
		ok, err := r.jobs.Begin(ctx, job.ID)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			// Cancelled between dequeue and begin.
			return nil, false, nil
		}
		job.Status = model.JobStatusProcessing
		return job, true, nil
	case model.JobStatusProcessing:
		if msg.Deliveries > 1 {
			r.logger.InfoContext(ctx, "resuming redelivered job", "job_id", job.ID, "deliveries", msg.Deliveries)
			return job, true, nil
		}
		return nil, false, nil
	default:
		r.logger.DebugContext(ctx, "skipping terminal job", "job_id", job.ID, "status", job.Status)
		return nil, false, nil
	}
}

// startHeartbeat renews the reservation every third of the lease when the queue supports it.
func (r *Runner) startHeartbeat(ctx context.Context, jobID string) func() {
	hb, ok := r.queue.(core.QueueHeartbeater)
	if !ok {
		return func() {}
	}
	hbCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(r.lease / 3)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				extended, err := hb.Heartbeat(hbCtx, jobID, r.lease)
				switch {
				case err != nil && hbCtx.Err() == nil:
					r.logger.WarnContext(hbCtx, "heartbeat failed", "job_id", jobID, "error", err)
				case err == nil && !extended:
					r.logger.WarnContext(hbCtx, "reservation lost", "job_id", jobID)
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func (r *Runner) ack(ctx context.Context, jobID string) {
	if err := r.queue.Ack(ctx, jobID); err != nil {
		r.logger.ErrorContext(ctx, "ack job", "job_id", jobID, "error", err)
	}
}

func (r *Runner) release(ctx context.Context, jobID string, requeue bool) {
	if err := r.queue.Nack(ctx, jobID, requeue); err != nil {
		r.logger.ErrorContext(ctx, "nack job", "job_id", jobID, "error", fmt.Errorf("requeue=%t: %w", requeue, err))
	}
}

func interrupted(err error) bool {
	return apperrors.IsCanceled(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
