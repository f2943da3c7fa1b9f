package jobrunner

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/adapters/queue"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/core"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/data/memstore"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/domain/model"
	apperrors "github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/errors"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/observability/statsd"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/service"
)

type runnerFixture struct {
	repo     *memstore.JobRepo
	jobs     *service.JobService
	pipeline *queue.MemoryQueue
	metrics  *statsd.Recorder
}

func newRunnerFixture(t *testing.T) *runnerFixture {
	t.Helper()
	f := &runnerFixture{
		repo:     memstore.NewJobRepo(nil),
		pipeline: queue.NewMemoryQueue(model.TopicPipeline),
		metrics:  statsd.NewRecorder(),
	}
	jobs, err := service.NewJobService(service.JobServiceOptions{
		Repo:   f.repo,
		Queues: core.NewQueueSet(f.pipeline, queue.NewMemoryQueue(model.TopicAnalytics)),
	})
	require.NoError(t, err)
	f.jobs = jobs
	return f
}

func (f *runnerFixture) submit(t *testing.T, subject string) *model.Job {
	t.Helper()
	payload, err := json.Marshal(model.RefineArtifactPayload{
		ArtifactKind: model.ArtifactKindValueProposition,
		Feedback:     []model.Feedback{{Section: "summary", Action: model.FeedbackRemove}},
	})
	require.NoError(t, err)
	job, err := f.jobs.Submit(context.Background(), &model.SubmitJobRequest{
		Kind:      model.JobKindRefineArtifact,
		SubjectID: subject,
		Payload:   payload,
	})
	require.NoError(t, err)
	return job
}

// start runs the runner in the background and returns a stop func that waits for it.
func (f *runnerFixture) start(t *testing.T, handler service.JobHandler) func() {
	t.Helper()
	runner, err := NewRunner(RunnerOptions{
		Jobs:        f.jobs,
		Queue:       f.pipeline,
		Handler:     handler,
		Concurrency: 2,
		CancelPoll:  5 * time.Millisecond,
		Metrics:     f.metrics,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()
	return func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("runner did not stop")
		}
	}
}

func (f *runnerFixture) waitStatus(t *testing.T, id string, want model.JobStatus) *model.Job {
	t.Helper()
	var job *model.Job
	require.Eventually(t, func() bool {
		var err error
		job, err = f.jobs.Status(context.Background(), id)
		return err == nil && job.Status == want
	}, 2*time.Second, 5*time.Millisecond)
	return job
}

func (f *runnerFixture) waitDrained(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		ready, inflight := f.pipeline.Len()
		return ready == 0 && inflight == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestNewRunner(t *testing.T) {
	f := newRunnerFixture(t)
	noop := func(context.Context, *model.Job) error { return nil }

	_, err := NewRunner(RunnerOptions{Queue: f.pipeline, Handler: noop})
	require.Error(t, err)
	_, err = NewRunner(RunnerOptions{Jobs: f.jobs, Handler: noop})
	require.Error(t, err)
	_, err = NewRunner(RunnerOptions{Jobs: f.jobs, Queue: f.pipeline})
	require.Error(t, err)

	r, err := NewRunner(RunnerOptions{Jobs: f.jobs, Queue: f.pipeline, Handler: noop})
	require.NoError(t, err)
	assert.Equal(t, 1, r.workers)
	assert.Equal(t, 2*time.Minute, r.lease)
}

func TestRunner_Run(t *testing.T) {
	t.Run("completes a successful job and acks it", func(t *testing.T) {
		f := newRunnerFixture(t)
		job := f.submit(t, "acme")

		var seen atomic.Int32
		stop := f.start(t, func(_ context.Context, j *model.Job) error {
			assert.Equal(t, job.ID, j.ID)
			assert.Equal(t, model.JobStatusProcessing, j.Status)
			seen.Add(1)
			return nil
		})
		defer stop()

		f.waitStatus(t, job.ID, model.JobStatusCompleted)
		f.waitDrained(t)
		assert.Equal(t, int32(1), seen.Load())
		assert.InDelta(t, 1, f.metrics.Sum("job.transition", map[string]string{
			"transition": "completed",
			"result":     "success",
		}), 0.001)
	})

	t.Run("records a handler error and acks", func(t *testing.T) {
		f := newRunnerFixture(t)
		job := f.submit(t, "acme")

		stop := f.start(t, func(context.Context, *model.Job) error {
			return apperrors.ValidationExhausted("extract", 3, nil)
		})
		defer stop()

		failed := f.waitStatus(t, job.ID, model.JobStatusFailed)
		require.NotNil(t, failed.Error)
		assert.Equal(t, string(apperrors.ErrCodeValidationExhausted), failed.Error.Kind)
		f.waitDrained(t)
	})

	t.Run("skips a job cancelled before start", func(t *testing.T) {
		f := newRunnerFixture(t)
		job := f.submit(t, "acme")
		require.NoError(t, f.jobs.Cancel(context.Background(), job.ID))

		var called atomic.Bool
		stop := f.start(t, func(context.Context, *model.Job) error {
			called.Store(true)
			return nil
		})
		defer stop()

		f.waitDrained(t)
		assert.False(t, called.Load())
		got, err := f.jobs.Status(context.Background(), job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusCancelled, got.Status)
	})

	t.Run("cancel stops a running job", func(t *testing.T) {
		f := newRunnerFixture(t)
		job := f.submit(t, "acme")

		started := make(chan struct{})
		stop := f.start(t, func(ctx context.Context, _ *model.Job) error {
			close(started)
			<-ctx.Done()
			return apperrors.Wrap(context.Cause(ctx), apperrors.ErrCodeCanceled, "run stopped")
		})
		defer stop()

		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatal("handler never started")
		}
		require.NoError(t, f.jobs.Cancel(context.Background(), job.ID))

		f.waitDrained(t)
		got, err := f.jobs.Status(context.Background(), job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusCancelled, got.Status)
		assert.Nil(t, got.Error)
	})

	t.Run("cancel stored by another process stops a running job", func(t *testing.T) {
		f := newRunnerFixture(t)
		job := f.submit(t, "acme")
		admin, err := service.NewJobService(service.JobServiceOptions{
			Repo:   f.repo,
			Queues: core.NewQueueSet(queue.NewMemoryQueue(model.TopicPipeline)),
		})
		require.NoError(t, err)

		started := make(chan struct{})
		stop := f.start(t, func(ctx context.Context, _ *model.Job) error {
			close(started)
			select {
			case <-ctx.Done():
				return apperrors.Wrap(context.Cause(ctx), apperrors.ErrCodeCanceled, "run stopped")
			case <-time.After(5 * time.Second):
				return nil
			}
		})
		defer stop()

		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatal("handler never started")
		}
		require.NoError(t, admin.Cancel(context.Background(), job.ID))

		f.waitDrained(t)
		got, err := f.jobs.Status(context.Background(), job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusCancelled, got.Status)
		assert.Eventually(t, func() bool {
			return f.metrics.Sum("job.transition", map[string]string{
				"transition": "cancelled",
				"result":     "noop",
			}) == 1
		}, 2*time.Second, 5*time.Millisecond)
	})

	t.Run("shutdown requeues the interrupted job", func(t *testing.T) {
		f := newRunnerFixture(t)
		job := f.submit(t, "acme")

		started := make(chan struct{})
		stop := f.start(t, func(ctx context.Context, _ *model.Job) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		})

		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatal("handler never started")
		}
		stop()

		ready, inflight := f.pipeline.Len()
		assert.Equal(t, 1, ready)
		assert.Zero(t, inflight)
		got, err := f.jobs.Status(context.Background(), job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusProcessing, got.Status)

		// The redelivery resumes the job that is still processing.
		stop = f.start(t, func(context.Context, *model.Job) error { return nil })
		defer stop()
		f.waitStatus(t, job.ID, model.JobStatusCompleted)
	})

	t.Run("acks a message whose job is gone", func(t *testing.T) {
		f := newRunnerFixture(t)
		require.NoError(t, f.pipeline.Enqueue(context.Background(), model.QueueMessage{
			JobID: "missing",
			Kind:  model.JobKindRefineArtifact,
		}))

		stop := f.start(t, func(context.Context, *model.Job) error {
			t.Error("handler must not run")
			return nil
		})
		defer stop()
		f.waitDrained(t)
	})
}

type heartbeatQueue struct {
	*queue.MemoryQueue
	beats atomic.Int32
}

func (q *heartbeatQueue) Heartbeat(context.Context, string, time.Duration) (bool, error) {
	q.beats.Add(1)
	return true, nil
}

func TestRunner_Heartbeat(t *testing.T) {
	f := newRunnerFixture(t)
	hq := &heartbeatQueue{MemoryQueue: f.pipeline}
	job := f.submit(t, "acme")

	runner, err := NewRunner(RunnerOptions{
		Jobs:  f.jobs,
		Queue: hq,
		Lease: 30 * time.Millisecond,
		Handler: func(context.Context, *model.Job) error {
			time.Sleep(80 * time.Millisecond)
			return nil
		},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = runner.Run(ctx) }()

	f.waitStatus(t, job.ID, model.JobStatusCompleted)
	assert.GreaterOrEqual(t, hq.beats.Load(), int32(2))
}
