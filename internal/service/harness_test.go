package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/adapters/fixtureagent"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/adapters/queue"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/core"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/data"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/data/memstore"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/domain/model"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/domain/pipeline"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/observability/statsd"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/schema"
)

const (
	extractOutput  = `{"claims":[{"text":"Cuts onboarding time by 40%","source":"deck.pdf"}],"audiences":["HR leaders"]}`
	researchOutput = `{"findings":[{"summary":"Leader in mid-market HR tooling","source_domain":"acme.com"}]}`
	vpOutput       = `{"headline":"Onboard in days, not weeks","summary":"Acme automates onboarding.",` +
		`"pillars":[{"title":"Speed","description":"Faster onboarding","evidence":["40% faster"]}]}`
	templatesOutput = `{"templates":[` +
		`{"id":"speed","title":"Speed","pillar":"Speed","widgets":[` +
		`{"id":"hires","title":"New hires","chart":"kpi","query":{"metric":"hires","aggregation":"count"}},` +
		`{"id":"ramp","title":"Ramp time","chart":"line","query":{"metric":"ramp_days","aggregation":"avg","group_by":["month"]}}]},` +
		`{"id":"cost","title":"Cost","widgets":[` +
		`{"id":"spend","title":"Spend","chart":"bar","query":{"metric":"spend","aggregation":"sum"}},` +
		`{"id":"savings","title":"Savings","chart":"kpi","query":{"metric":"savings","aggregation":"sum"}}]}]}`
)

// engineFunc adapts a function to core.QueryEngine.
type engineFunc func(ctx context.Context, req core.QueryRequest) ([]map[string]any, error)

func (f engineFunc) RunQuery(ctx context.Context, req core.QueryRequest) ([]map[string]any, error) {
	return f(ctx, req)
}

func constantEngine() core.QueryEngine {
	return engineFunc(func(_ context.Context, req core.QueryRequest) ([]map[string]any, error) {
		return []map[string]any{{"metric": req.Spec.Metric, "value": 42}}, nil
	})
}

type harnessOptions struct {
	agent           core.AgentInvoker
	engine          core.QueryEngine
	refinementLimit int
	threshold       float64
	maxAttempts     int
	concurrency     int
}

// harness wires every service on the in-memory backends.
type harness struct {
	clock      *data.FixedTimeProvider
	jobRepo    *memstore.JobRepo
	cache      *memstore.Cache
	queues     map[model.QueueTopic]*queue.MemoryQueue
	metrics    *statsd.Recorder
	jobs       *JobService
	artifacts  *ArtifactService
	executor   *PipelineExecutor
	fanout     *FanoutExecutor
	snapshots  *SnapshotService
	orch       *Orchestrator
	validator  *schema.Validator
	definition *pipeline.Definition
}

func newHarness(t *testing.T, opts harnessOptions) *harness {
	t.Helper()
	if opts.agent == nil {
		opts.agent = fixtureagent.New(nil)
	}
	if opts.engine == nil {
		opts.engine = constantEngine()
	}
	if opts.refinementLimit == 0 {
		opts.refinementLimit = 3
	}
	if opts.maxAttempts == 0 {
		opts.maxAttempts = 3
	}
	if opts.concurrency == 0 {
		opts.concurrency = 2
	}

	h := &harness{
		clock:   data.NewFixedTimeProvider(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)),
		metrics: statsd.NewRecorder(),
	}
	h.jobRepo = memstore.NewJobRepo(h.clock)
	h.cache = memstore.NewCache(h.clock)
	h.queues = map[model.QueueTopic]*queue.MemoryQueue{
		model.TopicPipeline:  queue.NewMemoryQueue(model.TopicPipeline),
		model.TopicAnalytics: queue.NewMemoryQueue(model.TopicAnalytics),
	}

	var err error
	h.validator, err = schema.New()
	require.NoError(t, err)
	h.definition, err = pipeline.Default()
	require.NoError(t, err)

	h.jobs, err = NewJobService(JobServiceOptions{
		Repo:         h.jobRepo,
		Queues:       core.NewQueueSet(h.queues[model.TopicPipeline], h.queues[model.TopicAnalytics]),
		TimeProvider: h.clock,
	})
	require.NoError(t, err)

	h.artifacts, err = NewArtifactService(ArtifactServiceOptions{
		Repo:            memstore.NewArtifactRepo(h.clock),
		Validator:       h.validator,
		RefinementLimit: opts.refinementLimit,
		TimeProvider:    h.clock,
	})
	require.NoError(t, err)

	retry, err := NewRetryController(RetryControllerOptions{
		Agent:        opts.agent,
		Validator:    h.validator,
		AgentTimeout: 2 * time.Second,
		Metrics:      h.metrics,
	})
	require.NoError(t, err)
	h.executor, err = NewPipelineExecutor(PipelineExecutorOptions{Retry: retry, MaxAttempts: opts.maxAttempts})
	require.NoError(t, err)

	h.fanout, err = NewFanoutExecutor(FanoutExecutorOptions{
		Engine:   opts.engine,
		Defaults: FanoutOptions{Concurrency: opts.concurrency, Threshold: opts.threshold, TaskTimeout: time.Second},
		Metrics:  h.metrics,
	})
	require.NoError(t, err)

	h.snapshots, err = NewSnapshotService(SnapshotServiceOptions{Cache: h.cache})
	require.NoError(t, err)

	h.orch, err = NewOrchestrator(OrchestratorOptions{
		Jobs:         h.jobs,
		Artifacts:    h.artifacts,
		Pipeline:     h.executor,
		Definition:   h.definition,
		Fanout:       h.fanout,
		Snapshots:    h.snapshots,
		TimeProvider: h.clock,
	})
	require.NoError(t, err)
	return h
}

// submit submits a job and returns it.
func (h *harness) submit(t *testing.T, kind model.JobKind, subject string, payload any) *model.Job {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	job, err := h.jobs.Submit(context.Background(), &model.SubmitJobRequest{Kind: kind, SubjectID: subject, Payload: raw})
	require.NoError(t, err)
	return job
}

// remoteJobs returns a JobService on the same repository with its own cancel registry, as
// seen by the admin CLI or an http-only process.
func (h *harness) remoteJobs(t *testing.T) *JobService {
	t.Helper()
	svc, err := NewJobService(JobServiceOptions{
		Repo:         h.jobRepo,
		Queues:       core.NewQueueSet(queue.NewMemoryQueue(model.TopicPipeline), queue.NewMemoryQueue(model.TopicAnalytics)),
		TimeProvider: h.clock,
	})
	require.NoError(t, err)
	return svc
}

// work plays one worker iteration for the next message on the job's topic and returns the
// handler error together with the stored job.
func (h *harness) work(t *testing.T, kind model.JobKind) (*model.Job, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	q := h.queues[model.TopicFor(kind)]
	msg, err := q.Dequeue(ctx)
	require.NoError(t, err)
	defer func() { require.NoError(t, q.Ack(ctx, msg.JobID)) }()

	ok, err := h.jobs.Begin(ctx, msg.JobID)
	require.NoError(t, err)
	require.True(t, ok, "job %s was not pending", msg.JobID)

	job, err := h.jobs.Status(ctx, msg.JobID)
	require.NoError(t, err)

	runCtx, release := h.jobs.Watch(ctx, job.ID, 5*time.Millisecond)
	handleErr := h.orch.Handle(runCtx, job)
	release()

	if handleErr == nil {
		_, err = h.jobs.Complete(ctx, job.ID)
	} else {
		_, err = h.jobs.Fail(ctx, job.ID, handleErr)
	}
	require.NoError(t, err)

	job, err = h.jobs.Status(ctx, job.ID)
	require.NoError(t, err)
	return job, handleErr
}

// run submits and immediately works a job.
func (h *harness) run(t *testing.T, kind model.JobKind, subject string, payload any) (*model.Job, error) {
	t.Helper()
	h.submit(t, kind, subject, payload)
	return h.work(t, kind)
}

// approveLatest reviews every section of the latest version of a lineage and approves it.
func (h *harness) approveLatest(t *testing.T, subject string, kind model.ArtifactKind) *model.Artifact {
	t.Helper()
	ctx := context.Background()
	a, err := h.artifacts.Latest(ctx, subject, kind)
	require.NoError(t, err)
	ref := model.ArtifactRef{SubjectID: subject, Kind: kind, Version: a.Version}
	if a.ApprovalState == model.ApprovalDraft {
		_, err = h.artifacts.SubmitForReview(ctx, ref)
		require.NoError(t, err)
	}
	for _, section := range a.SectionNames() {
		_, err := h.artifacts.MarkSectionReviewed(ctx, ref, section)
		require.NoError(t, err)
	}
	approved, err := h.artifacts.Approve(ctx, ref)
	require.NoError(t, err)
	return approved
}

func derivePayload() model.DeriveArtifactPayload {
	return model.DeriveArtifactPayload{
		Mode:      "full",
		Company:   "Acme",
		Documents: []model.Document{{Name: "deck.pdf", Text: "Acme cuts onboarding time by 40%."}},
		Sources:   []string{"https://www.acme.com/about", "https://blog.acme.com/launch"},
	}
}

func deriveAgent() map[string]string {
	return map[string]string{
		"extract":    extractOutput,
		"research":   researchOutput,
		"synthesize": vpOutput,
		"validate":   vpOutput,
	}
}
