package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/net/publicsuffix"

	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/data"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/domain/model"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/domain/pipeline"
	apperrors "github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/errors"
)

// JobHandler executes one job kind. The job is already processing when it is called.
type JobHandler func(ctx context.Context, job *model.Job) error

// OrchestratorOptions groups dependencies for Orchestrator.
type OrchestratorOptions struct {
	Jobs         *JobService          // Required
	Artifacts    *ArtifactService     // Required
	Pipeline     *PipelineExecutor    // Required
	Definition   *pipeline.Definition // Required: step plans per kind
	Fanout       *FanoutExecutor      // Required for generate-analytics
	Snapshots    *SnapshotService     // Required for generate-analytics
	TimeProvider data.TimeProvider    // Optional: clock (default real time)
	Logger       *slog.Logger         // Optional: structured logger
}

// Orchestrator maps job kinds to handlers that drive the pipeline, artifact store,
// fan-out executor and snapshot cache. Every handler gets the job explicitly.
type Orchestrator struct {
	jobs       *JobService
	artifacts  *ArtifactService
	pipeline   *PipelineExecutor
	definition *pipeline.Definition
	fanout     *FanoutExecutor
	snapshots  *SnapshotService
	clock      data.TimeProvider
	logger     *slog.Logger
	validate   *validator.Validate
	handlers   map[model.JobKind]JobHandler
}

// NewOrchestrator constructs an Orchestrator.
func NewOrchestrator(opts OrchestratorOptions) (*Orchestrator, error) {
	switch {
	case opts.Jobs == nil:
		return nil, errors.New("JobService is required")
	case opts.Artifacts == nil:
		return nil, errors.New("ArtifactService is required")
	case opts.Pipeline == nil:
		return nil, errors.New("PipelineExecutor is required")
	case opts.Definition == nil:
		return nil, errors.New("pipeline Definition is required")
	case opts.Fanout == nil:
		return nil, errors.New("FanoutExecutor is required")
	case opts.Snapshots == nil:
		return nil, errors.New("SnapshotService is required")
	}
	clock := opts.TimeProvider
	if clock == nil {
		clock = &data.RealTimeProvider{}
	}
	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "orchestrator")
	}

	o := &Orchestrator{
		jobs:       opts.Jobs,
		artifacts:  opts.Artifacts,
		pipeline:   opts.Pipeline,
		definition: opts.Definition,
		fanout:     opts.Fanout,
		snapshots:  opts.Snapshots,
		clock:      clock,
		logger:     logger,
		validate:   validator.New(),
	}
	o.handlers = map[model.JobKind]JobHandler{
		model.JobKindDeriveArtifact:    o.deriveArtifact,
		model.JobKindRefineArtifact:    o.refineArtifact,
		model.JobKindGenerateTemplates: o.generateTemplates,
		model.JobKindGenerateAnalytics: o.generateAnalytics,
	}
	return o, nil
}

// MustNewOrchestrator constructs an Orchestrator and panics on error.
func MustNewOrchestrator(opts OrchestratorOptions) *Orchestrator {
	o, err := NewOrchestrator(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create Orchestrator: %v", err))
	}
	return o
}

// Handle runs the handler registered for job.Kind.
func (o *Orchestrator) Handle(ctx context.Context, job *model.Job) error {
	h, ok := o.handlers[job.Kind]
	if !ok {
		return apperrors.FatalConfigf("no handler for job kind %q", job.Kind)
	}
	return h(ctx, job)
}

func (o *Orchestrator) decode(raw json.RawMessage, into any) error {
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, into); err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeValidation, "decode job payload")
		}
	}
	if err := o.validate.Struct(into); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid job payload")
	}
	return nil
}

// runPlan executes plan for job with cancellation probes and progress updates between
// steps. The run record is stored on the job whatever the outcome.
func (o *Orchestrator) runPlan(
	ctx context.Context,
	job *model.Job,
	plan model.PipelinePlan,
	initial any,
) (json.RawMessage, error) {
	input, err := json.Marshal(initial)
	if err != nil {
		return nil, fmt.Errorf("encode pipeline input: %w", err)
	}

	total := len(plan.Steps)
	hooks := RunHooks{
		BeforeStep: func(ctx context.Context, i int, step model.StepSpec, _ *model.PipelineRun) error {
			if err := o.checkCancelled(ctx, job.ID); err != nil {
				return err
			}
			return o.jobs.ReportProgress(ctx, job.ID, step.Name, i*100/total)
		},
		AfterStep: func(ctx context.Context, _ int, _ model.StepSpec, run *model.PipelineRun) error {
			return o.jobs.RecordRun(ctx, job.ID, run)
		},
	}

	out, run, runErr := o.pipeline.Run(ctx, plan, input, hooks)
	if err := o.jobs.RecordRun(context.WithoutCancel(ctx), job.ID, run); err != nil && o.logger != nil {
		o.logger.ErrorContext(ctx, "record pipeline run", "job_id", job.ID, "error", err)
	}
	if runErr != nil {
		return nil, runErr
	}
	// Nothing is committed for a run cancelled after its last step.
	if err := o.checkCancelled(ctx, job.ID); err != nil {
		return nil, err
	}
	return out, nil
}

func (o *Orchestrator) checkCancelled(ctx context.Context, jobID string) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeCanceled, "job cancelled")
	}
	cancelled, err := o.jobs.IsCancelled(ctx, jobID)
	if err != nil {
		return err
	}
	if cancelled {
		return apperrors.Wrap(ErrJobCancelled, apperrors.ErrCodeCanceled, "job cancelled")
	}
	return nil
}

type deriveInput struct {
	Company    string           `json:"company,omitempty"`
	Collateral string           `json:"collateral,omitempty"`
	Documents  []model.Document `json:"documents,omitempty"`
	Sources    []string         `json:"sources,omitempty"`
}

func (o *Orchestrator) deriveArtifact(ctx context.Context, job *model.Job) error {
	var p model.DeriveArtifactPayload
	if err := o.decode(job.Payload, &p); err != nil {
		return err
	}
	sources, err := DedupeSources(p.Sources)
	if err != nil {
		return err
	}

	var flags []string
	if len(p.Documents) == 0 {
		flags = append(flags, pipeline.FlagNoDocuments)
	}
	if len(sources) == 0 {
		flags = append(flags, pipeline.FlagNoSources)
	}
	plan, err := o.definition.Plan(job.Kind, p.Mode, flags)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeFatalConfig, "select pipeline")
	}

	out, err := o.runPlan(ctx, job, plan, deriveInput{
		Company:    p.Company,
		Collateral: p.Collateral,
		Documents:  p.Documents,
		Sources:    sources,
	})
	if err != nil {
		return err
	}

	_, err = o.artifacts.CreateFromRun(ctx, CreateFromRunParams{
		SubjectID: job.SubjectID,
		Kind:      model.ArtifactKindValueProposition,
		Payload:   out,
		JobID:     job.ID,
	})
	return err
}

type refineInput struct {
	Kind     model.ArtifactKind `json:"artifact_kind"`
	Version  int                `json:"version"`
	Artifact json.RawMessage    `json:"artifact"`
	Feedback []model.Feedback   `json:"feedback"`
}

func (o *Orchestrator) refineArtifact(ctx context.Context, job *model.Job) error {
	var p model.RefineArtifactPayload
	if err := o.decode(job.Payload, &p); err != nil {
		return err
	}

	// The round limit is checked before any agent call.
	prev, err := o.artifacts.CheckRefinement(ctx, job.SubjectID, p.ArtifactKind)
	if err != nil {
		return err
	}

	replacements := map[string]json.RawMessage{}
	if needsReplacement(p.Feedback) {
		plan, err := o.definition.Plan(job.Kind, "", nil)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeFatalConfig, "select pipeline")
		}
		out, err := o.runPlan(ctx, job, plan, refineInput{
			Kind:     p.ArtifactKind,
			Version:  prev.Version,
			Artifact: prev.Payload,
			Feedback: p.Feedback,
		})
		if err != nil {
			return err
		}
		if err := json.Unmarshal(out, &replacements); err != nil {
			return apperrors.InvalidOutput(err, "refine output is not an object of sections")
		}
	} else if err := o.checkCancelled(ctx, job.ID); err != nil {
		return err
	}

	_, err = o.artifacts.Refine(ctx, RefineParams{
		SubjectID:    job.SubjectID,
		Kind:         p.ArtifactKind,
		Feedback:     p.Feedback,
		Replacements: replacements,
		JobID:        job.ID,
	})
	return err
}

func needsReplacement(feedback []model.Feedback) bool {
	for _, fb := range feedback {
		if fb.Action == model.FeedbackReplace {
			return true
		}
	}
	return false
}

type templatesInput struct {
	Version          int             `json:"value_proposition_version"`
	ValueProposition json.RawMessage `json:"value_proposition"`
}

func (o *Orchestrator) generateTemplates(ctx context.Context, job *model.Job) error {
	var p model.GenerateTemplatesPayload
	if err := o.decode(job.Payload, &p); err != nil {
		return err
	}
	vp, err := o.artifacts.RequireApproved(ctx, job.SubjectID, model.ArtifactKindValueProposition, p.ValuePropositionVersion)
	if err != nil {
		return err
	}
	plan, err := o.definition.Plan(job.Kind, "", nil)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeFatalConfig, "select pipeline")
	}

	out, err := o.runPlan(ctx, job, plan, templatesInput{Version: vp.Version, ValueProposition: vp.Payload})
	if err != nil {
		return err
	}
	_, err = o.artifacts.CreateFromRun(ctx, CreateFromRunParams{
		SubjectID: job.SubjectID,
		Kind:      model.ArtifactKindTemplateSet,
		Payload:   out,
		JobID:     job.ID,
	})
	return err
}

func (o *Orchestrator) generateAnalytics(ctx context.Context, job *model.Job) error {
	var p model.GenerateAnalyticsPayload
	if err := o.decode(job.Payload, &p); err != nil {
		return err
	}
	ts, err := o.artifacts.RequireApproved(ctx, job.SubjectID, model.ArtifactKindTemplateSet, p.TemplateSetVersion)
	if err != nil {
		return err
	}
	tasks, err := BuildQueryTasks(ts.Payload, p.Filters)
	if err != nil {
		return err
	}

	if err := o.checkCancelled(ctx, job.ID); err != nil {
		return err
	}
	if err := o.jobs.ReportProgress(ctx, job.ID, "fanout", 0); err != nil {
		return err
	}

	res, err := o.fanout.Execute(ctx, job.SubjectID, tasks, FanoutOptions{})
	if err != nil {
		return err
	}
	if err := o.checkCancelled(ctx, job.ID); err != nil {
		return err
	}
	if err := o.jobs.ReportProgress(ctx, job.ID, "snapshot", 90); err != nil {
		return err
	}

	return o.snapshots.Write(ctx, &model.AnalyticsSnapshot{
		SubjectID:       job.SubjectID,
		ArtifactVersion: ts.Version,
		Data:            res.Data,
		GeneratedAt:     o.clock.Now().UTC(),
		Completeness:    res.Completeness,
		Partial:         res.Partial(),
		FailedTaskIDs:   res.FailedTaskIDs,
	})
}

// BuildQueryTasks turns every widget of a template set into one query task. Task ids are
// "<template>.<widget>"; extra filters are appended to each query.
func BuildQueryTasks(payload json.RawMessage, filters []model.QueryFilter) ([]model.QueryTask, error) {
	var set model.TemplateSet
	if err := json.Unmarshal(payload, &set); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeFatalConfig, "decode template set")
	}
	var tasks []model.QueryTask
	seen := map[string]bool{}
	for _, tpl := range set.Templates {
		for _, w := range tpl.Widgets {
			id := tpl.ID + "." + w.ID
			if seen[id] {
				return nil, apperrors.FatalConfigf("template set has duplicate widget %s", id)
			}
			seen[id] = true
			spec := w.Query
			spec.Filters = append(append([]model.QueryFilter(nil), spec.Filters...), filters...)
			tasks = append(tasks, model.QueryTask{TaskID: id, Spec: spec, Status: model.TaskPending})
		}
	}
	if len(tasks) == 0 {
		return nil, apperrors.FatalConfig("template set has no widgets")
	}
	return tasks, nil
}

// DedupeSources keeps the first URL per registrable domain, so www.acme.com and
// blog.acme.com count as one source.
func DedupeSources(sources []string) ([]string, error) {
	seen := make(map[string]bool, len(sources))
	out := make([]string, 0, len(sources))
	for _, raw := range sources {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || u.Hostname() == "" {
			return nil, apperrors.ValidationField("sources", fmt.Sprintf("invalid source url %q", raw))
		}
		host := strings.ToLower(u.Hostname())
		domain, err := publicsuffix.EffectiveTLDPlusOne(host)
		if err != nil {
			domain = host
		}
		if seen[domain] {
			continue
		}
		seen[domain] = true
		out = append(out, raw)
	}
	return out, nil
}
