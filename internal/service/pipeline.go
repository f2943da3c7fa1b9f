package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/domain/model"
	apperrors "github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/errors"
)

// RunHooks let the caller observe and gate a pipeline run. Nil hooks are skipped.
type RunHooks struct {
	// BeforeStep runs before step index starts. A non-nil error aborts the run.
	BeforeStep func(ctx context.Context, index int, step model.StepSpec, run *model.PipelineRun) error
	// AfterStep runs once a step has produced valid output.
	AfterStep func(ctx context.Context, index int, step model.StepSpec, run *model.PipelineRun) error
}

// PipelineExecutorOptions groups dependencies for PipelineExecutor.
type PipelineExecutorOptions struct {
	Retry       *RetryController // Required: per-step retry policy
	MaxAttempts int              // Optional: attempts per step (default 3)
	Logger      *slog.Logger     // Optional: structured logger
}

// PipelineExecutor runs the steps of a plan strictly in order, threading each step's
// output into the next step's input.
type PipelineExecutor struct {
	retry       *RetryController
	maxAttempts int
	logger      *slog.Logger
}

// NewPipelineExecutor constructs a PipelineExecutor.
func NewPipelineExecutor(opts PipelineExecutorOptions) (*PipelineExecutor, error) {
	if opts.Retry == nil {
		return nil, errors.New("RetryController is required")
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 3
	}
	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "pipeline_executor")
	}
	return &PipelineExecutor{retry: opts.Retry, maxAttempts: maxAttempts, logger: logger}, nil
}

// MaxAttempts returns the per-step attempt budget.
func (p *PipelineExecutor) MaxAttempts() int { return p.maxAttempts }

// accumulated is the input handed to every step.
type accumulated struct {
	Input json.RawMessage            `json:"input"`
	Steps map[string]json.RawMessage `json:"steps"`
}

// Run executes plan. On success it returns the last step's output. On failure the
// accumulated context is discarded and the error names the failing step. The returned run
// record is populated in both cases.
func (p *PipelineExecutor) Run(
	ctx context.Context,
	plan model.PipelinePlan,
	initial json.RawMessage,
	hooks RunHooks,
) (json.RawMessage, *model.PipelineRun, error) {
	run := model.NewPipelineRun(plan)
	if len(plan.Steps) == 0 {
		return nil, run, apperrors.FatalConfigf("pipeline for %s has no steps", plan.Kind)
	}
	if len(initial) == 0 {
		initial = json.RawMessage("{}")
	}

	acc := accumulated{Input: initial, Steps: make(map[string]json.RawMessage, len(plan.Steps))}
	var last json.RawMessage

	for i, step := range plan.Steps {
		run.CurrentStepIndex = i

		if err := ctx.Err(); err != nil {
			return nil, run, canceled(err, step.Name)
		}
		if hooks.BeforeStep != nil {
			if err := hooks.BeforeStep(ctx, i, step, run); err != nil {
				return nil, run, apperrors.WithStep(err, step.Name)
			}
		}

		input, err := json.Marshal(acc)
		if err != nil {
			return nil, run, fmt.Errorf("encode context for step %s: %w", step.Name, err)
		}

		out, report, err := p.retry.Execute(ctx, step, input, p.maxAttempts)
		run.Attempts[step.Name] = report.Attempts
		if err != nil {
			if p.logger != nil {
				p.logger.WarnContext(ctx, "pipeline step failed",
					"step", step.Name,
					"index", i,
					"attempts", report.Attempts,
					"error", err,
				)
			}
			return nil, run, apperrors.WithStep(err, step.Name)
		}

		acc.Steps[step.Name] = out
		last = out

		if hooks.AfterStep != nil {
			if err := hooks.AfterStep(ctx, i, step, run); err != nil {
				return nil, run, apperrors.WithStep(err, step.Name)
			}
		}
		if p.logger != nil {
			p.logger.DebugContext(ctx, "pipeline step completed", "step", step.Name, "index", i, "attempts", report.Attempts)
		}
	}

	run.CurrentStepIndex = len(plan.Steps)
	return last, run, nil
}
