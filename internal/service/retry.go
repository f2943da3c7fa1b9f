package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/core"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/domain/model"
	apperrors "github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/errors"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/observability/metrics"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/observability/statsd"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/schema"
)

// Attempt outcomes, used in logs and the agent.attempt metric.
const (
	OutcomeSuccess   = "success"
	OutcomeInvalid   = "invalid"
	OutcomeTransient = "transient"
	OutcomeTimeout   = "timeout"
	OutcomeFatal     = "fatal"
)

// RetryControllerOptions groups dependencies for RetryController.
type RetryControllerOptions struct {
	Agent        core.AgentInvoker    // Required: agent to call
	Validator    core.SchemaValidator // Required: schema checks for step output
	AgentTimeout time.Duration        // Optional: per-attempt deadline (default 60s)
	Logger       *slog.Logger         // Optional: structured logger
	Metrics      statsd.Sink          // Optional: metrics sink
}

// AttemptReport describes how a step's attempts went.
type AttemptReport struct {
	Attempts       int
	Outcomes       []string
	LastViolations []model.Violation
}

// RetryController wraps one agent step in the generate, validate, retry loop. Transient
// failures, timeouts and invalid output all draw from a single attempt budget.
type RetryController struct {
	agent     core.AgentInvoker
	validator core.SchemaValidator
	timeout   time.Duration
	logger    *slog.Logger
	metrics   statsd.Sink
}

// NewRetryController constructs a RetryController.
func NewRetryController(opts RetryControllerOptions) (*RetryController, error) {
	if opts.Agent == nil {
		return nil, errors.New("AgentInvoker is required")
	}
	if opts.Validator == nil {
		return nil, errors.New("SchemaValidator is required")
	}
	timeout := opts.AgentTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "retry_controller")
	}

	return &RetryController{
		agent:     opts.Agent,
		validator: opts.Validator,
		timeout:   timeout,
		logger:    logger,
		metrics:   opts.Metrics,
	}, nil
}

// MustNewRetryController constructs a RetryController and panics on error.
func MustNewRetryController(opts RetryControllerOptions) *RetryController {
	rc, err := NewRetryController(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create RetryController: %v", err))
	}
	return rc
}

// Execute runs step until its output validates or maxAttempts is spent. The violations of
// each failed attempt are passed to the next one as feedback. Cancelling ctx returns a
// canceled error without consuming an attempt.
func (r *RetryController) Execute(
	ctx context.Context,
	step model.StepSpec,
	input json.RawMessage,
	maxAttempts int,
) (json.RawMessage, AttemptReport, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var (
		report    AttemptReport
		feedback  []model.Violation
		lastErr   error
		sawOutput bool
	)

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, report, canceled(err, step.Name)
		}

		start := time.Now()
		attemptCtx, cancel := context.WithTimeout(ctx, r.timeout)
		out, err := r.agent.Invoke(attemptCtx, model.AgentRequest{
			Step:     step,
			Input:    input,
			Attempt:  attempt,
			Feedback: feedback,
		})
		timedOut := errors.Is(attemptCtx.Err(), context.DeadlineExceeded)
		cancel()

		// A parent cancellation mid-call is not an attempt.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, report, canceled(ctxErr, step.Name)
		}

		report.Attempts = attempt
		outcome := r.classify(err, timedOut)

		switch outcome {
		case OutcomeFatal:
			r.record(ctx, step, attempt, maxAttempts, outcome, time.Since(start), &report, err)
			return nil, report, apperrors.WithStep(err, step.Name)

		case OutcomeTransient, OutcomeTimeout:
			lastErr = err
			if lastErr == nil {
				lastErr = context.DeadlineExceeded
			}

		case OutcomeInvalid:
			sawOutput = true
			feedback = []model.Violation{{Field: schema.RootField, Reason: err.Error()}}

		default:
			sawOutput = true
			violations := r.validator.Validate(step.SchemaKind, out)
			if len(violations) == 0 {
				r.record(ctx, step, attempt, maxAttempts, OutcomeSuccess, time.Since(start), &report, nil)
				return out, report, nil
			}
			outcome = OutcomeInvalid
			feedback = violations
		}

		if outcome == OutcomeInvalid {
			report.LastViolations = feedback
		}
		r.record(ctx, step, attempt, maxAttempts, outcome, time.Since(start), &report, err)
	}

	if !sawOutput {
		e := apperrors.Transient(lastErr, fmt.Sprintf("step %s: retries exhausted", step.Name))
		e.Step = step.Name
		return nil, report, e
	}
	return nil, report, apperrors.ValidationExhausted(step.Name, report.Attempts, report.LastViolations)
}

func (r *RetryController) classify(err error, timedOut bool) string {
	switch {
	case err == nil:
		return ""
	case timedOut:
		return OutcomeTimeout
	case apperrors.IsFatalConfig(err):
		return OutcomeFatal
	case apperrors.IsInvalidOutput(err):
		return OutcomeInvalid
	default:
		// Unclassified agent errors are retried like transport failures.
		return OutcomeTransient
	}
}

func (r *RetryController) record(
	ctx context.Context,
	step model.StepSpec,
	attempt, maxAttempts int,
	outcome string,
	elapsed time.Duration,
	report *AttemptReport,
	err error,
) {
	report.Outcomes = append(report.Outcomes, outcome)
	metrics.EmitAgentAttempt(r.metrics, metrics.AttemptMetric{
		Step:     step.Name,
		Attempt:  attempt,
		Outcome:  outcome,
		Duration: elapsed,
	})
	if r.logger == nil {
		return
	}
	attrs := []any{
		"step", step.Name,
		"attempt", attempt,
		"max_attempts", maxAttempts,
		"outcome", outcome,
		"duration", elapsed,
	}
	switch outcome {
	case OutcomeSuccess:
		r.logger.InfoContext(ctx, "agent attempt", attrs...)
	case OutcomeInvalid:
		r.logger.WarnContext(ctx, "agent attempt", append(attrs, "violations", len(report.LastViolations))...)
	default:
		r.logger.WarnContext(ctx, "agent attempt", append(attrs, "error", err)...)
	}
}

func canceled(err error, step string) error {
	e := apperrors.Wrap(err, apperrors.ErrCodeCanceled, "step "+step+" canceled")
	e.Step = step
	return e
}
