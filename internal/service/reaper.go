package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/config"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/core"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/data"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/domain/model"
	obserrors "github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/observability/errors"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/observability/metrics"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/observability/statsd"
)

// ReaperServiceOptions groups dependencies for ReaperService.
type ReaperServiceOptions struct {
	Repo         core.ReaperRepository // Required: reaper repository
	Config       config.ReaperConfig   // Required: reaper configuration
	TimeProvider data.TimeProvider     // Optional: clock for retention cutoffs
	Logger       *slog.Logger          // Optional: structured logger
	Metrics      statsd.Sink           // Optional: metrics sink (StatsD-compatible)
}

// ReaperService provides job cleanup operations.
//
// Each pass:
// - Fails jobs stuck in processing after their worker went away.
// - Deletes terminal jobs past their retention window. A zero window keeps them forever.
type ReaperService struct {
	repo    core.ReaperRepository
	config  config.ReaperConfig
	clock   data.TimeProvider
	logger  *slog.Logger
	metrics statsd.Sink
}

// NewReaperService constructs a new ReaperService.
func NewReaperService(opts ReaperServiceOptions) (*ReaperService, error) {
	if opts.Repo == nil {
		return nil, errors.New("ReaperRepository is required")
	}
	clock := opts.TimeProvider
	if clock == nil {
		clock = &data.RealTimeProvider{}
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "reaper_service")
		logger.Debug("ReaperService initialized",
			"interval", opts.Config.Interval,
			"processing_max_age", opts.Config.ProcessingMaxAge,
			"completed_max_age", opts.Config.CompletedMaxAge,
			"failed_max_age", opts.Config.FailedMaxAge,
			"cancelled_max_age", opts.Config.CancelledMaxAge,
		)
	}

	return &ReaperService{
		repo:    opts.Repo,
		config:  opts.Config,
		clock:   clock,
		logger:  logger,
		metrics: opts.Metrics,
	}, nil
}

// Run starts the reaper loop and runs until the context is cancelled.
// Returns nil on graceful shutdown (context.Canceled), error otherwise.
func (s *ReaperService) Run(ctx context.Context) error {
	if s.logger != nil {
		s.logger.InfoContext(ctx, "starting reaper service", "interval", s.config.Interval)
	}

	s.waitWithJitter(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	if err := s.RunOnce(ctx); err != nil {
		s.logCleanupError(ctx, err, "initial cleanup")
	}

	for {
		select {
		case <-ctx.Done():
			if s.logger != nil {
				s.logger.InfoContext(ctx, "reaper service stopping", "reason", ctx.Err())
			}
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logCleanupError(ctx, err, "cleanup")
			}
		}
	}
}

// waitWithJitter adds a random delay up to 10% of the interval so instances started
// together do not sweep at the same moment.
func (s *ReaperService) waitWithJitter(ctx context.Context) {
	maxJitter := int64(s.config.Interval / 10)
	if maxJitter <= 0 {
		return
	}
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return
	}
	jitter := time.Duration(int64(binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter))) // #nosec G115 - bounded by maxJitter

	select {
	case <-time.After(jitter):
	case <-ctx.Done():
	}
}

type cleanupStep struct {
	operation string
	fn        func(context.Context) (int64, error)
}

// RunOnce performs one cleanup pass and reports the joined errors of its steps.
func (s *ReaperService) RunOnce(ctx context.Context) error {
	start := s.clock.Now()
	steps := []cleanupStep{
		{operation: "fail_stale_processing", fn: s.failStaleProcessing},
		{operation: "delete_completed", fn: s.deleter(model.JobStatusCompleted, s.config.CompletedMaxAge)},
		{operation: "delete_failed", fn: s.deleter(model.JobStatusFailed, s.config.FailedMaxAge)},
		{operation: "delete_cancelled", fn: s.deleter(model.JobStatusCancelled, s.config.CancelledMaxAge)},
	}

	var (
		errs  []error
		total int64
	)
	for _, step := range steps {
		count, err := step.fn(ctx)
		total += count
		s.emitOperationMetric(step.operation, count, err)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", step.operation, err))
		}
	}

	err := errors.Join(errs...)
	s.emitCleanupMetric(total, err, s.clock.Now().Sub(start))
	if err != nil {
		return fmt.Errorf("cleanup failed: %w", err)
	}
	return nil
}

// failStaleProcessing fails processing jobs whose worker stopped updating them.
// Loops until a batch comes back empty.
func (s *ReaperService) failStaleProcessing(ctx context.Context) (int64, error) {
	return s.drain(ctx, func(ctx context.Context) (int64, error) {
		return s.repo.FailStaleProcessing(ctx, s.config.ProcessingMaxAge, s.config.BatchSize)
	}, "failed stale processing jobs", s.config.ProcessingMaxAge)
}

func (s *ReaperService) deleter(status model.JobStatus, maxAge time.Duration) func(context.Context) (int64, error) {
	return func(ctx context.Context) (int64, error) {
		if maxAge <= 0 {
			return 0, nil
		}
		cutoff := s.clock.Now().Add(-maxAge)
		return s.drain(ctx, func(ctx context.Context) (int64, error) {
			return s.repo.DeleteOldJobs(ctx, model.ReapParams{
				Status:    status,
				OlderThan: cutoff,
				BatchSize: s.config.BatchSize,
			})
		}, "deleted old "+string(status)+" jobs", maxAge)
	}
}

func (s *ReaperService) drain(
	ctx context.Context,
	batch func(context.Context) (int64, error),
	msg string,
	maxAge time.Duration,
) (int64, error) {
	var total int64
	for {
		count, err := batch(ctx)
		if err != nil {
			return total, err
		}
		total += count
		if count == 0 || count < int64(s.config.BatchSize) {
			break
		}
		if err := ctx.Err(); err != nil {
			return total, err
		}
	}
	if total > 0 && s.logger != nil {
		s.logger.InfoContext(ctx, msg, "count", total, "max_age", maxAge)
	}
	return total, nil
}

func (s *ReaperService) emitCleanupMetric(total int64, err error, elapsed time.Duration) {
	if s.metrics == nil {
		return
	}
	tags := map[string]string{"result": resultFor(total, err)}
	if err != nil {
		tags["error_class"] = obserrors.Classify(err)
	}
	s.metrics.Count("reaper.cleanup", 1, tags)
	if elapsed > 0 {
		s.metrics.Timing("reaper.cleanup_duration", elapsed, metrics.CloneTags(tags))
	}
	if err == nil {
		s.metrics.Gauge("reaper.last_success_epoch", float64(s.clock.Now().Unix()), nil)
	}
}

func (s *ReaperService) emitOperationMetric(operation string, count int64, err error) {
	if s.metrics == nil {
		return
	}
	tags := map[string]string{"operation": operation, "result": resultFor(count, err)}
	s.metrics.Count("reaper.cleanup_operation", 1, tags)
	if err == nil && count > 0 {
		s.metrics.Count("reaper.jobs_processed", count, metrics.CloneTags(tags))
	}
}

func resultFor(count int64, err error) string {
	switch {
	case err != nil:
		return metrics.ResultError
	case count == 0:
		return metrics.ResultNoop
	default:
		return metrics.ResultSuccess
	}
}

func (s *ReaperService) logCleanupError(ctx context.Context, err error, label string) {
	if err == nil || s.logger == nil {
		return
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		s.logger.DebugContext(ctx, label+" cancelled by context", "error", err)
		return
	}
	s.logger.ErrorContext(ctx, label+" failed", "error", err)
}
