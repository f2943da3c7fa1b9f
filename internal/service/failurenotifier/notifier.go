// Package failurenotifier fans failed-job alerts out to the configured sinks.
package failurenotifier

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	apperrors "github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/errors"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/observability/notify"
)

// SinkRegistration pairs a sink implementation with a human-readable name for logging.
type SinkRegistration struct {
	Name string
	Sink notify.Sink
}

// Options configures the failure notifier service.
type Options struct {
	Logger *slog.Logger
	Sinks  []SinkRegistration
	// IgnoreErrorClasses suppresses alerts for the listed job error kinds.
	IgnoreErrorClasses []string
}

// Service dispatches failure events to all registered sinks.
type Service struct {
	logger *slog.Logger
	sinks  []SinkRegistration
	ignore []string
}

// NewService constructs a failure notifier.
func NewService(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "failure_notifier")

	var sinks []SinkRegistration
	for _, entry := range opts.Sinks {
		if entry.Sink == nil {
			continue
		}
		name := entry.Name
		if name == "" {
			name = "sink"
		}
		sinks = append(sinks, SinkRegistration{Name: name, Sink: entry.Sink})
	}

	return &Service{logger: logger, sinks: sinks, ignore: slices.Clone(opts.IgnoreErrorClasses)}
}

// SeverityFor grades a job error kind. Partial fan-out results and exhausted transient
// retries are warnings; everything else pages.
func SeverityFor(errorClass string) string {
	switch apperrors.ErrorCode(errorClass) {
	case apperrors.ErrCodePartialFailure, apperrors.ErrCodeTransient:
		return notify.SeverityWarning
	default:
		return notify.SeverityCritical
	}
}

// NotifyJobFailure delivers payload to every sink concurrently and waits for them.
func (s *Service) NotifyJobFailure(ctx context.Context, payload notify.JobFailurePayload) {
	if s == nil || len(s.sinks) == 0 {
		return
	}
	if slices.Contains(s.ignore, payload.ErrorClass) {
		s.logger.DebugContext(ctx, "failure notification suppressed",
			"job_id", payload.JobID,
			"error_class", payload.ErrorClass,
		)
		return
	}
	if payload.Severity == "" {
		payload.Severity = SeverityFor(payload.ErrorClass)
	}

	var wg sync.WaitGroup
	for _, entry := range s.sinks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := entry.Sink.SendJobFailure(ctx, payload); err != nil {
				s.logger.ErrorContext(ctx, "failure notifier delivery error",
					"sink", entry.Name,
					"job_id", payload.JobID,
					"job_kind", payload.JobKind,
					"error", err,
				)
			}
		}()
	}
	wg.Wait()
}

// Enabled reports whether the notifier has any active sinks.
func (s *Service) Enabled() bool {
	return s != nil && len(s.sinks) > 0
}
