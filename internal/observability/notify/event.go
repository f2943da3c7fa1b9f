// Package notify defines the alert payload published when a generation job fails terminally.
package notify

import (
	"context"
	"errors"
	"time"
)

// Severity constants recognised by downstream sinks.
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
)

// JobFailurePayload is the data sent to alert sinks for a failed job.
type JobFailurePayload struct {
	JobID      string
	JobKind    string
	SubjectID  string
	Step       string
	Error      string
	ErrorClass string
	Severity   string
	OccurredAt time.Time
	Metadata   map[string]string
}

// Sink consumes job failure notifications.
type Sink interface {
	SendJobFailure(ctx context.Context, payload JobFailurePayload) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, payload JobFailurePayload) error

// SendJobFailure implements Sink.
func (f SinkFunc) SendJobFailure(ctx context.Context, payload JobFailurePayload) error {
	if f == nil {
		return nil
	}
	return f(ctx, payload)
}

// Fanout delivers to every sink and joins their errors.
type Fanout []Sink

// SendJobFailure implements Sink.
func (f Fanout) SendJobFailure(ctx context.Context, payload JobFailurePayload) error {
	var errs []error
	for _, s := range f {
		if s == nil {
			continue
		}
		if err := s.SendJobFailure(ctx, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
