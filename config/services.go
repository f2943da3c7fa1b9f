package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents a runtime role that can be enabled in this process.
type ServiceMode string

const (
	// ServiceModeHTTP serves the JSON API.
	ServiceModeHTTP ServiceMode = "http"
	// ServiceModeWorker consumes the pipeline and analytics queues.
	ServiceModeWorker ServiceMode = "worker"
	// ServiceModeReaper fails stale jobs and prunes old ones.
	ServiceModeReaper ServiceMode = "reaper"
)

// ValidServiceModes returns all valid service modes.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{ServiceModeHTTP, ServiceModeWorker, ServiceModeReaper}
}

// ParseServices parses a comma-separated list of service names.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if strings.TrimSpace(servicesStr) == "" {
		return services, errors.New("at least one service must be specified")
	}

	for _, part := range strings.Split(servicesStr, ",") {
		name := strings.TrimSpace(part)
		if name == "" {
			continue
		}
		mode := ServiceMode(name)
		switch mode {
		case ServiceModeHTTP, ServiceModeWorker, ServiceModeReaper:
			services[mode] = true
		default:
			return nil, fmt.Errorf("invalid service name: %q (valid options: http, worker, reaper)", name)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}
	return services, nil
}

// WorkerConfig sizes the queue consumers.
type WorkerConfig struct {
	// PipelineConcurrency is the number of workers on the pipeline topic.
	PipelineConcurrency int `env:"WORKER_PIPELINE_CONCURRENCY" envDefault:"2"`
	// AnalyticsConcurrency is the number of workers on the analytics topic.
	AnalyticsConcurrency int `env:"WORKER_ANALYTICS_CONCURRENCY" envDefault:"1"`
	// JobLease is how long a postgres queue reservation lasts between heartbeats.
	JobLease time.Duration `env:"WORKER_JOB_LEASE" envDefault:"2m"`
	// CancelPoll is how often a running job's stored status is re-read so cancels issued
	// by other processes stop the run.
	CancelPoll time.Duration `env:"WORKER_CANCEL_POLL_INTERVAL" envDefault:"1s"`
}

// Sanitize applies guardrails to worker configuration.
func (w *WorkerConfig) Sanitize() {
	if w.PipelineConcurrency < 1 {
		w.PipelineConcurrency = 1
	}
	if w.AnalyticsConcurrency < 1 {
		w.AnalyticsConcurrency = 1
	}
	if w.JobLease < 5*time.Second {
		w.JobLease = 5 * time.Second
	}
	if w.CancelPoll < 100*time.Millisecond {
		w.CancelPoll = 100 * time.Millisecond
	}
}

// ReaperConfig contains configuration for the job reaper.
type ReaperConfig struct {
	// Interval is how often the reaper runs.
	Interval time.Duration `env:"REAPER_INTERVAL" envDefault:"5m"`

	// ProcessingMaxAge is how long a job may stay processing without updates before it is failed.
	ProcessingMaxAge time.Duration `env:"REAPER_PROCESSING_MAX_AGE" envDefault:"30m"`

	// Retention windows per terminal status. Zero disables deletion.
	CompletedMaxAge time.Duration `env:"REAPER_COMPLETED_MAX_AGE" envDefault:"168h"`
	FailedMaxAge    time.Duration `env:"REAPER_FAILED_MAX_AGE"    envDefault:"0s"`
	CancelledMaxAge time.Duration `env:"REAPER_CANCELLED_MAX_AGE" envDefault:"168h"`

	// BatchSize is the maximum number of jobs to process per cleanup operation.
	BatchSize int `env:"REAPER_BATCH_SIZE" envDefault:"1000"`
}

// Sanitize applies guardrails to reaper configuration values.
func (r *ReaperConfig) Sanitize() {
	if r.Interval < time.Minute {
		r.Interval = time.Minute
	}
	if r.ProcessingMaxAge < 5*time.Minute {
		r.ProcessingMaxAge = 5 * time.Minute
	}
	for _, age := range []*time.Duration{&r.CompletedMaxAge, &r.FailedMaxAge, &r.CancelledMaxAge} {
		if *age < 0 {
			*age = 0
		}
		if *age > 0 && *age < time.Hour {
			*age = time.Hour
		}
	}
	if r.BatchSize < 1 {
		r.BatchSize = 1
	}
	if r.BatchSize > 10000 {
		r.BatchSize = 10000
	}
}
