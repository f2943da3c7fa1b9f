package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	jmespath "github.com/jmespath-community/go-jmespath"
	"golang.org/x/sync/errgroup"

	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/core"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/domain/model"
	apperrors "github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/errors"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/observability/metrics"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/observability/statsd"
)

// thresholdEpsilon absorbs float rounding when comparing completeness to the threshold.
const thresholdEpsilon = 1e-9

// FanoutOptions tune one batch. Zero fields take the executor defaults.
type FanoutOptions struct {
	Concurrency int
	Threshold   float64
	TaskTimeout time.Duration
	GracePeriod time.Duration
}

// FanoutResult is the aggregate of a batch that met its threshold.
type FanoutResult struct {
	Tasks         []model.QueryTask
	Data          map[string]json.RawMessage
	Succeeded     int
	Total         int
	Completeness  float64
	FailedTaskIDs []string
}

// Partial reports whether some tasks were replaced by placeholders.
func (r *FanoutResult) Partial() bool { return r.Succeeded < r.Total }

// FanoutExecutorOptions groups dependencies for FanoutExecutor.
type FanoutExecutorOptions struct {
	Engine   core.QueryEngine // Required: query backend
	Defaults FanoutOptions    // Optional: per-batch defaults
	Logger   *slog.Logger     // Optional: structured logger
	Metrics  statsd.Sink      // Optional: metrics sink
}

// FanoutExecutor runs independent query tasks on a fixed worker pool without fail-fast.
type FanoutExecutor struct {
	engine   core.QueryEngine
	defaults FanoutOptions
	logger   *slog.Logger
	metrics  statsd.Sink
}

// NewFanoutExecutor constructs a FanoutExecutor.
func NewFanoutExecutor(opts FanoutExecutorOptions) (*FanoutExecutor, error) {
	if opts.Engine == nil {
		return nil, errors.New("QueryEngine is required")
	}
	d := opts.Defaults
	if d.Concurrency < 1 {
		d.Concurrency = 8
	}
	if d.Threshold <= 0 || d.Threshold > 1 {
		d.Threshold = 1
	}
	if d.TaskTimeout <= 0 {
		d.TaskTimeout = 30 * time.Second
	}
	if d.GracePeriod < 0 {
		d.GracePeriod = 0
	}
	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "fanout_executor")
	}
	return &FanoutExecutor{engine: opts.Engine, defaults: d, logger: logger, metrics: opts.Metrics}, nil
}

func (e *FanoutExecutor) resolve(o FanoutOptions) FanoutOptions {
	if o.Concurrency < 1 {
		o.Concurrency = e.defaults.Concurrency
	}
	if o.Threshold <= 0 || o.Threshold > 1 {
		o.Threshold = e.defaults.Threshold
	}
	if o.TaskTimeout <= 0 {
		o.TaskTimeout = e.defaults.TaskTimeout
	}
	if o.GracePeriod <= 0 {
		o.GracePeriod = e.defaults.GracePeriod
	}
	return o
}

// Execute runs every task for subjectID. When completeness meets the threshold, failed
// tasks carry their placeholder in Data. Below the threshold it returns PartialFailure with
// the failing task ids. Cancelling ctx stops dispatch, gives running tasks the grace period,
// then abandons them and returns a canceled error; no partial result is returned.
func (e *FanoutExecutor) Execute(
	ctx context.Context,
	subjectID string,
	tasks []model.QueryTask,
	opts FanoutOptions,
) (*FanoutResult, error) {
	o := e.resolve(opts)
	start := time.Now()

	results := make([]model.QueryTask, len(tasks))
	copy(results, tasks)
	for i := range results {
		results[i].Status = model.TaskPending
	}

	// Tasks run on a context detached from ctx so the grace period can outlive cancellation.
	base, abandon := context.WithCancel(context.WithoutCancel(ctx))
	defer abandon()

	workers := min(o.Concurrency, len(tasks))
	indexes := make(chan int)
	var g errgroup.Group
	for range workers {
		g.Go(func() error {
			for i := range indexes {
				e.runTask(base, subjectID, &results[i], o.TaskTimeout)
			}
			return nil
		})
	}

dispatch:
	for i := range results {
		if ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
			break dispatch
		case indexes <- i:
		}
	}
	close(indexes)

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		// Stragglers past the grace period are abandoned; their results are never read.
		grace := time.NewTimer(o.GracePeriod)
		select {
		case <-done:
		case <-grace.C:
			abandon()
		}
		grace.Stop()
	}

	if err := ctx.Err(); err != nil {
		if e.logger != nil {
			e.logger.WarnContext(ctx, "fan-out batch cancelled", "subject_id", subjectID, "tasks", len(tasks))
		}
		return nil, apperrors.Wrap(err, apperrors.ErrCodeCanceled, "fan-out batch cancelled")
	}

	res := aggregate(results)
	ok := res.Completeness+thresholdEpsilon >= o.Threshold

	result := metrics.ResultSuccess
	if !ok {
		result = metrics.ResultError
	}
	metrics.EmitFanout(e.metrics, metrics.FanoutMetric{
		Total:        res.Total,
		Succeeded:    res.Succeeded,
		Completeness: res.Completeness,
		Result:       result,
		Duration:     time.Since(start),
	})
	if e.logger != nil {
		e.logger.InfoContext(ctx, "fan-out batch finished",
			"subject_id", subjectID,
			"total", res.Total,
			"succeeded", res.Succeeded,
			"completeness", res.Completeness,
			"threshold", o.Threshold,
		)
	}

	if !ok {
		return nil, apperrors.PartialFailure(res.Completeness, o.Threshold, res.FailedTaskIDs)
	}
	return res, nil
}

func (e *FanoutExecutor) runTask(base context.Context, subjectID string, t *model.QueryTask, timeout time.Duration) {
	t.Status = model.TaskRunning
	start := time.Now()
	ctx, cancel := context.WithTimeout(base, timeout)
	defer cancel()

	value, err := e.query(ctx, subjectID, t.Spec)
	t.Duration = time.Since(start)
	if err != nil {
		t.Status = model.TaskFailed
		t.Error = err.Error()
		if e.logger != nil {
			e.logger.DebugContext(ctx, "fan-out task failed", "task_id", t.TaskID, "error", err)
		}
		return
	}
	t.Status = model.TaskSucceeded
	t.Result = value
}

func (e *FanoutExecutor) query(ctx context.Context, subjectID string, spec model.QuerySpec) (any, error) {
	rows, err := e.engine.RunQuery(ctx, core.QueryRequest{SubjectID: subjectID, Spec: spec})
	if err != nil {
		return nil, err
	}
	if spec.Extract == "" {
		return rows, nil
	}
	// jmespath walks plain JSON values.
	raw, err := json.Marshal(rows)
	if err != nil {
		return nil, fmt.Errorf("encode rows: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode rows: %w", err)
	}
	value, err := jmespath.Search(spec.Extract, doc)
	if err != nil {
		return nil, fmt.Errorf("extract %q: %w", spec.Extract, err)
	}
	return value, nil
}

func aggregate(tasks []model.QueryTask) *FanoutResult {
	res := &FanoutResult{
		Tasks: tasks,
		Data:  make(map[string]json.RawMessage, len(tasks)),
		Total: len(tasks),
	}
	for _, t := range tasks {
		if t.Status == model.TaskSucceeded {
			if raw, err := json.Marshal(t.Result); err == nil {
				res.Succeeded++
				res.Data[t.TaskID] = raw
				continue
			}
		}
		res.FailedTaskIDs = append(res.FailedTaskIDs, t.TaskID)
		placeholder := t.Spec.Placeholder
		if len(placeholder) == 0 {
			placeholder = json.RawMessage("null")
		}
		res.Data[t.TaskID] = placeholder
	}
	sort.Strings(res.FailedTaskIDs)
	if res.Total == 0 {
		res.Completeness = 1
	} else {
		res.Completeness = float64(res.Succeeded) / float64(res.Total)
	}
	return res
}
