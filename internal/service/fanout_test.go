package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/core"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/domain/model"
	apperrors "github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/errors"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/mocks"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/observability/statsd"
)

func queryTasks(n int) []model.QueryTask {
	tasks := make([]model.QueryTask, n)
	for i := range tasks {
		tasks[i] = model.QueryTask{
			TaskID: fmt.Sprintf("t%02d", i),
			Spec:   model.QuerySpec{Metric: fmt.Sprintf("m%02d", i), Aggregation: "count"},
		}
	}
	return tasks
}

// failingEngine fails the listed metrics and answers the rest.
func failingEngine(fail ...string) core.QueryEngine {
	bad := map[string]bool{}
	for _, m := range fail {
		bad[m] = true
	}
	return engineFunc(func(_ context.Context, req core.QueryRequest) ([]map[string]any, error) {
		if bad[req.Spec.Metric] {
			return nil, errors.New("warehouse timeout")
		}
		return []map[string]any{{"value": 1}}, nil
	})
}

func newFanout(t *testing.T, engine core.QueryEngine, defaults FanoutOptions) (*FanoutExecutor, *statsd.Recorder) {
	t.Helper()
	rec := statsd.NewRecorder()
	e, err := NewFanoutExecutor(FanoutExecutorOptions{Engine: engine, Defaults: defaults, Metrics: rec})
	require.NoError(t, err)
	return e, rec
}

func TestNewFanoutExecutor(t *testing.T) {
	_, err := NewFanoutExecutor(FanoutExecutorOptions{})
	require.Error(t, err)

	e, _ := newFanout(t, failingEngine(), FanoutOptions{Threshold: 7})
	assert.InDelta(t, 1.0, e.defaults.Threshold, 0)
	assert.Equal(t, 8, e.defaults.Concurrency)
}

func TestFanoutExecutor_Execute(t *testing.T) {
	ctx := context.Background()

	t.Run("all succeed", func(t *testing.T) {
		e, rec := newFanout(t, failingEngine(), FanoutOptions{})
		res, err := e.Execute(ctx, "acme", queryTasks(5), FanoutOptions{})
		require.NoError(t, err)
		assert.Equal(t, 5, res.Succeeded)
		assert.InDelta(t, 1.0, res.Completeness, 0)
		assert.False(t, res.Partial())
		assert.Len(t, res.Data, 5)
		assert.JSONEq(t, `[{"value":1}]`, string(res.Data["t03"]))
		assert.InDelta(t, 5, rec.Sum("fanout.tasks", nil), 0)
	})

	t.Run("failures below threshold use placeholders", func(t *testing.T) {
		e, _ := newFanout(t, failingEngine("m01"), FanoutOptions{})
		tasks := queryTasks(4)
		tasks[1].Spec.Placeholder = json.RawMessage(`{"value":0}`)

		res, err := e.Execute(ctx, "acme", tasks, FanoutOptions{Threshold: 0.75})
		require.NoError(t, err)
		assert.True(t, res.Partial())
		assert.InDelta(t, 0.75, res.Completeness, 1e-9)
		assert.Equal(t, []string{"t01"}, res.FailedTaskIDs)
		assert.JSONEq(t, `{"value":0}`, string(res.Data["t01"]))
		assert.Equal(t, model.TaskFailed, res.Tasks[1].Status)
		assert.Contains(t, res.Tasks[1].Error, "warehouse timeout")
	})

	t.Run("default placeholder is null", func(t *testing.T) {
		e, _ := newFanout(t, failingEngine("m00"), FanoutOptions{Threshold: 0.5})
		res, err := e.Execute(ctx, "acme", queryTasks(2), FanoutOptions{})
		require.NoError(t, err)
		assert.Equal(t, "null", string(res.Data["t00"]))
	})

	t.Run("below threshold is a partial failure", func(t *testing.T) {
		e, rec := newFanout(t, failingEngine("m03", "m01"), FanoutOptions{})
		res, err := e.Execute(ctx, "acme", queryTasks(4), FanoutOptions{Threshold: 0.9})
		require.Error(t, err)
		assert.Nil(t, res)
		assert.True(t, apperrors.IsAppError(err, apperrors.ErrCodePartialFailure))
		assert.Equal(t, []string{"t01", "t03"}, apperrors.ToJobError(err).TaskIDs)
		assert.InDelta(t, 1, rec.Sum("fanout.batch", map[string]string{"result": "error"}), 0)
	})

	t.Run("extract applies jmespath", func(t *testing.T) {
		engine := engineFunc(func(context.Context, core.QueryRequest) ([]map[string]any, error) {
			return []map[string]any{{"month": "jan", "value": 3}, {"month": "feb", "value": 5}}, nil
		})
		e, _ := newFanout(t, engine, FanoutOptions{})
		tasks := queryTasks(1)
		tasks[0].Spec.Extract = "[].value"

		res, err := e.Execute(ctx, "acme", tasks, FanoutOptions{})
		require.NoError(t, err)
		assert.JSONEq(t, `[3,5]`, string(res.Data["t00"]))
	})

	t.Run("bad extract fails the task", func(t *testing.T) {
		e, _ := newFanout(t, failingEngine(), FanoutOptions{})
		tasks := queryTasks(1)
		tasks[0].Spec.Extract = "[["

		_, err := e.Execute(ctx, "acme", tasks, FanoutOptions{})
		assert.True(t, apperrors.IsAppError(err, apperrors.ErrCodePartialFailure))
	})

	t.Run("task timeout", func(t *testing.T) {
		engine := engineFunc(func(ctx context.Context, req core.QueryRequest) ([]map[string]any, error) {
			if req.Spec.Metric == "m00" {
				<-ctx.Done()
				return nil, ctx.Err()
			}
			return []map[string]any{}, nil
		})
		e, _ := newFanout(t, engine, FanoutOptions{TaskTimeout: 20 * time.Millisecond})
		res, err := e.Execute(ctx, "acme", queryTasks(2), FanoutOptions{Threshold: 0.5})
		require.NoError(t, err)
		assert.Equal(t, []string{"t00"}, res.FailedTaskIDs)
	})

	t.Run("bounded concurrency", func(t *testing.T) {
		var running, peak atomic.Int32
		engine := engineFunc(func(context.Context, core.QueryRequest) ([]map[string]any, error) {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
			return nil, nil
		})
		e, _ := newFanout(t, engine, FanoutOptions{})
		_, err := e.Execute(ctx, "acme", queryTasks(12), FanoutOptions{Concurrency: 3})
		require.NoError(t, err)
		assert.LessOrEqual(t, peak.Load(), int32(3))
	})
}

func TestFanoutExecutor_Cancel(t *testing.T) {
	ctrl := gomock.NewController(t)
	engine := mocks.NewMockQueryEngine(ctrl)

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{}, 4)
	engine.EXPECT().RunQuery(gomock.Any(), gomock.Any()).DoAndReturn(
		func(taskCtx context.Context, _ core.QueryRequest) ([]map[string]any, error) {
			started <- struct{}{}
			<-taskCtx.Done()
			return nil, taskCtx.Err()
		}).MinTimes(1).MaxTimes(2)

	e, _ := newFanout(t, engine, FanoutOptions{Concurrency: 2, TaskTimeout: time.Minute, GracePeriod: 10 * time.Millisecond})

	go func() {
		<-started
		cancel()
	}()

	res, err := e.Execute(ctx, "acme", queryTasks(6), FanoutOptions{})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, apperrors.IsCanceled(err))
}

// Ten widgets at an 80% threshold: one failure still publishes, four failures do not.
func TestFanoutExecutor_Threshold(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name         string
		fail         []string
		wantErr      bool
		completeness float64
		failedIDs    []string
	}{
		{
			name:         "nine of ten",
			fail:         []string{"m04"},
			completeness: 0.9,
			failedIDs:    []string{"t04"},
		},
		{
			name:         "eight of ten meets the threshold exactly",
			fail:         []string{"m02", "m07"},
			completeness: 0.8,
			failedIDs:    []string{"t02", "t07"},
		},
		{
			name:      "six of ten",
			fail:      []string{"m09", "m00", "m05", "m03"},
			wantErr:   true,
			failedIDs: []string{"t00", "t03", "t05", "t09"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := newFanout(t, failingEngine(tt.fail...), FanoutOptions{Threshold: 0.8})
			res, err := e.Execute(ctx, "acme", queryTasks(10), FanoutOptions{})
			if tt.wantErr {
				require.Error(t, err)
				assert.Nil(t, res)
				assert.True(t, apperrors.IsAppError(err, apperrors.ErrCodePartialFailure))
				jobErr := apperrors.ToJobError(err)
				assert.Equal(t, tt.failedIDs, jobErr.TaskIDs)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.completeness, res.Completeness, 1e-9)
			assert.Equal(t, 10-len(tt.fail), res.Succeeded)
			assert.Equal(t, tt.failedIDs, res.FailedTaskIDs)
			assert.Len(t, res.Data, 10)
		})
	}
}

func TestFanoutExecutor_CancelStopsDispatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	engine := engineFunc(func(context.Context, core.QueryRequest) ([]map[string]any, error) {
		if calls.Add(1) == 1 {
			cancel()
		}
		// The running task finishes inside the grace period.
		return []map[string]any{}, nil
	})
	e, _ := newFanout(t, engine, FanoutOptions{Concurrency: 1, GracePeriod: time.Second})

	res, err := e.Execute(ctx, "acme", queryTasks(4), FanoutOptions{})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, apperrors.IsCanceled(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestFanoutExecutor_AbandonsStragglers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	stuck := make(chan struct{})
	t.Cleanup(func() { close(stuck) })

	started := make(chan struct{}, 2)
	engine := engineFunc(func(context.Context, core.QueryRequest) ([]map[string]any, error) {
		started <- struct{}{}
		<-stuck
		return nil, nil
	})
	e, _ := newFanout(t, engine, FanoutOptions{Concurrency: 2, TaskTimeout: time.Minute, GracePeriod: 20 * time.Millisecond})

	go func() {
		<-started
		cancel()
	}()

	done := make(chan error, 1)
	go func() {
		_, err := e.Execute(ctx, "acme", queryTasks(4), FanoutOptions{})
		done <- err
	}()

	select {
	case err := <-done:
		assert.True(t, apperrors.IsCanceled(err))
	case <-time.After(2 * time.Second):
		t.Fatal("Execute waited on a query that ignores cancellation")
	}
}
