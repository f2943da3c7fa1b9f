package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/errors"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/observability/statsd"
)

func TestEmitJobLifecycle(t *testing.T) {
	t.Run("nil sink is a no-op", func(t *testing.T) {
		EmitJobLifecycle(nil, JobMetric{JobKind: "x"})
	})

	t.Run("error carries class", func(t *testing.T) {
		rec := statsd.NewRecorder()
		EmitJobLifecycle(rec, JobMetric{
			JobKind:    "generate-template",
			Transition: "failed",
			Result:     ResultError,
			Duration:   2 * time.Second,
			Err:        apperrors.Transient(errors.New("boom"), "agent busy"),
		})

		counts := rec.Find("job.transition")
		require.Len(t, counts, 1)
		assert.Equal(t, "transient_error", counts[0].Tags["error_class"])
		assert.Equal(t, "generate-template", counts[0].Tags["job_kind"])

		timings := rec.Find("job.duration")
		require.Len(t, timings, 1)
		assert.InDelta(t, 2000, timings[0].Value, 0.001)
	})

	t.Run("success has no class", func(t *testing.T) {
		rec := statsd.NewRecorder()
		EmitJobLifecycle(rec, JobMetric{JobKind: "k", Transition: "completed", Result: ResultSuccess})
		counts := rec.Find("job.transition")
		require.Len(t, counts, 1)
		_, ok := counts[0].Tags["error_class"]
		assert.False(t, ok)
		assert.Empty(t, rec.Find("job.duration"))
	})
}

func TestEmitAgentAttempt(t *testing.T) {
	rec := statsd.NewRecorder()
	EmitAgentAttempt(rec, AttemptMetric{Step: "extract", Attempt: 1, Outcome: "invalid_output"})
	EmitAgentAttempt(rec, AttemptMetric{Step: "extract", Attempt: 2, Outcome: "success", Duration: time.Millisecond})

	assert.InDelta(t, 2, rec.Sum("agent.attempt", map[string]string{"step": "extract"}), 0)
	assert.InDelta(t, 1, rec.Sum("agent.attempt", map[string]string{"outcome": "success"}), 0)
	assert.Len(t, rec.Find("agent.duration"), 1)
}

func TestEmitFanout(t *testing.T) {
	rec := statsd.NewRecorder()
	EmitFanout(rec, FanoutMetric{Total: 10, Succeeded: 7, Completeness: 0.7, Result: ResultError})

	assert.InDelta(t, 10, rec.Sum("fanout.tasks", nil), 0)
	assert.InDelta(t, 3, rec.Sum("fanout.tasks_failed", nil), 0)
	g := rec.Find("fanout.completeness")
	require.Len(t, g, 1)
	assert.InDelta(t, 0.7, g[0].Value, 1e-9)
}

func TestCloneTags(t *testing.T) {
	assert.Nil(t, CloneTags(nil))
	src := map[string]string{"a": "b"}
	cp := CloneTags(src)
	cp["a"] = "c"
	assert.Equal(t, "b", src["a"])
}
