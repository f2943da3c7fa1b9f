package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/adapters/fixtureagent"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/domain/model"
	apperrors "github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/errors"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/mocks"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/observability/statsd"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/schema"
)

var synthesizeStep = model.StepSpec{Name: "synthesize", SchemaKind: "value_proposition", Tier: model.TierAdvanced}

func newRetry(t *testing.T, agent *fixtureagent.Agent) (*RetryController, *statsd.Recorder) {
	t.Helper()
	rec := statsd.NewRecorder()
	rc, err := NewRetryController(RetryControllerOptions{
		Agent:        agent,
		Validator:    schema.MustNew(),
		AgentTimeout: time.Second,
		Metrics:      rec,
	})
	require.NoError(t, err)
	return rc, rec
}

func TestNewRetryController(t *testing.T) {
	_, err := NewRetryController(RetryControllerOptions{Validator: schema.MustNew()})
	require.Error(t, err)
	_, err = NewRetryController(RetryControllerOptions{Agent: fixtureagent.New(nil)})
	require.Error(t, err)
	assert.Panics(t, func() { MustNewRetryController(RetryControllerOptions{}) })
}

func TestRetryController_Execute(t *testing.T) {
	ctx := context.Background()
	input := json.RawMessage(`{"input":{}}`)

	t.Run("first attempt valid", func(t *testing.T) {
		agent := fixtureagent.Outputs(map[string]string{"synthesize": vpOutput})
		rc, rec := newRetry(t, agent)

		out, report, err := rc.Execute(ctx, synthesizeStep, input, 3)
		require.NoError(t, err)
		assert.JSONEq(t, vpOutput, string(out))
		assert.Equal(t, 1, report.Attempts)
		assert.Equal(t, []string{OutcomeSuccess}, report.Outcomes)
		assert.InDelta(t, 1, rec.Sum("agent.attempt", map[string]string{"outcome": OutcomeSuccess}), 0)
	})

	t.Run("violations are fed back", func(t *testing.T) {
		agent := fixtureagent.New(map[string][]fixtureagent.Response{
			"synthesize": {
				{Output: json.RawMessage(`{"headline":"Fast"}`)},
				{Output: json.RawMessage(vpOutput)},
			},
		})
		rc, _ := newRetry(t, agent)

		out, report, err := rc.Execute(ctx, synthesizeStep, input, 3)
		require.NoError(t, err)
		assert.JSONEq(t, vpOutput, string(out))
		assert.Equal(t, 2, report.Attempts)
		assert.Equal(t, []string{OutcomeInvalid, OutcomeSuccess}, report.Outcomes)

		reqs := agent.Requests()
		require.Len(t, reqs, 2)
		assert.Empty(t, reqs[0].Feedback)
		require.NotEmpty(t, reqs[1].Feedback)
		assert.Equal(t, 2, reqs[1].Attempt)
		assert.JSONEq(t, string(input), string(reqs[1].Input))
	})

	t.Run("exhausted with invalid output", func(t *testing.T) {
		agent := fixtureagent.Outputs(map[string]string{"synthesize": `{"headline":""}`})
		rc, _ := newRetry(t, agent)

		out, report, err := rc.Execute(ctx, synthesizeStep, input, 3)
		require.Error(t, err)
		assert.Nil(t, out)
		assert.Equal(t, 3, agent.Calls("synthesize"))
		assert.Equal(t, 3, report.Attempts)
		assert.True(t, apperrors.IsAppError(err, apperrors.ErrCodeValidationExhausted))

		je := apperrors.ToJobError(err)
		assert.Equal(t, "synthesize", je.Step)
		assert.NotEmpty(t, je.Violations)
	})

	t.Run("transient failures share the budget", func(t *testing.T) {
		agent := fixtureagent.New(map[string][]fixtureagent.Response{
			"synthesize": {
				{Err: apperrors.Transient(errors.New("503"), "upstream unavailable")},
				{Err: apperrors.InvalidOutput(nil, "not json")},
				{Output: json.RawMessage(vpOutput)},
			},
		})
		rc, _ := newRetry(t, agent)

		_, report, err := rc.Execute(ctx, synthesizeStep, input, 3)
		require.NoError(t, err)
		assert.Equal(t, []string{OutcomeTransient, OutcomeInvalid, OutcomeSuccess}, report.Outcomes)

		reqs := agent.Requests()
		require.Len(t, reqs, 3)
		require.Len(t, reqs[2].Feedback, 1)
		assert.Equal(t, schema.RootField, reqs[2].Feedback[0].Field)
	})

	t.Run("only transient failures end transient", func(t *testing.T) {
		agent := fixtureagent.New(map[string][]fixtureagent.Response{
			"synthesize": {{Err: apperrors.Transient(nil, "rate limited")}},
		})
		rc, _ := newRetry(t, agent)

		_, report, err := rc.Execute(ctx, synthesizeStep, input, 2)
		require.Error(t, err)
		assert.Equal(t, 2, report.Attempts)
		assert.True(t, apperrors.IsTransient(err))
		assert.Equal(t, "synthesize", apperrors.ToJobError(err).Step)
	})

	t.Run("fatal stops immediately", func(t *testing.T) {
		agent := fixtureagent.New(map[string][]fixtureagent.Response{
			"synthesize": {{Err: apperrors.FatalConfig("model not found")}},
		})
		rc, _ := newRetry(t, agent)

		_, report, err := rc.Execute(ctx, synthesizeStep, input, 3)
		require.Error(t, err)
		assert.Equal(t, 1, report.Attempts)
		assert.True(t, apperrors.IsFatalConfig(err))
	})

	t.Run("zero budget still makes one attempt", func(t *testing.T) {
		agent := fixtureagent.Outputs(map[string]string{"synthesize": vpOutput})
		rc, _ := newRetry(t, agent)

		_, report, err := rc.Execute(ctx, synthesizeStep, input, 0)
		require.NoError(t, err)
		assert.Equal(t, 1, report.Attempts)
	})
}

func TestRetryController_Timeouts(t *testing.T) {
	ctrl := gomock.NewController(t)
	agent := mocks.NewMockAgentInvoker(ctrl)

	gomock.InOrder(
		agent.EXPECT().Invoke(gomock.Any(), gomock.Any()).DoAndReturn(
			func(ctx context.Context, _ model.AgentRequest) (json.RawMessage, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			}),
		agent.EXPECT().Invoke(gomock.Any(), gomock.Any()).Return(json.RawMessage(vpOutput), nil),
	)

	rc, err := NewRetryController(RetryControllerOptions{
		Agent:        agent,
		Validator:    schema.MustNew(),
		AgentTimeout: 20 * time.Millisecond,
	})
	require.NoError(t, err)

	_, report, err := rc.Execute(context.Background(), synthesizeStep, json.RawMessage(`{}`), 3)
	require.NoError(t, err)
	assert.Equal(t, []string{OutcomeTimeout, OutcomeSuccess}, report.Outcomes)
}

func TestRetryController_CancelDoesNotConsumeAttempt(t *testing.T) {
	ctrl := gomock.NewController(t)
	agent := mocks.NewMockAgentInvoker(ctrl)

	ctx, cancel := context.WithCancel(context.Background())
	agent.EXPECT().Invoke(gomock.Any(), gomock.Any()).DoAndReturn(
		func(callCtx context.Context, _ model.AgentRequest) (json.RawMessage, error) {
			cancel()
			<-callCtx.Done()
			return nil, callCtx.Err()
		}).Times(1)

	rc, err := NewRetryController(RetryControllerOptions{Agent: agent, Validator: schema.MustNew()})
	require.NoError(t, err)

	_, report, err := rc.Execute(ctx, synthesizeStep, json.RawMessage(`{}`), 3)
	require.Error(t, err)
	assert.True(t, apperrors.IsCanceled(err))
	assert.Equal(t, 0, report.Attempts)
	assert.Empty(t, report.Outcomes)
}
