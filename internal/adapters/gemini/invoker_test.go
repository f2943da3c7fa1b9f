package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/domain/model"
	apperrors "github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/errors"
)

func TestCleanJSONBlock(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{in: "{\"a\":1}", want: "{\"a\":1}"},
		{in: "```json\n{\"a\":1}\n```", want: "{\"a\":1}"},
		{in: "```\n[1,2]\n```  ", want: "[1,2]"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CleanJSONBlock(tt.in))
	}
}

func TestParseOutput(t *testing.T) {
	out, err := ParseOutput("```json\n{\"headline\":\"x\"}\n```")
	require.NoError(t, err)
	assert.JSONEq(t, `{"headline":"x"}`, string(out))

	_, err = ParseOutput("   ")
	assert.True(t, apperrors.IsInvalidOutput(err))

	_, err = ParseOutput("here you go: {")
	assert.True(t, apperrors.IsInvalidOutput(err))
}

type fakeAPIError struct{ code int }

func (e fakeAPIError) Error() string { return fmt.Sprintf("api error %d", e.code) }
func (e fakeAPIError) HTTPCode() int { return e.code }

func TestClassifyError(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name string
		err  error
		want apperrors.ErrorCode
	}{
		{name: "deadline", err: context.DeadlineExceeded, want: apperrors.ErrCodeTransient},
		{name: "rate limited", err: &googleapi.Error{Code: 429}, want: apperrors.ErrCodeTransient},
		{name: "unavailable", err: fmt.Errorf("rpc: %w", &googleapi.Error{Code: 503}), want: apperrors.ErrCodeTransient},
		{name: "bad key", err: &googleapi.Error{Code: 403}, want: apperrors.ErrCodeFatalConfig},
		{name: "unknown model", err: fakeAPIError{code: 404}, want: apperrors.ErrCodeFatalConfig},
		{name: "bad request", err: fakeAPIError{code: 400}, want: apperrors.ErrCodeInvalidOutput},
		{name: "blocked", err: &genai.BlockedError{}, want: apperrors.ErrCodeInvalidOutput},
		{name: "unknown", err: errors.New("connection reset"), want: apperrors.ErrCodeTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, apperrors.GetCode(ClassifyError(ctx, tt.err)))
		})
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.True(t, apperrors.IsCanceled(ClassifyError(cancelled, context.Canceled)))
	assert.NoError(t, ClassifyError(ctx, nil))
}

func TestBuildPrompt(t *testing.T) {
	req := model.AgentRequest{
		Step:    model.StepSpec{Name: "synthesize", SchemaKind: "value_proposition", Instructions: "  Write it.  "},
		Input:   json.RawMessage(`{"company":"acme"}`),
		Attempt: 2,
		Feedback: []model.Violation{
			{Field: "headline", Reason: "is required"},
		},
	}
	prompt := BuildPrompt(req)
	assert.Contains(t, prompt, "Write it.")
	assert.Contains(t, prompt, `"value_proposition"`)
	assert.Contains(t, prompt, `{"company":"acme"}`)
	assert.Contains(t, prompt, "- headline: is required")

	req.Feedback = nil
	req.Input = nil
	assert.NotContains(t, BuildPrompt(req), "rejected")
}

func TestInvokerModelFallback(t *testing.T) {
	inv := &Invoker{models: map[model.ModelTier]string{model.TierStandard: "std"}}
	assert.Equal(t, "std", inv.Model(model.TierAdvanced))
	assert.Equal(t, "std", inv.Model(model.TierStandard))
}

func TestClientOptionRequiresCredentials(t *testing.T) {
	_, err := clientOption(context.Background(), Options{})
	assert.True(t, apperrors.IsFatalConfig(err))

	_, err = clientOption(context.Background(), Options{CredentialsFile: "/nonexistent/creds.json"})
	assert.True(t, apperrors.IsFatalConfig(err))

	opt, err := clientOption(context.Background(), Options{APIKey: "k"})
	require.NoError(t, err)
	assert.NotNil(t, opt)
}
