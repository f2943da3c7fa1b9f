// Package gemini implements the agent invoker on Google Gemini.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/core"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/domain/model"
	apperrors "github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/errors"
)

const cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// DefaultModels maps tiers to Gemini model names.
func DefaultModels() map[model.ModelTier]string {
	return map[model.ModelTier]string{
		model.TierLite:     "gemini-2.5-flash-lite",
		model.TierStandard: "gemini-2.5-flash",
		model.TierAdvanced: "gemini-2.5-pro",
	}
}

// Options configures an Invoker. Exactly one of APIKey or CredentialsFile is used;
// APIKey wins when both are set.
type Options struct {
	APIKey          string
	CredentialsFile string
	Models          map[model.ModelTier]string
	Temperature     float32
	Logger          *slog.Logger
}

// Invoker calls Gemini with JSON output mode and classifies failures for the retry controller.
type Invoker struct {
	client      *genai.Client
	models      map[model.ModelTier]string
	temperature float32
	logger      *slog.Logger
}

// New creates an Invoker.
func New(ctx context.Context, opts Options) (*Invoker, error) {
	clientOpt, err := clientOption(ctx, opts)
	if err != nil {
		return nil, err
	}
	client, err := genai.NewClient(ctx, clientOpt)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	models := DefaultModels()
	for tier, name := range opts.Models {
		if name != "" {
			models[tier] = name
		}
	}
	temp := opts.Temperature
	if temp <= 0 {
		temp = 0.1
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Invoker{
		client:      client,
		models:      models,
		temperature: temp,
		logger:      logger.With("component", "gemini_invoker"),
	}, nil
}

func clientOption(ctx context.Context, opts Options) (option.ClientOption, error) {
	if opts.APIKey != "" {
		return option.WithAPIKey(opts.APIKey), nil
	}
	if opts.CredentialsFile == "" {
		return nil, apperrors.FatalConfig("gemini: AGENT_API_KEY or AGENT_CREDENTIALS_FILE is required")
	}
	raw, err := os.ReadFile(opts.CredentialsFile)
	if err != nil {
		return nil, apperrors.FatalConfigf("gemini: read credentials: %v", err)
	}
	creds, err := google.CredentialsFromJSON(ctx, raw, cloudPlatformScope)
	if err != nil {
		return nil, apperrors.FatalConfigf("gemini: parse credentials: %v", err)
	}
	return option.WithCredentials(creds), nil
}

// Model returns the model name for tier, falling back to the standard tier.
func (i *Invoker) Model(tier model.ModelTier) string {
	if name, ok := i.models[tier]; ok && name != "" {
		return name
	}
	return i.models[model.TierStandard]
}

// Invoke runs one attempt of a step.
func (i *Invoker) Invoke(ctx context.Context, req model.AgentRequest) (json.RawMessage, error) {
	name := i.Model(req.Step.Tier)
	if name == "" {
		return nil, apperrors.FatalConfigf("no model configured for tier %s", req.Step.Tier)
	}
	gm := i.client.GenerativeModel(name)
	gm.SetTemperature(i.temperature)
	gm.ResponseMIMEType = "application/json"

	prompt := BuildPrompt(req)
	resp, err := gm.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		classified := ClassifyError(ctx, err)
		i.logger.WarnContext(ctx, "gemini call failed",
			"step", req.Step.Name, "attempt", req.Attempt, "model", name, "code", apperrors.GetCode(classified))
		return nil, classified
	}

	text, err := extractText(resp)
	if err != nil {
		return nil, err
	}
	return ParseOutput(text)
}

// Close releases the underlying client.
func (i *Invoker) Close() error {
	if i.client != nil {
		return i.client.Close()
	}
	return nil
}

// BuildPrompt renders the step instructions, its input and any violations from the previous attempt.
func BuildPrompt(req model.AgentRequest) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(req.Step.Instructions))
	b.WriteString("\n\nRespond with a single JSON document matching the \"")
	b.WriteString(req.Step.SchemaKind)
	b.WriteString("\" schema. Do not include commentary.\n\nInput:\n")
	if len(req.Input) > 0 {
		b.Write(req.Input)
	} else {
		b.WriteString("{}")
	}
	if len(req.Feedback) > 0 {
		b.WriteString("\n\nYour previous answer was rejected. Fix these problems:\n")
		for _, v := range req.Feedback {
			fmt.Fprintf(&b, "- %s: %s\n", v.Field, v.Reason)
		}
	}
	return b.String()
}

func extractText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", apperrors.InvalidOutput(nil, "no candidates in response")
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", apperrors.InvalidOutput(nil, "no content in response")
	}
	var parts []string
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			parts = append(parts, string(text))
		}
	}
	if len(parts) == 0 {
		return "", apperrors.InvalidOutput(nil, "no text parts in response")
	}
	return strings.Join(parts, ""), nil
}

// CleanJSONBlock strips markdown code fences around a JSON answer.
func CleanJSONBlock(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

// ParseOutput turns agent text into a JSON payload or an InvalidOutput error.
func ParseOutput(text string) (json.RawMessage, error) {
	cleaned := CleanJSONBlock(text)
	if cleaned == "" {
		return nil, apperrors.InvalidOutput(nil, "empty agent output")
	}
	if !json.Valid([]byte(cleaned)) {
		return nil, apperrors.InvalidOutput(errors.New("malformed JSON"), "agent output is not JSON")
	}
	return json.RawMessage(cleaned), nil
}

type httpCoder interface {
	HTTPCode() int
}

// ClassifyError maps a Gemini client error to Transient, InvalidOutput or FatalConfig.
func ClassifyError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeCanceled, "agent call canceled")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.Transient(err, "agent call timed out")
	}

	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		return apperrors.InvalidOutput(err, "agent response blocked")
	}

	code := 0
	var gerr *googleapi.Error
	var coder httpCoder
	switch {
	case errors.As(err, &gerr):
		code = gerr.Code
	case errors.As(err, &coder):
		code = coder.HTTPCode()
	}

	switch {
	case code == http.StatusTooManyRequests, code >= http.StatusInternalServerError:
		return apperrors.Transient(err, fmt.Sprintf("agent unavailable (%d)", code))
	case code == http.StatusUnauthorized, code == http.StatusForbidden, code == http.StatusNotFound:
		return apperrors.Wrap(err, apperrors.ErrCodeFatalConfig, "agent rejected credentials or model")
	case code >= http.StatusBadRequest:
		return apperrors.InvalidOutput(err, fmt.Sprintf("agent rejected request (%d)", code))
	}
	return apperrors.Transient(err, "agent call failed")
}

var _ core.AgentInvoker = (*Invoker)(nil)
