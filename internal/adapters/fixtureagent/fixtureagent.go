// Package fixtureagent replays canned agent responses. It backs AGENT_PROVIDER=fixture for
// local runs and is used by the service tests.
package fixtureagent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/core"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/domain/model"
	apperrors "github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/errors"
)

// Response is one scripted attempt result. Exactly one of Output or Err is used.
type Response struct {
	Output json.RawMessage
	Err    error
}

// Agent returns scripted responses per step. Attempt n of a step gets the n-th response;
// attempts past the end repeat the last one.
type Agent struct {
	mu        sync.Mutex
	responses map[string][]Response
	calls     map[string]int
	requests  []model.AgentRequest
}

// New creates an Agent from scripted responses keyed by step name.
func New(responses map[string][]Response) *Agent {
	cp := make(map[string][]Response, len(responses))
	for step, rs := range responses {
		cp[step] = append([]Response(nil), rs...)
	}
	return &Agent{responses: cp, calls: make(map[string]int)}
}

// Outputs is shorthand for an agent whose steps always succeed with one payload each.
func Outputs(outputs map[string]string) *Agent {
	rs := make(map[string][]Response, len(outputs))
	for step, out := range outputs {
		rs[step] = []Response{{Output: json.RawMessage(out)}}
	}
	return New(rs)
}

// Invoke returns the scripted response for the request's step and attempt.
func (a *Agent) Invoke(ctx context.Context, req model.AgentRequest) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeCanceled, "agent call canceled")
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	a.requests = append(a.requests, req)
	a.calls[req.Step.Name]++
	script, ok := a.responses[req.Step.Name]
	if !ok || len(script) == 0 {
		return nil, apperrors.FatalConfigf("no fixture for step %s", req.Step.Name)
	}
	idx := min(a.calls[req.Step.Name]-1, len(script)-1)
	r := script[idx]
	if r.Err != nil {
		return nil, r.Err
	}
	out := make(json.RawMessage, len(r.Output))
	copy(out, r.Output)
	return out, nil
}

// Calls reports how many times step was invoked.
func (a *Agent) Calls(step string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[step]
}

// Requests returns every request received, in order.
func (a *Agent) Requests() []model.AgentRequest {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]model.AgentRequest(nil), a.requests...)
}

// fixtureFile is the on-disk format: a list of attempts, each either an output document or an error.
type fixtureFile struct {
	Responses []struct {
		Output any    `yaml:"output"`
		Error  string `yaml:"error"`
		// Kind selects the error class: transient (default), invalid_output or fatal.
		Kind string `yaml:"kind"`
	} `yaml:"responses"`
}

// LoadDir reads <step>.yaml (or .yml, .json) files from dir.
func LoadDir(dir string) (*Agent, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, apperrors.FatalConfigf("read fixture dir %s: %v", dir, err)
	}
	responses := make(map[string][]Response)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext != ".yaml" && ext != ".yml" && ext != ".json" {
			continue
		}
		raw, readErr := os.ReadFile(filepath.Join(dir, e.Name()))
		if readErr != nil {
			return nil, fmt.Errorf("read fixture %s: %w", e.Name(), readErr)
		}
		rs, parseErr := parseFixture(raw)
		if parseErr != nil {
			return nil, apperrors.FatalConfigf("parse fixture %s: %v", e.Name(), parseErr)
		}
		responses[strings.TrimSuffix(e.Name(), ext)] = rs
	}
	return New(responses), nil
}

func parseFixture(raw []byte) ([]Response, error) {
	var f fixtureFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, err
	}
	if len(f.Responses) == 0 {
		return nil, fmt.Errorf("no responses")
	}
	out := make([]Response, 0, len(f.Responses))
	for i, r := range f.Responses {
		if r.Error != "" {
			out = append(out, Response{Err: fixtureError(r.Kind, r.Error)})
			continue
		}
		doc, err := json.Marshal(normalize(r.Output))
		if err != nil {
			return nil, fmt.Errorf("response %d: %w", i, err)
		}
		out = append(out, Response{Output: doc})
	}
	return out, nil
}

func fixtureError(kind, msg string) error {
	switch kind {
	case "invalid_output":
		return apperrors.InvalidOutput(nil, msg)
	case "fatal":
		return apperrors.FatalConfig(msg)
	default:
		return apperrors.Transient(nil, msg)
	}
}

// normalize converts yaml's map[string]any trees into JSON-encodable values.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			t[k] = normalize(val)
		}
		return t
	case map[any]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[fmt.Sprint(k)] = normalize(val)
		}
		return m
	case []any:
		for i, val := range t {
			t[i] = normalize(val)
		}
		return t
	default:
		return v
	}
}

var _ core.AgentInvoker = (*Agent)(nil)
