package model

import "encoding/json"

// ModelTier selects the agent model class for a step.
type ModelTier string

const (
	// TierLite is used for cheap extraction.
	TierLite ModelTier = "lite"
	// TierStandard is the default.
	TierStandard ModelTier = "standard"
	// TierAdvanced is used for synthesis.
	TierAdvanced ModelTier = "advanced"
)

// StepSpec describes one generation step.
type StepSpec struct {
	Name         string    `yaml:"name"         json:"name"`
	SchemaKind   string    `yaml:"schema"       json:"schema"`
	Tier         ModelTier `yaml:"tier"         json:"tier,omitempty"`
	Instructions string    `yaml:"instructions" json:"instructions,omitempty"`
	// SkipWhen lists run flags that drop this step from a plan.
	SkipWhen []string `yaml:"skip_when" json:"skip_when,omitempty"`
}

// PipelinePlan is the ordered step list selected once at run start.
type PipelinePlan struct {
	Kind  JobKind    `json:"kind"`
	Mode  string     `json:"mode"`
	Steps []StepSpec `json:"steps"`
}

// StepNames returns the plan's step names in order.
func (p PipelinePlan) StepNames() []string {
	out := make([]string, len(p.Steps))
	for i, s := range p.Steps {
		out[i] = s.Name
	}
	return out
}

// PipelineRun is the per-job record of stage execution.
type PipelineRun struct {
	Mode             string         `json:"mode"`
	Steps            []string       `json:"steps"`
	CurrentStepIndex int            `json:"current_step_index"`
	Attempts         map[string]int `json:"attempts"`
}

// NewPipelineRun starts a run record for plan.
func NewPipelineRun(plan PipelinePlan) *PipelineRun {
	return &PipelineRun{
		Mode:     plan.Mode,
		Steps:    plan.StepNames(),
		Attempts: make(map[string]int, len(plan.Steps)),
	}
}

// AgentRequest is one call to an agent.
type AgentRequest struct {
	Step    StepSpec
	Input   json.RawMessage
	Attempt int
	// Feedback carries the previous attempt's violations so the agent can self-correct.
	Feedback []Violation
}
