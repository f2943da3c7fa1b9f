package config

import (
	"strings"
	"time"
)

const (
	// DefaultMaxAttempts bounds agent attempts per step.
	DefaultMaxAttempts = 3
	// DefaultRefinementLimit is K, the number of feedback rounds a lineage may use.
	DefaultRefinementLimit = 3
	// DefaultFanoutThreshold is strict mode: every task must succeed.
	DefaultFanoutThreshold = 1.0
)

// PipelineConfig controls the generate→validate→retry loop.
type PipelineConfig struct {
	MaxAttempts    int           `env:"PIPELINE_MAX_ATTEMPTS"    envDefault:"3"`
	AgentTimeout   time.Duration `env:"PIPELINE_AGENT_TIMEOUT"   envDefault:"60s"`
	DefinitionFile string        `env:"PIPELINE_DEFINITION_FILE"`
}

// Sanitize applies guardrails to pipeline configuration.
func (p *PipelineConfig) Sanitize() {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.MaxAttempts > 10 {
		p.MaxAttempts = 10
	}
	if p.AgentTimeout <= 0 {
		p.AgentTimeout = 60 * time.Second
	}
	p.DefinitionFile = strings.TrimSpace(p.DefinitionFile)
}

// ArtifactConfig controls the approval lifecycle.
type ArtifactConfig struct {
	RefinementLimit int `env:"ARTIFACT_REFINEMENT_LIMIT" envDefault:"3"`
}

// Sanitize applies guardrails to artifact configuration.
func (a *ArtifactConfig) Sanitize() {
	if a.RefinementLimit < 0 {
		a.RefinementLimit = 0
	}
}

// FanoutConfig controls analytics query batches.
type FanoutConfig struct {
	Concurrency int           `env:"FANOUT_CONCURRENCY"  envDefault:"8"`
	Threshold   float64       `env:"FANOUT_THRESHOLD"    envDefault:"1.0"`
	TaskTimeout time.Duration `env:"FANOUT_TASK_TIMEOUT" envDefault:"30s"`
	GracePeriod time.Duration `env:"FANOUT_GRACE_PERIOD" envDefault:"5s"`
	// MemorySeedFile loads analytics events for the in-memory query engine.
	MemorySeedFile string `env:"FANOUT_MEMORY_SEED_FILE"`
}

// Sanitize clamps the threshold to (0, 1] and the pool to at least one worker.
func (f *FanoutConfig) Sanitize() {
	if f.Concurrency < 1 {
		f.Concurrency = 1
	}
	if f.Threshold <= 0 || f.Threshold > 1 {
		f.Threshold = DefaultFanoutThreshold
	}
	if f.TaskTimeout <= 0 {
		f.TaskTimeout = 30 * time.Second
	}
	if f.GracePeriod < 0 {
		f.GracePeriod = 0
	}
	f.MemorySeedFile = strings.TrimSpace(f.MemorySeedFile)
}

// AgentProvider selects the agent implementation.
type AgentProvider string

const (
	AgentProviderGemini  AgentProvider = "gemini"
	AgentProviderFixture AgentProvider = "fixture"
)

// Valid returns true for a known provider.
func (p AgentProvider) Valid() bool {
	return p == AgentProviderGemini || p == AgentProviderFixture
}

// AgentConfig configures the agent provider.
type AgentConfig struct {
	Provider        AgentProvider `env:"PROVIDER"         envDefault:"gemini"`
	APIKey          string        `env:"API_KEY"`
	CredentialsFile string        `env:"CREDENTIALS_FILE"`
	ModelLite       string        `env:"MODEL_LITE"       envDefault:"gemini-2.5-flash-lite"`
	ModelStandard   string        `env:"MODEL_STANDARD"   envDefault:"gemini-2.5-flash"`
	ModelAdvanced   string        `env:"MODEL_ADVANCED"   envDefault:"gemini-2.5-pro"`
	Temperature     float32       `env:"TEMPERATURE"      envDefault:"0.2"`
	FixtureDir      string        `env:"FIXTURE_DIR"      envDefault:"testdata/agent"`
}

// Sanitize trims provider settings.
func (a *AgentConfig) Sanitize() {
	a.Provider = AgentProvider(strings.ToLower(strings.TrimSpace(string(a.Provider))))
	if a.Provider == "" {
		a.Provider = AgentProviderGemini
	}
	a.APIKey = strings.TrimSpace(a.APIKey)
	a.CredentialsFile = strings.TrimSpace(a.CredentialsFile)
	if a.Temperature < 0 {
		a.Temperature = 0
	}
}
