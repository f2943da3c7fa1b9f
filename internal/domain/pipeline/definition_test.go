package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/domain/model"
)

func TestDefault_PlanForDerive(t *testing.T) {
	def, err := Default()
	require.NoError(t, err)

	tests := []struct {
		name  string
		mode  string
		flags []string
		want  []string
	}{
		{name: "default mode", want: []string{"extract", "research", "synthesize", "validate"}},
		{name: "no documents", mode: "full", flags: []string{FlagNoDocuments}, want: []string{"research", "synthesize", "validate"}},
		{name: "collateral only", mode: "collateral_only", want: []string{"extract", "synthesize", "validate"}},
		{
			name:  "collateral only without documents or sources",
			mode:  "collateral_only",
			flags: []string{FlagNoDocuments, FlagNoSources},
			want:  []string{"synthesize", "validate"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := def.Plan(model.JobKindDeriveArtifact, tt.mode, tt.flags)
			require.NoError(t, err)
			assert.Equal(t, tt.want, plan.StepNames())
		})
	}
}

func TestDefault_StepCatalogue(t *testing.T) {
	def, err := Default()
	require.NoError(t, err)

	step, ok := def.Step("synthesize")
	require.True(t, ok)
	assert.Equal(t, "synthesize", step.Name)
	assert.Equal(t, "value_proposition", step.SchemaKind)
	assert.Equal(t, model.TierAdvanced, step.Tier)

	plan, err := def.Plan(model.JobKindGenerateTemplates, "", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"design_templates"}, plan.StepNames())
}

func TestPlan_Errors(t *testing.T) {
	def, err := Default()
	require.NoError(t, err)

	_, err = def.Plan(model.JobKindGenerateAnalytics, "", nil)
	assert.Error(t, err, "analytics has no generation steps")

	_, err = def.Plan(model.JobKindDeriveArtifact, "express", nil)
	assert.Error(t, err)
}

func TestParse_RejectsBrokenDefinitions(t *testing.T) {
	tests := map[string]string{
		"empty":          "  ",
		"missing schema": "steps:\n  a: {tier: lite}\n",
		"unknown step": `steps:
  a: {schema: x}
kinds:
  derive-artifact:
    default_mode: m
    modes:
      m: [b]
`,
		"bad default mode": `steps:
  a: {schema: x}
kinds:
  derive-artifact:
    default_mode: other
    modes:
      m: [a]
`,
		"unknown kind": `steps:
  a: {schema: x}
kinds:
  browser:
    default_mode: m
    modes:
      m: [a]
`,
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoad_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`steps:
  only: {schema: value_proposition}
kinds:
  derive-artifact:
    default_mode: quick
    modes:
      quick: [only]
`), 0o600))

	def, err := Load(path)
	require.NoError(t, err)
	plan, err := def.Plan(model.JobKindDeriveArtifact, "", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"only"}, plan.StepNames())
	assert.Equal(t, model.TierStandard, plan.Steps[0].Tier)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
