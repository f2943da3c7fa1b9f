// Package pipeline loads step definitions and selects the step plan for a run.
package pipeline

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/domain/model"
)

//go:embed pipelines.yaml
var defaultDefinition []byte

// Run flags evaluated against a step's skip_when list.
const (
	FlagNoDocuments = "no_documents"
	FlagNoSources   = "no_sources"
)

type kindDefinition struct {
	DefaultMode string              `yaml:"default_mode"`
	Modes       map[string][]string `yaml:"modes"`
}

// Definition is the parsed step catalogue plus per-kind mode tables.
type Definition struct {
	Steps map[string]model.StepSpec        `yaml:"steps"`
	Kinds map[model.JobKind]kindDefinition `yaml:"kinds"`
}

// Default returns the embedded definition.
func Default() (*Definition, error) {
	return Parse(defaultDefinition)
}

// Load reads a definition from path, or returns the embedded default when path is empty.
func Load(path string) (*Definition, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("pipeline: read %s: %w", path, err)
	}
	def, err := Parse(content)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %s: %w", path, err)
	}
	return def, nil
}

// Parse decodes and validates a YAML definition.
func Parse(data []byte) (*Definition, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("pipeline: definition is empty")
	}
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("pipeline: decode definition: %w", err)
	}
	if err := def.normalize(); err != nil {
		return nil, err
	}
	return &def, nil
}

func (d *Definition) normalize() error {
	for name, step := range d.Steps {
		step.Name = name
		if step.SchemaKind == "" {
			return fmt.Errorf("pipeline: step %q has no schema", name)
		}
		if step.Tier == "" {
			step.Tier = model.TierStandard
		}
		d.Steps[name] = step
	}
	for kind, kd := range d.Kinds {
		if !kind.Valid() {
			return fmt.Errorf("pipeline: unknown job kind %q", kind)
		}
		if _, ok := kd.Modes[kd.DefaultMode]; !ok {
			return fmt.Errorf("pipeline: kind %s default mode %q is not defined", kind, kd.DefaultMode)
		}
		for mode, steps := range kd.Modes {
			if len(steps) == 0 {
				return fmt.Errorf("pipeline: kind %s mode %s has no steps", kind, mode)
			}
			for _, s := range steps {
				if _, ok := d.Steps[s]; !ok {
					return fmt.Errorf("pipeline: kind %s mode %s references unknown step %q", kind, mode, s)
				}
			}
		}
	}
	return nil
}

// Step returns the catalogue entry for name.
func (d *Definition) Step(name string) (model.StepSpec, bool) {
	s, ok := d.Steps[name]
	return s, ok
}

// Plan selects the ordered steps for kind and mode, dropping steps whose skip_when
// matches any of flags. An empty mode selects the kind's default mode.
func (d *Definition) Plan(kind model.JobKind, mode string, flags []string) (model.PipelinePlan, error) {
	kd, ok := d.Kinds[kind]
	if !ok {
		return model.PipelinePlan{}, fmt.Errorf("pipeline: no definition for kind %s", kind)
	}
	if mode == "" {
		mode = kd.DefaultMode
	}
	names, ok := kd.Modes[mode]
	if !ok {
		return model.PipelinePlan{}, fmt.Errorf("pipeline: kind %s has no mode %q", kind, mode)
	}

	plan := model.PipelinePlan{Kind: kind, Mode: mode}
	for _, name := range names {
		step := d.Steps[name]
		if skip(step, flags) {
			continue
		}
		plan.Steps = append(plan.Steps, step)
	}
	if len(plan.Steps) == 0 {
		return model.PipelinePlan{}, fmt.Errorf("pipeline: kind %s mode %s has no runnable steps for flags %v", kind, mode, flags)
	}
	return plan, nil
}

func skip(step model.StepSpec, flags []string) bool {
	for _, f := range step.SkipWhen {
		if slices.Contains(flags, f) {
			return true
		}
	}
	return false
}
