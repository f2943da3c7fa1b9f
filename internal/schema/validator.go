// Package schema validates agent output against the JSON Schemas bundled with the service.
package schema

import (
	"embed"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/domain/model"
)

//go:embed schemas/*.json
var bundled embed.FS

// Schema kinds bundled with the service.
const (
	KindDocumentExtract     = "document_extract"
	KindResearchNotes       = "research_notes"
	KindValueProposition    = "value_proposition"
	KindSectionReplacements = "section_replacements"
	KindTemplateSet         = "template_set"
)

// RootField names the document root in violations.
const RootField = "(root)"

// Validator checks payloads against compiled schemas. It is safe for concurrent use.
type Validator struct {
	schemas map[string]*gojsonschema.Schema
}

// New compiles every bundled schema.
func New() (*Validator, error) {
	entries, err := bundled.ReadDir("schemas")
	if err != nil {
		return nil, fmt.Errorf("read bundled schemas: %w", err)
	}
	sources := make(map[string][]byte, len(entries))
	for _, e := range entries {
		data, err := bundled.ReadFile(path.Join("schemas", e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", e.Name(), err)
		}
		sources[strings.TrimSuffix(e.Name(), ".json")] = data
	}
	return NewFromSources(sources)
}

// MustNew is New that panics on error. Bundled schemas are compiled at build time, so
// a failure here is a programming error.
func MustNew() *Validator {
	v, err := New()
	if err != nil {
		panic(err) //nolint:forbidigo // bundled schemas must compile
	}
	return v
}

// NewFromSources compiles schemas keyed by kind.
func NewFromSources(sources map[string][]byte) (*Validator, error) {
	v := &Validator{schemas: make(map[string]*gojsonschema.Schema, len(sources))}
	for kind, src := range sources {
		compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(src))
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", kind, err)
		}
		v.schemas[kind] = compiled
	}
	return v, nil
}

// Known reports whether a schema is registered for kind.
func (v *Validator) Known(kind string) bool {
	_, ok := v.schemas[kind]
	return ok
}

// Kinds lists the registered schema kinds.
func (v *Validator) Kinds() []string {
	out := make([]string, 0, len(v.schemas))
	for k := range v.schemas {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Validate returns every violation of payload against the schema for kind.
// An empty result means the payload is valid.
func (v *Validator) Validate(kind string, payload json.RawMessage) []model.Violation {
	compiled, ok := v.schemas[kind]
	if !ok {
		return []model.Violation{{Field: RootField, Reason: fmt.Sprintf("no schema registered for %q", kind)}}
	}
	if !json.Valid(payload) {
		return []model.Violation{{Field: RootField, Reason: "payload is not valid JSON"}}
	}

	result, err := compiled.Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil {
		return []model.Violation{{Field: RootField, Reason: err.Error()}}
	}
	if result.Valid() {
		return nil
	}

	violations := make([]model.Violation, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		field := desc.Field()
		if field == "" {
			field = RootField
		}
		violations = append(violations, model.Violation{Field: field, Reason: desc.Description()})
	}
	return violations
}
