package model

// Document is one piece of client material handed to derive-artifact.
type Document struct {
	Name string `json:"name" validate:"required"`
	Text string `json:"text" validate:"required"`
}

// DeriveArtifactPayload is the payload of a derive-artifact job.
type DeriveArtifactPayload struct {
	Mode       string     `json:"mode,omitempty"       validate:"omitempty,oneof=full collateral_only"`
	Company    string     `json:"company,omitempty"    validate:"max=255"`
	Collateral string     `json:"collateral,omitempty"`
	Documents  []Document `json:"documents,omitempty"  validate:"dive"`
	Sources    []string   `json:"sources,omitempty"    validate:"dive,url"`
}

// RefineArtifactPayload is the payload of a refine-artifact job.
type RefineArtifactPayload struct {
	ArtifactKind ArtifactKind `json:"artifact_kind" validate:"required,oneof=value_proposition template_set"`
	Feedback     []Feedback   `json:"feedback"      validate:"required,min=1,dive"`
}

// GenerateTemplatesPayload is the payload of a generate-templates job.
// A zero version selects the latest approved value proposition.
type GenerateTemplatesPayload struct {
	ValuePropositionVersion int `json:"value_proposition_version,omitempty" validate:"gte=0"`
}

// GenerateAnalyticsPayload is the payload of a generate-analytics job.
// Filters are appended to every widget query.
type GenerateAnalyticsPayload struct {
	TemplateSetVersion int           `json:"template_set_version,omitempty" validate:"gte=0"`
	Filters            []QueryFilter `json:"filters,omitempty"`
}

// TemplateSet is the decoded payload of a template_set artifact.
type TemplateSet struct {
	Templates []Template `json:"templates"`
}

// Template is one dashboard.
type Template struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Pillar  string   `json:"pillar,omitempty"`
	Widgets []Widget `json:"widgets"`
}

// Widget is one chart and the query that feeds it.
type Widget struct {
	ID    string    `json:"id"`
	Title string    `json:"title"`
	Chart string    `json:"chart"`
	Query QuerySpec `json:"query"`
}
