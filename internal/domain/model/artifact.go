package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// ArtifactKind names an artifact lineage type.
type ArtifactKind string

// ApprovalState is the review state of one artifact version.
type ApprovalState string

const (
	// ArtifactKindValueProposition is the narrative derived from client material.
	ArtifactKindValueProposition ArtifactKind = "value_proposition"
	// ArtifactKindTemplateSet is the set of dashboard templates derived from a value proposition.
	ArtifactKindTemplateSet ArtifactKind = "template_set"

	// ApprovalDraft is the initial state of every new version.
	ApprovalDraft ApprovalState = "draft"
	// ApprovalInReview means reviewers are marking sections.
	ApprovalInReview ApprovalState = "in_review"
	// ApprovalApproved is final; the version is immutable.
	ApprovalApproved ApprovalState = "approved"
)

// Valid returns true if the ArtifactKind is known.
func (k ArtifactKind) Valid() bool {
	return k == ArtifactKindValueProposition || k == ArtifactKindTemplateSet
}

// Artifact is one immutable-once-approved version in a (subject, kind) lineage.
type Artifact struct {
	ID            string          `json:"id"                     db:"id"`
	SubjectID     string          `json:"subject_id"             db:"subject_id"`
	Kind          ArtifactKind    `json:"kind"                   db:"kind"`
	Version       int             `json:"version"                db:"version"`
	ApprovalState ApprovalState   `json:"approval_state"         db:"approval_state"`
	Payload       json.RawMessage `json:"payload"                db:"payload"`
	// Sections maps each top-level payload section to its reviewed flag.
	Sections      map[string]bool `json:"sections"               db:"sections"`
	FeedbackRound int             `json:"feedback_round"         db:"feedback_round"`
	SourceJobID   *string         `json:"source_job_id,omitempty" db:"source_job_id"`
	CreatedAt     time.Time       `json:"created_at"             db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"             db:"updated_at"`
	ApprovedAt    *time.Time      `json:"approved_at,omitempty"  db:"approved_at"`
}

// SectionNames returns the artifact's section names sorted.
func (a *Artifact) SectionNames() []string {
	names := make([]string, 0, len(a.Sections))
	for name := range a.Sections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AllSectionsReviewed reports whether every section has been marked reviewed.
func (a *Artifact) AllSectionsReviewed() bool {
	for _, ok := range a.Sections {
		if !ok {
			return false
		}
	}
	return true
}

// Ref renders a stable human-readable reference for logs and errors.
func (a *Artifact) Ref() string {
	return fmt.Sprintf("%s/%s@v%d", a.SubjectID, a.Kind, a.Version)
}

// FeedbackAction tells refinement what to do with a section.
type FeedbackAction string

const (
	// FeedbackReplace regenerates the section.
	FeedbackReplace FeedbackAction = "replace"
	// FeedbackRemove drops the section from the next version.
	FeedbackRemove FeedbackAction = "remove"
)

// Feedback is one reviewer instruction for a section.
type Feedback struct {
	Section string         `json:"section" validate:"required"`
	Action  FeedbackAction `json:"action"  validate:"required,oneof=replace remove"`
	Comment string         `json:"comment,omitempty"`
}

// ArtifactRef identifies one artifact version. Version 0 means "latest".
type ArtifactRef struct {
	SubjectID string
	Kind      ArtifactKind
	Version   int
}

// ArtifactStateUpdate is a guarded state/section write on an existing version.
// The repository applies it only when the stored state equals From.
type ArtifactStateUpdate struct {
	Ref      ArtifactRef
	From     ApprovalState
	To       ApprovalState
	Sections map[string]bool
}
