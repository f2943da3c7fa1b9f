// Package artifact holds the pure rules of the artifact approval state machine.
// Persistence and locking live in the repository; nothing here performs I/O.
package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/domain/model"
	apperrors "github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/errors"
)

// ErrNotObject is returned when an artifact payload is not a JSON object.
var ErrNotObject = errors.New("artifact payload must be a JSON object")

// Sections decodes payload into its top-level sections.
func Sections(payload json.RawMessage) (map[string]json.RawMessage, error) {
	var sections map[string]json.RawMessage
	if err := json.Unmarshal(payload, &sections); err != nil || sections == nil {
		return nil, ErrNotObject
	}
	return sections, nil
}

// UnreviewedSections returns a review map with every section of payload set to false.
func UnreviewedSections(payload json.RawMessage) (map[string]bool, error) {
	sections, err := Sections(payload)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(sections))
	for name := range sections {
		out[name] = false
	}
	return out, nil
}

// CheckSubmit verifies a version may move draft → in_review.
func CheckSubmit(a *model.Artifact) error {
	if a.ApprovalState != model.ApprovalDraft {
		return apperrors.Conflictf("artifact %s is %s, only drafts can be submitted", a.Ref(), a.ApprovalState)
	}
	return nil
}

// CheckReview verifies section may be marked reviewed on a.
func CheckReview(a *model.Artifact, section string) error {
	if a.ApprovalState != model.ApprovalInReview {
		return apperrors.Conflictf("artifact %s is %s, sections are reviewed in_review", a.Ref(), a.ApprovalState)
	}
	if _, ok := a.Sections[section]; !ok {
		return apperrors.ValidationField("section", fmt.Sprintf("artifact %s has no section %q", a.Ref(), section))
	}
	return nil
}

// CheckApprove verifies a may move in_review → approved.
func CheckApprove(a *model.Artifact) error {
	if a.ApprovalState != model.ApprovalInReview {
		return apperrors.Conflictf("artifact %s is %s, only in_review versions can be approved", a.Ref(), a.ApprovalState)
	}
	var pending []string
	for _, name := range a.SectionNames() {
		if !a.Sections[name] {
			pending = append(pending, name)
		}
	}
	if len(pending) > 0 {
		return apperrors.Validationf("artifact %s has unreviewed sections: %v", a.Ref(), pending)
	}
	return nil
}

// CheckRefinementBudget fails when prev has already used every allowed refinement round.
func CheckRefinementBudget(prev *model.Artifact, limit int) error {
	if prev.FeedbackRound >= limit {
		return apperrors.RefinementLimitExceeded(prev.SubjectID, limit)
	}
	return nil
}

// RefineInput groups the inputs of Refine.
type RefineInput struct {
	Previous     *model.Artifact
	Feedback     []model.Feedback
	Replacements map[string]json.RawMessage
	Limit        int
	Now          time.Time
}

// Refine builds the next draft version from the previous one. Sections without feedback
// are carried forward byte-for-byte, replaced sections take their new content and removed
// sections are dropped. Every section's review flag is reset. The previous version is not touched.
func Refine(in RefineInput) (*model.Artifact, error) {
	prev := in.Previous
	if err := CheckRefinementBudget(prev, in.Limit); err != nil {
		return nil, err
	}
	if len(in.Feedback) == 0 {
		return nil, apperrors.ValidationField("feedback", "at least one feedback item is required")
	}

	sections, err := Sections(prev.Payload)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.ErrCodeFatalConfig, "artifact %s", prev.Ref())
	}

	next := make(map[string]json.RawMessage, len(sections))
	for name, raw := range sections {
		next[name] = raw
	}

	for _, fb := range in.Feedback {
		switch fb.Action {
		case model.FeedbackRemove:
			if _, ok := next[fb.Section]; !ok {
				return nil, apperrors.ValidationField("feedback", fmt.Sprintf("cannot remove unknown section %q", fb.Section))
			}
			delete(next, fb.Section)
		case model.FeedbackReplace:
			raw, ok := in.Replacements[fb.Section]
			if !ok {
				return nil, apperrors.ValidationField("feedback", fmt.Sprintf("no replacement content for section %q", fb.Section))
			}
			next[fb.Section] = raw
		default:
			return nil, apperrors.ValidationField("feedback", fmt.Sprintf("unknown action %q", fb.Action))
		}
	}
	if len(next) == 0 {
		return nil, apperrors.ValidationField("feedback", "refinement would leave the artifact empty")
	}

	payload, err := json.Marshal(next)
	if err != nil {
		return nil, fmt.Errorf("encode refined payload: %w", err)
	}

	reviews := make(map[string]bool, len(next))
	for name := range next {
		reviews[name] = false
	}

	return &model.Artifact{
		SubjectID:     prev.SubjectID,
		Kind:          prev.Kind,
		Version:       prev.Version + 1,
		ApprovalState: model.ApprovalDraft,
		Payload:       payload,
		Sections:      reviews,
		FeedbackRound: prev.FeedbackRound + 1,
		CreatedAt:     in.Now,
		UpdatedAt:     in.Now,
	}, nil
}
