package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"

	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/core"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/data"
	domainartifact "github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/domain/artifact"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/domain/model"
	apperrors "github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/errors"
)

// ArtifactServiceOptions groups dependencies for ArtifactService.
type ArtifactServiceOptions struct {
	Repo            core.ArtifactRepository // Required: versioned artifact storage
	Validator       core.SchemaValidator    // Required: re-validates payloads on submit and refine
	RefinementLimit int                     // Optional: K, feedback rounds per lineage (negative means 0)
	TimeProvider    data.TimeProvider       // Optional: clock (default real time)
	Logger          *slog.Logger            // Optional: structured logger
}

// ArtifactService enforces the draft, in_review, approved lifecycle over the artifact store.
type ArtifactService struct {
	repo      core.ArtifactRepository
	validator core.SchemaValidator
	limit     int
	clock     data.TimeProvider
	logger    *slog.Logger
}

// NewArtifactService constructs an ArtifactService.
func NewArtifactService(opts ArtifactServiceOptions) (*ArtifactService, error) {
	if opts.Repo == nil {
		return nil, errors.New("ArtifactRepository is required")
	}
	if opts.Validator == nil {
		return nil, errors.New("SchemaValidator is required")
	}
	clock := opts.TimeProvider
	if clock == nil {
		clock = &data.RealTimeProvider{}
	}
	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "artifact_service")
	}
	return &ArtifactService{
		repo:      opts.Repo,
		validator: opts.Validator,
		limit:     max(opts.RefinementLimit, 0),
		clock:     clock,
		logger:    logger,
	}, nil
}

// MustNewArtifactService constructs an ArtifactService and panics on error.
func MustNewArtifactService(opts ArtifactServiceOptions) *ArtifactService {
	svc, err := NewArtifactService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create ArtifactService: %v", err))
	}
	return svc
}

// RefinementLimit returns K.
func (s *ArtifactService) RefinementLimit() int { return s.limit }

// CreateFromRunParams describes a validated pipeline output to store.
type CreateFromRunParams struct {
	SubjectID string
	Kind      model.ArtifactKind
	Payload   json.RawMessage
	JobID     string
}

// CreateFromRun stores payload as the next version of its lineage, already in_review, in a
// single insert. The feedback round carries over from the previous version.
func (s *ArtifactService) CreateFromRun(ctx context.Context, p CreateFromRunParams) (*model.Artifact, error) {
	if !p.Kind.Valid() {
		return nil, apperrors.ValidationField("kind", fmt.Sprintf("unknown artifact kind %q", p.Kind))
	}
	sections, err := domainartifact.UnreviewedSections(p.Payload)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeFatalConfig, "pipeline output is not an artifact")
	}

	prev, err := s.latestOrNil(ctx, p.SubjectID, p.Kind)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	next := &model.Artifact{
		SubjectID:     p.SubjectID,
		Kind:          p.Kind,
		Version:       1,
		ApprovalState: model.ApprovalInReview,
		Payload:       p.Payload,
		Sections:      sections,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if prev != nil {
		next.Version = prev.Version + 1
		next.FeedbackRound = prev.FeedbackRound
	}
	if p.JobID != "" {
		next.SourceJobID = &p.JobID
	}

	created, err := s.repo.Insert(ctx, next)
	if err != nil {
		return nil, fmt.Errorf("insert artifact: %w", err)
	}

	s.logInfo(ctx, "artifact created", created)
	return created, nil
}

// RefineParams describes one feedback round.
type RefineParams struct {
	SubjectID    string
	Kind         model.ArtifactKind
	Feedback     []model.Feedback
	Replacements map[string]json.RawMessage
	JobID        string
}

// CheckRefinement returns the latest version of the lineage when another feedback round is
// allowed, or RefinementLimitExceeded. Nothing is written.
func (s *ArtifactService) CheckRefinement(
	ctx context.Context,
	subjectID string,
	kind model.ArtifactKind,
) (*model.Artifact, error) {
	prev, err := s.repo.Latest(ctx, subjectID, kind)
	if err != nil {
		return nil, fmt.Errorf("load latest %s for %s: %w", kind, subjectID, err)
	}
	if err := domainartifact.CheckRefinementBudget(prev, s.limit); err != nil {
		return nil, err
	}
	return prev, nil
}

// Refine creates the next draft version from the latest one, whatever its state.
// Exceeding the refinement limit fails with no change to the lineage.
func (s *ArtifactService) Refine(ctx context.Context, p RefineParams) (*model.Artifact, error) {
	prev, err := s.CheckRefinement(ctx, p.SubjectID, p.Kind)
	if err != nil {
		return nil, err
	}

	next, err := domainartifact.Refine(domainartifact.RefineInput{
		Previous:     prev,
		Feedback:     p.Feedback,
		Replacements: p.Replacements,
		Limit:        s.limit,
		Now:          s.clock.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	if violations := s.validator.Validate(string(p.Kind), next.Payload); len(violations) > 0 {
		e := apperrors.Validationf("refined %s does not match its schema", p.Kind)
		e.Violations = violations
		return nil, e
	}
	if p.JobID != "" {
		next.SourceJobID = &p.JobID
	}

	created, err := s.repo.Insert(ctx, next)
	if err != nil {
		return nil, fmt.Errorf("insert refined artifact: %w", err)
	}
	s.logInfo(ctx, "artifact refined", created)
	return created, nil
}

// SubmitForReview moves a draft to in_review after re-checking its payload.
func (s *ArtifactService) SubmitForReview(ctx context.Context, ref model.ArtifactRef) (*model.Artifact, error) {
	a, err := s.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	if err := domainartifact.CheckSubmit(a); err != nil {
		return nil, err
	}
	if violations := s.validator.Validate(string(a.Kind), a.Payload); len(violations) > 0 {
		e := apperrors.Validationf("artifact %s does not match its schema", a.Ref())
		e.Violations = violations
		return nil, e
	}
	return s.update(ctx, a, model.ApprovalDraft, model.ApprovalInReview, a.Sections, "artifact submitted for review")
}

// MarkSectionReviewed flags one section of an in_review version as reviewed.
func (s *ArtifactService) MarkSectionReviewed(
	ctx context.Context,
	ref model.ArtifactRef,
	section string,
) (*model.Artifact, error) {
	a, err := s.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	if err := domainartifact.CheckReview(a, section); err != nil {
		return nil, err
	}
	sections := maps.Clone(a.Sections)
	sections[section] = true
	return s.update(ctx, a, model.ApprovalInReview, model.ApprovalInReview, sections, "artifact section reviewed")
}

// Approve moves an in_review version whose sections are all reviewed to approved.
func (s *ArtifactService) Approve(ctx context.Context, ref model.ArtifactRef) (*model.Artifact, error) {
	a, err := s.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	if err := domainartifact.CheckApprove(a); err != nil {
		return nil, err
	}
	return s.update(ctx, a, model.ApprovalInReview, model.ApprovalApproved, a.Sections, "artifact approved")
}

// Get returns one version. Version 0 returns the latest.
func (s *ArtifactService) Get(ctx context.Context, ref model.ArtifactRef) (*model.Artifact, error) {
	a, err := s.repo.Get(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("get artifact: %w", err)
	}
	return a, nil
}

// Latest returns the highest version of a lineage.
func (s *ArtifactService) Latest(ctx context.Context, subjectID string, kind model.ArtifactKind) (*model.Artifact, error) {
	a, err := s.repo.Latest(ctx, subjectID, kind)
	if err != nil {
		return nil, fmt.Errorf("latest artifact: %w", err)
	}
	return a, nil
}

// ListVersions returns every version of a lineage, oldest first.
func (s *ArtifactService) ListVersions(
	ctx context.Context,
	subjectID string,
	kind model.ArtifactKind,
) ([]*model.Artifact, error) {
	list, err := s.repo.ListVersions(ctx, subjectID, kind)
	if err != nil {
		return nil, fmt.Errorf("list artifact versions: %w", err)
	}
	return list, nil
}

// RequireApproved is the downstream read gate. Version 0 selects the latest approved
// version. A missing or unapproved version is a fatal configuration error.
func (s *ArtifactService) RequireApproved(
	ctx context.Context,
	subjectID string,
	kind model.ArtifactKind,
	version int,
) (*model.Artifact, error) {
	var (
		a   *model.Artifact
		err error
	)
	if version <= 0 {
		a, err = s.repo.LatestApproved(ctx, subjectID, kind)
	} else {
		a, err = s.repo.Get(ctx, model.ArtifactRef{SubjectID: subjectID, Kind: kind, Version: version})
	}
	switch {
	case apperrors.IsNotFound(err):
		if version <= 0 {
			return nil, apperrors.FatalConfigf("no approved %s for subject %s", kind, subjectID)
		}
		return nil, apperrors.FatalConfigf("%s v%d for subject %s does not exist", kind, version, subjectID)
	case err != nil:
		return nil, fmt.Errorf("load %s for %s: %w", kind, subjectID, err)
	}
	if a.ApprovalState != model.ApprovalApproved {
		return nil, apperrors.FatalConfigf("artifact %s is %s, downstream stages need an approved version",
			a.Ref(), a.ApprovalState)
	}
	return a, nil
}

func (s *ArtifactService) update(
	ctx context.Context,
	a *model.Artifact,
	from, to model.ApprovalState,
	sections map[string]bool,
	msg string,
) (*model.Artifact, error) {
	updated, err := s.repo.UpdateState(ctx, model.ArtifactStateUpdate{
		Ref:      refOf(a),
		From:     from,
		To:       to,
		Sections: sections,
	})
	if err != nil {
		return nil, fmt.Errorf("update artifact %s: %w", a.Ref(), err)
	}
	s.logInfo(ctx, msg, updated)
	return updated, nil
}

func (s *ArtifactService) latestOrNil(
	ctx context.Context,
	subjectID string,
	kind model.ArtifactKind,
) (*model.Artifact, error) {
	prev, err := s.repo.Latest(ctx, subjectID, kind)
	if apperrors.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load latest %s for %s: %w", kind, subjectID, err)
	}
	return prev, nil
}

func (s *ArtifactService) logInfo(ctx context.Context, msg string, a *model.Artifact) {
	if s.logger == nil {
		return
	}
	s.logger.InfoContext(ctx, msg,
		"subject_id", a.SubjectID,
		"kind", a.Kind,
		"version", a.Version,
		"state", a.ApprovalState,
		"feedback_round", a.FeedbackRound,
	)
}

func refOf(a *model.Artifact) model.ArtifactRef {
	return model.ArtifactRef{SubjectID: a.SubjectID, Kind: a.Kind, Version: a.Version}
}
